// Package chat contains the room broker for live-stream chat.
//
// Every channel account has one room, keyed "chat-<account>". A room holds the
// connections subscribed to it and a bounded history of the last 100
// messages. Entry points:
//   - Join / Leave: membership. Joining without a token gives read-only
//     membership; a token, when given, must belong to a live session.
//   - Publish: requires a live session token. The author is always the
//     session's username. The message is appended to history and delivered to
//     every subscriber of the room before Publish returns.
//   - History: snapshot of a room's history, oldest first.
//
// Subscribers are delivered to while the room is locked, so they see messages
// in history order. A Subscriber must therefore never block in Deliver (queue
// and return an error when full) and must not call back into the Broker.
package chat
