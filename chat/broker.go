package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/onnwee/vimm-chat/session"
	"github.com/onnwee/vimm-chat/telemetry"
)

// Subscriber receives the messages of the rooms it joined. Implementations
// must be comparable (usually a pointer) and Deliver must not block; a
// Deliver error removes the subscriber from the room.
type Subscriber interface {
	Deliver(Message) error
}

// Sink observes every published message after fan-out (archival, metrics).
// Consume must not block.
type Sink interface {
	Consume(Message)
}

// Sessions resolves bearer tokens. *session.Store implements it.
type Sessions interface {
	Validate(token string) (session.Session, bool)
}

// Membership describes a successful Join.
type Membership struct {
	Room     RoomKey `json:"room"`
	Username string  `json:"username,omitempty"`
	ReadOnly bool    `json:"readOnly"`
}

type room struct {
	key RoomKey

	mu          sync.Mutex
	subscribers map[Subscriber]struct{}
	history     *History
	lastActive  time.Time
	closed      bool
}

// Broker owns all rooms. It is safe for concurrent use.
type Broker struct {
	sessions Sessions
	now      func() time.Time
	logger   *slog.Logger
	maxRunes int
	sinks    []Sink

	mu    sync.Mutex
	rooms map[RoomKey]*room
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithLogger sets the logger (default slog.Default).
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithMaxMessageRunes rejects messages longer than n characters (0 = no limit).
func WithMaxMessageRunes(n int) Option {
	return func(b *Broker) { b.maxRunes = n }
}

// WithSinks registers sinks notified of every published message.
func WithSinks(sinks ...Sink) Option {
	return func(b *Broker) { b.sinks = append(b.sinks, sinks...) }
}

// NewBroker returns a broker authorizing through sessions.
func NewBroker(sessions Sessions, opts ...Option) *Broker {
	b := &Broker{
		sessions: sessions,
		now:      time.Now,
		logger:   slog.Default(),
		rooms:    make(map[RoomKey]*room),
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With(slog.String("component", "chat"))
	return b
}

func (b *Broker) room(key RoomKey) *room {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rooms[key]
	if ok {
		return r
	}
	r = &room{
		key:         key,
		subscribers: make(map[Subscriber]struct{}),
		history:     NewHistory(HistoryCapacity),
		lastActive:  b.now(),
	}
	b.rooms[key] = r
	telemetry.SetRooms(len(b.rooms))
	return r
}

func (b *Broker) lookup(key RoomKey) *room {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms[key]
}

// lockRoom returns the live room for key with its lock held.
func (b *Broker) lockRoom(key RoomKey) *room {
	for {
		r := b.room(key)
		r.mu.Lock()
		if !r.closed {
			return r
		}
		r.mu.Unlock()
	}
}

// Join subscribes sub to key. An empty token joins read-only and always
// succeeds; a non-empty token must resolve to a live session or Join returns
// ErrUnauthorized and sub is not added. Joining twice is a no-op.
func (b *Broker) Join(sub Subscriber, key RoomKey, token string) (Membership, error) {
	if key == "" {
		return Membership{}, &ValidationError{Field: "room", Reason: "is required"}
	}
	m := Membership{Room: key, ReadOnly: true}
	if token != "" {
		sess, ok := b.sessions.Validate(token)
		if !ok {
			return Membership{}, ErrUnauthorized
		}
		m.Username = sess.Username
		m.ReadOnly = false
	}

	r := b.lockRoom(key)
	r.subscribers[sub] = struct{}{}
	r.lastActive = b.now()
	r.mu.Unlock()

	b.logger.Debug("joined room", slog.String("room", string(key)), slog.Bool("read_only", m.ReadOnly))
	return m, nil
}

// Leave unsubscribes sub from key. Unknown rooms and subscribers are ignored.
func (b *Broker) Leave(sub Subscriber, key RoomKey) {
	r := b.lookup(key)
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.subscribers, sub)
	r.lastActive = b.now()
	r.mu.Unlock()
}

// Publish posts text to key as the session owning token, then delivers the
// message to every current subscriber (the author's own connections
// included). Nothing is stored or delivered when it returns an error.
func (b *Broker) Publish(key RoomKey, token, text string) (Message, error) {
	sess, ok := b.sessions.Validate(token)
	if token == "" || !ok {
		telemetry.RecordRejected("unauthorized")
		return Message{}, ErrUnauthorized
	}
	if key == "" {
		telemetry.RecordRejected("validation")
		return Message{}, &ValidationError{Field: "room", Reason: "is required"}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		telemetry.RecordRejected("validation")
		return Message{}, &ValidationError{Field: "message", Reason: "is required"}
	}
	if b.maxRunes > 0 && utf8.RuneCountInString(text) > b.maxRunes {
		telemetry.RecordRejected("validation")
		return Message{}, &ValidationError{Field: "message", Reason: fmt.Sprintf("must be at most %d characters", b.maxRunes)}
	}

	r := b.lockRoom(key)
	now := b.now().UTC()
	ts := now
	if last, ok := r.history.Last(); ok && ts.Before(last.Timestamp) {
		ts = last.Timestamp
	}
	msg := Message{
		ID:        newMessageID(),
		Username:  sess.Username,
		Text:      text,
		Timestamp: ts,
		Room:      key,
		Account:   key.Account(),
		Verified:  true,
	}
	r.history.Append(msg)
	r.lastActive = now

	var dropped []Subscriber
	telemetry.TimeFunc(telemetry.FanoutDuration, func() {
		dropped = r.fanout(msg)
	})
	r.mu.Unlock()

	telemetry.RecordPublish()
	for range dropped {
		telemetry.RecordDropped()
	}
	if len(dropped) > 0 {
		b.logger.Info("dropped unresponsive subscribers", slog.String("room", string(key)), slog.Int("count", len(dropped)))
	}
	for _, s := range b.sinks {
		s.Consume(msg)
	}
	return msg, nil
}

// fanout delivers msg to every subscriber and removes those that fail.
// r.mu must be held.
func (r *room) fanout(msg Message) []Subscriber {
	failed := lo.Filter(lo.Keys(r.subscribers), func(s Subscriber, _ int) bool {
		return s.Deliver(msg) != nil
	})
	for _, s := range failed {
		delete(r.subscribers, s)
	}
	return failed
}

// History returns a snapshot of key's history, oldest first. Unknown rooms
// have an empty history.
func (b *Broker) History(key RoomKey) []Message {
	r := b.lookup(key)
	if r == nil {
		return []Message{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.List()
}

// Subscribers returns how many subscribers key currently has.
func (b *Broker) Subscribers(key RoomKey) int {
	r := b.lookup(key)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// Rooms returns the number of rooms held.
func (b *Broker) Rooms() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}

// ReapIdle removes rooms that have no subscribers and no activity for at
// least idle, history included. It returns the number of rooms removed.
func (b *Broker) ReapIdle(idle time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-idle)
	removed := 0
	for key, r := range b.rooms {
		r.mu.Lock()
		if len(r.subscribers) == 0 && !r.lastActive.After(cutoff) {
			r.closed = true
			delete(b.rooms, key)
			removed++
		}
		r.mu.Unlock()
	}
	telemetry.SetRooms(len(b.rooms))
	return removed
}

// Run reaps idle rooms every interval until ctx is done. idle <= 0 disables
// reaping and Run returns immediately.
func (b *Broker) Run(ctx context.Context, interval, idle time.Duration) {
	if idle <= 0 {
		b.logger.Info("room reaper disabled")
		return
	}
	if interval <= 0 {
		interval = idle
	}
	b.logger.Info("room reaper starting", slog.Duration("interval", interval), slog.Duration("idle", idle))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("room reaper stopped")
			return
		case <-ticker.C:
			if n := b.ReapIdle(idle); n > 0 {
				b.logger.Debug("idle rooms reaped", slog.Int("removed", n))
			}
		}
	}
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
