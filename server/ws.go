package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/vimm-chat/chat"
	"github.com/onnwee/vimm-chat/telemetry"
)

// WebSocket event names.
const (
	eventJoinRoom    = "join-room"
	eventLeaveRoom   = "leave-room"
	eventChatMessage = "chat-message"
	eventJoined      = "joined"
	eventAuthError   = "auth-error"
	eventError       = "error"
)

const (
	sendQueueSize  = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 8 << 10
	maxJoinedRooms = 32
)

var (
	errClientClosed = errors.New("client closed")
	errSlowClient   = errors.New("client send queue full")
)

// frame is the envelope of every WebSocket message in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinRequest struct {
	Room  string `json:"room"`
	Token string `json:"token"`
}

type chatMessageRequest struct {
	Room    string `json:"room"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

type chatMessageEvent struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	RoomAccount string    `json:"roomAccount"`
}

type errorEvent struct {
	Room    string `json:"room,omitempty"`
	Message string `json:"message"`
}

// wsClient is one WebSocket connection. It is a chat.Subscriber: Deliver
// only enqueues, the write pump does the network I/O.
type wsClient struct {
	h      *Handlers
	conn   *websocket.Conn
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// rooms maps joined rooms to the token used to join ("" = read-only).
	// Only the read pump touches it.
	rooms map[chat.RoomKey]string
}

var _ chat.Subscriber = (*wsClient)(nil)

// HandleWS upgrades the connection and serves chat events until the client
// disconnects or the server shuts down.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debug("websocket upgrade failed", slog.Any("err", err))
		return
	}

	c := &wsClient{
		h:      h,
		conn:   conn,
		logger: telemetry.LoggerWithCorr(r.Context()).With(slog.String("conn_id", uuid.NewString())),
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		rooms:  make(map[chat.RoomKey]string),
	}
	telemetry.AddConnections(1)
	c.logger.Debug("websocket connected", slog.String("remote_addr", r.RemoteAddr))

	go c.writePump()
	c.readPump()
}

// Deliver implements chat.Subscriber.
func (c *wsClient) Deliver(m chat.Message) error {
	b, err := encodeFrame(eventChatMessage, chatMessageEvent{
		ID:          m.ID,
		Username:    m.Username,
		Message:     m.Text,
		Timestamp:   m.Timestamp,
		RoomAccount: m.Account,
	})
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *wsClient) enqueue(b []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.close()
		return errSlowClient
	}
}

// reply queues an event for this connection only.
func (c *wsClient) reply(event string, data any) {
	b, err := encodeFrame(event, data)
	if err != nil {
		c.logger.Error("encode frame", slog.String("event", event), slog.Any("err", err))
		return
	}
	if err := c.enqueue(b); err != nil {
		c.logger.Debug("reply dropped", slog.String("event", event), slog.Any("err", err))
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *wsClient) readPump() {
	defer func() {
		for key := range c.rooms {
			c.h.broker.Leave(c, key)
		}
		c.close()
		_ = c.conn.Close()
		telemetry.AddConnections(-1)
		c.logger.Debug("websocket disconnected", slog.Int("rooms_left", len(c.rooms)))
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("websocket read error", slog.Any("err", err))
			}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reply(eventError, errorEvent{Message: "Invalid frame"})
			continue
		}
		c.dispatch(f)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-c.h.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
			return
		}
	}
}

// dispatch runs one inbound event against the broker.
func (c *wsClient) dispatch(f frame) {
	switch f.Event {
	case eventJoinRoom:
		c.join(f.Data)
	case eventLeaveRoom:
		var room string
		if err := json.Unmarshal(f.Data, &room); err != nil {
			var req joinRequest
			if err := json.Unmarshal(f.Data, &req); err != nil {
				c.reply(eventError, errorEvent{Message: "Invalid leave-room payload"})
				return
			}
			room = req.Room
		}
		key := chat.ParseRoom(room)
		c.h.broker.Leave(c, key)
		delete(c.rooms, key)
	case eventChatMessage:
		c.publish(f.Data)
	default:
		c.reply(eventError, errorEvent{Message: "Unknown event"})
	}
}

func (c *wsClient) join(data json.RawMessage) {
	var req joinRequest
	if err := json.Unmarshal(data, &req.Room); err != nil {
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(eventError, errorEvent{Message: "Invalid join-room payload"})
			return
		}
	}
	key := chat.ParseRoom(req.Room)
	if _, joined := c.rooms[key]; !joined && len(c.rooms) >= maxJoinedRooms {
		c.reply(eventError, errorEvent{Room: string(key), Message: "Too many rooms"})
		return
	}

	m, err := c.h.broker.Join(c, key, req.Token)
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		c.reply(eventAuthError, errorEvent{Room: string(key), Message: "Invalid token"})
		return
	case err != nil:
		c.reply(eventError, errorEvent{Room: string(key), Message: err.Error()})
		return
	}
	c.rooms[key] = req.Token
	c.reply(eventJoined, m)
}

func (c *wsClient) publish(data json.RawMessage) {
	var req chatMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(eventError, errorEvent{Message: "Invalid chat-message payload"})
		return
	}
	key := chat.ParseRoom(req.Room)
	token := req.Token
	if token == "" {
		token = c.rooms[key]
	}

	if _, err := c.h.broker.Publish(key, token, req.Message); err != nil {
		msg := err.Error()
		if errors.Is(err, chat.ErrUnauthorized) {
			msg = "Invalid token"
		}
		c.reply(eventError, errorEvent{Room: string(key), Message: msg})
	}
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: event, Data: raw})
}
