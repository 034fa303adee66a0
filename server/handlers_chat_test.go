package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/onnwee/vimm-chat/chat"
	"github.com/onnwee/vimm-chat/config"
)

func TestChatRoot(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/chat/", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr, &body)
	if body["message"] != "Chat API is working" {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestGetMessagesEmptyRoom(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/chat/messages/nobody", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Fatalf("expected empty array, got %s", got)
	}
	if n := env.deps.Broker.Rooms(); n != 0 {
		t.Fatalf("reading history must not create rooms, have %d", n)
	}
}

func TestPostAndGetMessages(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "alice")

	for _, text := range []string{"first", "  second  "} {
		rr := env.do(t, http.MethodPost, "/api/chat/messages/streamer", map[string]string{"message": text}, token)
		if rr.Code != http.StatusCreated {
			t.Fatalf("post %q: expected 201, got %d body=%s", text, rr.Code, rr.Body.String())
		}
		var resp struct {
			Success bool         `json:"success"`
			Message chat.Message `json:"message"`
		}
		decodeBody(t, rr, &resp)
		if !resp.Success || resp.Message.Username != "alice" || resp.Message.Account != "streamer" || !resp.Message.Verified {
			t.Fatalf("unexpected response: %s", rr.Body.String())
		}
	}

	rr := env.do(t, http.MethodGet, "/api/chat/messages/streamer", nil, "")
	var history []chat.Message
	decodeBody(t, rr, &history)
	if len(history) != 2 || history[0].Text != "first" || history[1].Text != "second" {
		t.Fatalf("unexpected history: %s", rr.Body.String())
	}
	if history[1].Timestamp.Before(history[0].Timestamp) {
		t.Fatal("history must be ordered oldest first")
	}

}

func TestAccountsWithRoomPrefixKeepSeparateRooms(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "alice")

	rr := env.do(t, http.MethodPost, "/api/chat/messages/x", map[string]string{"message": "for x"}, token)
	if rr.Code != http.StatusCreated {
		t.Fatalf("post to x: expected 201, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/api/chat/messages/chat-x", map[string]string{"message": "for chat-x"}, token)
	if rr.Code != http.StatusCreated {
		t.Fatalf("post to chat-x: expected 201, got %d", rr.Code)
	}
	var resp struct {
		Message chat.Message `json:"message"`
	}
	decodeBody(t, rr, &resp)
	if resp.Message.Account != "chat-x" {
		t.Fatalf("expected account chat-x, got %q", resp.Message.Account)
	}

	for account, want := range map[string]string{"x": "for x", "chat-x": "for chat-x"} {
		rr = env.do(t, http.MethodGet, "/api/chat/messages/"+account, nil, "")
		var history []chat.Message
		decodeBody(t, rr, &history)
		if len(history) != 1 || history[0].Text != want {
			t.Fatalf("history of %s: %s", account, rr.Body.String())
		}
	}

	rr = env.do(t, http.MethodGet, "/api/chat/config/chat-x", nil, "")
	var cfg chatConfig
	decodeBody(t, rr, &cfg)
	if cfg.Room != "chat-chat-x" {
		t.Fatalf("expected room chat-chat-x, got %q", cfg.Room)
	}
}

func TestPostMessageTokenInBody(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "bob")

	rr := env.do(t, http.MethodPost, "/api/chat/messages/streamer", map[string]string{"message": "hi", "token": token}, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPostMessageRejections(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *config.Config) { c.MaxMessageLength = 10 }))
	token := env.login(t, "alice")

	tests := []struct {
		name       string
		body       map[string]string
		token      string
		wantStatus int
		wantError  string
	}{
		{"no token", map[string]string{"message": "hi"}, "", http.StatusUnauthorized, "Authentication required"},
		{"unknown token", map[string]string{"message": "hi"}, "garbage", http.StatusUnauthorized, "Invalid token"},
		{"missing message", map[string]string{}, token, http.StatusBadRequest, "Message is required"},
		{"blank message", map[string]string{"message": "   "}, token, http.StatusBadRequest, "Message is required"},
		{"too long", map[string]string{"message": strings.Repeat("x", 11)}, token, http.StatusBadRequest, "message must be at most 10 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/chat/messages/streamer", tt.body, tt.token)
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d body=%s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if got := errorBody(t, rr); got != tt.wantError {
				t.Fatalf("expected error %q, got %q", tt.wantError, got)
			}
		})
	}
	if got := env.deps.Broker.History(chat.RoomKeyFor("streamer")); len(got) != 0 {
		t.Fatalf("rejected posts must not reach history, got %d", len(got))
	}
}

func TestChatConfig(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *config.Config) { c.SlowMode = true }))
	rr := env.do(t, http.MethodGet, "/api/chat/config/streamer", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var cfg chatConfig
	decodeBody(t, rr, &cfg)
	if cfg.Room != "chat-streamer" || !cfg.SlowMode || cfg.SlowModeInterval != 3 || cfg.MaxMessageLength != 500 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if strings.Join(cfg.AllowedRoles, ",") != "viewer,subscriber,moderator" {
		t.Fatalf("unexpected roles: %v", cfg.AllowedRoles)
	}
	if cfg.ChallengeMode != "client" {
		t.Fatalf("expected client challenge mode, got %q", cfg.ChallengeMode)
	}

	env = newTestEnv(t, withChallenges(true))
	rr = env.do(t, http.MethodGet, "/api/chat/config/streamer", nil, "")
	decodeBody(t, rr, &cfg)
	if cfg.ChallengeMode != "server" {
		t.Fatalf("expected server challenge mode, got %q", cfg.ChallengeMode)
	}
}
