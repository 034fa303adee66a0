package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/onnwee/vimm-chat/chat"
	"github.com/onnwee/vimm-chat/telemetry"
)

type postMessageRequest struct {
	Message string `json:"message" validate:"required"`
	Token   string `json:"token"`
}

// HandleChatRoot answers the API liveness check the frontend uses.
func (h *Handlers) HandleChatRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat API is working"})
}

// HandleGetMessages returns the retained history of a channel, oldest first.
func (h *Handlers) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	key := roomFromPath(r)
	if key == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	writeJSON(w, http.StatusOK, h.broker.History(key))
}

// HandlePostMessage publishes a message as the session behind the bearer
// token (Authorization header, or "token" in the body).
func (h *Handlers) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	key := roomFromPath(r)

	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	token := bearerToken(r)
	if token == "" {
		token = req.Token
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if _, ok := h.sessions.Validate(token); !ok {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	msg, err := h.broker.Publish(key, token, req.Message)
	if err != nil {
		h.writePublishError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": msg})
}

// roomFromPath maps the {account} route variable to its room. The path
// always names an account, never a room key.
func roomFromPath(r *http.Request) chat.RoomKey {
	account := strings.TrimSpace(mux.Vars(r)["account"])
	if account == "" {
		return ""
	}
	return chat.RoomKeyFor(account)
}

// writePublishError maps broker errors to HTTP responses.
func (h *Handlers) writePublishError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *chat.ValidationError
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Invalid token")
	case errors.As(err, &verr):
		if verr.Field == "message" && verr.Reason == "is required" {
			writeError(w, http.StatusBadRequest, "Message is required")
			return
		}
		writeError(w, http.StatusBadRequest, verr.Error())
	default:
		telemetry.LoggerWithCorr(r.Context()).Error("publish failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to save message")
	}
}
