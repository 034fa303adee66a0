package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/vimm-chat/auth"
	"github.com/onnwee/vimm-chat/telemetry"
)

type authRequest struct {
	Username    string `json:"username" validate:"required,max=16"`
	Challenge   string `json:"challenge" validate:"required,max=1024"`
	Signature   string `json:"signature" validate:"required,max=256"`
	HiveAccount string `json:"hiveAccount"`
}

type authResponse struct {
	Success  bool   `json:"success"`
	Token    string `json:"token"`
	Username string `json:"username"`
}

// HandleAuth exchanges a signed challenge for a session token.
func (h *Handlers) HandleAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := telemetry.LoggerWithCorr(ctx)

	var req authRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.HiveAccount = strings.TrimSpace(req.HiveAccount)
	if req.Username == "" || req.Challenge == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	// Malformed values still fail as a bad signature so callers cannot
	// probe which check rejected them.
	if err := h.validate.Struct(req); err != nil {
		logger.Info("auth rejected", slog.String("username", req.Username), slog.Any("fields", fieldErrors(err)))
		telemetry.RecordAuth(auth.ReasonInvalidInput)
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	serverChallenge, err := h.checkChallenge(req.Challenge)
	if err != nil {
		logger.Info("auth rejected", slog.String("username", req.Username), slog.String("reason", err.Error()))
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	if !h.verifier.Verify(ctx, req.Username, req.Challenge, req.Signature) {
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}
	if serverChallenge {
		if err := h.challenges.Consume(req.Challenge); err != nil {
			logger.Info("auth rejected", slog.String("username", req.Username), slog.String("reason", err.Error()))
			writeError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
	}

	account := req.HiveAccount
	if account == "" {
		account = req.Username
	}
	sess, err := h.sessions.Issue(req.Username, account)
	if err != nil {
		logger.Error("issue session", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Authentication failed")
		return
	}
	logger.Info("session issued", slog.String("username", sess.Username), slog.String("session_id", sess.ID))
	writeJSON(w, http.StatusOK, authResponse{Success: true, Token: sess.Token, Username: sess.Username})
}

// checkChallenge reports whether challenge is a server-issued one. With
// server challenges disabled every challenge is the client's own; when they
// are required a foreign challenge is an error.
func (h *Handlers) checkChallenge(challenge string) (bool, error) {
	if h.challenges == nil {
		return false, nil
	}
	err := h.challenges.Check(challenge)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, auth.ErrChallengeInvalid) && !h.cfg.RequireServerChallenge:
		return false, nil
	default:
		return false, err
	}
}

// HandleVerify reports the session behind the bearer token.
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "No token provided")
		return
	}
	sess, ok := h.sessions.Validate(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": sess})
}

// HandleLogout revokes the bearer token. Unknown tokens are ignored.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "No token provided")
		return
	}
	h.sessions.Revoke(token)
	w.WriteHeader(http.StatusNoContent)
}

// HandleChallenge issues a server challenge for the client to sign.
func (h *Handlers) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	if h.challenges == nil {
		writeError(w, http.StatusNotFound, "Server challenges are disabled")
		return
	}
	ch, err := h.challenges.Issue()
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("issue challenge", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to issue challenge")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"challenge": ch,
		"expiresIn": int(h.challenges.TTL() / time.Second),
	})
}
