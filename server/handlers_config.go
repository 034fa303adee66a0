package server

import (
	"net/http"
)

// allowedRoles lists the roles the frontend may render. Only viewers and
// authenticated posters exist server-side.
var allowedRoles = []string{"viewer", "subscriber", "moderator"}

// chatConfig is the per-room configuration the frontend reads on load.
type chatConfig struct {
	Room             string   `json:"room"`
	SlowMode         bool     `json:"slowMode"`
	SlowModeInterval int      `json:"slowModeInterval"`
	MaxMessageLength int      `json:"maxMessageLength"`
	AllowedRoles     []string `json:"allowedRoles"`
	ChallengeMode    string   `json:"challengeMode"`
}

// HandleChatConfig returns chat settings for a channel. Every channel
// shares the service-wide settings.
func (h *Handlers) HandleChatConfig(w http.ResponseWriter, r *http.Request) {
	key := roomFromPath(r)
	if key == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}

	mode := "client"
	switch {
	case h.challenges != nil && h.cfg.RequireServerChallenge:
		mode = "server"
	case h.challenges != nil:
		mode = "optional"
	}

	writeJSON(w, http.StatusOK, chatConfig{
		Room:             string(key),
		SlowMode:         h.cfg.SlowMode,
		SlowModeInterval: h.cfg.SlowModeInterval,
		MaxMessageLength: h.cfg.MaxMessageLength,
		AllowedRoles:     allowedRoles,
		ChallengeMode:    mode,
	})
}
