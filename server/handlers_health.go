package server

import (
	"fmt"
	"net/http"

	"github.com/onnwee/vimm-chat/telemetry"
)

// HandleHealthz is the liveness probe. It touches no dependency.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests. The archive database is
// checked only when configured. A ready reply also reports whether traces are
// exported.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"broker", func() error {
			if h.broker == nil || h.sessions == nil {
				return fmt.Errorf("chat core not initialized")
			}
			return nil
		}},
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	tracing := "disabled"
	if telemetry.IsTracingEnabled() {
		tracing = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "tracing": tracing})
}
