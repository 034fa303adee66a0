package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/onnwee/vimm-chat/auth"
	"github.com/onnwee/vimm-chat/chat"
	"github.com/onnwee/vimm-chat/config"
	"github.com/onnwee/vimm-chat/session"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Broker   *chat.Broker
	Sessions *session.Store
	Verifier auth.Verifier
	// Challenges is nil when server-issued challenges are disabled.
	Challenges *auth.ChallengeIssuer
	Config     *config.Config
	// DB is nil when the archive is disabled.
	DB *sql.DB
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	ctx        context.Context
	broker     *chat.Broker
	sessions   *session.Store
	verifier   auth.Verifier
	challenges *auth.ChallengeIssuer
	cfg        *config.Config
	db         *sql.DB

	validate *validator.Validate
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance. A nil Config falls back to
// chat defaults with permissive CORS.
func NewHandlers(ctx context.Context, d Deps) *Handlers {
	cfg := d.Config
	if cfg == nil {
		cfg = &config.Config{
			SlowModeInterval: 3,
			MaxMessageLength: 500,
			ChallengeTTL:     auth.DefaultChallengeTTL,
		}
	}
	h := &Handlers{
		ctx:        ctx,
		broker:     d.Broker,
		sessions:   d.Sessions,
		verifier:   d.Verifier,
		challenges: d.Challenges,
		cfg:        cfg,
		db:         d.DB,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     slog.Default().With(slog.String("component", "http")),
	}
	h.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	cors := newCORSConfig(cfg)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || cors.permissive || isOriginAllowed(origin, cors.allowedOrigins)
		},
	}
	return h
}
