// Package session issues and validates the bearer tokens handed out after a
// successful signature handshake.
//
// Tokens are HS256 JWTs so tampering is detectable, but the in-memory store
// is authoritative: a token is only valid while its session is held by the
// store and the store clock is before ExpiresAt. Expired sessions are hidden
// immediately by Validate and physically removed by Sweep.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/onnwee/vimm-chat/telemetry"
)

// TTL is the fixed lifetime of every session.
const TTL = 24 * time.Hour

const issuer = "vimm-chat"

// ErrNoSecret is returned by NewStore when no signing secret is supplied.
var ErrNoSecret = errors.New("session signing secret is empty")

// Session is an authenticated chat identity. It is never mutated after Issue.
type Session struct {
	Token     string    `json:"-"`
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Account   string    `json:"hiveAccount"`
	IssuedAt  time.Time `json:"authenticatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type claims struct {
	Username string `json:"username"`
	Account  string `json:"hiveAccount"`
	jwt.RegisteredClaims
}

// Store holds live sessions. The zero value is not usable; use NewStore.
type Store struct {
	secret []byte
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]Session // token -> session
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger (default slog.Default).
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store signing tokens with secret.
func NewStore(secret []byte, opts ...Option) (*Store, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	s := &Store{
		secret:   append([]byte(nil), secret...),
		now:      time.Now,
		logger:   slog.Default(),
		sessions: make(map[string]Session),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(slog.String("component", "session"))
	return s, nil
}

// Issue creates a session for username/account valid for TTL from now.
// The returned token is unique among live sessions. Times are whole seconds
// so ExpiresAt matches the token's exp claim exactly.
func (s *Store) Issue(username, account string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Truncate(time.Second)
	for {
		sess := Session{
			ID:        uuid.NewString(),
			Username:  username,
			Account:   account,
			IssuedAt:  now,
			ExpiresAt: now.Add(TTL),
		}
		token, err := s.sign(sess)
		if err != nil {
			return Session{}, fmt.Errorf("sign session token: %w", err)
		}
		if _, taken := s.sessions[token]; taken {
			continue
		}
		sess.Token = token
		s.sessions[token] = sess
		telemetry.SetSessions(len(s.sessions))
		return sess, nil
	}
}

func (s *Store) sign(sess Session) (string, error) {
	c := claims{
		Username: sess.Username,
		Account:  sess.Account,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Issuer:    issuer,
			Subject:   sess.Username,
			IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// Validate returns the live session for token. Unknown, tampered, revoked and
// expired tokens all report false.
func (s *Store) Validate(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	if _, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	); err != nil {
		return Session{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return Session{}, false
	}
	return sess, true
}

// Revoke removes the session for token, if any.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; ok {
		delete(s.sessions, token)
		telemetry.SetSessions(len(s.sessions))
	}
}

// Sweep deletes every session past its expiry and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for token, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	telemetry.SetSessions(len(s.sessions))
	return removed
}

// Len returns the number of stored sessions, expired-but-unswept included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	s.logger.Info("session sweeper starting", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired sessions swept", slog.Int("removed", n))
			}
		}
	}
}
