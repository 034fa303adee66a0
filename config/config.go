// Package config loads environment variables into the typed Config used
// across the service. Defaults let the binary run locally with no setup;
// Validate reports settings that are unsafe or inconsistent, most notably a
// missing JWT_SECRET in production.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/onnwee/vimm-chat/crypto"
)

// DefaultPort matches the port the chat frontend expects.
const DefaultPort = "3001"

type Config struct {
	// HTTP
	HTTPAddr       string   `env:"HTTP_ADDR"`
	Port           string   `env:"PORT"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Runtime
	Env       string `env:"ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Sessions
	JWTSecret            string        `env:"JWT_SECRET"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"10m"`

	// Hive registry
	HiveAPIURL  string        `env:"HIVE_API_URL" envDefault:"https://api.hive.blog"`
	HiveTimeout time.Duration `env:"HIVE_TIMEOUT" envDefault:"8s"`

	// Server challenges
	ChallengeKey           string        `env:"CHALLENGE_KEY"`
	ChallengeTTL           time.Duration `env:"CHALLENGE_TTL" envDefault:"5m"`
	RequireServerChallenge bool          `env:"REQUIRE_SERVER_CHALLENGE"`

	// Chat
	RoomIdleTTL      time.Duration `env:"ROOM_IDLE_TTL" envDefault:"0"`
	SlowMode         bool          `env:"CHAT_SLOW_MODE"`
	SlowModeInterval int           `env:"CHAT_SLOW_MODE_INTERVAL" envDefault:"3"`
	MaxMessageLength int           `env:"CHAT_MAX_MESSAGE_LENGTH" envDefault:"500"`

	// Archive (empty DSN disables it)
	DBDsn string `env:"DB_DSN"`

	// Set by Load when JWT_SECRET was generated.
	JWTSecretGenerated bool
}

// Load reads .env (when present) and the environment, then applies derived
// defaults. Outside production a missing JWT_SECRET is replaced by a random
// per-process secret, so sessions do not survive restarts.
func Load() (*Config, error) {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.HTTPAddr == "" {
		port := cfg.Port
		if port == "" {
			port = DefaultPort
		}
		cfg.HTTPAddr = ":" + port
	}
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.JWTSecret = hex.EncodeToString(buf)
		cfg.JWTSecretGenerated = true
	}
	return cfg, nil
}

// IsProduction reports whether ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// ChallengesEnabled reports whether server-issued challenges are configured.
func (c *Config) ChallengesEnabled() bool { return c.ChallengeKey != "" }

// Validate reports every misconfiguration found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	} else if c.IsProduction() && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters in production"))
	}
	if u, err := url.Parse(c.HiveAPIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("HIVE_API_URL %q is not an http(s) URL", c.HiveAPIURL))
	}
	if c.HiveTimeout <= 0 {
		errs = append(errs, errors.New("HIVE_TIMEOUT must be positive"))
	}
	if c.SessionSweepInterval <= 0 {
		errs = append(errs, errors.New("SESSION_SWEEP_INTERVAL must be positive"))
	}
	if c.RoomIdleTTL < 0 {
		errs = append(errs, errors.New("ROOM_IDLE_TTL must not be negative"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("CHAT_MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.SlowModeInterval < 0 {
		errs = append(errs, errors.New("CHAT_SLOW_MODE_INTERVAL must not be negative"))
	}
	if c.ChallengeKey != "" {
		if _, err := crypto.NewAESEncryptor(c.ChallengeKey); err != nil {
			errs = append(errs, fmt.Errorf("CHALLENGE_KEY: %w", err))
		}
		if c.ChallengeTTL <= 0 {
			errs = append(errs, errors.New("CHALLENGE_TTL must be positive"))
		}
	}
	if c.RequireServerChallenge && c.ChallengeKey == "" {
		errs = append(errs, errors.New("REQUIRE_SERVER_CHALLENGE needs CHALLENGE_KEY"))
	}
	return errors.Join(errs...)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
