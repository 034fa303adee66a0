// Package auth verifies that a chat user controls a Hive account: the client
// signs a challenge with its posting key and the recovered public key must be
// one of the account's registered posting keys.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/onnwee/vimm-chat/hive"
	"github.com/onnwee/vimm-chat/telemetry"
)

// Verification outcomes. Only ResultOK is visible to callers (as true); the
// rest are for logs and the chat_auth_attempts_total metric.
const (
	ResultOK                 = "ok"
	ReasonInvalidInput       = "invalid_input"
	ReasonAccountNotFound    = "account_not_found"
	ReasonNoPostingKey       = "no_posting_key"
	ReasonMalformedSignature = "malformed_signature"
	ReasonKeyMismatch        = "key_mismatch"
	ReasonUpstream           = "upstream_unavailable"
)

// Verifier checks a (username, challenge, signature) triple.
type Verifier interface {
	Verify(ctx context.Context, username, challenge, signature string) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, username, challenge, signature string) bool

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, username, challenge, signature string) bool {
	return f(ctx, username, challenge, signature)
}

// SignatureVerifier recovers the signer of a compact secp256k1 signature and
// matches it against the posting keys held by a Registry. It is fail-closed:
// any error yields false and is never retried.
type SignatureVerifier struct {
	registry Registry
	logger   *slog.Logger
}

// NewSignatureVerifier returns a verifier backed by reg. A nil logger uses slog.Default.
func NewSignatureVerifier(reg Registry, logger *slog.Logger) *SignatureVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignatureVerifier{registry: reg, logger: logger.With(slog.String("component", "auth"))}
}

// Verify implements Verifier.
func (v *SignatureVerifier) Verify(ctx context.Context, username, challenge, signature string) bool {
	var result string
	telemetry.TimeFunc(telemetry.VerifyDuration, func() {
		result = v.check(ctx, username, challenge, signature)
	})
	telemetry.RecordAuth(result)

	switch result {
	case ResultOK:
		v.logger.Debug("signature verified", slog.String("username", username))
		return true
	case ReasonUpstream:
		v.logger.Warn("signature verification failed", slog.String("username", username), slog.String("reason", result))
	default:
		v.logger.Info("signature verification failed", slog.String("username", username), slog.String("reason", result))
	}
	return false
}

// Reason runs the same checks as Verify without logging or metrics and
// returns the outcome code.
func (v *SignatureVerifier) Reason(ctx context.Context, username, challenge, signature string) string {
	return v.check(ctx, username, challenge, signature)
}

func (v *SignatureVerifier) check(ctx context.Context, username, challenge, signature string) string {
	if strings.TrimSpace(username) == "" || challenge == "" || signature == "" {
		return ReasonInvalidInput
	}

	// Malformed signatures never reach the registry.
	recovered, err := hive.RecoverPublicKey(challenge, signature)
	if err != nil {
		return ReasonMalformedSignature
	}

	keys, err := v.registry.PostingKeys(ctx, username)
	switch {
	case errors.Is(err, hive.ErrAccountNotFound):
		return ReasonAccountNotFound
	case err != nil:
		return ReasonUpstream
	case len(keys) == 0:
		return ReasonNoPostingKey
	}

	if lo.Contains(keys, recovered) {
		return ResultOK
	}
	return ReasonKeyMismatch
}
