package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/vimm-chat/crypto"
)

// DefaultChallengeTTL bounds how long an issued challenge can be redeemed.
const DefaultChallengeTTL = 5 * time.Minute

var (
	ErrChallengeInvalid = errors.New("challenge invalid")
	ErrChallengeExpired = errors.New("challenge expired")
	ErrChallengeReused  = errors.New("challenge already used")
)

type challengePayload struct {
	Nonce    string `json:"n"`
	IssuedAt int64  `json:"iat"`
}

// ChallengeIssuer hands out sealed, single-use login challenges. The challenge
// itself carries its nonce and issue time; the issuer only remembers nonces
// that were redeemed, and forgets them once they could no longer be valid.
type ChallengeIssuer struct {
	enc crypto.Encryptor
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	used map[string]time.Time // nonce -> expiry
}

// NewChallengeIssuer builds an issuer. ttl <= 0 selects DefaultChallengeTTL; a
// nil now uses time.Now.
func NewChallengeIssuer(enc crypto.Encryptor, ttl time.Duration, now func() time.Time) *ChallengeIssuer {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	if now == nil {
		now = time.Now
	}
	return &ChallengeIssuer{enc: enc, ttl: ttl, now: now, used: make(map[string]time.Time)}
}

// TTL returns the redemption window.
func (c *ChallengeIssuer) TTL() time.Duration { return c.ttl }

// Issue returns a new challenge string for the client to sign.
func (c *ChallengeIssuer) Issue() (string, error) {
	b, err := json.Marshal(challengePayload{Nonce: uuid.NewString(), IssuedAt: c.now().Unix()})
	if err != nil {
		return "", fmt.Errorf("marshal challenge: %w", err)
	}
	sealed, err := crypto.SealString(c.enc, string(b))
	if err != nil {
		return "", fmt.Errorf("seal challenge: %w", err)
	}
	return sealed, nil
}

// Check reports whether challenge was issued here, is inside its window and
// has not been redeemed. It does not redeem it.
func (c *ChallengeIssuer) Check(challenge string) error {
	p, err := c.open(challenge)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.used[p.Nonce]; ok {
		return ErrChallengeReused
	}
	return nil
}

// Consume redeems challenge. A challenge can be consumed at most once.
func (c *ChallengeIssuer) Consume(challenge string) error {
	p, err := c.open(challenge)
	if err != nil {
		return err
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for nonce, exp := range c.used {
		if !now.Before(exp) {
			delete(c.used, nonce)
		}
	}
	if _, ok := c.used[p.Nonce]; ok {
		return ErrChallengeReused
	}
	c.used[p.Nonce] = time.Unix(p.IssuedAt, 0).Add(c.ttl)
	return nil
}

func (c *ChallengeIssuer) open(challenge string) (challengePayload, error) {
	var p challengePayload
	plain, err := crypto.OpenString(c.enc, challenge)
	if err != nil {
		return p, ErrChallengeInvalid
	}
	if err := json.Unmarshal([]byte(plain), &p); err != nil || p.Nonce == "" {
		return p, ErrChallengeInvalid
	}
	issued := time.Unix(p.IssuedAt, 0)
	now := c.now()
	if issued.After(now.Add(time.Minute)) {
		return p, ErrChallengeInvalid
	}
	if !now.Before(issued.Add(c.ttl)) {
		return p, ErrChallengeExpired
	}
	return p, nil
}
