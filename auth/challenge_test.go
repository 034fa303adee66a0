package auth

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/vimm-chat/crypto"
)

func newIssuer(t *testing.T, now *time.Time) *ChallengeIssuer {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	enc, err := crypto.NewAESEncryptor(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	return NewChallengeIssuer(enc, time.Minute, func() time.Time { return *now })
}

func TestChallengeIssuer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("should redeem a fresh challenge exactly once", func(t *testing.T) {
		req := require.New(t)
		c := newIssuer(t, &now)

		ch, err := c.Issue()
		req.NoError(err)
		req.NoError(c.Check(ch))
		req.NoError(c.Check(ch), "Check must not redeem")
		req.NoError(c.Consume(ch))
		req.ErrorIs(c.Consume(ch), ErrChallengeReused)
		req.ErrorIs(c.Check(ch), ErrChallengeReused)
	})

	t.Run("should issue distinct challenges", func(t *testing.T) {
		c := newIssuer(t, &now)
		a, _ := c.Issue()
		b, _ := c.Issue()
		require.NotEqual(t, a, b)
	})

	t.Run("should reject an expired challenge", func(t *testing.T) {
		clock := now
		c := newIssuer(t, &clock)
		ch, err := c.Issue()
		require.NoError(t, err)

		clock = clock.Add(time.Minute)
		require.ErrorIs(t, c.Consume(ch), ErrChallengeExpired)
	})

	t.Run("should reject challenges it did not issue", func(t *testing.T) {
		c := newIssuer(t, &now)
		other := newIssuer(t, &now)
		ch, _ := other.Issue()

		require.ErrorIs(t, c.Consume(ch), ErrChallengeInvalid)
		require.ErrorIs(t, c.Consume("client-made challenge"), ErrChallengeInvalid)
	})

	t.Run("should forget redeemed nonces after their window", func(t *testing.T) {
		clock := now
		c := newIssuer(t, &clock)
		first, _ := c.Issue()
		require.NoError(t, c.Consume(first))

		clock = clock.Add(2 * time.Minute)
		second, _ := c.Issue()
		require.NoError(t, c.Consume(second))

		c.mu.Lock()
		defer c.mu.Unlock()
		require.Len(t, c.used, 1)
	})
}
