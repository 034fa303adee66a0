package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewStore([]byte("test-secret"), WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func TestNewStoreRequiresSecret(t *testing.T) {
	_, err := NewStore(nil)
	require.ErrorIs(t, err, ErrNoSecret)
}

func TestIssueValidate(t *testing.T) {
	req := require.New(t)
	s, clock := newTestStore(t)

	sess, err := s.Issue("alice", "acct1")
	req.NoError(err)
	req.NotEmpty(sess.Token)
	req.Equal(clock.Now(), sess.IssuedAt)
	req.Equal(sess.IssuedAt.Add(24*time.Hour), sess.ExpiresAt)

	got, ok := s.Validate(sess.Token)
	req.True(ok)
	req.Equal("alice", got.Username)
	req.Equal("acct1", got.Account)
}

func TestSubSecondIssueValidUntilExpiresAt(t *testing.T) {
	req := require.New(t)
	s, clock := newTestStore(t)
	clock.Advance(900 * time.Millisecond)

	sess, err := s.Issue("alice", "acct1")
	req.NoError(err)
	req.Equal(sess.ExpiresAt, sess.ExpiresAt.Truncate(time.Second))

	clock.Advance(sess.ExpiresAt.Add(-500 * time.Millisecond).Sub(clock.Now()))
	_, ok := s.Validate(sess.Token)
	req.True(ok, "session must stay valid until ExpiresAt")

	clock.Advance(500 * time.Millisecond)
	_, ok = s.Validate(sess.Token)
	req.False(ok)
}

func TestSessionLifetimeBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		valid   bool
	}{
		{"at issue time", 0, true},
		{"one second before expiry", TTL - time.Second, true},
		{"one nanosecond before expiry", TTL - time.Nanosecond, true},
		{"exactly at expiry", TTL, false},
		{"after expiry", TTL + time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestStore(t)
			sess, err := s.Issue("alice", "acct1")
			require.NoError(t, err)

			clock.Advance(tt.advance)
			_, ok := s.Validate(sess.Token)
			require.Equal(t, tt.valid, ok)
		})
	}
}

func TestExpiredSessionHiddenBeforeSweep(t *testing.T) {
	req := require.New(t)
	s, clock := newTestStore(t)
	sess, _ := s.Issue("alice", "acct1")

	clock.Advance(TTL)
	_, ok := s.Validate(sess.Token)
	req.False(ok)
	req.Equal(1, s.Len(), "lazy check must not depend on the sweep")

	req.Equal(1, s.Sweep())
	req.Equal(0, s.Len())
}

func TestSweepKeepsLiveSessions(t *testing.T) {
	s, clock := newTestStore(t)
	old, _ := s.Issue("old", "a")
	clock.Advance(TTL / 2)
	fresh, _ := s.Issue("fresh", "a")
	clock.Advance(TTL / 2)

	require.Equal(t, 1, s.Sweep())
	_, ok := s.Validate(old.Token)
	require.False(t, ok)
	_, ok = s.Validate(fresh.Token)
	require.True(t, ok)
}

func TestRevoke(t *testing.T) {
	s, _ := newTestStore(t)
	sess, _ := s.Issue("alice", "acct1")

	s.Revoke(sess.Token)
	s.Revoke(sess.Token)
	_, ok := s.Validate(sess.Token)
	require.False(t, ok)
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	s, clock := newTestStore(t)
	sess, _ := s.Issue("alice", "acct1")

	other, err := NewStore([]byte("other-secret"), WithClock(clock.Now))
	require.NoError(t, err)
	_, ok := other.Validate(sess.Token)
	require.False(t, ok, "token signed with another secret")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: "mallory",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, ok = s.Validate(forged)
	require.False(t, ok, "well-signed token the store never issued")

	parts := strings.Split(sess.Token, ".")
	parts[1] = parts[1][:len(parts[1])-2] + "xx"
	_, ok = s.Validate(strings.Join(parts, "."))
	require.False(t, ok, "tampered payload")

	_, ok = s.Validate("")
	require.False(t, ok)
}

func TestConcurrentIssueUniqueTokens(t *testing.T) {
	s, _ := newTestStore(t)
	const n = 200

	tokens := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := s.Issue("alice", "acct1")
			if err != nil {
				t.Error(err)
				return
			}
			if _, ok := s.Validate(sess.Token); !ok {
				t.Error("freshly issued token did not validate")
			}
			tokens <- sess.Token
		}()
	}
	wg.Wait()
	close(tokens)

	seen := make(map[string]bool)
	for tok := range tokens {
		require.False(t, seen[tok], "duplicate token issued")
		seen[tok] = true
	}
	require.Len(t, seen, n)
	require.Equal(t, n, s.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	s, clock := newTestStore(t)
	s.Issue("alice", "acct1")
	clock.Advance(TTL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
