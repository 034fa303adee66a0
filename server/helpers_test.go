package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/onnwee/vimm-chat/auth"
	"github.com/onnwee/vimm-chat/chat"
	"github.com/onnwee/vimm-chat/config"
	"github.com/onnwee/vimm-chat/crypto"
	"github.com/onnwee/vimm-chat/hive"
	"github.com/onnwee/vimm-chat/session"
)

type testEnv struct {
	handler http.Handler
	deps    Deps
	keys    map[string]*secp256k1.PrivateKey
}

type envSetup struct {
	deps  Deps
	sinks []chat.Sink
}

type envOption func(*envSetup)

func withChallenges(required bool) envOption {
	return func(s *envSetup) {
		enc, err := crypto.NewAESEncryptor(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
		if err != nil {
			panic(err)
		}
		s.deps.Challenges = auth.NewChallengeIssuer(enc, time.Minute, time.Now)
		s.deps.Config.RequireServerChallenge = required
	}
}

func withConfig(mutate func(*config.Config)) envOption {
	return func(s *envSetup) { mutate(s.deps.Config) }
}

func withSinks(sinks ...chat.Sink) envOption {
	return func(s *envSetup) { s.sinks = append(s.sinks, sinks...) }
}

// newTestEnv builds the full HTTP stack with accounts alice and bob
// registered in a fixed key table.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := session.NewStore([]byte("server-test-secret"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	env := &testEnv{keys: map[string]*secp256k1.PrivateKey{}}
	table := auth.KeyTable{}
	for _, name := range []string{"alice", "bob"} {
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("GeneratePrivateKey: %v", err)
		}
		env.keys[name] = priv
		table[name] = []string{hive.EncodePublicKey(priv.PubKey())}
	}

	cfg := &config.Config{
		SlowModeInterval: 3,
		MaxMessageLength: 500,
		ChallengeTTL:     time.Minute,
	}
	setup := &envSetup{deps: Deps{
		Sessions: store,
		Verifier: auth.NewSignatureVerifier(table, nil),
		Config:   cfg,
	}}
	for _, o := range opts {
		o(setup)
	}
	setup.deps.Broker = chat.NewBroker(store,
		chat.WithMaxMessageRunes(cfg.MaxMessageLength),
		chat.WithSinks(setup.sinks...),
	)
	env.deps = setup.deps
	env.handler = NewMux(ctx, setup.deps)
	return env
}

func (e *testEnv) sign(t *testing.T, user, challenge string) string {
	t.Helper()
	priv, ok := e.keys[user]
	if !ok {
		t.Fatalf("no key for %s", user)
	}
	return hive.SignMessage(priv, challenge)
}

// login authenticates user with a client-chosen challenge and returns the token.
func (e *testEnv) login(t *testing.T, user string) string {
	t.Helper()
	challenge := "vimm-chat login " + time.Now().String()
	rr := e.do(t, http.MethodPost, "/api/chat/auth", map[string]string{
		"username":    user,
		"challenge":   challenge,
		"signature":   e.sign(t, user, challenge),
		"hiveAccount": user,
	}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body=%s", user, rr.Code, rr.Body.String())
	}
	var resp authResponse
	decodeBody(t, rr, &resp)
	return resp.Token
}

// do sends a request through the full handler chain. body is JSON-encoded
// unless it is nil.
func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, rr, &body)
	return body["error"]
}
