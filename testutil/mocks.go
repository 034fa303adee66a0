package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// MockHiveServer is a fake Hive API node answering condenser_api.get_accounts.
type MockHiveServer struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string][]string // name -> posting keys
	status   int
	calls    atomic.Int64
}

// NewMockHiveServer starts a fake node; it is closed when the test ends.
func NewMockHiveServer(t *testing.T) *MockHiveServer {
	t.Helper()
	m := &MockHiveServer{accounts: make(map[string][]string)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Close)
	return m
}

// AddAccount registers name with the given posting keys.
func (m *MockHiveServer) AddAccount(name string, postingKeys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[name] = postingKeys
}

// FailWith makes every request answer with status (0 restores normal replies).
func (m *MockHiveServer) FailWith(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// Calls returns how many requests the node served.
func (m *MockHiveServer) Calls() int { return int(m.calls.Load()) }

func (m *MockHiveServer) handle(w http.ResponseWriter, r *http.Request) {
	m.calls.Add(1)
	m.mu.Lock()
	status := m.status
	m.mu.Unlock()
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Method string     `json:"method"`
		Params [][]string `json:"params"`
		ID     int        `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method != "condenser_api.get_accounts" || len(req.Params) != 1 {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
			"jsonrpc": "2.0",
			"error":   map[string]any{"code": -32602, "message": "invalid params"},
			"id":      req.ID,
		})
		return
	}

	result := []map[string]any{}
	m.mu.Lock()
	for _, name := range req.Params[0] {
		keys, ok := m.accounts[name]
		if !ok {
			continue
		}
		auths := make([][]any, 0, len(keys))
		for _, k := range keys {
			auths = append(auths, []any{k, 1})
		}
		result = append(result, map[string]any{
			"name":    name,
			"posting": map[string]any{"weight_threshold": 1, "key_auths": auths},
		})
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": result, "id": req.ID}) //nolint:errcheck // test mock response
}
