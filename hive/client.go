// Package hive contains minimal helpers to interact with the Hive blockchain
// account registry: a JSON-RPC client for posting-key lookup, and codecs for
// Hive public keys, WIF private keys and compact message signatures.
package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/vimm-chat/telemetry"
)

// DefaultURL is the public API node used when no node is configured.
const DefaultURL = "https://api.hive.blog"

var (
	// ErrAccountNotFound is returned when the registry has no account for a name.
	ErrAccountNotFound = errors.New("account not found")
	// ErrUpstream wraps transport, status and decoding failures talking to the node.
	ErrUpstream = errors.New("hive node unavailable")
)

// Client provides the registry lookups needed for signature verification.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) url() string {
	if c.URL != "" {
		return c.URL
	}
	return DefaultURL
}

// Account is the subset of condenser_api account data used by chat.
type Account struct {
	Name    string    `json:"name"`
	Posting Authority `json:"posting"`
}

// Authority lists weighted keys; each entry is ["STM...", weight].
type Authority struct {
	WeightThreshold int               `json:"weight_threshold"`
	KeyAuths        []json.RawMessage `json:"key_auths"`
}

// Keys returns the public key strings of the authority in registry order.
func (a Authority) Keys() []string {
	keys := make([]string, 0, len(a.KeyAuths))
	for _, raw := range a.KeyAuths {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) == 0 {
			continue
		}
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil || key == "" {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GetAccount fetches a single account by name.
func (c *Client) GetAccount(ctx context.Context, name string) (*Account, error) {
	if name == "" {
		return nil, fmt.Errorf("account name empty")
	}
	ctx, span := telemetry.StartSpan(ctx, "hive", "condenser_api.get_accounts", attribute.String("hive.account", name))
	defer span.End()

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "condenser_api.get_accounts",
		Params:  [][]string{{name}},
		ID:      1,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: %s: %s", ErrUpstream, resp.Status, string(b))
		telemetry.RecordError(span, err)
		return nil, err
	}
	var body struct {
		Result []Account `json:"result"`
		Error  *rpcError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		err = fmt.Errorf("%w: decode: %v", ErrUpstream, err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if body.Error != nil {
		err := fmt.Errorf("%w: rpc error %d: %s", ErrUpstream, body.Error.Code, body.Error.Message)
		telemetry.RecordError(span, err)
		return nil, err
	}
	for i := range body.Result {
		if body.Result[i].Name == name {
			telemetry.SetSpanSuccess(span)
			return &body.Result[i], nil
		}
	}
	return nil, ErrAccountNotFound
}

// PostingKeys returns the posting public keys currently registered for name.
func (c *Client) PostingKeys(ctx context.Context, name string) ([]string, error) {
	acct, err := c.GetAccount(ctx, name)
	if err != nil {
		return nil, err
	}
	return acct.Posting.Keys(), nil
}
