//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../mocks/mock_registry.go -package=mocks
package auth

import (
	"context"

	"github.com/onnwee/vimm-chat/hive"
)

// Registry resolves the posting keys currently registered for an account.
// Implementations return hive.ErrAccountNotFound for unknown accounts.
type Registry interface {
	PostingKeys(ctx context.Context, username string) ([]string, error)
}

// KeyTable is a fixed in-memory Registry: username -> posting keys.
type KeyTable map[string][]string

// PostingKeys implements Registry.
func (t KeyTable) PostingKeys(_ context.Context, username string) ([]string, error) {
	keys, ok := t[username]
	if !ok {
		return nil, hive.ErrAccountNotFound
	}
	return keys, nil
}

var _ Registry = (*hive.Client)(nil)
