package chat

import (
	"errors"
	"strings"
	"time"
)

// RoomPrefix prefixes every room key.
const RoomPrefix = "chat-"

// RoomKey identifies a room. The same account always maps to the same key.
type RoomKey string

// RoomKeyFor returns the room key of a channel account.
func RoomKeyFor(account string) RoomKey {
	return RoomKey(RoomPrefix + account)
}

// ParseRoom validates a room key sent by a client. Anything that is not a
// prefixed key with a non-empty account yields "".
func ParseRoom(s string) RoomKey {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, RoomPrefix) || s == RoomPrefix {
		return ""
	}
	return RoomKey(s)
}

// Account returns the channel account the room belongs to.
func (k RoomKey) Account() string {
	return strings.TrimPrefix(string(k), RoomPrefix)
}

// Message is one chat line. It is immutable once published.
type Message struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Room      RoomKey   `json:"-"`
	Account   string    `json:"hiveAccount"`
	Verified  bool      `json:"verified"`
}

// ErrUnauthorized is returned when a token is missing, expired or unknown.
// Callers are not told which of those applies.
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError describes malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
