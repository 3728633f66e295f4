// Package ids provides ULID-based identifiers used on outbound requests.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, so nonces sort by creation time.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewNonce returns a fresh message nonce. The server echoes it back on the
// MESSAGE_SEND event, which lets a sender match its own message.
func NewNonce() (string, error) {
	return NewULID(time.Now().UTC())
}
