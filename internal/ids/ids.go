// Package ids generates the ULID identifiers used for users, chats and
// messages. ULIDs sort lexicographically by creation time, which is what
// makes them usable as the ChatHistory sort key.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh ULID string and the UTC time encoded in it. IDs
// generated within the same millisecond remain strictly increasing thanks to
// the monotonic entropy source.
func New() (string, time.Time) {
	now := time.Now().UTC()

	mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), entropy)
	mu.Unlock()

	return id.String(), ulid.Time(id.Time()).UTC()
}
