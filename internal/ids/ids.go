// Package ids generates request identifiers.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader = ulid.Monotonic(rand.Reader, 0)
	clock             = time.Now
)

// New returns a ULID so request ids sort by arrival time. If the entropy
// source fails it falls back to a random UUID.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(clock()), entropy)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
