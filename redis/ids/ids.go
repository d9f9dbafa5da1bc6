// Package ids generates the lexicographically sortable, monotonic
// identifiers used for threads, tasks, and Q&A records (spec.md §3).
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a 128-bit ULID: a timestamp-prefixed, lexicographically sortable
// identifier. Generating IDs through New guarantees monotonic ordering for
// IDs minted within the same millisecond by the same process.
type ID = ulid.ULID

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New mints a new ID using the current wall-clock time and a monotonic
// entropy source so two IDs created in the same millisecond still sort in
// creation order.
func New() ID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// Parse validates and decodes a canonical ULID string.
func Parse(s string) (ID, error) {
	return ulid.ParseStrict(s)
}
