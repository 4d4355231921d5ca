// Package ids generates time-sortable identifiers for append-only records.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID for the current time
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID whose timestamp component is t. IDs generated within
// the same millisecond sort in generation order. If the monotonic source is
// exhausted the id is drawn from fresh entropy and loses that ordering.
func NewAt(t time.Time) string {
	ms := ulid.Timestamp(t)

	entropyMu.Lock()
	id, err := ulid.New(ms, entropy)
	entropyMu.Unlock()
	if err == nil {
		return id.String()
	}

	if id, err = ulid.New(ms, rand.Reader); err == nil {
		return id.String()
	}
	// timestamp out of range
	return ulid.Make().String()
}

// Time extracts the timestamp component of an id
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
