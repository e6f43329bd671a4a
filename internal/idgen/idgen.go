// Package idgen generates the identifiers the engine and bus hand out:
// workflow ids and bus message ids. Grounded on the
// teacher's internal/storage/ulid.go monotonic-entropy ULID generator.
package idgen

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Suffix returns an 8-character random suffix suitable for
// "<type>-<8-char-random>" workflow ids: the last 8 characters of a
// ULID, which come from its random part, so suffixes do not sort by time.
func Suffix() string {
	id := newULID()
	return strings.ToLower(id[len(id)-8:])
}

// WorkflowID mints "<type>-<8-char-random>" per §4.2 start().
func WorkflowID(workflowType string) string {
	return workflowType + "-" + Suffix()
}

// MessageID mints a unique bus Message.id.
func MessageID() string {
	return uuid.NewString()
}
