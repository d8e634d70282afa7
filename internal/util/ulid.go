package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs are time-sortable, so string
// comparison on event ids matches creation order within a tenant.
func New() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ValidULID reports whether s parses as a strict ULID. Used to sanity-check
// event ids arriving from operational tooling before they reach cursor state.
func ValidULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
