// Package ids generates the identifiers spec §3/§GLOSSARY requires:
// ULID-shaped, lexicographically sortable IDs for sessions and
// terminals, and plain UUIDs for everything else (tool-call reports,
// plans and plan entries, error correlation IDs).
package ids

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// newULID mints a ULID for the current time, drawing its entropy from
// crypto/rand. ulid.Monotonic wants an io.Reader; crypto/rand.Reader
// satisfies that directly.
func newULID() ulid.ULID {
	ms := ulid.Timestamp(time.Now())
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ms, entropy)
}

// NewSessionID returns a new ULID-shaped session identifier, unprefixed
// (spec §3 describes sessions by a bare ULID).
func NewSessionID() string {
	return strings.ToLower(newULID().String())
}

// NewTerminalID returns a new ULID-shaped terminal identifier prefixed
// "term_" per spec §4.7.
func NewTerminalID() string {
	return "term_" + strings.ToLower(newULID().String())
}

// ParseULID validates that s is a syntactically valid ULID (used by
// session/load's ID-format check, spec §4.9).
func ParseULID(s string) error {
	trimmed := strings.TrimPrefix(s, "term_")
	_, err := ulid.ParseStrict(strings.ToUpper(trimmed))
	return err
}

// NewUUID returns a fresh random UUID for non-session/terminal identifiers.
func NewUUID() string {
	return uuid.NewString()
}

// NewCorrelationID returns a fresh random UUID to use as a log correlation identifier.
func NewCorrelationID() string {
	return uuid.NewString()
}

// randomHex returns n random lowercase hex digits drawn from
// crypto/rand; it backs NewRequestID.
func randomHex(n int) string {
	const alphabet = "0123456789abcdef"
	buf := make([]byte, n)
	for i := range buf {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf)
}

// NewRequestID returns a compact identifier suitable for a JSON-RPC request id.
func NewRequestID() string {
	return randomHex(16)
}
