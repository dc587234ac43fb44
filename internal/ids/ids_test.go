package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionID_IsLowercaseULID(t *testing.T) {
	id := NewSessionID()
	assert.Equal(t, id, lower(id))
	assert.NoError(t, ParseULID(id))
}

func TestNewTerminalID_HasPrefixAndParses(t *testing.T) {
	id := NewTerminalID()
	assert.Contains(t, id, "term_")
	assert.NoError(t, ParseULID(id))
}

func TestParseULID_RejectsGarbage(t *testing.T) {
	assert.Error(t, ParseULID("not-a-ulid"))
	assert.Error(t, ParseULID(""))
}

func TestNewUUID_IsUnique(t *testing.T) {
	a, b := NewUUID(), NewUUID()
	assert.NotEqual(t, a, b)
}

func TestNewRequestID_Length(t *testing.T) {
	id := NewRequestID()
	require.Len(t, id, 16)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
