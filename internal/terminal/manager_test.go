package terminal

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpbridge/internal/logger"
)

func TestAppendOutput_TruncatesAtUTF8Boundary(t *testing.T) {
	s := &Session{limit: 1024, subscribers: make(map[chan<- []byte]struct{})}

	s.appendOutput(bytesOf('A', 2048))

	// "€" is 3 bytes (0xE2 0x82 0xAC); write the first two bytes only.
	euroBytes := []byte{0xE2, 0x82, 0xAC}
	s.appendOutput(euroBytes[:2])

	data, truncated, _, _, err := s.Output()
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.LessOrEqual(t, len(data), 1024)
	assert.True(t, utf8.Valid(data), "stored bytes must always be valid UTF-8")
}

func TestFindUTF8Boundary(t *testing.T) {
	data := []byte{'a', 'b', 0xE2, 0x82, 0xAC, 'c'} // "ab€c"
	assert.Equal(t, 2, findUTF8Boundary(data, 2))
	// minPos lands mid-codepoint (continuation byte at index 3); must
	// advance to the next non-continuation byte.
	assert.Equal(t, 5, findUTF8Boundary(data, 3))
}

func TestOutput_HoldsBackIncompleteTrailingCodepoint(t *testing.T) {
	s := &Session{limit: 1024, subscribers: make(map[chan<- []byte]struct{})}

	euroBytes := []byte{0xE2, 0x82, 0xAC}
	s.appendOutput([]byte("abc"))
	s.appendOutput(euroBytes[:2]) // partial flush from the writer

	data, truncated, _, _, err := s.Output()
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, []byte("abc"), data)

	s.appendOutput(euroBytes[2:]) // final byte arrives
	data, _, _, _, err = s.Output()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc\xe2\x82\xac"), data)
}

func TestSessionWrite_InterceptsCd(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	m := New(log)

	s, err := m.Create("/tmp", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), "cd /var/log"))
	assert.Equal(t, "/var/log", s.WorkDir)
}

func TestManagerCreateRejectsEmptyEnvName(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	m := New(log)

	_, err = m.Create("/tmp", "", map[string]string{"": "value"})
	assert.Error(t, err)
}

func TestRelease_OutputFailsAfterRelease(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	m := New(log)

	s, err := m.Create("/tmp", "", nil)
	require.NoError(t, err)
	require.NoError(t, m.Release(s.ID))

	_, _, _, _, err = s.Output()
	assert.Error(t, err)

	assert.Error(t, m.Release(s.ID), "second release must fail: terminal is gone from the registry")
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand("ls -la"))
	assert.Error(t, ValidateCommand(""))
	assert.Error(t, ValidateCommand("rm -rf /"))
	assert.Error(t, ValidateCommand("sudo shutdown -h now"))

	long := make([]byte, 1001)
	for i := range long {
		long[i] = 'x'
	}
	assert.Error(t, ValidateCommand(string(long)))
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestManagerCreateRejectsRelativeWorkDir(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	m := New(log)

	_, err = m.Create("/tmp/session", "relative/path", nil)
	assert.Error(t, err)
}
