package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAbsolutePath_Accepts(t *testing.T) {
	v := NewPathValidator(nil)
	got, err := v.ValidateAbsolutePath("/home/user/project/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/home/user/project/file.txt", got)
}

func TestValidateAbsolutePath_RejectsEmpty(t *testing.T) {
	v := NewPathValidator(nil)
	_, err := v.ValidateAbsolutePath("")
	assert.Error(t, err)
}

func TestValidateAbsolutePath_RejectsNulByte(t *testing.T) {
	v := NewPathValidator(nil)
	_, err := v.ValidateAbsolutePath("/tmp/a\x00b")
	assert.Error(t, err)
}

func TestValidateAbsolutePath_RejectsRelative(t *testing.T) {
	v := NewPathValidator(nil)
	_, err := v.ValidateAbsolutePath("./relative/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute path")
}

func TestValidateAbsolutePath_RejectsTraversal(t *testing.T) {
	v := NewPathValidator(nil)
	_, err := v.ValidateAbsolutePath("/home/user/../etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "traversal")
}

func TestValidateAbsolutePath_RejectsTooLong(t *testing.T) {
	v := NewPathValidator(nil)
	_, err := v.ValidateAbsolutePath("/" + repeat("a", 5000))
	assert.Error(t, err)
}

func TestValidateAbsolutePath_RejectsSystemDirectory(t *testing.T) {
	v := NewPathValidator(nil)
	_, err := v.ValidateAbsolutePath("/etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected system directory")
}

func TestValidateAbsolutePath_RejectsDangerousExtension(t *testing.T) {
	v := NewPathValidator(nil)
	_, err := v.ValidateAbsolutePath("/home/user/virus.exe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disallowed extension")
}

func TestValidateAbsolutePath_BoundaryRootEnforced(t *testing.T) {
	v := NewPathValidator([]string{"/home/user/project"})
	_, err := v.ValidateAbsolutePath("/home/user/other/file.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boundary roots")

	got, err := v.ValidateAbsolutePath("/home/user/project/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/home/user/project/file.txt", got)
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
