package security

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBase64_RejectsEmptyAndBadPadding(t *testing.T) {
	v := NewBase64MimeValidator(strictCaps())

	assert.Error(t, v.ValidateBase64(""))
	assert.Error(t, v.ValidateBase64("abc")) // length not a multiple of 4
	assert.Error(t, v.ValidateBase64("!!!!"))
}

func TestValidateBase64_AcceptsValidPayload(t *testing.T) {
	v := NewBase64MimeValidator(strictCaps())
	data := base64.StdEncoding.EncodeToString([]byte("hello world"))
	assert.NoError(t, v.ValidateBase64(data))
}

func TestEstimatedDecodedSize(t *testing.T) {
	raw := []byte("hello world!")
	enc := base64.StdEncoding.EncodeToString(raw)
	assert.Equal(t, int64(len(raw)), EstimatedDecodedSize(enc))
}

func TestValidateMimeConsistency_SkippedWhenSniffingOff(t *testing.T) {
	caps := strictCaps()
	caps.ContentSniffing = false
	v := NewBase64MimeValidator(caps)
	assert.NoError(t, v.ValidateMimeConsistency([]byte("not a png"), "image/png"))
}

func TestValidateMimeConsistency_UnknownMimeSkipsSniff(t *testing.T) {
	v := NewBase64MimeValidator(strictCaps())
	assert.NoError(t, v.ValidateMimeConsistency([]byte("anything"), "application/octet-stream"))
}

func TestDetectMaliciousPattern_ExecutableSignature(t *testing.T) {
	v := NewBase64MimeValidator(strictCaps())

	err := v.DetectMaliciousPattern([]byte("MZ\x90\x00"), "TVqQAA==")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executable signature")

	err = v.DetectMaliciousPattern([]byte{0x7F, 'E', 'L', 'F', 0x02}, "x")
	assert.Error(t, err)
}

func TestDetectMaliciousPattern_RepeatingPrefix(t *testing.T) {
	v := NewBase64MimeValidator(strictCaps())
	prefix := repeat("A", 50)
	raw := repeat(prefix, 11)

	err := v.DetectMaliciousPattern([]byte("plain"), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeating prefix")
}

func TestDetectMaliciousPattern_DisabledByPolicy(t *testing.T) {
	caps := strictCaps()
	caps.MaliciousPatternCheck = false
	v := NewBase64MimeValidator(caps)
	err := v.DetectMaliciousPattern([]byte("MZ"), "TVo=")
	assert.NoError(t, err)
}

func TestDecode(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte("abc"))
	out, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)
}
