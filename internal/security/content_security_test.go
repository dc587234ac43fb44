package security

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpbridge/internal/core"
)

func strictCaps() core.SecurityCaps { return core.ResolveSecurityCaps(core.SecurityProfileStrict) }

func TestValidateContentBlock_TextSanitization(t *testing.T) {
	v := NewContentSecurityValidator(strictCaps())

	err := v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeText, Text: "hello world"})
	assert.NoError(t, err)

	err = v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeText, Text: "<script>alert(1)</script>"})
	assert.Error(t, err)

	err = v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeText, Text: "onerror=alert(1)"})
	assert.Error(t, err)
}

func TestValidateContentBlock_URISchemeAndSSRF(t *testing.T) {
	v := NewContentSecurityValidator(strictCaps())

	err := v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeResourceLink, URI: "https://example.com/doc"})
	assert.NoError(t, err)

	err = v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeResourceLink, URI: "http://example.com/doc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")

	err = v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeResourceLink, URI: "https://127.0.0.1/secret"})
	require.Error(t, err)

	err = v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeResourceLink, URI: "https://169.254.169.254/latest/meta-data"})
	assert.Error(t, err)
}

func TestValidateContentBlock_URIEmptyOrTooLong(t *testing.T) {
	v := NewContentSecurityValidator(strictCaps())

	err := v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeResourceLink, URI: ""})
	assert.Error(t, err)

	caps := strictCaps()
	caps.MaxURILength = 5
	v2 := NewContentSecurityValidator(caps)
	err = v2.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeResourceLink, URI: "https://example.com"})
	assert.Error(t, err)
}

func pngB64(t *testing.T) string {
	t.Helper()
	sig := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	payload := append(sig, make([]byte, 100)...)
	return base64.StdEncoding.EncodeToString(payload)
}

func TestValidateContentBlock_ImageMimeConsistency(t *testing.T) {
	v := NewContentSecurityValidator(strictCaps())
	data := pngB64(t)

	err := v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeImage, Data: data, MimeType: "image/png"})
	assert.NoError(t, err)

	err = v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeImage, Data: data, MimeType: "image/jpeg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestValidateContentBlock_ImageSizeCap(t *testing.T) {
	caps := strictCaps()
	caps.MaxBase64Size = 10
	v := NewContentSecurityValidator(caps)
	data := pngB64(t)

	err := v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeImage, Data: data, MimeType: "image/png"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestValidateContentBlocks_ArrayLengthCap(t *testing.T) {
	caps := strictCaps()
	caps.MaxContentArrayLength = 1
	v := NewContentSecurityValidator(caps)

	err := v.ValidateContentBlocks([]core.ContentBlock{
		{Type: core.ContentTypeText, Text: "a"},
		{Type: core.ContentTypeText, Text: "b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "array length")
}

func TestValidateContentBlocks_TotalSizeCap(t *testing.T) {
	caps := strictCaps()
	caps.MaxTotalContentSize = 50
	v := NewContentSecurityValidator(caps)
	data := pngB64(t)

	err := v.ValidateContentBlocks([]core.ContentBlock{
		{Type: core.ContentTypeImage, Data: data, MimeType: "image/png"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total estimated content size")
}

func TestValidateContentBlock_BlockedURIPatterns(t *testing.T) {
	v := NewContentSecurityValidator(strictCaps())

	err := v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeResourceLink, URI: "https://user@example.com/x"})
	require.Error(t, err, "userinfo-smuggled hosts are blocked")

	err = v.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeResourceLink, URI: "https://metadata.google.internal/computeMetadata"})
	assert.Error(t, err)

	caps := strictCaps()
	caps.BlockedURIPatterns = append(caps.BlockedURIPatterns, `\.evil\.example$`)
	v2 := NewContentSecurityValidator(caps)
	err = v2.ValidateContentBlock(core.ContentBlock{Type: core.ContentTypeResourceLink, URI: "https://api.evil.example"})
	assert.Error(t, err)
}

func TestValidateContentBlocks_PerRequestBudget(t *testing.T) {
	caps := strictCaps()
	caps.PerRequestBudget = 10
	v := NewContentSecurityValidator(caps)

	err := v.ValidateContentBlocks([]core.ContentBlock{
		{Type: core.ContentTypeText, Text: "this text alone exceeds the ten-byte budget"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "per-request budget")
}

func TestEstimatedBlockSize(t *testing.T) {
	assert.Equal(t, int64(5), EstimatedBlockSize(core.ContentBlock{Type: core.ContentTypeText, Text: "hello"}))
	assert.Equal(t, int64(9), EstimatedBlockSize(core.ContentBlock{Type: core.ContentTypeResourceLink, URI: "https://x"}))
	assert.Equal(t, int64(3), EstimatedBlockSize(core.ContentBlock{Type: core.ContentTypeImage, Data: "aGV5"}))
}

func TestCapabilityGate_SingleAndMultipleViolations(t *testing.T) {
	blocks := []core.ContentBlock{
		{Type: core.ContentTypeImage, Data: "x"},
	}
	err := CapabilityGate(blocks, core.PromptCapabilities{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image")

	blocks = []core.ContentBlock{
		{Type: core.ContentTypeImage, Data: "x"},
		{Type: core.ContentTypeAudio, Data: "y"},
	}
	err = CapabilityGate(blocks, core.PromptCapabilities{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image")
	assert.Contains(t, err.Error(), "audio")

	err = CapabilityGate(blocks, core.PromptCapabilities{Image: true, Audio: true})
	assert.NoError(t, err)
}

func TestValidateContentBlock_TextAlwaysPermitted(t *testing.T) {
	err := CapabilityGate([]core.ContentBlock{{Type: core.ContentTypeText, Text: "hi"}}, core.PromptCapabilities{})
	assert.NoError(t, err)

	err = CapabilityGate([]core.ContentBlock{{Type: core.ContentTypeResourceLink, URI: "https://x"}}, core.PromptCapabilities{})
	assert.NoError(t, err)
}
