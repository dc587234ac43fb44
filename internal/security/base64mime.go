package security

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/kandev/acpbridge/internal/core"
)

// magicBytes maps an allowed MIME type to the byte signature(s) its
// payload should start with, per spec §4.2. Absent entries are not
// sniffed (e.g. generic audio containers whose signature varies).
var magicBytes = map[string][][]byte{
	"image/png":  {{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}},
	"image/jpeg": {{0xFF, 0xD8, 0xFF}},
	"image/gif":  {[]byte("GIF87a"), []byte("GIF89a")},
	"image/webp": {[]byte("RIFF")}, // followed by size + "WEBP"; prefix check suffices
	"audio/wav":  {[]byte("RIFF")},
	"audio/mpeg": {{0xFF, 0xFB}, {0xFF, 0xF3}, {0xFF, 0xF2}, []byte("ID3")},
	"audio/ogg":  {[]byte("OggS")},
	"audio/aac":  {{0xFF, 0xF1}, {0xFF, 0xF9}},
}

var dangerousExecutableMagic = [][]byte{
	{'M', 'Z'},           // PE
	{0x7F, 'E', 'L', 'F'}, // ELF
}

// Base64MimeValidator implements spec §4.2's image/audio block checks.
type Base64MimeValidator struct {
	caps core.SecurityCaps
}

// NewBase64MimeValidator builds a validator bound to the given caps.
func NewBase64MimeValidator(caps core.SecurityCaps) *Base64MimeValidator {
	return &Base64MimeValidator{caps: caps}
}

// EstimatedDecodedSize returns the decoded byte count a base64 string
// implies, without allocating the full decode.
func EstimatedDecodedSize(b64 string) int64 {
	n := int64(len(b64))
	padding := int64(strings.Count(b64, "="))
	if n == 0 {
		return 0
	}
	return n/4*3 - padding
}

// ValidateBase64 checks alphabet validity, padding, and the size cap.
func (v *Base64MimeValidator) ValidateBase64(data string) error {
	if data == "" {
		return core.ValidationErrorf("base64 payload must not be empty")
	}
	if len(data)%4 != 0 {
		return core.ValidationErrorf("base64 payload length must be a multiple of 4")
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return core.ValidationErrorf("invalid base64 payload: %v", err)
	}
	size := EstimatedDecodedSize(data)
	if size > v.caps.MaxBase64Size {
		return core.ValidationErrorf("decoded size %d exceeds maximum of %d", size, v.caps.MaxBase64Size).
			WithData("providedSize", size).WithData("maxSize", v.caps.MaxBase64Size)
	}
	return nil
}

// ValidateMimeConsistency sniffs the decoded payload's magic bytes (when
// one is known for mimeType) against the declared MIME type.
func (v *Base64MimeValidator) ValidateMimeConsistency(decoded []byte, mimeType string) error {
	if !v.caps.ContentSniffing {
		return nil
	}
	sigs, known := magicBytes[strings.ToLower(mimeType)]
	if !known {
		return nil
	}
	for _, sig := range sigs {
		if bytes.HasPrefix(decoded, sig) {
			return nil
		}
	}
	return core.ValidationErrorf("declared MIME type %q does not match payload contents", mimeType).
		WithData("contentType", mimeType)
}

// DetectMaliciousPattern implements spec §4.2's optional detector: a
// decoded payload starting with an executable signature, or a base64
// string whose 50-byte prefix repeats implausibly often (suggestive of
// a crafted padding/zip-bomb style payload).
func (v *Base64MimeValidator) DetectMaliciousPattern(decoded []byte, rawBase64 string) error {
	if !v.caps.MaliciousPatternCheck {
		return nil
	}
	for _, sig := range dangerousExecutableMagic {
		if bytes.HasPrefix(decoded, sig) {
			return core.ValidationErrorf("payload matches an executable signature")
		}
	}
	if len(rawBase64) >= 50 {
		prefix := rawBase64[:50]
		if strings.Count(rawBase64, prefix) > 10 {
			return core.ValidationErrorf("payload contains a suspiciously repeating prefix pattern")
		}
	}
	return nil
}

// Decode returns the decoded bytes, assuming ValidateBase64 already passed.
func Decode(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
