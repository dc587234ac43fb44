package security

import (
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/kandev/acpbridge/internal/core"
)

var dangerousTextPatterns = []string{
	"<script", "javascript:", "onload=", "onerror=", "eval(", "document.cookie",
}

var blockedHostnames = map[string]bool{
	"localhost":                  true,
	"127.0.0.1":                  true,
	"169.254.169.254":            true,
	"metadata.google.internal":   true,
}

// ContentSecurityValidator implements spec §4.2's per-block and
// array-level rules, plus the §4.2 capability gate.
type ContentSecurityValidator struct {
	caps    core.SecurityCaps
	b64     *Base64MimeValidator
	blocked []*regexp.Regexp
}

// NewContentSecurityValidator builds a validator bound to the given caps.
// Blocked-URI patterns that fail to compile are skipped; the profile
// defaults are all known-good.
func NewContentSecurityValidator(caps core.SecurityCaps) *ContentSecurityValidator {
	blocked := make([]*regexp.Regexp, 0, len(caps.BlockedURIPatterns))
	for _, pattern := range caps.BlockedURIPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		blocked = append(blocked, re)
	}
	return &ContentSecurityValidator{caps: caps, b64: NewBase64MimeValidator(caps), blocked: blocked}
}

// ValidateContentBlock validates a single block per spec §4.2.
func (v *ContentSecurityValidator) ValidateContentBlock(block core.ContentBlock) error {
	switch block.Type {
	case core.ContentTypeText:
		return v.validateText(block.Text)
	case core.ContentTypeImage, core.ContentTypeAudio:
		return v.validateBinary(block)
	case core.ContentTypeResourceLink, core.ContentTypeEmbeddedResource:
		return v.validateURI(block.URI)
	default:
		return core.ValidationErrorf("unsupported content block type %q", block.Type)
	}
}

func (v *ContentSecurityValidator) validateText(text string) error {
	if !v.caps.Sanitization {
		return nil
	}
	lower := strings.ToLower(text)
	for _, pattern := range dangerousTextPatterns {
		if strings.Contains(lower, pattern) {
			return core.ValidationErrorf("text content contains a disallowed pattern").
				WithSuggestion("remove script-like or event-handler substrings from the text")
		}
	}
	return nil
}

func (v *ContentSecurityValidator) validateBinary(block core.ContentBlock) error {
	if err := v.b64.ValidateBase64(block.Data); err != nil {
		return err
	}
	decoded, err := Decode(block.Data)
	if err != nil {
		return core.ValidationErrorf("failed to decode base64 payload: %v", err)
	}
	if err := v.b64.ValidateMimeConsistency(decoded, block.MimeType); err != nil {
		return err
	}
	return v.b64.DetectMaliciousPattern(decoded, block.Data)
}

func (v *ContentSecurityValidator) validateURI(uri string) error {
	if uri == "" {
		return core.ValidationErrorf("resource URI must not be empty")
	}
	if len(uri) > v.caps.MaxURILength {
		return core.ValidationErrorf("URI length %d exceeds maximum of %d", len(uri), v.caps.MaxURILength)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return core.ValidationErrorf("malformed URI %q: %v", uri, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if !v.caps.AllowedSchemes[scheme] {
		return core.ValidationErrorf("URI scheme %q is not allowed by the current security profile", scheme)
	}
	for _, re := range v.blocked {
		if re.MatchString(uri) {
			return core.PolicyErrorf("URI matches a blocked pattern")
		}
	}
	if v.caps.SSRFProtection {
		if err := checkSSRF(parsed); err != nil {
			return err
		}
	}
	return nil
}

func checkSSRF(u *url.URL) error {
	host := u.Hostname()
	if host == "" {
		return nil
	}
	if blockedHostnames[strings.ToLower(host)] {
		return core.PolicyErrorf("hostname %q is blocked by SSRF policy", host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil // non-literal hostnames are not resolved here; DNS rebinding defense is an operator-side concern
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return core.PolicyErrorf("IP address %q is not permitted by SSRF policy", ip.String())
	}
	if ip.IsUnspecified() {
		return core.PolicyErrorf("IP address %q is not permitted by SSRF policy", ip.String())
	}
	return nil
}

// EstimatedBlockSize returns a block's contribution to the per-request
// budget: text bytes, estimated decoded payload bytes, or URI bytes,
// depending on variant.
func EstimatedBlockSize(block core.ContentBlock) int64 {
	switch block.Type {
	case core.ContentTypeText:
		return int64(len(block.Text))
	case core.ContentTypeImage, core.ContentTypeAudio:
		return EstimatedDecodedSize(block.Data)
	case core.ContentTypeResourceLink, core.ContentTypeEmbeddedResource:
		return int64(len(block.URI))
	}
	return 0
}

// ValidateArrayLength enforces just the array-length cap, with none of
// ValidateContentBlocks' per-block or total-size work. Recovery-mode
// batch processing uses this on its own: a single bad block must not
// abort the whole batch, but the array-length cap is a hard ceiling
// regardless of mode.
func (v *ContentSecurityValidator) ValidateArrayLength(blocks []core.ContentBlock) error {
	if len(blocks) > v.caps.MaxContentArrayLength {
		return core.ValidationErrorf("content array length %d exceeds maximum of %d", len(blocks), v.caps.MaxContentArrayLength)
	}
	return nil
}

// MaxTotalContentSize exposes the bound caller packages need to replicate
// the total-size check when they can't route through ValidateContentBlocks
// wholesale (recovery-mode batches).
func (v *ContentSecurityValidator) MaxTotalContentSize() int64 { return v.caps.MaxTotalContentSize }

// ValidateContentBlocks validates the whole array: per-spec size caps
// plus a wall-clock processing budget wrapping per-block validation.
func (v *ContentSecurityValidator) ValidateContentBlocks(blocks []core.ContentBlock) error {
	if err := v.ValidateArrayLength(blocks); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		var total, requestTotal int64
		for _, block := range blocks {
			if err := v.ValidateContentBlock(block); err != nil {
				done <- err
				return
			}
			requestTotal += EstimatedBlockSize(block)
			if block.Type == core.ContentTypeImage || block.Type == core.ContentTypeAudio {
				total += EstimatedDecodedSize(block.Data)
			}
		}
		if total > v.caps.MaxTotalContentSize {
			done <- core.ValidationErrorf("total estimated content size %d exceeds maximum of %d", total, v.caps.MaxTotalContentSize).
				WithData("providedSize", total).WithData("maxSize", v.caps.MaxTotalContentSize)
			return
		}
		if v.caps.PerRequestBudget > 0 && requestTotal > v.caps.PerRequestBudget {
			done <- core.ValidationErrorf("request content size %d exceeds the per-request budget of %d", requestTotal, v.caps.PerRequestBudget).
				WithData("providedSize", requestTotal).WithData("maxSize", v.caps.PerRequestBudget)
			return
		}
		done <- nil
	}()

	timeout := v.caps.ProcessingTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return core.TimeoutErrorf("content processing exceeded the %s budget", timeout)
	}
}

// CapabilityGate enforces spec §4.2's capability gate over a content array.
func CapabilityGate(blocks []core.ContentBlock, caps core.PromptCapabilities) error {
	var violations []string
	for _, b := range blocks {
		switch b.Type {
		case core.ContentTypeImage:
			if !caps.Image {
				violations = append(violations, "image")
			}
		case core.ContentTypeAudio:
			if !caps.Audio {
				violations = append(violations, "audio")
			}
		case core.ContentTypeEmbeddedResource:
			if !caps.EmbeddedContext {
				violations = append(violations, "embedded_context")
			}
		}
	}
	if len(violations) == 0 {
		return nil
	}
	if len(violations) == 1 {
		return core.PolicyErrorf("capability %q was not declared by the client", violations[0]).
			WithData("requiredCapability", violations[0])
	}
	return core.PolicyErrorf("capabilities %s were not declared by the client", strings.Join(violations, ", ")).
		WithData("requiredCapabilities", violations)
}
