package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveSecurityCaps_StrictIsMostRestrictive(t *testing.T) {
	strict := ResolveSecurityCaps(SecurityProfileStrict)
	moderate := ResolveSecurityCaps(SecurityProfileModerate)
	permissive := ResolveSecurityCaps(SecurityProfilePermissive)

	assert.Less(t, strict.MaxBase64Size, moderate.MaxBase64Size)
	assert.Less(t, moderate.MaxBase64Size, permissive.MaxBase64Size)

	assert.True(t, strict.SSRFProtection)
	assert.True(t, strict.Sanitization)
	assert.False(t, permissive.SSRFProtection)
	assert.False(t, permissive.Sanitization)

	assert.Equal(t, map[string]bool{"https": true}, strict.AllowedSchemes)
	assert.True(t, moderate.AllowedSchemes["http"])
	assert.True(t, permissive.AllowedSchemes["data"])
}

func TestResolveSecurityCaps_UnknownProfileFallsBackToModerate(t *testing.T) {
	got := ResolveSecurityCaps(SecurityProfile("nonsense"))
	want := ResolveSecurityCaps(SecurityProfileModerate)
	assert.Equal(t, want, got)
}
