package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindConstructors(t *testing.T) {
	cases := []struct {
		err  *Error
		kind ErrorKind
	}{
		{ValidationErrorf("bad input"), KindValidation},
		{PolicyErrorf("denied"), KindPolicy},
		{ResourceErrorf("missing"), KindResource},
		{UpstreamErrorf("child died"), KindUpstream},
		{TimeoutErrorf("too slow"), KindTimeout},
		{InternalErrorf("oops"), KindInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, c.err.Kind)
	}
}

func TestError_WithDataIsImmutable(t *testing.T) {
	base := ValidationErrorf("bad")
	withA := base.WithData("a", 1)
	withB := withA.WithData("b", 2)

	assert.Empty(t, base.Data)
	assert.Equal(t, map[string]any{"a": 1}, withA.Data)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, withB.Data)
}

func TestError_WithSuggestionAndCorrelationID(t *testing.T) {
	base := ValidationErrorf("bad")
	withSuggestion := base.WithSuggestion("try again")
	withID := withSuggestion.WithCorrelationID("corr-1")

	assert.Empty(t, base.Suggestion)
	assert.Equal(t, "try again", withSuggestion.Suggestion)
	assert.Equal(t, "corr-1", withID.CorrelationID)
	assert.Equal(t, "try again", withID.Suggestion)
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := &Error{Kind: KindInternal, Message: "wrapped", Cause: cause}
	assert.ErrorIs(t, e, cause)
}

func TestAsCoreError(t *testing.T) {
	ce, ok := AsCoreError(ValidationErrorf("x"))
	require.True(t, ok)
	assert.Equal(t, KindValidation, ce.Kind)

	_, ok = AsCoreError(errors.New("plain"))
	assert.False(t, ok)
}

func TestError_ErrorStringIncludesKindAndCause(t *testing.T) {
	e := UpstreamErrorf("child exited")
	assert.Contains(t, e.Error(), "upstream")
	assert.Contains(t, e.Error(), "child exited")

	wrapped := &Error{Kind: KindInternal, Message: "wrapped", Cause: errors.New("root")}
	assert.Contains(t, wrapped.Error(), "root")
}
