package core

import (
	"fmt"
)

// ErrorKind is the error taxonomy of spec §7 — kinds, not Go type names.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindPolicy     ErrorKind = "policy"
	KindResource   ErrorKind = "resource"
	KindUpstream   ErrorKind = "upstream"
	KindTimeout    ErrorKind = "timeout"
	KindInternal   ErrorKind = "internal"
)

// Error is the structured error every validator, security-layer check,
// and subsystem boundary returns. It never panics its way out; callers
// map it to a JSON-RPC error via protocol/errors.go.
type Error struct {
	Kind          ErrorKind
	Message       string
	Suggestion    string
	CorrelationID string
	Stage         string
	Data          map[string]any
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithData returns a copy of e with the given key/value merged into Data.
func (e *Error) WithData(key string, value any) *Error {
	cp := *e
	cp.Data = make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		cp.Data[k] = v
	}
	cp.Data[key] = value
	return &cp
}

// WithSuggestion returns a copy of e with Suggestion set.
func (e *Error) WithSuggestion(s string) *Error {
	cp := *e
	cp.Suggestion = s
	return &cp
}

// WithCorrelationID returns a copy of e with CorrelationID set.
func (e *Error) WithCorrelationID(id string) *Error {
	cp := *e
	cp.CorrelationID = id
	return &cp
}

func newErr(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ValidationErrorf builds a KindValidation error.
func ValidationErrorf(format string, args ...any) *Error { return newErr(KindValidation, format, args...) }

// PolicyErrorf builds a KindPolicy error.
func PolicyErrorf(format string, args ...any) *Error { return newErr(KindPolicy, format, args...) }

// ResourceErrorf builds a KindResource error.
func ResourceErrorf(format string, args ...any) *Error { return newErr(KindResource, format, args...) }

// UpstreamErrorf builds a KindUpstream error.
func UpstreamErrorf(format string, args ...any) *Error { return newErr(KindUpstream, format, args...) }

// TimeoutErrorf builds a KindTimeout error.
func TimeoutErrorf(format string, args ...any) *Error { return newErr(KindTimeout, format, args...) }

// InternalErrorf builds a KindInternal error.
func InternalErrorf(format string, args ...any) *Error { return newErr(KindInternal, format, args...) }

// AsCoreError unwraps err into *Error if possible.
func AsCoreError(err error) (*Error, bool) {
	ce, ok := err.(*Error)
	return ce, ok
}
