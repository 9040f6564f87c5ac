// Package apperr defines the domain error taxonomy shared by the registry
// services and repositories. Backend errors are mapped into these types at
// the call site that produced them; everything else propagates unmodified.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. Handlers map kinds to HTTP statuses.
type Kind int

const (
	KindBadRequest Kind = iota
	KindForbidden
	KindNotFound
	KindConflict
	KindTooLarge
)

// Error is a domain error with a classification kind.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

// Is lets errors.Is match any two domain errors of the same kind, so that
// sentinel-style checks like errors.Is(err, apperr.Conflict("")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.kind == t.kind
	}
	return false
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// BadRequest reports a structurally invalid request: malformed filter or sort,
// invalid patch, unknown field.
func BadRequest(format string, args ...any) *Error {
	return newError(KindBadRequest, format, args...)
}

// InvalidVersion reports a malformed semantic version string. It is a
// sub-kind of BadRequest.
func InvalidVersion(version string) *Error {
	return newError(KindBadRequest, "invalid semantic version %q", version)
}

// InvalidFilter reports a malformed filter expression. It is a sub-kind of
// BadRequest.
func InvalidFilter(format string, args ...any) *Error {
	return newError(KindBadRequest, format, args...)
}

// Forbidden reports an authorization denial, an illegal lifecycle transition,
// or an exceeded artifact-count quota.
func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

// NotFound reports an absent artifact, blob, lock or type.
func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// ArtifactNotFound reports that the requested artifact does not exist or is
// not visible to the caller.
func ArtifactNotFound(id string) *Error {
	return newError(KindNotFound, "artifact with id=%s not found", id)
}

// TypeNotFound reports an unregistered artifact type.
func TypeNotFound(typeName string) *Error {
	return newError(KindNotFound, "artifact type %s does not exist", typeName)
}

// Conflict reports a lock already held by another request, or a scope
// collision such as a duplicate (name, version) pair.
func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

// TooLarge reports an upload that exceeds a quota or a declared blob size
// limit.
func TooLarge(format string, args ...any) *Error {
	return newError(KindTooLarge, format, args...)
}

// Wrap attaches an underlying cause to a domain error.
func Wrap(e *Error, err error) *Error {
	return &Error{kind: e.kind, msg: e.msg, err: err}
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == kind
}
