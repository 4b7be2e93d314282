// Package apierr defines the domain-level error kinds of §7 and their
// mapping onto HTTP status codes. Handlers construct one of these instead
// of returning a bare error so the API boundary can translate it uniformly.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a domain error category.
type Kind string

const (
	NotFound          Kind = "not_found"
	AlreadyExists     Kind = "already_exists"
	PermissionDenied  Kind = "permission_denied"
	Unauthenticated   Kind = "unauthenticated"
	BadRequest        Kind = "bad_request"
	Conflict          Kind = "conflict"
	SandboxSpawnError Kind = "sandbox_spawn_error"
	UpstreamError     Kind = "upstream_error"
	Internal          Kind = "internal"
)

// Error wraps a Kind with a message and optional underlying cause.
type Error struct {
	Kind     Kind
	Message  string
	Category string // subcategory, e.g. SandboxSpawnError's fd_setup/bwrap_missing/io
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func WithCategory(kind Kind, category, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Category: category, Cause: cause}
}

// StatusCode maps a Kind onto the HTTP status of §7.
func StatusCode(kind Kind) int {
	switch kind {
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists, Conflict:
		return http.StatusConflict
	case PermissionDenied:
		return http.StatusForbidden
	case Unauthenticated:
		return http.StatusUnauthorized
	case BadRequest:
		return http.StatusBadRequest
	case SandboxSpawnError, Internal:
		return http.StatusInternalServerError
	case UpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err, if present anywhere in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusFor returns the HTTP status for an arbitrary error, defaulting to
// 500 when it does not carry a domain Kind.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return StatusCode(e.Kind)
	}
	return http.StatusInternalServerError
}
