// Package apierr defines spec.md §7's error kinds as a typed value
// carrying an HTTP status, so handlers translate internal errors to
// responses uniformly instead of string-matching. Grounded on the
// teacher's pkg/serve/httpserver error rendering (renderError/
// renderFailure in management.go), generalised from a fixed "not
// found/forbidden" pair to the engine's full error-kind taxonomy.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of spec.md §7's error kinds.
type Kind string

const (
	KindNotFound               Kind = "NotFound"
	KindPathNotFound           Kind = "PathNotFound"
	KindAlreadyExists          Kind = "AlreadyExists"
	KindInvalidTransition      Kind = "InvalidTransition"
	KindInvalidInput           Kind = "InvalidInput"
	KindStorageError           Kind = "StorageError"
	KindWorkflowExecutionError Kind = "WorkflowExecutionError"
	KindPullRequestNotMergeable Kind = "PullRequestNotMergeable"
	KindDependencyUnavailable  Kind = "DependencyUnavailable"
)

// Error is the typed error value handlers construct or map lower-layer
// errors onto.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of kind with message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of kind wrapping err, formatting message with args
// the way fmt.Errorf does.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// As extracts an *Error from err, if any layer in its chain is one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to spec.md §7's "4xx for client faults, 5xx for
// storage/database faults" propagation policy.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound, KindPathNotFound:
		return http.StatusNotFound
	case KindAlreadyExists, KindInvalidTransition, KindPullRequestNotMergeable:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindStorageError, KindWorkflowExecutionError:
		return http.StatusInternalServerError
	case KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
