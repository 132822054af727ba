// Package apperror defines the error taxonomy shared by the ingestion functions.
// A timed-out poll is not represented here: it is an outcome,
// not a failure.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	Validation       Code = "VALIDATION"
	Upstream         Code = "UPSTREAM"
	CommitFailed     Code = "COMMIT_FAILED"
	Internal         Code = "INTERNAL"
	MethodNotAllowed Code = "METHOD_NOT_ALLOWED"
)

// Error is the typed error returned by services. Status and Details are only
// populated for upstream failures.
type Error struct {
	code    Code
	message string
	status  int
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Validationf rejects malformed input before any external call is made.
func Validationf(format string, args ...any) *Error {
	return &Error{code: Validation, message: fmt.Sprintf(format, args...)}
}

// NewUpstream reports a non-2xx or malformed response from the content service
// or the document store.
func NewUpstream(message string, status int, details any, cause error) *Error {
	return &Error{code: Upstream, message: message, status: status, details: details, cause: cause}
}

// NewCommit reports a rejected storage commit. No write of that commit was applied.
func NewCommit(message string, cause error) *Error {
	return &Error{code: CommitFailed, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error   { return e.cause }
func (e *Error) Code() Code      { return e.code }
func (e *Error) Message() string { return e.message }
func (e *Error) Details() any    { return e.details }

// UpstreamStatus is the HTTP status reported by the upstream service, or 0.
func (e *Error) UpstreamStatus() int { return e.status }

func (e *Error) HTTPStatus() int {
	switch e.code {
	case Validation:
		return http.StatusBadRequest
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case Upstream:
		if e.status >= 400 {
			return e.status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.code == code
}
