package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors matched with errors.Is.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrMisconfigured  = errors.New("misconfigured")
)

// Kind is the HTTP classification of a sentinel error.
type Kind struct {
	Sentinel error
	Status   int
	Code     string
	// Public reports whether the wrapped error text may be shown to clients.
	Public bool
}

var kinds = []Kind{
	{ErrNotFound, http.StatusNotFound, "NOT_FOUND", false},
	{ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT", true},
	{ErrConflict, http.StatusConflict, "CONFLICT", true},
	{ErrServiceUnavail, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", false},
	{ErrMisconfigured, http.StatusInternalServerError, "CONFIGURATION_ERROR", false},
}

// internalKind classifies errors that match no sentinel.
var internalKind = Kind{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR"}

// Classify returns the kind of the first sentinel err wraps.
func Classify(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.Sentinel) {
			return k
		}
	}
	return internalKind
}

// AppError is an error with a client-facing code, message and status.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(sentinel error, message string) *AppError {
	k := Classify(sentinel)
	return &AppError{Code: k.Code, Message: message, Status: k.Status, Err: sentinel}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return newAppError(ErrNotFound, fmt.Sprintf("%s with id %s not found", resource, id))
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return newAppError(ErrInvalidInput, message)
}

// Conflict creates a 409 error for an operation that clashes with one in
// progress.
func Conflict(message string) *AppError {
	return newAppError(ErrConflict, message)
}

// Unavailable creates a 503 error for a dependency that cannot serve yet.
func Unavailable(message string) *AppError {
	return newAppError(ErrServiceUnavail, message)
}

// Misconfigured creates a 500 error for invalid operator configuration.
// The cause is kept so callers can still match it with errors.Is.
func Misconfigured(err error) *AppError {
	e := newAppError(ErrMisconfigured, err.Error())
	e.Err = fmt.Errorf("%w: %w", ErrMisconfigured, err)
	return e
}

// HTTPStatus returns the HTTP status code for err.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return Classify(err).Status
}
