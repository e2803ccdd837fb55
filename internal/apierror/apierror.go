// Package apierror is the typed application error used across the HTTP
// companion and, internally, the session protocol's error reporting,
// grounded on the teacher's internal/errors package.
package apierror

import (
	"errors"
	"net/http"
)

// AppError is an application-level error carrying the HTTP status it
// should surface as, a user-facing message, and the wrapped cause.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMessage returns a copy of e with a different user-facing message.
func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{Code: e.Code, Message: msg, Err: e.Err}
}

// New constructs an AppError with an explicit status code.
func New(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Common error constructors, named after the HTTP status they surface.
var (
	ErrInvalidInput        = func(err error) *AppError { return New(http.StatusBadRequest, "Invalid input", err) }
	ErrUnauthorized         = func(err error) *AppError { return New(http.StatusUnauthorized, "Unauthorized", err) }
	ErrNotFound             = func(err error) *AppError { return New(http.StatusNotFound, "Resource not found", err) }
	ErrConflict             = func(err error) *AppError { return New(http.StatusConflict, "Conflict", err) }
	ErrUnprocessableEntity  = func(err error) *AppError { return New(http.StatusUnprocessableEntity, "Unprocessable entity", err) }
	ErrInternalServer       = func(err error) *AppError { return New(http.StatusInternalServerError, "Internal server error", err) }
)

// As reports whether err is (or wraps) an *AppError, returning it.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
