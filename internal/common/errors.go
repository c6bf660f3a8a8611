package common

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrUnavailable  = errors.New("service unavailable")

	// ErrMalformedSource marks a document that cannot be opened, rastered or OCR'd.
	ErrMalformedSource = errors.New("malformed source")
	// ErrRemoteUnavailable marks a browser session, navigation or element-wait failure.
	ErrRemoteUnavailable = errors.New("remote unavailable")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// MalformedSource wraps err so that errors.Is(err, ErrMalformedSource) holds.
func MalformedSource(message string, err error) error {
	return NewAppError("MALFORMED_SOURCE", message, wrapSentinel(ErrMalformedSource, err))
}

// RemoteUnavailable wraps err so that errors.Is(err, ErrRemoteUnavailable) holds.
func RemoteUnavailable(message string, err error) error {
	return NewAppError("REMOTE_UNAVAILABLE", message, wrapSentinel(ErrRemoteUnavailable, err))
}

// wrapSentinel keeps both sentinel and err reachable through errors.Is on a
// single line.
func wrapSentinel(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// HTTPStatus maps an error onto the closest HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
