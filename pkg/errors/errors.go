package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
)

// Payment-flow sentinel errors. Every remote-call failure in the fulfillment
// pipeline is translated into exactly one of these before it reaches the
// session state machine; raw transport errors and HTTP status codes never
// leak to the presentation layer.
var (
	// ErrVerification marks a gateway or network failure while verifying a
	// payment token. Terminal until the user explicitly retries.
	ErrVerification = errors.New("payment verification failed")

	// ErrFulfillment marks a backend rejection of fulfillment for a reason
	// other than replay. The server message must be surfaced verbatim.
	ErrFulfillment = errors.New("fulfillment failed")

	// ErrAlreadyUsed signals a replay of an already-processed payment token.
	// This is an informational terminal state, not a failure.
	ErrAlreadyUsed = errors.New("payment token already used")

	// ErrJobFailed marks an analysis-generation failure after payment
	// succeeded. Distinct from any payment failure.
	ErrJobFailed = errors.New("analysis job failed")
)

// AppError represents a structured application error with HTTP status mapping.
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

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrServiceUnavail,
	}
}

// VerificationFailed creates a 422 error for a payment verification failure.
// The message is the server-provided cause whenever one exists.
func VerificationFailed(message string) *AppError {
	return &AppError{
		Code:    "VERIFICATION_FAILED",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrVerification,
	}
}

// FulfillmentFailed creates a 422 error for a backend fulfillment rejection.
func FulfillmentFailed(message string) *AppError {
	return &AppError{
		Code:    "FULFILLMENT_FAILED",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrFulfillment,
	}
}

// AlreadyUsed creates a 409 replay signal for an already-processed token.
func AlreadyUsed(message string) *AppError {
	return &AppError{
		Code:    "ALREADY_USED",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrAlreadyUsed,
	}
}

// JobFailed creates a 502 error for an analysis-generation failure.
func JobFailed(message string) *AppError {
	return &AppError{
		Code:    "JOB_FAILED",
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     ErrJobFailed,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// Message returns the user-facing message for an error: the AppError message
// when the error carries one, otherwise the given fallback. Raw error strings
// are never returned since they may expose transport internals.
func Message(err error, fallback string) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fallback
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrVerification), errors.Is(err, ErrFulfillment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrJobFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
