package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/ysprod/plancosmique-sub004/pkg/errors"
)

// BackendErrorResponse mirrors the error payload returned by the plancosmique
// backend API: a success flag plus a free-text message.
type BackendErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an appropriate AppError carrying the backend-provided message. If
// the body does not match the standard payload, a generic error with the raw
// status and body is returned.
//
// The caller should only invoke this when resp.StatusCode indicates an error
// (i.e., not 2xx). The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, operation string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", operation, resp.StatusCode, err)
	}

	var backend BackendErrorResponse
	if json.Unmarshal(bodyBytes, &backend) == nil {
		message := backend.Message
		if message == "" {
			message = backend.Error
		}
		if message != "" {
			return mapBackendError(resp.StatusCode, message, operation)
		}
	}

	// Fallback: unstructured error body.
	return fmt.Errorf("%s returned status %d: %s", operation, resp.StatusCode, string(bodyBytes))
}

// mapBackendError translates a backend HTTP status code and message into an
// AppError that preserves the error semantics.
func mapBackendError(status int, message, operation string) error {
	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(operation, message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(message)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(message)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(message)
	case status == http.StatusConflict:
		return apperrors.Conflict(message)
	case status == http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(message)
	case status >= 500:
		return fmt.Errorf("%s server error (%d): %s", operation, status, message)
	default:
		return &apperrors.AppError{
			Code:    "BACKEND_ERROR",
			Message: message,
			Status:  status,
		}
	}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
