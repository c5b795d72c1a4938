// Package apperrors defines the HTTP error taxonomy shared by handlers and
// the error boundary middleware.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StatusCoder is implemented by errors that carry their own HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// ValidationError reports a malformed or incomplete request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// StatusCode implements StatusCoder.
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// StatusCode implements StatusCoder.
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

// ConflictError reports a write that collides with existing state.
type ConflictError struct {
	Message string
	Err     error
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return e.Err }

// StatusCode implements StatusCoder.
func (e *ConflictError) StatusCode() int { return http.StatusConflict }

// PayloadTooLargeError reports a request body above the configured limit.
type PayloadTooLargeError struct {
	Limit int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

// StatusCode implements StatusCoder.
func (e *PayloadTooLargeError) StatusCode() int { return http.StatusRequestEntityTooLarge }

// InternalError wraps an unexpected failure.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("internal error: %v", e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// StatusCode implements StatusCoder.
func (e *InternalError) StatusCode() int { return http.StatusInternalServerError }

// StatusCode returns the HTTP status for err. Errors that do not carry a
// status, or carry one outside 400-599, map to 500.
func StatusCode(err error) int {
	var coder StatusCoder
	if errors.As(err, &coder) {
		if code := coder.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
	}
	return http.StatusInternalServerError
}

// Response is the JSON body of every error answered by the error boundary.
type Response struct {
	Error         string    `json:"error"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"requestId"`
	CorrelationID string    `json:"correlationId"`
}

// BadRequestBody is the body of a 400 answered directly by a handler or
// the request validator.
type BadRequestBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MalformedJSONMessage is returned when a request body is not valid JSON.
const MalformedJSONMessage = "Malformed JSON body"

// MalformedFormMessage is returned when a URL-encoded body cannot be parsed.
const MalformedFormMessage = "Malformed form body"

// BadRequest builds a 400 body with the given message.
func BadRequest(message string) BadRequestBody {
	return BadRequestBody{Error: http.StatusText(http.StatusBadRequest), Message: message}
}

// RedactedMessage replaces error details outside development.
const RedactedMessage = "Something went wrong"

// NewResponse builds the error body for err. Client error messages are always
// returned; server error messages only when expose is set.
func NewResponse(err error, correlationID string, expose bool) Response {
	status := StatusCode(err)

	message := RedactedMessage
	if err != nil && (expose || status < http.StatusInternalServerError) {
		message = err.Error()
	}

	title := "Internal server error"
	if status < http.StatusInternalServerError {
		title = http.StatusText(status)
	}

	if correlationID == "" {
		correlationID = "unknown"
	}

	return Response{
		Error:         title,
		Message:       message,
		Timestamp:     time.Now().UTC(),
		RequestID:     correlationID,
		CorrelationID: correlationID,
	}
}
