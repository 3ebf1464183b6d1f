// Package services provides the ingest pipeline and execution operations behind the HTTP API.
package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client errors (4xx). They are never retried by the service.
var (
	ErrMissingIdentity  = errors.New("organization id and webhook id are required")
	ErrWebhookNotFound  = errors.New("webhook not found")
	ErrWebhookDisabled  = errors.New("webhook is disabled")
	ErrMalformedPayload = errors.New("request body is not valid JSON")
	ErrInvalidPayload   = errors.New("payload failed validation")
	ErrExecutionMissing = errors.New("execution not found")
	ErrEventMissing     = errors.New("event not found")
)

// Security errors (401/429). They are reported on the security logger.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// Durability errors (5xx). The request is aborted before any workflow is matched.
var (
	ErrStorageUnavailable = errors.New("event could not be stored")
)

// ErrNotCancellable is returned when cancelling an execution that already finished.
var ErrNotCancellable = errors.New("execution already finished")

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newError(op, code string, err error, message string) *ServiceError {
	return &ServiceError{Op: op, Code: code, Message: message, Err: err}
}

// RateLimitError carries the time a caller has to wait for the next window.
type RateLimitError struct {
	TenantID   string
	Resource   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ValidationError lists every payload problem found.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPayload, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPayload
}

// IsValidationError checks if an error should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingIdentity) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrInvalidPayload)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWebhookNotFound) ||
		errors.Is(err, ErrExecutionMissing) ||
		errors.Is(err, ErrEventMissing)
}

func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrWebhookDisabled)
}

func IsUnauthorizedError(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}

func IsConflictError(err error) bool {
	return errors.Is(err, ErrNotCancellable)
}

// AsRateLimitError extracts the rate limit details from err.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return limited, true
	}

	return nil, false
}

// AsValidationError extracts the payload problems from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var invalid *ValidationError
	if errors.As(err, &invalid) {
		return invalid, true
	}

	return nil, false
}
