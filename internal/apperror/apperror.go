// Package apperror defines the error kinds shared by every layer of the service.
//
// Each kind is a sentinel error. Layers return an *AppError wrapping one of the
// sentinels, and wrap further with fmt.Errorf("...: %w", err) as the error travels
// up. The HTTP layer recovers the kind with errors.Is and the safe message with
// errors.As, so services never need to know about status codes.
package apperror

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientContent = errors.New("insufficient content")
	ErrUpstream            = errors.New("upstream unavailable")
	ErrRateLimited         = errors.New("rate limited")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrTimeout             = errors.New("timeout")
	ErrSchemaViolation     = errors.New("schema violation")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrTooLarge            = errors.New("too large")
	ErrDecode              = errors.New("decode error")
	ErrNetwork             = errors.New("network error")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{Err: ErrUnauthorized, Message: message}
}

func InsufficientContent(message string) *AppError {
	return &AppError{Err: ErrInsufficientContent, Message: message}
}

// Upstream marks a failure of the source host or the model provider that the
// caller may retry later.
func Upstream(message string) *AppError {
	return &AppError{Err: ErrUpstream, Message: message}
}

func RateLimited(message string) *AppError {
	return &AppError{Err: ErrRateLimited, Message: message}
}

func QuotaExceeded(message string) *AppError {
	return &AppError{Err: ErrQuotaExceeded, Message: message}
}

func Timeout(message string) *AppError {
	return &AppError{Err: ErrTimeout, Message: message}
}

func SchemaViolation(field, message string) *AppError {
	return &AppError{Err: ErrSchemaViolation, Message: message, Field: field}
}

func MalformedResponse(message string) *AppError {
	return &AppError{Err: ErrMalformedResponse, Message: message}
}

func TooLarge(resource string, size, limit int) *AppError {
	return &AppError{
		Err:     ErrTooLarge,
		Message: fmt.Sprintf("%s is %d bytes, limit is %d", resource, size, limit),
	}
}

func Decode(resource, message string) *AppError {
	return &AppError{
		Err:     ErrDecode,
		Message: fmt.Sprintf("%s: %s", resource, message),
	}
}

func Network(message string) *AppError {
	return &AppError{Err: ErrNetwork, Message: message}
}

// kinds is ordered: the first sentinel found in the chain wins.
var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrForbidden, "forbidden"},
	{ErrNotFound, "not_found"},
	{ErrValidation, "validation_error"},
	{ErrConflict, "conflict"},
	{ErrInsufficientContent, "insufficient_content"},
	{ErrSchemaViolation, "schema_violation"},
	{ErrMalformedResponse, "malformed_response"},
	{ErrTimeout, "timeout"},
	{ErrRateLimited, "rate_limited"},
	{ErrQuotaExceeded, "quota_exceeded"},
	{ErrTooLarge, "too_large"},
	{ErrDecode, "decode_error"},
	{ErrNetwork, "network_error"},
	{ErrUpstream, "upstream_error"},
}

// Kind returns the short, client-safe name of the error kind found in err's
// chain, or "internal_error" when none matches. A bare context deadline counts
// as a timeout.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "internal_error"
}
