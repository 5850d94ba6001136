package handler

// Every error response has the same shape:
//
//	{"error": "not_found", "details": "repository not found with id abc"}
//
// error is the short kind from apperror.Kind. details is only present for
// kinds whose message is safe and useful to show; everything else is logged.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/auth"
)

// maxJSONBody bounds request bodies decoded by decodeJSON.
const maxJSONBody = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MessageResponse is the body of endpoints that only acknowledge.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrInsufficientContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperror.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperror.ErrUpstream),
		errors.Is(err, apperror.ErrRateLimited),
		errors.Is(err, apperror.ErrQuotaExceeded),
		errors.Is(err, apperror.ErrSchemaViolation),
		errors.Is(err, apperror.ErrMalformedResponse),
		errors.Is(err, apperror.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// detailKinds are the kinds whose message is returned to the client.
var detailKinds = map[string]bool{
	"not_found":            true,
	"forbidden":            true,
	"insufficient_content": true,
	"validation_error":     true,
}

// writeError maps err to a status and the standard error body. Server-side
// failures are logged with the full error, which never reaches the client.
//
// ERROR MAPPING:
// Services return apperror kinds and never think about HTTP. This is the one
// place where a kind becomes a status code:
//
//	validation_error     → 400    insufficient_content → 422
//	unauthorized         → 401    upstream, rate_limited, quota_exceeded,
//	forbidden            → 403    schema_violation, malformed_response → 502
//	not_found            → 404    timeout              → 504
//
// Anything unclassified is a 500 and is reported as "internal_error", so a
// store or driver message can never leak into a response body.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	writeErrorBody(w, r, logger, err, true)
}

// writeBareError is writeError without details. Endpoints called by machines
// (the webhook receiver) answer with the status and kind only.
func writeBareError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	writeErrorBody(w, r, logger, err, false)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, details bool) {
	status := statusFor(err)
	kind := apperror.Kind(err)
	if status == http.StatusInternalServerError {
		kind = "internal_error"
	}

	resp := ErrorResponse{Error: kind}
	var appErr *apperror.AppError
	if details && detailKinds[kind] && errors.As(err, &appErr) {
		resp.Details = appErr.Message
	}

	if status >= 500 {
		logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperror.ValidationFailed("body", fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit))
		}
		return apperror.ValidationFailed("body", "request body is not valid JSON")
	}
}

// callerFrom returns the caller placed on the context by auth.RequireAuth.
func callerFrom(r *http.Request) (auth.CallerContext, error) {
	c, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return auth.CallerContext{}, apperror.Unauthorized("not signed in")
	}
	return c, nil
}
