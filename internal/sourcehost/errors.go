package sourcehost

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gogithub "github.com/google/go-github/v68/github"

	"github.com/sakif/repo-analyser/internal/apperror"
)

// mapError converts go-github and transport errors into apperror kinds.
// Context cancellation and deadlines pass through unchanged so callers can
// tell their own timeout from an upstream failure.
func mapError(op string, resp *gogithub.Response, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("sourcehost: %s: %w", op, err)
	}

	var rateErr *gogithub.RateLimitError
	if errors.As(err, &rateErr) {
		return apperror.RateLimited(fmt.Sprintf("%s: rate limit exhausted until %s", op, rateErr.Rate.Reset.Time.UTC().Format("15:04:05")))
	}
	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return apperror.RateLimited(op + ": secondary rate limit")
	}

	var apiErr *gogithub.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		resp = &gogithub.Response{Response: apiErr.Response}
	}
	if resp != nil && resp.Response != nil {
		switch status := resp.StatusCode; {
		case status == http.StatusNotFound:
			return apperror.NotFound("source-host resource", op)
		case status == http.StatusTooManyRequests,
			status == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
			return apperror.RateLimited(op)
		case status == http.StatusUnauthorized, status == http.StatusForbidden:
			return apperror.Unauthorized(fmt.Sprintf("%s: source host returned %d", op, status))
		case status >= 500:
			return apperror.Network(fmt.Sprintf("%s: source host returned %d", op, status))
		}
	}
	if apiErr != nil {
		return apperror.Upstream(fmt.Sprintf("%s: %s", op, apiErr.Message))
	}
	return apperror.Network(fmt.Sprintf("%s: %v", op, err))
}
