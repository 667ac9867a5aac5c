package ongage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AuthenticationError means the platform rejected the credentials. It is
// fatal for a run and never retried.
type AuthenticationError struct {
	Status int
	Body   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("ongage: authentication failed (status %d)", e.Status)
}

// RateLimitedError means the platform throttled the request. The same page
// can be requested again after RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("ongage: rate limited, retry after %s", e.RetryAfter)
}

// UpstreamError covers transient platform failures: transport errors,
// timeouts, 5xx and any other unexpected status or payload.
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("ongage: upstream error (status %d): %v", e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("ongage: upstream error: %v", e.Err)
	default:
		return fmt.Sprintf("ongage: upstream error (status %d): %s", e.Status, e.Body)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth another attempt: rate limits and
// upstream failures are, authentication failures and cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var up *UpstreamError
	return errors.As(err, &up)
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

const maxErrorBody = 512

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(status int, header http.Header, body []byte, now time.Time) error {
	snippet := string(body)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthenticationError{Status: status, Body: snippet}
	case http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfter(header, now)}
	default:
		return &UpstreamError{Status: status, Body: snippet}
	}
}
