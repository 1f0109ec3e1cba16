package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrNotFound is returned when the repository, issue or fork does not exist
// or is not visible to the token.
var ErrNotFound = errors.New("github: not found")

// APIError is a non-2xx answer from the GitHub API
type APIError struct {
	StatusCode  int
	Message     string
	RateLimited bool
	RetryAfter  time.Time // zero unless the response carried a reset hint
}

func (e *APIError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("github api status=%d rate limited until %s", e.StatusCode, e.RetryAfter.Format(time.RFC3339))
	}
	return fmt.Sprintf("github api status=%d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && (e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone)
}

// IsTransient reports whether err is worth retrying on a later cycle:
// network failures, timeouts, rate limits and 5xx.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RateLimited || apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Unclassified transport errors (connection reset, EOF) are treated as transient.
	return !errors.Is(err, context.Canceled) && !IsPermanent(err)
}

// IsPermanent reports whether err indicates the resource is inaccessible:
// 401, 403 (not rate limited), 404, 410.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.RateLimited {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}
