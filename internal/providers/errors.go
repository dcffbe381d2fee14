package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrParse is returned when a structured response cannot be decoded.
var ErrParse = errors.New("parse error")

// RateLimitError signals that the provider throttled the request. It is the
// only retryable failure.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d, retry after %s): %s", e.StatusCode, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("rate limited (status %d): %s", e.StatusCode, e.Message)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a throttling failure from any provider.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// looksRateLimited matches provider error strings for SDKs that do not expose
// a typed status (e.g. "429 RESOURCE_EXHAUSTED").
func looksRateLimited(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "429") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "rate_limit_exceeded") ||
		strings.Contains(lower, "rate limit")
}

// parseRetryAfter reads a Retry-After header value in seconds or HTTP-date form.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
