package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// TransientError wraps an error that is safe to retry (429, 5xx, network
// timeout). RetryAfter carries a provider-requested delay when the response
// included one; zero means the caller's backoff schedule applies.
type TransientError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP
// status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// NewRateLimitedError wraps a 429 carrying the provider's Retry-After hint.
func NewRateLimitedError(err error, retryAfter time.Duration) *TransientError {
	return &TransientError{Err: err, StatusCode: 429, RetryAfter: retryAfter}
}

// RetryAfterHint returns the provider-requested delay from the error chain,
// if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var te *TransientError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter, true
	}
	return 0, false
}

// IsTransient reports whether the error (or anything in its chain) is a
// TransientError or matches common transient network failure patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for errors wrapped by HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether the status code indicates a
// transient server-side issue.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
