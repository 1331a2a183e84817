package harvest

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// networkErrorFragments is the fixed string-match classifier for
// transport-class failures worth retrying.
var networkErrorFragments = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"tls handshake",
	"unexpected eof",
	"eof",
	"temporary failure",
}

// IsNetworkError reports whether err looks like a transient transport failure.
// Context cancellation is never treated as retryable.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range networkErrorFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// RetryPolicy bounds transport-error retries with exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy matches the engine contract: up to 3 retries, 1s base,
// doubling each attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
}

// Backoff returns the wait before retry attempt n (0-based): base, 2*base, 4*base...
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
