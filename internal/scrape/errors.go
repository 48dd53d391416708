package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors forming the taxonomy shared across subsystems. Per-URL
// errors are caught at the worker boundary; only job-level errors
// propagate.
var (
	// ErrBlocked marks an access-denied/anti-automation response. Not
	// retryable with the same strategy; escalate to manual review.
	ErrBlocked = errors.New("access denied by anti-automation defenses")

	// ErrNoSignal means every strategy ran without yielding a phone
	// number.
	ErrNoSignal = errors.New("no usable contact signal found")

	// ErrResourceExhausted is returned by governor admission before any
	// work starts.
	ErrResourceExhausted = errors.New("resource limits exceeded")

	// ErrJobTimeout marks a governor-forced termination. Partial output
	// already persisted is retained.
	ErrJobTimeout = errors.New("job exceeded wall-clock ceiling")
)

// BlockedHTTPStatus reports whether an HTTP status code indicates the
// target is actively refusing automated access.
func BlockedHTTPStatus(code int) bool {
	return code == 403 || code == 429
}

// IsNetworkError classifies unreachable/timeout failures, which are
// retryable at a higher layer but never retried inside the ladder.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// fetchError annotates a strategy failure with the rung that produced it.
func fetchError(strategy FetchStrategy, url string, err error) error {
	return fmt.Errorf("%s fetch %s: %w", strategy, url, err)
}
