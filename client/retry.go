package client

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/smnsjas/go-negotiate/auth"
)

// isRetryableError determines if a transport error should trigger a retry.
//
// Retryable errors are transient network/transport issues. Authentication
// failures are never retried here; the negotiation already walked every
// usable scheme.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Non-retryable: negotiation outcome
	if auth.IsAuthError(err) {
		return false
	}

	// Non-retryable: client gating
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrQueueFull) || errors.Is(err, ErrAcquireTimeout) {
		return false
	}

	// Non-retryable: User cancelled
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Retryable: Network timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Retryable: Connection closed/reset
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Fallback: String matching for stdlib network errors
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no route to host") ||
		strings.Contains(errStr, "broken pipe")
}

// canRetryRequest reports whether req can be sent again.
func canRetryRequest(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// rewindRequest returns a copy of req with a fresh body.
func rewindRequest(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

// calculateRetryBackoff computes exponential backoff with cap and jitter.
func calculateRetryBackoff(attempt int, policy *RetryPolicy) time.Duration {
	if policy == nil {
		return time.Second
	}

	delay := policy.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	if attempt <= 1 {
		return applyJitter(delay, policy.Jitter)
	}

	// Calculate exponential backoff: delay * (multiplier ^ (attempt - 1))
	multiplier := policy.Multiplier
	if multiplier < 1.0 {
		multiplier = 2.0
	}

	// Use float64 for calculation to avoid overflow before capping
	backoffFloat := float64(delay) * math.Pow(multiplier, float64(attempt-1))

	// Check for overflow or exceeding max duration
	if backoffFloat > float64(policy.MaxDelay) || backoffFloat > float64(math.MaxInt64) {
		backoff := policy.MaxDelay
		if backoff <= 0 {
			backoff = 5 * time.Second
		}
		return applyJitter(backoff, policy.Jitter)
	}

	return applyJitter(time.Duration(backoffFloat), policy.Jitter)
}

// applyJitter randomizes d by up to ±jitter. Jitter outside (0, 1] is ignored.
func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || jitter > 1.0 {
		return d
	}
	delta := float64(d) * jitter
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
