package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned when the request queue limit is reached.
	ErrQueueFull = errors.New("client: request queue is full")

	// ErrAcquireTimeout is returned when waiting for a request slot times out.
	ErrAcquireTimeout = errors.New("client: timeout waiting for available request slot")
)

// requestSemaphore limits the number of in-flight requests.
// It prevents "thundering herd" issues by queuing requests client-side.
type requestSemaphore struct {
	sem       chan struct{} // channel acting as semaphore tokens
	maxSize   int
	queueSize int32 // atomic
	maxQueue  int
	timeout   time.Duration
}

// newRequestSemaphore creates a new semaphore with the given limits.
// maxInFlight: Maximum number of concurrent requests.
// maxQueue: Maximum number of requests waiting for a slot (-1 = unbounded, 0 = no queue).
// timeout: How long Acquire waits.
func newRequestSemaphore(maxInFlight, maxQueue int, timeout time.Duration) *requestSemaphore {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &requestSemaphore{
		sem:      make(chan struct{}, maxInFlight),
		maxSize:  maxInFlight,
		maxQueue: maxQueue,
		timeout:  timeout,
	}
}

// Acquire blocks until a request slot is available or timeout/cancel.
func (rs *requestSemaphore) Acquire(ctx context.Context) error {
	// Try to acquire immediately without touching queue count, so an open
	// slot is never rejected because of MaxQueueSize=0.
	select {
	case rs.sem <- struct{}{}:
		return nil
	default:
	}

	qLen := atomic.AddInt32(&rs.queueSize, 1)
	defer atomic.AddInt32(&rs.queueSize, -1)

	// maxQueue < 0 means unbounded
	if rs.maxQueue >= 0 && int(qLen) > rs.maxQueue {
		return ErrQueueFull
	}

	timeout := rs.timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rs.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrAcquireTimeout
	}
}

// Release returns a request slot.
// It must only be called after a successful Acquire.
func (rs *requestSemaphore) Release() {
	select {
	case <-rs.sem:
	default:
	}
}

// Stats returns current utilization.
// active: Number of slots currently busy.
// queued: Number of requests waiting for a slot.
// max: Slot limit.
func (rs *requestSemaphore) Stats() (active, queued, max int) {
	return len(rs.sem), int(atomic.LoadInt32(&rs.queueSize)), rs.maxSize
}
