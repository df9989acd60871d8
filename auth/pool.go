package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrPoolSaturated is returned when the provider worker queue is full.
	ErrPoolSaturated = errors.New("auth: provider worker queue is full")

	// ErrPoolTimeout is returned when waiting for a provider worker times out.
	ErrPoolTimeout = errors.New("auth: timeout waiting for provider worker")
)

const (
	// DefaultProviderWorkers bounds concurrent blocking provider calls.
	DefaultProviderWorkers = 4

	// defaultPoolTimeout is used when no acquire timeout is configured.
	defaultPoolTimeout = 60 * time.Second
)

// workerPool bounds the number of concurrent blocking provider calls.
// It queues callers instead of spawning unbounded OS-thread-pinning calls.
type workerPool struct {
	sem       chan struct{} // channel acting as semaphore tokens
	maxSize   int
	queueSize int32 // atomic
	maxQueue  int
	timeout   time.Duration
}

// newWorkerPool creates a pool.
// workers: maximum concurrent provider calls.
// maxQueue: maximum callers waiting for a worker (-1 = unbounded, 0 = no queue).
// timeout: how long a caller waits for a worker.
func newWorkerPool(workers, maxQueue int, timeout time.Duration) *workerPool {
	if workers < 1 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = defaultPoolTimeout
	}
	return &workerPool{
		sem:      make(chan struct{}, workers),
		maxSize:  workers,
		maxQueue: maxQueue,
		timeout:  timeout,
	}
}

// acquire blocks until a worker slot is available or timeout/cancel.
func (p *workerPool) acquire(ctx context.Context) error {
	// Fast path: don't count against the queue when a slot is free.
	select {
	case p.sem <- struct{}{}:
		return nil
	default:
	}

	qLen := atomic.AddInt32(&p.queueSize, 1)
	defer atomic.AddInt32(&p.queueSize, -1)

	if p.maxQueue >= 0 && int(qLen) > p.maxQueue {
		return ErrPoolSaturated
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrPoolTimeout
	}
}

// release returns a worker slot. It must follow a successful acquire.
func (p *workerPool) release() {
	select {
	case <-p.sem:
	default:
	}
}

// Stats returns current pool utilization.
func (p *workerPool) Stats() (active, queued, max int) {
	return len(p.sem), int(atomic.LoadInt32(&p.queueSize)), p.maxSize
}

// run executes fn on a worker goroutine and waits for it or for ctx.
//
// If run returns a non-nil done channel together with an error, fn was
// started and is still running; done is closed when it returns. If done is
// nil, fn never started.
func (p *workerPool) run(ctx context.Context, fn func()) (done <-chan struct{}, err error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	ch := make(chan struct{})
	go func() {
		defer p.release()
		defer close(ch)
		fn()
	}()

	select {
	case <-ch:
		return ch, nil
	case <-ctx.Done():
		return ch, ctx.Err()
	}
}

// pooledProvider dispatches a SecurityProvider through a workerPool.
type pooledProvider struct {
	next    SecurityProvider
	pool    *workerPool
	metrics *Metrics
}

// Acquire implements SecurityProvider.
func (p *pooledProvider) Acquire(ctx context.Context, scheme Scheme, creds *Credentials) (SecurityContext, error) {
	var (
		sc  SecurityContext
		err error
	)
	start := time.Now()
	done, runErr := p.pool.run(ctx, func() {
		sc, err = p.next.Acquire(ctx, scheme, creds)
	})
	if runErr != nil {
		if done != nil {
			// Release whatever the abandoned call produces.
			go func() {
				<-done
				if err == nil && sc != nil {
					_ = sc.Close()
				}
			}()
		}
		return nil, runErr
	}
	p.metrics.RecordProviderCall(scheme, "acquire", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &pooledContext{next: sc, scheme: scheme, pool: p.pool, metrics: p.metrics}, nil
}

// pooledContext dispatches Step through the pool and defers Close until an
// abandoned Step has returned.
type pooledContext struct {
	next    SecurityContext
	scheme  Scheme
	pool    *workerPool
	metrics *Metrics

	mu       sync.Mutex
	inflight <-chan struct{}
	closed   bool
}

// Step implements SecurityContext.
func (c *pooledContext) Step(ctx context.Context, target string, input []byte) ([]byte, bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false, errors.New("auth: security context already released")
	}
	c.mu.Unlock()

	var (
		out  []byte
		cont bool
		err  error
	)
	start := time.Now()
	done, runErr := c.pool.run(ctx, func() {
		out, cont, err = c.next.Step(ctx, target, input)
	})
	if runErr != nil {
		c.mu.Lock()
		c.inflight = done
		c.mu.Unlock()
		return nil, false, runErr
	}
	c.metrics.RecordProviderCall(c.scheme, "step", time.Since(start), err)
	return out, cont, err
}

// Close implements SecurityContext.
func (c *pooledContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	inflight := c.inflight
	c.mu.Unlock()

	if inflight != nil {
		go func() {
			<-inflight
			_ = c.next.Close()
		}()
		return nil
	}
	return c.next.Close()
}
