package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/smnsjas/go-negotiate/auth"
)

// leaseCounter tracks outstanding leases.
type leaseCounter struct {
	active int64 // atomic
	total  int64 // atomic
}

// Lease returns a RoundTripper that uses a single dedicated connection until
// released. It implements auth.ConnectionLeaser.
func (t *HTTPTransport) Lease(ctx context.Context) (auth.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tr := t.transport.Clone()
	tr.MaxConnsPerHost = 1
	tr.MaxIdleConnsPerHost = 1
	tr.DisableKeepAlives = false

	atomic.AddInt64(&t.leases.active, 1)
	atomic.AddInt64(&t.leases.total, 1)
	return &connLease{transport: tr, counter: t.leases}, nil
}

// LeaseStats returns the number of outstanding and total leases.
func (t *HTTPTransport) LeaseStats() (active, total int64) {
	return atomic.LoadInt64(&t.leases.active), atomic.LoadInt64(&t.leases.total)
}

// connLease is a single-connection transport.
type connLease struct {
	transport *http.Transport
	counter   *leaseCounter
	once      sync.Once
}

// RoundTrip implements http.RoundTripper.
func (l *connLease) RoundTrip(req *http.Request) (*http.Response, error) {
	return l.transport.RoundTrip(req)
}

// Release closes the pinned connection once it is idle.
func (l *connLease) Release() {
	l.once.Do(func() {
		l.transport.CloseIdleConnections()
		atomic.AddInt64(&l.counter.active, -1)
	})
}
