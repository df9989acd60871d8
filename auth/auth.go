package auth

import (
	"context"
	"io"
	"net/http"
	"sync"
)

// Authenticator defines the interface for authentication handlers.
type Authenticator interface {
	// Transport wraps an http.RoundTripper with authentication.
	Transport(base http.RoundTripper) http.RoundTripper

	// Name returns the authentication scheme name.
	Name() string
}

// Lease is a RoundTripper pinned to a single connection.
type Lease interface {
	http.RoundTripper

	// Release returns the connection. It is safe to call more than once.
	Release()
}

// ConnectionLeaser is implemented by transports that can pin the
// connection a multi-leg handshake runs on.
type ConnectionLeaser interface {
	Lease(ctx context.Context) (Lease, error)
}

// NegotiateAuth implements Authenticator with Negotiate, NTLM and Basic
// fallback.
type NegotiateAuth struct {
	interceptor *Interceptor
	creds       *Credentials
}

// NewNegotiateAuth creates a NegotiateAuth. creds may be CurrentUser().
func NewNegotiateAuth(interceptor *Interceptor, creds *Credentials) *NegotiateAuth {
	return &NegotiateAuth{interceptor: interceptor, creds: creds}
}

// Name returns the authentication scheme name.
func (a *NegotiateAuth) Name() string {
	return "Negotiate"
}

// Transport wraps an http.RoundTripper with negotiation.
func (a *NegotiateAuth) Transport(base http.RoundTripper) http.RoundTripper {
	return a.interceptor.Transport(base, a.creds)
}

// Transport returns a RoundTripper that runs Execute over base.
//
// If base implements ConnectionLeaser, every send after the first goes over
// one leased connection. Once a host has challenged, later requests to it are
// leased from the first send, so the whole exchange uses one connection. The
// lease is held until the returned response body is closed.
func (in *Interceptor) Transport(base http.RoundTripper, creds *Credentials) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &negotiateRoundTripper{in: in, base: base, creds: creds}
}

type negotiateRoundTripper struct {
	in    *Interceptor
	base  http.RoundTripper
	creds *Credentials

	// challenged holds hosts (scheme://host:port) that answered with a 401.
	challenged sync.Map
}

func hostKey(r *http.Request) string {
	return r.URL.Scheme + "://" + r.URL.Host
}

// RoundTrip implements http.RoundTripper.
func (t *negotiateRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	leaser, canLease := t.base.(ConnectionLeaser)
	key := hostKey(req)
	_, known := t.challenged.Load(key)

	var (
		lease Lease
		sends int
	)
	send := func(r *http.Request) (*http.Response, error) {
		sends++
		if !canLease || (sends == 1 && !known) {
			return t.base.RoundTrip(r)
		}
		if lease == nil {
			l, err := leaser.Lease(r.Context())
			if err != nil {
				return nil, err
			}
			lease = l
		}
		return lease.RoundTrip(r)
	}

	resp, err := t.in.Execute(req, t.creds, send)
	if sends > 1 {
		t.challenged.Store(key, struct{}{})
	} else if known && err == nil && resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.challenged.Delete(key)
	}
	if lease == nil {
		return resp, err
	}
	if err != nil || resp == nil || resp.Body == nil {
		lease.Release()
		return resp, err
	}
	resp.Body = &leasedBody{ReadCloser: resp.Body, release: lease.Release}
	return resp, nil
}

// leasedBody releases a connection lease when the body is closed.
type leasedBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (b *leasedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
