package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-negotiate/auth"
)

var _ auth.ConnectionLeaser = (*HTTPTransport)(nil)

func TestHTTPTransport_Lease(t *testing.T) {
	tr := NewHTTPTransport(WithMaxConnsPerHost(8))

	l, err := tr.Lease(context.Background())
	require.NoError(t, err)

	cl, ok := l.(*connLease)
	require.True(t, ok)
	assert.Equal(t, 1, cl.transport.MaxConnsPerHost)
	assert.Equal(t, 8, tr.Transport().MaxConnsPerHost, "base transport unchanged")

	active, total := tr.LeaseStats()
	assert.Equal(t, int64(1), active)
	assert.Equal(t, int64(1), total)

	l.Release()
	l.Release()
	active, total = tr.LeaseStats()
	assert.Equal(t, int64(0), active)
	assert.Equal(t, int64(1), total)
}

func TestHTTPTransport_LeaseCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTPTransport().Lease(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// ntlmLikeProvider produces two-leg tokens and expects the second leg on the
// same connection the first one used.
type ntlmLikeProvider struct{}

func (ntlmLikeProvider) Acquire(context.Context, auth.Scheme, *auth.Credentials) (auth.SecurityContext, error) {
	return &ntlmLikeContext{}, nil
}

type ntlmLikeContext struct{ leg int }

func (c *ntlmLikeContext) Step(_ context.Context, _ string, _ []byte) ([]byte, bool, error) {
	c.leg++
	if c.leg == 1 {
		return []byte("negotiate"), true, nil
	}
	return []byte("authenticate"), false, nil
}

func (c *ntlmLikeContext) Close() error { return nil }

func TestHTTPTransport_HandshakeOnLeasedConnection(t *testing.T) {
	var (
		mu        sync.Mutex
		leg1Conn  string
		sameConn  bool
		tokenLegs int
	)
	negotiate := "NTLM " + auth.EncodeToken([]byte("negotiate"))
	authenticate := "NTLM " + auth.EncodeToken([]byte("authenticate"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Header.Get("Authorization") {
		case negotiate:
			tokenLegs++
			leg1Conn = r.RemoteAddr
			w.Header().Set("WWW-Authenticate", "NTLM "+auth.EncodeToken([]byte("challenge")))
			w.WriteHeader(http.StatusUnauthorized)
		case authenticate:
			tokenLegs++
			sameConn = r.RemoteAddr == leg1Conn
			_, _ = io.WriteString(w, "hello")
		default:
			w.Header().Set("WWW-Authenticate", "NTLM")
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	defer tr.CloseIdleConnections()

	in := auth.NewInterceptor(ntlmLikeProvider{})
	client := &http.Client{Transport: in.Transport(tr, auth.Explicit("u", "p"))}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	body, err := ReadResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	mu.Lock()
	assert.Equal(t, 2, tokenLegs)
	assert.True(t, sameConn, "both token legs must share one connection")
	mu.Unlock()

	active, total := tr.LeaseStats()
	assert.Equal(t, int64(0), active, "lease released after body close")
	assert.Equal(t, int64(1), total)
}
