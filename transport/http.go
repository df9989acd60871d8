package transport

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

// ErrUnauthorized is returned when the server responds with 401 Unauthorized.
// Use errors.Is(err, ErrUnauthorized) to check for authentication failures.
var ErrUnauthorized = errors.New("transport: authentication failed (401 Unauthorized)")

const (
	// DefaultIdleConnTimeout keeps connection-bound sessions alive between requests.
	DefaultIdleConnTimeout = 90 * time.Second

	// defaultBufferSize is the initial size for pooled buffers.
	defaultBufferSize = 32 * 1024 // 32KB

	// maxErrorPreview bounds the response body quoted in errors.
	maxErrorPreview = 3000
)

// bufferPool is a pool of reusable bytes.Buffer to reduce allocations.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, defaultBufferSize))
	},
}

// getBuffer returns a buffer from the pool.
func getBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

// putBuffer returns a buffer to the pool after resetting it.
func putBuffer(buf *bytes.Buffer) {
	buf.Reset()
	bufferPool.Put(buf)
}

// readAllPooled reads from r using a pooled buffer and returns a copy of the data.
func readAllPooled(r io.Reader) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	_, err := buf.ReadFrom(r)
	if err != nil {
		return nil, err
	}

	// Return a copy since buf will be reused
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// HTTPTransport is the network RoundTripper beneath authentication.
// It implements auth.ConnectionLeaser.
type HTTPTransport struct {
	transport *http.Transport
	leases    *leaseCounter
}

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// NewHTTPTransport creates a new HTTP transport with the given options.
func NewHTTPTransport(opts ...HTTPTransportOption) *HTTPTransport {
	t := &HTTPTransport{
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				// MinVersion: TLS 1.2 for compatibility with older Windows servers
				// MaxVersion: Not set - allows TLS 1.3 (Go default)
				MinVersion: tls.VersionTLS12,
			},
			// Connection-bound schemes (NTLM, multi-leg Negotiate) need
			// persistent connections for the handshake.
			DisableKeepAlives:   false,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     10,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
		leases: &leaseCounter{},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// WithInsecureSkipVerify configures TLS to skip certificate verification.
// WARNING: Only use this for testing. Never use in production.
func WithInsecureSkipVerify(skip bool) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if skip {
			fmt.Fprintf(os.Stderr, "WARNING: TLS certificate verification disabled. This is insecure and should only be used for testing.\n")
		}
		if t.transport.TLSClientConfig == nil {
			t.transport.TLSClientConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
		t.transport.TLSClientConfig.InsecureSkipVerify = skip
	}
}

// WithTLSConfig sets a custom TLS configuration.
// NOTE: MinVersion is enforced to be at least TLS 1.2 for security.
func WithTLSConfig(cfg *tls.Config) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if cfg == nil {
			return
		}
		// Enforce minimum TLS 1.2 regardless of user config
		if cfg.MinVersion < tls.VersionTLS12 {
			cfg.MinVersion = tls.VersionTLS12
		}
		t.transport.TLSClientConfig = cfg
	}
}

// WithMaxConnsPerHost limits connections per host for ordinary requests.
func WithMaxConnsPerHost(n int) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if n > 0 {
			t.transport.MaxConnsPerHost = n
			if t.transport.MaxIdleConnsPerHost > n {
				t.transport.MaxIdleConnsPerHost = n
			}
		}
	}
}

// WithIdleConnTimeout sets how long idle connections are kept.
func WithIdleConnTimeout(d time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.transport.IdleConnTimeout = d
	}
}

// WithProxy sets the proxy URL. A nil URL disables proxying.
func WithProxy(u *url.URL) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if u == nil {
			t.transport.Proxy = nil
			return
		}
		t.transport.Proxy = http.ProxyURL(u)
	}
}

// RoundTrip implements http.RoundTripper.
func (t *HTTPTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.transport.RoundTrip(req)
}

// Transport returns the underlying *http.Transport for advanced configuration.
func (t *HTTPTransport) Transport() *http.Transport {
	return t.transport
}

// CloseIdleConnections closes any idle connections in the transport.
// This is useful to force a fresh handshake for subsequent requests.
func (t *HTTPTransport) CloseIdleConnections() {
	t.transport.CloseIdleConnections()
}

// ReadResponse reads and closes resp.Body, mapping error statuses to errors.
func ReadResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	respBody, err := readAllPooled(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to read response: %w", err)
	}

	// Check HTTP status code
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("transport: access denied (403 Forbidden)")
	}
	if resp.StatusCode >= 400 {
		// Include response body in error for debugging
		bodyPreview := string(respBody)
		if len(bodyPreview) > maxErrorPreview {
			bodyPreview = bodyPreview[:maxErrorPreview] + "..."
		}
		return nil, fmt.Errorf("transport: HTTP %d: %s", resp.StatusCode, bodyPreview)
	}

	return respBody, nil
}
