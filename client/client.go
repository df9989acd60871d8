package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/smnsjas/go-negotiate/auth"
	"github.com/smnsjas/go-negotiate/transport"
)

// ErrClientClosed is returned by requests made after Close.
var ErrClientClosed = errors.New("client: client is closed")

// Client is an HTTP client that answers Negotiate, NTLM and Basic challenges.
//
// Every request, whether sent with Do, the http.Client from HTTPClient or the
// resty client from Resty, passes through the same gate: rate limit, request
// slot, circuit breaker, retries, then negotiation.
type Client struct {
	mu     sync.Mutex
	closed bool

	config      Config
	transport   *transport.HTTPTransport
	interceptor *auth.Interceptor
	metrics     *auth.Metrics
	http        *http.Client

	sem      *requestSemaphore
	limiter  *rate.Limiter
	breaker  *CircuitBreaker
	security *SecurityLogger
	logger   *slog.Logger
}

// New creates a new Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	tr := transport.NewHTTPTransport(
		transport.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
	)

	c := &Client{
		config:    cfg,
		transport: tr,
		breaker:   NewCircuitBreaker(cfg.CircuitBreaker),
		security:  NewSecurityLogger(logger, cfg.credentials.Principal()),
		logger:    logger,
	}

	var next http.RoundTripper = tr
	if cfg.NegotiateEnabled() {
		provider := cfg.Provider
		if provider == nil {
			provider = auth.NewPlatformProvider(auth.PlatformConfig{
				Kerberos:              cfg.Kerberos,
				DisableChannelBinding: cfg.DisableChannelBinding,
			})
		}
		if cfg.MetricsRegisterer != nil {
			c.metrics = auth.NewMetrics(cfg.MetricsRegisterer)
		}
		c.interceptor = auth.NewInterceptor(provider,
			auth.WithMaxRounds(cfg.MaxRounds),
			auth.WithTargetSPN(cfg.TargetSPN),
			auth.WithLogger(logger),
			auth.WithMetrics(c.metrics),
			auth.WithEventHook(c.security.LogAuthentication),
			auth.WithProviderWorkers(cfg.ProviderWorkers, cfg.providerQueue(), cfg.ProviderTimeout),
			auth.WithMaxBufferedBody(cfg.MaxBufferedBody),
		)
		next = c.interceptor.Transport(tr, cfg.credentials)
	}

	if cfg.MaxConcurrentRequests > 0 {
		c.sem = newRequestSemaphore(cfg.MaxConcurrentRequests, cfg.MaxQueueSize, cfg.Timeout)
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	c.http = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &gatedTransport{client: c, next: next},
	}
	return c, nil
}

// Do sends req and returns the final response.
//
// A 401 is returned as a response when every usable scheme was refused.
// Negotiation failures that end the call wrap an *auth.AuthError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

// Get fetches url and returns the body, mapping error statuses to errors.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: failed to create request: %w", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	return transport.ReadResponse(resp)
}

// Post sends body to url and returns the response body.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	return transport.ReadResponse(resp)
}

// HTTPClient returns an *http.Client that sends through this Client.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Resty returns a resty client that sends through this Client.
func (c *Client) Resty() *resty.Client {
	hc := *c.http
	r := resty.NewWithClient(&hc)
	r.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.DebugContext(resp.Request.Context(), "HTTP response",
			"method", resp.Request.Method,
			"status", resp.StatusCode(),
			"duration", resp.Time(),
		)
		return nil
	})
	return r
}

// Metrics returns the negotiation metrics, nil when disabled.
func (c *Client) Metrics() *auth.Metrics {
	return c.metrics
}

// CorrelationID identifies this client's security events.
func (c *Client) CorrelationID() string {
	return c.security.CorrelationID()
}

// Stats describes client utilization.
type Stats struct {
	InFlight     int
	Queued       int
	MaxInFlight  int
	ActiveLeases int64
	TotalLeases  int64
	Circuit      CircuitState
}

// Stats returns current utilization.
func (c *Client) Stats() Stats {
	var s Stats
	if c.sem != nil {
		s.InFlight, s.Queued, s.MaxInFlight = c.sem.Stats()
	}
	s.ActiveLeases, s.TotalLeases = c.transport.LeaseStats()
	s.Circuit = c.breaker.State()
	return s
}

// Close stops new requests and closes idle connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// gatedTransport is the single path every request takes.
type gatedTransport struct {
	client *Client
	next   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (g *gatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return g.client.roundTrip(g.next, req)
}

func (c *Client) roundTrip(next http.RoundTripper, req *http.Request) (*http.Response, error) {
	if c.isClosed() {
		closeRequestBody(req)
		return nil, ErrClientClosed
	}
	ctx := req.Context()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			closeRequestBody(req)
			return nil, err
		}
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx); err != nil {
			closeRequestBody(req)
			return nil, err
		}
		defer c.sem.Release()
	}
	if err := c.breaker.Allow(); err != nil {
		closeRequestBody(req)
		return nil, err
	}

	c.logger.DebugContext(ctx, "HTTP request", "method", req.Method, "host", req.URL.Host)
	resp, err := c.sendWithRetry(next, req)
	c.breaker.Record(breakerResult(resp, err))

	if err != nil {
		c.security.LogConnection(SubtypeConnFailed, OutcomeFailure, SeverityError, req.URL.Host,
			map[string]any{"error": err.Error()})
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.security.LogConnection(SubtypeConnRejected, OutcomeDenied, SeverityWarning, req.URL.Host,
			map[string]any{"status": resp.StatusCode})
	}
	return resp, nil
}

func (c *Client) sendWithRetry(next http.RoundTripper, req *http.Request) (*http.Response, error) {
	policy := c.config.Retry
	attempts := 1
	if policy != nil && canRetryRequest(req) {
		attempts = policy.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		r := req
		if attempt > 1 {
			if err := sleepContext(req.Context(), calculateRetryBackoff(attempt-1, policy)); err != nil {
				return nil, err
			}
			var err error
			if r, err = rewindRequest(req); err != nil {
				return nil, fmt.Errorf("client: rewind request body: %w", err)
			}
			c.logger.Debug("retrying request", "attempt", attempt, "error", lastErr)
		}

		resp, err := next.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}
	return nil, lastErr
}

// breakerResult maps a round trip result to a circuit breaker outcome.
func breakerResult(resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("client: HTTP %d", resp.StatusCode)
	}
	return nil
}

func closeRequestBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

var _ io.Closer = (*Client)(nil)
