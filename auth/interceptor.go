package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"time"
)

// SendFunc performs one HTTP exchange. It is typically an
// http.RoundTripper's RoundTrip method.
type SendFunc func(*http.Request) (*http.Response, error)

// Event describes one finished per-scheme session.
type Event struct {
	Scheme  Scheme
	Outcome string
	Rounds  int
	Target  string
	// Status is the HTTP status of the response that ended the session, 0 if none.
	Status int
	Err    error
	// MutualToken reports that the accepting response carried a server token.
	MutualToken bool
}

// Session outcomes reported in Event.Outcome and metrics.
const (
	OutcomeComplete      = "complete"
	OutcomeRejected      = "rejected"
	OutcomeContextFailed = "context_failed"
	OutcomeUnavailable   = "unavailable"
	OutcomeMaxRounds     = "max_rounds"
	OutcomeError         = "error"
)

// Interceptor drives challenge/response authentication around a SendFunc.
//
// An Interceptor is safe for concurrent use; all per-call state lives in
// Execute.
type Interceptor struct {
	provider    SecurityProvider
	maxRounds   int
	maxBuffered int64
	targetSPN   string
	logger      *slog.Logger
	metrics     *Metrics
	onEvent     func(Event)

	workers     int
	maxQueue    int
	poolTimeout time.Duration

	basicWarn sync.Once
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithMaxRounds sets the per-session ceiling on provider token calls.
func WithMaxRounds(n int) InterceptorOption {
	return func(in *Interceptor) {
		if n > 0 {
			in.maxRounds = n
		}
	}
}

// WithTargetSPN overrides the service principal name derived from the URL.
func WithTargetSPN(spn string) InterceptorOption {
	return func(in *Interceptor) {
		in.targetSPN = spn
	}
}

// WithLogger sets the logger. Tokens and secrets are never logged.
func WithLogger(logger *slog.Logger) InterceptorOption {
	return func(in *Interceptor) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) InterceptorOption {
	return func(in *Interceptor) {
		in.metrics = m
	}
}

// WithEventHook registers a callback invoked after every per-scheme session.
func WithEventHook(fn func(Event)) InterceptorOption {
	return func(in *Interceptor) {
		in.onEvent = fn
	}
}

// WithProviderWorkers bounds blocking provider calls.
// maxQueue: -1 = unbounded, 0 = no queue. timeout: wait for a worker.
func WithProviderWorkers(workers, maxQueue int, timeout time.Duration) InterceptorOption {
	return func(in *Interceptor) {
		if workers > 0 {
			in.workers = workers
		}
		in.maxQueue = maxQueue
		in.poolTimeout = timeout
	}
}

// WithMaxBufferedBody sets the largest body without GetBody that is buffered
// for replay. Zero disables buffering.
func WithMaxBufferedBody(n int64) InterceptorOption {
	return func(in *Interceptor) {
		if n >= 0 {
			in.maxBuffered = n
		}
	}
}

// NewInterceptor creates an Interceptor. provider may be nil when only Basic
// is expected.
func NewInterceptor(provider SecurityProvider, opts ...InterceptorOption) *Interceptor {
	in := &Interceptor{
		maxRounds:   DefaultMaxRounds,
		maxBuffered: DefaultMaxBufferedBody,
		logger:      slog.New(slog.DiscardHandler),
		workers:     DefaultProviderWorkers,
		maxQueue:    -1,
	}
	for _, opt := range opts {
		opt(in)
	}
	if provider != nil {
		in.provider = &pooledProvider{
			next:    provider,
			pool:    newWorkerPool(in.workers, in.maxQueue, in.poolTimeout),
			metrics: in.metrics,
		}
	}
	return in
}

// FallbackOrder returns the schemes that would be tried for chs and creds,
// in policy order.
func FallbackOrder(chs []Challenge, creds *Credentials) []Scheme {
	var order []Scheme
	for _, sc := range PolicyOrder {
		if Offers(chs, sc) && creds.supports(sc) {
			order = append(order, sc)
		}
	}
	return order
}

// DeriveSPN returns "HTTP/<host>" for u, without port.
func DeriveSPN(u *url.URL) (string, error) {
	if u == nil || u.Hostname() == "" {
		return "", errors.New("auth: cannot derive SPN without a host")
	}
	return "HTTP/" + u.Hostname(), nil
}

// Execute sends req, answering authentication challenges with creds.
//
// Responses other than 401, and 401s offering no usable scheme, are returned
// unchanged. When every usable scheme has failed softly the last 401 is
// returned. Hard failures are returned as errors and no response is returned.
func (in *Interceptor) Execute(req *http.Request, creds *Credentials, send SendFunc) (*http.Response, error) {
	tracker := newConnTracker()
	ctx := httptrace.WithClientTrace(req.Context(), tracker.trace())

	pending, first, err := capturePending(req.WithContext(ctx), in.maxBuffered)
	if err != nil {
		return nil, err
	}

	tracker.begin()
	resp, err := send(first)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	chs := ParseChallenges(resp.Header.Values("WWW-Authenticate"))
	order := FallbackOrder(chs, creds)
	if len(order) == 0 {
		in.logger.Debug("negotiate: no usable scheme offered", "url", redactURL(req.URL), "offered", len(chs))
		return resp, nil
	}
	if !pending.replayable() {
		drainClose(resp)
		return nil, &AuthError{Err: ErrNonReplayableBody, Detail: "request body cannot be resent"}
	}
	bufferBody(resp)

	c := &call{
		in:      in,
		ctx:     ctx,
		pending: pending,
		creds:   creds,
		send:    send,
		tracker: tracker,
		offered: chs,
		order:   order,
		last:    resp,
		target:  in.target(req.URL),
	}
	return c.run()
}

func (in *Interceptor) target(u *url.URL) string {
	if in.targetSPN != "" {
		return in.targetSPN
	}
	spn, err := DeriveSPN(u)
	if err != nil {
		return ""
	}
	return spn
}

func (in *Interceptor) warnBasic(u *url.URL) {
	if u.Scheme == "https" {
		return
	}
	in.basicWarn.Do(func() {
		in.logger.Warn("Basic authentication over non-HTTPS connection - credentials are not encrypted",
			"host", u.Host)
	})
}

// call is the state of one Execute invocation.
type call struct {
	in      *Interceptor
	ctx     context.Context
	pending *pendingRequest
	creds   *Credentials
	send    SendFunc
	tracker *connTracker
	target  string

	// offered and order come from the first 401 and fix the schemes tried.
	offered []Challenge
	order   []Scheme

	// last is the most recent 401, held open until replaced or returned.
	last *http.Response
}

func (c *call) run() (*http.Response, error) {
	for _, scheme := range c.order {
		sess := NewSession(SessionConfig{
			Provider:    c.in.provider,
			Credentials: c.creds,
			Target:      c.target,
			MaxRounds:   c.in.maxRounds,
			Fallback:    []Scheme{scheme},
			Logger:      c.in.logger,
		})
		if err := sess.Offer(c.offered); err != nil {
			sess.Close()
			continue
		}
		if scheme == SchemeBasic {
			c.in.warnBasic(c.pending.tmpl.URL)
		}

		resp, mutual, err := c.drive(sess)
		c.report(sess, resp, mutual, err)
		sess.Close()

		if err == nil {
			return resp, nil
		}
		if isHardError(err) {
			drainClose(c.last)
			c.last = nil
			return nil, err
		}
		c.in.logger.Debug("negotiate: falling back", "scheme", scheme, "error", err)
	}

	c.in.logger.Debug("negotiate: all schemes exhausted", "status", c.last.StatusCode)
	return c.last, nil
}

// drive runs one session to a final response or an error.
func (c *call) drive(sess *Session) (*http.Response, bool, error) {
	authz, err := sess.RequestToken(c.providerContext())
	if err != nil {
		return nil, false, err
	}

	for {
		r, err := c.pending.build(c.ctx, authz)
		if err != nil {
			return nil, false, &AuthError{
				Scheme: sess.Scheme(),
				Round:  sess.Round(),
				Err:    ErrNonReplayableBody,
				Detail: scrub(strings.TrimPrefix(err.Error(), ErrNonReplayableBody.Error()+": "), c.creds),
			}
		}

		c.tracker.begin()
		resp, err := c.send(r)
		if err != nil {
			return nil, false, err
		}
		bound := sess.Bind(c.tracker.connID())

		chs := ParseChallenges(resp.Header.Values("WWW-Authenticate"))
		if resp.StatusCode != http.StatusUnauthorized {
			_, mutual := ContinuationFor(chs, sess.Scheme())
			sess.Accept()
			drainClose(c.last)
			c.last = nil
			return resp, mutual, nil
		}

		bufferBody(resp)
		drainClose(c.last)
		c.last = resp

		if !bound {
			c.in.metrics.RecordConnectionReset(sess.Scheme())
			if err := sess.Offer(chs); err != nil {
				return nil, false, err
			}
			if authz, err = sess.RequestToken(c.providerContext()); err != nil {
				return nil, false, err
			}
			continue
		}

		token, ok := ContinuationFor(chs, sess.Scheme())
		if !ok || sess.State() != StateContinueNeeded {
			return nil, false, sess.Reject()
		}
		if authz, err = sess.Continue(c.providerContext(), token); err != nil {
			return nil, false, err
		}
	}
}

// providerContext carries the TLS facts providers need for channel binding.
func (c *call) providerContext() context.Context {
	ctx := context.WithValue(c.ctx, ContextKeyIsHTTPS, c.pending.tmpl.URL.Scheme == "https")
	if cert := c.tracker.peerCertificate(); cert != nil {
		ctx = context.WithValue(ctx, ContextKeyPeerCertificate, cert)
	}
	return ctx
}

func (c *call) report(sess *Session, resp *http.Response, mutual bool, err error) {
	ev := Event{
		Scheme:      sess.Scheme(),
		Outcome:     outcomeOf(err),
		Rounds:      sess.Round(),
		Target:      c.target,
		Err:         err,
		MutualToken: mutual,
	}
	switch {
	case resp != nil:
		ev.Status = resp.StatusCode
	case c.last != nil:
		ev.Status = c.last.StatusCode
	}

	c.in.metrics.RecordSession(ev.Scheme, ev.Outcome, ev.Rounds)
	c.in.logger.Debug("negotiate: session finished",
		"scheme", ev.Scheme, "outcome", ev.Outcome, "rounds", ev.Rounds, "status", ev.Status)
	if c.in.onEvent != nil {
		c.in.onEvent(ev)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeComplete
	case errors.Is(err, ErrServerRejected):
		return OutcomeRejected
	case errors.Is(err, ErrContextInitFailed):
		return OutcomeContextFailed
	case errors.Is(err, ErrCredentialsUnavailable), errors.Is(err, ErrNoUsableScheme):
		return OutcomeUnavailable
	case errors.Is(err, ErrMaxRoundsExceeded):
		return OutcomeMaxRounds
	default:
		return OutcomeError
	}
}

// redactURL drops userinfo and query before logging.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	cp := *u
	cp.User = nil
	cp.RawQuery = ""
	return cp.String()
}
