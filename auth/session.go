package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultMaxRounds is the default ceiling on provider token calls per session.
const DefaultMaxRounds = 10

// State is the negotiation state of a Session.
type State int

const (
	// StateIdle means no challenge has been accepted yet.
	StateIdle State = iota
	// StateAwaitingChallenge means a scheme was chosen and no token produced yet.
	StateAwaitingChallenge
	// StateTokenPending means a token was produced and awaits the server's verdict.
	StateTokenPending
	// StateContinueNeeded means the provider expects a server continuation token.
	StateContinueNeeded
	// StateComplete means the server accepted the exchange.
	StateComplete
	// StateFailed means the attempt for this scheme is over.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingChallenge:
		return "AwaitingChallenge"
	case StateTokenPending:
		return "TokenPending"
	case StateContinueNeeded:
		return "ContinueNeeded"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Provider produces tokens for Negotiate and NTLM. Basic needs none.
	Provider SecurityProvider

	// Credentials are cloned; the clone is wiped when the session ends.
	Credentials *Credentials

	// Target is the service principal name, e.g. "HTTP/server.example.com".
	Target string

	// MaxRounds caps provider token calls (default: DefaultMaxRounds).
	MaxRounds int

	// Fallback is the ordered list of candidate schemes (default: PolicyOrder).
	Fallback []Scheme

	// Logger receives debug transitions. Tokens and secrets are never logged.
	Logger *slog.Logger
}

// Session tracks one authentication attempt with one scheme.
//
// A Session is owned by a single logical call and is not safe for
// concurrent use.
type Session struct {
	state     State
	scheme    Scheme
	round     int
	maxRounds int
	connID    string
	fallback  []Scheme
	target    string

	provider SecurityProvider
	creds    *Credentials
	secctx   SecurityContext
	err      error
	logger   *slog.Logger
}

// NewSession creates an Idle session.
func NewSession(cfg SessionConfig) *Session {
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = PolicyOrder
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		state:     StateIdle,
		maxRounds: maxRounds,
		fallback:  append([]Scheme(nil), fallback...),
		target:    cfg.Target,
		provider:  cfg.Provider,
		creds:     cfg.Credentials.clone(),
		logger:    logger,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Scheme returns the scheme in flight, SchemeUnknown before Offer.
func (s *Session) Scheme() Scheme { return s.scheme }

// Round returns the number of provider token calls made.
func (s *Session) Round() int { return s.round }

// MaxRounds returns the configured round ceiling.
func (s *Session) MaxRounds() int { return s.maxRounds }

// ConnID returns the identity of the bound connection, "" when unbound.
func (s *Session) ConnID() string { return s.connID }

// Err returns the failure reason once the session is Failed.
func (s *Session) Err() error { return s.err }

// Offer accepts the first fallback scheme present in chs.
//
// After a connection reset the session only re-accepts its own scheme.
func (s *Session) Offer(chs []Challenge) error {
	if s.state != StateIdle {
		return fmt.Errorf("auth: offer in state %s", s.state)
	}
	if s.scheme != SchemeUnknown {
		if !Offers(chs, s.scheme) {
			return s.fail(ErrServerRejected, "scheme no longer offered after connection change")
		}
		s.transition(StateAwaitingChallenge)
		return nil
	}
	for _, sc := range s.fallback {
		if Offers(chs, sc) && s.creds.supports(sc) {
			s.scheme = sc
			s.transition(StateAwaitingChallenge)
			return nil
		}
	}
	return s.fail(ErrNoUsableScheme, "")
}

// RequestToken produces the first Authorization header value.
func (s *Session) RequestToken(ctx context.Context) (string, error) {
	if s.state != StateAwaitingChallenge {
		return "", fmt.Errorf("auth: request token in state %s", s.state)
	}
	return s.step(ctx, nil)
}

// Continue feeds a server continuation token and produces the next
// Authorization header value.
func (s *Session) Continue(ctx context.Context, token []byte) (string, error) {
	if s.state != StateContinueNeeded {
		return "", fmt.Errorf("auth: continue in state %s", s.state)
	}
	return s.step(ctx, token)
}

// Accept marks the exchange as accepted by the server.
func (s *Session) Accept() {
	if s.state.Terminal() || s.scheme == SchemeUnknown {
		return
	}
	s.transition(StateComplete)
	s.release()
}

// Reject marks the exchange as refused by the server.
func (s *Session) Reject() error {
	if s.state.Terminal() {
		return s.err
	}
	return s.fail(ErrServerRejected, "")
}

// Bind records the connection that carried the latest send. When it differs
// from the connection the session started on, the session is reset to Idle
// and Bind returns false. Unknown connections ("") are ignored.
func (s *Session) Bind(connID string) bool {
	if connID == "" || s.state.Terminal() {
		return true
	}
	if s.connID == "" || s.connID == connID {
		s.connID = connID
		return true
	}
	s.ConnectionChanged()
	return false
}

// ConnectionChanged discards the security context and returns to Idle.
// The scheme and the round budget are kept.
func (s *Session) ConnectionChanged() {
	if s.state.Terminal() {
		return
	}
	s.logger.Debug("negotiate: connection changed, renegotiating",
		"scheme", s.scheme, "round", s.round, "conn", s.connID)
	s.closeContext()
	s.connID = ""
	s.transition(StateIdle)
}

// Close releases the provider context and wipes the credential clone.
func (s *Session) Close() {
	s.release()
}

func (s *Session) step(ctx context.Context, input []byte) (string, error) {
	if s.round >= s.maxRounds {
		return "", s.fail(ErrMaxRoundsExceeded, fmt.Sprintf("limit %d", s.maxRounds))
	}
	s.transition(StateTokenPending)

	if s.scheme == SchemeBasic {
		authz, err := FormatBasic(s.creds)
		if err != nil {
			return "", s.fail(ErrCredentialsUnavailable, "")
		}
		s.round++
		return authz, nil
	}

	if s.provider == nil {
		return "", s.fail(ErrCredentialsUnavailable, "no security provider configured")
	}
	if s.secctx == nil {
		sc, err := s.provider.Acquire(ctx, s.scheme, s.creds)
		if err != nil {
			return "", s.failProvider(err)
		}
		s.secctx = sc
	}

	s.round++
	out, cont, err := s.secctx.Step(ctx, s.target, input)
	if err != nil {
		return "", s.failProvider(err)
	}
	if len(out) == 0 {
		return "", s.fail(ErrEncoding, "provider returned an empty token")
	}
	authz, err := FormatAuthorization(s.scheme, out)
	if err != nil {
		return "", s.fail(ErrEncoding, "")
	}
	if cont {
		s.transition(StateContinueNeeded)
	}
	return authz, nil
}

// failProvider classifies a provider error.
func (s *Session) failProvider(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrPoolSaturated), errors.Is(err, ErrPoolTimeout):
		return s.fail(err, "")
	case errors.Is(err, ErrCredentialsUnavailable):
		return s.fail(ErrCredentialsUnavailable, scrub(err.Error(), s.creds))
	default:
		return s.fail(ErrContextInitFailed, scrub(err.Error(), s.creds))
	}
}

// fail records cause (a sentinel or context error) and ends the session.
func (s *Session) fail(cause error, detail string) error {
	s.err = &AuthError{Scheme: s.scheme, Round: s.round, Err: cause, Detail: detail}
	s.transition(StateFailed)
	s.release()
	return s.err
}

func (s *Session) transition(to State) {
	if s.state == to {
		return
	}
	s.logger.Debug("negotiate: state",
		"scheme", s.scheme, "round", s.round, "from", s.state, "to", to)
	s.state = to
}

func (s *Session) closeContext() {
	if s.secctx == nil {
		return
	}
	if err := s.secctx.Close(); err != nil {
		s.logger.Debug("negotiate: release security context", "scheme", s.scheme, "error", err)
	}
	s.secctx = nil
}

func (s *Session) release() {
	s.closeContext()
	s.creds.Wipe()
}
