package client

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smnsjas/go-negotiate/auth"
)

// Config holds configuration for a Client.
type Config struct {
	// Timeout bounds a whole request, including every negotiation leg.
	Timeout time.Duration

	// InsecureSkipVerify skips TLS certificate verification.
	// WARNING: Only use for testing.
	InsecureSkipVerify bool

	// TargetSPN overrides the SPN derived from the request URL ("HTTP/<host>").
	TargetSPN string

	// MaxRounds caps provider token calls per scheme attempt (default: 10).
	MaxRounds int

	// Kerberos configures the platform Kerberos provider.
	Kerberos auth.KerberosConfig

	// DisableChannelBinding omits TLS channel bindings from NTLM/SSPI tokens.
	DisableChannelBinding bool

	// Provider replaces the platform security provider.
	Provider auth.SecurityProvider

	// ProviderWorkers bounds concurrent blocking provider calls (0 = default of 4).
	ProviderWorkers int

	// ProviderQueue is the maximum number of callers waiting for a provider
	// worker (0 = unbounded, -1 = no queue).
	ProviderQueue int

	// ProviderTimeout bounds the wait for a provider worker.
	ProviderTimeout time.Duration

	// MaxBufferedBody is the largest body without GetBody that is buffered
	// for replay (default: 1MB, 0 disables buffering).
	MaxBufferedBody int64

	// MaxConcurrentRequests limits in-flight requests (0 = unlimited).
	MaxConcurrentRequests int

	// MaxQueueSize is the maximum number of requests waiting for a slot
	// (-1 = unbounded, 0 = no queue).
	MaxQueueSize int

	// RateLimit is the sustained request rate per second (0 = unlimited).
	RateLimit float64

	// RateBurst is the burst size for RateLimit.
	RateBurst int

	// Retry configures retries of transient transport errors. Nil disables retries.
	Retry *RetryPolicy

	// CircuitBreaker configures the circuit breaker. Nil disables it.
	CircuitBreaker *CircuitBreakerPolicy

	// Logger receives client and security events. Nil discards them.
	Logger *slog.Logger

	// MetricsRegisterer enables negotiation metrics on the given registry.
	MetricsRegisterer prometheus.Registerer

	credentials *auth.Credentials
}

// RetryPolicy configures retries of transient transport errors.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// Jitter randomizes each delay by up to ±Jitter (0.0-1.0).
	Jitter float64
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// CircuitBreakerPolicy configures the circuit breaker.
type CircuitBreakerPolicy struct {
	Enabled bool

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration

	OnStateChange func(from, to CircuitState)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         60 * time.Second,
		MaxRounds:       auth.DefaultMaxRounds,
		ProviderWorkers: auth.DefaultProviderWorkers,
		MaxBufferedBody: auth.DefaultMaxBufferedBody,
		MaxQueueSize:    -1,
	}
}

// EnableNegotiate turns on authentication with the current user's identity.
func (c *Config) EnableNegotiate() {
	c.credentials = auth.CurrentUser()
}

// EnableNegotiateWithCredentials turns on authentication with an explicit
// principal ("DOMAIN\user" or "user@REALM") and secret.
func (c *Config) EnableNegotiateWithCredentials(principal, secret string) {
	c.credentials = auth.Explicit(principal, secret)
}

// NegotiateEnabled reports whether authentication is enabled.
func (c *Config) NegotiateEnabled() bool {
	return c.credentials != nil
}

// providerQueue maps ProviderQueue to the worker pool's queue limit.
func (c *Config) providerQueue() int {
	switch {
	case c.ProviderQueue == 0:
		return -1
	case c.ProviderQueue < 0:
		return 0
	default:
		return c.ProviderQueue
	}
}

// LogValue implements slog.LogValuer. Credentials are logged by principal only.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("timeout", c.Timeout),
		slog.Bool("insecure_skip_verify", c.InsecureSkipVerify),
		slog.String("target_spn", c.TargetSPN),
		slog.Int("max_rounds", c.MaxRounds),
		slog.Bool("channel_binding", !c.DisableChannelBinding),
		slog.Int("max_concurrent_requests", c.MaxConcurrentRequests),
		slog.Float64("rate_limit", c.RateLimit),
		slog.Any("credentials", c.credentials),
	)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if c.MaxRounds < 0 {
		return errors.New("max rounds must not be negative")
	}
	if c.ProviderWorkers < 0 {
		return errors.New("provider workers must not be negative")
	}
	if c.ProviderQueue < -1 {
		return errors.New("provider queue must be -1, 0 or positive")
	}
	if c.RateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.New("rate burst must be at least 1 when rate limiting")
	}
	if c.Retry != nil && c.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}
	if c.CircuitBreaker != nil && c.CircuitBreaker.Enabled && c.CircuitBreaker.FailureThreshold < 1 {
		return errors.New("circuit breaker failure threshold must be at least 1")
	}
	if c.credentials != nil {
		if err := c.credentials.Validate(); err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
	}
	return nil
}
