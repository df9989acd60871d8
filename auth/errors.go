package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCredentialsUnavailable means no usable credentials exist for an offered scheme.
	ErrCredentialsUnavailable = errors.New("auth: credentials unavailable")

	// ErrContextInitFailed means the security provider could not build a context.
	ErrContextInitFailed = errors.New("auth: security context initialization failed")

	// ErrServerRejected means the server refused the exchange for a scheme.
	ErrServerRejected = errors.New("auth: server rejected authentication")

	// ErrMaxRoundsExceeded means the negotiation hit its round limit.
	ErrMaxRoundsExceeded = errors.New("auth: maximum negotiation rounds exceeded")

	// ErrNonReplayableBody means the request body cannot be sent a second time.
	ErrNonReplayableBody = errors.New("auth: request body is not replayable")

	// ErrEncoding means token data was empty or malformed.
	ErrEncoding = errors.New("auth: token encoding error")

	// ErrNoUsableScheme means none of the offered schemes can be attempted.
	ErrNoUsableScheme = errors.New("auth: no usable authentication scheme")
)

// AuthError describes a failed negotiation step.
type AuthError struct {
	// Scheme is the scheme being attempted, SchemeUnknown before one was chosen.
	Scheme Scheme

	// Round is the session round at which the failure happened.
	Round int

	// Err is one of the package sentinels, or a context error.
	Err error

	// Detail is provider or protocol detail, scrubbed of secrets.
	Detail string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Scheme != SchemeUnknown {
		fmt.Fprintf(&b, " (scheme=%s, round=%d)", e.Scheme, e.Round)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Unwrap returns the underlying sentinel.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError returns true if err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// isHardError reports whether err ends the whole call instead of falling
// back to the next scheme.
func isHardError(err error) bool {
	switch {
	case errors.Is(err, ErrContextInitFailed),
		errors.Is(err, ErrServerRejected),
		errors.Is(err, ErrCredentialsUnavailable),
		errors.Is(err, ErrNoUsableScheme):
		return false
	default:
		return true
	}
}

// scrub removes every occurrence of secret from detail.
func scrub(detail string, c *Credentials) string {
	if c == nil || len(c.secret) == 0 {
		return detail
	}
	return strings.ReplaceAll(detail, string(c.secret), "[REDACTED]")
}
