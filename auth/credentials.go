package auth

import (
	"fmt"
	"log/slog"

	"github.com/Azure/go-ntlmssp"
)

type credentialKind int

const (
	kindCurrentUser credentialKind = iota
	kindExplicit
)

// Credentials identifies the client to the server.
//
// A nil *Credentials means no credentials are available. The secret of
// explicit credentials is never included in formatted or logged output.
type Credentials struct {
	kind      credentialKind
	principal string
	secret    []byte
}

// CurrentUser returns credentials that defer identity to the platform
// security provider (logged-in user, credential cache).
func CurrentUser() *Credentials {
	return &Credentials{kind: kindCurrentUser}
}

// Explicit returns credentials for a principal and secret. The principal may
// be "user", "DOMAIN\user" or "user@REALM".
func Explicit(principal, secret string) *Credentials {
	return &Credentials{
		kind:      kindExplicit,
		principal: principal,
		secret:    []byte(secret),
	}
}

// IsCurrentUser reports whether identity is resolved by the provider.
func (c *Credentials) IsCurrentUser() bool {
	return c != nil && c.kind == kindCurrentUser
}

// IsExplicit reports whether a principal and secret were supplied.
func (c *Credentials) IsExplicit() bool {
	return c != nil && c.kind == kindExplicit
}

// Principal returns the principal as supplied, or "" for CurrentUser.
func (c *Credentials) Principal() string {
	if c == nil {
		return ""
	}
	return c.principal
}

// Split returns the user and domain parts of a "DOMAIN\user" principal.
// A UPN ("user@REALM") is returned whole with domainNeeded=false.
func (c *Credentials) Split() (user, domain string, domainNeeded bool) {
	if c == nil || c.principal == "" {
		return "", "", false
	}
	return ntlmssp.GetDomain(c.principal)
}

// Validate checks explicit credentials are complete.
func (c *Credentials) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: no credentials", ErrCredentialsUnavailable)
	}
	if c.kind == kindCurrentUser {
		return nil
	}
	if c.principal == "" {
		return fmt.Errorf("%w: principal is required", ErrCredentialsUnavailable)
	}
	if len(c.secret) == 0 {
		return fmt.Errorf("%w: secret is required", ErrCredentialsUnavailable)
	}
	return nil
}

// supports reports whether these credentials can drive scheme.
func (c *Credentials) supports(s Scheme) bool {
	switch {
	case c == nil:
		return false
	case c.kind == kindExplicit:
		return true
	default:
		return s.allowsCurrentUser()
	}
}

// secretString returns a copy of the secret for provider APIs that take strings.
func (c *Credentials) secretString() string {
	if c == nil {
		return ""
	}
	return string(c.secret)
}

// basicPair returns "principal:secret". The caller wipes the result.
func (c *Credentials) basicPair() []byte {
	b := make([]byte, 0, len(c.principal)+1+len(c.secret))
	b = append(b, c.principal...)
	b = append(b, ':')
	return append(b, c.secret...)
}

// clone returns an independent copy that can be wiped without affecting c.
func (c *Credentials) clone() *Credentials {
	if c == nil {
		return nil
	}
	cp := &Credentials{kind: c.kind, principal: c.principal}
	if c.secret != nil {
		cp.secret = append([]byte(nil), c.secret...)
	}
	return cp
}

// Wipe zeroes the secret. The credentials are unusable for Basic/NTLM afterwards.
func (c *Credentials) Wipe() {
	if c == nil {
		return
	}
	wipe(c.secret)
	c.secret = nil
}

// String implements fmt.Stringer without exposing the secret.
func (c *Credentials) String() string {
	switch {
	case c == nil:
		return "<none>"
	case c.kind == kindCurrentUser:
		return "CurrentUser"
	default:
		return fmt.Sprintf("Explicit{principal=%q, secret=[REDACTED]}", c.principal)
	}
}

// GoString keeps %#v from printing struct fields.
func (c *Credentials) GoString() string {
	return c.String()
}

// Format routes every verb through String.
func (c *Credentials) Format(f fmt.State, _ rune) {
	_, _ = fmt.Fprint(f, c.String())
}

// LogValue implements slog.LogValuer.
func (c *Credentials) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<none>")
	}
	if c.kind == kindCurrentUser {
		return slog.StringValue("CurrentUser")
	}
	return slog.GroupValue(
		slog.String("principal", c.principal),
		slog.String("secret", "[REDACTED]"),
	)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
