package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Scheme identifies an HTTP authentication scheme handled by this package.
type Scheme int

const (
	// SchemeUnknown is the zero value and never appears in parsed challenges.
	SchemeUnknown Scheme = iota
	// SchemeNegotiate is SPNEGO (RFC 4559), wrapping Kerberos or NTLM.
	SchemeNegotiate
	// SchemeNTLM is raw NTLM over HTTP.
	SchemeNTLM
	// SchemeBasic is HTTP Basic (RFC 7617).
	SchemeBasic
)

// PolicyOrder is the fixed preference order in which schemes are attempted.
var PolicyOrder = []Scheme{SchemeNegotiate, SchemeNTLM, SchemeBasic}

// String returns the wire name of the scheme.
func (s Scheme) String() string {
	switch s {
	case SchemeNegotiate:
		return "Negotiate"
	case SchemeNTLM:
		return "NTLM"
	case SchemeBasic:
		return "Basic"
	default:
		return "Unknown"
	}
}

// ParseScheme maps a wire scheme name (case-insensitive) to a Scheme.
func ParseScheme(name string) (Scheme, bool) {
	switch {
	case strings.EqualFold(name, "Negotiate"):
		return SchemeNegotiate, true
	case strings.EqualFold(name, "NTLM"):
		return SchemeNTLM, true
	case strings.EqualFold(name, "Basic"):
		return SchemeBasic, true
	default:
		return SchemeUnknown, false
	}
}

// carriesToken reports whether the scheme exchanges opaque token68 values.
func (s Scheme) carriesToken() bool {
	return s == SchemeNegotiate || s == SchemeNTLM
}

// allowsCurrentUser reports whether the scheme can run without an explicit secret.
func (s Scheme) allowsCurrentUser() bool {
	return s.carriesToken()
}

// Challenge is one parsed entry of a WWW-Authenticate header.
type Challenge struct {
	Scheme Scheme

	// Token is the decoded continuation token, nil when absent.
	Token []byte

	// Params holds auth-params such as realm. Keys are lower case.
	Params map[string]string
}

// EncodeToken base64-encodes a token using the standard alphabet.
func EncodeToken(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeToken reverses EncodeToken.
func DecodeToken(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return b, nil
}

// FormatAuthorization builds an Authorization header value carrying token.
// Basic tokens are the raw "principal:secret" bytes; see FormatBasic.
func FormatAuthorization(s Scheme, token []byte) (string, error) {
	if s == SchemeUnknown {
		return "", fmt.Errorf("%w: unknown scheme", ErrEncoding)
	}
	if len(token) == 0 {
		return "", fmt.Errorf("%w: empty %s token", ErrEncoding, s)
	}
	return s.String() + " " + EncodeToken(token), nil
}

// FormatBasic builds a Basic Authorization header from explicit credentials.
func FormatBasic(c *Credentials) (string, error) {
	if c == nil || c.IsCurrentUser() {
		return "", fmt.Errorf("%w: basic requires explicit credentials", ErrCredentialsUnavailable)
	}
	raw := c.basicPair()
	defer wipe(raw)
	return FormatAuthorization(SchemeBasic, raw)
}

// ParseChallenges parses WWW-Authenticate header values in order.
// Unknown schemes and entries with malformed tokens are skipped.
func ParseChallenges(values []string) []Challenge {
	var out []Challenge
	for _, v := range values {
		var cur *Challenge
		skipping := false
		for _, item := range splitList(v) {
			word, rest := cutWord(item)
			if strings.Contains(word, "=") {
				// auth-param of the previous challenge
				if cur != nil && !skipping {
					addParam(cur, item)
				}
				continue
			}
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
			scheme, ok := ParseScheme(word)
			if !ok {
				skipping = true
				continue
			}
			ch, ok := newChallenge(scheme, rest)
			if !ok {
				skipping = true
				continue
			}
			skipping = false
			cur = &ch
		}
		if cur != nil {
			out = append(out, *cur)
		}
	}
	return out
}

// ContinuationFor returns the first non-empty token offered for scheme.
func ContinuationFor(chs []Challenge, scheme Scheme) ([]byte, bool) {
	for _, ch := range chs {
		if ch.Scheme == scheme && len(ch.Token) > 0 {
			return ch.Token, true
		}
	}
	return nil, false
}

// Offers reports whether any challenge names scheme.
func Offers(chs []Challenge, scheme Scheme) bool {
	for _, ch := range chs {
		if ch.Scheme == scheme {
			return true
		}
	}
	return false
}

func newChallenge(scheme Scheme, rest string) (Challenge, bool) {
	ch := Challenge{Scheme: scheme}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return ch, true
	}
	if scheme.carriesToken() {
		if isToken68(rest) {
			tok, err := DecodeToken(rest)
			if err != nil {
				return ch, false
			}
			ch.Token = tok
			return ch, true
		}
		if !strings.Contains(rest, "=") {
			return ch, false
		}
	}
	addParam(&ch, rest)
	return ch, true
}

func addParam(ch *Challenge, item string) {
	key, val, ok := strings.Cut(item, "=")
	if !ok {
		return
	}
	key = strings.ToLower(strings.TrimSpace(key))
	val = strings.TrimSpace(val)
	if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
		val = strings.ReplaceAll(val[1:len(val)-1], `\"`, `"`)
	}
	if ch.Params == nil {
		ch.Params = make(map[string]string)
	}
	ch.Params[key] = val
}

// isToken68 accepts base64 characters with optional trailing '=' padding.
func isToken68(s string) bool {
	s = strings.TrimRight(s, "=")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '-', c == '_', c == '.', c == '~':
		default:
			return false
		}
	}
	return true
}

func cutWord(item string) (string, string) {
	item = strings.TrimSpace(item)
	word, rest, _ := strings.Cut(item, " ")
	return word, rest
}

// splitList splits a header value on commas outside quoted strings.
func splitList(v string) []string {
	var (
		parts   []string
		start   int
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && quoted:
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			parts = appendItem(parts, v[start:i])
			start = i + 1
		}
	}
	return appendItem(parts, v[start:])
}

func appendItem(parts []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return parts
	}
	return append(parts, s)
}
