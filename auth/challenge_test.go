package auth

import (
	"errors"
	"testing"
)

func TestParseChallenges(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		schemes []Scheme
		tokens  []string
	}{
		{
			name:    "single negotiate",
			values:  []string{"Negotiate"},
			schemes: []Scheme{SchemeNegotiate},
			tokens:  []string{""},
		},
		{
			name:    "multiple headers keep order",
			values:  []string{"Negotiate", "NTLM", `Basic realm="corp"`},
			schemes: []Scheme{SchemeNegotiate, SchemeNTLM, SchemeBasic},
			tokens:  []string{"", "", ""},
		},
		{
			name:    "comma separated in one header",
			values:  []string{`Basic realm="a, b", NTLM`},
			schemes: []Scheme{SchemeBasic, SchemeNTLM},
			tokens:  []string{"", ""},
		},
		{
			name:    "case insensitive scheme",
			values:  []string{"negotiate", "ntlm"},
			schemes: []Scheme{SchemeNegotiate, SchemeNTLM},
			tokens:  []string{"", ""},
		},
		{
			name:    "continuation token",
			values:  []string{"Negotiate " + EncodeToken([]byte("srv-token"))},
			schemes: []Scheme{SchemeNegotiate},
			tokens:  []string{"srv-token"},
		},
		{
			name:    "unknown schemes skipped",
			values:  []string{`Digest realm="x", qop="auth"`, "Bearer", "NTLM"},
			schemes: []Scheme{SchemeNTLM},
			tokens:  []string{""},
		},
		{
			name:    "malformed token skipped",
			values:  []string{"Negotiate !!!not-base64", "NTLM"},
			schemes: []Scheme{SchemeNTLM},
			tokens:  []string{""},
		},
		{
			name:    "bad padding skipped",
			values:  []string{"Negotiate abc", "Basic"},
			schemes: []Scheme{SchemeBasic},
			tokens:  []string{""},
		},
		{
			name:   "empty",
			values: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseChallenges(tt.values)
			if len(got) != len(tt.schemes) {
				t.Fatalf("ParseChallenges() returned %d challenges; want %d (%+v)", len(got), len(tt.schemes), got)
			}
			for i, ch := range got {
				if ch.Scheme != tt.schemes[i] {
					t.Errorf("challenge %d scheme = %s; want %s", i, ch.Scheme, tt.schemes[i])
				}
				if string(ch.Token) != tt.tokens[i] {
					t.Errorf("challenge %d token = %q; want %q", i, ch.Token, tt.tokens[i])
				}
			}
		})
	}
}

func TestParseChallenges_Params(t *testing.T) {
	chs := ParseChallenges([]string{`Basic realm="Corp \"HQ\"", charset="UTF-8"`})
	if len(chs) != 1 {
		t.Fatalf("got %d challenges; want 1", len(chs))
	}
	if got := chs[0].Params["realm"]; got != `Corp "HQ"` {
		t.Errorf("realm = %q; want %q", got, `Corp "HQ"`)
	}
	if got := chs[0].Params["charset"]; got != "UTF-8" {
		t.Errorf("charset = %q; want UTF-8", got)
	}
}

func TestContinuationFor(t *testing.T) {
	chs := ParseChallenges([]string{
		"NTLM",
		"Negotiate " + EncodeToken([]byte{1, 2, 3}),
	})

	tok, ok := ContinuationFor(chs, SchemeNegotiate)
	if !ok || len(tok) != 3 {
		t.Errorf("ContinuationFor(Negotiate) = %v, %v; want 3 bytes, true", tok, ok)
	}
	if _, ok := ContinuationFor(chs, SchemeNTLM); ok {
		t.Error("ContinuationFor(NTLM) should report no token")
	}
	if !Offers(chs, SchemeNTLM) {
		t.Error("Offers(NTLM) = false; want true")
	}
	if Offers(chs, SchemeBasic) {
		t.Error("Offers(Basic) = true; want false")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	in := []byte{0x60, 0x82, 0x01, 0xff, 0x00}
	out, err := DecodeToken(EncodeToken(in))
	if err != nil {
		t.Fatalf("DecodeToken() error = %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("round trip = %x; want %x", out, in)
	}

	if _, err := DecodeToken("%%%"); !errors.Is(err, ErrEncoding) {
		t.Errorf("DecodeToken(invalid) error = %v; want ErrEncoding", err)
	}
}

func TestFormatAuthorization(t *testing.T) {
	got, err := FormatAuthorization(SchemeNegotiate, []byte("tok"))
	if err != nil {
		t.Fatalf("FormatAuthorization() error = %v", err)
	}
	if want := "Negotiate " + EncodeToken([]byte("tok")); got != want {
		t.Errorf("FormatAuthorization() = %q; want %q", got, want)
	}

	if _, err := FormatAuthorization(SchemeNTLM, nil); !errors.Is(err, ErrEncoding) {
		t.Errorf("empty token error = %v; want ErrEncoding", err)
	}
	if _, err := FormatAuthorization(SchemeUnknown, []byte("x")); !errors.Is(err, ErrEncoding) {
		t.Errorf("unknown scheme error = %v; want ErrEncoding", err)
	}
}

func TestFormatBasic(t *testing.T) {
	got, err := FormatBasic(Explicit("alice", "s3cret"))
	if err != nil {
		t.Fatalf("FormatBasic() error = %v", err)
	}
	if want := "Basic YWxpY2U6czNjcmV0"; got != want {
		t.Errorf("FormatBasic() = %q; want %q", got, want)
	}

	if _, err := FormatBasic(CurrentUser()); !errors.Is(err, ErrCredentialsUnavailable) {
		t.Errorf("FormatBasic(CurrentUser) error = %v; want ErrCredentialsUnavailable", err)
	}
}

func TestScheme_String(t *testing.T) {
	tests := []struct {
		s    Scheme
		want string
	}{
		{SchemeNegotiate, "Negotiate"},
		{SchemeNTLM, "NTLM"},
		{SchemeBasic, "Basic"},
		{SchemeUnknown, "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Scheme(%d).String() = %q; want %q", tt.s, got, tt.want)
		}
	}
}
