// Package negotiate provides HTTP authentication with SPNEGO (Kerberos),
// NTLM and Basic, choosing the strongest scheme a server offers.
//
// # Architecture
//
// The library is organized into layers:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  client/       High-level client: limits, retries       │
//	├─────────────────────────────────────────────────────────┤
//	│  auth/         Challenge parsing, sessions, fallback    │
//	├─────────────────────────────────────────────────────────┤
//	│  transport/    HTTP/TLS transport, connection leases    │
//	└─────────────────────────────────────────────────────────┘
//
// Security providers plug into auth: Kerberos via go-krb5 and NTLM via
// go-ntlmssp on Linux and macOS, SSPI on Windows.
//
// # Quick Start
//
//	cfg := client.DefaultConfig()
//	cfg.EnableNegotiateWithCredentials(`EXAMPLE\alice`, password)
//
//	c, err := client.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	body, err := c.Get(ctx, "https://intranet.example.com/report")
//
// # Scheme Selection
//
// Schemes are tried in the order Negotiate, NTLM, Basic, restricted to what
// the server offered in its 401 response. Each scheme is attempted at most
// once per request. Basic is only used with explicit credentials.
//
// # Security
//
// Credentials are never logged. Tokens and Authorization values are redacted
// by the logging handler in internal/log. Basic over plain HTTP is allowed but
// logged as a warning.
package negotiate
