// Package client provides a high-level HTTP client that authenticates with
// Negotiate, NTLM or Basic.
//
// This is the recommended entry point for most users. It handles:
//   - Challenge/response negotiation and scheme fallback
//   - Rate limiting and bounded concurrency
//   - Retries of transient transport errors
//   - Circuit breaking
//
// # Quick Start
//
//	cfg := client.DefaultConfig()
//	cfg.EnableNegotiate() // current user (ticket cache or logon session)
//
//	c, err := client.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	resp, err := c.Do(req)
//
// # Other HTTP Stacks
//
// HTTPClient returns an *http.Client and Resty a resty client. Both send
// through the same limits and negotiation as Do.
//
// # Errors
//
// A final 401 is returned as a response, not an error. Negotiation failures
// that end a request wrap *auth.AuthError:
//
//	var authErr *auth.AuthError
//	if errors.As(err, &authErr) {
//	    log.Printf("authentication failed: %v", authErr)
//	}
package client
