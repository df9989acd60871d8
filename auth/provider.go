package auth

import (
	"context"
	"crypto/x509"
	"fmt"
)

// SecurityProvider acquires security contexts from the platform (SSPI,
// Kerberos libraries, NTLM implementations).
//
// # Blocking
//
// Acquire and SecurityContext.Step may perform OS-level cryptographic or
// network work (for example contacting a KDC). The Interceptor never calls
// them on the caller's goroutine; they run on a bounded worker pool.
//
// # Authentication Flow
//
//  1. Acquire(scheme, creds) -> SecurityContext
//  2. Step(target, nil) -> initial token
//  3. Server responds with a continuation token
//  4. Step(target, serverToken) -> response token
//  5. Repeat until continueNeeded is false, then Close.
type SecurityProvider interface {
	// Acquire obtains a credential handle and an empty security context.
	// It returns ErrCredentialsUnavailable (wrapped) when the scheme cannot
	// be served with creds.
	Acquire(ctx context.Context, scheme Scheme, creds *Credentials) (SecurityContext, error)
}

// SecurityContext is one in-progress or established handshake.
//
// SecurityContext implementations are NOT safe for concurrent use.
type SecurityContext interface {
	// Step processes an input token and produces the next output token.
	// On the first call input is nil.
	Step(ctx context.Context, target string, input []byte) (output []byte, continueNeeded bool, err error)

	// Close releases the handle. It is called exactly once.
	Close() error
}

// ProviderSet routes each scheme to its own provider.
type ProviderSet struct {
	Negotiate SecurityProvider
	NTLM      SecurityProvider
}

// Acquire implements SecurityProvider.
func (p ProviderSet) Acquire(ctx context.Context, scheme Scheme, creds *Credentials) (SecurityContext, error) {
	var next SecurityProvider
	switch scheme {
	case SchemeNegotiate:
		next = p.Negotiate
	case SchemeNTLM:
		next = p.NTLM
	}
	if next == nil {
		return nil, fmt.Errorf("%w: no provider for %s", ErrCredentialsUnavailable, scheme)
	}
	return next.Acquire(ctx, scheme, creds)
}

type contextKey string

const (
	// ContextKeyIsHTTPS is set on provider contexts when the target URL is https.
	ContextKeyIsHTTPS = contextKey("isHTTPS")

	// ContextKeyPeerCertificate carries the server leaf certificate (*x509.Certificate)
	// of the TLS connection the negotiation runs on, for channel binding.
	ContextKeyPeerCertificate = contextKey("peerCertificate")
)

// PeerCertificateFromContext returns the TLS leaf certificate stored by the Interceptor.
func PeerCertificateFromContext(ctx context.Context) (*x509.Certificate, bool) {
	cert, ok := ctx.Value(ContextKeyPeerCertificate).(*x509.Certificate)
	return cert, ok && cert != nil
}
