package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/go-ntlmssp"
	ntlmcbt "github.com/smnsjas/go-ntlm-cbt"
)

// NTLMProvider produces NTLM tokens with explicit credentials.
//
// When the negotiation runs over TLS and the server certificate is known,
// the AUTHENTICATE message carries a tls-server-end-point channel binding
// (Extended Protection for Authentication).
type NTLMProvider struct {
	// Workstation is sent in the NEGOTIATE message. Defaults to empty.
	Workstation string

	// DisableChannelBinding omits the channel binding even over TLS.
	DisableChannelBinding bool
}

// NewNTLMProvider creates an NTLM provider.
func NewNTLMProvider() *NTLMProvider {
	return &NTLMProvider{}
}

// Acquire implements SecurityProvider.
func (p *NTLMProvider) Acquire(_ context.Context, scheme Scheme, creds *Credentials) (SecurityContext, error) {
	if scheme != SchemeNTLM && scheme != SchemeNegotiate {
		return nil, fmt.Errorf("%w: NTLM provider cannot serve %s", ErrCredentialsUnavailable, scheme)
	}
	if !creds.IsExplicit() {
		return nil, fmt.Errorf("%w: NTLM requires explicit credentials on %s", ErrCredentialsUnavailable, platformName())
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialsUnavailable, err)
	}
	return &ntlmContext{
		creds:       creds.clone(),
		workstation: p.Workstation,
		noCBT:       p.DisableChannelBinding,
	}, nil
}

// ntlmContext is a two-leg NTLM exchange: NEGOTIATE, then AUTHENTICATE.
type ntlmContext struct {
	creds       *Credentials
	workstation string
	noCBT       bool

	leg  int
	nego *ntlmcbt.Negotiator
}

// Step implements SecurityContext.
func (c *ntlmContext) Step(ctx context.Context, _ string, input []byte) ([]byte, bool, error) {
	user, domain, domainNeeded := c.creds.Split()

	switch c.leg {
	case 0:
		if len(input) != 0 {
			return nil, false, errors.New("ntlm: unexpected server token before NEGOTIATE")
		}
		c.leg++
		if cert, ok := PeerCertificateFromContext(ctx); ok && !c.noCBT {
			c.nego = &ntlmcbt.Negotiator{ChannelBindings: ntlmcbt.ComputeTLSServerEndpoint(cert)}
			msg, err := c.nego.Negotiate(domain, c.workstation)
			if err != nil {
				return nil, false, fmt.Errorf("ntlm: negotiate message: %w", err)
			}
			return msg, true, nil
		}
		msg, err := ntlmssp.NewNegotiateMessage(domain, c.workstation)
		if err != nil {
			return nil, false, fmt.Errorf("ntlm: negotiate message: %w", err)
		}
		return msg, true, nil

	case 1:
		if len(input) == 0 {
			return nil, false, errors.New("ntlm: missing CHALLENGE message")
		}
		c.leg++
		var (
			msg []byte
			err error
		)
		if c.nego != nil {
			msg, err = c.nego.ChallengeResponse(input, user, c.creds.secretString())
		} else {
			msg, err = ntlmssp.ProcessChallenge(input, user, c.creds.secretString(), domainNeeded)
		}
		if err != nil {
			return nil, false, fmt.Errorf("ntlm: process challenge: %w", err)
		}
		return msg, false, nil

	default:
		return nil, false, errors.New("ntlm: exchange already complete")
	}
}

// Close implements SecurityContext.
func (c *ntlmContext) Close() error {
	c.creds.Wipe()
	c.nego = nil
	return nil
}
