//go:build windows

package auth

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"unsafe"

	"github.com/alexbrainman/sspi"
)

// SSPIProvider implements SecurityProvider using Windows SSPI.
// It serves the current logon session as well as explicit credentials.
type SSPIProvider struct {
	// PackageName is the SSPI package (Negotiate, Kerberos or NTLM).
	PackageName string

	// DisableChannelBinding omits SEC_CHANNEL_BINDINGS over TLS.
	DisableChannelBinding bool
}

// Acquire implements SecurityProvider.
func (p *SSPIProvider) Acquire(ctx context.Context, scheme Scheme, creds *Credentials) (SecurityContext, error) {
	if creds == nil {
		return nil, fmt.Errorf("%w: no credentials", ErrCredentialsUnavailable)
	}
	pkg := p.PackageName
	if pkg == "" {
		if scheme == SchemeNTLM {
			pkg = SSPIPackageNTLM
		} else {
			pkg = sspi.NEGOSSP_NAME
		}
	}

	// Query package info for max token size
	pkgInfo, err := sspi.QueryPackageInfo(pkg)
	if err != nil {
		return nil, fmt.Errorf("query SSPI package: %w", err)
	}

	var cred *sspi.Credentials
	if creds.IsCurrentUser() {
		cred, err = sspi.AcquireCredentials("", pkg, sspi.SECPKG_CRED_OUTBOUND, nil)
	} else {
		user, domain, _ := creds.Split()
		identity, identityErr := buildAuthIdentity(domain, user, creds.secretString())
		if identityErr != nil {
			return nil, fmt.Errorf("build auth identity: %w", identityErr)
		}
		cred, err = sspi.AcquireCredentials("", pkg, sspi.SECPKG_CRED_OUTBOUND, identity)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: acquire SSPI credentials: %v", ErrCredentialsUnavailable, err)
	}

	sc := &sspiContext{cred: cred, maxToken: pkgInfo.MaxToken}
	if cert, ok := PeerCertificateFromContext(ctx); ok && !p.DisableChannelBinding {
		sc.channelBindings = makeChannelBindings(certificateHash(cert))
	}
	return sc, nil
}

type sspiStatusError struct {
	code uint32
}

func (e sspiStatusError) Error() string {
	return fmt.Sprintf("SSPI InitializeSecurityContext: error 0x%x", e.code)
}

// sspiContext wraps one SSPI client context.
type sspiContext struct {
	cred            *sspi.Credentials
	ctx             *sspi.Context
	targetName      *uint16
	maxToken        uint32
	channelBindings []byte
}

// Step implements SecurityContext.
func (c *sspiContext) Step(_ context.Context, target string, input []byte) ([]byte, bool, error) {
	if c.ctx == nil {
		tname, err := syscall.UTF16PtrFromString(target)
		if err != nil {
			return nil, false, fmt.Errorf("convert SPN to UTF-16: %w", err)
		}
		c.targetName = tname

		flags := sspi.ISC_REQ_CONNECTION |
			sspi.ISC_REQ_MUTUAL_AUTH |
			sspi.ISC_REQ_INTEGRITY |
			sspi.ISC_REQ_CONFIDENTIALITY |
			sspi.ISC_REQ_REPLAY_DETECT |
			sspi.ISC_REQ_SEQUENCE_DETECT
		c.ctx = sspi.NewClientContext(c.cred, uint32(flags))
	}

	out, completed, err := c.update(input)
	if err != nil {
		return nil, false, err
	}
	return out, !completed, nil
}

// update performs InitializeSecurityContext with optional channel bindings.
func (c *sspiContext) update(serverToken []byte) ([]byte, bool, error) {
	// On the first call, SSPI expects no input token. Passing an empty
	// TOKEN buffer can return SEC_E_INVALID_TOKEN on some systems.
	var inBuf [2]sspi.SecBuffer
	var inBufs *sspi.SecBufferDesc

	if len(serverToken) > 0 {
		inBuf[0].Set(sspi.SECBUFFER_TOKEN, serverToken)
		inBufs = &sspi.SecBufferDesc{
			Version:      sspi.SECBUFFER_VERSION,
			BuffersCount: 1,
			Buffers:      &inBuf[0],
		}
		if len(c.channelBindings) > 0 {
			inBuf[1].Set(sspi.SECBUFFER_CHANNEL_BINDINGS, c.channelBindings)
			inBufs.BuffersCount = 2
		}
	} else if len(c.channelBindings) > 0 {
		inBuf[0].Set(sspi.SECBUFFER_CHANNEL_BINDINGS, c.channelBindings)
		inBufs = &sspi.SecBufferDesc{
			Version:      sspi.SECBUFFER_VERSION,
			BuffersCount: 1,
			Buffers:      &inBuf[0],
		}
	}

	dst := make([]byte, c.maxToken)
	var outBuf [1]sspi.SecBuffer
	outBuf[0].Set(sspi.SECBUFFER_TOKEN, dst)
	outBufs := &sspi.SecBufferDesc{
		Version:      sspi.SECBUFFER_VERSION,
		BuffersCount: 1,
		Buffers:      &outBuf[0],
	}

	ret := c.ctx.Update(c.targetName, outBufs, inBufs)
	n := int(outBuf[0].BufferSize)

	switch ret {
	case sspi.SEC_E_OK:
		return dst[:n], true, nil
	case sspi.SEC_I_CONTINUE_NEEDED:
		return dst[:n], false, nil
	case sspi.SEC_I_COMPLETE_NEEDED, sspi.SEC_I_COMPLETE_AND_CONTINUE:
		completeRet := sspi.CompleteAuthToken(c.ctx.Handle, outBufs)
		if completeRet != sspi.SEC_E_OK {
			return nil, false, fmt.Errorf("complete auth token: SSPI error 0x%x", uint32(completeRet))
		}
		if ret == sspi.SEC_I_COMPLETE_AND_CONTINUE {
			return dst[:n], false, nil
		}
		return dst[:n], true, nil
	default:
		return nil, false, sspiStatusError{code: uint32(ret)}
	}
}

// Close releases the SSPI resources.
func (c *sspiContext) Close() error {
	var errs []string

	if c.ctx != nil {
		if err := c.ctx.Release(); err != nil {
			errs = append(errs, fmt.Sprintf("context release: %v", err))
		}
		c.ctx = nil
	}
	if c.cred != nil {
		if err := c.cred.Release(); err != nil {
			errs = append(errs, fmt.Sprintf("credentials release: %v", err))
		}
		c.cred = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("SSPI close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// buildAuthIdentity creates a SEC_WINNT_AUTH_IDENTITY structure for explicit credentials.
func buildAuthIdentity(domain, username, password string) (*byte, error) {
	d, err := syscall.UTF16FromString(domain)
	if err != nil {
		return nil, fmt.Errorf("encode domain to UTF-16: %w", err)
	}
	u, err := syscall.UTF16FromString(username)
	if err != nil {
		return nil, fmt.Errorf("encode username to UTF-16: %w", err)
	}
	pw, err := syscall.UTF16FromString(password)
	if err != nil {
		return nil, fmt.Errorf("encode password to UTF-16: %w", err)
	}
	identity := &sspi.SEC_WINNT_AUTH_IDENTITY{
		User:           &u[0],
		UserLength:     uint32(len(u) - 1),
		Domain:         &d[0],
		DomainLength:   uint32(len(d) - 1),
		Password:       &pw[0],
		PasswordLength: uint32(len(pw) - 1),
		Flags:          sspi.SEC_WINNT_AUTH_IDENTITY_UNICODE,
	}
	return (*byte)(unsafe.Pointer(identity)), nil
}
