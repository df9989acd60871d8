package auth

import "runtime"

// PlatformConfig configures NewPlatformProvider.
type PlatformConfig struct {
	Kerberos KerberosConfig

	// NTLMWorkstation is sent in NTLM NEGOTIATE messages.
	NTLMWorkstation string

	// DisableChannelBinding omits TLS channel bindings from NTLM and SSPI tokens.
	DisableChannelBinding bool
}

func platformName() string {
	return runtime.GOOS
}
