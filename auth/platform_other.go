//go:build !windows

package auth

// NewPlatformProvider returns the default provider for this platform:
// Kerberos (krb5) for Negotiate and go-ntlmssp for NTLM.
func NewPlatformProvider(cfg PlatformConfig) SecurityProvider {
	return ProviderSet{
		Negotiate: NewKerberosProvider(cfg.Kerberos),
		NTLM: &NTLMProvider{
			Workstation:           cfg.NTLMWorkstation,
			DisableChannelBinding: cfg.DisableChannelBinding,
		},
	}
}

// SupportsSSO returns true if the platform supports SSO.
// Outside Windows the current user is served from a Kerberos ticket cache,
// and NTLM requires explicit credentials.
func SupportsSSO() bool {
	return false
}
