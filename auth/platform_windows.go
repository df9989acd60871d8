//go:build windows

package auth

// NewPlatformProvider returns the default provider for this platform.
// On Windows, this ALWAYS uses SSPI because it integrates with the Windows
// credential store (LSA) and supports the current logon session for both
// Negotiate and NTLM.
func NewPlatformProvider(cfg PlatformConfig) SecurityProvider {
	pkg := cfg.Kerberos.SSPIPackage
	if pkg == "" {
		pkg = SSPIPackageNegotiate
	}
	return ProviderSet{
		Negotiate: &SSPIProvider{PackageName: pkg, DisableChannelBinding: cfg.DisableChannelBinding},
		NTLM:      &SSPIProvider{PackageName: SSPIPackageNTLM, DisableChannelBinding: cfg.DisableChannelBinding},
	}
}

// SupportsSSO returns true if the platform supports SSO.
func SupportsSSO() bool {
	return true
}
