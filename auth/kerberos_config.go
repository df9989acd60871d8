package auth

import "strings"

const (
	SSPIPackageNegotiate = "Negotiate"
	SSPIPackageKerberos  = "Kerberos"
	SSPIPackageNTLM      = "NTLM"
)

// KerberosConfig holds platform Kerberos settings.
// This type is shared across all platforms; fields a platform does not use
// are ignored.
type KerberosConfig struct {
	// Realm is the Kerberos realm (e.g., "DOMAIN.COM").
	// If empty, derived from the principal or krb5.conf.
	Realm string

	// Krb5ConfPath is the path to krb5.conf (default: $KRB5_CONFIG or /etc/krb5.conf).
	Krb5ConfPath string

	// KeytabPath is the path to a keytab file used with explicit principals (optional).
	KeytabPath string

	// CCachePath is the credential cache used for the current user
	// (default: $KRB5CCNAME or /tmp/krb5cc_<uid>).
	CCachePath string

	// SSPIPackage selects the SSPI package for Negotiate on Windows
	// (default: Negotiate). Use "Kerberos" to disable NTLM inside SPNEGO.
	SSPIPackage string
}

// splitPrincipal splits "DOMAIN\user" or "user@REALM" into user and an
// upper-cased realm.
func splitPrincipal(principal string) (user, realm string) {
	if i := strings.Index(principal, `\`); i >= 0 {
		return principal[i+1:], strings.ToUpper(principal[:i])
	}
	if i := strings.LastIndex(principal, "@"); i >= 0 {
		return principal[:i], strings.ToUpper(principal[i+1:])
	}
	return principal, ""
}
