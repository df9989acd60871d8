//go:build windows

package auth

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/binary"
)

// tlsServerEndPointPrefix is the channel binding type prefix per RFC 5929
const tlsServerEndPointPrefix = "tls-server-end-point:"

// certificateHash hashes the server certificate per RFC 5929: SHA-256 unless
// the certificate is signed with SHA-384 or SHA-512.
func certificateHash(cert *x509.Certificate) []byte {
	switch cert.SignatureAlgorithm {
	case x509.SHA384WithRSA, x509.ECDSAWithSHA384, x509.SHA384WithRSAPSS:
		sum := sha512.Sum384(cert.Raw)
		return sum[:]
	case x509.SHA512WithRSA, x509.ECDSAWithSHA512, x509.SHA512WithRSAPSS:
		sum := sha512.Sum512(cert.Raw)
		return sum[:]
	default:
		sum := sha256.Sum256(cert.Raw)
		return sum[:]
	}
}

// makeChannelBindings creates a SEC_CHANNEL_BINDINGS structure with the given certificate hash.
// Per MS docs, the ApplicationData must include the "tls-server-end-point:" prefix.
//
// The header is 8 uint32 fields (32 bytes); only the application data
// length and offset are set.
func makeChannelBindings(certHash []byte) []byte {
	appData := append([]byte(tlsServerEndPointPrefix), certHash...)

	const headerSize = 32
	buf := make([]byte, headerSize+len(appData))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(appData)))
	binary.LittleEndian.PutUint32(buf[28:32], headerSize)
	copy(buf[headerSize:], appData)
	return buf
}
