package auth

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http/httptrace"
	"sync"

	"github.com/google/uuid"
)

// connTracker observes which connection each send used.
//
// Identities are only meaningful within one tracker, so a tracker is created
// per Execute call.
type connTracker struct {
	mu      sync.Mutex
	ids     map[net.Conn]string
	current string
	cert    *x509.Certificate
}

func newConnTracker() *connTracker {
	return &connTracker{ids: make(map[net.Conn]string)}
}

// trace returns hooks to install with httptrace.WithClientTrace.
func (t *connTracker) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			t.observe(info.Conn)
		},
	}
}

func (t *connTracker) observe(conn net.Conn) {
	if conn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.ids[conn]
	if !ok {
		id = uuid.NewString()
		t.ids[conn] = id
	}
	t.current = id

	if tc, ok := conn.(*tls.Conn); ok {
		if certs := tc.ConnectionState().PeerCertificates; len(certs) > 0 {
			t.cert = certs[0]
		}
	}
}

// begin clears the current connection before a send.
func (t *connTracker) begin() {
	t.mu.Lock()
	t.current = ""
	t.mu.Unlock()
}

// connID returns the connection used by the latest send, "" if the transport
// reported none.
func (t *connTracker) connID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// peerCertificate returns the most recent TLS leaf certificate.
func (t *connTracker) peerCertificate() *x509.Certificate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cert
}
