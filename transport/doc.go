// Package transport provides the HTTP/TLS layer under authentication.
//
// The transport layer handles:
//   - HTTP/HTTPS connections and TLS configuration
//   - Connection leases that pin a multi-leg handshake to one connection
//   - Reading response bodies with pooled buffers
package transport
