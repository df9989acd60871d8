// Package auth implements HTTP Negotiate authentication.
//
// An Interceptor wraps a send function. When the server answers 401 with
// WWW-Authenticate challenges, the Interceptor picks a scheme, drives a
// Session through the challenge/response exchange and replays the request
// with an Authorization header, falling back from Negotiate to NTLM to Basic
// when a scheme fails softly.
//
// Token generation is delegated to a SecurityProvider. NewPlatformProvider
// returns the native providers: go-krb5 and go-ntlmssp outside Windows,
// SSPI on Windows. Tests and embedders can supply their own.
//
// Connection-oriented schemes require every leg on one TCP connection.
// Transport binds legs with a ConnectionLeaser when the base transport
// provides one, and a Session detects a changed connection and restarts
// its scheme.
package auth
