// Package middleware adapts an authgate.Gateway to net/http.
//
// # Transport
//
// [Transport] returns an http.RoundTripper that sends every request through the
// gateway, so code built on a plain *http.Client gets bearer tokens and transparent
// refresh without knowing about authgate. Non-2xx answers come back as ordinary
// *http.Response values; only transport failures and ended sessions are errors.
//
// # Guards
//
// [RequireSession] rejects inbound requests with 401 while the gateway holds no
// session, and exposes the signed-in identity through [IdentityFromContext].
//
// # What this package must NOT do
//
//   - Touch tokens directly (the gateway owns them).
//   - Retry on its own; the gateway already replays once after a refresh.
package middleware
