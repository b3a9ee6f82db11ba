// Package authgate is an authenticated request gateway for API clients that hold a
// short-lived access token and a longer-lived refresh token.
//
// Every outbound call goes through one [Gateway]. The gateway attaches the current
// access token, detects expiry (HTTP 401), refreshes the token pair, and replays the
// failed request once. However many requests fail at the same time, one refresh call
// is made per episode; the other callers wait for it and replay with the new token.
// If the refresh fails the session is cleared, the host is told to send the user to
// the login page, and every waiting caller gets an error matching [ErrSessionExpired].
//
// # Architecture boundaries
//
// authgate is the public surface: [Gateway], [Builder], [Config], [Request],
// [Response], and the error taxonomy. Token persistence lives in credential, claim
// decoding in jwt, and the wire-level refresh and login exchanges in internal/flows.
//
// # Excluded paths
//
// A 401 from an auth endpoint (authenticate, refresh-token, forgot-password,
// reset-password, activate-account) is returned to the caller as is. Without this a
// failed refresh would trigger another refresh.
//
// # Concurrency
//
// Gateway methods are safe for concurrent use after [Builder.Build]. Refresh state is
// per Gateway; two gateways never share an episode.
package authgate
