package authgate

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches a 401 answer from the upstream API.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPassthrough matches every failure the gateway hands back to the caller untouched:
	// non-401 HTTP errors, transport errors, and 401s that are not refresh-eligible.
	ErrPassthrough = errors.New("request failed")
	// ErrTransport matches failures where no HTTP response was received.
	ErrTransport = errors.New("transport failure")
	// ErrRefreshFailed matches failures of the refresh call itself.
	ErrRefreshFailed = errors.New("credential refresh failed")
	// ErrSessionExpired is delivered to every caller queued behind a failed refresh.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshQueueFull is returned when the wait queue bound is reached.
	ErrRefreshQueueFull = errors.New("refresh wait queue full")
	// ErrNoSession is returned by operations that need a signed-in session.
	ErrNoSession = errors.New("no active session")
	// ErrInvalidCredentials is returned when the auth endpoints reject user input.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTokenResponse is returned when an auth endpoint answers 2xx without a usable token pair.
	ErrInvalidTokenResponse = errors.New("invalid token response")
	// ErrInvalidRedirect is returned when a sign-in redirect carries no token pair.
	ErrInvalidRedirect = errors.New("invalid sign-in redirect")
	// ErrLoginThrottled is returned by Login while an email is over its failed-attempt budget.
	ErrLoginThrottled = errors.New("too many failed logins")
	// ErrGatewayNotReady is returned when a Gateway was not built through [Builder.Build].
	ErrGatewayNotReady = errors.New("gateway not initialized")
	// ErrGatewayClosed is returned after [Gateway.Close].
	ErrGatewayClosed = errors.New("gateway closed")
)

// HTTPError is a non-2xx answer. A 401 matches [ErrUnauthorized]; every status also
// matches [ErrPassthrough] so callers can treat the two uniformly once the gateway has
// decided not to refresh.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Header     http.Header
	Body       []byte

	// declined is set by Gateway.Do on a 401 it will not recover.
	declined bool
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is implements errors.Is matching.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrPassthrough:
		return true
	}
	return false
}

// Declined reports whether the gateway saw this 401 and chose not to refresh: the path
// is excluded or the request had already been replayed.
func (e *HTTPError) Declined() bool {
	return e != nil && e.declined
}

// TransportError wraps a network-level failure.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is implements errors.Is matching.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport || target == ErrPassthrough
}

// RefreshError describes why a refresh episode failed. Callers queued behind the
// episode receive it wrapped so it matches both [ErrSessionExpired] and
// [ErrRefreshFailed].
type RefreshError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v (%s, status %d): %v", ErrRefreshFailed, e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v (%s): %v", ErrRefreshFailed, e.Reason, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Is implements errors.Is matching.
func (e *RefreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

func sessionExpired(cause error) error {
	return fmt.Errorf("%w: %w", ErrSessionExpired, cause)
}

// FailureClass is the coarse error taxonomy callers switch on.
type FailureClass uint8

const (
	// FailureNone means no error.
	FailureNone FailureClass = iota
	// FailurePassthrough covers non-401 HTTP errors, transport errors, and 401s the
	// gateway declined to recover.
	FailurePassthrough
	// FailureUnauthorized is a 401 that has not been through the refresh loop, such as a
	// rejected login.
	FailureUnauthorized
	// FailureRefresh means the session ended because a refresh failed; the host should
	// already have been told to re-authenticate.
	FailureRefresh
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailurePassthrough:
		return "passthrough"
	case FailureUnauthorized:
		return "unauthorized"
	case FailureRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Classify maps err onto a [FailureClass].
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrRefreshFailed):
		return FailureRefresh
	case declinedUnauthorized(err):
		return FailurePassthrough
	case errors.Is(err, ErrUnauthorized):
		return FailureUnauthorized
	default:
		return FailurePassthrough
	}
}

func declinedUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.declined
}

// decline marks a 401 returned from Do as one the gateway will not recover.
func decline(err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		httpErr.declined = true
	}
	return err
}
