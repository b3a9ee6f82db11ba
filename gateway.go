package authgate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/MrEthical07/authgate/credential"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/sirupsen/logrus"
)

// Gateway is the single entry point for authenticated outbound calls. Build one with
// [New] and share it; all methods are safe for concurrent use.
type Gateway struct {
	config      Config
	store       *credential.Store
	dispatcher  *dispatcher
	exclusion   ExclusionPolicy
	coordinator *refreshCoordinator
	terminator  *Terminator
	flows       flows.Service
	decoder     *jwt.Decoder
	throttle    *rate.Limiter
	audit       *auditDispatcher
	metrics     *Metrics
	log         *logrus.Entry
	closed      atomic.Bool
}

func (g *Gateway) ready() error {
	if g == nil || g.dispatcher == nil || g.coordinator == nil || !g.flows.Initialized() {
		return ErrGatewayNotReady
	}
	if g.closed.Load() {
		return ErrGatewayClosed
	}
	return nil
}

/*
====================================
REQUESTS
====================================
*/

// Do sends req with the current access token.
//
// A 401 on a path outside the exclusion policy joins the refresh episode (starting one
// if needed) and, once the episode succeeds, req is replayed exactly once with the new
// token. If the episode fails the session is terminated and the returned error matches
// [ErrSessionExpired]. A 401 that comes back from Do was one the gateway declined to
// recover: an excluded path or a replay that was rejected again. [Classify] reports it
// as [FailurePassthrough].
//
// req is not modified.
func (g *Gateway) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.New("authgate: nil request")
	}

	r := req.clone()
	for {
		resp, err := g.dispatcher.execute(ctx, r)
		if err == nil || !errors.Is(err, ErrUnauthorized) {
			return resp, err
		}

		log := g.log.WithFields(logrus.Fields{"request_id": r.ID, "path": r.routePath()})
		switch {
		case g.exclusion.Excluded(r.routePath()):
			g.metrics.Inc(MetricExcludedUnauthorized)
			return nil, decline(err)
		case r.retried:
			g.metrics.Inc(MetricRetryExhausted)
			log.Debug("authgate: replay rejected, not refreshing again")
			return nil, decline(err)
		}

		if werr := g.coordinator.await(ctx, r.ID, r.sentWith); werr != nil {
			log.WithError(werr).Debug("authgate: request released with failure")
			return nil, werr
		}
		r.retried = true
		g.metrics.Inc(MetricReplayed)
	}
}

// Get issues a GET for path with optional query parameters.
func (g *Gateway) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	req := NewRequest(http.MethodGet, path, nil)
	req.Query = query
	return g.Do(ctx, req)
}

// PostJSON sends v as a JSON body.
func (g *Gateway) PostJSON(ctx context.Context, path string, v any) (*Response, error) {
	return g.doJSON(ctx, http.MethodPost, path, v)
}

// PutJSON sends v as a JSON body.
func (g *Gateway) PutJSON(ctx context.Context, path string, v any) (*Response, error) {
	return g.doJSON(ctx, http.MethodPut, path, v)
}

// PatchJSON sends v as a JSON body.
func (g *Gateway) PatchJSON(ctx context.Context, path string, v any) (*Response, error) {
	return g.doJSON(ctx, http.MethodPatch, path, v)
}

// Delete issues a DELETE for path.
func (g *Gateway) Delete(ctx context.Context, path string) (*Response, error) {
	return g.Do(ctx, NewRequest(http.MethodDelete, path, nil))
}

func (g *Gateway) doJSON(ctx context.Context, method, path string, v any) (*Response, error) {
	req, err := NewJSONRequest(method, path, v)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
	}
	return g.Do(ctx, req)
}

/*
====================================
REFRESH
====================================
*/

// refresh is the coordinator's refresh call. It runs once per episode.
func (g *Gateway) refresh(ctx context.Context) error {
	email := g.currentEmail()
	g.metrics.Inc(MetricRefreshStarted)
	g.emitAudit(ctx, AuditRefreshStarted, true, email, nil, nil)

	res := g.flows.Refresh(ctx)
	if res.Failure != flows.RefreshFailureNone {
		return g.refreshFailed(ctx, email, &RefreshError{
			Reason:     res.Failure.String(),
			StatusCode: res.StatusCode,
			Err:        res.Err,
		})
	}

	if err := g.store.Write(ctx, res.Credential, res.Identity); err != nil {
		return g.refreshFailed(ctx, email, &RefreshError{Reason: "persist", Err: err})
	}

	g.metrics.Inc(MetricRefreshSuccess)
	g.emitAudit(ctx, AuditRefreshSuccess, true, res.Identity.Email, nil, nil)
	return nil
}

func (g *Gateway) refreshFailed(ctx context.Context, email string, err *RefreshError) error {
	g.metrics.Inc(MetricRefreshFailure)
	g.emitAudit(ctx, AuditRefreshFailure, false, email, err, func() map[string]string {
		return map[string]string{"reason": err.Reason}
	})
	return err
}

// terminate is the coordinator's failure hook. It runs before queued callers are
// rejected.
func (g *Gateway) terminate(ctx context.Context, cause error) {
	g.endSession(ctx, TerminationRefreshFailed, cause)
}

func (g *Gateway) endSession(ctx context.Context, reason string, cause error) bool {
	email := g.currentEmail()
	if !g.terminator.Terminate(ctx, reason) {
		return false
	}
	g.emitAudit(ctx, AuditSessionTerminated, true, email, cause, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return true
}

/*
====================================
SESSION
====================================
*/

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type activationRequest struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Login exchanges email and password for a session. A 4xx answer returns an error
// matching [ErrInvalidCredentials]; the previous session, if any, is kept.
// With Config.Throttle set, an email over its failed-attempt budget gets
// [ErrLoginThrottled] without contacting the API.
func (g *Gateway) Login(ctx context.Context, email, password string) (credential.Identity, error) {
	if err := g.ready(); err != nil {
		return credential.Identity{}, err
	}
	if err := g.checkThrottle(ctx, email); err != nil {
		g.metrics.Inc(MetricLoginThrottled)
		g.emitAudit(ctx, AuditLoginFailure, false, email, err, nil)
		return credential.Identity{}, err
	}

	path := g.config.Endpoints.Authenticate
	res := g.flows.Exchange(ctx, path, loginRequest{Email: email, Password: password})
	id, err := g.adoptExchange(ctx, path, res)
	if err != nil {
		g.metrics.Inc(MetricLoginFailure)
		if errors.Is(err, ErrInvalidCredentials) {
			g.recordRejectedLogin(ctx, email)
		}
		g.emitAudit(ctx, AuditLoginFailure, false, email, err, nil)
		return credential.Identity{}, err
	}
	if g.throttle != nil {
		if rerr := g.throttle.ResetLogin(ctx, email); rerr != nil {
			g.log.WithError(rerr).Warn("authgate: could not reset login throttle")
		}
	}
	g.metrics.Inc(MetricLoginSuccess)
	g.emitAudit(ctx, AuditLoginSuccess, true, id.Email, nil, func() map[string]string {
		return map[string]string{"method": "password"}
	})
	return id, nil
}

// checkThrottle fails open when Redis is unreachable.
func (g *Gateway) checkThrottle(ctx context.Context, email string) error {
	if g.throttle == nil {
		return nil
	}
	err := g.throttle.CheckLogin(ctx, email)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrLoginThrottled
	default:
		g.log.WithError(err).Warn("authgate: login throttle unavailable")
		return nil
	}
}

func (g *Gateway) recordRejectedLogin(ctx context.Context, email string) {
	if g.throttle == nil {
		return
	}
	if err := g.throttle.IncrementLogin(ctx, email); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		g.log.WithError(err).Warn("authgate: could not record rejected login")
	}
}

// ActivateAccount redeems an activation code and signs the user in.
func (g *Gateway) ActivateAccount(ctx context.Context, code string) (credential.Identity, error) {
	if err := g.ready(); err != nil {
		return credential.Identity{}, err
	}
	if strings.TrimSpace(code) == "" {
		return credential.Identity{}, fmt.Errorf("%w: empty activation code", ErrInvalidCredentials)
	}
	path := g.config.Endpoints.ActivateAccount
	res := g.flows.Exchange(ctx, path, activationRequest{Token: code})
	id, err := g.adoptExchange(ctx, path, res)
	if err != nil {
		g.metrics.Inc(MetricLoginFailure)
		g.emitAudit(ctx, AuditLoginFailure, false, "", err, func() map[string]string {
			return map[string]string{"method": "activation"}
		})
		return credential.Identity{}, err
	}
	g.metrics.Inc(MetricLoginSuccess)
	g.emitAudit(ctx, AuditLoginSuccess, true, id.Email, nil, func() map[string]string {
		return map[string]string{"method": "activation"}
	})
	return id, nil
}

// ForgotPassword asks the API to send a reset link to email. It does not touch the
// session.
func (g *Gateway) ForgotPassword(ctx context.Context, email string) error {
	_, err := g.PostJSON(ctx, g.config.Endpoints.ForgotPassword, forgotPasswordRequest{Email: email})
	return err
}

// ResetPassword sets a new password using the token from a reset link. It does not
// touch the session; the user signs in afterwards.
func (g *Gateway) ResetPassword(ctx context.Context, token, password string) error {
	_, err := g.PostJSON(ctx, g.config.Endpoints.ResetPassword, resetPasswordRequest{Token: token, Password: password})
	return err
}

// CompleteRedirect adopts the token pair carried by a sign-in redirect (account
// activation link or third-party provider callback). query must hold token and
// refreshToken; provider is optional.
func (g *Gateway) CompleteRedirect(ctx context.Context, query url.Values) (credential.Identity, error) {
	if err := g.ready(); err != nil {
		return credential.Identity{}, err
	}
	cred := credential.Credential{
		AccessToken:  strings.TrimSpace(query.Get("token")),
		RefreshToken: strings.TrimSpace(query.Get("refreshToken")),
	}
	if !cred.Complete() {
		g.metrics.Inc(MetricLoginFailure)
		g.emitAudit(ctx, AuditLoginFailure, false, "", ErrInvalidRedirect, func() map[string]string {
			return map[string]string{"method": "redirect"}
		})
		return credential.Identity{}, ErrInvalidRedirect
	}

	provider := strings.TrimSpace(query.Get("provider"))
	if provider == "" {
		provider = g.config.Session.DefaultProvider
	}
	id, err := g.identityFromToken(cred.AccessToken)
	if err != nil {
		g.log.WithError(err).Debug("authgate: redirect token claims unreadable")
		id = credential.Identity{}
	}
	id.Provider = provider

	if err := g.store.Write(ctx, cred, id); err != nil {
		return credential.Identity{}, err
	}
	g.metrics.Inc(MetricLoginSuccess)
	g.emitAudit(ctx, AuditSessionAdopted, true, id.Email, nil, func() map[string]string {
		return map[string]string{"method": "redirect", "provider": provider}
	})
	return id, nil
}

// Logout ends the session locally and notifies the termination handler. It returns
// [ErrNoSession] when there was nothing to end.
func (g *Gateway) Logout(ctx context.Context) error {
	if err := g.ready(); err != nil {
		return err
	}
	if !g.endSession(ctx, TerminationLogout, nil) {
		return ErrNoSession
	}
	g.metrics.Inc(MetricLogout)
	g.emitAudit(ctx, AuditLogout, true, "", nil, nil)
	return nil
}

// Restore loads a persisted session at startup. A partially persisted session is
// discarded and reported as absent.
func (g *Gateway) Restore(ctx context.Context) (credential.Identity, bool, error) {
	if err := g.ready(); err != nil {
		return credential.Identity{}, false, err
	}
	sess, ok, err := g.store.Restore(ctx)
	if err != nil {
		return credential.Identity{}, false, err
	}
	if !ok {
		return credential.Identity{}, false, nil
	}
	g.metrics.Inc(MetricSessionRestored)
	g.emitAudit(ctx, AuditSessionRestored, true, sess.Identity.Email, nil, nil)
	return sess.Identity, true, nil
}

// Identity returns the signed-in user.
func (g *Gateway) Identity() (credential.Identity, bool) {
	if g == nil || g.store == nil {
		return credential.Identity{}, false
	}
	sess, ok := g.store.Read()
	return sess.Identity, ok
}

// Authenticated reports whether a session is held.
func (g *Gateway) Authenticated() bool {
	_, ok := g.Identity()
	return ok
}

func (g *Gateway) currentEmail() string {
	id, _ := g.Identity()
	return id.Email
}

func (g *Gateway) adoptExchange(ctx context.Context, path string, res flows.ExchangeResult) (credential.Identity, error) {
	switch res.Failure {
	case flows.ExchangeFailureNone:
	case flows.ExchangeFailureRejected:
		return credential.Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, &HTTPError{
			Method:     http.MethodPost,
			Path:       path,
			StatusCode: res.StatusCode,
			Body:       res.Payload,
		})
	case flows.ExchangeFailureStatus:
		return credential.Identity{}, &HTTPError{
			Method:     http.MethodPost,
			Path:       path,
			StatusCode: res.StatusCode,
			Body:       res.Payload,
		}
	case flows.ExchangeFailureTransport:
		return credential.Identity{}, res.Err
	case flows.ExchangeFailureDecode, flows.ExchangeFailureMissingToken:
		return credential.Identity{}, fmt.Errorf("%w: %v", ErrInvalidTokenResponse, res.Err)
	default:
		return credential.Identity{}, fmt.Errorf("authgate: %s: %w", path, res.Err)
	}

	if err := g.store.Write(ctx, res.Credential, res.Identity); err != nil {
		return credential.Identity{}, err
	}
	return res.Identity, nil
}

func (g *Gateway) identityFromToken(token string) (credential.Identity, error) {
	claims, err := g.decoder.Decode(token)
	if err != nil {
		return credential.Identity{}, err
	}
	email := claims.Email
	if email == "" {
		email = claims.Subject
	}
	return credential.Identity{
		Email:       email,
		DisplayName: claims.Name,
		Role:        claims.Role,
		Provider:    claims.Provider,
	}, nil
}

/*
====================================
INTROSPECTION
====================================
*/

// RefreshState reports whether a refresh episode is in flight.
func (g *Gateway) RefreshState() RefreshState {
	if g == nil || g.coordinator == nil {
		return RefreshIdle
	}
	state, _ := g.coordinator.snapshot()
	return state
}

// QueueLen reports how many callers are waiting on the current episode.
func (g *Gateway) QueueLen() int {
	if g == nil || g.coordinator == nil {
		return 0
	}
	_, n := g.coordinator.snapshot()
	return n
}

// RefreshEpisodes reports how many refresh episodes have started.
func (g *Gateway) RefreshEpisodes() uint64 {
	if g == nil || g.coordinator == nil {
		return 0
	}
	return g.coordinator.episodeCount()
}

// Exclusion returns the exclusion policy in effect.
func (g *Gateway) Exclusion() ExclusionPolicy {
	if g == nil {
		return ExclusionPolicy{}
	}
	return g.exclusion
}

// MetricsSnapshot returns the gateway's counters, empty when metrics are disabled.
func (g *Gateway) MetricsSnapshot() MetricsSnapshot {
	if g == nil || g.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return g.metrics.Snapshot()
}

// AuditDropped reports how many audit events were dropped because the buffer was full.
func (g *Gateway) AuditDropped() uint64 {
	if g == nil || g.audit == nil {
		return 0
	}
	return g.audit.Dropped()
}

// Close stops accepting requests, waits for an in-flight refresh episode to finish and
// flushes the audit buffer. The persisted session is kept.
func (g *Gateway) Close() {
	if g == nil || !g.closed.CompareAndSwap(false, true) {
		return
	}
	if g.coordinator != nil {
		g.coordinator.wait()
	}
	if g.audit != nil {
		g.audit.Close()
	}
}
