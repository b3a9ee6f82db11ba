package authgate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"
)

type callResult struct {
	resp *Response
	err  error
}

func fireConcurrent(g *Gateway, ctx context.Context, paths []string) []callResult {
	results := make([]callResult, len(paths))
	var wg sync.WaitGroup
	wg.Add(len(paths))
	for i, p := range paths {
		go func(i int, p string) {
			defer wg.Done()
			resp, err := g.Get(ctx, p, nil)
			results[i] = callResult{resp: resp, err: err}
		}(i, p)
	}
	wg.Wait()
	return results
}

func TestFiveConcurrentExpiredCallsShareOneRefresh(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)
	oldAccess := sessionOf(t, g).AccessToken

	u.expire()
	u.hold()

	paths := []string{"/api/products", "/api/cart", "/api/orders", "/api/scene/1", "/api/profile"}
	done := make(chan []callResult, 1)
	go func() { done <- fireConcurrent(g, context.Background(), paths) }()

	waitFor(t, "five queued callers", func() bool { return g.QueueLen() == len(paths) })
	if got := g.RefreshState(); got != RefreshRefreshing {
		t.Fatalf("expected refreshing state, got %v", got)
	}
	u.release()

	results := <-done
	for i, r := range results {
		if r.err != nil {
			t.Fatalf("call %d failed: %v", i, r.err)
		}
		if !r.resp.Replayed {
			t.Fatalf("call %d expected replayed response", i)
		}
		var body map[string]string
		if err := r.resp.DecodeJSON(&body); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if body["path"] != paths[i] {
			t.Fatalf("call %d got path %q want %q", i, body["path"], paths[i])
		}
		if body["token"] == oldAccess {
			t.Fatalf("call %d replayed with the old token", i)
		}
	}

	if got := u.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", got)
	}
	if got := g.RefreshState(); got != RefreshIdle {
		t.Fatalf("expected idle state, got %v", got)
	}
	if got := g.QueueLen(); got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}
	if sessionOf(t, g).AccessToken != u.currentAccess() {
		t.Fatalf("store does not hold the refreshed access token")
	}
}

func TestManyConcurrentExpiredCallsShareOneRefresh(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)
	u.expire()

	const n = 64
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("/api/items/%d", i)
	}

	for i, r := range fireConcurrent(g, context.Background(), paths) {
		if r.err != nil {
			t.Fatalf("call %d failed: %v", i, r.err)
		}
	}

	if got := u.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", got)
	}
	if got := g.RefreshEpisodes(); got != 1 {
		t.Fatalf("expected 1 refresh episode, got %d", got)
	}
}

func TestRefreshFailureRejectsEveryQueuedCaller(t *testing.T) {
	u := newFakeUpstream(t)
	g, rec := newSignedInGateway(t, u, nil)

	u.expire()
	u.failRefresh.Store(true)
	u.hold()

	paths := []string{"/api/a", "/api/b", "/api/c", "/api/d", "/api/e"}
	done := make(chan []callResult, 1)
	go func() { done <- fireConcurrent(g, context.Background(), paths) }()

	waitFor(t, "five queued callers", func() bool { return g.QueueLen() == len(paths) })
	u.release()

	for i, r := range <-done {
		if r.err == nil {
			t.Fatalf("call %d expected failure", i)
		}
		if !errors.Is(r.err, ErrSessionExpired) || !errors.Is(r.err, ErrRefreshFailed) {
			t.Fatalf("call %d expected session expired, got %v", i, r.err)
		}
		if Classify(r.err) != FailureRefresh {
			t.Fatalf("call %d expected refresh failure class, got %v", i, Classify(r.err))
		}
		var refreshErr *RefreshError
		if !errors.As(r.err, &refreshErr) || refreshErr.StatusCode != http.StatusUnauthorized {
			t.Fatalf("call %d expected RefreshError with status 401, got %v", i, r.err)
		}
	}

	if got := u.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", got)
	}
	if g.Authenticated() {
		t.Fatalf("expected store cleared after failed refresh")
	}
	if got := rec.count(); got != 1 {
		t.Fatalf("expected one termination notice, got %d", got)
	}
	if rec.calls[0].Reason != TerminationRefreshFailed || rec.calls[0].LoginURL != "/login" {
		t.Fatalf("unexpected termination %+v", rec.calls[0])
	}
	if got := g.RefreshState(); got != RefreshIdle {
		t.Fatalf("expected idle state, got %v", got)
	}
}

func TestRefreshResponseMissingTokenFailsEpisode(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)

	u.expire()
	u.omitRefresh.Store(true)

	_, err := g.Get(context.Background(), "/api/products", nil)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) || refreshErr.Reason != "missing_token" {
		t.Fatalf("expected missing_token reason, got %v", err)
	}
	if g.Authenticated() {
		t.Fatalf("expected store cleared")
	}
}

func TestUnauthorizedWithoutSessionTerminatesWithoutRefreshCall(t *testing.T) {
	u := newFakeUpstream(t)
	g, rec := newTestGateway(t, u, nil)

	_, err := g.Get(context.Background(), "/api/products", nil)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if got := u.refreshCalls.Load(); got != 0 {
		t.Fatalf("expected no refresh call without a refresh token, got %d", got)
	}
	if got := rec.count(); got != 0 {
		t.Fatalf("expected no termination notice for an empty store, got %d", got)
	}
}

func TestExcludedPathUnauthorizedNeverRefreshes(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)

	_, err := g.Get(context.Background(), "/public/banner", nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected HTTPError 401, got %v", err)
	}
	if Classify(err) != FailurePassthrough {
		t.Fatalf("expected an excluded 401 to classify as passthrough, got %v", Classify(err))
	}

	err = g.ForgotPassword(context.Background(), "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized from forgot-password, got %v", err)
	}
	if Classify(err) != FailurePassthrough {
		t.Fatalf("expected forgot-password 401 to classify as passthrough, got %v", Classify(err))
	}

	if _, err := g.Login(context.Background(), testEmail, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	if got := u.refreshCalls.Load(); got != 0 {
		t.Fatalf("expected no refresh calls, got %d", got)
	}
	if got := g.MetricsSnapshot().Counters[MetricExcludedUnauthorized]; got != 2 {
		t.Fatalf("expected 2 excluded unauthorized, got %d", got)
	}
	if !g.Authenticated() {
		t.Fatalf("excluded 401s must not end the session")
	}
}

func TestExcludedPathUnauthorizedDuringRefreshIsNotQueued(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)

	u.expire()
	u.hold()

	done := make(chan error, 1)
	go func() {
		_, err := g.Get(context.Background(), "/api/products", nil)
		done <- err
	}()
	waitFor(t, "refresh in flight", func() bool { return g.QueueLen() == 1 })

	_, err := g.Get(context.Background(), "/public/banner", nil)
	if !errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected plain unauthorized, got %v", err)
	}
	if got := g.QueueLen(); got != 1 {
		t.Fatalf("excluded request must not join the queue, queue=%d", got)
	}

	u.release()
	if err := <-done; err != nil {
		t.Fatalf("queued call failed: %v", err)
	}
	if got := u.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
}

func TestReplayRejectedAgainDoesNotLoop(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)

	_, err := g.Get(context.Background(), "/api/always-401", nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if Classify(err) != FailurePassthrough {
		t.Fatalf("expected a rejected replay to classify as passthrough, got %v", Classify(err))
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || !httpErr.Declined() {
		t.Fatalf("expected a declined HTTPError, got %v", err)
	}
	if got := u.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", got)
	}

	snap := g.MetricsSnapshot()
	if snap.Counters[MetricRetryExhausted] != 1 {
		t.Fatalf("expected retry exhausted=1, got %d", snap.Counters[MetricRetryExhausted])
	}
	if snap.Counters[MetricReplayed] != 1 {
		t.Fatalf("expected replayed=1, got %d", snap.Counters[MetricReplayed])
	}
	if !g.Authenticated() {
		t.Fatalf("a successful refresh keeps the session")
	}
}

func TestPassthroughFailuresSkipRefresh(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)

	_, err := g.Get(context.Background(), "/api/fail", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected HTTPError 500, got %v", err)
	}
	if !errors.Is(err, ErrPassthrough) || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected passthrough classification, got %v", err)
	}
	if Classify(err) != FailurePassthrough {
		t.Fatalf("expected passthrough class, got %v", Classify(err))
	}
	if got := u.refreshCalls.Load(); got != 0 {
		t.Fatalf("expected no refresh calls, got %d", got)
	}
}

func TestTransportFailureIsPassthrough(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)
	u.server.Close()

	_, err := g.Get(context.Background(), "/api/products", nil)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, ErrPassthrough) {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if !g.Authenticated() {
		t.Fatalf("transport failures must not end the session")
	}
}

func TestQueueBoundRejectsExtraCallers(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, func(cfg *Config, _ *Builder) {
		cfg.Refresh.MaxQueued = 2
	})

	u.expire()
	u.hold()

	done := make(chan []callResult, 1)
	go func() { done <- fireConcurrent(g, context.Background(), []string{"/api/a", "/api/b"}) }()
	waitFor(t, "two queued callers", func() bool { return g.QueueLen() == 2 })

	_, err := g.Get(context.Background(), "/api/c", nil)
	if !errors.Is(err, ErrRefreshQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}

	u.release()
	for i, r := range <-done {
		if r.err != nil {
			t.Fatalf("queued call %d failed: %v", i, r.err)
		}
	}
	if got := g.MetricsSnapshot().Counters[MetricQueueRejected]; got != 1 {
		t.Fatalf("expected queue rejected=1, got %d", got)
	}
}

func TestRefreshTimeoutFailsEpisode(t *testing.T) {
	u := newFakeUpstream(t)
	g, rec := newSignedInGateway(t, u, func(cfg *Config, _ *Builder) {
		cfg.Refresh.Timeout = 50 * time.Millisecond
	})

	u.expire()
	u.hold()
	defer u.release()

	_, err := g.Get(context.Background(), "/api/products", nil)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded cause, got %v", err)
	}
	if got := rec.count(); got != 1 {
		t.Fatalf("expected one termination, got %d", got)
	}
}

func TestCallerCancelWhileQueuedLeavesEpisodeRunning(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)

	u.expire()
	u.hold()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Get(ctx, "/api/products", nil)
		done <- err
	}()
	waitFor(t, "queued caller", func() bool { return g.QueueLen() == 1 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}

	u.release()
	waitFor(t, "episode to finish", func() bool { return g.RefreshState() == RefreshIdle })
	if !g.Authenticated() {
		t.Fatalf("refresh should still complete after the first caller left")
	}
	if got := u.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
}

func TestSequentialEpisodesEachRefreshOnce(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)

	for i := 1; i <= 3; i++ {
		u.expire()
		if _, err := g.Get(context.Background(), "/api/products", nil); err != nil {
			t.Fatalf("episode %d: %v", i, err)
		}
		if got := u.refreshCalls.Load(); got != int32(i) {
			t.Fatalf("episode %d: expected %d refresh calls, got %d", i, i, got)
		}
	}
}

func TestDoLeavesCallerRequestUntouched(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newSignedInGateway(t, u, nil)
	u.expire()

	req, err := NewJSONRequest(http.MethodPost, "/api/cart", map[string]int{"qty": 2})
	if err != nil {
		t.Fatalf("NewJSONRequest failed: %v", err)
	}
	req.Query = url.Values{"store": {"7"}}

	resp, err := g.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if req.retried || req.ID != "" {
		t.Fatalf("caller request was mutated: retried=%v id=%q", req.retried, req.ID)
	}
	if !resp.Replayed {
		t.Fatalf("expected the answer to come from the replay")
	}

	var body map[string]string
	if err := resp.DecodeJSON(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["body"] != `{"qty":2}` || body["query"] != "store=7" || body["method"] != http.MethodPost {
		t.Fatalf("replay lost request data: %+v", body)
	}
	if body["request_id"] != resp.RequestID || resp.RequestID == "" {
		t.Fatalf("expected request id echoed, got %q vs %q", body["request_id"], resp.RequestID)
	}
}

func TestClosedGatewayRejectsRequests(t *testing.T) {
	u := newFakeUpstream(t)
	g, _ := newTestGateway(t, u, nil)
	g.Close()
	g.Close()

	if _, err := g.Get(context.Background(), "/api/products", nil); !errors.Is(err, ErrGatewayClosed) {
		t.Fatalf("expected gateway closed, got %v", err)
	}

	var zero Gateway
	if _, err := zero.Get(context.Background(), "/api/products", nil); !errors.Is(err, ErrGatewayNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}
