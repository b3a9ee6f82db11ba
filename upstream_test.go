package authgate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authgate/credential"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/sirupsen/logrus"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-password-123"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

// fakeUpstream is a storefront API with rotating token pairs. Protected routes under
// /api accept only the current access token.
type fakeUpstream struct {
	t      testing.TB
	server *httptest.Server
	issuer *jwt.Issuer

	mu      sync.Mutex
	access  string
	refresh string
	serial  int

	refreshCalls atomic.Int32
	failRefresh  atomic.Bool
	omitRefresh  atomic.Bool

	gateMu     sync.Mutex
	gate       chan struct{}
	gateClosed bool
}

func newFakeUpstream(t testing.TB) *fakeUpstream {
	t.Helper()

	issuer, err := jwt.NewIssuer(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(testSecret),
		AccessTTL:     time.Minute,
	})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	u := &fakeUpstream{t: t, issuer: issuer}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/authenticate", u.handleAuthenticate)
	mux.HandleFunc("/auth/refresh-token", u.handleRefresh)
	mux.HandleFunc("/auth/activate-account", u.handleActivate)
	mux.HandleFunc("/auth/forgot-password", u.handleForgot)
	mux.HandleFunc("/auth/reset-password", u.handleReset)
	mux.HandleFunc("/public/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/", u.handleProtected)
	u.server = httptest.NewServer(mux)

	t.Cleanup(u.close)
	return u
}

func (u *fakeUpstream) URL() string { return u.server.URL }

func (u *fakeUpstream) close() {
	u.release()
	u.server.Close()
}

// hold makes refresh calls block until release.
func (u *fakeUpstream) hold() {
	u.gateMu.Lock()
	defer u.gateMu.Unlock()
	u.gate = make(chan struct{})
	u.gateClosed = false
}

func (u *fakeUpstream) release() {
	u.gateMu.Lock()
	defer u.gateMu.Unlock()
	if u.gate != nil && !u.gateClosed {
		close(u.gate)
		u.gateClosed = true
	}
}

// expire invalidates the access token the client holds without rotating the refresh
// token.
func (u *fakeUpstream) expire() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.access = "expired"
}

func (u *fakeUpstream) currentAccess() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.access
}

func (u *fakeUpstream) issuePair(email string) (string, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.issuePairLocked(email)
}

func (u *fakeUpstream) issuePairLocked(email string) (string, string) {
	u.serial++
	claims := jwt.Claims{Email: email, Name: "Alice", Role: "customer"}
	claims.ID = fmt.Sprintf("access-%d", u.serial)
	access, err := u.issuer.Issue(claims)
	if err != nil {
		u.t.Errorf("issue failed: %v", err)
	}
	u.access = access
	u.refresh = fmt.Sprintf("refresh-%d", u.serial)
	return u.access, u.refresh
}

func (u *fakeUpstream) writePair(w http.ResponseWriter, withUser bool) {
	access, refresh := u.issuePairLocked(testEmail)
	body := map[string]any{"token": access, "refreshToken": refresh}
	if u.omitRefresh.Load() {
		delete(body, "refreshToken")
	}
	if withUser {
		body["user"] = map[string]string{"email": testEmail, "name": "Alice", "role": "customer"}
	}
	writeJSON(w, http.StatusOK, body)
}

func (u *fakeUpstream) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}
	if req.Email != testEmail || req.Password != testPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.writePair(w, true)
}

func (u *fakeUpstream) handleRefresh(w http.ResponseWriter, r *http.Request) {
	u.refreshCalls.Add(1)

	u.gateMu.Lock()
	gate := u.gate
	u.gateMu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if u.failRefresh.Load() {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if req.RefreshToken == "" || req.RefreshToken != u.refresh {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	u.writePair(w, false)
}

func (u *fakeUpstream) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Token != "good-code" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid code"})
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.writePair(w, false)
}

func (u *fakeUpstream) handleForgot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Email == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (u *fakeUpstream) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Token != "reset-ok" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid token"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (u *fakeUpstream) handleProtected(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/fail":
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
		return
	case "/api/always-401":
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token != u.currentAccess() {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, map[string]string{
		"path":       r.URL.Path,
		"query":      r.URL.RawQuery,
		"method":     r.Method,
		"body":       string(body),
		"request_id": r.Header.Get("X-Request-ID"),
		"token":      token,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type terminationRecorder struct {
	mu    sync.Mutex
	calls []Termination
}

func (r *terminationRecorder) handle(_ context.Context, t Termination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, t)
}

func (r *terminationRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.HTTP.BaseURL = baseURL
	cfg.HTTP.Timeout = 5 * time.Second
	cfg.Refresh.Timeout = 5 * time.Second
	cfg.Exclusion.ExtraPaths = []string{"/public"}
	cfg.Token.SigningMethod = string(jwt.MethodHS256)
	cfg.Token.VerifyKey = []byte(testSecret)
	return cfg
}

func newTestGateway(t testing.TB, u *fakeUpstream, configure func(*Config, *Builder)) (*Gateway, *terminationRecorder) {
	t.Helper()

	rec := &terminationRecorder{}
	cfg := testConfig(u.URL())
	b := New().WithLogger(quietLogger()).WithTerminationHandler(rec.handle)
	if configure != nil {
		configure(&cfg, b)
	}
	g, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(g.Close)
	return g, rec
}

func newSignedInGateway(t testing.TB, u *fakeUpstream, configure func(*Config, *Builder)) (*Gateway, *terminationRecorder) {
	t.Helper()

	g, rec := newTestGateway(t, u, configure)
	if _, err := g.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return g, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func sessionOf(t *testing.T, g *Gateway) credential.Session {
	t.Helper()

	sess, ok := g.store.Read()
	if !ok {
		t.Fatalf("expected a session")
	}
	return sess
}
