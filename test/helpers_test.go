//go:build integration
// +build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// redisMode describes which Redis backend a test runs against.
type redisMode struct {
	name  string
	setup func(t *testing.T) redis.UniversalClient
}

// redisModes always includes miniredis. A real standalone Redis is added when
// REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { _ = rdb.Close(); mr.Close() })
				return rdb
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				t.Cleanup(func() { rdb.FlushDB(context.Background()); _ = rdb.Close() })
				return rdb
			},
		})
	}

	return modes
}

// storefront issues opaque rotating tokens. Protected routes accept only the newest
// access token.
type storefront struct {
	server       *httptest.Server
	refreshDelay time.Duration

	mu      sync.Mutex
	serial  int
	access  string
	refresh string

	refreshCalls atomic.Int64
}

func newStorefront(t *testing.T, refreshDelay time.Duration) *storefront {
	t.Helper()
	s := &storefront{refreshDelay: refreshDelay}
	s.server = httptest.NewServer(s)
	t.Cleanup(s.server.Close)
	return s
}

func (s *storefront) revoke() {
	s.mu.Lock()
	s.access = ""
	s.mu.Unlock()
}

func (s *storefront) issue(w http.ResponseWriter) {
	s.mu.Lock()
	s.serial++
	s.access = fmt.Sprintf("access-%d", s.serial)
	s.refresh = fmt.Sprintf("refresh-%d", s.serial)
	body := map[string]any{
		"token":        s.access,
		"refreshToken": s.refresh,
		"user":         map[string]string{"email": "carol@example.com", "name": "Carol", "role": "customer"},
	}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *storefront) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/authenticate":
		s.issue(w)
	case "/auth/refresh-token":
		s.refreshCalls.Add(1)
		time.Sleep(s.refreshDelay)
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		ok := req.RefreshToken != "" && req.RefreshToken == s.refresh
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.issue(w)
	default:
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		ok := token != "" && token == s.access
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}
}

func newGateway(t *testing.T, s *storefront, rdb redis.UniversalClient, configure func(*authgate.Config)) *authgate.Gateway {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := authgate.DefaultConfig()
	cfg.HTTP.BaseURL = s.server.URL
	cfg.Refresh.Timeout = 5 * time.Second
	if configure != nil {
		configure(&cfg)
	}

	gw, err := authgate.New().WithConfig(cfg).WithRedis(rdb).WithLogger(logger).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(gw.Close)
	return gw
}
