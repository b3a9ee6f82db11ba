package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	loadEmail    = "load@example.com"
	loadPassword = "load-password"
	loadSecret   = "loadtest-secret-0123456789abcdef"
)

// upstream is an in-process storefront API whose access tokens are revoked on demand.
type upstream struct {
	issuer       *jwt.Issuer
	refreshDelay time.Duration

	mu      sync.RWMutex
	access  string
	refresh string
	serial  int

	refreshCalls atomic.Int64
}

func (u *upstream) rotate() (string, string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.serial++
	claims := jwt.Claims{Email: loadEmail, Name: "Load", Role: "customer"}
	claims.ID = fmt.Sprintf("load-%d", u.serial)
	access, err := u.issuer.Issue(claims)
	if err != nil {
		return "", "", err
	}
	u.access = access
	u.refresh = fmt.Sprintf("refresh-%d", u.serial)
	return u.access, u.refresh, nil
}

func (u *upstream) revoke() {
	u.mu.Lock()
	u.access = ""
	u.mu.Unlock()
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/authenticate":
		u.issue(w)
	case "/auth/refresh-token":
		u.refreshCalls.Add(1)
		time.Sleep(u.refreshDelay)
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		u.mu.RLock()
		ok := req.RefreshToken == u.refresh
		u.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		u.issue(w)
	default:
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		u.mu.RLock()
		ok := token != "" && token == u.access
		u.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}
}

func (u *upstream) issue(w http.ResponseWriter) {
	access, refresh, err := u.rotate()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": access, "refreshToken": refresh})
}

func main() {
	var (
		calls        = flag.Int("calls", 2000, "calls per wave")
		concurrency  = flag.Int("concurrency", 128, "number of concurrent workers")
		waves        = flag.Int("waves", 5, "number of token expiries; each wave starts with a revoked token")
		refreshDelay = flag.Duration("refresh-delay", 50*time.Millisecond, "latency of the upstream refresh endpoint")
		redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		envFile      = flag.String("env-file", ".env", "optional env file with AUTHGATE_* settings")
		verbose      = flag.Bool("v", false, "log gateway events at debug level")
	)
	flag.Parse()

	if *calls <= 0 || *concurrency <= 0 || *waves <= 0 {
		fmt.Fprintln(os.Stderr, "calls, concurrency, and waves must be > 0")
		os.Exit(2)
	}

	cfg, err := authgate.LoadConfigFromEnv(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	issuer, err := jwt.NewIssuer(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(loadSecret),
		AccessTTL:     time.Hour,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuer: %v\n", err)
		os.Exit(1)
	}
	api := &upstream{issuer: issuer, refreshDelay: *refreshDelay}
	srv := httptest.NewServer(api)
	defer srv.Close()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	var client redis.UniversalClient
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer func() { _ = client.Close() }()

	cfg.HTTP.BaseURL = srv.URL
	cfg.Token.SigningMethod = string(jwt.MethodHS256)
	cfg.Token.VerifyKey = []byte(loadSecret)
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	var terminations atomic.Int64
	gw, err := authgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(logger).
		WithTerminationHandler(func(context.Context, authgate.Termination) { terminations.Add(1) }).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build gateway: %v\n", err)
		os.Exit(1)
	}
	defer gw.Close()

	ctx := context.Background()
	if _, err := gw.Login(ctx, loadEmail, loadPassword); err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		os.Exit(1)
	}

	var all []phaseStats
	for w := 0; w < *waves; w++ {
		api.revoke()
		s := runWave(ctx, gw, *calls, *concurrency)
		all = append(all, s)
		printStats(fmt.Sprintf("wave %d", w+1), s)
	}

	snap := gw.MetricsSnapshot()
	fmt.Println("---- results ----")
	fmt.Printf("waves=%d refresh_calls=%d episodes=%d joined=%d replayed=%d stale_replays=%d terminations=%d\n",
		*waves,
		api.refreshCalls.Load(),
		gw.RefreshEpisodes(),
		snap.Counters[authgate.MetricRefreshJoined],
		snap.Counters[authgate.MetricReplayed],
		snap.Counters[authgate.MetricStaleTokenReplay],
		terminations.Load(),
	)
	printLatency(snap.Histograms[authgate.MetricDispatchLatency])

	var failures int64
	for _, s := range all {
		failures += s.failures
	}
	if api.refreshCalls.Load() != int64(*waves) || failures > 0 {
		fmt.Fprintln(os.Stderr, "FAIL: expected one refresh call per wave and no failed calls")
		os.Exit(1)
	}
}

func runWave(ctx context.Context, gw *authgate.Gateway, calls, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, calls)
		mu        sync.Mutex
		firstErr  error
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= calls {
					return
				}
				t0 := time.Now()
				_, err := gw.Get(ctx, "/api/products", nil)
				d := time.Since(t0)

				mu.Lock()
				latencies = append(latencies, d)
				if err != nil {
					failures++
					if firstErr == nil {
						firstErr = err
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		reason := "error"
		if errors.Is(firstErr, authgate.ErrSessionExpired) {
			reason = "session expired"
		}
		fmt.Fprintf(os.Stderr, "first failure (%s): %v\n", reason, firstErr)
	}
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: calls=%d failures=%d total=%s calls/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

var latencyBounds = []string{"5ms", "10ms", "25ms", "50ms", "100ms", "250ms", "500ms", "+Inf"}

func printLatency(buckets []uint64) {
	if len(buckets) == 0 {
		return
	}
	parts := make([]string, 0, len(buckets))
	for i, n := range buckets {
		if i >= len(latencyBounds) {
			break
		}
		parts = append(parts, fmt.Sprintf("<=%s:%d", latencyBounds[i], n))
	}
	fmt.Printf("dispatch latency: %s\n", strings.Join(parts, " "))
}
