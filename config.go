package authgate

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/jwt"
)

// Config is the full gateway configuration. The Builder copies it, so later changes to
// a Config value do not affect a built Gateway.
type Config struct {
	HTTP      HTTPConfig
	Endpoints EndpointConfig
	Exclusion ExclusionConfig
	Refresh   RefreshConfig
	Session   SessionConfig
	Throttle  LoginThrottleConfig
	Token     TokenConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
HTTP CONFIG
====================================
*/

// HTTPConfig controls the outbound HTTP client.
type HTTPConfig struct {
	BaseURL          string
	Timeout          time.Duration
	UserAgent        string
	MaxResponseBytes int64
}

/*
====================================
ENDPOINT CONFIG
====================================
*/

// EndpointConfig names the auth endpoints, relative to HTTPConfig.BaseURL.
type EndpointConfig struct {
	Authenticate    string
	RefreshToken    string
	ForgotPassword  string
	ResetPassword   string
	ActivateAccount string
}

func (e EndpointConfig) all() []string {
	return []string{
		e.Authenticate,
		e.RefreshToken,
		e.ForgotPassword,
		e.ResetPassword,
		e.ActivateAccount,
	}
}

// ExclusionConfig adds paths that must never trigger a refresh on top of the auth
// endpoints, which are always excluded.
type ExclusionConfig struct {
	ExtraPaths []string
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig bounds a refresh episode.
type RefreshConfig struct {
	// Timeout caps the refresh call. A hung refresh fails the episode once it elapses.
	Timeout time.Duration
	// MaxQueued bounds the wait queue. Zero means unbounded.
	MaxQueued int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session persistence and termination.
type SessionConfig struct {
	RedisPrefix string
	// PersistTTL expires a persisted session that is not rewritten in time. Zero keeps it.
	PersistTTL time.Duration
	// LoginURL is handed to the termination handler as the re-authentication entry point.
	LoginURL string
	// DefaultProvider labels identities from password login when the API does not say.
	DefaultProvider string
}

// LoginThrottleConfig limits failed password logins per email. It needs a Redis client
// (see [Builder.WithRedis]); without one it is ignored.
type LoginThrottleConfig struct {
	// MaxAttempts is the number of rejected logins allowed per Cooldown window. Zero
	// disables the throttle.
	MaxAttempts int
	Cooldown    time.Duration
}

// TokenConfig configures how identity claims are read from access tokens. An empty
// SigningMethod reads claims without verifying them.
type TokenConfig struct {
	SigningMethod string // "", "ed25519", "hs256"
	VerifyKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// AuditConfig controls the background audit buffer. With DropIfFull false, Emit blocks
// while the buffer is full.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used by [New].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:          30 * time.Second,
			UserAgent:        "authgate/1",
			MaxResponseBytes: 8 << 20,
		},
		Endpoints: EndpointConfig{
			Authenticate:    "/auth/authenticate",
			RefreshToken:    "/auth/refresh-token",
			ForgotPassword:  "/auth/forgot-password",
			ResetPassword:   "/auth/reset-password",
			ActivateAccount: "/auth/activate-account",
		},
		Refresh: RefreshConfig{
			Timeout:   15 * time.Second,
			MaxQueued: 0,
		},
		Session: SessionConfig{
			RedisPrefix:     "authgate",
			PersistTTL:      0,
			LoginURL:        "/login",
			DefaultProvider: "local",
		},
		Throttle: LoginThrottleConfig{
			MaxAttempts: 0,
			Cooldown:    15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.VerifyKey = cloneBytes(cfg.Token.VerifyKey)
	if cfg.Exclusion.ExtraPaths != nil {
		out.Exclusion.ExtraPaths = append([]string(nil), cfg.Exclusion.ExtraPaths...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// HTTP
	if strings.TrimSpace(c.HTTP.BaseURL) == "" {
		return errors.New("HTTP BaseURL is required")
	}
	u, err := url.Parse(c.HTTP.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("HTTP BaseURL must be an absolute http(s) URL")
	}
	if c.HTTP.Timeout < 0 {
		return errors.New("HTTP Timeout must be >= 0")
	}
	if c.HTTP.MaxResponseBytes <= 0 {
		return errors.New("HTTP MaxResponseBytes must be > 0")
	}

	// Endpoints
	for _, p := range c.Endpoints.all() {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Endpoints must be non-empty absolute paths")
		}
	}
	for _, p := range c.Exclusion.ExtraPaths {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Exclusion ExtraPaths must be absolute paths")
		}
	}

	// Refresh
	if c.Refresh.Timeout <= 0 {
		return errors.New("Refresh Timeout must be > 0")
	}
	if c.Refresh.MaxQueued < 0 {
		return errors.New("Refresh MaxQueued must be >= 0")
	}

	// Session
	if c.Session.PersistTTL < 0 {
		return errors.New("Session PersistTTL must be >= 0")
	}
	if strings.TrimSpace(c.Session.LoginURL) == "" {
		return errors.New("Session LoginURL is required")
	}

	// Throttle
	if c.Throttle.MaxAttempts < 0 {
		return errors.New("Throttle MaxAttempts must be >= 0")
	}
	if c.Throttle.MaxAttempts > 0 && c.Throttle.Cooldown <= 0 {
		return errors.New("Throttle Cooldown must be > 0 when MaxAttempts is set")
	}

	// Token
	switch jwt.SigningMethod(c.Token.SigningMethod) {
	case "":
	case jwt.MethodHS256, jwt.MethodEd25519:
		if len(c.Token.VerifyKey) == 0 {
			return errors.New("Token VerifyKey is required when SigningMethod is set")
		}
	default:
		return errors.New("unsupported Token SigningMethod")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

func (c TokenConfig) decoderConfig() jwt.Config {
	cfg := jwt.Config{
		SigningMethod: jwt.SigningMethod(c.SigningMethod),
		Issuer:        c.Issuer,
		Audience:      c.Audience,
		Leeway:        c.Leeway,
	}
	switch cfg.SigningMethod {
	case jwt.MethodHS256:
		cfg.PrivateKey = c.VerifyKey
	case jwt.MethodEd25519:
		cfg.PublicKey = c.VerifyKey
	}
	return cfg
}
