package authgate

import (
	"errors"
	"net/http"
	"net/url"
	"os"

	"github.com/MrEthical07/authgate/credential"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles a [Gateway]. A Builder is single use.
type Builder struct {
	config Config

	redis      redis.UniversalClient
	backend    credential.Backend
	httpClient *http.Client
	logger     logrus.FieldLogger

	auditSink   AuditSink
	onTerminate TerminationHandler

	built bool
}

// New returns a Builder seeded with [DefaultConfig]. BaseURL must still be set before
// Build.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL sets Config.HTTP.BaseURL.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.HTTP.BaseURL = baseURL
	return b
}

// WithRedis persists the session in Redis under Config.Session.RedisPrefix. It is
// ignored when WithBackend is also used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithBackend sets a custom session backend.
func (b *Builder) WithBackend(backend credential.Backend) *Builder {
	b.backend = backend
	return b
}

// WithHTTPClient replaces the default client. Its Timeout is left as given.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithLogger sets the logger. The gateway attaches component=authgate to every entry.
func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink. Events are only produced when Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithTerminationHandler is called whenever the session ends.
func (b *Builder) WithTerminationHandler(h TerminationHandler) *Builder {
	b.onTerminate = h
	return b
}

// WithMetricsEnabled sets Config.Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms enables the dispatch latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the gateway. It does not contact the API
// or load a persisted session; call [Gateway.Restore] for that.
func (b *Builder) Build() (*Gateway, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(cfg.HTTP.BaseURL)
	if err != nil {
		return nil, err
	}

	decoder, err := jwt.NewDecoder(cfg.Token.decoderConfig())
	if err != nil {
		return nil, err
	}

	// -------- SESSION BACKEND --------
	backend := b.backend
	if backend == nil && b.redis != nil {
		backend = credential.NewRedisBackend(b.redis, cfg.Session.RedisPrefix, cfg.Session.PersistTTL)
	}
	store := credential.NewStore(backend)

	// -------- LOGGING --------
	logger := b.logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.InfoLevel)
		logger = l
	}
	log := logger.WithField("component", "authgate")

	client := b.httpClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTP.Timeout}
	}

	metrics := NewMetrics(cfg.Metrics)

	var throttle *rate.Limiter
	if cfg.Throttle.MaxAttempts > 0 {
		if b.redis != nil {
			throttle = rate.New(b.redis, cfg.Session.RedisPrefix, rate.Config{
				MaxLoginAttempts: cfg.Throttle.MaxAttempts,
				LoginCooldown:    cfg.Throttle.Cooldown,
			})
		} else {
			log.Warn("authgate: login throttle configured without Redis; disabled")
		}
	}

	g := &Gateway{
		config:    cloneConfig(cfg),
		store:     store,
		exclusion: NewExclusionPolicy(cfg.Endpoints, cfg.Exclusion.ExtraPaths...),
		decoder:   decoder,
		throttle:  throttle,
		metrics:   metrics,
		log:       log,
	}
	g.dispatcher = newDispatcher(client, baseURL, store, cfg.HTTP.UserAgent, cfg.HTTP.MaxResponseBytes, metrics)
	g.terminator = newTerminator(store, b.onTerminate, cfg.Session.LoginURL, metrics, log)
	g.audit = newAuditDispatcher(cfg.Audit, b.auditSink, log)

	// -------- FLOWS --------
	g.flows = flows.New(flows.Deps{
		Refresh: flows.RefreshDeps{
			Path:         cfg.Endpoints.RefreshToken,
			Send:         g.dispatcher.send,
			RefreshToken: store.RefreshToken,
			CurrentIdentity: func() credential.Identity {
				sess, _ := store.Read()
				return sess.Identity
			},
			IdentityFromToken: g.identityFromToken,
		},
		Exchange: flows.ExchangeDeps{
			Send:              g.dispatcher.send,
			IdentityFromToken: g.identityFromToken,
			DefaultProvider:   cfg.Session.DefaultProvider,
		},
	})

	// -------- REFRESH COORDINATOR --------
	g.coordinator = newRefreshCoordinator(coordinatorDeps{
		Refresh:      g.refresh,
		Terminate:    g.terminate,
		CurrentToken: store.AccessToken,
		Timeout:      cfg.Refresh.Timeout,
		MaxQueued:    cfg.Refresh.MaxQueued,
		Metrics:      metrics,
		Log:          log,
	})

	b.built = true
	return g, nil
}
