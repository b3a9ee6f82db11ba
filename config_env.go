package authgate

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadConfigFromEnv starts from [DefaultConfig] and applies AUTHGATE_* environment
// variables. Each file in envFiles is loaded first with godotenv; missing files are
// skipped, values already present in the environment win.
//
// Recognized variables:
//
//	AUTHGATE_BASE_URL, AUTHGATE_HTTP_TIMEOUT, AUTHGATE_USER_AGENT,
//	AUTHGATE_REFRESH_TIMEOUT, AUTHGATE_REFRESH_MAX_QUEUED,
//	AUTHGATE_REDIS_PREFIX, AUTHGATE_SESSION_TTL, AUTHGATE_LOGIN_URL,
//	AUTHGATE_EXCLUDE_PATHS (comma separated),
//	AUTHGATE_LOGIN_MAX_ATTEMPTS, AUTHGATE_LOGIN_COOLDOWN,
//	AUTHGATE_TOKEN_SIGNING_METHOD, AUTHGATE_TOKEN_VERIFY_KEY,
//	AUTHGATE_AUDIT_ENABLED, AUTHGATE_METRICS_ENABLED.
func LoadConfigFromEnv(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	cfg := defaultConfig()
	var err error

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if err != nil {
			return
		}
		if v, ok := os.LookupEnv(key); ok {
			d, parseErr := time.ParseDuration(strings.TrimSpace(v))
			if parseErr != nil {
				err = fmt.Errorf("%s: %w", key, parseErr)
				return
			}
			*dst = d
		}
	}
	setInt := func(key string, dst *int) {
		if err != nil {
			return
		}
		if v, ok := os.LookupEnv(key); ok {
			n, parseErr := strconv.Atoi(strings.TrimSpace(v))
			if parseErr != nil {
				err = fmt.Errorf("%s: %w", key, parseErr)
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if err != nil {
			return
		}
		if v, ok := os.LookupEnv(key); ok {
			b, parseErr := strconv.ParseBool(strings.TrimSpace(v))
			if parseErr != nil {
				err = fmt.Errorf("%s: %w", key, parseErr)
				return
			}
			*dst = b
		}
	}

	setString("AUTHGATE_BASE_URL", &cfg.HTTP.BaseURL)
	setDuration("AUTHGATE_HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	setString("AUTHGATE_USER_AGENT", &cfg.HTTP.UserAgent)
	setDuration("AUTHGATE_REFRESH_TIMEOUT", &cfg.Refresh.Timeout)
	setInt("AUTHGATE_REFRESH_MAX_QUEUED", &cfg.Refresh.MaxQueued)
	setString("AUTHGATE_REDIS_PREFIX", &cfg.Session.RedisPrefix)
	setDuration("AUTHGATE_SESSION_TTL", &cfg.Session.PersistTTL)
	setString("AUTHGATE_LOGIN_URL", &cfg.Session.LoginURL)
	setInt("AUTHGATE_LOGIN_MAX_ATTEMPTS", &cfg.Throttle.MaxAttempts)
	setDuration("AUTHGATE_LOGIN_COOLDOWN", &cfg.Throttle.Cooldown)
	setString("AUTHGATE_TOKEN_SIGNING_METHOD", &cfg.Token.SigningMethod)
	setBool("AUTHGATE_AUDIT_ENABLED", &cfg.Audit.Enabled)
	setBool("AUTHGATE_METRICS_ENABLED", &cfg.Metrics.Enabled)
	if err != nil {
		return Config{}, err
	}

	if v, ok := os.LookupEnv("AUTHGATE_TOKEN_VERIFY_KEY"); ok && strings.TrimSpace(v) != "" {
		cfg.Token.VerifyKey = []byte(strings.TrimSpace(v))
	}
	if v, ok := os.LookupEnv("AUTHGATE_EXCLUDE_PATHS"); ok {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Exclusion.ExtraPaths = append(cfg.Exclusion.ExtraPaths, p)
			}
		}
	}

	return cfg, nil
}
