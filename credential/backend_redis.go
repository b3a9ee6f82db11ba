package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport and command errors.
var ErrRedisUnavailable = errors.New("redis unavailable")

// RedisBackend persists the session as three keys under a namespace:
//
//	<prefix>:identity       JSON-encoded [Identity]
//	<prefix>:access_token
//	<prefix>:refresh_token
//
// Writes go through MULTI/EXEC so the three keys change together.
type RedisBackend struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisBackend creates a [RedisBackend]. ttl bounds how long a persisted session
// lives without being rewritten; zero keeps it until cleared.
func NewRedisBackend(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "authgate"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisBackend{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (b *RedisBackend) identityKey() string { return b.prefix + ":identity" }
func (b *RedisBackend) accessKey() string   { return b.prefix + ":access_token" }
func (b *RedisBackend) refreshKey() string  { return b.prefix + ":refresh_token" }

func (b *RedisBackend) keys() []string {
	return []string{b.identityKey(), b.accessKey(), b.refreshKey()}
}

// Load implements [Backend].
//
//	Performance: 1 Redis MGET.
func (b *RedisBackend) Load(ctx context.Context) (Record, error) {
	values, err := b.redis.MGet(ctx, b.keys()...).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var rec Record
	if raw, ok := values[0].(string); ok && raw != "" {
		var identity Identity
		// An undecodable identity counts as missing so the record is treated as partial.
		if err := json.Unmarshal([]byte(raw), &identity); err == nil {
			rec.Identity = &identity
		}
	}
	if v, ok := values[1].(string); ok {
		rec.AccessToken = v
	}
	if v, ok := values[2].(string); ok {
		rec.RefreshToken = v
	}
	return rec, nil
}

// Save implements [Backend].
//
//	Performance: 1 MULTI/EXEC with 3 SETs.
func (b *RedisBackend) Save(ctx context.Context, sess Session) error {
	identity, err := json.Marshal(sess.Identity)
	if err != nil {
		return err
	}

	_, err = b.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.identityKey(), identity, b.ttl)
		pipe.Set(ctx, b.accessKey(), sess.AccessToken, b.ttl)
		pipe.Set(ctx, b.refreshKey(), sess.RefreshToken, b.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Clear implements [Backend].
//
//	Performance: 1 Redis DEL.
func (b *RedisBackend) Clear(ctx context.Context) (bool, error) {
	deleted, err := b.redis.Del(ctx, b.keys()...).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return deleted > 0, nil
}
