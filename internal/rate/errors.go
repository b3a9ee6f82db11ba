package rate

import "errors"

var (
	// ErrRateLimited means the failed-login budget is used up.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis command failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
