// Package ratelimit implements a fixed-window request counter per
// (operation, client) pair on the same Redis substrate as the cache.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/deemkeen/fedgate/cache"
	"github.com/deemkeen/fedgate/domain"
	"github.com/redis/go-redis/v9"
)

// The counter and its expiry are set in one script so concurrent requests
// for the same key can neither double count nor leave a counter without a
// window. The window opens with the first request and ends when the key
// expires.
var windowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Result is the outcome of one counted request.
type Result struct {
	Allowed   bool
	Remaining int
}

// Limiter counts requests in Redis.
type Limiter struct {
	rdb redis.UniversalClient
}

func New(rdb redis.UniversalClient) *Limiter {
	return &Limiter{rdb: rdb}
}

// Check counts one request for (operation, client) and reports whether it
// fits in the current window of the given length. When Redis is unreachable
// the request is allowed and the error is returned for logging.
func (l *Limiter) Check(ctx context.Context, operation, client string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{Allowed: true, Remaining: limit}, nil
	}

	key := cache.RateLimitKey(operation, client).String()
	n, err := windowScript.Run(ctx, l.rdb, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return Result{Allowed: true, Remaining: limit}, fmt.Errorf("rate limit %s: %w: %w", key, domain.ErrTransient, err)
	}

	remaining := limit - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: n <= int64(limit), Remaining: remaining}, nil
}

// Unlimited admits every request. It stands in for the Limiter when no
// Redis endpoint is configured.
type Unlimited struct{}

func (Unlimited) Check(_ context.Context, _, _ string, limit int, _ time.Duration) (Result, error) {
	return Result{Allowed: true, Remaining: limit}, nil
}
