package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR the window key, set its expiry on first hit, return count and ttl.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Config struct {
	Prefix string
	Limit  int
	Window time.Duration
	// Now defaults to time.Now; tests pin it to a window.
	Now func() time.Time
}

// FixedWindowLimiter counts hits per key in fixed windows shared through Redis.
type FixedWindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewFixedWindowLimiter(client *redis.Client, cfg Config) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if cfg.Limit <= 0 || cfg.Window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "inkwell:ratelimit"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &FixedWindowLimiter{client: client, prefix: prefix, limit: cfg.Limit, window: cfg.Window, now: now}, nil
}

// NewRedisFixedWindowLimiter dials its own client.
func NewRedisFixedWindowLimiter(addr, password string, cfg Config) (*FixedWindowLimiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	return NewFixedWindowLimiter(redis.NewClient(&redis.Options{Addr: addr, Password: password}), cfg)
}

// Allow records a hit for key. Redis failures deny the request and are
// returned so callers can log them.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	vals, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64Slice()
	if err != nil {
		return Decision{RetryAfter: l.window}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Decision{RetryAfter: l.window}, fmt.Errorf("rate limit %s: unexpected reply %v", key, vals)
	}
	count, ttl := vals[0], time.Duration(vals[1])*time.Millisecond
	if count > int64(l.limit) {
		if ttl <= 0 {
			ttl = l.window
		}
		return Decision{RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - int(count)}, nil
}

func (l *FixedWindowLimiter) Close() error {
	return l.client.Close()
}
