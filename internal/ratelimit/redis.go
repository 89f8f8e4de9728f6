package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"file-portal/internal/logging"
)

const redisTimeout = 500 * time.Millisecond

// Redis is a fixed-window limiter shared by every instance pointing at the
// same Redis. When Redis is unreachable it lets requests through.
type Redis struct {
	client redis.UniversalClient
	prefix string
	rate   int64
	window time.Duration
}

// NewRedis returns a limiter storing counters under "portal:rl:<name>:".
func NewRedis(client redis.UniversalClient, name string, rate int, window time.Duration) *Redis {
	return &Redis{
		client: client,
		prefix: "portal:rl:" + name + ":",
		rate:   int64(rate),
		window: window,
	}
}

func (l *Redis) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	k := l.prefix + key
	var incr *redis.IntCmd
	// SET NX EX opens the window with its TTL; later INCRs keep it.
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, l.window)
		incr = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		logging.Warn("rate_limit_backend_unavailable", map[string]any{
			"backend": "redis",
			"error":   err.Error(),
		})
		return true
	}
	return incr.Val() <= l.rate
}

func (l *Redis) RetryAfter(key string) time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	ttl, err := l.client.PTTL(ctx, l.prefix+key).Result()
	if err != nil || ttl < 0 {
		return l.window
	}
	return ttl
}
