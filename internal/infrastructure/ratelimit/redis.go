package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed window counter shared by every api replica.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	window  time.Duration
	allowed int64
	now     func() time.Time
}

// NewRedis allows floor(rps*window)+burst requests per key and window.
func NewRedis(client redis.UniversalClient, rps float64, burst int, window time.Duration) *Redis {
	if window < time.Second {
		window = time.Second
	}
	return &Redis{
		client:  client,
		prefix:  "docdesk:rl:",
		window:  window,
		allowed: int64(rps*window.Seconds()) + int64(max(burst, 0)),
		now:     time.Now,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	windowSeconds := int64(r.window / time.Second)
	bucket := r.now().Unix() / windowSeconds
	redisKey := fmt.Sprintf("%s%s:%d", r.prefix, key, bucket)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, r.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	return incr.Val() <= r.allowed, nil
}
