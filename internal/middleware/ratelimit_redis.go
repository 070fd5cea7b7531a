package middleware

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts requests per key in fixed windows backed by Redis,
// so the limit holds across server instances. Backend errors fail closed.
type RedisRateLimiter struct {
	client  *redis.Client
	prefix  string
	window  time.Duration
	maxReqs int
}

// NewRedisRateLimiter creates a Redis-backed rate limiter. The prefix keeps
// limiters for different operations apart on a shared Redis.
func NewRedisRateLimiter(client *redis.Client, prefix string, window time.Duration, maxReqs int) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:  client,
		prefix:  prefix,
		window:  window,
		maxReqs: maxReqs,
	}
}

// Allow increments the counter for the key's current window and compares it
// to the limit. The TTL is armed only when the counter is created, so the
// window elapses on schedule no matter how often the key is hit.
func (rl *RedisRateLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	redisKey := rl.prefix + ":" + key

	count, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		log.Printf("Rate limiter backend error for key %s: %v", redisKey, err)
		return false
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			log.Printf("Rate limiter backend error for key %s: %v", redisKey, err)
			return false
		}
	}

	return count <= int64(rl.maxReqs)
}
