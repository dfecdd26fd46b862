// Package ratelimit provides the fixed-window limiter applied to sync calls.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule allows Limit calls per Window for one key.
type Rule struct {
	Limit  int
	Window time.Duration
}

var (
	PushRule = Rule{Limit: 10, Window: time.Minute}
	SyncRule = Rule{Limit: 30, Window: time.Minute}
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Decision, error)
}

// Noop allows everything. It is used when Redis is not configured.
type Noop struct{}

func (Noop) Allow(context.Context, string, Rule) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// RedisLimiter counts calls with INCR on a key that expires with the window.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	if rule.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	k := l.prefix + key

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, rule.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	if count <= int64(rule.Limit) {
		return Decision{Allowed: true, Remaining: rule.Limit - int(count)}, nil
	}

	ttl, err := l.client.TTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit ttl: %w", err)
	}
	if ttl <= 0 {
		// Lost the EXPIRE; start a fresh window rather than block forever.
		_ = l.client.Expire(ctx, k, rule.Window).Err()
		ttl = rule.Window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}

// RetryAfterSeconds rounds the decision's wait up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	seconds := int((d.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
