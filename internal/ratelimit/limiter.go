package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginLimiter throttles repeated failed logins per email and per client
// IP. Redis being unavailable fails open: the credential check still gates,
// the throttle is shed.
type LoginLimiter struct {
	redis       *redis.Client
	maxAttempts int
	window      time.Duration
}

func NewLoginLimiter(client *redis.Client, maxAttempts int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		redis:       client,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

func (l *LoginLimiter) Allow(ctx context.Context, email, ip string) bool {
	for _, key := range l.keys(email, ip) {
		value, err := l.redis.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return true
		}
		count, err := strconv.Atoi(value)
		if err == nil && count >= l.maxAttempts {
			return false
		}
	}
	return true
}

func (l *LoginLimiter) RecordFailure(ctx context.Context, email, ip string) {
	for _, key := range l.keys(email, ip) {
		count, err := l.redis.Incr(ctx, key).Result()
		if err != nil {
			return
		}
		if count == 1 {
			_ = l.redis.Expire(ctx, key, l.window).Err()
		}
	}
}

func (l *LoginLimiter) Reset(ctx context.Context, email, ip string) {
	_ = l.redis.Del(ctx, l.keys(email, ip)...).Err()
}

func (l *LoginLimiter) keys(email, ip string) []string {
	keys := []string{"loginfail:" + email}
	if ip != "" {
		keys = append(keys, "loginfailip:"+ip)
	}
	return keys
}
