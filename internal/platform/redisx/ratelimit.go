package redisx

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RateLimiter is a fixed-window counter shared across instances.
type RateLimiter struct {
	kv     KV
	scope  string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter returns nil when limit or window is not positive.
func NewRateLimiter(kv KV, scope string, limit int, window time.Duration, now func() time.Time) *RateLimiter {
	if kv == nil || limit <= 0 || window <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{kv: kv, scope: scope, limit: limit, window: window, now: now}
}

// Allow counts a hit for subject. Redis failures fail open.
func (l *RateLimiter) Allow(ctx context.Context, subject string) bool {
	if l == nil {
		return true
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	bucket := l.now().UnixNano() / int64(l.window)
	key := fmt.Sprintf(KeyRateLimit, l.scope, subject, bucket)

	count, err := l.kv.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		_ = l.kv.Expire(ctx, key, l.window).Err()
	}
	return count <= int64(l.limit)
}
