package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

// slidingWindowLimiter implements a per-sender sliding window over a Redis
// sorted set of request timestamps.
type slidingWindowLimiter struct {
	rdb     *redis.Client
	limit   int
	window  time.Duration
	metrics *metrics.DispatchMetrics
	logger  *slog.Logger
}

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, m *metrics.DispatchMetrics, logger *slog.Logger) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		rdb:     rdb,
		limit:   limit,
		window:  window,
		metrics: m,
		logger:  logger,
	}
}

func rateKey(sender string) string {
	safe := strings.NewReplacer("+", "", ":", "_").Replace(sender)
	return "rate:" + safe
}

// Allow records the request and reports whether it is within the limit.
// The pipeline trims entries older than the window, counts what remains,
// inserts the current timestamp, and refreshes the key TTL. Redis being
// down fails open: dropping legitimate traffic is worse than letting a
// burst through while the store recovers.
func (l *slidingWindowLimiter) Allow(ctx context.Context, sender string) bool {
	key := rateKey(sender)
	now := time.Now()
	windowStart := now.Add(-l.window)

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, l.window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limiter unavailable, allowing request",
			slog.String("sender", sender),
			slog.Any("error", err))
		return true
	}

	if count.Val() >= int64(l.limit) {
		l.metrics.RateLimitRejections.Inc()
		return false
	}
	return true
}

var _ RateLimiter = (*slidingWindowLimiter)(nil)
