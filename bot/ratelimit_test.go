package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

// promauto registers globally, so every constructed metrics set needs a
// unique namespace or the second test panics.
var testMetricsSeq atomic.Int64

func newTestDispatchMetrics() *metrics.DispatchMetrics {
	return metrics.NewDispatchMetrics(fmt.Sprintf("bot_test_%d", testMetricsSeq.Add(1)))
}

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*slidingWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRateLimiter(rdb, limit, window, newTestDispatchMetrics(), log), mr
}

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()
	sender := "whatsapp:+573001234567"

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(ctx, sender), "request %d should pass", i+1)
	}
	assert.False(t, limiter.Allow(ctx, sender))
	assert.False(t, limiter.Allow(ctx, sender))
}

func TestRateLimiterIsolatesSenders(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	assert.True(t, limiter.Allow(ctx, "whatsapp:+573001111111"))
	assert.False(t, limiter.Allow(ctx, "whatsapp:+573001111111"))
	assert.True(t, limiter.Allow(ctx, "whatsapp:+573002222222"))
}

func TestRateLimiterReplenishesAfterWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2, 50*time.Millisecond)
	ctx := context.Background()
	sender := "whatsapp:+573001234567"

	assert.True(t, limiter.Allow(ctx, sender))
	assert.True(t, limiter.Allow(ctx, sender))
	assert.False(t, limiter.Allow(ctx, sender))

	time.Sleep(80 * time.Millisecond)
	assert.True(t, limiter.Allow(ctx, sender))
}

func TestRateLimiterFailsOpenWhenStoreDown(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	assert.True(t, limiter.Allow(context.Background(), "whatsapp:+573001234567"))
}
