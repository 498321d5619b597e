package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/icp-exporter/internal/metrics"
)

func TestLimiter_WaitThrottlesPerHost(t *testing.T) {
	metrics.Init()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	// First call consumes the initial token.
	require.NoError(t, l.Wait(ctx, "http://icp.example.com/saveExc.ashx"))

	// 10 RPS means the next token arrives ~100ms later.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "http://icp.example.com/conditions?page=2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// A different host has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "http://other.example.com/"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_DisabledNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "http://icp.example.com/"))
	}

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "http://icp.example.com/"))
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "http://slow.example.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "http://slow.example.com/"))
}
