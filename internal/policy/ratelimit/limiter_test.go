package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, engine.KindChromeCDP))
	require.Less(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(ctx, engine.KindChromeCDP))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_EnginesAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, engine.KindChromeCDP))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, engine.KindTLSClient))
	require.Less(t, time.Since(start), 50*time.Millisecond, "tlsclient blocked by chrome-cdp bucket")
}

func TestLimiter_PerEngineOverride(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
		PerEngine: map[engine.Kind]EngineLimit{
			engine.KindPlaywright: {RPS: 0, Burst: 1},
		},
	})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, engine.KindPlaywright))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), engine.KindChromeCDP))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, engine.KindChromeCDP))
}
