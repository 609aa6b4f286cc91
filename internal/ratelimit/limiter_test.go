package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterPacesPerSite(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.snieg.mx/cni/a"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "first token is immediate")

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.snieg.mx/cni/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "second token on the same site waits")

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.inegi.org.mx/x"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "other sites have their own bucket")
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://x/"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterRespectsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://x/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://x/"))
}
