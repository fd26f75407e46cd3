package cache

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLRUMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewLRU[string](1, WithMetrics(reg, "test"))
	require.NoError(t, err)
	ctx := context.Background()

	_, _, _ = c.Get(ctx, "missing")
	require.NoError(t, c.Set(ctx, "a", "x", 0))
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "b", "y", 0)) // evicts "a"

	require.Equal(t, float64(1), testutil.ToFloat64(c.metrics.hits))
	require.Equal(t, float64(1), testutil.ToFloat64(c.metrics.misses))
	require.Equal(t, float64(2), testutil.ToFloat64(c.metrics.sets))
	require.Equal(t, float64(1), testutil.ToFloat64(c.metrics.evictions))
}

func TestDuplicateMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewLRU[string](4, WithMetrics(reg, "dup"))
	require.NoError(t, err)

	// Same prefix on the same registry collides.
	_, err = NewLRU[string](4, WithMetrics(reg, "dup"))
	require.Error(t, err)
}

func TestMetricsDisabledByDefault(t *testing.T) {
	c, err := NewLRU[string](4)
	require.NoError(t, err)
	require.Nil(t, c.metrics)

	// nil-safe: operations must not panic without metrics.
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", "x", 0))
	_, _, _ = c.Get(ctx, "a")
	_, _, _ = c.Get(ctx, "missing")
}
