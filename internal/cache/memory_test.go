package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentwatch/sentinel/internal/telemetry"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	_, ok, err := m.Get(ctx, "baseline:checkout:14")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.SetEx(ctx, "baseline:checkout:14", time.Minute, `{"averageValue":42}`))

	value, ok, err := m.Get(ctx, "baseline:checkout:14")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"averageValue":42}`, value)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.SetEx(ctx, "llm:abc", time.Hour, "cached"))

	now = now.Add(59 * time.Minute)
	_, ok, _ := m.Get(ctx, "llm:abc")
	assert.True(t, ok, "entry alive before TTL")

	now = now.Add(2 * time.Minute)
	_, ok, _ = m.Get(ctx, "llm:abc")
	assert.False(t, ok, "entry gone after TTL")
}

func TestMemoryEvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(5)

	for i := 0; i < 8; i++ {
		key := fmt.Sprintf("repo:project-%d", i)
		require.NoError(t, m.SetEx(ctx, key, time.Duration(i+1)*time.Minute, "meta"))
	}
	assert.LessOrEqual(t, m.Len(), 5)

	// The entry with the longest remaining TTL survives eviction.
	_, ok, _ := m.Get(ctx, "repo:project-7")
	assert.True(t, ok)
}

func TestInstrumentedCountsHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	tm := telemetry.NewForTesting()
	c := Instrument(NewMemory(10), tm)

	_, ok, err := c.Get(ctx, "baseline:checkout:3")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(tm.CacheMisses.WithLabelValues("baseline")))

	require.NoError(t, c.SetEx(ctx, "baseline:checkout:3", time.Minute, "v"))
	_, ok, err = c.Get(ctx, "baseline:checkout:3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(tm.CacheHits.WithLabelValues("baseline")))
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "baseline", keyPrefix("baseline:checkout:14"))
	assert.Equal(t, "llm", keyPrefix("llm:abcdef"))
	assert.Equal(t, "other", keyPrefix("noseparator"))
	assert.Equal(t, "other", keyPrefix(":leading"))
}
