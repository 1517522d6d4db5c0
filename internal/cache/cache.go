// Package cache provides the TTL key/value store used for baselines,
// repository metadata, code-search results and LLM responses.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/incidentwatch/sentinel/internal/telemetry"
)

// Cache is the minimal contract the pipeline needs: string values with a TTL.
type Cache interface {
	// Get returns the value and whether the key was present and unexpired.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetEx stores value under key for ttl.
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error
}

// keyPrefix extracts the namespace before the first colon for metrics labels.
func keyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}

// instrumented wraps a Cache with hit/miss counters.
type instrumented struct {
	inner   Cache
	metrics *telemetry.Metrics
}

// Instrument wraps c so every lookup records a hit or miss.
func Instrument(c Cache, m *telemetry.Metrics) Cache {
	return &instrumented{inner: c, metrics: m}
}

func (c *instrumented) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := c.inner.Get(ctx, key)
	prefix := keyPrefix(key)
	if err == nil && ok {
		c.metrics.CacheHits.WithLabelValues(prefix).Inc()
	} else {
		c.metrics.CacheMisses.WithLabelValues(prefix).Inc()
	}
	return value, ok, err
}

func (c *instrumented) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	return c.inner.SetEx(ctx, key, ttl, value)
}
