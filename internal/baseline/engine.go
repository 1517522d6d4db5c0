// Package baseline computes per-monitor, per-hour-of-day baselines from
// historical metric samples. Results are cached for 24 hours; all time
// handling is UTC.
package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/incidentwatch/sentinel/internal/cache"
	"github.com/incidentwatch/sentinel/internal/models"
)

// lookbackDays is how many past days feed one baseline.
const lookbackDays = 7

// MetricsQuerier is the slice of the metrics adapter the engine needs.
type MetricsQuerier interface {
	QueryMetrics(ctx context.Context, query string, fromUnix, toUnix int64) ([]models.MetricSample, error)
}

// Engine computes and caches baselines.
type Engine struct {
	metrics MetricsQuerier
	cache   cache.Cache
	ttl     time.Duration
	now     func() time.Time
}

// New creates a baseline engine with the given cache TTL.
func New(metrics MetricsQuerier, c cache.Cache, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Engine{
		metrics: metrics,
		cache:   c,
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func cacheKey(monitorID string, hour int) string {
	return fmt.Sprintf("baseline:%s:%d", monitorID, hour)
}

// GetBaseline returns the baseline for the monitor at the given hour of day,
// computing and caching it on miss.
func (e *Engine) GetBaseline(ctx context.Context, monitor *models.Monitor, hourOfDay int) (*models.Baseline, error) {
	key := cacheKey(monitor.ID, hourOfDay)

	if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		var cached models.Baseline
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return &cached, nil
		}
		log.Warn().Str("key", key).Msg("Discarding unreadable cached baseline")
	}

	computed := e.compute(ctx, monitor, hourOfDay)

	if raw, err := json.Marshal(computed); err == nil {
		if err := e.cache.SetEx(ctx, key, e.ttl, string(raw)); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Baseline cache write failed")
		}
	}
	return computed, nil
}

// compute builds the baseline from the last 7 days. Each day contributes the
// mean of its hour window; days that fail or return nothing are skipped.
func (e *Engine) compute(ctx context.Context, monitor *models.Monitor, hourOfDay int) *models.Baseline {
	now := e.now().UTC()
	anchor := time.Date(now.Year(), now.Month(), now.Day(), hourOfDay, 0, 0, 0, time.UTC)

	var dayMeans []float64
	for d := 1; d <= lookbackDays; d++ {
		windowStart := anchor.AddDate(0, 0, -d)
		windowEnd := windowStart.Add(time.Hour)

		samples, err := e.metrics.QueryMetrics(ctx, monitor.Queries.Metric,
			windowStart.Unix(), windowEnd.Unix())
		if err != nil {
			log.Warn().
				Err(err).
				Str("monitor", monitor.ID).
				Int("daysAgo", d).
				Msg("Baseline day query failed, continuing")
			continue
		}
		if len(samples) == 0 {
			continue
		}
		dayMeans = append(dayMeans, meanOfSamples(samples))
	}

	baseline := &models.Baseline{
		MonitorID:   monitor.ID,
		HourOfDay:   hourOfDay,
		SampleCount: len(dayMeans),
		ComputedAt:  now,
	}
	if len(dayMeans) == 0 {
		log.Warn().
			Str("monitor", monitor.ID).
			Int("hour", hourOfDay).
			Msg("No historical samples for baseline")
		return baseline
	}

	baseline.AverageValue = mean(dayMeans)
	baseline.StandardDeviation = sampleStdDev(dayMeans)
	return baseline
}

func meanOfSamples(samples []models.MetricSample) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sumSqDiff := 0.0
	for _, v := range values {
		diff := v - m
		sumSqDiff += diff * diff
	}
	return math.Sqrt(sumSqDiff / float64(len(values)-1))
}
