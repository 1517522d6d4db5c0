// Package telemetry manages Prometheus instrumentation for the pipeline.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every instrument the pipeline records into.
type Metrics struct {
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	ChecksTotal      *prometheus.CounterVec
	CheckSkipped     *prometheus.CounterVec
	IncidentsEmitted *prometheus.CounterVec
	IncidentsDeduped prometheus.Counter

	InvestigationDuration *prometheus.HistogramVec
	TierUsage             *prometheus.CounterVec
	Completeness          prometheus.Histogram
	CollectorFailures     *prometheus.CounterVec

	LLMCalls       *prometheus.CounterVec
	LLMTokens      *prometheus.CounterVec
	FallbackTotal  prometheus.Counter
	BreakerChanges *prometheus.CounterVec

	NotificationsSent *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide metrics instance, registering it on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
		instance.register(prometheus.DefaultRegisterer)
	})
	return instance
}

// NewForTesting builds an unregistered instance so tests avoid global state.
func NewForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total cache hits by key prefix",
			},
			[]string{"prefix"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total cache misses by key prefix",
			},
			[]string{"prefix"},
		),
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "detection",
				Name:      "checks_total",
				Help:      "Total detection checks by monitor and result",
			},
			[]string{"monitor", "result"},
		),
		CheckSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "detection",
				Name:      "checks_skipped_total",
				Help:      "Ticks skipped because the previous check was still running",
			},
			[]string{"monitor"},
		),
		IncidentsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "detection",
				Name:      "incidents_emitted_total",
				Help:      "Incidents emitted by monitor and severity",
			},
			[]string{"monitor", "severity"},
		),
		IncidentsDeduped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "detection",
				Name:      "incidents_deduped_total",
				Help:      "Anomalies suppressed by the recent-incident window",
			},
		),
		InvestigationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinel",
				Subsystem: "investigation",
				Name:      "duration_seconds",
				Help:      "Investigation duration by tier",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"tier"},
		),
		TierUsage: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "investigation",
				Name:      "tier_usage_total",
				Help:      "Investigations run by tier",
			},
			[]string{"tier"},
		),
		Completeness: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sentinel",
				Subsystem: "investigation",
				Name:      "completeness",
				Help:      "Evidence completeness score distribution",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		CollectorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "investigation",
				Name:      "collector_failures_total",
				Help:      "Recoverable collector failures by source",
			},
			[]string{"source"},
		),
		LLMCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "analysis",
				Name:      "llm_calls_total",
				Help:      "LLM invocations by outcome (success, failure, cached, blocked)",
			},
			[]string{"outcome"},
		),
		LLMTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "analysis",
				Name:      "llm_tokens_total",
				Help:      "Estimated LLM tokens by direction",
			},
			[]string{"direction"},
		),
		FallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "analysis",
				Name:      "fallback_total",
				Help:      "Analyses served by the deterministic fallback template",
			},
		),
		BreakerChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "analysis",
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),
		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "notify",
				Name:      "messages_total",
				Help:      "Notification sends by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.ChecksTotal,
		m.CheckSkipped,
		m.IncidentsEmitted,
		m.IncidentsDeduped,
		m.InvestigationDuration,
		m.TierUsage,
		m.Completeness,
		m.CollectorFailures,
		m.LLMCalls,
		m.LLMTokens,
		m.FallbackTotal,
		m.BreakerChanges,
		m.NotificationsSent,
	)
}
