// Package scheduler drives per-monitor detection loops: polling the metrics
// backend on each monitor's cadence, classifying anomalies, deduplicating,
// and handing incidents to the workflow.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/incidentwatch/sentinel/internal/detector"
	"github.com/incidentwatch/sentinel/internal/models"
	"github.com/incidentwatch/sentinel/internal/registry"
	"github.com/incidentwatch/sentinel/internal/telemetry"
)

// dedupWindowMinutes suppresses re-emission while a recent incident exists.
const dedupWindowMinutes = 5

// MetricsSource is the metrics-backend slice the scheduler needs.
type MetricsSource interface {
	QueryMetrics(ctx context.Context, query string, fromUnix, toUnix int64) ([]models.MetricSample, error)
	QueryErrorTracking(ctx context.Context, query string, fromUnix, toUnix int64) ([]models.TrackedError, error)
}

// BaselineSource provides the learned baseline for a monitor and hour.
type BaselineSource interface {
	GetBaseline(ctx context.Context, monitor *models.Monitor, hourOfDay int) (*models.Baseline, error)
}

// IncidentStore is the persistence slice used for dedup and durability.
type IncidentStore interface {
	CreateIncident(ctx context.Context, incident *models.Incident) error
	GetRecentIncidents(ctx context.Context, monitorID string, withinMinutes int) ([]*models.Incident, error)
}

// IncidentSink receives emitted incidents; in production this is the
// workflow.
type IncidentSink func(ctx context.Context, incident *models.Incident, monitor *models.Monitor)

// Scheduler owns one long-lived goroutine per enabled monitor.
type Scheduler struct {
	registry  *registry.Registry
	metrics   MetricsSource
	baselines BaselineSource
	store     IncidentStore
	sink      IncidentSink
	telemetry *telemetry.Metrics
	now       func() time.Time

	mu     sync.Mutex
	parent context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(reg *registry.Registry, metrics MetricsSource, baselines BaselineSource, store IncidentStore, sink IncidentSink, tm *telemetry.Metrics) *Scheduler {
	return &Scheduler{
		registry:  reg,
		metrics:   metrics,
		baselines: baselines,
		store:     store,
		sink:      sink,
		telemetry: tm,
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start launches one loop per enabled monitor. The first check of each
// monitor runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = ctx
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	runCtx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel

	monitors := s.registry.ListEnabled()
	for _, monitor := range monitors {
		s.wg.Add(1)
		go s.runMonitor(runCtx, monitor)
	}
	log.Info().Int("monitors", len(monitors)).Msg("Detection scheduler started")
}

// Stop cancels all monitor loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}

// Reload stops every loop, then restarts against the registry's current
// monitor set.
func (s *Scheduler) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parent == nil {
		return
	}
	s.stopLocked()
	s.startLocked()
	log.Info().Msg("Detection scheduler reloaded")
}

func (s *Scheduler) runMonitor(ctx context.Context, monitor *models.Monitor) {
	defer s.wg.Done()

	window, err := models.ParseTimeWindow(monitor.TimeWindow)
	if err != nil {
		// The registry validates this at load; a failure here is a bug.
		log.Error().Err(err).Str("monitor", monitor.ID).Msg("Unusable time window, monitor not scheduled")
		return
	}

	ticker := time.NewTicker(monitor.CheckInterval())
	defer ticker.Stop()

	var inFlight atomic.Bool
	check := func() {
		if !inFlight.CompareAndSwap(false, true) {
			if s.telemetry != nil {
				s.telemetry.CheckSkipped.WithLabelValues(monitor.ID).Inc()
			}
			log.Debug().Str("monitor", monitor.ID).Msg("Check still running, tick skipped")
			return
		}
		defer inFlight.Store(false)
		s.check(ctx, monitor, window)
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// check runs one detection cycle: window mean, baseline, threshold, dedup,
// emit.
func (s *Scheduler) check(ctx context.Context, monitor *models.Monitor, window time.Duration) {
	now := s.now().UTC()

	samples, err := s.metrics.QueryMetrics(ctx, monitor.Queries.Metric,
		now.Add(-window).Unix(), now.Unix())
	if err != nil {
		s.countCheck(monitor.ID, "error")
		log.Warn().Err(err).Str("monitor", monitor.ID).Msg("Metric query failed")
		return
	}
	if len(samples) == 0 {
		s.countCheck(monitor.ID, "no_data")
		return
	}

	sum := 0.0
	for _, sample := range samples {
		sum += sample.Value
	}
	currentValue := sum / float64(len(samples))

	baseline, err := s.baselines.GetBaseline(ctx, monitor, now.Hour())
	if err != nil {
		s.countCheck(monitor.ID, "error")
		log.Warn().Err(err).Str("monitor", monitor.ID).Msg("Baseline unavailable")
		return
	}

	result := detector.Detect(monitor, currentValue, baseline)
	if result == nil {
		s.countCheck(monitor.ID, "ok")
		return
	}
	s.countCheck(monitor.ID, "anomaly")

	recent, err := s.store.GetRecentIncidents(ctx, monitor.ID, dedupWindowMinutes)
	if err != nil {
		log.Warn().Err(err).Str("monitor", monitor.ID).Msg("Dedup lookup failed, emitting anyway")
	} else if len(recent) > 0 {
		if s.telemetry != nil {
			s.telemetry.IncidentsDeduped.Inc()
		}
		log.Debug().
			Str("monitor", monitor.ID).
			Str("existing", recent[0].ID).
			Msg("Anomaly suppressed by recent incident")
		return
	}

	incident := s.buildIncident(ctx, monitor, result, window, now)

	if err := s.store.CreateIncident(ctx, incident); err != nil {
		log.Error().Err(err).Str("monitor", monitor.ID).Msg("Incident not persisted")
	}
	if s.telemetry != nil {
		s.telemetry.IncidentsEmitted.WithLabelValues(monitor.ID, string(incident.Severity)).Inc()
	}

	log.Info().
		Str("monitor", monitor.ID).
		Str("incident", incident.ID).
		Str("severity", string(incident.Severity)).
		Float64("value", incident.MetricValue).
		Float64("baseline", incident.BaselineValue).
		Float64("deviation", incident.DeviationPercentage).
		Msg("Incident detected")

	if s.sink != nil {
		s.sink(ctx, incident, monitor)
	}
}

func (s *Scheduler) buildIncident(ctx context.Context, monitor *models.Monitor, result *detector.Result, window time.Duration, now time.Time) *models.Incident {
	incident := &models.Incident{
		ID:                  uuid.NewString(),
		MonitorID:           monitor.ID,
		ServiceName:         monitor.Name,
		Severity:            result.Severity,
		Status:              models.IncidentActive,
		MetricName:          monitor.Queries.Metric,
		MetricValue:         result.CurrentValue,
		BaselineValue:       result.BaselineValue,
		ThresholdValue:      result.ThresholdValue,
		DeviationPercentage: result.DeviationPercentage,
		DetectedAt:          now,
		CreatedAt:           now,
		UpdatedAt:           now,
		Tags:                monitor.Tags,
	}

	if monitor.Queries.ErrorTracking != "" {
		errs, err := s.metrics.QueryErrorTracking(ctx, monitor.Queries.ErrorTracking,
			now.Add(-window).Unix(), now.Unix())
		if err != nil {
			log.Debug().Err(err).Str("monitor", monitor.ID).Msg("Error tracking query failed")
		} else if len(errs) > 0 {
			incident.ErrorMessage = errs[0].Message
			incident.StackTrace = errs[0].StackTrace
		}
	}
	return incident
}

func (s *Scheduler) countCheck(monitorID, outcome string) {
	if s.telemetry != nil {
		s.telemetry.ChecksTotal.WithLabelValues(monitorID, outcome).Inc()
	}
}
