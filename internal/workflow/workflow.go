// Package workflow glues the pipeline stages together for one incident:
// resolve the monitor, investigate, analyze, notify. Each stage may set a
// terminal error; later stages then skip, and the result carries whatever
// artifacts earlier stages produced.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/incidentwatch/sentinel/internal/adapters/teams"
	senterrors "github.com/incidentwatch/sentinel/internal/errors"
	"github.com/incidentwatch/sentinel/internal/investigation"
	"github.com/incidentwatch/sentinel/internal/models"
	"github.com/incidentwatch/sentinel/internal/telemetry"
)

// MonitorResolver resolves a monitor id to its configuration.
type MonitorResolver interface {
	Get(id string) (*models.Monitor, bool)
}

// Investigator runs tiered evidence collection.
type Investigator interface {
	Investigate(ctx context.Context, incident *models.Incident, monitor *models.Monitor) *investigation.Outcome
}

// Analyzer produces an analysis; it never fails (the fallback template
// covers every failure mode).
type Analyzer interface {
	Analyze(ctx context.Context, incident *models.Incident, bundle *models.EvidenceBundle) *models.Analysis
}

// Notifier delivers the formatted notification.
type Notifier interface {
	SendMessage(ctx context.Context, msg teams.Message) (*teams.SendResult, error)
}

// Stage names used in results and logs.
const (
	StageFetchContext = "fetchContext"
	StageInvestigate  = "investigate"
	StageAnalyze      = "analyze"
)

// Result is the durable outcome of one incident's pipeline run.
type Result struct {
	IncidentID       string                 `json:"incidentId"`
	Evidence         *models.EvidenceBundle `json:"evidence,omitempty"`
	Analysis         *models.Analysis       `json:"analysis,omitempty"`
	FailedStage      string                 `json:"failedStage,omitempty"`
	Err              error                  `json:"-"`
	Duration         time.Duration          `json:"duration"`
	NotificationSent bool                   `json:"notificationSent"`
}

// Workflow wires the pipeline stages. notifier may be nil, which disables
// delivery.
type Workflow struct {
	monitors     MonitorResolver
	investigator Investigator
	analyzer     Analyzer
	notifier     Notifier
	telemetry    *telemetry.Metrics
	now          func() time.Time
}

// New creates a workflow.
func New(monitors MonitorResolver, investigator Investigator, analyzer Analyzer, notifier Notifier, tm *telemetry.Metrics) *Workflow {
	return &Workflow{
		monitors:     monitors,
		investigator: investigator,
		analyzer:     analyzer,
		notifier:     notifier,
		telemetry:    tm,
		now:          time.Now,
	}
}

// Run executes the pipeline for one incident.
func (w *Workflow) Run(ctx context.Context, incident *models.Incident) *Result {
	start := w.now()
	result := &Result{IncidentID: incident.ID}
	defer func() {
		result.Duration = w.now().Sub(start)
	}()

	monitor, ok := w.monitors.Get(incident.MonitorID)
	if !ok {
		result.FailedStage = StageFetchContext
		result.Err = senterrors.Configuration("workflow.fetchContext",
			fmt.Errorf("monitor %q not found", incident.MonitorID))
		log.Error().Err(result.Err).Str("incident", incident.ID).Msg("Workflow aborted")
		return result
	}

	outcome := w.investigator.Investigate(ctx, incident, monitor)
	if outcome == nil || outcome.Bundle == nil {
		result.FailedStage = StageInvestigate
		result.Err = senterrors.New(senterrors.CodeInternal, "workflow.investigate",
			fmt.Errorf("investigation produced no bundle"))
		log.Error().Err(result.Err).Str("incident", incident.ID).Msg("Workflow aborted")
		return result
	}
	result.Evidence = outcome.Bundle
	incident.InvestigationTier = outcome.TierUsed

	if err := ctx.Err(); err != nil {
		result.FailedStage = StageAnalyze
		result.Err = senterrors.New(senterrors.CodeInternal, "workflow.analyze", err)
		return result
	}
	result.Analysis = w.analyzer.Analyze(ctx, incident, outcome.Bundle)

	result.NotificationSent = w.notify(ctx, incident, result.Analysis, monitor)

	log.Info().
		Str("incident", incident.ID).
		Str("tier", string(outcome.TierUsed)).
		Bool("fallback", result.Analysis.IsFallback()).
		Bool("notified", result.NotificationSent).
		Dur("duration", w.now().Sub(start)).
		Msg("Incident pipeline complete")
	return result
}

// notify formats and delivers the Teams card. Failures are logged; they
// never fail the workflow.
func (w *Workflow) notify(ctx context.Context, incident *models.Incident, a *models.Analysis, monitor *models.Monitor) bool {
	if w.notifier == nil {
		return false
	}

	card, err := teams.BuildIncidentCard(incident, a, monitor)
	if err != nil {
		w.countNotification("build_failed")
		log.Warn().Err(err).Str("incident", incident.ID).Msg("Notification card not built")
		return false
	}

	msg := teams.Message{Content: card}
	if monitor.TeamsNotification != nil {
		msg.WebhookURL = monitor.TeamsNotification.ChannelWebhookURL
	}

	if _, err := w.notifier.SendMessage(ctx, msg); err != nil {
		w.countNotification("failure")
		log.Warn().Err(err).Str("incident", incident.ID).Msg("Notification not delivered")
		return false
	}
	w.countNotification("success")
	return true
}

func (w *Workflow) countNotification(outcome string) {
	if w.telemetry != nil {
		w.telemetry.NotificationsSent.WithLabelValues(outcome).Inc()
	}
}
