package investigation

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/incidentwatch/sentinel/internal/adapters/dbinvest"
	"github.com/incidentwatch/sentinel/internal/adapters/gitlab"
	"github.com/incidentwatch/sentinel/internal/adapters/sourcegraph"
	"github.com/incidentwatch/sentinel/internal/models"
	"github.com/incidentwatch/sentinel/internal/telemetry"
)

// MetricsSource is the metrics-backend slice the orchestrator needs.
type MetricsSource interface {
	QueryMetrics(ctx context.Context, query string, fromUnix, toUnix int64) ([]models.MetricSample, error)
	QueryDeploymentEvents(ctx context.Context, tags []string, fromUnix, toUnix int64) []models.DeploymentEvent
}

// GitSource is the source-control slice the git collector needs.
type GitSource interface {
	GetCommits(ctx context.Context, req gitlab.CommitsRequest) ([]models.Commit, error)
	GetCommitDiff(ctx context.Context, repository, sha string) (*gitlab.CommitDiff, error)
	GetPipelineForCommit(ctx context.Context, repository, sha string) *models.PipelineStatus
	GetMergeRequestForCommit(ctx context.Context, repository, sha string) *models.MergeRequestRef
}

// CodeSearcher is the code-search slice the cross-repo collector needs.
type CodeSearcher interface {
	Search(ctx context.Context, req sourcegraph.SearchRequest) (*sourcegraph.SearchResult, error)
}

// DBInvestigator is the database slice the db collector needs.
type DBInvestigator interface {
	Investigate(ctx context.Context, req dbinvest.Request) (*dbinvest.Result, error)
}

const (
	diffFetchLimit     = 10
	enrichFetchLimit   = 5
	crossRepoMaxHits   = 20
	metricHistorySpan  = time.Hour
	defaultCollectorTO = 30 * time.Second
)

// Config tunes the orchestrator's windows and timeouts.
type Config struct {
	CollectorTimeout       time.Duration
	RecentDeploymentWindow time.Duration
	CommitLookbackWindow   time.Duration
}

// Orchestrator runs tiered evidence collection. Any of git, search, and db
// may be nil; the corresponding collector is then skipped.
type Orchestrator struct {
	metrics   MetricsSource
	git       GitSource
	search    CodeSearcher
	db        DBInvestigator
	telemetry *telemetry.Metrics
	cfg       Config
	now       func() time.Time
}

// New creates an orchestrator.
func New(metrics MetricsSource, git GitSource, search CodeSearcher, db DBInvestigator, tm *telemetry.Metrics, cfg Config) *Orchestrator {
	if cfg.CollectorTimeout <= 0 {
		cfg.CollectorTimeout = defaultCollectorTO
	}
	if cfg.RecentDeploymentWindow <= 0 {
		cfg.RecentDeploymentWindow = 2 * time.Hour
	}
	if cfg.CommitLookbackWindow <= 0 {
		cfg.CommitLookbackWindow = 24 * time.Hour
	}
	return &Orchestrator{
		metrics:   metrics,
		git:       git,
		search:    search,
		db:        db,
		telemetry: tm,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Outcome is the full result of one investigation.
type Outcome struct {
	Bundle   *models.EvidenceBundle
	TierUsed models.InvestigationTier
	Duration time.Duration
	Errors   []models.CollectorError
}

// Investigate collects evidence for the incident at the selected tier.
// Collector failures are recoverable: they surface as warnings on the
// bundle, never as a failed investigation.
func (o *Orchestrator) Investigate(ctx context.Context, incident *models.Incident, monitor *models.Monitor) *Outcome {
	start := o.now()
	tier := SelectTier(CriteriaFor(incident, monitor))

	if err := ctx.Err(); err != nil {
		return o.fatal(incident, start, "investigation cancelled before collection: "+err.Error())
	}

	var collErrs []models.CollectorError
	datadogCtx, metricsErr := o.collectMetricsContext(ctx, incident, monitor)
	if metricsErr != nil {
		collErrs = append(collErrs, recoverable("metrics", metricsErr))
	}

	tier = Refine(tier, datadogCtx.DeploymentEvent != nil, monitor)
	strategy := StrategyFor(tier)

	var (
		mu        sync.Mutex
		gitCtx    *models.GitlabContext
		dbCtx     *models.DatabaseInvestigationContext
		crossRepo *models.CrossRepoContext
	)
	record := func(source string, err error) {
		mu.Lock()
		collErrs = append(collErrs, recoverable(source, err))
		mu.Unlock()
		if o.telemetry != nil {
			o.telemetry.CollectorFailures.WithLabelValues(source).Inc()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if strategy.CollectGit && o.git != nil && monitor.HasGitConfig() {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, o.cfg.CollectorTimeout)
			defer cancel()
			collected, err := o.collectGit(cctx, incident, monitor, strategy, datadogCtx)
			if err != nil {
				record("git", err)
			}
			mu.Lock()
			gitCtx = collected
			mu.Unlock()
			return nil
		})
	}

	if strategy.CollectDB && o.db != nil && monitor.HasDatabaseConfig() {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, o.cfg.CollectorTimeout)
			defer cancel()
			collected, err := o.collectDB(cctx, incident, monitor)
			if err != nil {
				record("db", err)
			}
			mu.Lock()
			dbCtx = collected
			mu.Unlock()
			return nil
		})
	}

	if strategy.CollectCrossRepo && o.search != nil && incident.ErrorMessage != "" {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, o.cfg.CollectorTimeout)
			defer cancel()
			collected, err := o.collectCrossRepo(cctx, incident, monitor)
			if err != nil {
				record("cross-repo", err)
			}
			mu.Lock()
			crossRepo = collected
			mu.Unlock()
			return nil
		})
	}

	// Collectors never return errors through the group; Wait only joins.
	_ = g.Wait()

	bundle := Aggregate(incident, tier, Partial{
		Datadog:   datadogCtx,
		Git:       gitCtx,
		DB:        dbCtx,
		CrossRepo: crossRepo,
		Errors:    collErrs,
	}, o.now().UTC())

	duration := o.now().Sub(start)
	o.observe(tier, duration, bundle.Completeness)

	log.Info().
		Str("incident", incident.ID).
		Str("tier", string(tier)).
		Float64("completeness", bundle.Completeness).
		Dur("duration", duration).
		Int("warnings", len(bundle.Warnings)).
		Msg("Investigation complete")

	return &Outcome{
		Bundle:   bundle,
		TierUsed: tier,
		Duration: duration,
		Errors:   collErrs,
	}
}

// fatal builds the minimal bundle for failures before any collector ran.
func (o *Orchestrator) fatal(incident *models.Incident, start time.Time, warning string) *Outcome {
	bundle := &models.EvidenceBundle{
		IncidentID:        incident.ID,
		InvestigationTier: models.TierT1,
		Completeness:      0,
		CollectedAt:       o.now().UTC(),
		Warnings:          []string{warning},
	}
	duration := o.now().Sub(start)
	o.observe(models.TierT1, duration, 0)
	return &Outcome{Bundle: bundle, TierUsed: models.TierT1, Duration: duration}
}

func (o *Orchestrator) observe(tier models.InvestigationTier, duration time.Duration, completeness float64) {
	if o.telemetry == nil {
		return
	}
	o.telemetry.InvestigationDuration.WithLabelValues(string(tier)).Observe(duration.Seconds())
	o.telemetry.TierUsage.WithLabelValues(string(tier)).Inc()
	o.telemetry.Completeness.Observe(completeness)
}

// collectMetricsContext attaches the incident's error signal, recent metric
// history, and any deployment event near the incident. Failures here are
// recoverable.
func (o *Orchestrator) collectMetricsContext(ctx context.Context, incident *models.Incident, monitor *models.Monitor) (models.DatadogContext, error) {
	datadogCtx := models.DatadogContext{}

	if incident.ErrorMessage != "" || incident.StackTrace != "" {
		details := &models.ErrorDetails{
			Message:    incident.ErrorMessage,
			StackTrace: incident.StackTrace,
		}
		details.FilePath, details.LineNumber = ExtractErrorLocation(incident.StackTrace)
		datadogCtx.ErrorDetails = details
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.CollectorTimeout)
	defer cancel()

	detectedAt := incident.DetectedAt.UTC()
	var histErr error
	history, err := o.metrics.QueryMetrics(cctx, monitor.Queries.Metric,
		detectedAt.Add(-metricHistorySpan).Unix(), detectedAt.Unix())
	if err != nil {
		histErr = err
	} else {
		datadogCtx.MetricHistory = history
	}

	// Deployment lookup is best-effort inside the adapter already.
	events := o.metrics.QueryDeploymentEvents(cctx, monitor.Tags,
		detectedAt.Add(-o.cfg.RecentDeploymentWindow).Unix(), detectedAt.Unix())
	if len(events) > 0 {
		latest := events[0]
		for _, event := range events[1:] {
			if event.DeployedAt.After(latest.DeployedAt) {
				latest = event
			}
		}
		datadogCtx.DeploymentEvent = &latest
	}

	return datadogCtx, histErr
}

// collectGit lists, enriches, and scores commits across the monitor's
// repositories. Per-repo failures keep the other repositories going.
func (o *Orchestrator) collectGit(ctx context.Context, incident *models.Incident, monitor *models.Monitor, strategy Strategy, datadogCtx models.DatadogContext) (*models.GitlabContext, error) {
	sctx := ScoringContext{
		DetectedAt: incident.DetectedAt.UTC(),
		Window:     o.cfg.CommitLookbackWindow,
	}
	if datadogCtx.ErrorDetails != nil {
		sctx.StackTraceFilePath = datadogCtx.ErrorDetails.FilePath
	}
	if datadogCtx.DeploymentEvent != nil {
		sctx.DeploymentCommitSHA = datadogCtx.DeploymentEvent.CommitSHA
	}

	var (
		allScored []models.ScoredCommit
		firstErr  error
	)
	for _, repo := range monitor.GitlabRepositories {
		commits, err := o.git.GetCommits(ctx, gitlab.CommitsRequest{
			Repository: repo,
			Since:      incident.DetectedAt.Add(-o.cfg.CommitLookbackWindow),
			Until:      incident.DetectedAt,
			PerPage:    strategy.MaxCommitsToAnalyze,
		})
		if err != nil {
			log.Warn().Err(err).Str("repository", repo).Msg("Commit listing failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		diffs := map[string]string{}
		if strategy.IncludeCommitDiffs {
			for i := range commits {
				if i >= diffFetchLimit {
					break
				}
				diff, err := o.git.GetCommitDiff(ctx, repo, commits[i].SHA)
				if err != nil {
					log.Debug().Err(err).Str("sha", commits[i].SHA).Msg("Diff fetch failed")
					continue
				}
				commits[i].FilesChanged = diff.FilesChanged
				diffs[commits[i].SHA] = diff.Diff
			}
		}

		scored := ScoreCommits(commits, sctx)
		for i := range scored {
			scored[i].Diff = diffs[scored[i].SHA]
			if i < enrichFetchLimit {
				scored[i].Pipeline = o.git.GetPipelineForCommit(ctx, repo, scored[i].SHA)
				scored[i].MergeRequest = o.git.GetMergeRequestForCommit(ctx, repo, scored[i].SHA)
			}
		}
		allScored = append(allScored, scored...)
	}

	if len(allScored) == 0 {
		return nil, firstErr
	}
	return &models.GitlabContext{
		Commits:       allScored,
		ScoringMethod: sctx.Method(),
	}, firstErr
}

func (o *Orchestrator) collectDB(ctx context.Context, incident *models.Incident, monitor *models.Monitor) (*models.DatabaseInvestigationContext, error) {
	result, err := o.db.Investigate(ctx, dbinvest.Request{
		Tables:       monitor.DatabaseContext.RelevantTables,
		Schemas:      monitor.DatabaseContext.RelevantSchemas,
		ErrorContext: incident.ErrorMessage,
	})
	if err != nil {
		return nil, err
	}
	return &models.DatabaseInvestigationContext{
		SchemaFindings:      result.SchemaFindings,
		DataFindings:        result.DataFindings,
		PerformanceFindings: result.PerformanceFindings,
	}, nil
}

func (o *Orchestrator) collectCrossRepo(ctx context.Context, incident *models.Incident, monitor *models.Monitor) (*models.CrossRepoContext, error) {
	pattern := DeriveSearchPattern(incident.ErrorMessage)
	if pattern == "" {
		return nil, nil
	}

	result, err := o.search.Search(ctx, sourcegraph.SearchRequest{
		Pattern:      pattern,
		Repositories: monitor.GitlabRepositories,
		ExcludeTests: true,
		MaxResults:   crossRepoMaxHits,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return &models.CrossRepoContext{
		SearchPattern:        pattern,
		AffectedRepositories: result.AffectedRepositories,
		TotalMatchCount:      result.TotalMatchCount,
		CriticalPaths:        result.CriticalPaths,
		Matches:              result.Matches,
	}, nil
}

func recoverable(source string, err error) models.CollectorError {
	return models.CollectorError{
		Source:      source,
		Message:     err.Error(),
		Recoverable: true,
	}
}

// searchPatternExtractors pull the most specific searchable token out of an
// error message, tried in order.
var searchPatternExtractors = []*regexp.Regexp{
	regexp.MustCompile(`(\w+Error):`),
	regexp.MustCompile(`at (\w+)\.`),
	regexp.MustCompile(`function (\w+)`),
	regexp.MustCompile(`class (\w+)`),
	regexp.MustCompile(`method (\w+)`),
}

// DeriveSearchPattern extracts a code-search pattern from an error message,
// falling back to the first word longer than five characters.
func DeriveSearchPattern(errorMessage string) string {
	for _, extractor := range searchPatternExtractors {
		if m := extractor.FindStringSubmatch(errorMessage); len(m) >= 2 {
			return m[1]
		}
	}
	for _, word := range strings.Fields(errorMessage) {
		if len(word) > 5 {
			return word
		}
	}
	return ""
}
