package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/incidentwatch/sentinel/internal/adapters/llm"
	"github.com/incidentwatch/sentinel/internal/cache"
	"github.com/incidentwatch/sentinel/internal/circuit"
	"github.com/incidentwatch/sentinel/internal/models"
	"github.com/incidentwatch/sentinel/internal/persistence"
	"github.com/incidentwatch/sentinel/internal/telemetry"
)

const (
	minSummaryLength    = 20
	minHypothesisLength = 20
)

// UsageSink persists token usage records. Failures are logged, never
// propagated.
type UsageSink interface {
	StoreLLMUsage(ctx context.Context, rec persistence.UsageRecord) error
}

// Config tunes the analysis engine.
type Config struct {
	ResponseTTL     time.Duration // LLM response cache TTL
	CostPer1KInput  float64
	CostPer1KOutput float64
}

// Engine produces an Analysis for every incident: from cache, from the LLM,
// or from the deterministic fallback template. It never fails.
type Engine struct {
	provider  llm.Provider
	breaker   *circuit.Breaker
	cache     cache.Cache
	usage     UsageSink
	telemetry *telemetry.Metrics
	cfg       Config
	now       func() time.Time
}

// New creates an analysis engine. usage may be nil.
func New(provider llm.Provider, breaker *circuit.Breaker, c cache.Cache, usage UsageSink, tm *telemetry.Metrics, cfg Config) *Engine {
	if cfg.ResponseTTL <= 0 {
		cfg.ResponseTTL = time.Hour
	}
	return &Engine{
		provider:  provider,
		breaker:   breaker,
		cache:     c,
		usage:     usage,
		telemetry: tm,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Analyze builds the prompt, consults the response cache, and calls the LLM
// behind the circuit breaker. Cache hits bypass the breaker entirely. Any
// failure along the way yields the fallback template.
func (e *Engine) Analyze(ctx context.Context, incident *models.Incident, bundle *models.EvidenceBundle) *models.Analysis {
	prompt := BuildPrompt(incident, bundle)
	key := promptCacheKey(prompt)

	if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		var cached models.Analysis
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			cached.IncidentID = incident.ID
			e.countCall("cached")
			log.Debug().Str("incident", incident.ID).Msg("Analysis served from cache")
			return &cached
		}
		log.Warn().Str("key", key).Msg("Discarding unreadable cached analysis")
	}

	if !e.breaker.Allow() {
		e.countCall("blocked")
		log.Warn().Str("incident", incident.ID).Msg("LLM circuit open, using fallback analysis")
		return e.fallback(incident, bundle)
	}

	resp, err := e.provider.GenerateAnalysis(ctx, prompt)
	if err != nil {
		e.breaker.RecordFailure(err)
		e.countCall("failure")
		log.Warn().Err(err).Str("incident", incident.ID).Msg("LLM call failed, using fallback analysis")
		return e.fallback(incident, bundle)
	}
	e.breaker.RecordSuccess()

	parsed, err := parseAnalysis(resp.Content)
	if err != nil {
		e.countCall("failure")
		log.Warn().Err(err).Str("incident", incident.ID).Msg("LLM response rejected, using fallback analysis")
		return e.fallback(incident, bundle)
	}
	e.countCall("success")

	parsed.IncidentID = incident.ID
	parsed.Metadata = models.AnalysisMetadata{
		AnalyzedAt: e.now().UTC(),
		ModelUsed:  resp.ModelUsed,
		TokensUsed: tokenUsage(resp, prompt),
		DurationMs: resp.Duration.Milliseconds(),
	}

	e.recordUsage(ctx, incident.ID, parsed.Metadata)
	e.cacheAnalysis(ctx, key, parsed)
	return parsed
}

func promptCacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return "llm:" + hex.EncodeToString(sum[:])
}

// tokenUsage prefers provider-reported counts, estimating chars/4 when the
// provider reported nothing.
func tokenUsage(resp *llm.Response, prompt string) models.TokenUsage {
	usage := models.TokenUsage{
		Input:  resp.TokenUsage.Input,
		Output: resp.TokenUsage.Output,
	}
	if usage.Input == 0 {
		usage.Input = estimateTokens(prompt)
	}
	if usage.Output == 0 {
		usage.Output = estimateTokens(resp.Content)
	}
	usage.Total = usage.Input + usage.Output
	return usage
}

// estimateTokens approximates tokens as ceil(len/4).
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func (e *Engine) recordUsage(ctx context.Context, incidentID string, meta models.AnalysisMetadata) {
	if e.telemetry != nil {
		e.telemetry.LLMTokens.WithLabelValues("input").Add(float64(meta.TokensUsed.Input))
		e.telemetry.LLMTokens.WithLabelValues("output").Add(float64(meta.TokensUsed.Output))
	}
	if e.usage == nil {
		return
	}

	cost := float64(meta.TokensUsed.Input)/1000*e.cfg.CostPer1KInput +
		float64(meta.TokensUsed.Output)/1000*e.cfg.CostPer1KOutput
	err := e.usage.StoreLLMUsage(ctx, persistence.UsageRecord{
		IncidentID:   incidentID,
		Model:        meta.ModelUsed,
		InputTokens:  meta.TokensUsed.Input,
		OutputTokens: meta.TokensUsed.Output,
		TotalTokens:  meta.TokensUsed.Total,
		CostUSD:      cost,
	})
	if err != nil {
		log.Warn().Err(err).Str("incident", incidentID).Msg("LLM usage record not stored")
	}
}

func (e *Engine) cacheAnalysis(ctx context.Context, key string, a *models.Analysis) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := e.cache.SetEx(ctx, key, e.cfg.ResponseTTL, string(raw)); err != nil {
		log.Warn().Err(err).Msg("Analysis cache write failed")
	}
}

func (e *Engine) countCall(outcome string) {
	if e.telemetry != nil {
		e.telemetry.LLMCalls.WithLabelValues(outcome).Inc()
	}
}

// parseAnalysis strips Markdown fences, parses the JSON, and validates the
// result against the schema.
func parseAnalysis(content string) (*models.Analysis, error) {
	cleaned := stripFences(content)

	var parsed models.Analysis
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := validateAnalysis(&parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// stripFences removes a surrounding Markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func validateAnalysis(a *models.Analysis) error {
	if len(strings.TrimSpace(a.Summary)) < minSummaryLength {
		return fmt.Errorf("summary shorter than %d characters", minSummaryLength)
	}
	if len(strings.TrimSpace(a.RootCause.Hypothesis)) < minHypothesisLength {
		return fmt.Errorf("rootCause.hypothesis shorter than %d characters", minHypothesisLength)
	}
	if !a.RootCause.Confidence.Valid() {
		return fmt.Errorf("rootCause.confidence %q is not one of high/medium/low", a.RootCause.Confidence)
	}
	if len(a.RootCause.Evidence) == 0 {
		return fmt.Errorf("rootCause.evidence is empty")
	}
	for i, action := range a.RecommendedActions {
		if strings.TrimSpace(action.Action) == "" {
			return fmt.Errorf("recommendedActions[%d].action is empty", i)
		}
	}
	return nil
}

// fallback builds the deterministic template analysis from bundle fields.
func (e *Engine) fallback(incident *models.Incident, bundle *models.EvidenceBundle) *models.Analysis {
	if e.telemetry != nil {
		e.telemetry.FallbackTotal.Inc()
	}
	return BuildFallback(incident, bundle, e.now().UTC())
}

// BuildFallback renders the template analysis used whenever the LLM path is
// unavailable or produced an unusable response.
func BuildFallback(incident *models.Incident, bundle *models.EvidenceBundle, analyzedAt time.Time) *models.Analysis {
	summary := fmt.Sprintf(
		"Automated template analysis: %s on %s moved to %.2f against a baseline of %.2f (%.1f%% deviation). LLM analysis was unavailable.",
		incident.MetricName, incident.ServiceName,
		incident.MetricValue, incident.BaselineValue, incident.DeviationPercentage)

	hypothesis := fmt.Sprintf(
		"The %s metric deviated %.1f%% from its learned baseline; no machine-generated hypothesis is available.",
		incident.MetricName, incident.DeviationPercentage)

	evidence := []string{
		fmt.Sprintf("metric %s at %.2f vs baseline %.2f", incident.MetricName,
			incident.MetricValue, incident.BaselineValue),
	}
	if incident.ErrorMessage != "" {
		evidence = append(evidence, "error observed: "+incident.ErrorMessage)
	}

	suspectedCommit := ""
	if bundle.GitlabContext != nil && len(bundle.GitlabContext.Commits) > 0 {
		top := bundle.GitlabContext.Commits[0]
		suspectedCommit = top.SHA
		evidence = append(evidence, fmt.Sprintf(
			"highest-scored recent commit %s (%.2f): %s",
			shortSHA(top.SHA), top.Score.Combined, firstLine(top.Message)))
	}
	if bundle.DatadogContext.DeploymentEvent != nil {
		evidence = append(evidence, fmt.Sprintf(
			"deployment of %s at %s",
			bundle.DatadogContext.DeploymentEvent.Service,
			bundle.DatadogContext.DeploymentEvent.DeployedAt.UTC().Format(time.RFC3339)))
	}

	actions := []models.RecommendedAction{
		{Priority: 1, Action: "Review the highest-scored recent commits for regressions",
			Reasoning: "code changes near the incident are the most common cause"},
		{Priority: 2, Action: "Check recent deployments and consider a rollback if one aligns with the incident window",
			Reasoning: "deployment timing correlates with the anomaly"},
		{Priority: 3, Action: "Escalate to the owning team for manual investigation",
			Reasoning: "automated analysis was unavailable"},
	}

	return &models.Analysis{
		IncidentID: incident.ID,
		Summary:    summary,
		RootCause: models.RootCause{
			Hypothesis:      hypothesis,
			Confidence:      models.ConfidenceLow,
			Evidence:        evidence,
			SuspectedCommit: suspectedCommit,
		},
		Mechanism:           "Unknown; template analysis does not infer a mechanism.",
		RecommendedActions:  actions,
		EstimatedComplexity: "moderate",
		RequiresHumanReview: true,
		Metadata: models.AnalysisMetadata{
			AnalyzedAt: analyzedAt,
			ModelUsed:  models.FallbackModelName,
		},
	}
}
