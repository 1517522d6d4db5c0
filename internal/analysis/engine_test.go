package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentwatch/sentinel/internal/adapters/llm"
	"github.com/incidentwatch/sentinel/internal/cache"
	"github.com/incidentwatch/sentinel/internal/circuit"
	"github.com/incidentwatch/sentinel/internal/models"
	"github.com/incidentwatch/sentinel/internal/persistence"
	"github.com/incidentwatch/sentinel/internal/telemetry"
)

const validResponse = `{
  "summary": "Checkout latency tripled after the retry budget was tightened.",
  "rootCause": {
    "hypothesis": "Commit abc123 reduced the upstream timeout below the p99 latency.",
    "confidence": "high",
    "evidence": ["timeout lowered from 60s to 30s", "deployment 20 minutes before incident"],
    "suspectedCommit": "abc123"
  },
  "mechanism": "Requests that previously completed now exhaust the budget and retry.",
  "recommendedActions": [
    {"priority": 1, "action": "Revert commit abc123", "reasoning": "restores the previous budget"}
  ],
  "estimatedComplexity": "trivial",
  "requiresHumanReview": false
}`

type fakeProvider struct {
	resp  *llm.Response
	err   error
	calls int
}

func (f *fakeProvider) GenerateAnalysis(context.Context, string) (*llm.Response, error) {
	f.calls++
	return f.resp, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

type fakeSink struct {
	records []persistence.UsageRecord
}

func (f *fakeSink) StoreLLMUsage(_ context.Context, rec persistence.UsageRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func goodResponse() *llm.Response {
	return &llm.Response{
		Content:    validResponse,
		TokenUsage: llm.TokenUsage{Input: 1200, Output: 400, Total: 1600},
		Duration:   800 * time.Millisecond,
		ModelUsed:  "claude-sonnet-4",
	}
}

func newTestEngine(provider llm.Provider, sink UsageSink) (*Engine, *circuit.Breaker) {
	breaker := circuit.NewBreaker("llm-test", circuit.DefaultConfig())
	e := New(provider, breaker, cache.NewMemory(100), sink, telemetry.NewForTesting(), Config{
		ResponseTTL:     time.Hour,
		CostPer1KInput:  3.0,
		CostPer1KOutput: 15.0,
	})
	return e, breaker
}

func engineIncident() *models.Incident {
	return &models.Incident{
		ID:                  "inc-3",
		ServiceName:         "checkout",
		Severity:            models.SeverityHigh,
		MetricName:          "checkout.latency",
		MetricValue:         900,
		BaselineValue:       300,
		DeviationPercentage: 200,
		DetectedAt:          time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
}

func engineBundle() *models.EvidenceBundle {
	return &models.EvidenceBundle{
		IncidentID:        "inc-3",
		InvestigationTier: models.TierT2,
		Completeness:      0.7,
		GitlabContext: &models.GitlabContext{
			Commits: []models.ScoredCommit{{
				Commit: models.Commit{SHA: "abc123", Message: "tighten retry budget"},
				Score:  models.CommitScore{Combined: 0.82},
			}},
			ScoringMethod: models.ScoringByTemporal,
		},
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	provider := &fakeProvider{resp: goodResponse()}
	sink := &fakeSink{}
	e, _ := newTestEngine(provider, sink)

	a := e.Analyze(context.Background(), engineIncident(), engineBundle())

	require.NotNil(t, a)
	assert.False(t, a.IsFallback())
	assert.Equal(t, "inc-3", a.IncidentID)
	assert.Equal(t, models.ConfidenceHigh, a.RootCause.Confidence)
	assert.Equal(t, "abc123", a.RootCause.SuspectedCommit)
	assert.Equal(t, "claude-sonnet-4", a.Metadata.ModelUsed)
	assert.Equal(t, 1200, a.Metadata.TokensUsed.Input)
	assert.Equal(t, 400, a.Metadata.TokensUsed.Output)
	assert.Equal(t, 1600, a.Metadata.TokensUsed.Total)
	assert.Equal(t, int64(800), a.Metadata.DurationMs)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "inc-3", rec.IncidentID)
	assert.Equal(t, 1600, rec.TotalTokens)
	assert.InDelta(t, 1200.0/1000*3.0+400.0/1000*15.0, rec.CostUSD, 0.0001)
}

func TestAnalyzeStripsMarkdownFences(t *testing.T) {
	provider := &fakeProvider{resp: &llm.Response{
		Content:   "```json\n" + validResponse + "\n```",
		ModelUsed: "claude-sonnet-4",
	}}
	e, _ := newTestEngine(provider, nil)

	a := e.Analyze(context.Background(), engineIncident(), engineBundle())
	assert.False(t, a.IsFallback())
	assert.Equal(t, models.ConfidenceHigh, a.RootCause.Confidence)
}

func TestAnalyzeEstimatesTokensWhenUnreported(t *testing.T) {
	provider := &fakeProvider{resp: &llm.Response{Content: validResponse, ModelUsed: "m"}}
	e, _ := newTestEngine(provider, nil)

	incident := engineIncident()
	bundle := engineBundle()
	prompt := BuildPrompt(incident, bundle)

	a := e.Analyze(context.Background(), incident, bundle)
	assert.Equal(t, (len(prompt)+3)/4, a.Metadata.TokensUsed.Input)
	assert.Equal(t, (len(validResponse)+3)/4, a.Metadata.TokensUsed.Output)
}

func TestAnalyzeInvalidJSONFallsBack(t *testing.T) {
	provider := &fakeProvider{resp: &llm.Response{Content: "the root cause is probably DNS"}}
	e, breaker := newTestEngine(provider, nil)

	a := e.Analyze(context.Background(), engineIncident(), engineBundle())

	require.NotNil(t, a)
	assert.True(t, a.IsFallback())
	assert.Equal(t, models.FallbackModelName, a.Metadata.ModelUsed)
	assert.Equal(t, models.ConfidenceLow, a.RootCause.Confidence)
	assert.True(t, a.RequiresHumanReview)
	assert.Equal(t, 0, a.Metadata.TokensUsed.Total)
	assert.Equal(t, "abc123", a.RootCause.SuspectedCommit, "top commit carried into the template")
	assert.True(t, breaker.Allow(), "unparsable responses do not trip the breaker")
}

func TestAnalyzeSchemaViolationFallsBack(t *testing.T) {
	provider := &fakeProvider{resp: &llm.Response{
		Content: `{"summary": "too short", "rootCause": {"hypothesis": "also way too short here?", "confidence": "high", "evidence": ["x"]}}`,
	}}
	e, _ := newTestEngine(provider, nil)

	a := e.Analyze(context.Background(), engineIncident(), engineBundle())
	assert.True(t, a.IsFallback())
}

func TestAnalyzeProviderErrorFallsBackAndTripsBreaker(t *testing.T) {
	provider := &fakeProvider{err: errors.New("api overloaded")}
	e, breaker := newTestEngine(provider, nil)
	ctx := context.Background()

	incident := engineIncident()
	for i := 0; i < 5; i++ {
		a := e.Analyze(ctx, incident, engineBundle())
		assert.True(t, a.IsFallback())
	}
	assert.Equal(t, circuit.StateOpen, breaker.State(), "five consecutive failures open the breaker")

	before := provider.calls
	a := e.Analyze(ctx, incident, engineBundle())
	assert.True(t, a.IsFallback())
	assert.Equal(t, before, provider.calls, "open breaker blocks the call entirely")
}

func TestAnalyzeCacheHitBypassesOpenBreaker(t *testing.T) {
	provider := &fakeProvider{resp: goodResponse()}
	e, breaker := newTestEngine(provider, nil)
	ctx := context.Background()
	incident := engineIncident()
	bundle := engineBundle()

	first := e.Analyze(ctx, incident, bundle)
	require.False(t, first.IsFallback())
	require.Equal(t, 1, provider.calls)

	for i := 0; i < 5; i++ {
		breaker.RecordFailure(errors.New("unrelated failure"))
	}
	require.Equal(t, circuit.StateOpen, breaker.State())

	second := e.Analyze(ctx, incident, bundle)
	assert.False(t, second.IsFallback(), "identical evidence served from cache while the breaker is open")
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, 1, provider.calls, "cache hit never reaches the provider")
}

func TestParseAnalysisValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty evidence", `{"summary": "a perfectly reasonable summary", "rootCause": {"hypothesis": "a perfectly reasonable hypothesis", "confidence": "medium", "evidence": []}}`},
		{"bad confidence", `{"summary": "a perfectly reasonable summary", "rootCause": {"hypothesis": "a perfectly reasonable hypothesis", "confidence": "certain", "evidence": ["x"]}}`},
		{"empty action", `{"summary": "a perfectly reasonable summary", "rootCause": {"hypothesis": "a perfectly reasonable hypothesis", "confidence": "low", "evidence": ["x"]}, "recommendedActions": [{"priority": 1, "action": ""}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAnalysis(tt.content)
			assert.Error(t, err)
		})
	}

	parsed, err := parseAnalysis(validResponse)
	require.NoError(t, err)
	assert.Equal(t, models.ConfidenceHigh, parsed.RootCause.Confidence)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}

func TestBuildFallbackWithoutEvidence(t *testing.T) {
	analyzedAt := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)
	a := BuildFallback(engineIncident(), &models.EvidenceBundle{IncidentID: "inc-3"}, analyzedAt)

	assert.Equal(t, models.FallbackModelName, a.Metadata.ModelUsed)
	assert.Equal(t, analyzedAt, a.Metadata.AnalyzedAt)
	assert.True(t, a.RequiresHumanReview)
	assert.Empty(t, a.RootCause.SuspectedCommit)
	assert.NotEmpty(t, a.RootCause.Evidence)
	require.Len(t, a.RecommendedActions, 3)
	assert.Equal(t, 1, a.RecommendedActions[0].Priority)
}
