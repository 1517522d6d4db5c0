package models

import "time"

// Confidence grades how sure the analysis is about its hypothesis.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether the confidence is one of the known values.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	default:
		return false
	}
}

// RootCause is the analysis' primary hypothesis.
type RootCause struct {
	Hypothesis      string     `json:"hypothesis"`
	Confidence      Confidence `json:"confidence"`
	Evidence        []string   `json:"evidence"`
	SuspectedCommit string     `json:"suspectedCommit,omitempty"`
}

// RecommendedAction is one remediation step, ordered by priority.
type RecommendedAction struct {
	Priority        int    `json:"priority"`
	Action          string `json:"action"`
	Reasoning       string `json:"reasoning,omitempty"`
	EstimatedImpact string `json:"estimatedImpact,omitempty"`
}

// TokenUsage counts LLM tokens for one analysis.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// AnalysisMetadata records how the analysis was produced.
type AnalysisMetadata struct {
	AnalyzedAt time.Time  `json:"analyzedAt"`
	ModelUsed  string     `json:"modelUsed"`
	TokensUsed TokenUsage `json:"tokensUsed"`
	DurationMs int64      `json:"durationMs"`
}

// Analysis is the synthesized root-cause report for an incident.
type Analysis struct {
	IncidentID          string              `json:"incidentId"`
	Summary             string              `json:"summary"`
	RootCause           RootCause           `json:"rootCause"`
	Mechanism           string              `json:"mechanism,omitempty"`
	DatabaseFindings    string              `json:"databaseFindings,omitempty"`
	CrossRepoFindings   string              `json:"crossRepoFindings,omitempty"`
	ContributingFactors []string            `json:"contributingFactors,omitempty"`
	RecommendedActions  []RecommendedAction `json:"recommendedActions,omitempty"`
	EstimatedComplexity string              `json:"estimatedComplexity,omitempty"`
	RequiresHumanReview bool                `json:"requiresHumanReview"`
	RequiresRollback    *bool               `json:"requiresRollback,omitempty"`
	Metadata            AnalysisMetadata    `json:"metadata"`
}

// FallbackModelName marks analyses produced by the deterministic template
// instead of the LLM.
const FallbackModelName = "fallback-template"

// IsFallback reports whether the analysis came from the template path.
func (a *Analysis) IsFallback() bool {
	return a.Metadata.ModelUsed == FallbackModelName
}
