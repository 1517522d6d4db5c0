package models

import "time"

// CommitScore breaks a scored commit's ranking into its components.
type CommitScore struct {
	Temporal float64 `json:"temporal"`
	Risk     float64 `json:"risk"`
	Combined float64 `json:"combined"`
}

// ScoringFactor records one contribution to a commit's score for diagnostics.
type ScoringFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

// Commit is a source-control commit as returned by the GitLab adapter.
type Commit struct {
	SHA          string    `json:"sha"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"timestamp"`
	Repository   string    `json:"repository"`
	FilesChanged []string  `json:"filesChanged,omitempty"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
}

// PipelineStatus is the CI state attached to a commit, best-effort.
type PipelineStatus struct {
	Status     string    `json:"status"`
	WebURL     string    `json:"webUrl,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// MergeRequestRef links a commit to its merge request, best-effort.
type MergeRequestRef struct {
	IID    int    `json:"iid"`
	Title  string `json:"title"`
	WebURL string `json:"webUrl,omitempty"`
	Author string `json:"author,omitempty"`
}

// ScoredCommit is a commit ranked by the commit scorer.
type ScoredCommit struct {
	Commit
	Score          CommitScore      `json:"score"`
	ScoringFactors []ScoringFactor  `json:"scoringFactors"`
	Diff           string           `json:"diff,omitempty"`
	Pipeline       *PipelineStatus  `json:"pipeline,omitempty"`
	MergeRequest   *MergeRequestRef `json:"mergeRequest,omitempty"`
}

// ScoringMethod tells which signal anchored commit scoring.
type ScoringMethod string

const (
	ScoringByDeployment ScoringMethod = "deployment"
	ScoringByStackTrace ScoringMethod = "stack-trace"
	ScoringByTemporal   ScoringMethod = "temporal"
)

// ErrorDetails captures the failure signal attached to an incident.
type ErrorDetails struct {
	Message    string `json:"message,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	LineNumber int    `json:"lineNumber,omitempty"`
}

// DatadogContext is the metrics-backend slice of the evidence bundle.
// It is always present; absent optional fields stay nil.
type DatadogContext struct {
	ErrorDetails    *ErrorDetails    `json:"errorDetails,omitempty"`
	DeploymentEvent *DeploymentEvent `json:"deploymentEvent,omitempty"`
	MetricHistory   []MetricSample   `json:"metricHistory,omitempty"`
}

// GitlabContext carries scored commits when the git collector produced any.
type GitlabContext struct {
	Commits       []ScoredCommit `json:"commits"`
	ScoringMethod ScoringMethod  `json:"scoringMethod"`
}

// FindingRelevance grades how relevant the database findings are.
type FindingRelevance string

const (
	RelevanceHigh   FindingRelevance = "high"
	RelevanceMedium FindingRelevance = "medium"
	RelevanceLow    FindingRelevance = "low"
)

// DatabaseFinding is one observation from the database investigation.
type DatabaseFinding struct {
	Kind        string   `json:"kind"` // schema, data, performance
	Table       string   `json:"table,omitempty"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// DatabaseInvestigationContext groups findings from the read-only probe.
type DatabaseInvestigationContext struct {
	SchemaFindings      []DatabaseFinding `json:"schemaFindings,omitempty"`
	DataFindings        []DatabaseFinding `json:"dataFindings,omitempty"`
	PerformanceFindings []DatabaseFinding `json:"performanceFindings,omitempty"`
	Relevance           FindingRelevance  `json:"relevance"`
}

// TotalFindings counts findings across all categories.
func (d *DatabaseInvestigationContext) TotalFindings() int {
	return len(d.SchemaFindings) + len(d.DataFindings) + len(d.PerformanceFindings)
}

// CodeSearchMatch is one hit from the code-search backend.
type CodeSearchMatch struct {
	Repository string `json:"repository"`
	FilePath   string `json:"filePath"`
	LineNumber int    `json:"lineNumber,omitempty"`
	Preview    string `json:"preview,omitempty"`
}

// CrossRepoContext summarizes the code-search sweep across repositories.
type CrossRepoContext struct {
	SearchPattern        string            `json:"searchPattern"`
	AffectedRepositories []string          `json:"affectedRepositories"`
	TotalMatchCount      int               `json:"totalMatchCount"`
	CriticalPaths        []string          `json:"criticalPaths,omitempty"`
	Matches              []CodeSearchMatch `json:"matches,omitempty"`
}

// EvidenceBundle is everything the investigation learned about an incident.
type EvidenceBundle struct {
	IncidentID        string                        `json:"incidentId"`
	InvestigationTier InvestigationTier             `json:"investigationTier"`
	Completeness      float64                       `json:"completeness"`
	CollectedAt       time.Time                     `json:"collectedAt"`
	DatadogContext    DatadogContext                `json:"datadogContext"`
	GitlabContext     *GitlabContext                `json:"gitlabContext,omitempty"`
	DatabaseContext   *DatabaseInvestigationContext `json:"databaseContext,omitempty"`
	CrossRepoContext  *CrossRepoContext             `json:"crossRepoContext,omitempty"`
	Warnings          []string                      `json:"warnings,omitempty"`
}

// CollectorError is a recoverable failure from one evidence source.
type CollectorError struct {
	Source      string `json:"source"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}
