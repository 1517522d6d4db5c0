package models

import "time"

// IncidentStatus tracks an incident's lifecycle.
type IncidentStatus string

const (
	IncidentActive        IncidentStatus = "active"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentFalsePositive IncidentStatus = "false_positive"
)

// InvestigationTier controls how deep an investigation goes.
type InvestigationTier string

const (
	TierT1 InvestigationTier = "T1"
	TierT2 InvestigationTier = "T2"
	TierT3 InvestigationTier = "T3"
)

// Rank returns the tier's depth for monotone comparisons (T1 < T2 < T3).
func (t InvestigationTier) Rank() int {
	switch t {
	case TierT1:
		return 1
	case TierT2:
		return 2
	case TierT3:
		return 3
	default:
		return 0
	}
}

// Incident is a detected anomaly flowing through the pipeline.
type Incident struct {
	ID                  string            `json:"id"`
	ExternalID          string            `json:"externalId,omitempty"`
	MonitorID           string            `json:"monitorId"`
	ServiceName         string            `json:"serviceName"`
	Severity            Severity          `json:"severity"`
	Status              IncidentStatus    `json:"status"`
	InvestigationTier   InvestigationTier `json:"investigationTier,omitempty"`
	MetricName          string            `json:"metricName"`
	MetricValue         float64           `json:"metricValue"`
	BaselineValue       float64           `json:"baselineValue"`
	ThresholdValue      float64           `json:"thresholdValue"`
	DeviationPercentage float64           `json:"deviationPercentage"`
	ErrorMessage        string            `json:"errorMessage,omitempty"`
	StackTrace          string            `json:"stackTrace,omitempty"`
	DetectedAt          time.Time         `json:"detectedAt"`
	ResolvedAt          *time.Time        `json:"resolvedAt,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
	Tags                []string          `json:"tags,omitempty"`
}

// Baseline is the learned expectation for a metric at one hour of day.
// SampleCount zero is the "no baseline" sentinel.
type Baseline struct {
	MonitorID         string    `json:"monitorId"`
	HourOfDay         int       `json:"hourOfDay"`
	AverageValue      float64   `json:"averageValue"`
	StandardDeviation float64   `json:"standardDeviation"`
	SampleCount       int       `json:"sampleCount"`
	ComputedAt        time.Time `json:"computedAt"`
}

// MetricSample is a single point in a metric series.
type MetricSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TrackedError is one error-tracking event from the metrics backend.
type TrackedError struct {
	Message    string    `json:"message"`
	StackTrace string    `json:"stackTrace,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Count      int       `json:"count,omitempty"`
}

// DeploymentEvent is a deployment marker from the metrics backend.
type DeploymentEvent struct {
	Service    string    `json:"service"`
	Version    string    `json:"version,omitempty"`
	CommitSHA  string    `json:"commitSha,omitempty"`
	DeployedAt time.Time `json:"deployedAt"`
}
