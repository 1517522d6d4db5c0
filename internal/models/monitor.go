// Package models defines the core domain types shared across the detection,
// investigation and analysis pipeline.
package models

import "time"

// Severity classifies monitors and incidents.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether the severity is one of the known values.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// ThresholdType selects how a monitor's threshold is evaluated.
type ThresholdType string

const (
	ThresholdAbsolute   ThresholdType = "absolute"
	ThresholdPercentage ThresholdType = "percentage"
	ThresholdMultiplier ThresholdType = "multiplier"
)

// Threshold is a monitor's alerting policy.
type Threshold struct {
	Type     ThresholdType `json:"type" validate:"required,oneof=absolute percentage multiplier"`
	Warning  float64       `json:"warning"`
	Critical float64       `json:"critical"`
}

// MonitorQueries holds the metric queries a monitor evaluates.
type MonitorQueries struct {
	Metric        string `json:"metric" validate:"required"`
	ErrorTracking string `json:"errorTracking,omitempty"`
	Deployment    string `json:"deployment,omitempty"`
}

// DatabaseContext scopes the read-only database investigation for a monitor.
type DatabaseContext struct {
	RelevantTables  []string `json:"relevantTables,omitempty"`
	RelevantSchemas []string `json:"relevantSchemas,omitempty"`
}

// URLPatterns are templates used when rendering notification links.
type URLPatterns struct {
	Datadog  string `json:"datadog,omitempty"`
	Gitlab   string `json:"gitlab,omitempty"`
	Incident string `json:"incident,omitempty"`
}

// TeamsNotification is the notification target for a monitor.
type TeamsNotification struct {
	ChannelWebhookURL string       `json:"channelWebhookUrl"`
	MentionUsers      []string     `json:"mentionUsers,omitempty"`
	URLPatterns       *URLPatterns `json:"urlPatterns,omitempty"`
}

// Monitor is the static configuration for one service monitor. It is
// immutable within a registry load cycle.
type Monitor struct {
	ID                          string             `json:"id" validate:"required"`
	Name                        string             `json:"name" validate:"required"`
	Description                 string             `json:"description,omitempty"`
	Enabled                     bool               `json:"enabled"`
	Queries                     MonitorQueries     `json:"queries"`
	CheckIntervalSeconds        int                `json:"checkIntervalSeconds" validate:"gte=30"`
	Threshold                   Threshold          `json:"threshold"`
	TimeWindow                  string             `json:"timeWindow" validate:"required"`
	GitlabRepositories          []string           `json:"gitlabRepositories,omitempty"`
	EnableDatabaseInvestigation bool               `json:"enableDatabaseInvestigation"`
	DatabaseContext             *DatabaseContext   `json:"databaseContext,omitempty"`
	TeamsNotification           *TeamsNotification `json:"teamsNotification,omitempty"`
	Tags                        []string           `json:"tags,omitempty"`
	Severity                    Severity           `json:"severity" validate:"required,oneof=critical high medium low"`
}

// HasGitConfig reports whether the monitor names at least one repository.
func (m *Monitor) HasGitConfig() bool {
	return len(m.GitlabRepositories) > 0
}

// HasDatabaseConfig reports whether database investigation is enabled and scoped.
func (m *Monitor) HasDatabaseConfig() bool {
	return m.EnableDatabaseInvestigation &&
		m.DatabaseContext != nil &&
		(len(m.DatabaseContext.RelevantTables) > 0 || len(m.DatabaseContext.RelevantSchemas) > 0)
}

// CheckInterval returns the polling cadence as a duration.
func (m *Monitor) CheckInterval() time.Duration {
	return time.Duration(m.CheckIntervalSeconds) * time.Second
}
