// Package persistence stores incidents and LLM usage records in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	senterrors "github.com/incidentwatch/sentinel/internal/errors"
	"github.com/incidentwatch/sentinel/internal/models"
)

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL DEFAULT '',
	monitor_id TEXT NOT NULL,
	service_name TEXT NOT NULL,
	severity TEXT NOT NULL,
	status TEXT NOT NULL,
	investigation_tier TEXT NOT NULL DEFAULT '',
	metric_name TEXT NOT NULL,
	metric_value REAL NOT NULL,
	baseline_value REAL NOT NULL,
	threshold_value REAL NOT NULL,
	deviation_percentage REAL NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	stack_trace TEXT NOT NULL DEFAULT '',
	detected_at INTEGER NOT NULL,
	resolved_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_incidents_monitor_detected
	ON incidents(monitor_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);

CREATE TABLE IF NOT EXISTS llm_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_usage_incident ON llm_usage(incident_id);
`

// Open opens (or creates) the database under dataDir and applies the schema.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, senterrors.Database("persistence.open", err)
	}

	dbPath := filepath.Join(dataDir, "sentinel.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, senterrors.Database("persistence.open", err)
	}
	// modernc sqlite is single-writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, senterrors.Database("persistence.migrate", err)
	}

	log.Info().Str("path", dbPath).Msg("Incident store opened")
	return &Store{db: db, now: time.Now}, nil
}

// NewWithDB wraps an existing handle, for tests.
func NewWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, senterrors.Database("persistence.migrate", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateIncident inserts a new incident row.
func (s *Store) CreateIncident(ctx context.Context, incident *models.Incident) error {
	tags, err := json.Marshal(incident.Tags)
	if err != nil {
		return senterrors.Database("persistence.createIncident", err)
	}

	var resolvedAt interface{}
	if incident.ResolvedAt != nil {
		resolvedAt = incident.ResolvedAt.UTC().Unix()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, external_id, monitor_id, service_name, severity, status,
			investigation_tier, metric_name, metric_value, baseline_value,
			threshold_value, deviation_percentage, error_message, stack_trace,
			detected_at, resolved_at, created_at, updated_at, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID, incident.ExternalID, incident.MonitorID, incident.ServiceName,
		string(incident.Severity), string(incident.Status), string(incident.InvestigationTier),
		incident.MetricName, incident.MetricValue, incident.BaselineValue,
		incident.ThresholdValue, incident.DeviationPercentage,
		incident.ErrorMessage, incident.StackTrace,
		incident.DetectedAt.UTC().Unix(), resolvedAt,
		incident.CreatedAt.UTC().Unix(), incident.UpdatedAt.UTC().Unix(),
		string(tags))
	if err != nil {
		return senterrors.Database("persistence.createIncident", err)
	}
	return nil
}

// GetRecentIncidents returns incidents for the monitor detected within the
// last withinMinutes minutes, newest first.
func (s *Store) GetRecentIncidents(ctx context.Context, monitorID string, withinMinutes int) ([]*models.Incident, error) {
	cutoff := s.now().UTC().Add(-time.Duration(withinMinutes) * time.Minute).Unix()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, monitor_id, service_name, severity, status,
			investigation_tier, metric_name, metric_value, baseline_value,
			threshold_value, deviation_percentage, error_message, stack_trace,
			detected_at, resolved_at, created_at, updated_at, tags
		FROM incidents
		WHERE monitor_id = ? AND detected_at >= ?
		ORDER BY detected_at DESC`,
		monitorID, cutoff)
	if err != nil {
		return nil, senterrors.Database("persistence.recentIncidents", err)
	}
	defer rows.Close()

	var incidents []*models.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, senterrors.Database("persistence.recentIncidents", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, senterrors.Database("persistence.recentIncidents", err)
	}
	return incidents, nil
}

// GetActiveIncidentCount counts incidents currently in the active state.
func (s *Store) GetActiveIncidentCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incidents WHERE status = ?`,
		string(models.IncidentActive)).Scan(&count)
	if err != nil {
		return 0, senterrors.Database("persistence.activeCount", err)
	}
	return count, nil
}

// ResolveIncident marks the incident resolved (or false_positive) and stamps
// resolved_at.
func (s *Store) ResolveIncident(ctx context.Context, incidentID string, status models.IncidentStatus) error {
	if status != models.IncidentResolved && status != models.IncidentFalsePositive {
		return senterrors.Validation("persistence.resolveIncident",
			fmt.Errorf("status %q is not a terminal state", status))
	}

	now := s.now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(status), now, now, incidentID, string(models.IncidentActive))
	if err != nil {
		return senterrors.Database("persistence.resolveIncident", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return senterrors.Database("persistence.resolveIncident", err)
	}
	if affected == 0 {
		return senterrors.Database("persistence.resolveIncident",
			fmt.Errorf("incident %s not found or not active", incidentID))
	}
	return nil
}

// UsageRecord is one LLM usage entry.
type UsageRecord struct {
	IncidentID   string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
}

// StoreLLMUsage records one analysis' token usage and cost.
func (s *Store) StoreLLMUsage(ctx context.Context, rec UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_usage (incident_id, model, input_tokens, output_tokens,
			total_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.IncidentID, rec.Model, rec.InputTokens, rec.OutputTokens,
		rec.TotalTokens, rec.CostUSD, s.now().UTC().Unix())
	if err != nil {
		return senterrors.Database("persistence.storeLLMUsage", err)
	}
	return nil
}

// UsageTotals aggregates LLM spend across all analyses.
type UsageTotals struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalTokens  int     `json:"totalTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// GetLLMUsageTotals sums token usage and cost over all recorded calls.
func (s *Store) GetLLMUsageTotals(ctx context.Context) (*UsageTotals, error) {
	totals := &UsageTotals{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM llm_usage`).Scan(
		&totals.Calls, &totals.InputTokens, &totals.OutputTokens,
		&totals.TotalTokens, &totals.CostUSD)
	if err != nil {
		return nil, senterrors.Database("persistence.usageTotals", err)
	}
	return totals, nil
}

func scanIncident(rows *sql.Rows) (*models.Incident, error) {
	var (
		incident   models.Incident
		severity   string
		status     string
		tier       string
		detectedAt int64
		resolvedAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
		tags       string
	)
	if err := rows.Scan(
		&incident.ID, &incident.ExternalID, &incident.MonitorID, &incident.ServiceName,
		&severity, &status, &tier, &incident.MetricName,
		&incident.MetricValue, &incident.BaselineValue, &incident.ThresholdValue,
		&incident.DeviationPercentage, &incident.ErrorMessage, &incident.StackTrace,
		&detectedAt, &resolvedAt, &createdAt, &updatedAt, &tags,
	); err != nil {
		return nil, err
	}

	incident.Severity = models.Severity(severity)
	incident.Status = models.IncidentStatus(status)
	incident.InvestigationTier = models.InvestigationTier(tier)
	incident.DetectedAt = time.Unix(detectedAt, 0).UTC()
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0).UTC()
		incident.ResolvedAt = &t
	}
	incident.CreatedAt = time.Unix(createdAt, 0).UTC()
	incident.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if err := json.Unmarshal([]byte(tags), &incident.Tags); err != nil {
		incident.Tags = nil
	}
	return &incident, nil
}
