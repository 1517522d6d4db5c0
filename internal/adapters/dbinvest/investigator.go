// Package dbinvest runs read-only database probes during an investigation:
// schema checks, a recent-data anomaly probe and a missing-index probe.
// All identifiers are whitelisted before being interpolated into queries.
package dbinvest

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	senterrors "github.com/incidentwatch/sentinel/internal/errors"
	"github.com/incidentwatch/sentinel/internal/models"
)

// identifierPattern is the whitelist for table and schema names. Anything
// else is rejected before query assembly.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Investigator runs the probes over a read-only connection.
type Investigator struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// Config configures the investigator.
type Config struct {
	DSN          string
	QueryTimeout time.Duration
}

// New opens the read-only connection pool.
func New(cfg Config) (*Investigator, error) {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, senterrors.Database("dbinvest.open", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)
	return &Investigator{db: db, queryTimeout: cfg.QueryTimeout}, nil
}

// NewWithDB wraps an existing handle (used by tests with sqlmock).
func NewWithDB(db *sql.DB, queryTimeout time.Duration) *Investigator {
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	return &Investigator{db: db, queryTimeout: queryTimeout}
}

// Close releases the connection pool.
func (inv *Investigator) Close() error {
	return inv.db.Close()
}

// Request scopes one investigation.
type Request struct {
	Tables       []string
	Schemas      []string
	ErrorContext string
}

// Result groups the findings by probe.
type Result struct {
	SchemaFindings      []models.DatabaseFinding
	DataFindings        []models.DatabaseFinding
	PerformanceFindings []models.DatabaseFinding
}

// Investigate runs all probes for the request. Individual probe failures are
// logged and tolerated; only a fully unusable input is an error.
func (inv *Investigator) Investigate(ctx context.Context, req Request) (*Result, error) {
	tables, err := whitelist(req.Tables)
	if err != nil {
		return nil, senterrors.Validation("dbinvest.tables", err)
	}
	schemas, err := whitelist(req.Schemas)
	if err != nil {
		return nil, senterrors.Validation("dbinvest.schemas", err)
	}
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}

	result := &Result{}
	for _, table := range tables {
		for _, schema := range schemas {
			if findings, err := inv.checkNullableColumns(ctx, schema, table); err != nil {
				log.Warn().Err(err).Str("table", table).Msg("Schema probe failed")
			} else {
				result.SchemaFindings = append(result.SchemaFindings, findings...)
			}

			if req.ErrorContext != "" {
				if findings, err := inv.checkRecentDataAnomaly(ctx, schema, table); err != nil {
					log.Warn().Err(err).Str("table", table).Msg("Data probe failed")
				} else {
					result.DataFindings = append(result.DataFindings, findings...)
				}
			}

			if findings, err := inv.checkMissingIndexes(ctx, schema, table); err != nil {
				log.Warn().Err(err).Str("table", table).Msg("Index probe failed")
			} else {
				result.PerformanceFindings = append(result.PerformanceFindings, findings...)
			}
		}
	}
	return result, nil
}

// checkNullableColumns flags nullable business columns, which often indicate
// incomplete migrations or rows written before a constraint landed.
func (inv *Investigator) checkNullableColumns(ctx context.Context, schema, table string) ([]models.DatabaseFinding, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.queryTimeout)
	defer cancel()

	rows, err := inv.db.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2 AND is_nullable = 'YES'
		   AND column_name NOT IN ('created_at', 'updated_at', 'deleted_at', 'notes', 'description')`,
		schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []models.DatabaseFinding
	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return nil, err
		}
		findings = append(findings, models.DatabaseFinding{
			Kind:        "schema",
			Table:       table,
			Description: fmt.Sprintf("nullable business column %s.%s", table, column),
			Severity:    models.SeverityMedium,
		})
	}
	return findings, rows.Err()
}

// checkRecentDataAnomaly compares last-hour row volume against the prior
// 24-hour hourly average. Tables without a created_at column are skipped.
func (inv *Investigator) checkRecentDataAnomaly(ctx context.Context, schema, table string) ([]models.DatabaseFinding, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.queryTimeout)
	defer cancel()

	var hasCreatedAt bool
	err := inv.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM information_schema.columns
		   WHERE table_schema = $1 AND table_name = $2 AND column_name = 'created_at')`,
		schema, table).Scan(&hasCreatedAt)
	if err != nil {
		return nil, err
	}
	if !hasCreatedAt {
		return nil, nil
	}

	// Identifiers are whitelisted in Investigate; interpolation is safe here.
	query := fmt.Sprintf(
		`SELECT
		   COUNT(*) FILTER (WHERE created_at >= now() - interval '1 hour'),
		   COUNT(*) FILTER (WHERE created_at >= now() - interval '25 hours'
		                      AND created_at < now() - interval '1 hour')
		 FROM %s.%s`, schema, table)

	var lastHour, prior24h int64
	if err := inv.db.QueryRowContext(ctx, query).Scan(&lastHour, &prior24h); err != nil {
		return nil, err
	}

	hourlyAvg := float64(prior24h) / 24
	var findings []models.DatabaseFinding
	switch {
	case hourlyAvg >= 1 && float64(lastHour) > hourlyAvg*5:
		findings = append(findings, models.DatabaseFinding{
			Kind:        "data",
			Table:       table,
			Description: fmt.Sprintf("row volume spike in %s: %d rows last hour vs %.1f/h average", table, lastHour, hourlyAvg),
			Severity:    models.SeverityHigh,
		})
	case hourlyAvg >= 1 && lastHour == 0:
		findings = append(findings, models.DatabaseFinding{
			Kind:        "data",
			Table:       table,
			Description: fmt.Sprintf("writes to %s stopped: 0 rows last hour vs %.1f/h average", table, hourlyAvg),
			Severity:    models.SeverityHigh,
		})
	}
	return findings, nil
}

// checkMissingIndexes flags tables with heavy sequential scanning.
func (inv *Investigator) checkMissingIndexes(ctx context.Context, schema, table string) ([]models.DatabaseFinding, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.queryTimeout)
	defer cancel()

	var seqScan, idxScan sql.NullInt64
	err := inv.db.QueryRowContext(ctx,
		`SELECT seq_scan, idx_scan FROM pg_stat_user_tables
		 WHERE schemaname = $1 AND relname = $2`,
		schema, table).Scan(&seqScan, &idxScan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var findings []models.DatabaseFinding
	if seqScan.Valid && seqScan.Int64 > 1000 && (!idxScan.Valid || idxScan.Int64*10 < seqScan.Int64) {
		findings = append(findings, models.DatabaseFinding{
			Kind:        "performance",
			Table:       table,
			Description: fmt.Sprintf("%s is dominated by sequential scans (%d seq vs %d idx), likely missing index", table, seqScan.Int64, idxScan.Int64),
			Severity:    models.SeverityMedium,
		})
	}
	return findings, nil
}

func whitelist(identifiers []string) ([]string, error) {
	out := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if !identifierPattern.MatchString(trimmed) {
			return nil, fmt.Errorf("identifier %q contains characters outside [A-Za-z0-9_]", id)
		}
		out = append(out, trimmed)
	}
	return out, nil
}
