package dbinvest

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentwatch/sentinel/internal/models"
)

func newMockInvestigator(t *testing.T) (*Investigator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, 5*time.Second), mock
}

func expectColumnExists(mock sqlmock.Sqlmock, exists bool) {
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func expectIndexStats(mock sqlmock.Sqlmock, seqScan, idxScan int64) {
	mock.ExpectQuery(`SELECT seq_scan, idx_scan FROM pg_stat_user_tables`).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"seq_scan", "idx_scan"}).AddRow(seqScan, idxScan))
}

func TestInvestigateSchemaFindings(t *testing.T) {
	inv, mock := newMockInvestigator(t)

	mock.ExpectQuery(`SELECT column_name FROM information_schema\.columns`).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("customer_id").
			AddRow("total_cents"))
	expectIndexStats(mock, 10, 500)

	result, err := inv.Investigate(context.Background(), Request{Tables: []string{"orders"}})
	require.NoError(t, err)

	require.Len(t, result.SchemaFindings, 2)
	assert.Equal(t, "schema", result.SchemaFindings[0].Kind)
	assert.Equal(t, "orders", result.SchemaFindings[0].Table)
	assert.Contains(t, result.SchemaFindings[0].Description, "orders.customer_id")
	assert.Equal(t, models.SeverityMedium, result.SchemaFindings[0].Severity)
	assert.Empty(t, result.DataFindings, "data probe runs only with error context")
	assert.Empty(t, result.PerformanceFindings)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvestigateDataSpike(t *testing.T) {
	inv, mock := newMockInvestigator(t)

	mock.ExpectQuery(`SELECT column_name`).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))
	expectColumnExists(mock, true)
	mock.ExpectQuery(`SELECT\s+COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"last_hour", "prior"}).AddRow(600, 240))
	expectIndexStats(mock, 10, 500)

	result, err := inv.Investigate(context.Background(), Request{
		Tables:       []string{"orders"},
		ErrorContext: "TimeoutError: boom",
	})
	require.NoError(t, err)

	require.Len(t, result.DataFindings, 1)
	assert.Equal(t, "data", result.DataFindings[0].Kind)
	assert.Contains(t, result.DataFindings[0].Description, "row volume spike")
	assert.Equal(t, models.SeverityHigh, result.DataFindings[0].Severity)
}

func TestInvestigateWritesStopped(t *testing.T) {
	inv, mock := newMockInvestigator(t)

	mock.ExpectQuery(`SELECT column_name`).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))
	expectColumnExists(mock, true)
	mock.ExpectQuery(`SELECT\s+COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"last_hour", "prior"}).AddRow(0, 240))
	expectIndexStats(mock, 10, 500)

	result, err := inv.Investigate(context.Background(), Request{
		Tables:       []string{"orders"},
		ErrorContext: "errors spiked",
	})
	require.NoError(t, err)

	require.Len(t, result.DataFindings, 1)
	assert.Contains(t, result.DataFindings[0].Description, "writes to orders stopped")
}

func TestInvestigateSkipsDataProbeWithoutCreatedAt(t *testing.T) {
	inv, mock := newMockInvestigator(t)

	mock.ExpectQuery(`SELECT column_name`).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))
	expectColumnExists(mock, false)
	expectIndexStats(mock, 10, 500)

	result, err := inv.Investigate(context.Background(), Request{
		Tables:       []string{"orders"},
		ErrorContext: "boom",
	})
	require.NoError(t, err)
	assert.Empty(t, result.DataFindings)
}

func TestInvestigateMissingIndexFinding(t *testing.T) {
	inv, mock := newMockInvestigator(t)

	mock.ExpectQuery(`SELECT column_name`).
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))
	expectIndexStats(mock, 50000, 100)

	result, err := inv.Investigate(context.Background(), Request{Tables: []string{"orders"}})
	require.NoError(t, err)

	require.Len(t, result.PerformanceFindings, 1)
	assert.Equal(t, "performance", result.PerformanceFindings[0].Kind)
	assert.Contains(t, result.PerformanceFindings[0].Description, "sequential scans")
}

func TestInvestigateToleratesProbeFailure(t *testing.T) {
	inv, mock := newMockInvestigator(t)

	mock.ExpectQuery(`SELECT column_name`).
		WithArgs("public", "orders").
		WillReturnError(assert.AnError)
	expectIndexStats(mock, 10, 500)

	result, err := inv.Investigate(context.Background(), Request{Tables: []string{"orders"}})
	require.NoError(t, err, "probe failures degrade, never fail")
	assert.Empty(t, result.SchemaFindings)
}

func TestInvestigateRejectsUnsafeIdentifiers(t *testing.T) {
	inv, _ := newMockInvestigator(t)

	tests := []string{
		"orders; DROP TABLE users",
		"orders--",
		`orders"`,
		"orders OR 1=1",
	}
	for _, table := range tests {
		t.Run(table, func(t *testing.T) {
			_, err := inv.Investigate(context.Background(), Request{Tables: []string{table}})
			require.Error(t, err)
		})
	}
}

func TestInvestigateCustomSchema(t *testing.T) {
	inv, mock := newMockInvestigator(t)

	mock.ExpectQuery(`SELECT column_name`).
		WithArgs("billing", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))
	mock.ExpectQuery(`SELECT seq_scan, idx_scan`).
		WithArgs("billing", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"seq_scan", "idx_scan"}).AddRow(1, 1))

	_, err := inv.Investigate(context.Background(), Request{
		Tables:  []string{"orders"},
		Schemas: []string{"billing"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
