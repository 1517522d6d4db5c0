package investigation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentwatch/sentinel/internal/models"
)

var detectedAt = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func commitAt(sha string, age time.Duration) models.Commit {
	return models.Commit{
		SHA:       sha,
		Message:   "update pricing rules",
		Author:    "dev",
		Timestamp: detectedAt.Add(-age),
	}
}

func TestScoresStayInRange(t *testing.T) {
	commits := []models.Commit{
		{SHA: "a", Message: "urgent hotfix for critical auth bug", Timestamp: detectedAt.Add(-time.Hour),
			FilesChanged: []string{"src/auth/security.go", "migrations/002_users.sql"},
			Additions:    80, Deletions: 40},
		{SHA: "b", Message: "docs typo", Timestamp: detectedAt.Add(-30 * time.Hour)},
	}
	scored := ScoreCommits(commits, ScoringContext{DetectedAt: detectedAt})

	for _, sc := range scored {
		assert.GreaterOrEqual(t, sc.Score.Temporal, 0.0)
		assert.LessOrEqual(t, sc.Score.Temporal, 1.0)
		assert.GreaterOrEqual(t, sc.Score.Risk, 0.0)
		assert.LessOrEqual(t, sc.Score.Risk, 1.0)
		assert.GreaterOrEqual(t, sc.Score.Combined, 0.0)
		assert.LessOrEqual(t, sc.Score.Combined, 1.0)
		assert.NotEmpty(t, sc.ScoringFactors)
	}
}

func TestSortOrderNonIncreasingWithNewerFirstTies(t *testing.T) {
	commits := []models.Commit{
		commitAt("older", 10*time.Hour),
		commitAt("hot", time.Hour),
		commitAt("oldest", 20*time.Hour),
	}
	scored := ScoreCommits(commits, ScoringContext{DetectedAt: detectedAt})

	for i := 1; i < len(scored); i++ {
		assert.GreaterOrEqual(t, scored[i-1].Score.Combined, scored[i].Score.Combined)
		if scored[i-1].Score.Combined == scored[i].Score.Combined {
			assert.True(t, !scored[i-1].Timestamp.Before(scored[i].Timestamp),
				"equal scores break toward the newer commit")
		}
	}
	assert.Equal(t, "hot", scored[0].SHA)
}

func TestCommitAfterIncidentGetsZeroTemporal(t *testing.T) {
	late := models.Commit{SHA: "late", Message: "fix", Timestamp: detectedAt.Add(time.Minute)}
	scored := ScoreCommits([]models.Commit{late}, ScoringContext{DetectedAt: detectedAt})

	require.Len(t, scored, 1)
	assert.Equal(t, 0.0, scored[0].Score.Temporal)

	var hasAfterIncident bool
	for _, f := range scored[0].ScoringFactors {
		if f.Name == "after_incident" {
			hasAfterIncident = true
		}
	}
	assert.True(t, hasAfterIncident)
}

func TestDeploymentCommitOutscoresIdenticalTwin(t *testing.T) {
	twin := func(sha string) models.Commit {
		return models.Commit{SHA: sha, Message: "bump service version", Timestamp: detectedAt.Add(-6 * time.Hour)}
	}
	scored := ScoreCommits(
		[]models.Commit{twin("deployed"), twin("bystander")},
		ScoringContext{DetectedAt: detectedAt, DeploymentCommitSHA: "deployed"},
	)

	require.Len(t, scored, 2)
	assert.Equal(t, "deployed", scored[0].SHA)
	assert.Greater(t, scored[0].Score.Combined, scored[1].Score.Combined)
}

func TestDeploymentBonusCapsAtOne(t *testing.T) {
	fresh := models.Commit{SHA: "deployed", Message: "release", Timestamp: detectedAt.Add(-time.Minute)}
	scored := ScoreCommits([]models.Commit{fresh},
		ScoringContext{DetectedAt: detectedAt, DeploymentCommitSHA: "deployed"})

	require.Len(t, scored, 1)
	assert.LessOrEqual(t, scored[0].Score.Temporal, 1.0)
	assert.InDelta(t, 1.0, scored[0].Score.Temporal, 0.01)
}

func TestStackTraceFileMatching(t *testing.T) {
	ctx := ScoringContext{
		DetectedAt:         detectedAt,
		StackTraceFilePath: "src/billing/invoice.ts",
	}

	tests := []struct {
		name  string
		files []string
		match bool
	}{
		{"exact", []string{"src/billing/invoice.ts"}, true},
		{"suffix", []string{"packages/api/src/billing/invoice.ts"}, true},
		{"basename", []string{"other/path/invoice.ts"}, true},
		{"case insensitive", []string{"SRC/Billing/Invoice.TS"}, true},
		{"backslashes", []string{`src\billing\invoice.ts`}, true},
		{"unrelated", []string{"src/search/index.ts"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commit := models.Commit{SHA: "x", Message: "change", Timestamp: detectedAt.Add(-time.Hour), FilesChanged: tt.files}
			scored := ScoreCommits([]models.Commit{commit}, ctx)

			var found bool
			for _, f := range scored[0].ScoringFactors {
				if f.Name == "stack_trace_file" {
					found = true
				}
			}
			assert.Equal(t, tt.match, found)
		})
	}
}

func TestChangeSizeScore(t *testing.T) {
	assert.Equal(t, 0.2, changeSizeScore(5))
	assert.Equal(t, 0.5, changeSizeScore(30))
	assert.Equal(t, 0.8, changeSizeScore(150))
	assert.Equal(t, 0.6, changeSizeScore(400))
	assert.Equal(t, 0.3, changeSizeScore(2000))
}

func TestMaxPathRiskPicksHighestWeight(t *testing.T) {
	assert.Equal(t, 0.9, maxPathRisk([]string{"app/api/users.go", "migrations/007_add_index.sql"}))
	assert.Equal(t, 0.6, maxPathRisk([]string{"app/api/users.go"}))
	assert.Equal(t, 0.0, maxPathRisk([]string{"README.md"}))
}

func TestMessageScore(t *testing.T) {
	assert.InDelta(t, 0.3, messageScore("update pricing"), 0.001, "neutral message keeps the base")
	assert.InDelta(t, 0.5, messageScore("fix rounding"), 0.001)
	assert.InDelta(t, 0.8, messageScore("urgent fix for outage"), 0.001)
	assert.InDelta(t, 0.0, messageScore("docs: fix readme typo"), 0.3, "penalties pull docs changes down")
	assert.GreaterOrEqual(t, messageScore("doc typo lint test"), 0.0, "clamped at zero")
}

func TestCombinedWeightsAndRounding(t *testing.T) {
	commit := models.Commit{SHA: "x", Message: "update pricing", Timestamp: detectedAt.Add(-12 * time.Hour)}
	scored := ScoreCommits([]models.Commit{commit}, ScoringContext{DetectedAt: detectedAt})

	require.Len(t, scored, 1)
	sc := scored[0]
	expected := 0.4*sc.Score.Temporal + 0.6*sc.Score.Risk
	assert.InDelta(t, expected, sc.Score.Combined, 0.005, "combined is the weighted sum rounded to 2 decimals")
	assert.Equal(t, sc.Score.Combined, float64(int(sc.Score.Combined*100+0.5))/100)
}

func TestScoringContextMethod(t *testing.T) {
	assert.Equal(t, models.ScoringByDeployment, ScoringContext{DeploymentCommitSHA: "abc"}.Method())
	assert.Equal(t, models.ScoringByStackTrace, ScoringContext{StackTraceFilePath: "a.go"}.Method())
	assert.Equal(t, models.ScoringByTemporal, ScoringContext{}.Method())
}
