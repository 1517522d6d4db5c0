package investigation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/incidentwatch/sentinel/internal/models"
)

func TestSelectTier(t *testing.T) {
	tests := []struct {
		name string
		c    Criteria
		want models.InvestigationTier
	}{
		{
			name: "critical with stack trace and db config",
			c:    Criteria{Severity: models.SeverityCritical, HasStackTrace: true, HasDBConfig: true},
			want: models.TierT3,
		},
		{
			name: "high with deployment and git config",
			c:    Criteria{Severity: models.SeverityHigh, HasDeploymentEvent: true, HasGitConfig: true},
			want: models.TierT3,
		},
		{
			name: "stack trace with git config",
			c:    Criteria{Severity: models.SeverityMedium, HasStackTrace: true, HasGitConfig: true},
			want: models.TierT2,
		},
		{
			name: "deployment with git config",
			c:    Criteria{Severity: models.SeverityLow, HasDeploymentEvent: true, HasGitConfig: true},
			want: models.TierT2,
		},
		{
			name: "critical with git config only",
			c:    Criteria{Severity: models.SeverityCritical, HasGitConfig: true},
			want: models.TierT2,
		},
		{
			name: "high with git config only",
			c:    Criteria{Severity: models.SeverityHigh, HasGitConfig: true},
			want: models.TierT2,
		},
		{
			name: "no signals",
			c:    Criteria{Severity: models.SeverityLow},
			want: models.TierT1,
		},
		{
			name: "critical without any config",
			c:    Criteria{Severity: models.SeverityCritical, HasStackTrace: true},
			want: models.TierT1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectTier(tt.c))
			// Determinism: same criteria, same tier.
			assert.Equal(t, SelectTier(tt.c), SelectTier(tt.c))
		})
	}
}

func TestRefineUpgradesOnDeployment(t *testing.T) {
	gitMonitor := &models.Monitor{GitlabRepositories: []string{"group/app"}}
	dbMonitor := &models.Monitor{
		GitlabRepositories:          []string{"group/app"},
		EnableDatabaseInvestigation: true,
		DatabaseContext:             &models.DatabaseContext{RelevantTables: []string{"orders"}},
	}
	bare := &models.Monitor{}

	assert.Equal(t, models.TierT2, Refine(models.TierT1, true, gitMonitor))
	assert.Equal(t, models.TierT3, Refine(models.TierT2, true, dbMonitor))
	assert.Equal(t, models.TierT1, Refine(models.TierT1, true, bare), "no git config, no upgrade")
	assert.Equal(t, models.TierT2, Refine(models.TierT2, true, gitMonitor), "no db config, no upgrade")
	assert.Equal(t, models.TierT3, Refine(models.TierT3, true, dbMonitor), "T3 stays T3")
	assert.Equal(t, models.TierT1, Refine(models.TierT1, false, dbMonitor), "no deployment, no change")
}

func TestRefineNeverDowngrades(t *testing.T) {
	monitor := &models.Monitor{}
	for _, tier := range []models.InvestigationTier{models.TierT1, models.TierT2, models.TierT3} {
		refined := Refine(tier, true, monitor)
		assert.GreaterOrEqual(t, refined.Rank(), tier.Rank())
	}
}

func TestStrategyFor(t *testing.T) {
	t1 := StrategyFor(models.TierT1)
	assert.False(t, t1.CollectGit)
	assert.False(t, t1.CollectDB)
	assert.False(t, t1.CollectCrossRepo)
	assert.Equal(t, 0, t1.MaxCommitsToAnalyze)
	assert.False(t, t1.IncludeCommitDiffs)

	t2 := StrategyFor(models.TierT2)
	assert.True(t, t2.CollectGit)
	assert.False(t, t2.CollectDB)
	assert.Equal(t, 10, t2.MaxCommitsToAnalyze)
	assert.True(t, t2.IncludeCommitDiffs)

	t3 := StrategyFor(models.TierT3)
	assert.True(t, t3.CollectGit)
	assert.True(t, t3.CollectDB)
	assert.True(t, t3.CollectCrossRepo)
	assert.Equal(t, 20, t3.MaxCommitsToAnalyze)
	assert.True(t, t3.IncludeCommitDiffs)
}
