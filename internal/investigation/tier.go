// Package investigation runs tiered evidence collection for incidents:
// tier selection, parallel collectors, commit scoring, and aggregation
// into a single evidence bundle.
package investigation

import (
	"github.com/incidentwatch/sentinel/internal/models"
)

// Criteria are the signals tier selection runs on.
type Criteria struct {
	HasStackTrace      bool
	HasDeploymentEvent bool
	Severity           models.Severity
	HasGitConfig       bool
	HasDBConfig        bool
}

// CriteriaFor derives selection criteria from an incident and its monitor.
// Deployment presence starts false; it is only known after the metrics
// context has been collected.
func CriteriaFor(incident *models.Incident, monitor *models.Monitor) Criteria {
	return Criteria{
		HasStackTrace: incident.StackTrace != "",
		Severity:      incident.Severity,
		HasGitConfig:  monitor.HasGitConfig(),
		HasDBConfig:   monitor.HasDatabaseConfig(),
	}
}

// SelectTier picks the investigation depth. Rules apply in order, first
// match wins.
func SelectTier(c Criteria) models.InvestigationTier {
	switch {
	case c.Severity == models.SeverityCritical && c.HasStackTrace && c.HasDBConfig:
		return models.TierT3
	case c.Severity == models.SeverityHigh && c.HasDeploymentEvent && c.HasGitConfig:
		return models.TierT3
	case (c.HasStackTrace || c.HasDeploymentEvent) && c.HasGitConfig:
		return models.TierT2
	case (c.Severity == models.SeverityHigh || c.Severity == models.SeverityCritical) && c.HasGitConfig:
		return models.TierT2
	default:
		return models.TierT1
	}
}

// Refine may upgrade the tier once a deployment event is known. T1 becomes
// T2 when git config exists; T2 becomes T3 when DB config exists. Tiers
// never go down.
func Refine(tier models.InvestigationTier, hasDeploymentEvent bool, monitor *models.Monitor) models.InvestigationTier {
	if !hasDeploymentEvent {
		return tier
	}
	switch tier {
	case models.TierT1:
		if monitor.HasGitConfig() {
			return models.TierT2
		}
	case models.TierT2:
		if monitor.HasDatabaseConfig() {
			return models.TierT3
		}
	}
	return tier
}

// Strategy controls what an investigation at a given tier collects.
type Strategy struct {
	Tier                models.InvestigationTier
	CollectGit          bool
	CollectDB           bool
	CollectCrossRepo    bool
	MaxCommitsToAnalyze int
	IncludeCommitDiffs  bool
}

// StrategyFor returns the collection plan for a tier.
func StrategyFor(tier models.InvestigationTier) Strategy {
	switch tier {
	case models.TierT3:
		return Strategy{
			Tier:                models.TierT3,
			CollectGit:          true,
			CollectDB:           true,
			CollectCrossRepo:    true,
			MaxCommitsToAnalyze: 20,
			IncludeCommitDiffs:  true,
		}
	case models.TierT2:
		return Strategy{
			Tier:                models.TierT2,
			CollectGit:          true,
			MaxCommitsToAnalyze: 10,
			IncludeCommitDiffs:  true,
		}
	default:
		return Strategy{Tier: models.TierT1}
	}
}
