package investigation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/incidentwatch/sentinel/internal/models"
)

// tierWeights are the completeness weights per evidence source.
type tierWeights struct {
	metrics   float64
	git       float64
	db        float64
	crossRepo float64
}

var weightsByTier = map[models.InvestigationTier]tierWeights{
	models.TierT1: {metrics: 1.0},
	models.TierT2: {metrics: 0.4, git: 0.6},
	models.TierT3: {metrics: 0.25, git: 0.35, db: 0.25, crossRepo: 0.15},
}

const contextBonus = 1.2

// Partial carries the per-source results handed to the aggregator.
type Partial struct {
	Datadog   models.DatadogContext
	Git       *models.GitlabContext
	DB        *models.DatabaseInvestigationContext
	CrossRepo *models.CrossRepoContext
	Errors    []models.CollectorError
}

// Aggregate merges the partial results into a single evidence bundle,
// computing completeness from the tier's weight table. The metrics context
// is always present: when collectors produced nothing it is synthesized
// from the incident itself.
func Aggregate(incident *models.Incident, tier models.InvestigationTier, p Partial, collectedAt time.Time) *models.EvidenceBundle {
	bundle := &models.EvidenceBundle{
		IncidentID:        incident.ID,
		InvestigationTier: tier,
		CollectedAt:       collectedAt,
		DatadogContext:    p.Datadog,
	}

	if bundle.DatadogContext.ErrorDetails == nil && (incident.ErrorMessage != "" || incident.StackTrace != "") {
		bundle.DatadogContext.ErrorDetails = synthesizeErrorDetails(incident)
	}

	if p.Git != nil && len(p.Git.Commits) > 0 {
		bundle.GitlabContext = p.Git
	}

	if p.DB != nil {
		p.DB.Relevance = gradeRelevance(p.DB)
		bundle.DatabaseContext = p.DB
	}

	if p.CrossRepo != nil {
		bundle.CrossRepoContext = p.CrossRepo
	}

	for _, collErr := range p.Errors {
		bundle.Warnings = append(bundle.Warnings,
			fmt.Sprintf("%s: %s", collErr.Source, collErr.Message))
	}

	bundle.Completeness = completeness(bundle, tier)
	return bundle
}

// gradeRelevance rates database findings: any high-severity finding makes
// the context highly relevant; more than three findings is medium; anything
// else, including zero findings, is low.
func gradeRelevance(db *models.DatabaseInvestigationContext) models.FindingRelevance {
	all := make([]models.DatabaseFinding, 0, db.TotalFindings())
	all = append(all, db.SchemaFindings...)
	all = append(all, db.DataFindings...)
	all = append(all, db.PerformanceFindings...)

	for _, finding := range all {
		if finding.Severity == models.SeverityHigh || finding.Severity == models.SeverityCritical {
			return models.RelevanceHigh
		}
	}
	if len(all) > 3 {
		return models.RelevanceMedium
	}
	return models.RelevanceLow
}

func completeness(bundle *models.EvidenceBundle, tier models.InvestigationTier) float64 {
	weights, ok := weightsByTier[tier]
	if !ok {
		weights = weightsByTier[models.TierT1]
	}
	total := weights.metrics + weights.git + weights.db + weights.crossRepo
	if total == 0 {
		return 0
	}

	sum := 0.0

	// Metrics context is always present; error details earn the bonus.
	metricsWeight := weights.metrics
	if bundle.DatadogContext.ErrorDetails != nil {
		metricsWeight *= contextBonus
	}
	sum += metricsWeight

	if bundle.GitlabContext != nil {
		gitWeight := weights.git
		for _, commit := range bundle.GitlabContext.Commits {
			if commit.Diff != "" {
				gitWeight *= contextBonus
				break
			}
		}
		sum += gitWeight
	}

	if bundle.DatabaseContext != nil {
		sum += weights.db
	}
	if bundle.CrossRepoContext != nil {
		sum += weights.crossRepo
	}

	return math.Min(1, sum/total)
}

// stackLocationPatterns extract a file path and line number from common
// stack trace shapes (node with and without parens, python, generic).
var stackLocationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`at .* \((.+?):(\d+):\d+\)`),
	regexp.MustCompile(`at (.+?):(\d+):\d+`),
	regexp.MustCompile(`File "(.+?)", line (\d+)`),
	regexp.MustCompile(`(\S+\.(?:ts|js|py|java|go|rb)):(\d+)`),
}

// ExtractErrorLocation pulls the first recognizable file path and line
// number out of a stack trace. Returns empty values when nothing matches.
func ExtractErrorLocation(stackTrace string) (string, int) {
	for _, pattern := range stackLocationPatterns {
		m := pattern.FindStringSubmatch(stackTrace)
		if len(m) >= 3 {
			line, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			return m[1], line
		}
	}
	return "", 0
}

func synthesizeErrorDetails(incident *models.Incident) *models.ErrorDetails {
	details := &models.ErrorDetails{
		Message:    incident.ErrorMessage,
		StackTrace: incident.StackTrace,
	}
	if incident.StackTrace != "" {
		details.FilePath, details.LineNumber = ExtractErrorLocation(incident.StackTrace)
	}
	return details
}
