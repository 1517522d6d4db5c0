// Package analysis turns an evidence bundle into a root-cause analysis,
// via the LLM when it is healthy and a deterministic template when not.
package analysis

import (
	"fmt"
	"strings"

	"github.com/incidentwatch/sentinel/internal/models"
)

// Truncation budgets for large prompt fields, in characters.
const (
	stackTraceBudget = 2000
	diffBudget       = 1500
	expandedCommits  = 3
)

const truncationMarker = "\n... [truncated] ...\n"

// BuildPrompt renders the incident and its evidence into a deterministic,
// order-stable prompt. Identical bundles always produce identical prompts,
// which is what makes response caching by prompt hash sound.
func BuildPrompt(incident *models.Incident, bundle *models.EvidenceBundle) string {
	var b strings.Builder

	b.WriteString("# Incident\n")
	fmt.Fprintf(&b, "ID: %s\n", incident.ID)
	fmt.Fprintf(&b, "Service: %s\n", incident.ServiceName)
	fmt.Fprintf(&b, "Severity: %s\n", incident.Severity)
	fmt.Fprintf(&b, "Metric: %s\n", incident.MetricName)
	fmt.Fprintf(&b, "Current value: %.4f\n", incident.MetricValue)
	fmt.Fprintf(&b, "Baseline value: %.4f\n", incident.BaselineValue)
	fmt.Fprintf(&b, "Threshold value: %.4f\n", incident.ThresholdValue)
	fmt.Fprintf(&b, "Deviation: %.2f%%\n", incident.DeviationPercentage)
	fmt.Fprintf(&b, "Detected at: %s\n", incident.DetectedAt.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&b, "Investigation tier: %s\n", bundle.InvestigationTier)
	fmt.Fprintf(&b, "Evidence completeness: %.2f\n", bundle.Completeness)

	writeMetricsSection(&b, bundle)

	if bundle.GitlabContext != nil {
		writeGitSection(&b, bundle.GitlabContext)
	}
	if bundle.DatabaseContext != nil {
		writeDatabaseSection(&b, bundle.DatabaseContext)
	}
	if bundle.CrossRepoContext != nil {
		writeCrossRepoSection(&b, bundle.CrossRepoContext)
	}
	if len(bundle.Warnings) > 0 {
		b.WriteString("\n# Collection warnings\n")
		for _, warning := range bundle.Warnings {
			fmt.Fprintf(&b, "- %s\n", warning)
		}
	}

	b.WriteString(schemaInstruction)
	return b.String()
}

func writeMetricsSection(b *strings.Builder, bundle *models.EvidenceBundle) {
	b.WriteString("\n# Metrics context\n")

	if details := bundle.DatadogContext.ErrorDetails; details != nil {
		if details.Message != "" {
			fmt.Fprintf(b, "Error message: %s\n", details.Message)
		}
		if details.FilePath != "" {
			fmt.Fprintf(b, "Error location: %s:%d\n", details.FilePath, details.LineNumber)
		}
		if details.StackTrace != "" {
			fmt.Fprintf(b, "Stack trace:\n%s\n", truncateMiddle(details.StackTrace, stackTraceBudget))
		}
	} else {
		b.WriteString("No error details captured.\n")
	}

	if event := bundle.DatadogContext.DeploymentEvent; event != nil {
		fmt.Fprintf(b, "Recent deployment: service=%s version=%s commit=%s at %s\n",
			event.Service, event.Version, event.CommitSHA,
			event.DeployedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}

	if history := bundle.DatadogContext.MetricHistory; len(history) > 0 {
		fmt.Fprintf(b, "Metric history (%d samples): first=%.4f last=%.4f\n",
			len(history), history[0].Value, history[len(history)-1].Value)
	}
}

func writeGitSection(b *strings.Builder, git *models.GitlabContext) {
	fmt.Fprintf(b, "\n# Recent commits (%d scored, method=%s)\n", len(git.Commits), git.ScoringMethod)

	for i, commit := range git.Commits {
		if i >= expandedCommits {
			fmt.Fprintf(b, "- %s %.2f %s\n",
				shortSHA(commit.SHA), commit.Score.Combined, firstLine(commit.Message))
			continue
		}
		fmt.Fprintf(b, "\n## Commit %s (score %.2f)\n", shortSHA(commit.SHA), commit.Score.Combined)
		fmt.Fprintf(b, "Author: %s\n", commit.Author)
		fmt.Fprintf(b, "Timestamp: %s\n", commit.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
		fmt.Fprintf(b, "Message: %s\n", firstLine(commit.Message))
		if len(commit.FilesChanged) > 0 {
			fmt.Fprintf(b, "Files changed: %s\n", strings.Join(commit.FilesChanged, ", "))
		}
		fmt.Fprintf(b, "Size: +%d -%d\n", commit.Additions, commit.Deletions)
		if commit.Pipeline != nil {
			fmt.Fprintf(b, "Pipeline: %s\n", commit.Pipeline.Status)
		}
		if commit.MergeRequest != nil {
			fmt.Fprintf(b, "Merge request: !%d %s\n", commit.MergeRequest.IID, commit.MergeRequest.Title)
		}
		if commit.Diff != "" {
			fmt.Fprintf(b, "Diff:\n%s\n", truncateMiddle(commit.Diff, diffBudget))
		}
	}
}

func writeDatabaseSection(b *strings.Builder, db *models.DatabaseInvestigationContext) {
	fmt.Fprintf(b, "\n# Database findings (relevance=%s)\n", db.Relevance)
	writeFindings(b, "Schema", db.SchemaFindings)
	writeFindings(b, "Data", db.DataFindings)
	writeFindings(b, "Performance", db.PerformanceFindings)
}

func writeFindings(b *strings.Builder, label string, findings []models.DatabaseFinding) {
	for _, finding := range findings {
		fmt.Fprintf(b, "- [%s/%s] %s: %s\n", label, finding.Severity, finding.Table, finding.Description)
	}
}

func writeCrossRepoSection(b *strings.Builder, cross *models.CrossRepoContext) {
	fmt.Fprintf(b, "\n# Cross-repository search (pattern=%q, %d matches)\n",
		cross.SearchPattern, cross.TotalMatchCount)
	if len(cross.AffectedRepositories) > 0 {
		fmt.Fprintf(b, "Affected repositories: %s\n", strings.Join(cross.AffectedRepositories, ", "))
	}
	if len(cross.CriticalPaths) > 0 {
		fmt.Fprintf(b, "Critical paths: %s\n", strings.Join(cross.CriticalPaths, ", "))
	}
	for _, match := range cross.Matches {
		fmt.Fprintf(b, "- %s %s:%d\n", match.Repository, match.FilePath, match.LineNumber)
	}
}

const schemaInstruction = `
# Task
Analyze the incident and evidence above. Respond with ONLY a JSON object,
no Markdown fences or prose, matching exactly this schema:
{
  "summary": "one-paragraph plain-language summary (min 20 chars)",
  "rootCause": {
    "hypothesis": "most likely root cause (min 20 chars)",
    "confidence": "high" | "medium" | "low",
    "evidence": ["supporting evidence item", ...],
    "suspectedCommit": "sha or empty string"
  },
  "mechanism": "how the cause produces the observed symptom",
  "databaseFindings": "interpretation of database findings, or empty",
  "crossRepoFindings": "interpretation of cross-repo matches, or empty",
  "contributingFactors": ["factor", ...],
  "recommendedActions": [
    {"priority": 1, "action": "...", "reasoning": "...", "estimatedImpact": "..."}
  ],
  "estimatedComplexity": "trivial" | "moderate" | "complex",
  "requiresHumanReview": true | false,
  "requiresRollback": true | false
}
`

// truncateMiddle keeps the head and tail of s within budget, replacing the
// middle with a visible marker.
func truncateMiddle(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	keep := (budget - len(truncationMarker)) / 2
	if keep <= 0 {
		return s[:budget]
	}
	return s[:keep] + truncationMarker + s[len(s)-keep:]
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
