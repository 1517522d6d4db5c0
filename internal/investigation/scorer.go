package investigation

import (
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/incidentwatch/sentinel/internal/models"
)

const (
	temporalWeight = 0.4
	riskWeight     = 0.6

	defaultScoringWindow = 24 * time.Hour
	deploymentBonus      = 0.3

	stackFileBoost  = 0.35
	changeSizeBoost = 0.2
	riskyPathBoost  = 0.25
	messageBoost    = 0.2
)

// ScoringContext anchors commit scoring on the incident.
type ScoringContext struct {
	DetectedAt          time.Time
	Window              time.Duration // temporal decay window, default 24h
	StackTraceFilePath  string
	DeploymentCommitSHA string
}

// Method reports which signal anchored the scoring, strongest first.
func (c ScoringContext) Method() models.ScoringMethod {
	switch {
	case c.DeploymentCommitSHA != "":
		return models.ScoringByDeployment
	case c.StackTraceFilePath != "":
		return models.ScoringByStackTrace
	default:
		return models.ScoringByTemporal
	}
}

// riskyPaths maps path fragments to risk weights. The highest matching
// weight wins.
var riskyPaths = []struct {
	fragment string
	weight   float64
}{
	{"migration", 0.9},
	{"schema", 0.8},
	{"database", 0.8},
	{"db", 0.8},
	{"auth", 0.8},
	{"security", 0.8},
	{"config", 0.7},
	{"env", 0.7},
	{"api", 0.6},
	{"route", 0.6},
	{"endpoint", 0.6},
}

// ScoreCommits ranks commits by combined temporal and risk score,
// descending; ties break toward the more recent commit.
func ScoreCommits(commits []models.Commit, ctx ScoringContext) []models.ScoredCommit {
	scored := make([]models.ScoredCommit, 0, len(commits))
	for _, commit := range commits {
		scored = append(scored, scoreCommit(commit, ctx))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score.Combined != scored[j].Score.Combined {
			return scored[i].Score.Combined > scored[j].Score.Combined
		}
		return scored[i].Timestamp.After(scored[j].Timestamp)
	})
	return scored
}

func scoreCommit(commit models.Commit, ctx ScoringContext) models.ScoredCommit {
	var factors []models.ScoringFactor

	temporal := temporalScore(commit, ctx, &factors)
	risk := riskScore(commit, ctx, &factors)

	combined := round2(temporalWeight*temporal + riskWeight*risk)

	return models.ScoredCommit{
		Commit: commit,
		Score: models.CommitScore{
			Temporal: temporal,
			Risk:     risk,
			Combined: combined,
		},
		ScoringFactors: factors,
	}
}

func temporalScore(commit models.Commit, ctx ScoringContext, factors *[]models.ScoringFactor) float64 {
	if commit.Timestamp.After(ctx.DetectedAt) {
		*factors = append(*factors, models.ScoringFactor{
			Name:   "after_incident",
			Weight: 0,
			Detail: "commit landed after detection",
		})
		return 0
	}

	window := ctx.Window
	if window <= 0 {
		window = defaultScoringWindow
	}

	delta := ctx.DetectedAt.Sub(commit.Timestamp)
	proximity := math.Max(0, 1-float64(delta)/float64(window))
	*factors = append(*factors, models.ScoringFactor{
		Name:   "temporal_proximity",
		Weight: proximity,
	})

	if ctx.DeploymentCommitSHA != "" && ctx.DeploymentCommitSHA == commit.SHA {
		proximity = math.Min(1, proximity+deploymentBonus)
		*factors = append(*factors, models.ScoringFactor{
			Name:   "deployment_match",
			Weight: deploymentBonus,
			Detail: "commit is the deployed SHA",
		})
	}
	return proximity
}

func riskScore(commit models.Commit, ctx ScoringContext, factors *[]models.ScoringFactor) float64 {
	risk := 0.0

	if ctx.StackTraceFilePath != "" && anyFileMatches(commit.FilesChanged, ctx.StackTraceFilePath) {
		risk += stackFileBoost
		*factors = append(*factors, models.ScoringFactor{
			Name:   "stack_trace_file",
			Weight: stackFileBoost,
			Detail: ctx.StackTraceFilePath,
		})
	}

	size := changeSizeScore(commit.Additions + commit.Deletions)
	risk += changeSizeBoost * size
	*factors = append(*factors, models.ScoringFactor{
		Name:   "change_size",
		Weight: changeSizeBoost * size,
	})

	if pathRisk := maxPathRisk(commit.FilesChanged); pathRisk > 0 {
		risk += riskyPathBoost * pathRisk
		*factors = append(*factors, models.ScoringFactor{
			Name:   "risky_path",
			Weight: riskyPathBoost * pathRisk,
		})
	}

	msg := messageScore(commit.Message)
	risk += messageBoost * msg
	*factors = append(*factors, models.ScoringFactor{
		Name:   "commit_message",
		Weight: messageBoost * msg,
	})

	return clamp01(risk)
}

// anyFileMatches checks a changed file against the stack-trace path by
// exact, suffix, or basename equality, case-insensitive.
func anyFileMatches(files []string, stackPath string) bool {
	target := strings.ToLower(strings.ReplaceAll(stackPath, `\`, "/"))
	targetBase := path.Base(target)

	for _, file := range files {
		changed := strings.ToLower(strings.ReplaceAll(file, `\`, "/"))
		if changed == target ||
			strings.HasSuffix(changed, "/"+target) ||
			strings.HasSuffix(target, "/"+changed) ||
			path.Base(changed) == targetBase {
			return true
		}
	}
	return false
}

func changeSizeScore(total int) float64 {
	switch {
	case total < 10:
		return 0.2
	case total < 50:
		return 0.5
	case total < 200:
		return 0.8
	case total < 500:
		return 0.6
	default:
		return 0.3
	}
}

func maxPathRisk(files []string) float64 {
	best := 0.0
	for _, file := range files {
		lower := strings.ToLower(file)
		for _, rp := range riskyPaths {
			if rp.weight > best && strings.Contains(lower, rp.fragment) {
				best = rp.weight
			}
		}
	}
	return best
}

var (
	messageBumps = []struct {
		keywords []string
		delta    float64
	}{
		{[]string{"urgent", "critical", "emergency"}, 0.3},
		{[]string{"quick", "temp", "hack"}, 0.25},
		{[]string{"fix", "hotfix", "patch"}, 0.2},
		{[]string{"revert"}, 0.15},
	}
	messagePenalties = []struct {
		keywords []string
		delta    float64
	}{
		{[]string{"doc", "readme", "comment"}, 0.4},
		{[]string{"lint", "format", "style"}, 0.35},
		{[]string{"test", "spec"}, 0.3},
		{[]string{"typo", "spelling"}, 0.3},
	}
)

func messageScore(message string) float64 {
	lower := strings.ToLower(message)
	score := 0.3

	for _, bump := range messageBumps {
		for _, kw := range bump.keywords {
			if strings.Contains(lower, kw) {
				score += bump.delta
				break
			}
		}
	}
	for _, pen := range messagePenalties {
		for _, kw := range pen.keywords {
			if strings.Contains(lower, kw) {
				score -= pen.delta
				break
			}
		}
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
