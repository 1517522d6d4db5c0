package teams

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/incidentwatch/sentinel/internal/models"
)

// severityColors maps incident severity to MessageCard theme colors.
var severityColors = map[models.Severity]string{
	models.SeverityCritical: "D13438",
	models.SeverityHigh:     "FF8C00",
	models.SeverityMedium:   "FFD700",
	models.SeverityLow:      "2EB886",
}

type cardFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type cardAction struct {
	Type    string       `json:"@type"`
	Name    string       `json:"name"`
	Targets []cardTarget `json:"targets"`
}

type cardTarget struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

type messageCard struct {
	Type       string `json:"@type"`
	Context    string `json:"@context"`
	ThemeColor string `json:"themeColor"`
	Summary    string `json:"summary"`
	Title      string `json:"title"`
	Sections   []struct {
		ActivitySubtitle string     `json:"activitySubtitle,omitempty"`
		Text             string     `json:"text,omitempty"`
		Facts            []cardFact `json:"facts,omitempty"`
	} `json:"sections"`
	PotentialAction []cardAction `json:"potentialAction,omitempty"`
}

// BuildIncidentCard renders the analysis into a Teams MessageCard payload.
func BuildIncidentCard(incident *models.Incident, analysis *models.Analysis, monitor *models.Monitor) (json.RawMessage, error) {
	color, ok := severityColors[incident.Severity]
	if !ok {
		color = severityColors[models.SeverityMedium]
	}

	card := messageCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Summary:    fmt.Sprintf("[%s] %s", strings.ToUpper(string(incident.Severity)), incident.ServiceName),
		Title:      fmt.Sprintf("Incident on %s: %s", incident.ServiceName, incident.MetricName),
	}

	facts := []cardFact{
		{Name: "Severity", Value: string(incident.Severity)},
		{Name: "Metric", Value: incident.MetricName},
		{Name: "Current value", Value: fmt.Sprintf("%.2f", incident.MetricValue)},
		{Name: "Baseline", Value: fmt.Sprintf("%.2f", incident.BaselineValue)},
		{Name: "Deviation", Value: fmt.Sprintf("%.1f%%", incident.DeviationPercentage)},
		{Name: "Detected", Value: incident.DetectedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	if analysis != nil {
		facts = append(facts,
			cardFact{Name: "Confidence", Value: string(analysis.RootCause.Confidence)},
			cardFact{Name: "Complexity", Value: analysis.EstimatedComplexity},
		)
	}

	var body strings.Builder
	if analysis != nil {
		body.WriteString(analysis.Summary)
		body.WriteString("\n\n**Root cause:** ")
		body.WriteString(analysis.RootCause.Hypothesis)
		if analysis.RootCause.SuspectedCommit != "" {
			body.WriteString("\n\n**Suspected commit:** `" + analysis.RootCause.SuspectedCommit + "`")
		}
		for i, action := range analysis.RecommendedActions {
			if i == 0 {
				body.WriteString("\n\n**Recommended actions:**")
			}
			body.WriteString(fmt.Sprintf("\n%d. %s", action.Priority, action.Action))
		}
		if analysis.RequiresHumanReview {
			body.WriteString("\n\n⚠ Human review required.")
		}
	}
	if monitor != nil && monitor.TeamsNotification != nil {
		for _, user := range monitor.TeamsNotification.MentionUsers {
			body.WriteString("\n<at>" + user + "</at>")
		}
	}

	card.Sections = append(card.Sections, struct {
		ActivitySubtitle string     `json:"activitySubtitle,omitempty"`
		Text             string     `json:"text,omitempty"`
		Facts            []cardFact `json:"facts,omitempty"`
	}{
		ActivitySubtitle: "Automated incident analysis",
		Text:             body.String(),
		Facts:            facts,
	})

	card.PotentialAction = buildActions(incident, monitor)

	return json.Marshal(card)
}

func buildActions(incident *models.Incident, monitor *models.Monitor) []cardAction {
	if monitor == nil || monitor.TeamsNotification == nil || monitor.TeamsNotification.URLPatterns == nil {
		return nil
	}
	patterns := monitor.TeamsNotification.URLPatterns

	var actions []cardAction
	add := func(name, pattern string) {
		if pattern == "" {
			return
		}
		uri := strings.NewReplacer(
			"{incidentId}", incident.ID,
			"{monitorId}", incident.MonitorID,
			"{service}", incident.ServiceName,
		).Replace(pattern)
		actions = append(actions, cardAction{
			Type:    "OpenUri",
			Name:    name,
			Targets: []cardTarget{{OS: "default", URI: uri}},
		})
	}
	add("View in Datadog", patterns.Datadog)
	add("View in GitLab", patterns.Gitlab)
	add("Open incident", patterns.Incident)
	return actions
}
