package inference

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opsforge/sentinel-core/internal/models"
)

const maxPromptChanges = 10

// buildPrompt renders the correlated window for the model: anomalies by
// severity then time, active alarms, the ten most recent changes, and
// retrieved reference patterns with their scores. The response contract
// is spelled out verbatim so the answer survives the strict parse.
func buildPrompt(event *models.CorrelatedEvent, refs []models.SearchHit) string {
	var sb strings.Builder

	sb.WriteString("You are the root-cause analysis engine of an incident remediation pipeline.\n")
	sb.WriteString("Determine the most likely root cause for the incident below.\n\n")

	fmt.Fprintf(&sb, "Observation window: %s to %s\n",
		event.Window.From.UTC().Format("2006-01-02T15:04:05Z"),
		event.Window.To.UTC().Format("2006-01-02T15:04:05Z"))
	if len(event.ResourceIDs) > 0 {
		fmt.Fprintf(&sb, "Affected resources: %s\n", strings.Join(event.ResourceIDs, ", "))
	}
	sb.WriteString("\n")

	writeAnomalies(&sb, event.Anomalies)
	writeAlarms(&sb, event.Alarms)
	writeChanges(&sb, event.Changes)
	writeReferences(&sb, refs)

	sb.WriteString("Respond with a single JSON object and nothing else:\n")
	sb.WriteString(`{"root_cause": "<one sentence>", "severity": "low|medium|high|critical", ` +
		`"confidence": <0.0-1.0>, "recommended_action": "<action id or empty>", ` +
		`"evidence": ["<observation>", ...]}` + "\n")
	sb.WriteString("The evidence list must cite the observations above and must not be empty.\n")

	return sb.String()
}

func writeAnomalies(sb *strings.Builder, anomalies []models.Anomaly) {
	if len(anomalies) == 0 {
		return
	}
	sorted := make([]models.Anomaly, len(anomalies))
	copy(sorted, anomalies)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity != sorted[j].Severity {
			return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	sb.WriteString("Anomalies (severity desc, time asc):\n")
	for _, a := range sorted {
		fmt.Fprintf(sb, "- [%s] %s %s=%.4g (threshold %.4g, %s) at %s",
			a.Severity, a.ResourceID, a.Metric, a.Value, a.Threshold, a.Direction,
			a.Timestamp.UTC().Format("15:04:05"))
		if a.Message != "" {
			fmt.Fprintf(sb, ": %s", a.Message)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func writeAlarms(sb *strings.Builder, alarms []models.AlarmEvent) {
	active := make([]models.AlarmEvent, 0, len(alarms))
	for _, a := range alarms {
		if resolvedAlarmState(a.State) {
			continue
		}
		active = append(active, a)
	}
	if len(active) == 0 {
		return
	}
	sb.WriteString("Active alarms:\n")
	for _, a := range active {
		fmt.Fprintf(sb, "- [%s] %s on %s", a.State, a.Name, a.ResourceID)
		if a.Reason != "" {
			fmt.Fprintf(sb, ": %s", a.Reason)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func resolvedAlarmState(state string) bool {
	switch strings.ToLower(state) {
	case "ok", "resolved", "insufficient_data":
		return true
	}
	return false
}

func writeChanges(sb *strings.Builder, changes []models.ChangeEvent) {
	if len(changes) == 0 {
		return
	}
	sorted := make([]models.ChangeEvent, len(changes))
	copy(sorted, changes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > maxPromptChanges {
		sorted = sorted[:maxPromptChanges]
	}

	sb.WriteString("Recent changes (newest first):\n")
	for _, c := range sorted {
		fmt.Fprintf(sb, "- %s %s on %s", c.Timestamp.UTC().Format("15:04:05"), c.ChangeType, c.ResourceID)
		if c.Summary != "" {
			fmt.Fprintf(sb, ": %s", c.Summary)
		}
		if c.Actor != "" {
			fmt.Fprintf(sb, " (by %s)", c.Actor)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func writeReferences(sb *strings.Builder, refs []models.SearchHit) {
	if len(refs) == 0 {
		return
	}
	sb.WriteString("Similar historical patterns:\n")
	for _, r := range refs {
		fmt.Fprintf(sb, "- (%.2f) %s", r.Score, r.Title)
		if r.Pattern != nil && r.Pattern.RootCause != "" {
			fmt.Fprintf(sb, " | root cause: %s", r.Pattern.RootCause)
		} else if r.Snippet != "" {
			fmt.Fprintf(sb, " | %s", r.Snippet)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

// summaryOf condenses the event into the search query used for
// reference retrieval.
func summaryOf(event *models.CorrelatedEvent) string {
	var parts []string
	for _, a := range event.Anomalies {
		parts = append(parts, fmt.Sprintf("%s %s %s", a.Service, a.Metric, a.Direction))
	}
	for _, a := range event.Alarms {
		if resolvedAlarmState(a.State) {
			continue
		}
		parts = append(parts, a.Name)
		if a.Reason != "" {
			parts = append(parts, a.Reason)
		}
	}
	for _, ev := range event.Telemetry.Events {
		parts = append(parts, ev.Reason)
	}
	if len(parts) == 0 {
		parts = append(parts, string(event.Severity), "incident")
		parts = append(parts, event.ResourceIDs...)
	}
	return strings.Join(parts, " ")
}
