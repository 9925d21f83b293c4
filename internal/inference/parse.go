package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opsforge/sentinel-core/internal/models"
)

// modelAnswer is the schema the model must return. Anything that does
// not validate falls through to the next tier.
type modelAnswer struct {
	RootCause         string   `json:"root_cause"`
	Severity          string   `json:"severity"`
	Confidence        float64  `json:"confidence"`
	RecommendedAction string   `json:"recommended_action"`
	Evidence          []string `json:"evidence"`
}

// parseAnswer extracts the JSON object from a model response, trimming
// code fences and surrounding prose, then validates the schema.
func parseAnswer(raw string) (*modelAnswer, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var ans modelAnswer
	if err := json.Unmarshal([]byte(payload), &ans); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	if err := validateAnswer(&ans); err != nil {
		return nil, err
	}
	return &ans, nil
}

func validateAnswer(ans *modelAnswer) error {
	if strings.TrimSpace(ans.RootCause) == "" {
		return fmt.Errorf("model response missing root_cause")
	}
	switch models.Severity(ans.Severity) {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
	default:
		return fmt.Errorf("model response severity %q not in {low, medium, high, critical}", ans.Severity)
	}
	if ans.Confidence < 0 || ans.Confidence > 1 {
		return fmt.Errorf("model response confidence %.3f out of range", ans.Confidence)
	}
	if ans.Confidence > 0 && len(nonEmpty(ans.Evidence)) == 0 {
		return fmt.Errorf("model response claims confidence %.2f with no evidence", ans.Confidence)
	}
	ans.Evidence = nonEmpty(ans.Evidence)
	return nil
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			out = append(out, strings.TrimSpace(it))
		}
	}
	return out
}

// extractJSON returns the outermost {...} span, skipping markdown
// fences and any prose the model wrapped around it.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
