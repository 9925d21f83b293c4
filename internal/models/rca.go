package models

import "time"

// UnknownPatternID marks an RCA that matched nothing.
const UnknownPatternID = "unknown"

// RCAResult is the outcome of the inference cascade. ModelTag records which
// path produced it: "rule:<id>", "model:mid:<model>", "model:high:<model>"
// or "unknown".
type RCAResult struct {
	RootCause         string    `json:"root_cause"`
	Category          string    `json:"category,omitempty"`
	Severity          Severity  `json:"severity"`
	Confidence        float64   `json:"confidence"`
	PatternID         string    `json:"pattern_id"`
	ModelTag          string    `json:"model_tag"`
	Evidence          []string  `json:"evidence,omitempty"`
	References        []string  `json:"references,omitempty"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Unknown reports whether the cascade exhausted without a usable answer.
func (r *RCAResult) Unknown() bool {
	return r == nil || (r.PatternID == UnknownPatternID && r.Confidence == 0)
}
