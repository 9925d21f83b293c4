package models

import "time"

// TriggerType identifies what started a detection or incident.
type TriggerType string

const (
	TriggerAlarm     TriggerType = "alarm"
	TriggerAnomaly   TriggerType = "anomaly"
	TriggerManual    TriggerType = "manual"
	TriggerProactive TriggerType = "proactive"
)

// Freshness labels the age of a cached detection.
type Freshness string

const (
	FreshnessFresh Freshness = "fresh"
	FreshnessWarm  Freshness = "warm"
	FreshnessStale Freshness = "stale"
)

// FreshAge is the fixed fresh/warm boundary.
const FreshAge = 60 * time.Second

// RuleMatch is one recognized pattern over a telemetry snapshot.
type RuleMatch struct {
	RuleID          string   `json:"rule_id"`
	Name            string   `json:"name"`
	Category        string   `json:"category"`
	Severity        Severity `json:"severity"`
	Confidence      float64  `json:"confidence"`
	OptionalMatches int      `json:"optional_matches"`
	MatchedClauses  []string `json:"matched_clauses,omitempty"`
	SOPHints        []string `json:"sop_hints,omitempty"`
	RootCauseHint   string   `json:"root_cause_hint,omitempty"`
}

// DetectResult is one detection snapshot: the correlated window plus the
// rule matches recognized in it. Cached per trigger-source key.
type DetectResult struct {
	ID          string           `json:"detect_id"`
	Source      string           `json:"source"` // cache key, e.g. "alarm:ec2"
	Trigger     TriggerType      `json:"trigger"`
	Event       *CorrelatedEvent `json:"event"`
	RuleMatches []RuleMatch      `json:"rule_matches,omitempty"`
	Vectorized  bool             `json:"vectorized"`
	TTLSeconds  int              `json:"ttl_seconds"`
	CreatedAt   time.Time        `json:"created_at"`
}

func (d *DetectResult) Age(now time.Time) time.Duration {
	return now.Sub(d.CreatedAt)
}

// FreshnessAt labels the result relative to now: fresh under 60s, warm
// under its TTL, stale at or past the TTL.
func (d *DetectResult) FreshnessAt(now time.Time) Freshness {
	age := d.Age(now)
	if age < FreshAge {
		return FreshnessFresh
	}
	if age < time.Duration(d.TTLSeconds)*time.Second {
		return FreshnessWarm
	}
	return FreshnessStale
}

func (d *DetectResult) IsStale(now time.Time) bool {
	return d.FreshnessAt(now) == FreshnessStale
}
