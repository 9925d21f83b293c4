package models

import "time"

// Severity is shared by signals, patterns and RCA results.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for sorting and max-aggregation.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Signal kinds used for dedupe keys across collectors.
const (
	KindAnomaly = "anomaly"
	KindAlarm   = "alarm"
	KindChange  = "change"
	KindHealth  = "health"
)

// Anomaly is a threshold or trend breach detected over collected metrics.
type Anomaly struct {
	ResourceID string    `json:"resource_id"`
	Service    string    `json:"service"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	Direction  string    `json:"direction"` // above, below, trend
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlarmEvent is a provider-side alarm state transition.
type AlarmEvent struct {
	AlarmID    string    `json:"alarm_id"`
	Name       string    `json:"name"`
	ResourceID string    `json:"resource_id"`
	Service    string    `json:"service"`
	State      string    `json:"state"` // ALARM, OK, INSUFFICIENT_DATA
	Reason     string    `json:"reason,omitempty"`
	Severity   Severity  `json:"severity"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChangeEvent records deploys, config pushes, scaling and restarts.
type ChangeEvent struct {
	ResourceID string    `json:"resource_id"`
	Service    string    `json:"service"`
	ChangeType string    `json:"change_type"` // deploy, config, scaling, restart
	Summary    string    `json:"summary"`
	Actor      string    `json:"actor,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// HealthEvent is a provider or platform health status signal.
type HealthEvent struct {
	ResourceID string    `json:"resource_id"`
	Service    string    `json:"service"`
	Status     string    `json:"status"` // degraded, impaired, unavailable
	Detail     string    `json:"detail,omitempty"`
	Severity   Severity  `json:"severity"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventRecord is the structured event row rules match against.
type EventRecord struct {
	Source     string    `json:"source"`
	Reason     string    `json:"reason"`
	Message    string    `json:"message,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	Count      int       `json:"count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
