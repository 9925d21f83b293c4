package models

import "time"

type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SourceError annotates a partially degraded collection: the named
// collector failed but at least one other succeeded.
type SourceError struct {
	Service string `json:"service"`
	Error   string `json:"error"`
	Timeout bool   `json:"timeout,omitempty"`
}

// TelemetrySnapshot is the matcher-facing view of a collection window:
// structured events, one summary statistic per numeric metric (window max),
// and raw log lines.
type TelemetrySnapshot struct {
	Events  []EventRecord      `json:"events,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Logs    []string           `json:"logs,omitempty"`
}

// CorrelatedEvent is the merged, deduplicated snapshot of one collection
// window across all registered collectors.
type CorrelatedEvent struct {
	ID           string        `json:"id"`
	Window       Window        `json:"window"`
	Anomalies    []Anomaly     `json:"anomalies,omitempty"`
	Alarms       []AlarmEvent  `json:"alarms,omitempty"`
	Changes      []ChangeEvent `json:"changes,omitempty"`
	HealthEvents []HealthEvent `json:"health_events,omitempty"`
	ResourceIDs  []string      `json:"resource_ids"`
	Severity     Severity      `json:"severity"`
	Telemetry    TelemetrySnapshot `json:"telemetry"`
	SourceErrors []SourceError `json:"source_errors,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Partial reports whether some collectors failed while others delivered.
func (e *CorrelatedEvent) Partial() bool {
	return len(e.SourceErrors) > 0
}
