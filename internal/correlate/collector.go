// Package correlate fans collection out across per-service collectors and
// merges their signals into one deduplicated CorrelatedEvent per window.
package correlate

import (
	"context"

	"github.com/opsforge/sentinel-core/internal/models"
)

// SignalBatch is everything one collector saw in a window.
type SignalBatch struct {
	Anomalies    []models.Anomaly     `json:"anomalies,omitempty"`
	Alarms       []models.AlarmEvent  `json:"alarms,omitempty"`
	Changes      []models.ChangeEvent `json:"changes,omitempty"`
	HealthEvents []models.HealthEvent `json:"health_events,omitempty"`
	Events       []models.EventRecord `json:"events,omitempty"`
	Metrics      map[string]float64   `json:"metrics,omitempty"`
	Logs         []string             `json:"logs,omitempty"`
}

// Collector gathers signals for one service plane (ec2, k8s, rds, ...).
// Implementations must honor ctx cancellation; the engine enforces a
// per-collector budget and retries once on failure.
type Collector interface {
	Service() string
	Collect(ctx context.Context, window models.Window) (*SignalBatch, error)
}
