package correlate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/opsforge/sentinel-core/internal/models"
)

// ReplayFixture is a recorded slice of signals for one service. All
// timestamps are expressed as ts_offset_seconds relative to the end of
// the collection window, so the same fixture replays correctly at any
// wall-clock time.
type ReplayFixture struct {
	Service      string             `json:"service"`
	Alarms       []replayAlarm      `json:"alarms,omitempty"`
	Changes      []replayChange     `json:"changes,omitempty"`
	HealthEvents []replayHealth     `json:"health_events,omitempty"`
	Events       []replayEvent      `json:"events,omitempty"`
	Logs         []string           `json:"logs,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Series       []replaySeries     `json:"series,omitempty"`
	Thresholds   []ThresholdSpec    `json:"thresholds,omitempty"`
}

type replayAlarm struct {
	models.AlarmEvent
	TSOffsetSeconds int `json:"ts_offset_seconds"`
}

type replayChange struct {
	models.ChangeEvent
	TSOffsetSeconds int `json:"ts_offset_seconds"`
}

type replayHealth struct {
	models.HealthEvent
	TSOffsetSeconds int `json:"ts_offset_seconds"`
}

type replayEvent struct {
	models.EventRecord
	TSOffsetSeconds int `json:"ts_offset_seconds"`
}

type replaySeries struct {
	ResourceID string        `json:"resource_id"`
	Service    string        `json:"service"`
	Metric     string        `json:"metric"`
	Points     []replayPoint `json:"points"`
}

type replayPoint struct {
	TSOffsetSeconds int     `json:"ts_offset_seconds"`
	Value           float64 `json:"value"`
}

// ReplayCollector serves a recorded fixture as a live source. It backs
// demo deployments and local development where no cloud credentials
// exist; anomalies are derived from the fixture's series through the
// same threshold evaluation a live metrics source would use.
type ReplayCollector struct {
	service string
	fixture ReplayFixture
}

// NewReplayCollector loads the fixture file eagerly so malformed
// recordings fail at startup, not mid-incident.
func NewReplayCollector(path string) (*ReplayCollector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay fixture: %w", err)
	}

	var fixture ReplayFixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("parse replay fixture %s: %w", path, err)
	}
	if fixture.Service == "" {
		return nil, fmt.Errorf("replay fixture %s: missing service", path)
	}

	return &ReplayCollector{service: fixture.Service, fixture: fixture}, nil
}

func (r *ReplayCollector) Service() string {
	return r.service
}

func (r *ReplayCollector) Collect(ctx context.Context, window models.Window) (*SignalBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &SignalBatch{
		Logs:    append([]string(nil), r.fixture.Logs...),
		Metrics: map[string]float64{},
	}
	for name, value := range r.fixture.Metrics {
		batch.Metrics[name] = value
	}

	for _, a := range r.fixture.Alarms {
		alarm := a.AlarmEvent
		alarm.Timestamp = r.materialize(window, a.TSOffsetSeconds)
		if alarm.Service == "" {
			alarm.Service = r.service
		}
		batch.Alarms = append(batch.Alarms, alarm)
	}
	for _, c := range r.fixture.Changes {
		change := c.ChangeEvent
		change.Timestamp = r.materialize(window, c.TSOffsetSeconds)
		if change.Service == "" {
			change.Service = r.service
		}
		batch.Changes = append(batch.Changes, change)
	}
	for _, h := range r.fixture.HealthEvents {
		health := h.HealthEvent
		health.Timestamp = r.materialize(window, h.TSOffsetSeconds)
		if health.Service == "" {
			health.Service = r.service
		}
		batch.HealthEvents = append(batch.HealthEvents, health)
	}
	for _, e := range r.fixture.Events {
		event := e.EventRecord
		event.Timestamp = r.materialize(window, e.TSOffsetSeconds)
		if event.Source == "" {
			event.Source = r.service
		}
		batch.Events = append(batch.Events, event)
	}

	if len(r.fixture.Series) > 0 && len(r.fixture.Thresholds) > 0 {
		series := make([]Series, 0, len(r.fixture.Series))
		for _, s := range r.fixture.Series {
			materialized := Series{
				ResourceID: s.ResourceID,
				Service:    s.Service,
				Metric:     s.Metric,
			}
			if materialized.Service == "" {
				materialized.Service = r.service
			}
			for _, p := range s.Points {
				materialized.Points = append(materialized.Points, Point{
					TS:    r.materialize(window, p.TSOffsetSeconds),
					Value: p.Value,
				})
			}
			series = append(series, materialized)
		}
		batch.Anomalies = DetectAnomalies(series, r.fixture.Thresholds)
	}

	return batch, nil
}

func (r *ReplayCollector) materialize(window models.Window, offsetSeconds int) time.Time {
	return window.To.Add(time.Duration(offsetSeconds) * time.Second)
}
