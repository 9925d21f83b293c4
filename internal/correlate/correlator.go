package correlate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/metrics"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// ErrCollection means every registered collector failed; there is nothing
// to correlate. Partial failures are annotated, not fatal.
var ErrCollection = errors.New("correlate: all collectors failed")

// Correlator produces one merged event per collection window.
type Correlator interface {
	Correlate(ctx context.Context, services ...string) (*models.CorrelatedEvent, error)
}

type Engine struct {
	collectors []Collector
	cfg        config.CorrelateConfig
	logger     logger.Logger
	now        func() time.Time
}

func NewEngine(collectors []Collector, cfg config.CorrelateConfig, log logger.Logger) *Engine {
	return &Engine{
		collectors: collectors,
		cfg:        cfg,
		logger:     log,
		now:        time.Now,
	}
}

type collectorResult struct {
	service string
	batch   *SignalBatch
	err     error
}

// Correlate runs all collectors in parallel under the total budget, then
// merges. Passing service tags narrows the run to those collectors.
// Output is deterministic for a given set of collector results: merge
// order is collector service tag, dedupe keeps the first signal per
// (resource, kind, 60s bucket).
func (e *Engine) Correlate(ctx context.Context, services ...string) (*models.CorrelatedEvent, error) {
	collectors := e.collectors
	if len(services) > 0 {
		want := make(map[string]bool, len(services))
		for _, s := range services {
			want[s] = true
		}
		collectors = nil
		for _, c := range e.collectors {
			if want[c.Service()] {
				collectors = append(collectors, c)
			}
		}
		if len(collectors) == 0 {
			return nil, fmt.Errorf("%w: no collectors for services %s", ErrCollection, strings.Join(services, ", "))
		}
	}
	if len(collectors) == 0 {
		return nil, fmt.Errorf("%w: no collectors registered", ErrCollection)
	}

	now := e.now()
	window := models.Window{From: now.Add(-e.cfg.Lookback()), To: now}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TotalTimeout())
	defer cancel()

	results := make([]collectorResult, len(collectors))
	var g errgroup.Group
	for i, c := range collectors {
		g.Go(func() error {
			batch, err := e.collectOne(ctx, c, window)
			results[i] = collectorResult{service: c.Service(), batch: batch, err: err}
			return nil
		})
	}
	// Collector errors land in results; the group itself cannot fail.
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].service < results[j].service })

	event := &models.CorrelatedEvent{
		ID:        "evt-" + uuid.NewString(),
		Window:    window,
		Severity:  models.SeverityInfo,
		CreatedAt: now,
	}

	merger := newMerger(e.cfg.DedupWindow())
	succeeded := 0
	for _, res := range results {
		if res.err != nil {
			timeout := errors.Is(res.err, context.DeadlineExceeded)
			event.SourceErrors = append(event.SourceErrors, models.SourceError{
				Service: res.service,
				Error:   res.err.Error(),
				Timeout: timeout,
			})
			result := "error"
			if timeout {
				result = "timeout"
			}
			metrics.CollectorRuns.WithLabelValues(res.service, result).Inc()
			e.logger.Warn("collector failed", "service", res.service, "error", res.err)
			continue
		}
		succeeded++
		metrics.CollectorRuns.WithLabelValues(res.service, "ok").Inc()
		merger.add(event, res.batch)
	}

	if succeeded == 0 {
		var services []string
		for _, res := range results {
			services = append(services, res.service)
		}
		return nil, fmt.Errorf("%w: %s", ErrCollection, strings.Join(services, ", "))
	}

	merger.finish(event)
	e.logger.Info("collection window correlated",
		"event_id", event.ID,
		"collectors_ok", succeeded,
		"collectors_failed", len(event.SourceErrors),
		"anomalies", len(event.Anomalies),
		"severity", event.Severity)
	return event, nil
}

// collectOne applies the per-collector budget and a single retry with a
// short constant backoff.
func (e *Engine) collectOne(ctx context.Context, c Collector, window models.Window) (*SignalBatch, error) {
	var batch *SignalBatch
	backoff := retry.WithMaxRetries(1, retry.NewConstant(e.cfg.RetryBackoff()))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CollectorTimeout())
		defer cancel()
		b, err := c.Collect(cctx, window)
		if err != nil {
			if cctx.Err() != nil && ctx.Err() == nil {
				err = fmt.Errorf("%s: %w", err, context.DeadlineExceeded)
			}
			return retry.RetryableError(err)
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if batch == nil {
		batch = &SignalBatch{}
	}
	return batch, nil
}

/* --------------------------------- merging -------------------------------- */

type merger struct {
	window    time.Duration
	seen      map[string]bool
	resources map[string]bool
}

func newMerger(dedupWindow time.Duration) *merger {
	return &merger{
		window:    dedupWindow,
		seen:      make(map[string]bool),
		resources: make(map[string]bool),
	}
}

func (m *merger) key(resourceID, kind string, ts time.Time) string {
	bucket := ts.Unix() / int64(m.window.Seconds())
	return fmt.Sprintf("%s|%s|%d", resourceID, kind, bucket)
}

func (m *merger) add(event *models.CorrelatedEvent, batch *SignalBatch) {
	for _, a := range batch.Anomalies {
		if m.seen[m.key(a.ResourceID, models.KindAnomaly, a.Timestamp)] {
			continue
		}
		m.seen[m.key(a.ResourceID, models.KindAnomaly, a.Timestamp)] = true
		m.resources[a.ResourceID] = true
		event.Anomalies = append(event.Anomalies, a)
		event.Severity = models.MaxSeverity(event.Severity, a.Severity)
	}
	for _, a := range batch.Alarms {
		if m.seen[m.key(a.ResourceID, models.KindAlarm, a.Timestamp)] {
			continue
		}
		m.seen[m.key(a.ResourceID, models.KindAlarm, a.Timestamp)] = true
		m.resources[a.ResourceID] = true
		event.Alarms = append(event.Alarms, a)
		event.Severity = models.MaxSeverity(event.Severity, a.Severity)
	}
	for _, c := range batch.Changes {
		if m.seen[m.key(c.ResourceID, models.KindChange, c.Timestamp)] {
			continue
		}
		m.seen[m.key(c.ResourceID, models.KindChange, c.Timestamp)] = true
		m.resources[c.ResourceID] = true
		event.Changes = append(event.Changes, c)
	}
	for _, h := range batch.HealthEvents {
		if m.seen[m.key(h.ResourceID, models.KindHealth, h.Timestamp)] {
			continue
		}
		m.seen[m.key(h.ResourceID, models.KindHealth, h.Timestamp)] = true
		m.resources[h.ResourceID] = true
		event.HealthEvents = append(event.HealthEvents, h)
		event.Severity = models.MaxSeverity(event.Severity, h.Severity)
	}

	event.Telemetry.Events = append(event.Telemetry.Events, batch.Events...)
	for _, ev := range batch.Events {
		if ev.ResourceID != "" {
			m.resources[ev.ResourceID] = true
		}
	}
	event.Telemetry.Logs = append(event.Telemetry.Logs, batch.Logs...)

	// One summary statistic per metric: the window max.
	if len(batch.Metrics) > 0 && event.Telemetry.Metrics == nil {
		event.Telemetry.Metrics = make(map[string]float64)
	}
	for name, value := range batch.Metrics {
		if cur, ok := event.Telemetry.Metrics[name]; !ok || value > cur {
			event.Telemetry.Metrics[name] = value
		}
	}
}

func (m *merger) finish(event *models.CorrelatedEvent) {
	event.ResourceIDs = make([]string, 0, len(m.resources))
	for id := range m.resources {
		event.ResourceIDs = append(event.ResourceIDs, id)
	}
	sort.Strings(event.ResourceIDs)
}
