// Package detect owns the freshness-tagged cache of detection results
// and mediates every cloud collection, so concurrent triggers coalesce
// onto one Correlator run instead of stampeding the providers.
package detect

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/correlate"
	"github.com/opsforge/sentinel-core/internal/metrics"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/internal/rules"
	"github.com/opsforge/sentinel-core/internal/storage"
	"github.com/opsforge/sentinel-core/pkg/cache"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// ErrSlotBusy means a collection is already in flight and the caller
// arrived past the coalesce window. Callers may fall back to a cached
// result of whatever freshness they can tolerate.
var ErrSlotBusy = errors.New("detect: collection slot busy")

func detectKey(id string) string { return "detect_cache/" + id + ".json" }

// RuleSource provides the current rule snapshot.
type RuleSource interface {
	Snapshot() *rules.Ruleset
}

// PatternSink receives rule-match snapshots for indexing. The knowledge
// store satisfies it.
type PatternSink interface {
	UpsertPattern(ctx context.Context, p *models.Pattern, quality float64) (bool, error)
	GetPattern(ctx context.Context, id string) (*models.Pattern, error)
}

// inflight is the single collection currently running. Joiners wait on
// done and read result/err afterwards.
type inflight struct {
	startedAt time.Time
	done      chan struct{}
	result    *models.DetectResult
	err       error
}

// Agent serializes collections behind one slot and keeps the most
// recent DetectResult per source key plus the latest overall.
type Agent struct {
	correlator correlate.Correlator
	rules      RuleSource
	patterns   PatternSink
	objects    storage.ObjectStore
	mirror     cache.Store
	cfg        config.DetectConfig
	logger     logger.Logger
	now        func() time.Time

	mu       sync.Mutex
	inflight *inflight
	latest   *models.DetectResult
	bySource map[string]*models.DetectResult
}

// NewAgent wires the agent. patterns, objects and mirror may each be
// nil; the corresponding side effect (indexing, snapshot persistence,
// cache mirroring) is skipped.
func NewAgent(correlator correlate.Correlator, ruleSource RuleSource, patterns PatternSink,
	objects storage.ObjectStore, mirror cache.Store, cfg config.DetectConfig, log logger.Logger) *Agent {
	return &Agent{
		correlator: correlator,
		rules:      ruleSource,
		patterns:   patterns,
		objects:    objects,
		mirror:     mirror,
		cfg:        cfg,
		logger:     log,
		now:        time.Now,
		bySource:   make(map[string]*models.DetectResult),
	}
}

// RunDetection performs a fresh correlation, tags it with rule-match
// snapshots and indexes them best-effort. Callers arriving while a
// collection is in flight join it inside the coalesce window and
// receive the same result; later callers get ErrSlotBusy.
func (a *Agent) RunDetection(ctx context.Context, trigger models.TriggerType, services ...string) (*models.DetectResult, error) {
	a.mu.Lock()
	if f := a.inflight; f != nil {
		joinable := a.now().Sub(f.startedAt) <= a.cfg.CoalesceWindow()
		a.mu.Unlock()
		if !joinable {
			metrics.DetectionsTotal.WithLabelValues(string(trigger), "slot_busy").Inc()
			return nil, ErrSlotBusy
		}
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if f.err != nil {
			metrics.DetectionsTotal.WithLabelValues(string(trigger), "failed").Inc()
			return nil, f.err
		}
		metrics.DetectionsTotal.WithLabelValues(string(trigger), "joined").Inc()
		return f.result, nil
	}

	f := &inflight{startedAt: a.now(), done: make(chan struct{})}
	a.inflight = f
	a.mu.Unlock()

	res, err := a.collect(ctx, trigger, services...)

	a.mu.Lock()
	f.result, f.err = res, err
	a.inflight = nil
	if err == nil {
		a.bySource[res.Source] = res
		a.latest = res
	}
	a.mu.Unlock()
	close(f.done)

	if err != nil {
		metrics.DetectionsTotal.WithLabelValues(string(trigger), "failed").Inc()
		return nil, err
	}
	metrics.DetectionsTotal.WithLabelValues(string(trigger), "completed").Inc()
	return res, nil
}

// GetLatest returns the newest cached result for source (any source
// when empty) if it is usable: never stale, and no older than maxAge
// (default: the result's own TTL).
func (a *Agent) GetLatest(source string, maxAge time.Duration) *models.DetectResult {
	a.mu.Lock()
	res := a.latest
	if source != "" {
		res = a.bySource[source]
	}
	a.mu.Unlock()

	if res == nil {
		metrics.DetectCacheReads.WithLabelValues("miss").Inc()
		return nil
	}

	now := a.now()
	if maxAge <= 0 {
		maxAge = time.Duration(res.TTLSeconds) * time.Second
	}
	if res.IsStale(now) {
		metrics.DetectCacheReads.WithLabelValues(string(models.FreshnessStale)).Inc()
		return nil
	}
	if res.Age(now) > maxAge {
		metrics.DetectCacheReads.WithLabelValues("miss").Inc()
		return nil
	}
	metrics.DetectCacheReads.WithLabelValues(string(res.FreshnessAt(now))).Inc()
	return res
}

// Health is the agent's liveness snapshot.
type Health struct {
	Collecting       bool   `json:"collecting"`
	LatestDetectID   string `json:"latest_detect_id,omitempty"`
	LatestAgeSeconds int    `json:"latest_age_seconds"`
	CacheSize        int    `json:"cache_size"`
}

func (a *Agent) Health() Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := Health{Collecting: a.inflight != nil, CacheSize: len(a.bySource)}
	if a.latest != nil {
		h.LatestDetectID = a.latest.ID
		h.LatestAgeSeconds = int(a.now().Sub(a.latest.CreatedAt).Seconds())
	}
	return h
}

func (a *Agent) collect(ctx context.Context, trigger models.TriggerType, services ...string) (*models.DetectResult, error) {
	event, err := a.correlator.Correlate(ctx, services...)
	if err != nil {
		return nil, err
	}

	var matches []models.RuleMatch
	if a.rules != nil {
		if rs := a.rules.Snapshot(); rs != nil {
			matches = rs.MatchAll(event.Telemetry)
		}
	}

	res := &models.DetectResult{
		ID:          "det-" + uuid.NewString(),
		Source:      sourceKey(trigger, services),
		Trigger:     trigger,
		Event:       event,
		RuleMatches: matches,
		TTLSeconds:  int(a.cfg.TTL().Seconds()),
		CreatedAt:   a.now(),
	}
	res.Vectorized = a.indexMatches(ctx, res)
	a.persist(ctx, res)

	a.logger.Info("Detection completed",
		"detect_id", res.ID,
		"source", res.Source,
		"rule_matches", len(matches),
		"anomalies", len(event.Anomalies),
		"vectorized", res.Vectorized)
	return res, nil
}

// indexMatches writes one pattern snapshot per rule match into the
// knowledge store. Snapshots carry the stored success rate forward so a
// detection counts an occurrence without expressing an outcome opinion.
// Returns true only when every snapshot landed in the vector index.
func (a *Agent) indexMatches(ctx context.Context, res *models.DetectResult) bool {
	if a.patterns == nil || len(res.RuleMatches) == 0 {
		return false
	}
	indexed := true
	for i := range res.RuleMatches {
		m := &res.RuleMatches[i]
		p := snapshotPattern(m, res.Event)
		if existing, err := a.patterns.GetPattern(ctx, p.ID); err == nil {
			p.SuccessRate = existing.SuccessRate
		}
		ok, err := a.patterns.UpsertPattern(ctx, p, m.Confidence)
		if err != nil {
			indexed = false
			a.logger.Warn("Pattern snapshot write failed", "pattern_id", p.ID, "error", err)
			continue
		}
		if !ok {
			indexed = false
		}
	}
	return indexed
}

// persist snapshots the result under detect_cache/{id}.json and mirrors
// it to the shared cache, both best-effort.
func (a *Agent) persist(ctx context.Context, res *models.DetectResult) {
	if a.objects != nil && a.cfg.PersistSnapshots {
		key := detectKey(res.ID)
		if locker, ok := a.objects.(storage.Locker); ok {
			if release, err := locker.Lock(ctx, key); err == nil {
				defer release()
			}
		}
		if err := storage.PutJSON(ctx, a.objects, key, res); err != nil {
			a.logger.Warn("Detection snapshot persist failed", "detect_id", res.ID, "error", err)
		}
	}
	if a.mirror != nil && a.cfg.MirrorToCache {
		if err := a.mirror.CacheDetection(ctx, res.Source, res, a.cfg.TTL()); err != nil {
			a.logger.Warn("Detection cache mirror failed", "detect_id", res.ID, "error", err)
		}
	}
}

func sourceKey(trigger models.TriggerType, services []string) string {
	if len(services) == 0 {
		return string(trigger)
	}
	scoped := append([]string(nil), services...)
	sort.Strings(scoped)
	return string(trigger) + ":" + strings.Join(scoped, ",")
}

func snapshotPattern(m *models.RuleMatch, event *models.CorrelatedEvent) *models.Pattern {
	root := m.RootCauseHint
	if root == "" {
		root = m.Name
	}
	return &models.Pattern{
		ID:          models.PatternIDFor(m.Category, root),
		Title:       m.Name,
		Description: strings.Join(m.MatchedClauses, "; "),
		Category:    m.Category,
		Services:    eventServices(event),
		Severity:    m.Severity,
		Symptoms:    m.MatchedClauses,
		RootCause:   root,
		Remediation: m.SOPHints,
		SuccessRate: 0.5, // neutral prior until the learner reports outcomes
	}
}

func eventServices(event *models.CorrelatedEvent) []string {
	if event == nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, al := range event.Alarms {
		if al.Service != "" {
			seen[al.Service] = true
		}
	}
	for _, an := range event.Anomalies {
		if an.Service != "" {
			seen[an.Service] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
