package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/detect"
	"github.com/opsforge/sentinel-core/internal/inference"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/internal/rules"
	"github.com/opsforge/sentinel-core/internal/sop"
	"github.com/opsforge/sentinel-core/internal/storage"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

const pipelineRulesYAML = `version: "1"
rules:
  - id: crash-001
    name: Container crash loop
    category: container_crash
    severity: critical
    confidence: 0.85
    root_cause: container restarting due to memory pressure
    sop_hints: [rollout-restart]
    clauses:
      - {source: events, field: reason, equals: CrashLoopBackOff, required: true}
      - {source: metrics, field: restart_count, op: ">", value: 5}
  - id: image-001
    name: Image pull failure
    category: image_pull
    severity: high
    confidence: 0.95
    root_cause: image pull failing for the workload
    sop_hints: [image-pull-triage]
    clauses:
      - {source: events, field: reason, equals: ImagePullBackOff, required: true}
  - id: cpu-001
    name: Sustained CPU saturation
    category: cpu_pressure
    severity: high
    confidence: 0.9
    root_cause: instance cpu saturated above capacity
    sop_hints: [ec2-scale-up]
    clauses:
      - {source: metrics, field: cpu_utilization, op: ">", value: 90, required: true}
  - id: disk-001
    name: Disk corruption detected
    category: disk_corruption
    severity: critical
    confidence: 0.9
    root_cause: filesystem corruption on the instance volume
    sop_hints: [stop-instance]
    clauses:
      - {source: events, field: reason, equals: DiskCorruption, required: true}
  - id: db-001
    name: Replica lag runaway
    category: db_degraded
    severity: high
    confidence: 0.88
    root_cause: database replica lag beyond failover threshold
    sop_hints: [db-failover-drill]
    clauses:
      - {source: events, field: reason, equals: ReplicaLagHigh, required: true}
  - id: full-001
    name: Worker disk filling
    category: disk_full
    severity: high
    confidence: 0.9
    root_cause: disk filling on worker node
    sop_hints: [disk-cleanup]
    clauses:
      - {source: events, field: reason, equals: DiskFull, required: true}
  - id: net-001
    name: Zone partition
    category: network_partition
    severity: critical
    confidence: 0.9
    root_cause: network partition between availability zones
    clauses:
      - {source: events, field: reason, equals: ZoneUnreachable, required: true}
`

const pipelineSOPsYAML = `version: 1
sops:
  - id: rollout-restart
    title: Rolling restart of the crashing workload
    description: Restart the deployment behind the crashing pod to clear memory pressure.
    action_class: reversible_disruptive
    success_rate: 0.8
    triggers:
      categories: [container_crash]
    steps:
      - name: snapshot current rollout state
        action: describe-resource
        auto_executable: true
      - name: rolling restart
        action: rollout-restart
        auto_executable: true
        rollback: {action: undo-rollout}
  - id: image-pull-triage
    title: Image pull failure triage
    description: Walk the registry and pull-secret checklist for the failing workload.
    action_class: read_only
    success_rate: 0.9
    triggers:
      categories: [image_pull]
    steps:
      - name: check image name and registry credentials
        action: check-image-registry
        auto_executable: false
  - id: ec2-scale-up
    title: Scale up the saturated instance
    action_class: idempotent_write
    success_rate: 0.7
    triggers:
      categories: [cpu_pressure]
    steps:
      - name: snapshot instance
        action: create-snapshot
        auto_executable: true
      - name: scale up instance
        action: ec2-scale-up
        auto_executable: true
  - id: stop-instance
    title: Stop the corrupted instance
    action_class: irreversible
    success_rate: 0.9
    triggers:
      categories: [disk_corruption]
    steps:
      - name: stop the instance
        action: stop-instance
        auto_executable: true
  - id: db-failover-drill
    title: Fail over the lagging replica
    action_class: idempotent_write
    success_rate: 0.75
    triggers:
      categories: [db_degraded]
    steps:
      - name: snapshot database state
        action: create-snapshot
        auto_executable: true
      - name: verify replica health by hand
        action: describe-resource
        auto_executable: false
      - name: add replica lag alarm
        action: add-alarm
        auto_executable: true
  - id: disk-cleanup
    title: Clean stale data from the worker
    action_class: reversible_disruptive
    success_rate: 0.6
    triggers:
      categories: [disk_full]
    steps:
      - name: clean stale data
        action: flaky-cleanup
        auto_executable: true
        rollback: {action: undo-cleanup}
`

type fakeCorrelator struct {
	calls   int32
	block   chan struct{}
	started chan struct{}
	err     error
	event   *models.CorrelatedEvent

	mu           sync.Mutex
	lastServices []string
}

func (f *fakeCorrelator) Correlate(ctx context.Context, services ...string) (*models.CorrelatedEvent, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.lastServices = services
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.event, nil
}

type fakeSink struct {
	mu        sync.Mutex
	upserts   []*models.Pattern
	qualities []float64
	existing  map[string]*models.Pattern
	upsertErr error
}

func (f *fakeSink) UpsertPattern(ctx context.Context, p *models.Pattern, quality float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return false, f.upsertErr
	}
	f.upserts = append(f.upserts, p)
	f.qualities = append(f.qualities, quality)
	return true, nil
}

func (f *fakeSink) GetPattern(ctx context.Context, id string) (*models.Pattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.existing[id]; ok {
		return p, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func (f *fakeSink) last() *models.Pattern {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.upserts) == 0 {
		return nil
	}
	return f.upserts[len(f.upserts)-1]
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (c *captureNotifier) Send(_ context.Context, n *models.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureNotifier) byType(typ string) []*models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.Notification
	for _, n := range c.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func crashEvent() *models.CorrelatedEvent {
	return &models.CorrelatedEvent{
		ID:       "evt-crash",
		Severity: models.SeverityCritical,
		Alarms: []models.AlarmEvent{
			{AlarmID: "alarm-1", Name: "PodCrashLooping", ResourceID: "pod/checkout-6f7d8", Service: "kubernetes", State: "ALARM", Severity: models.SeverityCritical},
		},
		ResourceIDs: []string{"pod/checkout-6f7d8"},
		Telemetry: models.TelemetrySnapshot{
			Events:  []models.EventRecord{{Source: "kubernetes", Reason: "CrashLoopBackOff", Message: "back-off restarting container"}},
			Metrics: map[string]float64{"restart_count": 9},
		},
	}
}

func imageEvent() *models.CorrelatedEvent {
	return &models.CorrelatedEvent{
		ID:          "evt-image",
		Severity:    models.SeverityHigh,
		ResourceIDs: []string{"pod/payments-7c9dd"},
		Telemetry: models.TelemetrySnapshot{
			Events: []models.EventRecord{{Source: "kubernetes", Reason: "ImagePullBackOff", Message: "back-off pulling image registry.internal/payments:v42"}},
		},
	}
}

func cpuEvent() *models.CorrelatedEvent {
	return &models.CorrelatedEvent{
		ID:          "evt-cpu",
		Severity:    models.SeverityHigh,
		ResourceIDs: []string{"i-0abc123"},
		Telemetry: models.TelemetrySnapshot{
			Metrics: map[string]float64{"cpu_utilization": 97},
		},
	}
}

func eventWithReason(id, resourceID, reason string) *models.CorrelatedEvent {
	return &models.CorrelatedEvent{
		ID:          id,
		Severity:    models.SeverityHigh,
		ResourceIDs: []string{resourceID},
		Telemetry: models.TelemetrySnapshot{
			Events: []models.EventRecord{{Source: "aws", Reason: reason}},
		},
	}
}

type staticRules struct{ rs *rules.Ruleset }

func (s staticRules) Snapshot() *rules.Ruleset { return s.rs }

func loadPipelineRules(t *testing.T) staticRules {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineRulesYAML), 0o644))
	rs, err := rules.Load(path)
	require.NoError(t, err)
	return staticRules{rs: rs}
}

func loadPipelineCatalog(t *testing.T) *sop.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineSOPsYAML), 0o644))
	cat, err := sop.LoadCatalog(path, logger.Nop())
	require.NoError(t, err)
	return cat
}

func defaultSafety() config.SafetyConfig {
	return config.SafetyConfig{
		ConfidenceFloor:     0.6,
		ReadOnlyFloor:       0.4,
		CooldownSeconds:     1800,
		GlobalWindowSeconds: 300,
		GlobalMaxExecutions: 3,
		ApprovalTTLSeconds:  900,
		NotifyGraceSeconds:  10,
		NotifyTimeoutMS:     1000,
	}
}

type pipelineHarness struct {
	corr      *fakeCorrelator
	agent     *detect.Agent
	catalog   *sop.Catalog
	registry  *sop.ActionRegistry
	cooldown  *sop.CooldownGuard
	approvals *sop.ApprovalManager
	store     *storage.MemStore
	notifier  *captureNotifier
	sink      *fakeSink
	safety    config.SafetyConfig
	orch      *Orchestrator

	mu     sync.Mutex
	waited []time.Duration
}

func newHarness(t *testing.T, safety config.SafetyConfig) *pipelineHarness {
	t.Helper()
	log := logger.Nop()
	ruleSrc := loadPipelineRules(t)

	h := &pipelineHarness{
		corr:     &fakeCorrelator{event: crashEvent()},
		catalog:  loadPipelineCatalog(t),
		registry: sop.NewActionRegistry(),
		store:    storage.NewMemStore(),
		notifier: &captureNotifier{},
		sink:     &fakeSink{existing: make(map[string]*models.Pattern)},
		safety:   safety,
	}
	require.NoError(t, sop.RegisterBuiltins(h.registry, log))
	require.NoError(t, h.registry.Register("flaky-cleanup", models.ActionClassReversibleDisruptive,
		func(ctx context.Context, req sop.ActionRequest) (string, error) {
			return "", errors.New("cleanup job crashed")
		}))
	require.NoError(t, h.registry.Register("undo-cleanup", models.ActionClassReversibleDisruptive,
		func(ctx context.Context, req sop.ActionRequest) (string, error) {
			return "", errors.New("undo job crashed")
		}))

	h.agent = detect.NewAgent(h.corr, ruleSrc, nil, nil, nil,
		config.DetectConfig{TTLSeconds: 300, CoalesceWindowMS: 50}, log)
	h.cooldown = sop.NewCooldownGuard(safety)
	h.approvals = sop.NewApprovalManager(safety, h.store, log)

	h.orch = New(Deps{
		Detector:  h.agent,
		Analyser:  inference.NewEngine(ruleSrc, nil, nil, config.ModelsConfig{}, log),
		Catalog:   h.catalog,
		Gate:      sop.NewGatekeeper(safety, h.registry, h.cooldown, log),
		Cooldown:  h.cooldown,
		Approvals: h.approvals,
		Executor:  sop.NewExecutor(h.registry, log),
		Notifier:  h.notifier,
		Learner:   NewLearner(h.sink, log),
		Objects:   h.store,
		Safety:    safety,
		Logger:    log,
	})
	h.orch.wait = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.waited = append(h.waited, d)
		h.mu.Unlock()
		return nil
	}
	return h
}

// restart builds a second orchestrator over the same stores, as a
// process restart would.
func (h *pipelineHarness) restart(t *testing.T) *Orchestrator {
	t.Helper()
	log := logger.Nop()
	orch := New(Deps{
		Detector:  h.agent,
		Catalog:   h.catalog,
		Gate:      sop.NewGatekeeper(h.safety, h.registry, h.cooldown, log),
		Cooldown:  h.cooldown,
		Approvals: sop.NewApprovalManager(h.safety, h.store, log),
		Executor:  sop.NewExecutor(h.registry, log),
		Notifier:  h.notifier,
		Learner:   NewLearner(h.sink, log),
		Objects:   h.store,
		Safety:    h.safety,
		Logger:    log,
	})
	orch.wait = func(ctx context.Context, d time.Duration) error { return nil }
	return orch
}

func (h *pipelineHarness) graceWaits() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]time.Duration, len(h.waited))
	copy(out, h.waited)
	return out
}

func assertStagePrefix(t *testing.T, rec *models.IncidentRecord) {
	t.Helper()
	names := rec.StageNames()
	require.LessOrEqual(t, len(names), len(models.StageOrder))
	for i, name := range names {
		assert.Equal(t, models.StageOrder[i], name, "stage %d out of order", i)
	}
}

func TestPipeline_CrashLoopRemediatesAfterGrace(t *testing.T) {
	h := newHarness(t, defaultSafety())
	ctx := context.Background()

	rec := h.orch.HandleIncident(ctx, models.TriggerAlarm, nil, nil)

	require.NotNil(t, rec)
	assert.True(t, strings.HasPrefix(rec.ID, "inc-"))
	assert.Equal(t, models.IncidentExecuted, rec.Status)
	assert.Equal(t, []string{"pod/checkout-6f7d8"}, rec.ResourceIDs)
	assert.NotEmpty(t, rec.DetectID)

	require.NotNil(t, rec.RCA)
	assert.InDelta(t, 0.85, rec.RCA.Confidence, 1e-9)
	assert.Equal(t, "container restarting due to memory pressure", rec.RCA.RootCause)
	assert.Contains(t, rec.RCA.Evidence, "events.reason=CrashLoopBackOff")

	require.NotNil(t, rec.Safety)
	assert.Equal(t, models.ModeNotifyWait, rec.Safety.Mode)
	assert.Equal(t, models.RiskReversibleDisruptive, rec.Safety.Risk)
	assert.False(t, rec.Safety.DryRun)
	assert.Equal(t, []time.Duration{10 * time.Second}, h.graceWaits())

	announces := h.notifier.byType(models.NotifyWaitAnnounce)
	require.Len(t, announces, 1)
	assert.Equal(t, "rollout-restart", announces[0].Fields["sop_id"])
	assert.Equal(t, rec.ID, announces[0].IncidentID)

	require.NotNil(t, rec.Execution)
	assert.Equal(t, models.ExecutionSucceeded, rec.Execution.Status)
	assert.False(t, rec.Execution.DryRun)
	require.Len(t, rec.Execution.Steps, 2)
	for _, step := range rec.Execution.Steps {
		assert.Equal(t, models.StepSucceeded, step.Status)
	}

	assert.Equal(t, models.StageOrder, rec.StageNames())
	require.Equal(t, 1, h.sink.count())
	learned := h.sink.last()
	assert.Equal(t, 1.0, learned.SuccessRate)
	assert.Equal(t, []string{"rollout-restart"}, learned.Remediation)

	var stored models.IncidentRecord
	require.NoError(t, storage.GetJSON(ctx, h.store, "incidents/"+rec.ID+".json", &stored))
	assert.Equal(t, models.IncidentExecuted, stored.Status)
}

func TestPipeline_ManualOnlyRunbookStaysAdvisory(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = imageEvent()

	rec := h.orch.HandleIncident(context.Background(), models.TriggerAnomaly, nil, nil)

	assert.Equal(t, models.IncidentAnalysed, rec.Status)
	require.NotNil(t, rec.Safety)
	assert.Equal(t, models.ModeReadOnly, rec.Safety.Mode)
	assert.Contains(t, rec.Safety.Reasons, "runbook has no auto-executable steps")
	assert.Contains(t, rec.Notes, "check image name and registry credentials")
	assert.Nil(t, rec.Execution)
	require.NotEmpty(t, rec.Candidates)
	assert.Equal(t, "image-pull-triage", rec.Candidates[0].SOP.ID)
	assert.Empty(t, h.notifier.byType(models.NotifyWaitAnnounce))
	assertStagePrefix(t, rec)
	assert.Equal(t, 1, h.sink.count())
}

func TestPipeline_FirstRunOnResourceIsDry(t *testing.T) {
	safety := defaultSafety()
	safety.DryRunFirst = true
	h := newHarness(t, safety)
	h.corr.event = cpuEvent()

	rec := h.orch.HandleIncident(context.Background(), models.TriggerProactive, nil, nil)

	assert.Equal(t, models.IncidentExecuted, rec.Status)
	require.NotNil(t, rec.Safety)
	assert.Equal(t, models.ModeAuto, rec.Safety.Mode)
	assert.True(t, rec.Safety.DryRun)

	require.NotNil(t, rec.Execution)
	assert.True(t, rec.Execution.DryRun)
	assert.Equal(t, models.ExecutionSucceeded, rec.Execution.Status)
	for _, step := range rec.Execution.Steps {
		assert.Contains(t, step.Output, "dry-run: would")
	}

	// The drill still counts as a learning event.
	require.Equal(t, 1, h.sink.count())
	assert.Equal(t, 0.5, h.sink.last().SuccessRate)
}

func TestPipeline_ProactiveReusesFreshDetection(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = cpuEvent()
	ctx := context.Background()

	first := h.orch.HandleIncident(ctx, models.TriggerProactive, nil, nil)
	second := h.orch.HandleIncident(ctx, models.TriggerProactive, nil, nil)

	assert.Equal(t, int32(1), atomic.LoadInt32(&h.corr.calls))
	assert.Equal(t, first.DetectID, second.DetectID)
	assert.NotEqual(t, first.ID, second.ID)
	require.NotEmpty(t, second.StageTimings)
	assert.Equal(t, models.StageCollect, second.StageTimings[0].Stage)
	assert.Zero(t, second.StageTimings[0].Millis)
}

func TestPipeline_ManualTriggerAlwaysCollectsFresh(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = cpuEvent()
	ctx := context.Background()

	first := h.orch.HandleIncident(ctx, models.TriggerProactive, nil, nil)
	manual := h.orch.HandleIncident(ctx, models.TriggerManual, nil, nil)

	assert.Equal(t, int32(2), atomic.LoadInt32(&h.corr.calls))
	assert.NotEqual(t, first.DetectID, manual.DetectID)
}

func TestPipeline_ManualTriggerScopesCollectors(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = cpuEvent()

	payload := map[string]interface{}{"services": []interface{}{"aws"}}
	rec := h.orch.HandleIncident(context.Background(), models.TriggerManual, payload, nil)

	require.NotNil(t, rec)
	h.corr.mu.Lock()
	defer h.corr.mu.Unlock()
	assert.Equal(t, []string{"aws"}, h.corr.lastServices)
}

func TestPipeline_ApprovalRequiredParksIncident(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = eventWithReason("evt-disk", "i-0ffe99", "DiskCorruption")

	rec := h.orch.HandleIncident(context.Background(), models.TriggerAlarm, nil, nil)

	assert.Equal(t, models.IncidentAwaitingApproval, rec.Status)
	assert.NotEmpty(t, rec.ApprovalTokenID)
	assert.Nil(t, rec.Execution)
	require.NotNil(t, rec.Safety)
	assert.Equal(t, models.ModeApprovalRequired, rec.Safety.Mode)
	assert.Equal(t, models.RiskIrreversible, rec.Safety.Risk)
	require.Len(t, h.notifier.byType(models.NotifyApprovalRequest), 1)
	assert.Equal(t, []string{"collect", "analyse", "match", "gate"}, rec.StageNames())
	assert.Zero(t, h.sink.count())
}

func TestPipeline_ApprovedIncidentExecutes(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = eventWithReason("evt-disk", "i-0ffe99", "DiskCorruption")
	ctx := context.Background()

	rec := h.orch.HandleIncident(ctx, models.TriggerAlarm, nil, nil)
	require.Equal(t, models.IncidentAwaitingApproval, rec.Status)

	resolved, err := h.orch.ResolveApproval(ctx, rec.ApprovalTokenID, "sre-oncall", true)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentExecuted, resolved.Status)
	require.NotNil(t, resolved.Execution)
	assert.Equal(t, models.ExecutionSucceeded, resolved.Execution.Status)
	assert.Equal(t, models.StageOrder, resolved.StageNames())
	assert.Equal(t, 1, h.sink.count())

	// The token is single use: a second decision cannot re-run anything.
	again, err := h.orch.ResolveApproval(ctx, rec.ApprovalTokenID, "sre-oncall", true)
	assert.ErrorIs(t, err, sop.ErrApprovalExpired)
	require.NotNil(t, again)
	assert.Equal(t, models.IncidentExecuted, again.Status)
	assert.Equal(t, 1, h.sink.count())
}

func TestPipeline_RejectedApprovalStopsExecution(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = eventWithReason("evt-disk", "i-0ffe99", "DiskCorruption")
	ctx := context.Background()

	rec := h.orch.HandleIncident(ctx, models.TriggerAlarm, nil, nil)
	resolved, err := h.orch.ResolveApproval(ctx, rec.ApprovalTokenID, "sre-oncall", false)

	require.NoError(t, err)
	assert.Equal(t, models.IncidentRejected, resolved.Status)
	assert.Equal(t, "rejected by sre-oncall", resolved.Notes)
	assert.Nil(t, resolved.Execution)
	assert.Zero(t, h.sink.count())
}

func TestPipeline_ExpiredApprovalRejectsIncident(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = eventWithReason("evt-disk", "i-0ffe99", "DiskCorruption")
	ctx := context.Background()

	rec := h.orch.HandleIncident(ctx, models.TriggerAlarm, nil, nil)
	require.Equal(t, models.IncidentAwaitingApproval, rec.Status)

	// Rewind the stored token past its deadline, then decide through a
	// restarted stack so the decision reads durable state.
	key := "approvals/" + rec.ApprovalTokenID + ".json"
	var tok models.ApprovalToken
	require.NoError(t, storage.GetJSON(ctx, h.store, key, &tok))
	tok.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, storage.PutJSON(ctx, h.store, key, &tok))

	orch2 := h.restart(t)
	resolved, err := orch2.ResolveApproval(ctx, rec.ApprovalTokenID, "sre-oncall", true)

	assert.ErrorIs(t, err, sop.ErrApprovalExpired)
	require.NotNil(t, resolved)
	assert.Equal(t, rec.ID, resolved.ID)
	assert.Equal(t, models.IncidentRejected, resolved.Status)
	assert.Nil(t, resolved.Execution)
	assert.Zero(t, h.sink.count())
}

func TestPipeline_RepeatExecutionDemotedByCooldown(t *testing.T) {
	h := newHarness(t, defaultSafety())
	ctx := context.Background()

	first := h.orch.HandleIncident(ctx, models.TriggerAlarm, nil, nil)
	require.Equal(t, models.IncidentExecuted, first.Status)

	second := h.orch.HandleIncident(ctx, models.TriggerAlarm, nil, nil)
	assert.Equal(t, models.IncidentAnalysed, second.Status)
	require.NotNil(t, second.Safety)
	assert.Equal(t, models.ModeReadOnly, second.Safety.Mode)
	assert.Nil(t, second.Execution)

	demoted := false
	for _, reason := range second.Safety.Reasons {
		if strings.Contains(reason, "cooldown") {
			demoted = true
		}
	}
	assert.True(t, demoted, "expected a cooldown reason, got %v", second.Safety.Reasons)
}

func TestPipeline_CollectionFailureAlerts(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.err = errors.New("all collectors failed")

	rec := h.orch.HandleIncident(context.Background(), models.TriggerAlarm, nil, nil)

	assert.Equal(t, models.IncidentFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, "collection failed")
	assert.Equal(t, []string{"collect"}, rec.StageNames())
	require.Len(t, h.notifier.byType(models.NotifyEscalation), 1)
	assert.Zero(t, h.sink.count())
}

func TestPipeline_UnknownHypothesisIsAdvisory(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = eventWithReason("evt-novel", "sg-12345", "SomethingNovel")

	rec := h.orch.HandleIncident(context.Background(), models.TriggerAnomaly, nil, nil)

	assert.Equal(t, models.IncidentAnalysed, rec.Status)
	require.NotNil(t, rec.RCA)
	assert.True(t, rec.RCA.Unknown())
	assert.Zero(t, rec.RCA.Confidence)
	assert.Empty(t, rec.Candidates)
	assert.Equal(t, "no hypothesis: rule and model cascade exhausted", rec.Notes)
	assert.Nil(t, rec.Execution)
	assert.Equal(t, models.StageOrder, rec.StageNames())
	assert.Zero(t, h.sink.count())
}

func TestPipeline_NoMatchingRunbooksStillLearns(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = eventWithReason("evt-net", "sg-67890", "ZoneUnreachable")

	rec := h.orch.HandleIncident(context.Background(), models.TriggerAlarm, nil, nil)

	assert.Equal(t, models.IncidentAnalysed, rec.Status)
	assert.Equal(t, "no matching runbooks for hypothesis", rec.Notes)
	assert.Empty(t, rec.Candidates)
	assert.Equal(t, models.StageOrder, rec.StageNames())
	require.Equal(t, 1, h.sink.count())
	assert.Equal(t, "network partition between availability zones", h.sink.last().RootCause)
	assert.Equal(t, 0.5, h.sink.last().SuccessRate)
}

func TestPipeline_ManualStepParksAndResumes(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = eventWithReason("evt-db", "db-orders-1", "ReplicaLagHigh")
	ctx := context.Background()

	rec := h.orch.HandleIncident(ctx, models.TriggerAlarm, nil, nil)

	assert.Equal(t, models.IncidentAwaitingStep, rec.Status)
	require.NotNil(t, rec.Execution)
	assert.Equal(t, models.ExecutionWaiting, rec.Execution.Status)
	assert.Zero(t, h.sink.count())

	resumed, err := h.orch.ResumeStep(ctx, rec.Execution.ExecutionID, 1, models.StepSucceeded, "replica healthy")
	require.NoError(t, err)
	assert.Equal(t, models.IncidentExecuted, resumed.Status)
	require.Len(t, resumed.Execution.Steps, 3)
	assert.Equal(t, "replica healthy", resumed.Execution.Steps[1].Output)
	assert.Equal(t, models.StepSucceeded, resumed.Execution.Steps[2].Status)
	assert.Equal(t, 1, h.sink.count())
}

func TestPipeline_RollbackFailureEscalates(t *testing.T) {
	h := newHarness(t, defaultSafety())
	h.corr.event = eventWithReason("evt-full", "node/worker-3", "DiskFull")

	rec := h.orch.HandleIncident(context.Background(), models.TriggerAlarm, nil, nil)

	assert.Equal(t, models.IncidentFailed, rec.Status)
	require.NotNil(t, rec.Execution)
	assert.Equal(t, models.ExecutionRollbackFailed, rec.Execution.Status)
	assert.NotEmpty(t, rec.FailureReason)

	escalations := h.notifier.byType(models.NotifyEscalation)
	require.Len(t, escalations, 1)
	assert.Equal(t, models.SeverityCritical, escalations[0].Severity)
	assert.Contains(t, escalations[0].Title, "disk-cleanup")
}

func TestPipeline_SlotBusyFallsBackToCachedDetection(t *testing.T) {
	h := newHarness(t, defaultSafety())
	ctx := context.Background()

	first := h.orch.HandleIncident(ctx, models.TriggerAlarm, nil, nil)
	require.Equal(t, models.IncidentExecuted, first.Status)

	h.corr.block = make(chan struct{})
	h.corr.started = make(chan struct{}, 1)
	done := make(chan *models.IncidentRecord, 1)
	go func() {
		done <- h.orch.HandleIncident(ctx, models.TriggerManual, nil, nil)
	}()
	<-h.corr.started
	time.Sleep(80 * time.Millisecond) // outlive the 50ms coalesce window

	rec := h.orch.HandleIncident(ctx, models.TriggerProactive, nil, nil)
	assert.Equal(t, first.DetectID, rec.DetectID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.corr.calls))

	close(h.corr.block)
	manual := <-done
	require.NotNil(t, manual)
	assert.NotEqual(t, first.DetectID, manual.DetectID)
}

func TestPipeline_GetIncidentSurvivesRestart(t *testing.T) {
	h := newHarness(t, defaultSafety())
	ctx := context.Background()

	rec := h.orch.HandleIncident(ctx, models.TriggerAlarm, nil, nil)
	require.Equal(t, models.IncidentExecuted, rec.Status)

	orch2 := h.restart(t)
	loaded, err := orch2.GetIncident(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.Equal(t, models.IncidentExecuted, loaded.Status)
	assert.Equal(t, rec.StageNames(), loaded.StageNames())

	_, err = orch2.GetIncident(ctx, "inc-missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
