// Package pipeline drives an incident end to end: collect, analyse,
// match, gate, learn. Each stage records its wall-clock duration on the
// incident record; failures terminate the run with a reason and the
// timings up to that point.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/detect"
	"github.com/opsforge/sentinel-core/internal/metrics"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/internal/sop"
	"github.com/opsforge/sentinel-core/internal/storage"
	"github.com/opsforge/sentinel-core/internal/tracing"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

func incidentKey(id string) string { return "incidents/" + id + ".json" }

// Detector is the collection facade the orchestrator drives.
type Detector interface {
	RunDetection(ctx context.Context, trigger models.TriggerType, services ...string) (*models.DetectResult, error)
	GetLatest(source string, maxAge time.Duration) *models.DetectResult
}

// Analyser produces the root-cause hypothesis for a correlated event.
type Analyser interface {
	Analyse(ctx context.Context, event *models.CorrelatedEvent) *models.RCAResult
}

// Notifier is satisfied by internal/notify.
type Notifier interface {
	Send(ctx context.Context, n *models.Notification) error
}

// Deps wires the orchestrator. Objects and Notifier may be nil;
// incident persistence and notifications are then skipped.
type Deps struct {
	Detector  Detector
	Analyser  Analyser
	Catalog   *sop.Catalog
	Gate      *sop.Gatekeeper
	Cooldown  *sop.CooldownGuard
	Approvals *sop.ApprovalManager
	Executor  *sop.Executor
	Notifier  Notifier
	Learner   *Learner
	Objects   storage.ObjectStore
	Tracer    *tracing.StageTracer
	Pipeline  config.PipelineConfig
	Safety    config.SafetyConfig
	Logger    logger.Logger
}

// Orchestrator owns the incident state machine:
//
//	created → collecting → analysed → {executed | awaiting_approval | rejected | failed}
//
// awaiting_approval resumes through ResolveApproval, a parked manual
// step through ResumeStep. Terminal states never transition again.
type Orchestrator struct {
	detector  Detector
	analyser  Analyser
	catalog   *sop.Catalog
	gate      *sop.Gatekeeper
	cooldown  *sop.CooldownGuard
	approvals *sop.ApprovalManager
	executor  *sop.Executor
	notifier  Notifier
	learner   *Learner
	objects   storage.ObjectStore
	tracer    *tracing.StageTracer
	cfg       config.PipelineConfig
	safety    config.SafetyConfig
	logger    logger.Logger
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	incidents map[string]*models.IncidentRecord
}

func New(deps Deps) *Orchestrator {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = tracing.NewStageTracer("sentinel-core/pipeline")
	}
	return &Orchestrator{
		detector:  deps.Detector,
		analyser:  deps.Analyser,
		catalog:   deps.Catalog,
		gate:      deps.Gate,
		cooldown:  deps.Cooldown,
		approvals: deps.Approvals,
		executor:  deps.Executor,
		notifier:  deps.Notifier,
		learner:   deps.Learner,
		objects:   deps.Objects,
		tracer:    tracer,
		cfg:       deps.Pipeline,
		safety:    deps.Safety,
		logger:    deps.Logger,
		now:       time.Now,
		wait:      sleepContext,
		incidents: make(map[string]*models.IncidentRecord),
	}
}

// HandleIncident runs the full pipeline for one trigger. Failures are
// encoded in the returned record, never raised: the caller always gets
// a terminal (or awaiting) IncidentRecord with a durable id.
func (o *Orchestrator) HandleIncident(ctx context.Context, trigger models.TriggerType, payload map[string]interface{}, cached *models.DetectResult) *models.IncidentRecord {
	return o.run(ctx, o.open(trigger, payload), cached)
}

// Submit opens the incident and runs the pipeline in the background.
// Webhook callers poll the incident id; they must not block on a
// remediation that can legitimately take the full deadline.
func (o *Orchestrator) Submit(trigger models.TriggerType, payload map[string]interface{}) string {
	rec := o.open(trigger, payload)
	go o.run(context.Background(), rec, nil)
	return rec.ID
}

// open registers the incident and writes the created snapshot ahead of
// the run, so pollers see the id immediately.
func (o *Orchestrator) open(trigger models.TriggerType, payload map[string]interface{}) *models.IncidentRecord {
	rec := &models.IncidentRecord{
		ID:        "inc-" + uuid.NewString(),
		Trigger:   trigger,
		Payload:   payload,
		Status:    models.IncidentCreated,
		CreatedAt: o.now(),
	}
	o.remember(rec)
	o.persist(context.Background(), rec)
	return rec
}

func (o *Orchestrator) run(ctx context.Context, rec *models.IncidentRecord, cached *models.DetectResult) *models.IncidentRecord {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline())
	defer cancel()

	ctx, incidentSpan := o.tracer.StartIncidentSpan(ctx, rec.ID, string(rec.Trigger))
	defer incidentSpan.End()

	trigger := rec.Trigger
	rec.Status = models.IncidentCollecting
	res := o.collectStage(ctx, rec, trigger, cached, servicesFromPayload(rec.Payload))
	if res == nil {
		return o.finish(ctx, rec)
	}
	rec.DetectID = res.ID
	rec.Detect = res
	if res.Event != nil {
		rec.ResourceIDs = res.Event.ResourceIDs
	}

	start := o.now()
	actx, span := o.tracer.StartStageSpan(ctx, models.StageAnalyse)
	rca := o.analyser.Analyse(actx, res.Event)
	span.End()
	rec.RCA = rca
	o.recordStage(rec, models.StageAnalyse, o.now().Sub(start))

	start = o.now()
	_, span = o.tracer.StartStageSpan(ctx, models.StageMatch)
	candidates := o.catalog.MatchSOPs(rca, rec.ResourceIDs)
	span.End()
	if max := o.cfg.MaxSOPCandidates; max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}
	rec.Candidates = candidates
	o.recordStage(rec, models.StageMatch, o.now().Sub(start))

	if len(candidates) == 0 {
		rec.Status = models.IncidentAnalysed
		if rca.Unknown() {
			rec.Notes = "no hypothesis: rule and model cascade exhausted"
		} else {
			rec.Notes = "no matching runbooks for hypothesis"
		}
		o.recordStage(rec, models.StageGate, 0)
		o.learnStage(ctx, rec)
		return o.finish(ctx, rec)
	}

	start = o.now()
	gctx, span := o.tracer.StartStageSpan(ctx, models.StageGate)
	top := candidates[0]
	resourceID := primaryResource(rec)
	decision := o.gate.Classify(sop.ClassifyInput{
		Candidate:  top,
		Confidence: rca.Confidence,
		ResourceID: resourceID,
	})
	rec.Safety = &decision
	o.runGate(gctx, rec, top, decision, resourceID)
	span.End()
	o.recordStage(rec, models.StageGate, o.now().Sub(start))

	if rec.Status == models.IncidentExecuted || rec.Status == models.IncidentAnalysed {
		o.learnStage(ctx, rec)
	}
	return o.finish(ctx, rec)
}

// LoadIncident reads the last persisted snapshot of an incident,
// bypassing live in-flight state. HTTP handlers serve this; the resume
// flows use GetIncident for the live record.
func (o *Orchestrator) LoadIncident(ctx context.Context, id string) (*models.IncidentRecord, error) {
	if o.objects == nil {
		return nil, storage.ErrNotFound
	}
	var rec models.IncidentRecord
	if err := storage.GetJSON(ctx, o.objects, incidentKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetIncident returns a handled incident, falling back to the object
// store for records from before a restart.
func (o *Orchestrator) GetIncident(ctx context.Context, id string) (*models.IncidentRecord, error) {
	o.mu.Lock()
	rec, ok := o.incidents[id]
	o.mu.Unlock()
	if ok {
		return rec, nil
	}
	if o.objects == nil {
		return nil, storage.ErrNotFound
	}
	var stored models.IncidentRecord
	if err := storage.GetJSON(ctx, o.objects, incidentKey(id), &stored); err != nil {
		return nil, err
	}
	o.remember(&stored)
	return &stored, nil
}

// ResolveApproval decides a pending token and, on approval, consumes it
// and executes the gated runbook. A late or repeated decision returns
// sop.ErrApprovalExpired and moves the incident to rejected.
func (o *Orchestrator) ResolveApproval(ctx context.Context, tokenID, decidedBy string, approve bool) (*models.IncidentRecord, error) {
	var tok *models.ApprovalToken
	var err error
	if approve {
		tok, err = o.approvals.Approve(ctx, tokenID, decidedBy)
	} else {
		tok, err = o.approvals.Reject(ctx, tokenID, decidedBy)
	}
	if err != nil {
		if errors.Is(err, sop.ErrApprovalExpired) && tok != nil {
			rec := o.rejectIncident(ctx, tok.IncidentID, "approval expired or already decided")
			return rec, err
		}
		return nil, err
	}

	rec, lerr := o.GetIncident(ctx, tok.IncidentID)
	if lerr != nil {
		return nil, lerr
	}

	if !approve {
		rec.Status = models.IncidentRejected
		rec.Notes = "rejected by " + decidedBy
		return o.finish(ctx, rec), nil
	}

	if _, cerr := o.approvals.Consume(ctx, tok.ID); cerr != nil {
		rec.Status = models.IncidentRejected
		rec.FailureReason = "approval unusable: " + cerr.Error()
		return o.finish(ctx, rec), cerr
	}

	s, ok := o.catalog.Get(tok.SOPID)
	if !ok {
		rec.Status = models.IncidentFailed
		rec.FailureReason = "approved runbook missing from catalog: " + tok.SOPID
		return o.finish(ctx, rec), nil
	}

	decision := models.SafetyDecision{SOPID: tok.SOPID, Risk: tok.Risk, Mode: tok.RequestedMode}
	if rec.Safety != nil {
		decision = *rec.Safety
	}
	o.execute(ctx, rec, s, decision, tok.ResourceID)
	if rec.Status == models.IncidentExecuted {
		o.learnStage(ctx, rec)
	}
	return o.finish(ctx, rec), nil
}

// ResumeStep completes a parked manual step and carries the incident to
// its final state.
func (o *Orchestrator) ResumeStep(ctx context.Context, executionID string, stepIndex int, outcome models.StepStatus, note string) (*models.IncidentRecord, error) {
	res, err := o.executor.CompleteStep(ctx, executionID, stepIndex, outcome, note)
	if err != nil {
		return nil, err
	}
	rec, lerr := o.GetIncident(ctx, res.IncidentID)
	if lerr != nil {
		return nil, lerr
	}
	rec.Execution = res
	o.applyExecution(ctx, rec, res)
	if rec.Status == models.IncidentExecuted {
		o.learnStage(ctx, rec)
	}
	return o.finish(ctx, rec), nil
}

/* ------------------------------- stages ------------------------------- */

func (o *Orchestrator) collectStage(ctx context.Context, rec *models.IncidentRecord, trigger models.TriggerType, cached *models.DetectResult, services []string) *models.DetectResult {
	ctx, span := o.tracer.StartStageSpan(ctx, models.StageCollect)
	defer span.End()

	// A manual trigger always collects fresh; scoped collections never
	// reuse an unscoped snapshot.
	if trigger != models.TriggerManual && len(services) == 0 {
		if cached == nil {
			cached = o.detector.GetLatest(string(trigger), 0)
		}
		if cached != nil && !cached.IsStale(o.now()) {
			o.recordStage(rec, models.StageCollect, 0)
			o.logger.Info("Detection reused",
				"incident_id", rec.ID,
				"detect_id", cached.ID,
				"age_seconds", int(cached.Age(o.now()).Seconds()))
			return cached
		}
	}

	start := o.now()
	res, err := o.detector.RunDetection(ctx, trigger, services...)
	if errors.Is(err, detect.ErrSlotBusy) && trigger != models.TriggerManual {
		if fallback := o.detector.GetLatest("", 0); fallback != nil {
			o.recordStage(rec, models.StageCollect, o.now().Sub(start))
			o.logger.Warn("Collection slot busy, using cached detection",
				"incident_id", rec.ID, "detect_id", fallback.ID)
			return fallback
		}
	}
	o.recordStage(rec, models.StageCollect, o.now().Sub(start))
	if err != nil {
		o.tracer.RecordError(span, err)
		rec.Status = models.IncidentFailed
		rec.FailureReason = "collection failed: " + err.Error()
		o.notify(ctx, &models.Notification{
			Type:       models.NotifyEscalation,
			Severity:   models.SeverityHigh,
			Title:      "Signal collection failed",
			Message:    err.Error(),
			IncidentID: rec.ID,
			CreatedAt:  o.now(),
		})
		return nil
	}
	return res
}

func (o *Orchestrator) runGate(ctx context.Context, rec *models.IncidentRecord, top models.SOPCandidate, decision models.SafetyDecision, resourceID string) {
	switch decision.Mode {
	case models.ModeReadOnly:
		rec.Status = models.IncidentAnalysed
		rec.Notes = advisoryNotes(top.SOP)

	case models.ModeAuto:
		o.execute(ctx, rec, top.SOP, decision, resourceID)

	case models.ModeNotifyWait:
		o.notify(ctx, o.gateNotification(rec, top, decision, models.NotifyWaitAnnounce))
		if err := o.wait(ctx, o.safety.NotifyGrace()); err != nil {
			rec.Status = models.IncidentFailed
			rec.FailureReason = "cancelled during notify grace: " + err.Error()
			return
		}
		o.execute(ctx, rec, top.SOP, decision, resourceID)

	case models.ModeApprovalRequired:
		tok, err := o.approvals.Create(ctx, rec.ID, resourceID, decision)
		if err != nil {
			rec.Status = models.IncidentFailed
			rec.FailureReason = "approval token: " + err.Error()
			return
		}
		rec.ApprovalTokenID = tok.ID
		rec.Status = models.IncidentAwaitingApproval
		o.notify(ctx, o.gateNotification(rec, top, decision, models.NotifyApprovalRequest))
	}
}

func (o *Orchestrator) execute(ctx context.Context, rec *models.IncidentRecord, s *models.SOP, decision models.SafetyDecision, resourceID string) {
	if ok, reason := o.cooldown.Reserve(resourceID, s.ID, o.now()); !ok {
		rec.Status = models.IncidentAnalysed
		rec.Notes = "execution suppressed: " + reason
		metrics.ExecutionsTotal.WithLabelValues(decision.Risk.String(), string(decision.Mode), "suppressed").Inc()
		return
	}

	res := o.executor.Execute(ctx, s, resourceID, rec.ID, decision.DryRun)
	rec.Execution = res
	o.gate.MarkExecuted(resourceID)
	metrics.ExecutionsTotal.WithLabelValues(decision.Risk.String(), string(decision.Mode), res.Status).Inc()

	o.applyExecution(ctx, rec, res)
}

// applyExecution maps an execution outcome onto the incident status.
func (o *Orchestrator) applyExecution(ctx context.Context, rec *models.IncidentRecord, res *models.ExecutionResult) {
	switch res.Status {
	case models.ExecutionSucceeded:
		rec.Status = models.IncidentExecuted
	case models.ExecutionWaiting:
		rec.Status = models.IncidentAwaitingStep
		rec.Notes = "execution waiting on a manual step"
	case models.ExecutionRollbackFailed:
		rec.Status = models.IncidentFailed
		rec.FailureReason = res.Error
		o.notify(ctx, &models.Notification{
			Type:        models.NotifyEscalation,
			Severity:    models.SeverityCritical,
			Title:       "Rollback failed: " + res.SOPID,
			Message:     res.Error,
			IncidentID:  rec.ID,
			ResourceIDs: rec.ResourceIDs,
			CreatedAt:   o.now(),
		})
	default: // failed, rolled_back
		rec.Status = models.IncidentFailed
		rec.FailureReason = res.Error
	}
}

func (o *Orchestrator) learnStage(ctx context.Context, rec *models.IncidentRecord) {
	start := o.now()
	lctx, span := o.tracer.StartStageSpan(ctx, models.StageLearn)
	o.learner.Record(lctx, rec)
	span.End()
	o.recordStage(rec, models.StageLearn, o.now().Sub(start))
}

/* ------------------------------ plumbing ------------------------------ */

func (o *Orchestrator) recordStage(rec *models.IncidentRecord, stage string, d time.Duration) {
	rec.RecordStage(stage, d)
	metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (o *Orchestrator) remember(rec *models.IncidentRecord) {
	o.mu.Lock()
	o.incidents[rec.ID] = rec
	o.mu.Unlock()
}

func (o *Orchestrator) finish(ctx context.Context, rec *models.IncidentRecord) *models.IncidentRecord {
	rec.UpdatedAt = o.now()
	o.persist(ctx, rec)
	if rec.Status.Terminal() {
		metrics.IncidentsTotal.WithLabelValues(string(rec.Trigger), string(rec.Status)).Inc()
	}
	o.logger.Info("Incident recorded",
		"incident_id", rec.ID,
		"trigger", rec.Trigger,
		"status", rec.Status,
		"stages", len(rec.StageTimings))
	return rec
}

func (o *Orchestrator) rejectIncident(ctx context.Context, incidentID, reason string) *models.IncidentRecord {
	rec, err := o.GetIncident(ctx, incidentID)
	if err != nil {
		o.logger.Warn("Incident lookup failed during rejection", "incident_id", incidentID, "error", err)
		return nil
	}
	if rec.Status.Terminal() {
		return rec
	}
	rec.Status = models.IncidentRejected
	rec.FailureReason = reason
	return o.finish(ctx, rec)
}

// persist survives incident deadlines: the record must land even when
// the run was cancelled.
func (o *Orchestrator) persist(ctx context.Context, rec *models.IncidentRecord) {
	if o.objects == nil {
		return
	}
	if err := storage.PutJSON(context.WithoutCancel(ctx), o.objects, incidentKey(rec.ID), rec); err != nil {
		o.logger.Error("Incident persist failed", "incident_id", rec.ID, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, n *models.Notification) {
	if o.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.safety.NotifyTimeout())
	defer cancel()
	if err := o.notifier.Send(nctx, n); err != nil {
		o.logger.Warn("Notification delivery degraded", "type", n.Type, "error", err)
	}
}

func (o *Orchestrator) gateNotification(rec *models.IncidentRecord, top models.SOPCandidate, decision models.SafetyDecision, typ string) *models.Notification {
	severity := models.SeverityMedium
	if rec.RCA != nil && rec.RCA.Severity != "" {
		severity = rec.RCA.Severity
	}
	title := fmt.Sprintf("Executing %s after %s grace", top.SOP.Title, o.safety.NotifyGrace())
	if typ == models.NotifyApprovalRequest {
		title = "Approval required: " + top.SOP.Title
	}
	return &models.Notification{
		Type:        typ,
		Severity:    severity,
		Title:       title,
		Message:     top.SOP.Description,
		IncidentID:  rec.ID,
		ResourceIDs: rec.ResourceIDs,
		Fields: map[string]string{
			"sop_id": top.SOP.ID,
			"risk":   decision.Risk.String(),
			"mode":   string(decision.Mode),
		},
		CreatedAt: o.now(),
	}
}

func advisoryNotes(s *models.SOP) string {
	names := make([]string, 0, len(s.Steps))
	for _, st := range s.Steps {
		names = append(names, st.Name)
	}
	return "advisory: " + strings.Join(names, "; ")
}

func primaryResource(rec *models.IncidentRecord) string {
	if len(rec.ResourceIDs) > 0 {
		return rec.ResourceIDs[0]
	}
	return ""
}

func servicesFromPayload(payload map[string]interface{}) []string {
	raw, ok := payload["services"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
