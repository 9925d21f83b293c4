package sop

import (
	"fmt"
	"sync"
	"time"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/metrics"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// Gatekeeper applies the deterministic risk table plus the confidence,
// cooldown and first-run gates on top of it.
type Gatekeeper struct {
	cfg      config.SafetyConfig
	actions  *ActionRegistry
	cooldown *CooldownGuard
	logger   logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	executed map[string]bool // resource ids that have executed at least once
}

func NewGatekeeper(cfg config.SafetyConfig, actions *ActionRegistry, cooldown *CooldownGuard, log logger.Logger) *Gatekeeper {
	return &Gatekeeper{
		cfg:      cfg,
		actions:  actions,
		cooldown: cooldown,
		logger:   log,
		now:      time.Now,
		executed: make(map[string]bool),
	}
}

// ClassifyInput carries the candidate plus the context the gates need.
type ClassifyInput struct {
	Candidate  models.SOPCandidate
	Confidence float64
	ResourceID string
}

// Classify is deterministic: the same input always produces the same
// decision, except for the time-dependent cooldown and first-run gates.
func (g *Gatekeeper) Classify(in ClassifyInput) models.SafetyDecision {
	s := in.Candidate.SOP
	risk := g.riskOf(s)
	mode := baseMode(risk)
	reasons := []string{fmt.Sprintf("risk %s: %s", risk, s.ActionClass)}

	if !hasAutoSteps(s) {
		mode = models.ModeReadOnly
		reasons = append(reasons, "runbook has no auto-executable steps")
		metrics.SafetyDemotions.WithLabelValues("manual_runbook").Inc()
	}

	readOnlyFloor := g.cfg.ReadOnlyFloor
	if readOnlyFloor <= 0 {
		readOnlyFloor = config.DefaultReadOnlyFloor
	}
	confidenceFloor := g.cfg.ConfidenceFloor
	if confidenceFloor <= 0 {
		confidenceFloor = config.DefaultConfidenceFloor
	}

	switch {
	case in.Confidence < readOnlyFloor:
		if mode != models.ModeReadOnly {
			mode = models.ModeReadOnly
			reasons = append(reasons, fmt.Sprintf("confidence %.2f below %.2f: advisory only", in.Confidence, readOnlyFloor))
			metrics.SafetyDemotions.WithLabelValues("low_confidence").Inc()
		}
	case in.Confidence < confidenceFloor:
		if mode == models.ModeAuto || mode == models.ModeApprovalRequired {
			mode = models.ModeNotifyWait
			reasons = append(reasons, fmt.Sprintf("confidence %.2f below %.2f: notify and wait", in.Confidence, confidenceFloor))
			metrics.SafetyDemotions.WithLabelValues("confidence_gate").Inc()
		}
	}

	if mode != models.ModeReadOnly && mode != models.ModeApprovalRequired {
		if ok, reason := g.cooldown.Allow(in.ResourceID, s.ID, g.now()); !ok {
			mode = models.ModeReadOnly
			reasons = append(reasons, reason)
			metrics.SafetyDemotions.WithLabelValues("cooldown").Inc()
		}
	}

	dryRun := false
	if executable(mode) && g.dryRunFirst() && !g.hasExecuted(in.ResourceID) {
		dryRun = true
		reasons = append(reasons, "first execution on this resource runs dry")
	}

	return models.SafetyDecision{
		SOPID:   s.ID,
		Risk:    risk,
		Mode:    mode,
		DryRun:  dryRun,
		Reasons: reasons,
	}
}

// MarkExecuted records that a resource has been executed on, live or
// dry. Subsequent executions run live.
func (g *Gatekeeper) MarkExecuted(resourceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executed[resourceID] = true
}

func (g *Gatekeeper) hasExecuted(resourceID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.executed[resourceID]
}

func (g *Gatekeeper) dryRunFirst() bool {
	return g.cfg.DryRunFirst
}

// riskOf is the max of the declared class and every step action's
// registered class. Unregistered actions rate as irreversible so a
// typo cannot slip under the approval gate.
func (g *Gatekeeper) riskOf(s *models.SOP) models.RiskLevel {
	risk := classRisk(s.ActionClass)
	for _, step := range s.Steps {
		if !step.AutoExecutable {
			continue
		}
		class, ok := g.actions.Class(step.Action)
		if !ok {
			if risk < models.RiskIrreversible {
				risk = models.RiskIrreversible
			}
			continue
		}
		if r := classRisk(class); r > risk {
			risk = r
		}
	}
	return risk
}

func classRisk(class string) models.RiskLevel {
	switch class {
	case models.ActionClassReadOnly:
		return models.RiskReadOnly
	case models.ActionClassIdempotentWrite:
		return models.RiskIdempotentWrite
	case models.ActionClassReversibleDisruptive:
		return models.RiskReversibleDisruptive
	default:
		return models.RiskIrreversible
	}
}

func baseMode(r models.RiskLevel) models.ExecutionMode {
	switch r {
	case models.RiskReadOnly, models.RiskIdempotentWrite:
		return models.ModeAuto
	case models.RiskReversibleDisruptive:
		return models.ModeNotifyWait
	default:
		return models.ModeApprovalRequired
	}
}

func hasAutoSteps(s *models.SOP) bool {
	for _, step := range s.Steps {
		if step.AutoExecutable {
			return true
		}
	}
	return false
}

func executable(mode models.ExecutionMode) bool {
	switch mode {
	case models.ModeAuto, models.ModeNotifyWait, models.ModeApprovalRequired:
		return true
	}
	return false
}
