package sop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

var (
	// ErrExecutionNotFound means no parked execution matches the id.
	ErrExecutionNotFound = errors.New("no execution waiting with that id")

	// ErrWrongStep means CompleteStep named a step other than the one
	// the execution is parked on.
	ErrWrongStep = errors.New("execution is not waiting on that step")
)

// Executor runs a runbook's steps strictly in order. Auto-executable
// steps dispatch through the action registry; manual steps park the
// execution until CompleteStep reports the operator's outcome. A failed
// step triggers its declared rollback, and the runbook halts either
// way: remaining steps are skipped, never reordered or retried.
type Executor struct {
	actions *ActionRegistry
	logger  logger.Logger
	now     func() time.Time

	mu     sync.Mutex
	parked map[string]*parkedExecution
}

// parkedExecution is an in-flight run stopped at a manual step. State
// is in-process; a restart abandons parked runs and the incident record
// keeps the last persisted snapshot.
type parkedExecution struct {
	sop        *models.SOP
	result     *models.ExecutionResult
	stepIndex  int
	resourceID string
	dryRun     bool
}

func NewExecutor(actions *ActionRegistry, log logger.Logger) *Executor {
	return &Executor{
		actions: actions,
		logger:  log,
		now:     time.Now,
		parked:  make(map[string]*parkedExecution),
	}
}

// Execute runs the runbook from the first step. The outcome is encoded
// in the result status: succeeded, failed, rolled_back, rollback_failed
// or waiting when parked on a manual step.
func (e *Executor) Execute(ctx context.Context, s *models.SOP, resourceID, incidentID string, dryRun bool) *models.ExecutionResult {
	res := &models.ExecutionResult{
		ExecutionID: uuid.New().String(),
		SOPID:       s.ID,
		IncidentID:  incidentID,
		ResourceID:  resourceID,
		DryRun:      dryRun,
		StartedAt:   e.now(),
	}
	e.logger.Info("SOP execution started",
		"execution", res.ExecutionID,
		"sop", s.ID,
		"incident", incidentID,
		"resource", resourceID,
		"dry_run", dryRun,
		"steps", len(s.Steps))

	e.runFrom(ctx, s, res, 0, resourceID, dryRun)
	return res
}

// CompleteStep resumes an execution parked on stepIndex with the
// operator's outcome, which must be succeeded or failed. On success the
// run continues with the next step; on failure the step's rollback
// applies and the runbook halts.
func (e *Executor) CompleteStep(ctx context.Context, executionID string, stepIndex int, outcome models.StepStatus, note string) (*models.ExecutionResult, error) {
	if outcome != models.StepSucceeded && outcome != models.StepFailed {
		return nil, fmt.Errorf("outcome must be %s or %s, got %q", models.StepSucceeded, models.StepFailed, outcome)
	}

	e.mu.Lock()
	p, ok := e.parked[executionID]
	if ok && p.stepIndex != stepIndex {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: waiting on step %d, got %d", ErrWrongStep, p.stepIndex, stepIndex)
	}
	delete(e.parked, executionID)
	e.mu.Unlock()
	if !ok {
		return nil, ErrExecutionNotFound
	}

	res := p.result
	step := p.sop.Steps[stepIndex]
	sr := &res.Steps[len(res.Steps)-1]
	sr.Status = outcome
	sr.FinishedAt = e.now()
	if outcome == models.StepSucceeded {
		sr.Output = note
	} else {
		sr.Error = note
	}

	e.logger.Info("Manual step completed",
		"execution", executionID,
		"step", step.Name,
		"outcome", string(outcome))

	if outcome == models.StepFailed {
		e.unwind(ctx, p.sop, res, stepIndex, p.resourceID, p.dryRun)
		return res, nil
	}
	e.runFrom(ctx, p.sop, res, stepIndex+1, p.resourceID, p.dryRun)
	return res, nil
}

func (e *Executor) runFrom(ctx context.Context, s *models.SOP, res *models.ExecutionResult, start int, resourceID string, dryRun bool) {
	for i := start; i < len(s.Steps); i++ {
		step := s.Steps[i]

		if !step.AutoExecutable {
			if dryRun {
				res.Steps = append(res.Steps, models.StepResult{
					Index:      i,
					Name:       step.Name,
					Action:     step.Action,
					Status:     models.StepSkipped,
					Output:     "manual step, skipped in dry run",
					DryRun:     true,
					StartedAt:  e.now(),
					FinishedAt: e.now(),
				})
				continue
			}
			res.Steps = append(res.Steps, models.StepResult{
				Index:     i,
				Name:      step.Name,
				Action:    step.Action,
				Status:    models.StepPending,
				StartedAt: e.now(),
			})
			res.Status = models.ExecutionWaiting
			e.mu.Lock()
			e.parked[res.ExecutionID] = &parkedExecution{
				sop:        s,
				result:     res,
				stepIndex:  i,
				resourceID: resourceID,
				dryRun:     dryRun,
			}
			e.mu.Unlock()
			e.logger.Info("Execution parked on manual step",
				"execution", res.ExecutionID,
				"step", step.Name,
				"index", i)
			return
		}

		sr := e.invokeStep(ctx, i, step.Name, step.Action, step.Params, resourceID, dryRun)
		res.Steps = append(res.Steps, sr)
		if sr.Status == models.StepFailed {
			e.logger.Error("Step failed",
				"execution", res.ExecutionID,
				"sop", s.ID,
				"step", step.Name,
				"error", sr.Error)
			e.unwind(ctx, s, res, i, resourceID, dryRun)
			return
		}
	}

	res.Status = models.ExecutionSucceeded
	res.FinishedAt = e.now()
	e.logger.Info("SOP execution finished",
		"execution", res.ExecutionID,
		"sop", s.ID,
		"status", res.Status,
		"dry_run", res.DryRun)
}

// unwind handles a failed step: invoke its declared rollback if any,
// then skip everything after it.
func (e *Executor) unwind(ctx context.Context, s *models.SOP, res *models.ExecutionResult, failedIdx int, resourceID string, dryRun bool) {
	step := s.Steps[failedIdx]
	failure := res.Steps[len(res.Steps)-1].Error

	switch {
	case step.Rollback == nil:
		res.Status = models.ExecutionFailed
		res.Error = fmt.Sprintf("step %d (%s): %s", failedIdx, step.Name, failure)
	default:
		rb := e.invokeStep(ctx, failedIdx, step.Name+" (rollback)", step.Rollback.Action, step.Rollback.Params, resourceID, dryRun)
		if rb.Status == models.StepSucceeded {
			rb.Status = models.StepRolledBack
			res.Status = models.ExecutionRolledBack
			res.Error = fmt.Sprintf("step %d (%s): %s (rolled back)", failedIdx, step.Name, failure)
		} else {
			res.Status = models.ExecutionRollbackFailed
			res.Error = fmt.Sprintf("rollback of step %d (%s) failed: %s", failedIdx, step.Name, rb.Error)
			e.logger.Error("Rollback failed",
				"execution", res.ExecutionID,
				"sop", s.ID,
				"step", step.Name,
				"error", rb.Error)
		}
		res.Steps = append(res.Steps, rb)
	}

	for i := failedIdx + 1; i < len(s.Steps); i++ {
		res.Steps = append(res.Steps, models.StepResult{
			Index:      i,
			Name:       s.Steps[i].Name,
			Action:     s.Steps[i].Action,
			Status:     models.StepSkipped,
			Output:     "skipped after earlier failure",
			StartedAt:  e.now(),
			FinishedAt: e.now(),
		})
	}
	res.FinishedAt = e.now()
}

func (e *Executor) invokeStep(ctx context.Context, idx int, name, action string, params map[string]interface{}, resourceID string, dryRun bool) models.StepResult {
	sr := models.StepResult{
		Index:     idx,
		Name:      name,
		Action:    action,
		DryRun:    dryRun,
		StartedAt: e.now(),
	}
	out, err := e.actions.Invoke(ctx, ActionRequest{
		Action:     action,
		ResourceID: resourceID,
		Params:     params,
		Dry:        dryRun,
	})
	sr.FinishedAt = e.now()
	if err != nil {
		sr.Status = models.StepFailed
		sr.Error = err.Error()
		return sr
	}
	sr.Status = models.StepSucceeded
	sr.Output = out
	return sr
}
