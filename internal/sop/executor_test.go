package sop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	reg := testRegistry(t)
	require.NoError(t, reg.Register("flaky-restart", models.ActionClassReversibleDisruptive,
		func(ctx context.Context, req ActionRequest) (string, error) {
			return "", errors.New("deployment not found")
		}))
	require.NoError(t, reg.Register("broken-rollback", models.ActionClassReversibleDisruptive,
		func(ctx context.Context, req ActionRequest) (string, error) {
			return "", errors.New("previous revision missing")
		}))
	return NewExecutor(reg, logger.Nop())
}

func restartSOP() *models.SOP {
	return &models.SOP{
		ID:          "rollout-restart",
		Title:       "Rolling restart",
		ActionClass: models.ActionClassReversibleDisruptive,
		Steps: []models.SOPStep{
			{Name: "Capture diagnostics", Action: "collect-diagnostics", AutoExecutable: true},
			{Name: "Rolling restart", Action: "rollout-restart", AutoExecutable: true,
				Rollback: &models.RollbackSpec{Action: "undo-rollout"}},
		},
	}
}

func TestExecutor_RunsStepsInOrder(t *testing.T) {
	e := newTestExecutor(t)

	res := e.Execute(context.Background(), restartSOP(), "deploy/checkout", "inc-1", false)
	assert.Equal(t, models.ExecutionSucceeded, res.Status)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, "inc-1", res.IncidentID)
	assert.False(t, res.DryRun)
	assert.False(t, res.FinishedAt.IsZero())

	require.Len(t, res.Steps, 2)
	assert.Equal(t, 0, res.Steps[0].Index)
	assert.Equal(t, 1, res.Steps[1].Index)
	assert.Equal(t, models.StepSucceeded, res.Steps[0].Status)
	assert.Equal(t, models.StepSucceeded, res.Steps[1].Status)
	assert.Equal(t, "collect diagnostics from deploy/checkout", res.Steps[0].Output)
	assert.Equal(t, "rolling-restart deploy/checkout", res.Steps[1].Output)
}

func TestExecutor_DryRunReportsWithoutMutating(t *testing.T) {
	reg := testRegistry(t)
	var seenParams map[string]interface{}
	require.NoError(t, reg.Register("capture-params", models.ActionClassIdempotentWrite,
		func(ctx context.Context, req ActionRequest) (string, error) {
			seenParams = req.Params
			return "ok", nil
		}))
	e := NewExecutor(reg, logger.Nop())

	s := &models.SOP{
		ID: "dry-probe", Title: "Dry probe", ActionClass: models.ActionClassIdempotentWrite,
		Steps: []models.SOPStep{
			{Name: "Scale", Action: "ec2-scale-up", Params: map[string]interface{}{"increment": 1}, AutoExecutable: true},
			{Name: "Capture", Action: "capture-params", Params: map[string]interface{}{"increment": 1}, AutoExecutable: true},
		},
	}
	res := e.Execute(context.Background(), s, "i-0abc123", "inc-2", true)
	assert.Equal(t, models.ExecutionSucceeded, res.Status)
	assert.True(t, res.DryRun)
	assert.Equal(t, "dry-run: would scale up i-0abc123", res.Steps[0].Output)
	assert.True(t, res.Steps[0].DryRun)

	require.NotNil(t, seenParams)
	assert.Equal(t, true, seenParams["dry"])
	assert.Equal(t, 1, seenParams["increment"])
}

func TestExecutor_DryRunSkipsManualSteps(t *testing.T) {
	e := newTestExecutor(t)
	s := &models.SOP{
		ID: "mixed", Title: "Mixed", ActionClass: models.ActionClassReversibleDisruptive,
		Steps: []models.SOPStep{
			{Name: "Look", Action: "describe-resource", AutoExecutable: true},
			{Name: "Page a human", Action: "check-image-registry", AutoExecutable: false},
			{Name: "Restart", Action: "rollout-restart", AutoExecutable: true},
		},
	}

	res := e.Execute(context.Background(), s, "deploy/checkout", "inc-3", true)
	assert.Equal(t, models.ExecutionSucceeded, res.Status)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, models.StepSkipped, res.Steps[1].Status)
	assert.Contains(t, res.Steps[1].Output, "manual step")
}

func TestExecutor_ParksOnManualStepAndResumes(t *testing.T) {
	e := newTestExecutor(t)
	s := &models.SOP{
		ID: "mixed", Title: "Mixed", ActionClass: models.ActionClassReversibleDisruptive,
		Steps: []models.SOPStep{
			{Name: "Look", Action: "describe-resource", AutoExecutable: true},
			{Name: "Swap the cable", Action: "describe-resource", AutoExecutable: false},
			{Name: "Restart", Action: "rollout-restart", AutoExecutable: true},
		},
	}

	res := e.Execute(context.Background(), s, "node/worker-3", "inc-4", false)
	assert.Equal(t, models.ExecutionWaiting, res.Status)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, models.StepPending, res.Steps[1].Status)

	done, err := e.CompleteStep(context.Background(), res.ExecutionID, 1, models.StepSucceeded, "cable swapped")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, done.Status)
	require.Len(t, done.Steps, 3)
	assert.Equal(t, models.StepSucceeded, done.Steps[1].Status)
	assert.Equal(t, "cable swapped", done.Steps[1].Output)
	assert.Equal(t, models.StepSucceeded, done.Steps[2].Status)

	// The parked slot is consumed.
	_, err = e.CompleteStep(context.Background(), res.ExecutionID, 1, models.StepSucceeded, "again")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestExecutor_ManualStepFailureHalts(t *testing.T) {
	e := newTestExecutor(t)
	s := &models.SOP{
		ID: "manual-fail", Title: "Manual fail", ActionClass: models.ActionClassReversibleDisruptive,
		Steps: []models.SOPStep{
			{Name: "Swap the cable", Action: "describe-resource", AutoExecutable: false},
			{Name: "Restart", Action: "rollout-restart", AutoExecutable: true},
		},
	}

	res := e.Execute(context.Background(), s, "node/worker-3", "inc-5", false)
	require.Equal(t, models.ExecutionWaiting, res.Status)

	done, err := e.CompleteStep(context.Background(), res.ExecutionID, 0, models.StepFailed, "no spare cable")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, done.Status)
	assert.Contains(t, done.Error, "no spare cable")
	require.Len(t, done.Steps, 2)
	assert.Equal(t, models.StepFailed, done.Steps[0].Status)
	assert.Equal(t, models.StepSkipped, done.Steps[1].Status)
}

func TestExecutor_FailedStepRollsBack(t *testing.T) {
	e := newTestExecutor(t)
	s := &models.SOP{
		ID: "flaky", Title: "Flaky", ActionClass: models.ActionClassReversibleDisruptive,
		Steps: []models.SOPStep{
			{Name: "Look", Action: "describe-resource", AutoExecutable: true},
			{Name: "Restart", Action: "flaky-restart", AutoExecutable: true,
				Rollback: &models.RollbackSpec{Action: "undo-rollout"}},
			{Name: "Verify", Action: "describe-resource", AutoExecutable: true},
		},
	}

	res := e.Execute(context.Background(), s, "deploy/checkout", "inc-6", false)
	assert.Equal(t, models.ExecutionRolledBack, res.Status)
	assert.Contains(t, res.Error, "rolled back")

	require.Len(t, res.Steps, 4)
	assert.Equal(t, models.StepFailed, res.Steps[1].Status)
	assert.Equal(t, models.StepRolledBack, res.Steps[2].Status)
	assert.Equal(t, "undo-rollout", res.Steps[2].Action)
	assert.Equal(t, 1, res.Steps[2].Index)
	assert.Equal(t, models.StepSkipped, res.Steps[3].Status)
	assert.Equal(t, 2, res.Steps[3].Index)
}

func TestExecutor_RollbackFailureEscalates(t *testing.T) {
	e := newTestExecutor(t)
	s := &models.SOP{
		ID: "doomed", Title: "Doomed", ActionClass: models.ActionClassReversibleDisruptive,
		Steps: []models.SOPStep{
			{Name: "Restart", Action: "flaky-restart", AutoExecutable: true,
				Rollback: &models.RollbackSpec{Action: "broken-rollback"}},
			{Name: "Verify", Action: "describe-resource", AutoExecutable: true},
		},
	}

	res := e.Execute(context.Background(), s, "deploy/checkout", "inc-7", false)
	assert.Equal(t, models.ExecutionRollbackFailed, res.Status)
	assert.Contains(t, res.Error, "rollback of step 0")

	require.Len(t, res.Steps, 3)
	assert.Equal(t, models.StepFailed, res.Steps[0].Status)
	assert.Equal(t, models.StepFailed, res.Steps[1].Status)
	assert.Equal(t, models.StepSkipped, res.Steps[2].Status)
}

func TestExecutor_StepWithoutRollbackJustFails(t *testing.T) {
	e := newTestExecutor(t)
	s := &models.SOP{
		ID: "fragile", Title: "Fragile", ActionClass: models.ActionClassReversibleDisruptive,
		Steps: []models.SOPStep{
			{Name: "Restart", Action: "flaky-restart", AutoExecutable: true},
			{Name: "Verify", Action: "describe-resource", AutoExecutable: true},
		},
	}

	res := e.Execute(context.Background(), s, "deploy/checkout", "inc-8", false)
	assert.Equal(t, models.ExecutionFailed, res.Status)
	assert.Contains(t, res.Error, "deployment not found")
	require.Len(t, res.Steps, 2)
	assert.Equal(t, models.StepSkipped, res.Steps[1].Status)
}

func TestExecutor_UnknownActionFailsStep(t *testing.T) {
	e := newTestExecutor(t)
	s := &models.SOP{
		ID: "typo", Title: "Typo", ActionClass: models.ActionClassReadOnly,
		Steps: []models.SOPStep{
			{Name: "Look", Action: "descrbe-resource", AutoExecutable: true},
		},
	}

	res := e.Execute(context.Background(), s, "pod/x", "inc-9", false)
	assert.Equal(t, models.ExecutionFailed, res.Status)
	assert.Contains(t, res.Steps[0].Error, "unknown_action")
}

func TestExecutor_CompleteStepValidation(t *testing.T) {
	e := newTestExecutor(t)
	s := &models.SOP{
		ID: "mixed", Title: "Mixed", ActionClass: models.ActionClassReadOnly,
		Steps: []models.SOPStep{
			{Name: "Swap the cable", Action: "describe-resource", AutoExecutable: false},
		},
	}
	res := e.Execute(context.Background(), s, "node/worker-3", "inc-10", false)
	require.Equal(t, models.ExecutionWaiting, res.Status)

	_, err := e.CompleteStep(context.Background(), res.ExecutionID, 0, models.StepSkipped, "")
	assert.Error(t, err)

	_, err = e.CompleteStep(context.Background(), res.ExecutionID, 5, models.StepSucceeded, "")
	assert.ErrorIs(t, err, ErrWrongStep)

	_, err = e.CompleteStep(context.Background(), "no-such-execution", 0, models.StepSucceeded, "")
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	// The waiting execution is still resumable after bad calls.
	done, err := e.CompleteStep(context.Background(), res.ExecutionID, 0, models.StepSucceeded, "done")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, done.Status)
}

func TestExecutor_CancelledContextFailsStep(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Execute(ctx, restartSOP(), "deploy/checkout", "inc-11", false)
	assert.Equal(t, models.ExecutionFailed, res.Status)
	assert.Equal(t, models.StepFailed, res.Steps[0].Status)
}
