package models

import "time"

// RiskLevel classifies how dangerous a remediation is. Higher is riskier.
type RiskLevel int

const (
	RiskReadOnly             RiskLevel = iota + 1 // L1: inspection only
	RiskIdempotentWrite                           // L2: safe to repeat
	RiskReversibleDisruptive                      // L3: disruptive but undoable
	RiskIrreversible                              // L4: irreversible or security-sensitive
)

func (r RiskLevel) String() string {
	switch r {
	case RiskReadOnly:
		return "L1"
	case RiskIdempotentWrite:
		return "L2"
	case RiskReversibleDisruptive:
		return "L3"
	case RiskIrreversible:
		return "L4"
	default:
		return "L?"
	}
}

// Action classes declared on SOPs; they map onto risk levels.
const (
	ActionClassReadOnly             = "read_only"
	ActionClassIdempotentWrite      = "idempotent_write"
	ActionClassReversibleDisruptive = "reversible_disruptive"
	ActionClassIrreversible         = "irreversible"
)

// ExecutionMode is the gate decision for a candidate SOP.
type ExecutionMode string

const (
	ModeAuto             ExecutionMode = "auto"
	ModeNotifyWait       ExecutionMode = "notify_wait"
	ModeApprovalRequired ExecutionMode = "approval_required"
	ModeReadOnly         ExecutionMode = "read_only"
)

// Stricter reports whether a is more restrictive than b.
func (a ExecutionMode) Stricter(b ExecutionMode) bool {
	return a.restrictiveness() > b.restrictiveness()
}

func (a ExecutionMode) restrictiveness() int {
	switch a {
	case ModeReadOnly:
		return 3
	case ModeApprovalRequired:
		return 2
	case ModeNotifyWait:
		return 1
	default:
		return 0
	}
}

// RollbackSpec undoes one step.
type RollbackSpec struct {
	Action string                 `json:"action" yaml:"action" validate:"required"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
}

// SOPStep is one step of a runbook. Non-auto steps park the execution until
// an operator completes them out of band.
type SOPStep struct {
	Name           string                 `json:"name" yaml:"name" validate:"required"`
	Action         string                 `json:"action" yaml:"action" validate:"required"`
	Params         map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	AutoExecutable bool                   `json:"auto_executable" yaml:"auto_executable"`
	Rollback       *RollbackSpec          `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

// SOPTriggers declare what a runbook applies to.
type SOPTriggers struct {
	PatternIDs []string `json:"pattern_ids,omitempty" yaml:"pattern_ids,omitempty"`
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Keywords   []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Services   []string `json:"services,omitempty" yaml:"services,omitempty"`
}

// SOP is a declarative runbook from the catalog.
type SOP struct {
	ID          string      `json:"id" yaml:"id" validate:"required"`
	Title       string      `json:"title" yaml:"title" validate:"required"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	ActionClass string      `json:"action_class" yaml:"action_class" validate:"required,oneof=read_only idempotent_write reversible_disruptive irreversible"`
	Steps       []SOPStep   `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
	Triggers    SOPTriggers `json:"triggers" yaml:"triggers"`
	SuccessRate float64     `json:"success_rate" yaml:"success_rate" validate:"gte=0,lte=1"`
	Executions  int         `json:"executions" yaml:"executions"`
	Tags        []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// SOPCandidate is a matched runbook scored against an RCA result.
type SOPCandidate struct {
	SOP             *SOP     `json:"sop"`
	MatchConfidence float64  `json:"match_confidence"`
	CombinedScore   float64  `json:"combined_score"` // success_rate x match confidence
	Reasons         []string `json:"reasons,omitempty"`
}

// SafetyDecision is the gate verdict for one candidate.
type SafetyDecision struct {
	SOPID   string        `json:"sop_id"`
	Risk    RiskLevel     `json:"risk"`
	Mode    ExecutionMode `json:"mode"`
	DryRun  bool          `json:"dry_run"`
	Reasons []string      `json:"reasons,omitempty"`
}

// Step and execution statuses.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepRunning    StepStatus = "running"
	StepSucceeded  StepStatus = "succeeded"
	StepFailed     StepStatus = "failed"
	StepRolledBack StepStatus = "rolled_back"
	StepSkipped    StepStatus = "skipped"
	StepWaiting    StepStatus = "waiting"
)

const (
	ExecutionSucceeded      = "succeeded"
	ExecutionFailed         = "failed"
	ExecutionRolledBack     = "rolled_back"
	ExecutionRollbackFailed = "rollback_failed"
	ExecutionWaiting        = "waiting"
)

// StepResult is the per-step execution record.
type StepResult struct {
	Index      int        `json:"index"`
	Name       string     `json:"name"`
	Action     string     `json:"action"`
	Status     StepStatus `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	DryRun     bool       `json:"dry_run,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// ExecutionResult is the outcome of running one SOP.
type ExecutionResult struct {
	ExecutionID string       `json:"execution_id"`
	SOPID       string       `json:"sop_id"`
	IncidentID  string       `json:"incident_id"`
	ResourceID  string       `json:"resource_id,omitempty"`
	Status      string       `json:"status"`
	DryRun      bool         `json:"dry_run"`
	Steps       []StepResult `json:"steps"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}
