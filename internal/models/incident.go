package models

import "time"

type IncidentStatus string

const (
	IncidentCreated          IncidentStatus = "created"
	IncidentCollecting       IncidentStatus = "collecting"
	IncidentAnalysed         IncidentStatus = "analysed"
	IncidentAwaitingApproval IncidentStatus = "awaiting_approval"
	IncidentAwaitingStep     IncidentStatus = "awaiting_step"
	IncidentExecuted         IncidentStatus = "executed"
	IncidentRejected         IncidentStatus = "rejected"
	IncidentFailed           IncidentStatus = "failed"
)

// Terminal reports whether no further transition is expected.
func (s IncidentStatus) Terminal() bool {
	switch s {
	case IncidentAnalysed, IncidentExecuted, IncidentRejected, IncidentFailed:
		return true
	default:
		return false
	}
}

// Pipeline stage names, in execution order.
const (
	StageCollect = "collect"
	StageAnalyse = "analyse"
	StageMatch   = "match"
	StageGate    = "gate"
	StageLearn   = "learn"
)

// StageOrder is the canonical stage sequence.
var StageOrder = []string{StageCollect, StageAnalyse, StageMatch, StageGate, StageLearn}

// StageTiming records wall-clock duration of one stage. Kept as an ordered
// slice so the record preserves the execution sequence.
type StageTiming struct {
	Stage  string `json:"stage"`
	Millis int64  `json:"ms"`
}

// IncidentRecord is the durable audit record of one pipeline run.
type IncidentRecord struct {
	ID              string                 `json:"id"`
	Trigger         TriggerType            `json:"trigger"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	Status          IncidentStatus         `json:"status"`
	ResourceIDs     []string               `json:"resource_ids,omitempty"`
	DetectID        string                 `json:"detect_id,omitempty"`
	Detect          *DetectResult          `json:"detect,omitempty"`
	RCA             *RCAResult             `json:"rca,omitempty"`
	Candidates      []SOPCandidate         `json:"candidates,omitempty"`
	Safety          *SafetyDecision        `json:"safety,omitempty"`
	Execution       *ExecutionResult       `json:"execution,omitempty"`
	ApprovalTokenID string                 `json:"approval_token_id,omitempty"`
	StageTimings    []StageTiming          `json:"stage_timings"`
	Notes           string                 `json:"notes,omitempty"`
	FailureReason   string                 `json:"failure_reason,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// RecordStage appends a stage timing, preserving order of execution.
func (r *IncidentRecord) RecordStage(stage string, d time.Duration) {
	r.StageTimings = append(r.StageTimings, StageTiming{Stage: stage, Millis: d.Milliseconds()})
}

// StageNames returns the recorded stages in order.
func (r *IncidentRecord) StageNames() []string {
	names := make([]string, 0, len(r.StageTimings))
	for _, st := range r.StageTimings {
		names = append(names, st.Stage)
	}
	return names
}
