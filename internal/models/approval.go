package models

import "time"

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalToken gates one L4 (or demoted) execution. Single use: once
// consumed for an execution it cannot authorize another.
type ApprovalToken struct {
	ID            string         `json:"id"`
	IncidentID    string         `json:"incident_id"`
	SOPID         string         `json:"sop_id"`
	ResourceID    string         `json:"resource_id,omitempty"`
	RequestedMode ExecutionMode  `json:"requested_mode"`
	Risk          RiskLevel      `json:"risk"`
	Status        ApprovalStatus `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
	DecidedBy     string         `json:"decided_by,omitempty"`
	ConsumedAt    *time.Time     `json:"consumed_at,omitempty"`
}

func (t *ApprovalToken) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t *ApprovalToken) Consumed() bool {
	return t.ConsumedAt != nil
}
