package models

import "time"

// Notification types fanned out to configured integrations.
const (
	NotifyApprovalRequest = "approval_request"
	NotifyWaitAnnounce    = "notify_wait"
	NotifyEscalation      = "escalation"
	NotifySummary         = "incident_summary"
)

type Notification struct {
	Type        string            `json:"type"`
	Severity    Severity          `json:"severity"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	IncidentID  string            `json:"incident_id,omitempty"`
	ResourceIDs []string          `json:"resource_ids,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
