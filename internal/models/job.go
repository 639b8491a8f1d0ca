package models

import (
	"time"
)

// Status enumerates job lifecycle states persisted in the status document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition enforces pending -> processing -> {completed|failed}.
// Re-entering processing is allowed so a redelivered job can be driven again.
func CanTransition(from, to Status) bool {
	switch from {
	case "", StatusPending:
		return to == StatusPending || to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Job mirrors jobs/{id}/status.json.
type Job struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	TemplateName string     `json:"template_name,omitempty"`
}

// JobUpdate is a partial status document. Nil fields are left untouched by a merge.
type JobUpdate struct {
	ID           *string    `json:"id,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	TemplateName *string    `json:"template_name,omitempty"`
}

// AuditEvent is one lifecycle row in the audit log.
type AuditEvent struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
