package entity

import "time"

// ApprovalTask is the unit of pending work for one approver on one step.
// Tasks are never deleted; cancelled tasks stay for audit.
type ApprovalTask struct {
	ID              int64  `json:"id"`
	TransactionType string `json:"transaction_type"`
	TransactionID   string `json:"transaction_id"`

	PathID   int64 `json:"path_id"`
	StepID   int64 `json:"step_id"`
	Sequence int   `json:"sequence"`

	// ApproverID is the system-of-record approver. ActingApproverID is set
	// when a delegate (or a privileged override) acts instead.
	ApproverID       string `json:"approver_id"`
	ActingApproverID string `json:"acting_approver_id,omitempty"`

	Status string `json:"status"`

	Token          string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	ReminderCount  int        `json:"reminder_count"`
	LastRemindedAt *time.Time `json:"last_reminded_at,omitempty"`
	Escalated      bool       `json:"escalated"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsPending reports whether the task still awaits action
func (t *ApprovalTask) IsPending() bool {
	return t.Status == TaskStatusPending
}

// NotifyTarget returns who should be notified and is authorized to act
func (t *ApprovalTask) NotifyTarget() string {
	if t.ActingApproverID != "" {
		return t.ActingApproverID
	}
	return t.ApproverID
}

// CanAct reports whether userID is the task's approver or acting approver
func (t *ApprovalTask) CanAct(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == t.ApproverID || userID == t.ActingApproverID
}

// TaskFilter narrows task queries
type TaskFilter struct {
	TransactionType string
	TransactionID   string
	Status          string
	Sequence        *int
	ExcludeTaskID   int64
}
