package entity

import "time"

// ApprovalHistory is one append-only audit entry. Entries are never
// updated or deleted.
type ApprovalHistory struct {
	ID               int64     `json:"id"`
	TransactionType  string    `json:"transaction_type"`
	TransactionID    string    `json:"transaction_id"`
	TaskID           *int64    `json:"task_id,omitempty"`
	Sequence         *int      `json:"sequence,omitempty"`
	Action           string    `json:"action"`
	ActorID          string    `json:"actor_id"`
	ActingApproverID string    `json:"acting_approver_id,omitempty"`
	PreviousStatus   string    `json:"previous_status,omitempty"`
	NewStatus        string    `json:"new_status,omitempty"`
	Comment          string    `json:"comment,omitempty"`
	Method           string    `json:"method"`
	Timestamp        time.Time `json:"timestamp"`
}
