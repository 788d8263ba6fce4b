package event

// Type identifies the type of domain event
type Type string

const (
	TypeTaskCreated         Type = "task.created"
	TypeTaskReminder        Type = "task.reminder"
	TypeTaskEscalated       Type = "task.escalated"
	TypeTransactionApproved Type = "transaction.approved"
	TypeTransactionRejected Type = "transaction.rejected"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeTaskCreated,
		TypeTaskReminder,
		TypeTaskEscalated,
		TypeTransactionApproved,
		TypeTransactionRejected:
		return true
	default:
		return false
	}
}
