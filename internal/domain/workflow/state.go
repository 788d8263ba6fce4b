package workflow

import "github.com/garyjia/approval-routing/internal/domain/entity"

// State represents a transaction approval status
type State string

const (
	StateDraft             State = entity.ApprovalStatusDraft
	StatePendingSubmission State = entity.ApprovalStatusPendingSubmission
	StatePendingApproval   State = entity.ApprovalStatusPendingApproval
	StateApproved          State = entity.ApprovalStatusApproved
	StateRejected          State = entity.ApprovalStatusRejected
	StateRecalled          State = entity.ApprovalStatusRecalled
)

var validStates = map[State]bool{
	StateDraft:             true,
	StatePendingSubmission: true,
	StatePendingApproval:   true,
	StateApproved:          true,
	StateRejected:          true,
	StateRecalled:          true,
}

// Approved is final. Rejected and recalled documents can only be resubmitted.
var terminalStates = map[State]bool{
	StateApproved: true,
}

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known approval status
func (s State) IsValid() bool {
	return validStates[s]
}

// ParseState converts a stored status into a State. An empty status is
// treated as draft, which is how new documents arrive from the store.
func ParseState(status string) (State, error) {
	if status == "" {
		return StateDraft, nil
	}
	s := State(status)
	if !s.IsValid() {
		return "", ErrInvalidState
	}
	return s, nil
}
