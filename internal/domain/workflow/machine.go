package workflow

import "context"

// StateMachine represents a state machine that tracks current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is configured for the current state
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error
}

// NewTransactionMachine returns the approval lifecycle of a business document
// positioned at initialState.
func NewTransactionMachine(initialState State) StateMachine {
	b := NewBuilder()

	b.Configure(StateDraft).
		Permit(TriggerSubmit, StatePendingApproval).
		Permit(TriggerAutoApprove, StateApproved)

	// pending_submission and recalled are written by the document system
	// itself; the engine only routes out of them.
	b.Configure(StatePendingSubmission).
		Permit(TriggerSubmit, StatePendingApproval).
		Permit(TriggerAutoApprove, StateApproved)

	b.Configure(StatePendingApproval).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerRecall, StateDraft)

	b.Configure(StateRejected).
		Permit(TriggerResubmit, StateDraft)

	b.Configure(StateRecalled).
		Permit(TriggerResubmit, StateDraft)

	// StateApproved is terminal.

	return b.Build(initialState)
}
