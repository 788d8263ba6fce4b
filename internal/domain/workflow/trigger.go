package workflow

// Trigger represents an action that can cause a state transition
type Trigger string

const (
	TriggerSubmit      Trigger = "SUBMIT"
	TriggerAutoApprove Trigger = "AUTO_APPROVE"
	TriggerApprove     Trigger = "APPROVE"
	TriggerReject      Trigger = "REJECT"
	TriggerRecall      Trigger = "RECALL"
	TriggerResubmit    Trigger = "RESUBMIT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
