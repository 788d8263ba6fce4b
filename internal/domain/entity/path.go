package entity

import "time"

// ApprovalPath is an ordered, named sequence of steps.
// Edits affect future routings only; tasks keep their own step references.
type ApprovalPath struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	SLAHours int        `json:"sla_hours"`
	Active   bool       `json:"active"`
	Steps    []PathStep `json:"steps"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveSteps returns the path's active steps in ascending sequence order.
// Steps are kept sorted by the repository.
func (p *ApprovalPath) ActiveSteps() []PathStep {
	steps := make([]PathStep, 0, len(p.Steps))
	for _, s := range p.Steps {
		if s.Active {
			steps = append(steps, s)
		}
	}
	return steps
}

// Usable reports whether the path can be instantiated
func (p *ApprovalPath) Usable() bool {
	return p != nil && p.Active && len(p.ActiveSteps()) > 0
}

// NextStepAfter returns the lowest active step with a sequence strictly greater than seq
func (p *ApprovalPath) NextStepAfter(seq int) (PathStep, bool) {
	var next PathStep
	found := false
	for _, s := range p.Steps {
		if !s.Active || s.Sequence <= seq {
			continue
		}
		if !found || s.Sequence < next.Sequence {
			next = s
			found = true
		}
	}
	return next, found
}

// PathStep is one stage of a path. Exactly one of ApproverID and Role is set,
// according to ApproverType.
type PathStep struct {
	ID              int64  `json:"id"`
	PathID          int64  `json:"path_id"`
	Sequence        int    `json:"sequence"`
	Name            string `json:"name"`
	ApproverType    string `json:"approver_type"`
	ApproverID      string `json:"approver_id,omitempty"`
	Role            string `json:"role,omitempty"`
	ExecutionMode   string `json:"execution_mode"`
	CommentRequired bool   `json:"comment_required"`
	SLAHours        int    `json:"sla_hours"`
	Active          bool   `json:"active"`
}
