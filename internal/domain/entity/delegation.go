package entity

import "time"

// Delegation substitutes DelegateID for ApproverID between StartDate and
// EndDate inclusive. Blank Subsidiary or TransactionType matches any value.
type Delegation struct {
	ID              int64     `json:"id"`
	ApproverID      string    `json:"approver_id"`
	DelegateID      string    `json:"delegate_id"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	Subsidiary      string    `json:"subsidiary,omitempty"`
	TransactionType string    `json:"transaction_type,omitempty"`
	Active          bool      `json:"active"`
	Reason          string    `json:"reason,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// CoversDate reports whether day falls in [StartDate, EndDate]
func (d *Delegation) CoversDate(day time.Time) bool {
	x := DateOnly(day)
	return !x.Before(DateOnly(d.StartDate)) && !x.After(DateOnly(d.EndDate))
}

// MatchesScope reports whether the delegation applies to the given scope
func (d *Delegation) MatchesScope(subsidiary, txnType string) bool {
	if d.Subsidiary != "" && d.Subsidiary != subsidiary {
		return false
	}
	if d.TransactionType != "" && d.TransactionType != txnType {
		return false
	}
	return true
}

// ScopeOverlaps reports whether some lookup could match both delegations
func (d *Delegation) ScopeOverlaps(other *Delegation) bool {
	subOverlap := d.Subsidiary == "" || other.Subsidiary == "" || d.Subsidiary == other.Subsidiary
	typeOverlap := d.TransactionType == "" || other.TransactionType == "" || d.TransactionType == other.TransactionType
	return subOverlap && typeOverlap
}

// DatesOverlap reports whether the two inclusive date ranges intersect
func (d *Delegation) DatesOverlap(other *Delegation) bool {
	return !DateOnly(d.StartDate).After(DateOnly(other.EndDate)) &&
		!DateOnly(other.StartDate).After(DateOnly(d.EndDate))
}

// DurationDays returns the inclusive length of the delegation in days
func (d *Delegation) DurationDays() int {
	return int(DateOnly(d.EndDate).Sub(DateOnly(d.StartDate)).Hours()/24) + 1
}
