package entity

import "time"

// DecisionRule is a criteria tuple evaluated against a transaction.
// Empty sets and nil bounds are wildcards: a rule never excludes a
// transaction because a criterion is absent.
type DecisionRule struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	TransactionType string `json:"transaction_type"`

	Subsidiaries []string `json:"subsidiaries,omitempty"`
	Departments  []string `json:"departments,omitempty"`
	Locations    []string `json:"locations,omitempty"`

	// Amount range, inclusive on both ends. nil MinAmount means 0,
	// nil MaxAmount means unbounded.
	MinAmount *float64 `json:"min_amount,omitempty"`
	MaxAmount *float64 `json:"max_amount,omitempty"`
	Currency  string   `json:"currency,omitempty"`

	RiskMin *float64 `json:"risk_min,omitempty"`
	RiskMax *float64 `json:"risk_max,omitempty"`

	ExceptionTypes []string `json:"exception_types,omitempty"`
	Customers      []string `json:"customers,omitempty"`
	SalesReps      []string `json:"sales_reps,omitempty"`
	Projects       []string `json:"projects,omitempty"`
	Classes        []string `json:"classes,omitempty"`
	CustomSegments []string `json:"custom_segments,omitempty"`

	// Priority breaks specificity ties; lower wins.
	Priority int `json:"priority"`

	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Active        bool       `json:"active"`

	PathID int64 `json:"path_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveOn reports whether day falls inside the rule's effective window.
// Comparison is by calendar date; a nil bound is open.
func (r *DecisionRule) EffectiveOn(day time.Time) bool {
	d := DateOnly(day)
	if r.EffectiveFrom != nil && d.Before(DateOnly(*r.EffectiveFrom)) {
		return false
	}
	if r.EffectiveTo != nil && d.After(DateOnly(*r.EffectiveTo)) {
		return false
	}
	return true
}

// MatchContext carries the transaction attributes a rule is evaluated against
type MatchContext struct {
	TransactionType string   `json:"transaction_type"`
	Subsidiary      string   `json:"subsidiary"`
	Amount          float64  `json:"amount"`
	Department      string   `json:"department,omitempty"`
	Location        string   `json:"location,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	RiskScore       *float64 `json:"risk_score,omitempty"`
	ExceptionType   string   `json:"exception_type,omitempty"`
	Customer        string   `json:"customer,omitempty"`
	SalesRep        string   `json:"sales_rep,omitempty"`
	Project         string   `json:"project,omitempty"`
	Class           string   `json:"class,omitempty"`
	CustomSegment   string   `json:"custom_segment,omitempty"`
}

// DateOnly truncates t to midnight UTC of its calendar date
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
