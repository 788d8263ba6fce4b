package entity

import "time"

// TransactionRef identifies a business document
type TransactionRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Transaction is the approval-relevant view of a business document
// (purchase order, vendor bill, sales order, invoice).
type Transaction struct {
	Type string `json:"type"`
	ID   string `json:"id"`

	Subsidiary    string   `json:"subsidiary"`
	Department    string   `json:"department,omitempty"`
	Location      string   `json:"location,omitempty"`
	Currency      string   `json:"currency,omitempty"`
	Amount        float64  `json:"amount"`
	RiskScore     *float64 `json:"risk_score,omitempty"`
	ExceptionType string   `json:"exception_type,omitempty"`
	Customer      string   `json:"customer,omitempty"`
	SalesRep      string   `json:"sales_rep,omitempty"`
	Project       string   `json:"project,omitempty"`
	Class         string   `json:"class,omitempty"`
	CustomSegment string   `json:"custom_segment,omitempty"`

	CreatedBy   string `json:"created_by"`
	RequestedBy string `json:"requested_by,omitempty"`

	Approval ApprovalState `json:"approval"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ref returns the transaction reference
func (t *Transaction) Ref() TransactionRef {
	return TransactionRef{Type: t.Type, ID: t.ID}
}

// Requester returns the declared requester, falling back to the creator
func (t *Transaction) Requester() string {
	if t.RequestedBy != "" {
		return t.RequestedBy
	}
	return t.CreatedBy
}

// IsOwner reports whether userID created or requested the transaction
func (t *Transaction) IsOwner(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == t.CreatedBy || userID == t.RequestedBy
}

// MatchContext builds the rule-matching context from the document fields
func (t *Transaction) MatchContext() MatchContext {
	return MatchContext{
		TransactionType: t.Type,
		Subsidiary:      t.Subsidiary,
		Amount:          t.Amount,
		Department:      t.Department,
		Location:        t.Location,
		Currency:        t.Currency,
		RiskScore:       t.RiskScore,
		ExceptionType:   t.ExceptionType,
		Customer:        t.Customer,
		SalesRep:        t.SalesRep,
		Project:         t.Project,
		Class:           t.Class,
		CustomSegment:   t.CustomSegment,
	}
}

// ApprovalState holds the approval fields written back onto the document.
// Only the workflow controller and path runner mutate it.
type ApprovalState struct {
	Status           string `json:"status"`
	CurrentStep      *int   `json:"current_step,omitempty"`
	CurrentApprover  string `json:"current_approver,omitempty"`
	MatchedRuleID    *int64 `json:"matched_rule_id,omitempty"`
	MatchedPathID    *int64 `json:"matched_path_id,omitempty"`
	MatchExplanation string `json:"match_explanation,omitempty"`
}

// Cleared returns a state with the given status and routing fields reset
func Cleared(status string) ApprovalState {
	return ApprovalState{Status: status}
}
