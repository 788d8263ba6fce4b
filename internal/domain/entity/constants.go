package entity

// Transaction types routed through approval
const (
	TxnTypePurchaseOrder = "purchase_order"
	TxnTypeVendorBill    = "vendor_bill"
	TxnTypeSalesOrder    = "sales_order"
	TxnTypeInvoice       = "invoice"
)

// IsValidTransactionType reports whether t is a routable transaction type
func IsValidTransactionType(t string) bool {
	switch t {
	case TxnTypePurchaseOrder, TxnTypeVendorBill, TxnTypeSalesOrder, TxnTypeInvoice:
		return true
	default:
		return false
	}
}

// Approval status constants stored on the business document
const (
	ApprovalStatusDraft             = "draft"
	ApprovalStatusPendingSubmission = "pending_submission"
	ApprovalStatusPendingApproval   = "pending_approval"
	ApprovalStatusApproved          = "approved"
	ApprovalStatusRejected          = "rejected"
	ApprovalStatusRecalled          = "recalled"
)

// Step execution modes
const (
	ExecutionSerial      = "serial"
	ExecutionParallelAll = "parallel_all"
	ExecutionParallelAny = "parallel_any"
)

// IsValidExecutionMode reports whether m is a known execution mode
func IsValidExecutionMode(m string) bool {
	return m == ExecutionSerial || m == ExecutionParallelAll || m == ExecutionParallelAny
}

// Approver specification kinds
const (
	ApproverTypeIndividual = "individual"
	ApproverTypeRole       = "role"
)

// Task status constants
const (
	TaskStatusPending   = "pending"
	TaskStatusApproved  = "approved"
	TaskStatusRejected  = "rejected"
	TaskStatusCancelled = "cancelled"
	TaskStatusExpired   = "expired"
)

// History action constants
const (
	ActionSubmit      = "submit"
	ActionAutoApprove = "auto_approve"
	ActionApprove     = "approve"
	ActionReject      = "reject"
	ActionRecall      = "recall"
	ActionResubmit    = "resubmit"
	ActionDelegate    = "delegate"
	ActionEscalate    = "escalate"
	ActionCancel      = "cancel"
	ActionComplete    = "complete"
)

// Action methods
const (
	MethodUI    = "ui"
	MethodEmail = "email"
	MethodBulk  = "bulk"
	MethodAPI   = "api"
)

// IsValidMethod reports whether m is a known action method
func IsValidMethod(m string) bool {
	switch m {
	case MethodUI, MethodEmail, MethodBulk, MethodAPI:
		return true
	default:
		return false
	}
}
