package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-routing/internal/domain/entity"
)

// NotificationSink delivers workflow notifications. Delivery is
// best-effort: callers log failures and never roll back on them.
type NotificationSink interface {
	SendApprovalRequest(ctx context.Context, task *entity.ApprovalTask, txn *entity.Transaction) error
	SendReminder(ctx context.Context, task *entity.ApprovalTask, txn *entity.Transaction) error
	SendEscalation(ctx context.Context, task *entity.ApprovalTask, txn *entity.Transaction) error
	SendApprovedNotification(ctx context.Context, txn *entity.Transaction) error
	SendRejectedNotification(ctx context.Context, txn *entity.Transaction, actorID, comment string) error
}

// IssuedToken is an out-of-band approval token and its expiry
type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenIssuer issues tokens for email approval links
type TokenIssuer interface {
	Generate() IssuedToken
	Refresh(ctx context.Context, taskID int64) (IssuedToken, error)
	Invalidate(ctx context.Context, taskID int64) error
}

// Actor is the caller of an action, supplied per call
type Actor struct {
	ID         string
	Privileged bool
}

// Metrics records workflow outcomes for monitoring
type Metrics interface {
	RuleMatched(txnType string, fallback bool)
	RuleNotMatched(txnType string)
	StepStalled(txnType string, pathID int64, sequence int)
	TasksCreated(mode string, count int)
	ActionCompleted(action string, success bool)
}
