package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-routing/internal/domain/entity"
)

// RuleRepository defines persistence operations for DecisionRule
type RuleRepository interface {
	Create(ctx context.Context, rule *entity.DecisionRule) error
	GetByID(ctx context.Context, id int64) (*entity.DecisionRule, error)

	// ListActive returns active rules for a transaction type ordered by ID.
	// Effective-window filtering is left to the caller.
	ListActive(ctx context.Context, txnType string) ([]*entity.DecisionRule, error)
}

// PathRepository defines persistence operations for ApprovalPath and its steps
type PathRepository interface {
	Create(ctx context.Context, path *entity.ApprovalPath) error

	// GetByID returns the path with all its steps sorted by sequence, or nil when missing
	GetByID(ctx context.Context, id int64) (*entity.ApprovalPath, error)

	GetStep(ctx context.Context, stepID int64) (*entity.PathStep, error)
}

// TaskRepository defines persistence operations for ApprovalTask
type TaskRepository interface {
	Create(ctx context.Context, task *entity.ApprovalTask) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalTask, error)
	GetByToken(ctx context.Context, token string) (*entity.ApprovalTask, error)

	// Find returns tasks matching the filter ordered by sequence then ID
	Find(ctx context.Context, filter entity.TaskFilter) ([]*entity.ApprovalTask, error)

	// CountPending counts pending tasks for a transaction and sequence
	CountPending(ctx context.Context, ref entity.TransactionRef, sequence int) (int, error)

	// CountForSequence counts tasks of any status for a transaction and sequence
	CountForSequence(ctx context.Context, ref entity.TransactionRef, sequence int) (int, error)

	// Resolve moves a pending task to status. It returns false when the task
	// was no longer pending, so racing requests cannot double-process a task.
	Resolve(ctx context.Context, id int64, status string, completedAt time.Time) (bool, error)

	SetActingApprover(ctx context.Context, id int64, actingApproverID string) error
	SetToken(ctx context.Context, id int64, token string, expiresAt *time.Time) error

	// RecordReminder and MarkEscalated only touch pending tasks and report
	// whether the task was still pending
	RecordReminder(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkEscalated(ctx context.Context, id int64) (bool, error)

	// ListReminderDue returns pending tasks created before createdBefore that
	// have fewer than maxReminders reminders and none since remindedBefore
	ListReminderDue(ctx context.Context, createdBefore, remindedBefore time.Time, maxReminders, limit int) ([]*entity.ApprovalTask, error)

	// ListEscalationDue returns pending, unescalated tasks whose step SLA
	// (or the path SLA when the step has none) elapsed by now
	ListEscalationDue(ctx context.Context, now time.Time, limit int) ([]*entity.ApprovalTask, error)

	// ListPendingTokenExpiredBefore returns pending tasks whose token expired before cutoff
	ListPendingTokenExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entity.ApprovalTask, error)
}

// HistoryRepository appends to and reads the approval audit ledger
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.ApprovalHistory) error
	GetByTransaction(ctx context.Context, ref entity.TransactionRef) ([]*entity.ApprovalHistory, error)
}

// DelegationRepository defines persistence operations for Delegation
type DelegationRepository interface {
	Create(ctx context.Context, d *entity.Delegation) error
	GetByID(ctx context.Context, id int64) (*entity.Delegation, error)

	// ListActiveForApprover returns active delegations of an original approver ordered by ID
	ListActiveForApprover(ctx context.Context, approverID string) ([]*entity.Delegation, error)

	Deactivate(ctx context.Context, id int64) error
}

// TransactionStore is the boundary to the business-document store
type TransactionStore interface {
	Load(ctx context.Context, ref entity.TransactionRef) (*entity.Transaction, error)

	// UpdateApprovalState writes the approval fields of a document
	UpdateApprovalState(ctx context.Context, ref entity.TransactionRef, state entity.ApprovalState) error

	// ValidateSchema fails when the store lacks any field the workflow reads or writes
	ValidateSchema(ctx context.Context) error
}

// IdentityResolver resolves roles to active individuals
type IdentityResolver interface {
	// UsersWithRole returns active user IDs holding role in a stable order
	UsersWithRole(ctx context.Context, role string) ([]string, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
