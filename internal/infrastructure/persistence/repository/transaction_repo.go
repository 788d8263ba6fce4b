package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/workflow"
	"github.com/garyjia/approval-routing/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// requiredTransactionColumns are the document fields the workflow reads or writes
var requiredTransactionColumns = []string{
	"transaction_type", "transaction_id", "subsidiary", "department", "location",
	"currency", "amount", "risk_score", "exception_type", "customer", "sales_rep",
	"project", "class", "custom_segment", "created_by", "requested_by",
	"approval_status", "current_step", "current_approver",
	"matched_rule_id", "matched_path_id", "match_explanation", "updated_at",
}

const transactionColumns = `
	transaction_type, transaction_id, subsidiary, department, location,
	currency, amount, risk_score, exception_type, customer, sales_rep,
	project, class, custom_segment, created_by, requested_by,
	approval_status, current_step, current_approver,
	matched_rule_id, matched_path_id, match_explanation,
	created_at, updated_at`

// TransactionRepository implements port.TransactionStore over the local
// document table
type TransactionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransactionRepository creates a new transaction store
func NewTransactionRepository(db *sql.DB, logger *zap.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a document. Used by seeding and tests; documents are
// otherwise owned by the system of record.
func (r *TransactionRepository) Create(ctx context.Context, txn *entity.Transaction) error {
	now := dbTime(time.Now())
	if txn.Approval.Status == "" {
		txn.Approval.Status = entity.ApprovalStatusDraft
	}

	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.Type,
		txn.ID,
		txn.Subsidiary,
		nullString(txn.Department),
		nullString(txn.Location),
		nullString(txn.Currency),
		txn.Amount,
		nullFloat(txn.RiskScore),
		nullString(txn.ExceptionType),
		nullString(txn.Customer),
		nullString(txn.SalesRep),
		nullString(txn.Project),
		nullString(txn.Class),
		nullString(txn.CustomSegment),
		txn.CreatedBy,
		nullString(txn.RequestedBy),
		txn.Approval.Status,
		nullInt(txn.Approval.CurrentStep),
		nullString(txn.Approval.CurrentApprover),
		nullID(txn.Approval.MatchedRuleID),
		nullID(txn.Approval.MatchedPathID),
		nullString(txn.Approval.MatchExplanation),
		now,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create transaction",
			zap.String("transaction_type", txn.Type),
			zap.String("transaction_id", txn.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	txn.CreatedAt = now
	txn.UpdatedAt = now
	return nil
}

// Load reads a document, or nil when it does not exist
func (r *TransactionRepository) Load(ctx context.Context, ref entity.TransactionRef) (*entity.Transaction, error) {
	var txn entity.Transaction
	var department, location, currency, exceptionType, customer, salesRep sql.NullString
	var project, class, customSegment, requestedBy, approver, explanation sql.NullString
	var riskScore sql.NullFloat64
	var currentStep, ruleID, pathID sql.NullInt64

	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_type = ? AND transaction_id = ?`,
		ref.Type, ref.ID,
	).Scan(
		&txn.Type,
		&txn.ID,
		&txn.Subsidiary,
		&department,
		&location,
		&currency,
		&txn.Amount,
		&riskScore,
		&exceptionType,
		&customer,
		&salesRep,
		&project,
		&class,
		&customSegment,
		&txn.CreatedBy,
		&requestedBy,
		&txn.Approval.Status,
		&currentStep,
		&approver,
		&ruleID,
		&pathID,
		&explanation,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to load transaction",
			zap.String("transaction_type", ref.Type),
			zap.String("transaction_id", ref.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}

	txn.Department = department.String
	txn.Location = location.String
	txn.Currency = currency.String
	txn.RiskScore = floatPtr(riskScore)
	txn.ExceptionType = exceptionType.String
	txn.Customer = customer.String
	txn.SalesRep = salesRep.String
	txn.Project = project.String
	txn.Class = class.String
	txn.CustomSegment = customSegment.String
	txn.RequestedBy = requestedBy.String
	txn.Approval.CurrentStep = intPtr(currentStep)
	txn.Approval.CurrentApprover = approver.String
	txn.Approval.MatchedRuleID = idPtr(ruleID)
	txn.Approval.MatchedPathID = idPtr(pathID)
	txn.Approval.MatchExplanation = explanation.String
	return &txn, nil
}

// UpdateApprovalState writes every approval field of a document
func (r *TransactionRepository) UpdateApprovalState(ctx context.Context, ref entity.TransactionRef, state entity.ApprovalState) error {
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE transactions
		SET approval_status = ?, current_step = ?, current_approver = ?,
			matched_rule_id = ?, matched_path_id = ?, match_explanation = ?,
			updated_at = ?
		WHERE transaction_type = ? AND transaction_id = ?`,
		state.Status,
		nullInt(state.CurrentStep),
		nullString(state.CurrentApprover),
		nullID(state.MatchedRuleID),
		nullID(state.MatchedPathID),
		nullString(state.MatchExplanation),
		dbTime(time.Now()),
		ref.Type,
		ref.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update approval state",
			zap.String("transaction_type", ref.Type),
			zap.String("transaction_id", ref.ID),
			zap.String("status", state.Status),
			zap.Error(err))
		return fmt.Errorf("failed to update approval state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return workflow.NotFoundError("transaction %s/%s not found", ref.Type, ref.ID)
	}
	return nil
}

// ValidateSchema fails with a configuration error when the document table
// lacks a workflow field
func (r *TransactionRepository) ValidateSchema(ctx context.Context) error {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `PRAGMA table_info(transactions)`)
	if err != nil {
		return fmt.Errorf("failed to inspect transactions table: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("failed to scan table info: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var missing []string
	for _, col := range requiredTransactionColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return workflow.ConfigurationError("transactions table is missing fields: %v", missing)
	}
	return nil
}

// getExecutor returns appropriate executor based on context
func (r *TransactionRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

// Verify interface compliance
var _ port.TransactionStore = (*TransactionRepository)(nil)
