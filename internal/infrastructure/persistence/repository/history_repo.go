package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// HistoryRepository implements port.HistoryRepository. The ledger is
// append-only: there is no update or delete.
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a history record
func (r *HistoryRepository) Create(ctx context.Context, history *entity.ApprovalHistory) error {
	if history.Timestamp.IsZero() {
		history.Timestamp = time.Now()
	}
	history.Timestamp = dbTime(history.Timestamp)

	query := `
		INSERT INTO approval_history (
			transaction_type, transaction_id, task_id, sequence,
			action, actor_id, acting_approver_id,
			previous_status, new_status, comment, method, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		history.TransactionType,
		history.TransactionID,
		nullID(history.TaskID),
		nullInt(history.Sequence),
		history.Action,
		history.ActorID,
		nullString(history.ActingApproverID),
		nullString(history.PreviousStatus),
		nullString(history.NewStatus),
		nullString(history.Comment),
		history.Method,
		history.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create history record",
			zap.String("transaction_id", history.TransactionID),
			zap.String("action", history.Action),
			zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history.ID = id
	return nil
}

// GetByTransaction retrieves the ledger of a transaction in insertion order
func (r *HistoryRepository) GetByTransaction(ctx context.Context, ref entity.TransactionRef) ([]*entity.ApprovalHistory, error) {
	query := `
		SELECT id, transaction_type, transaction_id, task_id, sequence,
			action, actor_id, acting_approver_id,
			previous_status, new_status, comment, method, timestamp
		FROM approval_history
		WHERE transaction_type = ? AND transaction_id = ?
		ORDER BY id ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, ref.Type, ref.ID)
	if err != nil {
		r.logger.Error("Failed to get history by transaction",
			zap.String("transaction_type", ref.Type),
			zap.String("transaction_id", ref.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.ApprovalHistory
	for rows.Next() {
		var record entity.ApprovalHistory
		var taskID, sequence sql.NullInt64
		var acting, prev, next, comment sql.NullString

		err := rows.Scan(
			&record.ID,
			&record.TransactionType,
			&record.TransactionID,
			&taskID,
			&sequence,
			&record.Action,
			&record.ActorID,
			&acting,
			&prev,
			&next,
			&comment,
			&record.Method,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}

		record.TaskID = idPtr(taskID)
		record.Sequence = intPtr(sequence)
		record.ActingApproverID = acting.String
		record.PreviousStatus = prev.String
		record.NewStatus = next.String
		record.Comment = comment.String
		records = append(records, &record)
	}

	return records, rows.Err()
}

// getExecutor returns appropriate executor based on context
func (r *HistoryRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
