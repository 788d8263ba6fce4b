package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const taskColumns = `
	id, transaction_type, transaction_id, path_id, step_id, sequence,
	approver_id, acting_approver_id, status, token, token_expires_at,
	reminder_count, last_reminded_at, escalated, created_at, completed_at`

const prefixedTaskColumns = `
	t.id, t.transaction_type, t.transaction_id, t.path_id, t.step_id, t.sequence,
	t.approver_id, t.acting_approver_id, t.status, t.token, t.token_expires_at,
	t.reminder_count, t.last_reminded_at, t.escalated, t.created_at, t.completed_at`

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new approval task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a task and sets its ID
func (r *TaskRepository) Create(ctx context.Context, task *entity.ApprovalTask) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.CreatedAt = dbTime(task.CreatedAt)

	query := `
		INSERT INTO approval_tasks (
			transaction_type, transaction_id, path_id, step_id, sequence,
			approver_id, acting_approver_id, status, token, token_expires_at,
			reminder_count, escalated, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		task.TransactionType,
		task.TransactionID,
		task.PathID,
		task.StepID,
		task.Sequence,
		task.ApproverID,
		nullString(task.ActingApproverID),
		task.Status,
		nullString(task.Token),
		nullTime(task.TokenExpiresAt),
		task.ReminderCount,
		task.Escalated,
		task.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create approval task",
			zap.String("transaction_type", task.TransactionType),
			zap.String("transaction_id", task.TransactionID),
			zap.Int("sequence", task.Sequence),
			zap.Error(err))
		return fmt.Errorf("failed to create approval task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	return nil
}

// GetByID retrieves a task by its ID, or nil when missing
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalTask, error) {
	task, err := scanTask(r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM approval_tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval task by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval task: %w", err)
	}
	return task, nil
}

// GetByToken retrieves the task holding an approval token, or nil
func (r *TaskRepository) GetByToken(ctx context.Context, token string) (*entity.ApprovalTask, error) {
	if token == "" {
		return nil, nil
	}
	task, err := scanTask(r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM approval_tasks WHERE token = ?`, token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval task by token", zap.Error(err))
		return nil, fmt.Errorf("failed to get approval task: %w", err)
	}
	return task, nil
}

// Find returns tasks matching filter ordered by sequence then ID
func (r *TaskRepository) Find(ctx context.Context, filter entity.TaskFilter) ([]*entity.ApprovalTask, error) {
	var where []string
	var args []interface{}

	if filter.TransactionType != "" {
		where = append(where, "transaction_type = ?")
		args = append(args, filter.TransactionType)
	}
	if filter.TransactionID != "" {
		where = append(where, "transaction_id = ?")
		args = append(args, filter.TransactionID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Sequence != nil {
		where = append(where, "sequence = ?")
		args = append(args, *filter.Sequence)
	}
	if filter.ExcludeTaskID != 0 {
		where = append(where, "id <> ?")
		args = append(args, filter.ExcludeTaskID)
	}

	query := `SELECT ` + taskColumns + ` FROM approval_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sequence, id"

	return r.queryTasks(ctx, query, args...)
}

// CountPending counts pending tasks for a transaction and sequence
func (r *TaskRepository) CountPending(ctx context.Context, ref entity.TransactionRef, sequence int) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM approval_tasks
		WHERE transaction_type = ? AND transaction_id = ? AND sequence = ? AND status = ?`,
		ref.Type, ref.ID, sequence, entity.TaskStatusPending)
}

// CountForSequence counts tasks of any status for a transaction and sequence
func (r *TaskRepository) CountForSequence(ctx context.Context, ref entity.TransactionRef, sequence int) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM approval_tasks
		WHERE transaction_type = ? AND transaction_id = ? AND sequence = ?`,
		ref.Type, ref.ID, sequence)
}

// Resolve moves a pending task to status; false means it was no longer pending
func (r *TaskRepository) Resolve(ctx context.Context, id int64, status string, completedAt time.Time) (bool, error) {
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE approval_tasks
		SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		status, dbTime(completedAt), id, entity.TaskStatusPending)
	if err != nil {
		r.logger.Error("Failed to resolve approval task",
			zap.Int64("id", id),
			zap.String("status", status),
			zap.Error(err))
		return false, fmt.Errorf("failed to resolve approval task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// SetActingApprover records who acts in place of the approver
func (r *TaskRepository) SetActingApprover(ctx context.Context, id int64, actingApproverID string) error {
	return r.update(ctx, "set acting approver", id,
		`UPDATE approval_tasks SET acting_approver_id = ? WHERE id = ?`,
		nullString(actingApproverID), id)
}

// SetToken replaces the task's approval token; an empty token clears it
func (r *TaskRepository) SetToken(ctx context.Context, id int64, token string, expiresAt *time.Time) error {
	return r.update(ctx, "set token", id,
		`UPDATE approval_tasks SET token = ?, token_expires_at = ? WHERE id = ?`,
		nullString(token), nullTime(expiresAt), id)
}

// RecordReminder increments the reminder counter of a pending task. It
// returns false when the task was resolved in the meantime.
func (r *TaskRepository) RecordReminder(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.updatePending(ctx, "record reminder", id,
		`UPDATE approval_tasks SET reminder_count = reminder_count + 1, last_reminded_at = ? WHERE id = ? AND status = ?`,
		dbTime(at), id, entity.TaskStatusPending)
}

// MarkEscalated flags a pending task as escalated. It returns false when the
// task was resolved in the meantime.
func (r *TaskRepository) MarkEscalated(ctx context.Context, id int64) (bool, error) {
	return r.updatePending(ctx, "mark escalated", id,
		`UPDATE approval_tasks SET escalated = 1 WHERE id = ? AND status = ?`, id, entity.TaskStatusPending)
}

// ListReminderDue returns tasks eligible for another reminder, oldest first
func (r *TaskRepository) ListReminderDue(ctx context.Context, createdBefore, remindedBefore time.Time, maxReminders, limit int) ([]*entity.ApprovalTask, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+`
		FROM approval_tasks
		WHERE status = ? AND created_at < ? AND reminder_count < ?
			AND (last_reminded_at IS NULL OR last_reminded_at < ?)
		ORDER BY created_at, id
		LIMIT ?`,
		entity.TaskStatusPending, dbTime(createdBefore), maxReminders, dbTime(remindedBefore), limit)
}

// ListEscalationDue returns unescalated tasks past their SLA, oldest first.
// A step SLA of zero inherits the path SLA; zero on both never escalates.
func (r *TaskRepository) ListEscalationDue(ctx context.Context, now time.Time, limit int) ([]*entity.ApprovalTask, error) {
	return r.queryTasks(ctx, `SELECT `+prefixedTaskColumns+`
		FROM approval_tasks t
		JOIN path_steps s ON s.id = t.step_id
		JOIN approval_paths p ON p.id = t.path_id
		WHERE t.status = ? AND t.escalated = 0
			AND COALESCE(NULLIF(s.sla_hours, 0), p.sla_hours) > 0
			AND julianday(t.created_at) + COALESCE(NULLIF(s.sla_hours, 0), p.sla_hours) / 24.0 <= julianday(?)
		ORDER BY t.created_at, t.id
		LIMIT ?`,
		entity.TaskStatusPending, dbTime(now), limit)
}

// ListPendingTokenExpiredBefore returns pending tasks whose token expired before cutoff
func (r *TaskRepository) ListPendingTokenExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entity.ApprovalTask, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+`
		FROM approval_tasks
		WHERE status = ? AND token IS NOT NULL AND token_expires_at < ?
		ORDER BY token_expires_at, id
		LIMIT ?`,
		entity.TaskStatusPending, dbTime(cutoff), limit)
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalTask, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query approval tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to query approval tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.ApprovalTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := r.getExecutor(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		r.logger.Error("Failed to count approval tasks", zap.Error(err))
		return 0, fmt.Errorf("failed to count approval tasks: %w", err)
	}
	return n, nil
}

func (r *TaskRepository) update(ctx context.Context, op string, id int64, query string, args ...interface{}) error {
	if _, err := r.getExecutor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("Failed to update approval task",
			zap.String("op", op),
			zap.Int64("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

func (r *TaskRepository) updatePending(ctx context.Context, op string, id int64, query string, args ...interface{}) (bool, error) {
	result, err := r.getExecutor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update approval task",
			zap.String("op", op),
			zap.Int64("id", id),
			zap.Error(err))
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

func scanTask(row rowScanner) (*entity.ApprovalTask, error) {
	var task entity.ApprovalTask
	var acting, token sql.NullString
	var tokenExpiresAt, lastRemindedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.TransactionType,
		&task.TransactionID,
		&task.PathID,
		&task.StepID,
		&task.Sequence,
		&task.ApproverID,
		&acting,
		&task.Status,
		&token,
		&tokenExpiresAt,
		&task.ReminderCount,
		&lastRemindedAt,
		&task.Escalated,
		&task.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ActingApproverID = acting.String
	task.Token = token.String
	task.TokenExpiresAt = timePtr(tokenExpiresAt)
	task.LastRemindedAt = timePtr(lastRemindedAt)
	task.CompletedAt = timePtr(completedAt)
	return &task, nil
}

// getExecutor returns appropriate executor based on context
func (r *TaskRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

// Verify interface compliance
var _ port.TaskRepository = (*TaskRepository)(nil)
