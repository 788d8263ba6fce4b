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

const stepColumns = `
	id, path_id, sequence, name, approver_type, approver_id, role,
	execution_mode, comment_required, sla_hours, active`

// PathRepository implements port.PathRepository
type PathRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPathRepository creates a new approval path repository
func NewPathRepository(db *sql.DB, logger *zap.Logger) port.PathRepository {
	return &PathRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a path and its steps. Callers wanting atomicity wrap the
// call in a TransactionManager transaction.
func (r *PathRepository) Create(ctx context.Context, path *entity.ApprovalPath) error {
	now := dbTime(time.Now())
	exec := r.getExecutor(ctx)

	result, err := exec.ExecContext(ctx,
		`INSERT INTO approval_paths (name, sla_hours, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		path.Name, path.SLAHours, path.Active, now, now,
	)
	if err != nil {
		r.logger.Error("Failed to create approval path", zap.String("name", path.Name), zap.Error(err))
		return fmt.Errorf("failed to create approval path: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	path.ID = id
	path.CreatedAt = now
	path.UpdatedAt = now

	for i := range path.Steps {
		step := &path.Steps[i]
		step.PathID = id

		result, err := exec.ExecContext(ctx, `
			INSERT INTO path_steps (
				path_id, sequence, name, approver_type, approver_id, role,
				execution_mode, comment_required, sla_hours, active
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			step.PathID,
			step.Sequence,
			step.Name,
			step.ApproverType,
			nullString(step.ApproverID),
			nullString(step.Role),
			step.ExecutionMode,
			step.CommentRequired,
			step.SLAHours,
			step.Active,
		)
		if err != nil {
			r.logger.Error("Failed to create path step",
				zap.Int64("path_id", id),
				zap.Int("sequence", step.Sequence),
				zap.Error(err))
			return fmt.Errorf("failed to create path step: %w", err)
		}
		if step.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}

	return nil
}

// GetByID retrieves a path with its steps sorted by sequence, or nil when missing
func (r *PathRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalPath, error) {
	exec := r.getExecutor(ctx)

	var path entity.ApprovalPath
	err := exec.QueryRowContext(ctx,
		`SELECT id, name, sla_hours, active, created_at, updated_at FROM approval_paths WHERE id = ?`, id,
	).Scan(&path.ID, &path.Name, &path.SLAHours, &path.Active, &path.CreatedAt, &path.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval path", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval path: %w", err)
	}

	rows, err := exec.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM path_steps WHERE path_id = ? ORDER BY sequence, id`, id)
	if err != nil {
		r.logger.Error("Failed to list path steps", zap.Int64("path_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to list path steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan path step: %w", err)
		}
		path.Steps = append(path.Steps, *step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &path, nil
}

// GetStep retrieves a single step by ID, or nil when missing
func (r *PathRepository) GetStep(ctx context.Context, stepID int64) (*entity.PathStep, error) {
	step, err := scanStep(r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM path_steps WHERE id = ?`, stepID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get path step", zap.Int64("id", stepID), zap.Error(err))
		return nil, fmt.Errorf("failed to get path step: %w", err)
	}
	return step, nil
}

func scanStep(row rowScanner) (*entity.PathStep, error) {
	var step entity.PathStep
	var approverID, role sql.NullString
	err := row.Scan(
		&step.ID,
		&step.PathID,
		&step.Sequence,
		&step.Name,
		&step.ApproverType,
		&approverID,
		&role,
		&step.ExecutionMode,
		&step.CommentRequired,
		&step.SLAHours,
		&step.Active,
	)
	if err != nil {
		return nil, err
	}
	step.ApproverID = approverID.String
	step.Role = role.String
	return &step, nil
}

// getExecutor returns appropriate executor based on context
func (r *PathRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

// Verify interface compliance
var _ port.PathRepository = (*PathRepository)(nil)
