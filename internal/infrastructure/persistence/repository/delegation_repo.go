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

const delegationColumns = `
	id, approver_id, delegate_id, start_date, end_date,
	subsidiary, transaction_type, active, reason, created_by, created_at`

// DelegationRepository implements port.DelegationRepository
type DelegationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDelegationRepository creates a new delegation repository
func NewDelegationRepository(db *sql.DB, logger *zap.Logger) port.DelegationRepository {
	return &DelegationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a delegation
func (r *DelegationRepository) Create(ctx context.Context, d *entity.Delegation) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.CreatedAt = dbTime(d.CreatedAt)

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO delegations (
			approver_id, delegate_id, start_date, end_date,
			subsidiary, transaction_type, active, reason, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ApproverID,
		d.DelegateID,
		formatDate(d.StartDate),
		formatDate(d.EndDate),
		d.Subsidiary,
		d.TransactionType,
		d.Active,
		nullString(d.Reason),
		d.CreatedBy,
		d.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create delegation",
			zap.String("approver_id", d.ApproverID),
			zap.String("delegate_id", d.DelegateID),
			zap.Error(err))
		return fmt.Errorf("failed to create delegation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	d.ID = id
	return nil
}

// GetByID retrieves a delegation, or nil when missing
func (r *DelegationRepository) GetByID(ctx context.Context, id int64) (*entity.Delegation, error) {
	d, err := scanDelegation(r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+delegationColumns+` FROM delegations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get delegation", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get delegation: %w", err)
	}
	return d, nil
}

// ListActiveForApprover returns active delegations of an approver ordered by ID
func (r *DelegationRepository) ListActiveForApprover(ctx context.Context, approverID string) ([]*entity.Delegation, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx,
		`SELECT `+delegationColumns+` FROM delegations WHERE approver_id = ? AND active = 1 ORDER BY id`,
		approverID)
	if err != nil {
		r.logger.Error("Failed to list delegations", zap.String("approver_id", approverID), zap.Error(err))
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}
	defer rows.Close()

	var result []*entity.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// Deactivate revokes a delegation
func (r *DelegationRepository) Deactivate(ctx context.Context, id int64) error {
	if _, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE delegations SET active = 0 WHERE id = ?`, id); err != nil {
		r.logger.Error("Failed to deactivate delegation", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to deactivate delegation: %w", err)
	}
	return nil
}

func scanDelegation(row rowScanner) (*entity.Delegation, error) {
	var d entity.Delegation
	var start, end string
	var reason sql.NullString

	err := row.Scan(
		&d.ID,
		&d.ApproverID,
		&d.DelegateID,
		&start,
		&end,
		&d.Subsidiary,
		&d.TransactionType,
		&d.Active,
		&reason,
		&d.CreatedBy,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if d.StartDate, err = parseDate(start); err != nil {
		return nil, err
	}
	if d.EndDate, err = parseDate(end); err != nil {
		return nil, err
	}
	d.Reason = reason.String
	return &d, nil
}

// getExecutor returns appropriate executor based on context
func (r *DelegationRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

// Verify interface compliance
var _ port.DelegationRepository = (*DelegationRepository)(nil)
