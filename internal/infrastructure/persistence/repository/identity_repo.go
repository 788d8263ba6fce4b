package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// IdentityRepository resolves roles from the user_roles table
type IdentityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIdentityRepository creates a new identity resolver
func NewIdentityRepository(db *sql.DB, logger *zap.Logger) *IdentityRepository {
	return &IdentityRepository{
		db:     db,
		logger: logger,
	}
}

// AssignRole grants role to userID, reactivating a revoked grant
func (r *IdentityRepository) AssignRole(ctx context.Context, userID, role string) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role, active) VALUES (?, ?, 1)
		ON CONFLICT (user_id, role) DO UPDATE SET active = 1`,
		userID, role)
	if err != nil {
		r.logger.Error("Failed to assign role",
			zap.String("user_id", userID),
			zap.String("role", role),
			zap.Error(err))
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RevokeRole deactivates a grant
func (r *IdentityRepository) RevokeRole(ctx context.Context, userID, role string) error {
	if _, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE user_roles SET active = 0 WHERE user_id = ? AND role = ?`, userID, role); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// UsersWithRole returns active holders of role ordered by user ID
func (r *IdentityRepository) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx,
		`SELECT user_id FROM user_roles WHERE role = ? AND active = 1 ORDER BY user_id`, role)
	if err != nil {
		r.logger.Error("Failed to resolve role", zap.String("role", role), zap.Error(err))
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// getExecutor returns appropriate executor based on context
func (r *IdentityRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

// Verify interface compliance
var _ port.IdentityResolver = (*IdentityRepository)(nil)
