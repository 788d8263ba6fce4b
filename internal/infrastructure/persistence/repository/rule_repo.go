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

const ruleColumns = `
	id, name, transaction_type,
	subsidiaries, departments, locations,
	min_amount, max_amount, currency, risk_min, risk_max,
	exception_types, customers, sales_reps, projects, classes, custom_segments,
	priority, effective_from, effective_to, active, path_id,
	created_at, updated_at`

// RuleRepository implements port.RuleRepository
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository creates a new decision rule repository
func NewRuleRepository(db *sql.DB, logger *zap.Logger) port.RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a decision rule
func (r *RuleRepository) Create(ctx context.Context, rule *entity.DecisionRule) error {
	sets := make([]string, 0, 9)
	for _, values := range [][]string{
		rule.Subsidiaries, rule.Departments, rule.Locations,
		rule.ExceptionTypes, rule.Customers, rule.SalesReps,
		rule.Projects, rule.Classes, rule.CustomSegments,
	} {
		encoded, err := encodeSet(values)
		if err != nil {
			return fmt.Errorf("failed to encode rule criteria: %w", err)
		}
		sets = append(sets, encoded)
	}

	now := dbTime(time.Now())
	query := `
		INSERT INTO decision_rules (
			name, transaction_type,
			subsidiaries, departments, locations,
			min_amount, max_amount, currency, risk_min, risk_max,
			exception_types, customers, sales_reps, projects, classes, custom_segments,
			priority, effective_from, effective_to, active, path_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		rule.Name,
		rule.TransactionType,
		sets[0], sets[1], sets[2],
		nullFloat(rule.MinAmount),
		nullFloat(rule.MaxAmount),
		rule.Currency,
		nullFloat(rule.RiskMin),
		nullFloat(rule.RiskMax),
		sets[3], sets[4], sets[5], sets[6], sets[7], sets[8],
		rule.Priority,
		nullDate(rule.EffectiveFrom),
		nullDate(rule.EffectiveTo),
		rule.Active,
		rule.PathID,
		now,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create decision rule",
			zap.String("name", rule.Name),
			zap.String("transaction_type", rule.TransactionType),
			zap.Error(err))
		return fmt.Errorf("failed to create decision rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// GetByID retrieves a rule by ID, or nil when it does not exist
func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*entity.DecisionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM decision_rules WHERE id = ?`

	rule, err := scanRule(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get decision rule", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get decision rule: %w", err)
	}
	return rule, nil
}

// ListActive returns active rules of a transaction type ordered by ID
func (r *RuleRepository) ListActive(ctx context.Context, txnType string) ([]*entity.DecisionRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM decision_rules
		WHERE transaction_type = ? AND active = 1
		ORDER BY id`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, txnType)
	if err != nil {
		r.logger.Error("Failed to list decision rules",
			zap.String("transaction_type", txnType),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list decision rules: %w", err)
	}
	defer rows.Close()

	var rules []*entity.DecisionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(row rowScanner) (*entity.DecisionRule, error) {
	var rule entity.DecisionRule
	var minAmount, maxAmount, riskMin, riskMax sql.NullFloat64
	var effectiveFrom, effectiveTo sql.NullString
	var sets [9]string

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.TransactionType,
		&sets[0], &sets[1], &sets[2],
		&minAmount,
		&maxAmount,
		&rule.Currency,
		&riskMin,
		&riskMax,
		&sets[3], &sets[4], &sets[5], &sets[6], &sets[7], &sets[8],
		&rule.Priority,
		&effectiveFrom,
		&effectiveTo,
		&rule.Active,
		&rule.PathID,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	targets := []*[]string{
		&rule.Subsidiaries, &rule.Departments, &rule.Locations,
		&rule.ExceptionTypes, &rule.Customers, &rule.SalesReps,
		&rule.Projects, &rule.Classes, &rule.CustomSegments,
	}
	for i, target := range targets {
		values, err := decodeSet(sets[i])
		if err != nil {
			return nil, err
		}
		*target = values
	}

	rule.MinAmount = floatPtr(minAmount)
	rule.MaxAmount = floatPtr(maxAmount)
	rule.RiskMin = floatPtr(riskMin)
	rule.RiskMax = floatPtr(riskMax)

	if rule.EffectiveFrom, err = datePtr(effectiveFrom); err != nil {
		return nil, err
	}
	if rule.EffectiveTo, err = datePtr(effectiveTo); err != nil {
		return nil, err
	}
	return &rule, nil
}

// getExecutor returns appropriate executor based on context
func (r *RuleRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

// Verify interface compliance
var _ port.RuleRepository = (*RuleRepository)(nil)
