package delegation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/workflow"
)

// Settings bounds delegation creation. Zero MaxDays disables the duration check.
type Settings struct {
	MaxDays int
}

// Service creates, revokes and lists delegations
type Service struct {
	repo   port.DelegationRepository
	logger Logger
	now    func() time.Time

	mu       sync.RWMutex
	settings Settings
}

// NewService creates a delegation Service
func NewService(repo port.DelegationRepository, settings Settings, logger Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     repo,
		logger:   logger,
		now:      now,
		settings: settings,
	}
}

// ApplySettings replaces the service settings
func (s *Service) ApplySettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func (s *Service) maxDays() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.MaxDays
}

// Create validates and stores a delegation on behalf of actor. Only the
// original approver or a privileged actor may delegate.
func (s *Service) Create(ctx context.Context, d *entity.Delegation, actor port.Actor) error {
	if d.ApproverID == "" || d.DelegateID == "" {
		return workflow.ValidationError("approver and delegate are required")
	}
	if d.ApproverID == d.DelegateID {
		return workflow.ValidationError("an approver cannot delegate to themselves")
	}
	if actor.ID != d.ApproverID && !actor.Privileged {
		return workflow.AuthorizationError("user %s cannot delegate on behalf of %s", actor.ID, d.ApproverID)
	}
	if d.TransactionType != "" && !entity.IsValidTransactionType(d.TransactionType) {
		return workflow.ValidationError("unknown transaction type %q", d.TransactionType)
	}
	if d.StartDate.IsZero() || d.EndDate.IsZero() {
		return workflow.ValidationError("start and end dates are required")
	}
	if entity.DateOnly(d.EndDate).Before(entity.DateOnly(d.StartDate)) {
		return workflow.ValidationError("end date %s is before start date %s",
			d.EndDate.Format("2006-01-02"), d.StartDate.Format("2006-01-02"))
	}
	if limit := s.maxDays(); limit > 0 && d.DurationDays() > limit {
		return workflow.ValidationError("delegation of %d days exceeds the maximum of %d", d.DurationDays(), limit)
	}

	existing, err := s.repo.ListActiveForApprover(ctx, d.ApproverID)
	if err != nil {
		return fmt.Errorf("list delegations for %s: %w", d.ApproverID, err)
	}
	for _, other := range existing {
		if other.ScopeOverlaps(d) && other.DatesOverlap(d) {
			return workflow.ValidationError("overlaps delegation %d (%s to %s) for the same scope",
				other.ID, other.StartDate.Format("2006-01-02"), other.EndDate.Format("2006-01-02"))
		}
	}

	d.Active = true
	d.CreatedBy = actor.ID
	d.CreatedAt = s.now()
	if err := s.repo.Create(ctx, d); err != nil {
		return err
	}

	s.logger.Info("Delegation created",
		"delegation_id", d.ID,
		"approver_id", d.ApproverID,
		"delegate_id", d.DelegateID,
		"created_by", actor.ID,
	)
	return nil
}

// Revoke deactivates a delegation. The approver, its creator or a
// privileged actor may revoke.
func (s *Service) Revoke(ctx context.Context, id int64, actor port.Actor) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get delegation %d: %w", id, err)
	}
	if d == nil {
		return workflow.NotFoundError("delegation %d not found", id)
	}
	if actor.ID != d.ApproverID && actor.ID != d.CreatedBy && !actor.Privileged {
		return workflow.AuthorizationError("user %s cannot revoke delegation %d", actor.ID, id)
	}
	if !d.Active {
		return workflow.StateError("delegation %d is already revoked", id)
	}

	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Delegation revoked", "delegation_id", id, "revoked_by", actor.ID)
	return nil
}

// ListForApprover returns an approver's active delegations
func (s *Service) ListForApprover(ctx context.Context, approverID string) ([]*entity.Delegation, error) {
	return s.repo.ListActiveForApprover(ctx, approverID)
}
