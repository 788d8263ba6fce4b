// Package delegation resolves and manages temporary approver substitution.
package delegation

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Lookup is the scope a substitute is resolved for. Blank fields only
// match unscoped delegations.
type Lookup struct {
	ApproverID      string
	Subsidiary      string
	TransactionType string
}

// Resolver finds the active delegate of an approver
type Resolver struct {
	repo port.DelegationRepository
	now  func() time.Time
}

// NewResolver creates a Resolver. A nil clock means time.Now.
func NewResolver(repo port.DelegationRepository, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{repo: repo, now: now}
}

// FindActiveDelegation returns the approver's delegation in effect today for
// the lookup scope, or nil. Resolution is a single hop: the delegate's own
// delegations are never followed.
func (r *Resolver) FindActiveDelegation(ctx context.Context, lookup Lookup) (*entity.Delegation, error) {
	if lookup.ApproverID == "" {
		return nil, nil
	}

	delegations, err := r.repo.ListActiveForApprover(ctx, lookup.ApproverID)
	if err != nil {
		return nil, fmt.Errorf("list delegations for %s: %w", lookup.ApproverID, err)
	}

	today := r.now()
	// Ordered by ID, so the oldest valid delegation wins if validation was bypassed
	for _, d := range delegations {
		if !d.Active || d.ApproverID != lookup.ApproverID {
			continue
		}
		if !d.CoversDate(today) {
			continue
		}
		if !d.MatchesScope(lookup.Subsidiary, lookup.TransactionType) {
			continue
		}
		return d, nil
	}
	return nil, nil
}
