// Package token issues opaque approval tokens for out-of-band approval links.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/workflow"
)

// DefaultTTL applies when no TTL is configured
const DefaultTTL = 72 * time.Hour

// Issuer generates random UUID tokens and stores them on tasks
type Issuer struct {
	tasks port.TaskRepository
	now   func() time.Time

	mu  sync.RWMutex
	ttl time.Duration
}

// NewIssuer creates an Issuer. A nil clock means time.Now.
func NewIssuer(tasks port.TaskRepository, ttl time.Duration, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{tasks: tasks, ttl: ttl, now: now}
}

// SetTTL changes the lifetime of tokens issued from now on
func (i *Issuer) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ttl = ttl
}

// Generate returns a fresh token. Every call is independent.
func (i *Issuer) Generate() port.IssuedToken {
	i.mu.RLock()
	ttl := i.ttl
	i.mu.RUnlock()

	return port.IssuedToken{
		Value:     uuid.NewString(),
		ExpiresAt: i.now().Add(ttl),
	}
}

// Refresh replaces the token of a pending task
func (i *Issuer) Refresh(ctx context.Context, taskID int64) (port.IssuedToken, error) {
	task, err := i.tasks.GetByID(ctx, taskID)
	if err != nil {
		return port.IssuedToken{}, fmt.Errorf("get task %d: %w", taskID, err)
	}
	if task == nil {
		return port.IssuedToken{}, workflow.NotFoundError("task %d not found", taskID)
	}
	if !task.IsPending() {
		return port.IssuedToken{}, workflow.StateError("task %d is not pending", taskID)
	}

	tok := i.Generate()
	if err := i.tasks.SetToken(ctx, taskID, tok.Value, &tok.ExpiresAt); err != nil {
		return port.IssuedToken{}, err
	}
	return tok, nil
}

// Invalidate clears a task's token so outstanding links stop working
func (i *Issuer) Invalidate(ctx context.Context, taskID int64) error {
	return i.tasks.SetToken(ctx, taskID, "", nil)
}

// Verify interface compliance
var _ port.TokenIssuer = (*Issuer)(nil)
