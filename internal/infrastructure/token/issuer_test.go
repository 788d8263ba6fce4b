package token

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/workflow"
	"github.com/garyjia/approval-routing/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-routing/migrations"
	"github.com/garyjia/approval-routing/pkg/database"
)

func TestIssuer_GenerateIsUniqueAndExpires(t *testing.T) {
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	issuer := NewIssuer(nil, time.Hour, func() time.Time { return now })

	a := issuer.Generate()
	b := issuer.Generate()
	assert.NotEqual(t, a.Value, b.Value)
	assert.Equal(t, now.Add(time.Hour), a.ExpiresAt)

	issuer.SetTTL(0)
	assert.Equal(t, now.Add(DefaultTTL), issuer.Generate().ExpiresAt)
}

func TestIssuer_RefreshAndInvalidate(t *testing.T) {
	logger := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "tok.db"), MaxOpenConns: 1}, logger)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.NewMigrator(db, logger).RunMigrationsFS(migrations.FS))

	ctx := context.Background()
	tasks := repository.NewTaskRepository(db.DB, logger)
	issuer := NewIssuer(tasks, time.Hour, nil)

	first := issuer.Generate()
	task := &entity.ApprovalTask{
		TransactionType: entity.TxnTypeInvoice, TransactionID: "INV-1", PathID: 1, StepID: 1, Sequence: 1,
		ApproverID: "u1", Status: entity.TaskStatusPending, Token: first.Value, TokenExpiresAt: &first.ExpiresAt,
	}
	require.NoError(t, tasks.Create(ctx, task))

	refreshed, err := issuer.Refresh(ctx, task.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, refreshed.Value)

	old, err := tasks.GetByToken(ctx, first.Value)
	require.NoError(t, err)
	assert.Nil(t, old)

	current, err := tasks.GetByToken(ctx, refreshed.Value)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, task.ID, current.ID)

	require.NoError(t, issuer.Invalidate(ctx, task.ID))
	gone, err := tasks.GetByToken(ctx, refreshed.Value)
	require.NoError(t, err)
	assert.Nil(t, gone)

	_, err = tasks.Resolve(ctx, task.ID, entity.TaskStatusApproved, time.Now())
	require.NoError(t, err)
	_, err = issuer.Refresh(ctx, task.ID)
	assert.Equal(t, workflow.KindState, workflow.KindOf(err))

	_, err = issuer.Refresh(ctx, 999)
	assert.Equal(t, workflow.KindNotFound, workflow.KindOf(err))
}
