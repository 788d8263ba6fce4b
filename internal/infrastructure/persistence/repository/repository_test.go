package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/workflow"
	"github.com/garyjia/approval-routing/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-routing/migrations"
	"github.com/garyjia/approval-routing/pkg/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrationsFS(migrations.FS))
	return db
}

func floatp(v float64) *float64 { return &v }
func intp(v int) *int           { return &v }

func createPath(t *testing.T, db *sql.DB, steps ...entity.PathStep) *entity.ApprovalPath {
	t.Helper()
	path := &entity.ApprovalPath{Name: "Standard", Active: true, Steps: steps}
	require.NoError(t, NewPathRepository(db, zap.NewNop()).Create(context.Background(), path))
	return path
}

func TestRuleRepository_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	path := createPath(t, db.DB, entity.PathStep{Sequence: 1, ApproverType: entity.ApproverTypeIndividual, ApproverID: "u1", ExecutionMode: entity.ExecutionSerial, Active: true})
	repo := NewRuleRepository(db.DB, zap.NewNop())

	from := time.Date(2026, 1, 1, 15, 30, 0, 0, time.UTC)
	rule := &entity.DecisionRule{
		Name:            "Ops mid-range",
		TransactionType: entity.TxnTypePurchaseOrder,
		Subsidiaries:    []string{"1", "2"},
		Departments:     []string{"OPS"},
		MinAmount:       floatp(1000),
		MaxAmount:       floatp(5000),
		RiskMax:         floatp(40),
		Priority:        5,
		EffectiveFrom:   &from,
		Active:          true,
		PathID:          path.ID,
	}
	require.NoError(t, repo.Create(ctx, rule))
	require.NotZero(t, rule.ID)

	got, err := repo.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, []string{"1", "2"}, got.Subsidiaries)
	assert.Equal(t, []string{"OPS"}, got.Departments)
	assert.Nil(t, got.Locations)
	assert.Equal(t, 1000.0, *got.MinAmount)
	assert.Equal(t, 5000.0, *got.MaxAmount)
	assert.Nil(t, got.RiskMin)
	assert.Equal(t, 40.0, *got.RiskMax)
	require.NotNil(t, got.EffectiveFrom)
	assert.Equal(t, "2026-01-01", got.EffectiveFrom.Format("2006-01-02"))
	assert.Nil(t, got.EffectiveTo)

	missing, err := repo.GetByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRuleRepository_ListActive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	path := createPath(t, db.DB, entity.PathStep{Sequence: 1, ApproverType: entity.ApproverTypeIndividual, ApproverID: "u1", ExecutionMode: entity.ExecutionSerial, Active: true})
	repo := NewRuleRepository(db.DB, zap.NewNop())

	for _, r := range []*entity.DecisionRule{
		{Name: "a", TransactionType: entity.TxnTypePurchaseOrder, Active: true, PathID: path.ID},
		{Name: "b", TransactionType: entity.TxnTypePurchaseOrder, Active: false, PathID: path.ID},
		{Name: "c", TransactionType: entity.TxnTypeVendorBill, Active: true, PathID: path.ID},
		{Name: "d", TransactionType: entity.TxnTypePurchaseOrder, Active: true, PathID: path.ID},
	} {
		require.NoError(t, repo.Create(ctx, r))
	}

	rules, err := repo.ListActive(ctx, entity.TxnTypePurchaseOrder)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].Name)
	assert.Equal(t, "d", rules[1].Name)
}

func TestPathRepository_StepsSortedBySequence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	path := createPath(t, db.DB,
		entity.PathStep{Sequence: 3, Name: "CFO", ApproverType: entity.ApproverTypeIndividual, ApproverID: "cfo", ExecutionMode: entity.ExecutionSerial, Active: true},
		entity.PathStep{Sequence: 1, Name: "Manager", ApproverType: entity.ApproverTypeRole, Role: "manager", ExecutionMode: entity.ExecutionParallelAny, CommentRequired: true, Active: true},
		entity.PathStep{Sequence: 2, Name: "Unused", ApproverType: entity.ApproverTypeIndividual, ApproverID: "x", ExecutionMode: entity.ExecutionSerial, Active: false},
	)

	repo := NewPathRepository(db.DB, zap.NewNop())
	got, err := repo.GetByID(ctx, path.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{got.Steps[0].Sequence, got.Steps[1].Sequence, got.Steps[2].Sequence})
	assert.Equal(t, "manager", got.Steps[0].Role)
	assert.True(t, got.Steps[0].CommentRequired)
	assert.Len(t, got.ActiveSteps(), 2)

	step, err := repo.GetStep(ctx, got.Steps[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "cfo", step.ApproverID)

	missing, err := repo.GetByID(ctx, 4242)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTaskRepository_ResolveOnlyOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTaskRepository(db.DB, zap.NewNop())

	expires := time.Now().Add(time.Hour)
	task := &entity.ApprovalTask{
		TransactionType: entity.TxnTypePurchaseOrder,
		TransactionID:   "PO-1",
		PathID:          1,
		StepID:          1,
		Sequence:        1,
		ApproverID:      "u1",
		Status:          entity.TaskStatusPending,
		Token:           "tok-1",
		TokenExpiresAt:  &expires,
	}
	require.NoError(t, repo.Create(ctx, task))

	byToken, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, byToken)
	assert.Equal(t, task.ID, byToken.ID)

	ok, err := repo.Resolve(ctx, task.ID, entity.TaskStatusApproved, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Resolve(ctx, task.ID, entity.TaskStatusRejected, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "a resolved task cannot be resolved again")

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusApproved, got.Status)
	assert.NotNil(t, got.CompletedAt)

	require.NoError(t, repo.SetToken(ctx, task.ID, "", nil))
	gone, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestTaskRepository_FindAndCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTaskRepository(db.DB, zap.NewNop())
	ref := entity.TransactionRef{Type: entity.TxnTypeVendorBill, ID: "VB-7"}

	var ids []int64
	for i, approver := range []string{"a", "b", "c"} {
		task := &entity.ApprovalTask{
			TransactionType: ref.Type,
			TransactionID:   ref.ID,
			PathID:          1,
			StepID:          int64(i/2 + 1),
			Sequence:        i/2 + 1,
			ApproverID:      approver,
			Status:          entity.TaskStatusPending,
		}
		require.NoError(t, repo.Create(ctx, task))
		ids = append(ids, task.ID)
	}

	n, err := repo.CountPending(ctx, ref, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = repo.Resolve(ctx, ids[0], entity.TaskStatusApproved, time.Now())
	require.NoError(t, err)

	n, err = repo.CountPending(ctx, ref, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.CountForSequence(ctx, ref, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := repo.Find(ctx, entity.TaskFilter{
		TransactionType: ref.Type,
		TransactionID:   ref.ID,
		Status:          entity.TaskStatusPending,
		ExcludeTaskID:   ids[2],
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ApproverID)

	seq2, err := repo.Find(ctx, entity.TaskFilter{TransactionID: ref.ID, Sequence: intp(2)})
	require.NoError(t, err)
	require.Len(t, seq2, 1)
	assert.Equal(t, "c", seq2[0].ApproverID)
}

func TestTaskRepository_MaintenanceQueries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTaskRepository(db.DB, zap.NewNop())

	now := time.Now()
	expired := now.Add(-time.Hour)
	old := &entity.ApprovalTask{
		TransactionType: entity.TxnTypeInvoice, TransactionID: "INV-1", PathID: 1, StepID: 1, Sequence: 1,
		ApproverID: "u1", Status: entity.TaskStatusPending, Token: "old", TokenExpiresAt: &expired,
		CreatedAt: now.Add(-48 * time.Hour),
	}
	fresh := &entity.ApprovalTask{
		TransactionType: entity.TxnTypeInvoice, TransactionID: "INV-2", PathID: 1, StepID: 1, Sequence: 1,
		ApproverID: "u2", Status: entity.TaskStatusPending, CreatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))

	due, err := repo.ListReminderDue(ctx, now.Add(-24*time.Hour), now.Add(-24*time.Hour), 2, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, old.ID, due[0].ID)

	tokens, err := repo.ListPendingTokenExpiredBefore(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, old.ID, tokens[0].ID)

	recorded, err := repo.RecordReminder(ctx, old.ID, now)
	require.NoError(t, err)
	assert.True(t, recorded)
	marked, err := repo.MarkEscalated(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, marked)
	require.NoError(t, repo.SetActingApprover(ctx, old.ID, "delegate"))

	got, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReminderCount)
	assert.NotNil(t, got.LastRemindedAt)
	assert.True(t, got.Escalated)
	assert.Equal(t, "delegate", got.ActingApproverID)

	// Reminded just now, so not due again until the interval passes
	due, err = repo.ListReminderDue(ctx, now.Add(-24*time.Hour), now.Add(-24*time.Hour), 2, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// A task decided after it was listed is left alone
	resolved, err := repo.Resolve(ctx, fresh.ID, entity.TaskStatusApproved, now)
	require.NoError(t, err)
	require.True(t, resolved)
	recorded, err = repo.RecordReminder(ctx, fresh.ID, now)
	require.NoError(t, err)
	assert.False(t, recorded)
	marked, err = repo.MarkEscalated(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, marked)

	got, err = repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ReminderCount)
	assert.False(t, got.Escalated)
}

func TestTaskRepository_ListEscalationDue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	paths := NewPathRepository(db.DB, zap.NewNop())
	repo := NewTaskRepository(db.DB, zap.NewNop())

	stepSLA := &entity.ApprovalPath{Name: "Step SLA", Active: true, Steps: []entity.PathStep{
		{Sequence: 1, ApproverType: entity.ApproverTypeIndividual, ApproverID: "a", ExecutionMode: entity.ExecutionSerial, SLAHours: 4, Active: true},
	}}
	pathSLA := &entity.ApprovalPath{Name: "Path SLA", SLAHours: 24, Active: true, Steps: []entity.PathStep{
		{Sequence: 1, ApproverType: entity.ApproverTypeIndividual, ApproverID: "b", ExecutionMode: entity.ExecutionSerial, Active: true},
	}}
	noSLA := &entity.ApprovalPath{Name: "No SLA", Active: true, Steps: []entity.PathStep{
		{Sequence: 1, ApproverType: entity.ApproverTypeIndividual, ApproverID: "c", ExecutionMode: entity.ExecutionSerial, Active: true},
	}}
	for _, p := range []*entity.ApprovalPath{stepSLA, pathSLA, noSLA} {
		require.NoError(t, paths.Create(ctx, p))
	}

	now := time.Now()
	newTask := func(path *entity.ApprovalPath, txnID string, age time.Duration) *entity.ApprovalTask {
		task := &entity.ApprovalTask{
			TransactionType: entity.TxnTypeInvoice, TransactionID: txnID, PathID: path.ID, StepID: path.Steps[0].ID,
			Sequence: 1, ApproverID: path.Steps[0].ApproverID, Status: entity.TaskStatusPending, CreatedAt: now.Add(-age),
		}
		require.NoError(t, repo.Create(ctx, task))
		return task
	}

	overStep := newTask(stepSLA, "INV-1", 5*time.Hour)
	newTask(stepSLA, "INV-2", 3*time.Hour)
	overPath := newTask(pathSLA, "INV-3", 30*time.Hour)
	newTask(pathSLA, "INV-4", 5*time.Hour)
	newTask(noSLA, "INV-5", 500*time.Hour)

	due, err := repo.ListEscalationDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, overPath.ID, due[0].ID, "oldest first")
	assert.Equal(t, overStep.ID, due[1].ID)

	marked, err := repo.MarkEscalated(ctx, overPath.ID)
	require.NoError(t, err)
	require.True(t, marked)
	due, err = repo.ListEscalationDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, overStep.ID, due[0].ID)
}

func TestHistoryRepository_AppendOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewHistoryRepository(db.DB, zap.NewNop())
	ref := entity.TransactionRef{Type: entity.TxnTypeSalesOrder, ID: "SO-1"}

	taskID := int64(11)
	for _, action := range []string{entity.ActionSubmit, entity.ActionApprove} {
		require.NoError(t, repo.Create(ctx, &entity.ApprovalHistory{
			TransactionType: ref.Type,
			TransactionID:   ref.ID,
			TaskID:          &taskID,
			Sequence:        intp(1),
			Action:          action,
			ActorID:         "u1",
			Method:          entity.MethodUI,
		}))
	}

	records, err := repo.GetByTransaction(ctx, ref)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, entity.ActionSubmit, records[0].Action)
	assert.Equal(t, entity.ActionApprove, records[1].Action)
	assert.Equal(t, taskID, *records[1].TaskID)
	assert.Equal(t, 1, *records[1].Sequence)
}

func TestDelegationRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewDelegationRepository(db.DB, zap.NewNop())

	d := &entity.Delegation{
		ApproverID: "boss",
		DelegateID: "deputy",
		StartDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Subsidiary: "1",
		Active:     true,
		CreatedBy:  "boss",
	}
	require.NoError(t, repo.Create(ctx, d))

	active, err := repo.ListActiveForApprover(ctx, "boss")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "deputy", active[0].DelegateID)
	assert.Equal(t, 10, active[0].DurationDays())

	require.NoError(t, repo.Deactivate(ctx, d.ID))

	active, err = repo.ListActiveForApprover(ctx, "boss")
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestTransactionRepository_ApprovalState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db.DB, zap.NewNop())

	txn := &entity.Transaction{
		Type:       entity.TxnTypePurchaseOrder,
		ID:         "PO-9",
		Subsidiary: "1",
		Department: "OPS",
		Amount:     1200,
		RiskScore:  floatp(12.5),
		CreatedBy:  "alice",
	}
	require.NoError(t, repo.Create(ctx, txn))

	ruleID, pathID := int64(3), int64(4)
	state := entity.ApprovalState{
		Status:           entity.ApprovalStatusPendingApproval,
		CurrentStep:      intp(1),
		CurrentApprover:  "bob",
		MatchedRuleID:    &ruleID,
		MatchedPathID:    &pathID,
		MatchExplanation: "Matched rule 'x' (Priority 1)",
	}
	require.NoError(t, repo.UpdateApprovalState(ctx, txn.Ref(), state))

	got, err := repo.Load(ctx, txn.Ref())
	require.NoError(t, err)
	assert.Equal(t, state, got.Approval)
	assert.Equal(t, 12.5, *got.RiskScore)
	assert.Equal(t, "alice", got.Requester())

	err = repo.UpdateApprovalState(ctx, entity.TransactionRef{Type: entity.TxnTypePurchaseOrder, ID: "nope"}, state)
	assert.Equal(t, workflow.KindNotFound, workflow.KindOf(err))

	missing, err := repo.Load(ctx, entity.TransactionRef{Type: entity.TxnTypePurchaseOrder, ID: "nope"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTransactionRepository_ValidateSchema(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db.DB, zap.NewNop())

	require.NoError(t, repo.ValidateSchema(ctx))

	_, err := db.Exec(`ALTER TABLE transactions DROP COLUMN match_explanation`)
	require.NoError(t, err)

	err = repo.ValidateSchema(ctx)
	require.Error(t, err)
	assert.Equal(t, workflow.KindConfiguration, workflow.KindOf(err))
	assert.Contains(t, err.Error(), "match_explanation")
}

func TestIdentityRepository_UsersWithRole(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewIdentityRepository(db.DB, zap.NewNop())

	require.NoError(t, repo.AssignRole(ctx, "zed", "controller"))
	require.NoError(t, repo.AssignRole(ctx, "amy", "controller"))
	require.NoError(t, repo.AssignRole(ctx, "kim", "controller"))
	require.NoError(t, repo.RevokeRole(ctx, "kim", "controller"))

	users, err := repo.UsersWithRole(ctx, "controller")
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "zed"}, users)

	require.NoError(t, repo.AssignRole(ctx, "kim", "controller"))
	users, err = repo.UsersWithRole(ctx, "controller")
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "kim", "zed"}, users)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tm := sqlite.NewDB(db.DB, zap.NewNop())
	history := NewHistoryRepository(db.DB, zap.NewNop())
	ref := entity.TransactionRef{Type: entity.TxnTypeInvoice, ID: "INV-5"}

	boom := errors.New("boom")
	err := tm.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, history.Create(txCtx, &entity.ApprovalHistory{
			TransactionType: ref.Type,
			TransactionID:   ref.ID,
			Action:          entity.ActionSubmit,
			ActorID:         "u1",
			Method:          entity.MethodUI,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	records, err := history.GetByTransaction(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, records)
}
