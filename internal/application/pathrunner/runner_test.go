package pathrunner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-routing/internal/application/delegation"
	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/workflow"
)

// In-memory collaborators

type fakeTaskRepo struct {
	tasks []*entity.ApprovalTask
}

func (m *fakeTaskRepo) Create(ctx context.Context, task *entity.ApprovalTask) error {
	task.ID = int64(len(m.tasks) + 1)
	cp := *task
	m.tasks = append(m.tasks, &cp)
	return nil
}

func (m *fakeTaskRepo) GetByID(ctx context.Context, id int64) (*entity.ApprovalTask, error) {
	for _, t := range m.tasks {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *fakeTaskRepo) GetByToken(ctx context.Context, token string) (*entity.ApprovalTask, error) {
	for _, t := range m.tasks {
		if t.Token == token && token != "" {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *fakeTaskRepo) Find(ctx context.Context, f entity.TaskFilter) ([]*entity.ApprovalTask, error) {
	var out []*entity.ApprovalTask
	for _, t := range m.tasks {
		if f.TransactionType != "" && t.TransactionType != f.TransactionType {
			continue
		}
		if f.TransactionID != "" && t.TransactionID != f.TransactionID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Sequence != nil && t.Sequence != *f.Sequence {
			continue
		}
		if f.ExcludeTaskID != 0 && t.ID == f.ExcludeTaskID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *fakeTaskRepo) CountPending(ctx context.Context, ref entity.TransactionRef, seq int) (int, error) {
	n := 0
	for _, t := range m.tasks {
		if t.TransactionID == ref.ID && t.Sequence == seq && t.Status == entity.TaskStatusPending {
			n++
		}
	}
	return n, nil
}

func (m *fakeTaskRepo) CountForSequence(ctx context.Context, ref entity.TransactionRef, seq int) (int, error) {
	n := 0
	for _, t := range m.tasks {
		if t.TransactionID == ref.ID && t.Sequence == seq {
			n++
		}
	}
	return n, nil
}

func (m *fakeTaskRepo) Resolve(ctx context.Context, id int64, status string, at time.Time) (bool, error) {
	for _, t := range m.tasks {
		if t.ID == id && t.Status == entity.TaskStatusPending {
			t.Status = status
			t.CompletedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *fakeTaskRepo) SetActingApprover(ctx context.Context, id int64, acting string) error {
	return nil
}

func (m *fakeTaskRepo) SetToken(ctx context.Context, id int64, token string, exp *time.Time) error {
	for _, t := range m.tasks {
		if t.ID == id {
			t.Token = token
			t.TokenExpiresAt = exp
		}
	}
	return nil
}

func (m *fakeTaskRepo) RecordReminder(ctx context.Context, id int64, at time.Time) (bool, error) {
	return true, nil
}

func (m *fakeTaskRepo) MarkEscalated(ctx context.Context, id int64) (bool, error) {
	return true, nil
}

func (m *fakeTaskRepo) ListReminderDue(ctx context.Context, createdBefore, remindedBefore time.Time, maxReminders, limit int) ([]*entity.ApprovalTask, error) {
	return nil, nil
}

func (m *fakeTaskRepo) ListEscalationDue(ctx context.Context, now time.Time, limit int) ([]*entity.ApprovalTask, error) {
	return nil, nil
}

func (m *fakeTaskRepo) ListPendingTokenExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entity.ApprovalTask, error) {
	return nil, nil
}

func (m *fakeTaskRepo) byStatus(status string) int {
	n := 0
	for _, t := range m.tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

type fakePathRepo struct {
	paths map[int64]*entity.ApprovalPath
}

func (m *fakePathRepo) Create(ctx context.Context, p *entity.ApprovalPath) error {
	m.paths[p.ID] = p
	return nil
}

func (m *fakePathRepo) GetByID(ctx context.Context, id int64) (*entity.ApprovalPath, error) {
	return m.paths[id], nil
}

func (m *fakePathRepo) GetStep(ctx context.Context, id int64) (*entity.PathStep, error) {
	return nil, nil
}

type fakeHistoryRepo struct {
	entries []*entity.ApprovalHistory
}

func (m *fakeHistoryRepo) Create(ctx context.Context, h *entity.ApprovalHistory) error {
	m.entries = append(m.entries, h)
	return nil
}

func (m *fakeHistoryRepo) GetByTransaction(ctx context.Context, ref entity.TransactionRef) ([]*entity.ApprovalHistory, error) {
	return m.entries, nil
}

type fakeStore struct {
	txns map[string]*entity.Transaction
}

func (m *fakeStore) Load(ctx context.Context, ref entity.TransactionRef) (*entity.Transaction, error) {
	t, ok := m.txns[ref.ID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *fakeStore) UpdateApprovalState(ctx context.Context, ref entity.TransactionRef, s entity.ApprovalState) error {
	t, ok := m.txns[ref.ID]
	if !ok {
		return workflow.NotFoundError("missing")
	}
	t.Approval = s
	return nil
}

func (m *fakeStore) ValidateSchema(ctx context.Context) error { return nil }

type fakeIdentity struct {
	roles map[string][]string
	err   error
}

func (m *fakeIdentity) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	return m.roles[role], m.err
}

type fakeTokens struct {
	n           int
	invalidated []int64
}

func (m *fakeTokens) Generate() port.IssuedToken {
	m.n++
	return port.IssuedToken{Value: fmt.Sprintf("tok-%d", m.n), ExpiresAt: time.Now().Add(time.Hour)}
}

func (m *fakeTokens) Refresh(ctx context.Context, taskID int64) (port.IssuedToken, error) {
	return m.Generate(), nil
}

func (m *fakeTokens) Invalidate(ctx context.Context, taskID int64) error {
	m.invalidated = append(m.invalidated, taskID)
	return nil
}

type fakeDelegations struct {
	byApprover map[string]*entity.Delegation
	err        error
}

func (m *fakeDelegations) FindActiveDelegation(ctx context.Context, l delegation.Lookup) (*entity.Delegation, error) {
	if m.err != nil {
		return nil, m.err
	}
	d := m.byApprover[l.ApproverID]
	if d != nil && !d.MatchesScope(l.Subsidiary, l.TransactionType) {
		return nil, nil
	}
	return d, nil
}

type fakeMetrics struct {
	stalled int
	created int
}

func (m *fakeMetrics) RuleMatched(txnType string, fallback bool)              {}
func (m *fakeMetrics) RuleNotMatched(txnType string)                          {}
func (m *fakeMetrics) StepStalled(txnType string, pathID int64, sequence int) { m.stalled++ }
func (m *fakeMetrics) TasksCreated(mode string, count int)                    { m.created += count }
func (m *fakeMetrics) ActionCompleted(action string, success bool)            {}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type harness struct {
	runner      *Runner
	tasks       *fakeTaskRepo
	paths       *fakePathRepo
	history     *fakeHistoryRepo
	store       *fakeStore
	identity    *fakeIdentity
	tokens      *fakeTokens
	delegations *fakeDelegations
	metrics     *fakeMetrics
	txn         *entity.Transaction
}

func newHarness(steps ...entity.PathStep) *harness {
	path := &entity.ApprovalPath{ID: 10, Name: "Test path", Active: true, Steps: steps}
	for i := range path.Steps {
		path.Steps[i].PathID = path.ID
		path.Steps[i].ID = int64(100 + i)
	}

	pathID := path.ID
	txn := &entity.Transaction{
		Type:       entity.TxnTypePurchaseOrder,
		ID:         "PO-1",
		Subsidiary: "S1",
		Amount:     1200,
		CreatedBy:  "creator",
		Approval:   entity.ApprovalState{Status: entity.ApprovalStatusDraft, MatchedPathID: &pathID},
	}

	h := &harness{
		tasks:       &fakeTaskRepo{},
		paths:       &fakePathRepo{paths: map[int64]*entity.ApprovalPath{path.ID: path}},
		history:     &fakeHistoryRepo{},
		store:       &fakeStore{txns: map[string]*entity.Transaction{txn.ID: txn}},
		identity:    &fakeIdentity{roles: map[string][]string{}},
		tokens:      &fakeTokens{},
		delegations: &fakeDelegations{byApprover: map[string]*entity.Delegation{}},
		metrics:     &fakeMetrics{},
	}
	h.runner = New(Deps{
		Tasks:       h.tasks,
		Paths:       h.paths,
		History:     h.history,
		Store:       h.store,
		Identity:    h.identity,
		Delegations: h.delegations,
		Tokens:      h.tokens,
		Metrics:     h.metrics,
		Logger:      &mockLogger{},
	})
	h.txn = txn
	return h
}

func (h *harness) start(t *testing.T) *Outcome {
	t.Helper()
	txn, err := h.store.Load(context.Background(), h.txn.Ref())
	require.NoError(t, err)
	out, err := h.runner.StartPath(context.Background(), txn, h.paths.paths[10])
	require.NoError(t, err)
	return out
}

func roleStep(seq int, role, mode string) entity.PathStep {
	return entity.PathStep{Sequence: seq, ApproverType: entity.ApproverTypeRole, Role: role, ExecutionMode: mode, Active: true}
}

func personStep(seq int, approver string) entity.PathStep {
	return entity.PathStep{Sequence: seq, ApproverType: entity.ApproverTypeIndividual, ApproverID: approver, ExecutionMode: entity.ExecutionSerial, Active: true}
}

func TestStartPath_SerialRoleTakesFirstApprover(t *testing.T) {
	h := newHarness(roleStep(1, "manager", entity.ExecutionSerial), personStep(2, "cfo"))
	h.identity.roles["manager"] = []string{"m1", "m2", "m3"}

	out := h.start(t)

	require.Len(t, out.Created, 1)
	assert.Equal(t, "m1", out.Created[0].ApproverID)
	assert.Equal(t, 1, out.Sequence)
	assert.NotEmpty(t, out.Created[0].Token)
	assert.NotNil(t, out.Created[0].TokenExpiresAt)

	state := h.store.txns["PO-1"].Approval
	assert.Equal(t, entity.ApprovalStatusPendingApproval, state.Status)
	assert.Equal(t, 1, *state.CurrentStep)
	assert.Equal(t, "m1", state.CurrentApprover)
}

func TestCreateTasksForStep_ParallelCreatesOnePerApprover(t *testing.T) {
	h := newHarness(roleStep(1, "reviewers", entity.ExecutionParallelAll))
	h.identity.roles["reviewers"] = []string{"r1", "r2", "r1", "r3"}

	out := h.start(t)

	require.Len(t, out.Created, 3)
	tokens := map[string]bool{}
	for _, task := range out.Created {
		tokens[task.Token] = true
	}
	assert.Len(t, tokens, 3, "each task gets its own token")
	assert.Equal(t, 3, h.metrics.created)
}

func TestCreateTasksForStep_DelegationSubstitution(t *testing.T) {
	h := newHarness(personStep(1, "boss"))
	h.delegations.byApprover["boss"] = &entity.Delegation{ID: 4, ApproverID: "boss", DelegateID: "deputy", Subsidiary: "S1", Active: true}

	out := h.start(t)

	require.Len(t, out.Created, 1)
	task := out.Created[0]
	assert.Equal(t, "boss", task.ApproverID)
	assert.Equal(t, "deputy", task.ActingApproverID)
	assert.Equal(t, "deputy", h.store.txns["PO-1"].Approval.CurrentApprover)

	require.Len(t, h.history.entries, 1)
	assert.Equal(t, entity.ActionDelegate, h.history.entries[0].Action)
	assert.Equal(t, "deputy", h.history.entries[0].ActingApproverID)
}

func TestCreateTasksForStep_DelegationOutOfScope(t *testing.T) {
	h := newHarness(personStep(1, "boss"))
	h.delegations.byApprover["boss"] = &entity.Delegation{ID: 4, ApproverID: "boss", DelegateID: "deputy", Subsidiary: "S2", Active: true}

	out := h.start(t)

	require.Len(t, out.Created, 1)
	assert.Empty(t, out.Created[0].ActingApproverID)
}

func TestCreateTasksForStep_DelegationLookupFailureIsBestEffort(t *testing.T) {
	h := newHarness(personStep(1, "boss"))
	h.delegations.err = errors.New("db down")

	out := h.start(t)

	require.Len(t, out.Created, 1)
	assert.Equal(t, "boss", out.Created[0].NotifyTarget())
}

func TestCreateTasksForStep_EmptyRoleStalls(t *testing.T) {
	h := newHarness(roleStep(1, "nobody", entity.ExecutionParallelAny))

	out := h.start(t)

	assert.Empty(t, out.Created)
	assert.True(t, out.Stalled)
	assert.Equal(t, 1, h.metrics.stalled)
	assert.Empty(t, h.tasks.tasks)
	assert.Equal(t, entity.ApprovalStatusPendingApproval, h.store.txns["PO-1"].Approval.Status)
}

func TestResolveApprovers_UnknownTypeIsConfigurationError(t *testing.T) {
	h := newHarness(personStep(1, "a"))

	_, err := h.runner.ResolveApprovers(context.Background(), entity.PathStep{Sequence: 1, ApproverType: "group"})
	assert.Equal(t, workflow.KindConfiguration, workflow.KindOf(err))
}

func TestStartPath_NoActiveSteps(t *testing.T) {
	h := newHarness(entity.PathStep{Sequence: 1, ApproverType: entity.ApproverTypeIndividual, ApproverID: "a", Active: false})

	_, err := h.runner.StartPath(context.Background(), h.txn, h.paths.paths[10])
	assert.Equal(t, workflow.KindConfiguration, workflow.KindOf(err))
}

func TestAdvanceToNextStep_Idempotent(t *testing.T) {
	h := newHarness(personStep(1, "a"), personStep(3, "b"))
	ctx := context.Background()
	out := h.start(t)

	_, err := h.tasks.Resolve(ctx, out.Created[0].ID, entity.TaskStatusApproved, time.Now())
	require.NoError(t, err)

	first, err := h.runner.AdvanceToNextStep(ctx, h.txn.Ref(), 1)
	require.NoError(t, err)
	require.Len(t, first.Created, 1)
	assert.Equal(t, 3, first.Sequence)

	second, err := h.runner.AdvanceToNextStep(ctx, h.txn.Ref(), 1)
	require.NoError(t, err)
	assert.True(t, second.NoOp)

	n, err := h.tasks.CountForSequence(ctx, h.txn.Ref(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "exactly one set of next-step tasks")
	assert.Equal(t, 3, *h.store.txns["PO-1"].Approval.CurrentStep)
}

func TestAdvanceToNextStep_TargetTasksExistGuard(t *testing.T) {
	h := newHarness(personStep(1, "a"), personStep(2, "b"))
	ctx := context.Background()
	h.start(t)

	// A racing request already created step 2 tasks without moving the pointer yet
	require.NoError(t, h.tasks.Create(ctx, &entity.ApprovalTask{TransactionType: h.txn.Type, TransactionID: h.txn.ID, Sequence: 2, Status: entity.TaskStatusPending}))

	out, err := h.runner.AdvanceToNextStep(ctx, h.txn.Ref(), 1)
	require.NoError(t, err)
	assert.True(t, out.NoOp)

	n, err := h.tasks.CountForSequence(ctx, h.txn.Ref(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAdvanceToNextStep_CompletesPath(t *testing.T) {
	h := newHarness(personStep(1, "a"))
	ctx := context.Background()
	h.start(t)

	out, err := h.runner.AdvanceToNextStep(ctx, h.txn.Ref(), 1)
	require.NoError(t, err)
	assert.True(t, out.Completed)

	state := h.store.txns["PO-1"].Approval
	assert.Equal(t, entity.ApprovalStatusApproved, state.Status)
	assert.Nil(t, state.CurrentStep)
	assert.Empty(t, state.CurrentApprover)
	assert.NotNil(t, state.MatchedPathID, "routing provenance is kept on approval")

	again, err := h.runner.AdvanceToNextStep(ctx, h.txn.Ref(), 1)
	require.NoError(t, err)
	assert.True(t, again.NoOp)
}

func TestAdvanceToNextStep_SkipsInactiveSteps(t *testing.T) {
	inactive := personStep(2, "skipped")
	inactive.Active = false
	h := newHarness(personStep(1, "a"), inactive, personStep(5, "c"))
	h.start(t)

	out, err := h.runner.AdvanceToNextStep(context.Background(), h.txn.Ref(), 1)
	require.NoError(t, err)
	require.Len(t, out.Created, 1)
	assert.Equal(t, "c", out.Created[0].ApproverID)
}

func TestParallelAny_CancelSiblings(t *testing.T) {
	h := newHarness(roleStep(1, "leads", entity.ExecutionParallelAny))
	h.identity.roles["leads"] = []string{"l1", "l2", "l3"}
	ctx := context.Background()
	out := h.start(t)
	require.Len(t, out.Created, 3)

	winner := out.Created[1]
	ok, err := h.tasks.Resolve(ctx, winner.ID, entity.TaskStatusApproved, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	seq := 1
	n, err := h.runner.CancelPendingTasks(ctx, h.txn.Ref(), CancelOptions{Sequence: &seq, ExcludeTaskID: winner.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, 1, h.tasks.byStatus(entity.TaskStatusApproved))
	assert.Equal(t, 2, h.tasks.byStatus(entity.TaskStatusCancelled))
	assert.Equal(t, 0, h.tasks.byStatus(entity.TaskStatusPending))
	assert.ElementsMatch(t, []int64{out.Created[0].ID, out.Created[2].ID}, h.tokens.invalidated)
	assert.Empty(t, h.history.entries, "side-effect cancellations are not logged")

	complete, err := h.runner.IsStepComplete(ctx, h.txn.Ref(), 1)
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestCancelPendingTasks_WithHistory(t *testing.T) {
	h := newHarness(roleStep(1, "team", entity.ExecutionParallelAll))
	h.identity.roles["team"] = []string{"a", "b"}
	ctx := context.Background()
	out := h.start(t)

	// One task was already approved by a racing request
	_, err := h.tasks.Resolve(ctx, out.Created[0].ID, entity.TaskStatusApproved, time.Now())
	require.NoError(t, err)

	n, err := h.runner.CancelPendingTasks(ctx, h.txn.Ref(), CancelOptions{LogHistory: true, ActorID: "creator", Comment: "recalled", Method: entity.MethodUI})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, entity.TaskStatusApproved, h.tasks.tasks[0].Status)

	require.Len(t, h.history.entries, 1)
	entry := h.history.entries[0]
	assert.Equal(t, entity.ActionCancel, entry.Action)
	assert.Equal(t, "creator", entry.ActorID)
	assert.Equal(t, entity.MethodUI, entry.Method)
}

func TestIsStepComplete_ParallelAllWaitsForEveryone(t *testing.T) {
	h := newHarness(roleStep(1, "team", entity.ExecutionParallelAll))
	h.identity.roles["team"] = []string{"a", "b"}
	ctx := context.Background()
	out := h.start(t)

	_, err := h.tasks.Resolve(ctx, out.Created[0].ID, entity.TaskStatusApproved, time.Now())
	require.NoError(t, err)
	complete, err := h.runner.IsStepComplete(ctx, h.txn.Ref(), 1)
	require.NoError(t, err)
	assert.False(t, complete)

	_, err = h.tasks.Resolve(ctx, out.Created[1].ID, entity.TaskStatusApproved, time.Now())
	require.NoError(t, err)
	complete, err = h.runner.IsStepComplete(ctx, h.txn.Ref(), 1)
	require.NoError(t, err)
	assert.True(t, complete)
}
