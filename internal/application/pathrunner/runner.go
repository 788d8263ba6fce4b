// Package pathrunner instantiates approval paths as tasks and drives them
// step by step to completion.
package pathrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-routing/internal/application/delegation"
	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DelegateFinder looks up an approver's active substitute
type DelegateFinder interface {
	FindActiveDelegation(ctx context.Context, lookup delegation.Lookup) (*entity.Delegation, error)
}

// SystemActor is recorded on history entries the runner writes on its own
const SystemActor = "system"

// Outcome reports what a runner call changed, so the caller can notify
// after its transaction commits
type Outcome struct {
	Created   []*entity.ApprovalTask
	Sequence  int
	Completed bool
	Stalled   bool
	NoOp      bool
}

// CancelOptions narrows a cancellation
type CancelOptions struct {
	Sequence      *int
	ExcludeTaskID int64

	// LogHistory writes one cancel entry per task. Leave it off when the
	// triggering action's own entry already describes the cancellation.
	LogHistory bool
	ActorID    string
	Comment    string
	Method     string
}

// Runner executes approval paths. It holds no state between calls.
type Runner struct {
	tasks       port.TaskRepository
	paths       port.PathRepository
	history     port.HistoryRepository
	store       port.TransactionStore
	identity    port.IdentityResolver
	delegations DelegateFinder
	tokens      port.TokenIssuer
	metrics     port.Metrics
	logger      Logger
	now         func() time.Time
}

// Deps groups the runner's collaborators
type Deps struct {
	Tasks       port.TaskRepository
	Paths       port.PathRepository
	History     port.HistoryRepository
	Store       port.TransactionStore
	Identity    port.IdentityResolver
	Delegations DelegateFinder
	Tokens      port.TokenIssuer
	Metrics     port.Metrics
	Logger      Logger
	Now         func() time.Time
}

// New creates a Runner
func New(deps Deps) *Runner {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		tasks:       deps.Tasks,
		paths:       deps.Paths,
		history:     deps.History,
		store:       deps.Store,
		identity:    deps.Identity,
		delegations: deps.Delegations,
		tokens:      deps.Tokens,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         now,
	}
}

// StartPath activates the first active step of path for txn and moves the
// transaction to pending_approval. The matched rule, path and explanation
// must already be set on txn.Approval; txn is updated in place.
func (r *Runner) StartPath(ctx context.Context, txn *entity.Transaction, path *entity.ApprovalPath) (*Outcome, error) {
	steps := path.ActiveSteps()
	if len(steps) == 0 {
		return nil, workflow.ConfigurationError("path '%s' has no active steps", path.Name)
	}
	first := steps[0]

	created, err := r.CreateTasksForStep(ctx, txn, first)
	if err != nil {
		return nil, err
	}

	state := txn.Approval
	state.Status = entity.ApprovalStatusPendingApproval
	seq := first.Sequence
	state.CurrentStep = &seq
	state.CurrentApprover = currentApprover(created)

	if err := r.store.UpdateApprovalState(ctx, txn.Ref(), state); err != nil {
		return nil, fmt.Errorf("update approval state: %w", err)
	}
	txn.Approval = state

	r.logger.Info("Approval path started",
		"transaction_type", txn.Type,
		"transaction_id", txn.ID,
		"path_id", path.ID,
		"sequence", seq,
		"tasks", len(created),
	)

	return &Outcome{Created: created, Sequence: seq, Stalled: len(created) == 0}, nil
}

// AdvanceToNextStep moves the transaction past fromSeq. Duplicate or
// concurrent calls are no-ops: the call does nothing when the recorded
// current step is no longer fromSeq or the next step already has tasks.
// Without a next step the path is complete and the transaction approved.
func (r *Runner) AdvanceToNextStep(ctx context.Context, ref entity.TransactionRef, fromSeq int) (*Outcome, error) {
	txn, err := r.store.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if txn == nil {
		return nil, workflow.NotFoundError("transaction %s/%s not found", ref.Type, ref.ID)
	}

	state := txn.Approval
	if state.Status != entity.ApprovalStatusPendingApproval || state.CurrentStep == nil || *state.CurrentStep != fromSeq {
		r.logger.Info("Transaction already advanced, skipping",
			"transaction_id", ref.ID,
			"from_sequence", fromSeq,
			"status", state.Status,
		)
		return &Outcome{NoOp: true}, nil
	}
	if state.MatchedPathID == nil {
		return nil, workflow.ConfigurationError("transaction %s/%s has no matched path", ref.Type, ref.ID)
	}

	path, err := r.paths.GetByID(ctx, *state.MatchedPathID)
	if err != nil {
		return nil, fmt.Errorf("load path: %w", err)
	}
	if path == nil {
		return nil, workflow.ConfigurationError("path %d no longer exists", *state.MatchedPathID)
	}

	next, ok := path.NextStepAfter(fromSeq)
	if !ok {
		return r.complete(ctx, txn)
	}

	existing, err := r.tasks.CountForSequence(ctx, ref, next.Sequence)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		r.logger.Info("Next step already has tasks, skipping",
			"transaction_id", ref.ID,
			"sequence", next.Sequence,
		)
		return &Outcome{NoOp: true}, nil
	}

	created, err := r.CreateTasksForStep(ctx, txn, next)
	if err != nil {
		return nil, err
	}

	seq := next.Sequence
	state.CurrentStep = &seq
	state.CurrentApprover = currentApprover(created)
	if err := r.store.UpdateApprovalState(ctx, ref, state); err != nil {
		return nil, fmt.Errorf("update approval state: %w", err)
	}

	return &Outcome{Created: created, Sequence: seq, Stalled: len(created) == 0}, nil
}

func (r *Runner) complete(ctx context.Context, txn *entity.Transaction) (*Outcome, error) {
	current, err := workflow.ParseState(txn.Approval.Status)
	if err != nil {
		return nil, workflow.StateError("transaction has unknown approval status %q", txn.Approval.Status)
	}
	machine := workflow.NewTransactionMachine(current)
	if err := machine.Fire(ctx, workflow.TriggerApprove); err != nil {
		return nil, err
	}

	state := txn.Approval
	state.Status = machine.State().String()
	state.CurrentStep = nil
	state.CurrentApprover = ""

	if err := r.store.UpdateApprovalState(ctx, txn.Ref(), state); err != nil {
		return nil, fmt.Errorf("update approval state: %w", err)
	}

	r.logger.Info("Approval path completed",
		"transaction_type", txn.Type,
		"transaction_id", txn.ID,
	)
	return &Outcome{Completed: true}, nil
}

// IsStepComplete reports whether no task of the step is still pending
func (r *Runner) IsStepComplete(ctx context.Context, ref entity.TransactionRef, sequence int) (bool, error) {
	n, err := r.tasks.CountPending(ctx, ref, sequence)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// CancelPendingTasks cancels the pending tasks of a transaction matching
// opts and returns how many were cancelled. Tasks resolved by a racing
// request are skipped. Per-task failures are logged and do not stop the rest.
func (r *Runner) CancelPendingTasks(ctx context.Context, ref entity.TransactionRef, opts CancelOptions) (int, error) {
	pending, err := r.tasks.Find(ctx, entity.TaskFilter{
		TransactionType: ref.Type,
		TransactionID:   ref.ID,
		Status:          entity.TaskStatusPending,
		Sequence:        opts.Sequence,
		ExcludeTaskID:   opts.ExcludeTaskID,
	})
	if err != nil {
		return 0, fmt.Errorf("find pending tasks: %w", err)
	}

	cancelled := 0
	for _, task := range pending {
		now := r.now()
		ok, err := r.tasks.Resolve(ctx, task.ID, entity.TaskStatusCancelled, now)
		if err != nil {
			r.logger.Error("Failed to cancel task", "task_id", task.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		cancelled++

		if err := r.tokens.Invalidate(ctx, task.ID); err != nil {
			r.logger.Error("Failed to invalidate token", "task_id", task.ID, "error", err)
		}

		if opts.LogHistory {
			taskID, seq := task.ID, task.Sequence
			err := r.history.Create(ctx, &entity.ApprovalHistory{
				TransactionType:  ref.Type,
				TransactionID:    ref.ID,
				TaskID:           &taskID,
				Sequence:         &seq,
				Action:           entity.ActionCancel,
				ActorID:          actorOrSystem(opts.ActorID),
				ActingApproverID: task.ActingApproverID,
				Comment:          opts.Comment,
				Method:           methodOrAPI(opts.Method),
				Timestamp:        now,
			})
			if err != nil {
				r.logger.Error("Failed to log cancellation", "task_id", task.ID, "error", err)
			}
		}
	}

	return cancelled, nil
}

// CreateTasksForStep creates the step's tasks for txn. An empty approver
// list stalls the step: it is logged and reported, and no task is created.
func (r *Runner) CreateTasksForStep(ctx context.Context, txn *entity.Transaction, step entity.PathStep) ([]*entity.ApprovalTask, error) {
	approvers, err := r.ResolveApprovers(ctx, step)
	if err != nil {
		return nil, err
	}
	if len(approvers) == 0 {
		r.logger.Error("Step has no resolvable approvers, workflow stalled",
			"transaction_type", txn.Type,
			"transaction_id", txn.ID,
			"path_id", step.PathID,
			"sequence", step.Sequence,
			"role", step.Role,
		)
		if r.metrics != nil {
			r.metrics.StepStalled(txn.Type, step.PathID, step.Sequence)
		}
		return nil, nil
	}

	if step.ExecutionMode == entity.ExecutionSerial || step.ExecutionMode == "" {
		approvers = approvers[:1]
	}

	created := make([]*entity.ApprovalTask, 0, len(approvers))
	for _, approverID := range approvers {
		task := &entity.ApprovalTask{
			TransactionType: txn.Type,
			TransactionID:   txn.ID,
			PathID:          step.PathID,
			StepID:          step.ID,
			Sequence:        step.Sequence,
			ApproverID:      approverID,
			Status:          entity.TaskStatusPending,
			CreatedAt:       r.now(),
		}

		delegated := r.findDelegate(ctx, txn, approverID)
		if delegated != nil {
			task.ActingApproverID = delegated.DelegateID
		}

		token := r.tokens.Generate()
		task.Token = token.Value
		expires := token.ExpiresAt
		task.TokenExpiresAt = &expires

		if err := r.tasks.Create(ctx, task); err != nil {
			return nil, fmt.Errorf("create task for %s: %w", approverID, err)
		}

		if delegated != nil {
			r.logDelegation(ctx, task, delegated)
		}
		created = append(created, task)
	}

	if r.metrics != nil {
		r.metrics.TasksCreated(step.ExecutionMode, len(created))
	}
	return created, nil
}

// ResolveApprovers expands the step's approver specification to individual
// identities, in a stable order without duplicates
func (r *Runner) ResolveApprovers(ctx context.Context, step entity.PathStep) ([]string, error) {
	switch step.ApproverType {
	case entity.ApproverTypeIndividual:
		if step.ApproverID == "" {
			return nil, nil
		}
		return []string{step.ApproverID}, nil
	case entity.ApproverTypeRole:
		if step.Role == "" {
			return nil, nil
		}
		users, err := r.identity.UsersWithRole(ctx, step.Role)
		if err != nil {
			return nil, fmt.Errorf("resolve role %s: %w", step.Role, err)
		}
		return dedupe(users), nil
	default:
		return nil, workflow.ConfigurationError("step %d has unknown approver type %q", step.Sequence, step.ApproverType)
	}
}

// findDelegate is best-effort: a failed lookup routes to the original approver
func (r *Runner) findDelegate(ctx context.Context, txn *entity.Transaction, approverID string) *entity.Delegation {
	if r.delegations == nil {
		return nil
	}
	d, err := r.delegations.FindActiveDelegation(ctx, delegation.Lookup{
		ApproverID:      approverID,
		Subsidiary:      txn.Subsidiary,
		TransactionType: txn.Type,
	})
	if err != nil {
		r.logger.Error("Delegation lookup failed, routing to original approver",
			"approver_id", approverID,
			"error", err,
		)
		return nil
	}
	return d
}

func (r *Runner) logDelegation(ctx context.Context, task *entity.ApprovalTask, d *entity.Delegation) {
	taskID, seq := task.ID, task.Sequence
	err := r.history.Create(ctx, &entity.ApprovalHistory{
		TransactionType:  task.TransactionType,
		TransactionID:    task.TransactionID,
		TaskID:           &taskID,
		Sequence:         &seq,
		Action:           entity.ActionDelegate,
		ActorID:          task.ApproverID,
		ActingApproverID: d.DelegateID,
		Comment:          fmt.Sprintf("Routed to delegate under delegation %d", d.ID),
		Method:           entity.MethodAPI,
		Timestamp:        task.CreatedAt,
	})
	if err != nil {
		r.logger.Error("Failed to log delegation", "task_id", task.ID, "error", err)
	}
}

func currentApprover(tasks []*entity.ApprovalTask) string {
	if len(tasks) == 0 {
		return ""
	}
	return tasks[0].NotifyTarget()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func actorOrSystem(id string) string {
	if id == "" {
		return SystemActor
	}
	return id
}

func methodOrAPI(m string) string {
	if m == "" {
		return entity.MethodAPI
	}
	return m
}
