package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/approval-routing/internal/application/matcher"
	"github.com/garyjia/approval-routing/internal/application/pathrunner"
	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/event"
	"github.com/garyjia/approval-routing/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// EventPublisher hands committed workflow events to subscribers
type EventPublisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// Action names used in results, logs and metrics
const (
	ActionSubmit         = "submit"
	ActionApprove        = "approve"
	ActionReject         = "reject"
	ActionRecall         = "recall"
	ActionResubmit       = "resubmit"
	ActionPreviewMatch   = "preview_match"
	ActionDebugMatch     = "debug_match"
	ActionListPathSteps  = "list_path_steps"
	ActionApproveByToken = "approve_by_token"
	ActionRejectByToken  = "reject_by_token"
	ActionGetHistory     = "get_history"
	ActionListTasks      = "list_tasks"
)

// WorkflowService is the action surface of the approval engine. Every
// action returns a result; failures never escape as errors or panics.
type WorkflowService interface {
	Submit(ctx context.Context, ref entity.TransactionRef, actor port.Actor) *ActionResult
	Approve(ctx context.Context, req TaskActionRequest, actor port.Actor) *ActionResult
	Reject(ctx context.Context, req TaskActionRequest, actor port.Actor) *ActionResult
	Recall(ctx context.Context, ref entity.TransactionRef, comment string, actor port.Actor) *ActionResult
	Resubmit(ctx context.Context, ref entity.TransactionRef, actor port.Actor) *ActionResult
	PreviewMatch(ctx context.Context, mc entity.MatchContext) *ActionResult
	DebugMatch(ctx context.Context, mc entity.MatchContext) *ActionResult
	ListPathSteps(ctx context.Context, pathID int64) *ActionResult
	ApproveByToken(ctx context.Context, token, comment string) *ActionResult
	RejectByToken(ctx context.Context, token, comment string) *ActionResult
	GetHistory(ctx context.Context, ref entity.TransactionRef) *ActionResult
	ListTasks(ctx context.Context, ref entity.TransactionRef) *ActionResult

	// ApplySettings replaces the runtime policy; used when configuration is reloaded
	ApplySettings(settings Settings)
}

// TaskActionRequest identifies the task an approver acts on
type TaskActionRequest struct {
	TaskID  int64  `json:"task_id"`
	Comment string `json:"comment"`
	Method  string `json:"method"`
}

// ActionResult is the structured outcome of an action
type ActionResult struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message,omitempty"`
	ErrorKind workflow.Kind `json:"error_kind,omitempty"`
	Status    string        `json:"status,omitempty"`

	Match   *matcher.MatchResult      `json:"match,omitempty"`
	Trace   *matcher.DebugTrace       `json:"trace,omitempty"`
	Steps   []entity.PathStep         `json:"steps,omitempty"`
	Tasks   []*entity.ApprovalTask    `json:"tasks,omitempty"`
	History []*entity.ApprovalHistory `json:"history,omitempty"`
}

// Settings holds the controller's runtime policy
type Settings struct {
	AutoApproveEnabled bool
	AutoApproveMaxRisk float64

	// AllowPrivilegedSoDBypass lets a privileged actor approve a transaction
	// they created or requested. Off means segregation of duties binds everyone.
	AllowPrivilegedSoDBypass bool
}

// Deps groups the controller's collaborators
type Deps struct {
	Matcher   *matcher.Matcher
	Runner    *pathrunner.Runner
	Tasks     port.TaskRepository
	Paths     port.PathRepository
	History   port.HistoryRepository
	Store     port.TransactionStore
	Tokens    port.TokenIssuer
	TxManager port.TransactionManager
	Events    EventPublisher
	Metrics   port.Metrics
	Logger    Logger
	Now       func() time.Time
}

type workflowServiceImpl struct {
	matcher   *matcher.Matcher
	runner    *pathrunner.Runner
	tasks     port.TaskRepository
	paths     port.PathRepository
	history   port.HistoryRepository
	store     port.TransactionStore
	tokens    port.TokenIssuer
	txManager port.TransactionManager
	events    EventPublisher
	metrics   port.Metrics
	logger    Logger
	now       func() time.Time

	mu       sync.RWMutex
	settings Settings
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(deps Deps, settings Settings) WorkflowService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &workflowServiceImpl{
		matcher:   deps.Matcher,
		runner:    deps.Runner,
		tasks:     deps.Tasks,
		paths:     deps.Paths,
		history:   deps.History,
		store:     deps.Store,
		tokens:    deps.Tokens,
		txManager: deps.TxManager,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       now,
		settings:  settings,
	}
}

// ApplySettings implements WorkflowService
func (s *workflowServiceImpl) ApplySettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func (s *workflowServiceImpl) currentSettings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// actionScope collects events raised inside a database transaction so they
// are published only after it commits
type actionScope struct {
	events []*event.Event
}

func (a *actionScope) raise(evt *event.Event) {
	a.events = append(a.events, evt)
}

// run executes fn in a database transaction and converts its outcome into
// an ActionResult. Panics are recovered into internal failures.
func (s *workflowServiceImpl) run(ctx context.Context, action string, fn func(ctx context.Context, scope *actionScope) (*ActionResult, error)) (result *ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Action panicked", "action", action, "panic", r)
			result = failure(&workflow.Error{Kind: workflow.KindInternal, Message: "internal error"})
		}
		s.recordAction(action, result != nil && result.Success)
	}()

	scope := &actionScope{}
	var res *ActionResult
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		res, err = fn(txCtx, scope)
		return err
	})
	if err != nil {
		return s.fail(action, err)
	}

	if s.events != nil {
		for _, evt := range scope.events {
			s.events.DispatchAsync(ctx, evt)
		}
	}
	return res
}

// read executes a read-only action outside any database transaction
func (s *workflowServiceImpl) read(ctx context.Context, action string, fn func(ctx context.Context) (*ActionResult, error)) (result *ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Action panicked", "action", action, "panic", r)
			result = failure(&workflow.Error{Kind: workflow.KindInternal, Message: "internal error"})
		}
		s.recordAction(action, result != nil && result.Success)
	}()

	res, err := fn(ctx)
	if err != nil {
		return s.fail(action, err)
	}
	return res
}

func (s *workflowServiceImpl) fail(action string, err error) *ActionResult {
	kind := workflow.KindOf(err)
	if kind == workflow.KindInternal {
		s.logger.Error("Action failed", "action", action, "error", err)
		return failure(&workflow.Error{Kind: kind, Message: "internal error"})
	}
	s.logger.Info("Action refused", "action", action, "kind", kind, "reason", err.Error())
	return failure(err)
}

func failure(err error) *ActionResult {
	msg := err.Error()
	var wfErr *workflow.Error
	if errors.As(err, &wfErr) {
		msg = wfErr.Message
	}
	return &ActionResult{Success: false, Message: msg, ErrorKind: workflow.KindOf(err)}
}

func (s *workflowServiceImpl) recordAction(action string, success bool) {
	if s.metrics != nil {
		s.metrics.ActionCompleted(action, success)
	}
}

// Submit routes a draft transaction into approval, or approves it directly
// when it qualifies for auto-approval
func (s *workflowServiceImpl) Submit(ctx context.Context, ref entity.TransactionRef, actor port.Actor) *ActionResult {
	return s.run(ctx, ActionSubmit, func(ctx context.Context, scope *actionScope) (*ActionResult, error) {
		if actor.ID == "" {
			return nil, workflow.AuthorizationError("actor identity is required")
		}
		txn, err := s.loadTransaction(ctx, ref)
		if err != nil {
			return nil, err
		}
		return s.submit(ctx, scope, txn, actor)
	})
}

func (s *workflowServiceImpl) submit(ctx context.Context, scope *actionScope, txn *entity.Transaction, actor port.Actor) (*ActionResult, error) {
	current, err := workflow.ParseState(txn.Approval.Status)
	if err != nil {
		return nil, workflow.StateError("transaction has unknown approval status %q", txn.Approval.Status)
	}
	machine := workflow.NewTransactionMachine(current)
	if !machine.CanFire(workflow.TriggerSubmit) {
		return nil, workflow.StateError("transaction is %s; only draft transactions can be submitted", current)
	}

	settings := s.currentSettings()
	if qualifiesForAutoApproval(txn, settings) {
		return s.autoApprove(ctx, scope, txn, machine, settings, actor)
	}

	match, err := s.matcher.FindMatch(ctx, txn.MatchContext())
	if err != nil {
		return nil, fmt.Errorf("find match: %w", err)
	}
	if match == nil {
		return nil, workflow.ConfigurationError("no approval rule matches this %s and no fallback path is configured; an administrator must add a rule", txn.Type)
	}

	if err := machine.Fire(ctx, workflow.TriggerSubmit); err != nil {
		return nil, err
	}

	pathID := match.Path.ID
	txn.Approval = entity.ApprovalState{
		Status:           txn.Approval.Status,
		MatchedRuleID:    match.RuleID(),
		MatchedPathID:    &pathID,
		MatchExplanation: match.Explanation,
	}

	outcome, err := s.runner.StartPath(ctx, txn, match.Path)
	if err != nil {
		return nil, err
	}

	if err := s.logHistory(ctx, txn.Ref(), nil, entity.ActionSubmit, actor.ID, "", current.String(), machine.State().String(), match.Explanation, entity.MethodAPI); err != nil {
		return nil, err
	}

	s.raiseTaskEvents(scope, txn, outcome.Created)

	s.logger.Info("Transaction submitted",
		"transaction_type", txn.Type,
		"transaction_id", txn.ID,
		"path_id", pathID,
		"fallback", match.Fallback,
		"tasks", len(outcome.Created),
	)

	msg := fmt.Sprintf("Submitted for approval on path '%s'", match.Path.Name)
	if outcome.Stalled {
		msg = fmt.Sprintf("%s; step %d has no resolvable approvers", msg, outcome.Sequence)
	}
	return &ActionResult{
		Success: true,
		Message: msg,
		Status:  txn.Approval.Status,
		Match:   match,
		Tasks:   outcome.Created,
	}, nil
}

func qualifiesForAutoApproval(txn *entity.Transaction, settings Settings) bool {
	if !settings.AutoApproveEnabled || txn.ExceptionType != "" || txn.RiskScore == nil {
		return false
	}
	return *txn.RiskScore <= settings.AutoApproveMaxRisk
}

func (s *workflowServiceImpl) autoApprove(ctx context.Context, scope *actionScope, txn *entity.Transaction, machine workflow.StateMachine, settings Settings, actor port.Actor) (*ActionResult, error) {
	previous := machine.State()
	if err := machine.Fire(ctx, workflow.TriggerAutoApprove); err != nil {
		return nil, err
	}

	state := entity.Cleared(machine.State().String())
	state.MatchExplanation = fmt.Sprintf("Auto-approved: risk score %.2f at or below threshold %.2f with no exception",
		*txn.RiskScore, settings.AutoApproveMaxRisk)

	if err := s.store.UpdateApprovalState(ctx, txn.Ref(), state); err != nil {
		return nil, fmt.Errorf("update approval state: %w", err)
	}
	txn.Approval = state

	if err := s.logHistory(ctx, txn.Ref(), nil, entity.ActionAutoApprove, actor.ID, "", previous.String(), state.Status, state.MatchExplanation, entity.MethodAPI); err != nil {
		return nil, err
	}

	scope.raise(event.NewEvent(event.TypeTransactionApproved, txn.Ref()).WithTransaction(txn))

	s.logger.Info("Transaction auto-approved", "transaction_type", txn.Type, "transaction_id", txn.ID)
	return &ActionResult{Success: true, Message: state.MatchExplanation, Status: state.Status}, nil
}

// Approve records an approval on a pending task and advances the path when
// the step is complete
func (s *workflowServiceImpl) Approve(ctx context.Context, req TaskActionRequest, actor port.Actor) *ActionResult {
	return s.run(ctx, ActionApprove, func(ctx context.Context, scope *actionScope) (*ActionResult, error) {
		task, err := s.loadPendingTask(ctx, req.TaskID)
		if err != nil {
			return nil, err
		}
		return s.approve(ctx, scope, task, req, actor)
	})
}

func (s *workflowServiceImpl) approve(ctx context.Context, scope *actionScope, task *entity.ApprovalTask, req TaskActionRequest, actor port.Actor) (*ActionResult, error) {
	txn, err := s.loadTransaction(ctx, taskRef(task))
	if err != nil {
		return nil, err
	}
	if err := requirePendingApproval(txn); err != nil {
		return nil, err
	}

	override, err := authorizeTaskActor(task, actor)
	if err != nil {
		return nil, err
	}

	if txn.IsOwner(actor.ID) && !(actor.Privileged && s.currentSettings().AllowPrivilegedSoDBypass) {
		return nil, workflow.AuthorizationError("segregation of duties: %s created or requested this transaction and cannot approve it", actor.ID)
	}

	step, err := s.loadStep(ctx, task.StepID)
	if err != nil {
		return nil, err
	}

	if override {
		if err := s.tasks.SetActingApprover(ctx, task.ID, actor.ID); err != nil {
			return nil, fmt.Errorf("reassign acting approver: %w", err)
		}
		task.ActingApproverID = actor.ID
	}

	if err := s.resolveTask(ctx, task, entity.TaskStatusApproved); err != nil {
		return nil, err
	}

	if err := s.logHistory(ctx, txn.Ref(), task, entity.ActionApprove, actor.ID, task.ActingApproverID,
		entity.TaskStatusPending, entity.TaskStatusApproved, req.Comment, methodOrDefault(req.Method)); err != nil {
		return nil, err
	}

	// Siblings go first, otherwise the step never looks complete
	if step.ExecutionMode == entity.ExecutionParallelAny {
		seq := task.Sequence
		if _, err := s.runner.CancelPendingTasks(ctx, txn.Ref(), pathrunner.CancelOptions{
			Sequence:      &seq,
			ExcludeTaskID: task.ID,
		}); err != nil {
			return nil, err
		}
	}

	complete, err := s.runner.IsStepComplete(ctx, txn.Ref(), task.Sequence)
	if err != nil {
		return nil, err
	}
	if !complete {
		return &ActionResult{
			Success: true,
			Message: fmt.Sprintf("Approval recorded; step %d awaits other approvers", task.Sequence),
			Status:  txn.Approval.Status,
		}, nil
	}

	outcome, err := s.runner.AdvanceToNextStep(ctx, txn.Ref(), task.Sequence)
	if err != nil {
		return nil, err
	}

	return s.afterAdvance(ctx, scope, txn.Ref(), task.Sequence, outcome)
}

func (s *workflowServiceImpl) afterAdvance(ctx context.Context, scope *actionScope, ref entity.TransactionRef, fromSeq int, outcome *pathrunner.Outcome) (*ActionResult, error) {
	txn, err := s.loadTransaction(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch {
	case outcome.Completed:
		scope.raise(event.NewEvent(event.TypeTransactionApproved, ref).WithTransaction(txn))
		return &ActionResult{Success: true, Message: "Final approval recorded; transaction approved", Status: txn.Approval.Status}, nil
	case outcome.NoOp:
		return &ActionResult{Success: true, Message: fmt.Sprintf("Approval recorded; step %d was already advanced", fromSeq), Status: txn.Approval.Status}, nil
	}

	s.raiseTaskEvents(scope, txn, outcome.Created)
	msg := fmt.Sprintf("Step %d complete; advanced to step %d", fromSeq, outcome.Sequence)
	if outcome.Stalled {
		msg += " which has no resolvable approvers"
	}
	return &ActionResult{Success: true, Message: msg, Status: txn.Approval.Status, Tasks: outcome.Created}, nil
}

// Reject records a rejection, cancels every other pending task and marks
// the transaction rejected
func (s *workflowServiceImpl) Reject(ctx context.Context, req TaskActionRequest, actor port.Actor) *ActionResult {
	return s.run(ctx, ActionReject, func(ctx context.Context, scope *actionScope) (*ActionResult, error) {
		task, err := s.loadPendingTask(ctx, req.TaskID)
		if err != nil {
			return nil, err
		}
		return s.reject(ctx, scope, task, req, actor)
	})
}

func (s *workflowServiceImpl) reject(ctx context.Context, scope *actionScope, task *entity.ApprovalTask, req TaskActionRequest, actor port.Actor) (*ActionResult, error) {
	txn, err := s.loadTransaction(ctx, taskRef(task))
	if err != nil {
		return nil, err
	}
	if err := requirePendingApproval(txn); err != nil {
		return nil, err
	}

	override, err := authorizeTaskActor(task, actor)
	if err != nil {
		return nil, err
	}

	step, err := s.loadStep(ctx, task.StepID)
	if err != nil {
		return nil, err
	}
	if step.CommentRequired && strings.TrimSpace(req.Comment) == "" {
		return nil, workflow.ValidationError("a comment is required to reject at step '%s'", step.Name)
	}

	machine := workflow.NewTransactionMachine(workflow.StatePendingApproval)
	if err := machine.Fire(ctx, workflow.TriggerReject); err != nil {
		return nil, err
	}

	if override {
		if err := s.tasks.SetActingApprover(ctx, task.ID, actor.ID); err != nil {
			return nil, fmt.Errorf("reassign acting approver: %w", err)
		}
		task.ActingApproverID = actor.ID
	}

	if err := s.resolveTask(ctx, task, entity.TaskStatusRejected); err != nil {
		return nil, err
	}

	if err := s.logHistory(ctx, txn.Ref(), task, entity.ActionReject, actor.ID, task.ActingApproverID,
		entity.TaskStatusPending, entity.TaskStatusRejected, req.Comment, methodOrDefault(req.Method)); err != nil {
		return nil, err
	}

	cancelled, err := s.runner.CancelPendingTasks(ctx, txn.Ref(), pathrunner.CancelOptions{ExcludeTaskID: task.ID})
	if err != nil {
		return nil, err
	}

	state := txn.Approval
	state.Status = machine.State().String()
	state.CurrentStep = nil
	state.CurrentApprover = ""
	if err := s.store.UpdateApprovalState(ctx, txn.Ref(), state); err != nil {
		return nil, fmt.Errorf("update approval state: %w", err)
	}
	txn.Approval = state

	scope.raise(event.NewEvent(event.TypeTransactionRejected, txn.Ref()).
		WithTransaction(txn).
		WithActor(actor.ID, req.Comment))

	s.logger.Info("Transaction rejected",
		"transaction_type", txn.Type,
		"transaction_id", txn.ID,
		"task_id", task.ID,
		"cancelled", cancelled,
	)
	return &ActionResult{Success: true, Message: "Transaction rejected", Status: state.Status}, nil
}

// Recall withdraws a transaction from approval and returns it to draft
func (s *workflowServiceImpl) Recall(ctx context.Context, ref entity.TransactionRef, comment string, actor port.Actor) *ActionResult {
	return s.run(ctx, ActionRecall, func(ctx context.Context, scope *actionScope) (*ActionResult, error) {
		txn, err := s.loadTransaction(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !txn.IsOwner(actor.ID) {
			return nil, workflow.AuthorizationError("only the creator or requester can recall this transaction")
		}
		if err := requirePendingApproval(txn); err != nil {
			return nil, err
		}

		machine := workflow.NewTransactionMachine(workflow.StatePendingApproval)
		if err := machine.Fire(ctx, workflow.TriggerRecall); err != nil {
			return nil, err
		}

		cancelled, err := s.runner.CancelPendingTasks(ctx, ref, pathrunner.CancelOptions{
			LogHistory: true,
			ActorID:    actor.ID,
			Comment:    "Recalled by submitter",
		})
		if err != nil {
			return nil, err
		}

		state := entity.Cleared(machine.State().String())
		if err := s.store.UpdateApprovalState(ctx, ref, state); err != nil {
			return nil, fmt.Errorf("update approval state: %w", err)
		}

		if err := s.logHistory(ctx, ref, nil, entity.ActionRecall, actor.ID, "",
			entity.ApprovalStatusPendingApproval, state.Status, comment, entity.MethodAPI); err != nil {
			return nil, err
		}

		s.logger.Info("Transaction recalled", "transaction_type", ref.Type, "transaction_id", ref.ID, "cancelled", cancelled)
		return &ActionResult{Success: true, Message: "Transaction recalled to draft", Status: state.Status}, nil
	})
}

// Resubmit resets a rejected or recalled transaction to draft and then
// submits it. The reset commits on its own, so a transaction that no longer
// routes stays in draft.
func (s *workflowServiceImpl) Resubmit(ctx context.Context, ref entity.TransactionRef, actor port.Actor) *ActionResult {
	reset := s.run(ctx, ActionResubmit, func(ctx context.Context, scope *actionScope) (*ActionResult, error) {
		txn, err := s.loadTransaction(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !txn.IsOwner(actor.ID) && !actor.Privileged {
			return nil, workflow.AuthorizationError("only the creator or requester can resubmit this transaction")
		}

		current, err := workflow.ParseState(txn.Approval.Status)
		if err != nil {
			return nil, workflow.StateError("transaction has unknown approval status %q", txn.Approval.Status)
		}
		machine := workflow.NewTransactionMachine(current)
		if err := machine.Fire(ctx, workflow.TriggerResubmit); err != nil {
			return nil, workflow.StateError("transaction is %s; only rejected or recalled transactions can be resubmitted", current)
		}

		state := entity.Cleared(machine.State().String())
		if err := s.store.UpdateApprovalState(ctx, ref, state); err != nil {
			return nil, fmt.Errorf("update approval state: %w", err)
		}
		if err := s.logHistory(ctx, ref, nil, entity.ActionResubmit, actor.ID, "",
			current.String(), state.Status, "", entity.MethodAPI); err != nil {
			return nil, err
		}
		return &ActionResult{Success: true, Message: "Transaction reset to draft", Status: state.Status}, nil
	})
	if !reset.Success {
		return reset
	}

	result := s.Submit(ctx, ref, actor)
	if !result.Success {
		s.logger.Info("Resubmitted transaction left in draft",
			"transaction_type", ref.Type,
			"transaction_id", ref.ID,
			"kind", result.ErrorKind,
		)
		result.Status = reset.Status
	}
	return result
}

// PreviewMatch reports the path a context would be routed to without
// changing anything
func (s *workflowServiceImpl) PreviewMatch(ctx context.Context, mc entity.MatchContext) *ActionResult {
	return s.read(ctx, ActionPreviewMatch, func(ctx context.Context) (*ActionResult, error) {
		if err := validateMatchContext(mc); err != nil {
			return nil, err
		}
		match, err := s.matcher.FindMatch(ctx, mc)
		if err != nil {
			return nil, err
		}
		if match == nil {
			return nil, workflow.ConfigurationError("no approval rule matches and no fallback path is configured")
		}
		return &ActionResult{Success: true, Message: match.Explanation, Match: match, Steps: match.Steps}, nil
	})
}

// DebugMatch returns the per-rule evaluation trace of a context
func (s *workflowServiceImpl) DebugMatch(ctx context.Context, mc entity.MatchContext) *ActionResult {
	return s.read(ctx, ActionDebugMatch, func(ctx context.Context) (*ActionResult, error) {
		if err := validateMatchContext(mc); err != nil {
			return nil, err
		}
		trace, err := s.matcher.Debug(ctx, mc)
		if err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("Evaluated %d rules; no match", len(trace.Rules))
		if trace.Result != nil {
			msg = fmt.Sprintf("Evaluated %d rules; %s", len(trace.Rules), strings.SplitN(trace.Result.Explanation, "\n", 2)[0])
		}
		return &ActionResult{Success: true, Message: msg, Trace: trace, Match: trace.Result}, nil
	})
}

// ListPathSteps returns every step of a path, active or not, in sequence order
func (s *workflowServiceImpl) ListPathSteps(ctx context.Context, pathID int64) *ActionResult {
	return s.read(ctx, ActionListPathSteps, func(ctx context.Context) (*ActionResult, error) {
		path, err := s.paths.GetByID(ctx, pathID)
		if err != nil {
			return nil, fmt.Errorf("load path: %w", err)
		}
		if path == nil {
			return nil, workflow.NotFoundError("approval path %d not found", pathID)
		}
		return &ActionResult{
			Success: true,
			Message: fmt.Sprintf("Path '%s' has %d steps (%d active)", path.Name, len(path.Steps), len(path.ActiveSteps())),
			Steps:   path.Steps,
		}, nil
	})
}

// ApproveByToken approves the task an emailed link was issued for, acting as
// the task's current assignee
func (s *workflowServiceImpl) ApproveByToken(ctx context.Context, token, comment string) *ActionResult {
	return s.run(ctx, ActionApproveByToken, func(ctx context.Context, scope *actionScope) (*ActionResult, error) {
		task, err := s.taskForToken(ctx, token)
		if err != nil {
			return nil, err
		}
		req := TaskActionRequest{TaskID: task.ID, Comment: comment, Method: entity.MethodEmail}
		return s.approve(ctx, scope, task, req, port.Actor{ID: task.NotifyTarget()})
	})
}

// RejectByToken rejects the task an emailed link was issued for
func (s *workflowServiceImpl) RejectByToken(ctx context.Context, token, comment string) *ActionResult {
	return s.run(ctx, ActionRejectByToken, func(ctx context.Context, scope *actionScope) (*ActionResult, error) {
		task, err := s.taskForToken(ctx, token)
		if err != nil {
			return nil, err
		}
		req := TaskActionRequest{TaskID: task.ID, Comment: comment, Method: entity.MethodEmail}
		return s.reject(ctx, scope, task, req, port.Actor{ID: task.NotifyTarget()})
	})
}

// GetHistory returns the audit ledger of a transaction, oldest first
func (s *workflowServiceImpl) GetHistory(ctx context.Context, ref entity.TransactionRef) *ActionResult {
	return s.read(ctx, ActionGetHistory, func(ctx context.Context) (*ActionResult, error) {
		txn, err := s.loadTransaction(ctx, ref)
		if err != nil {
			return nil, err
		}
		entries, err := s.history.GetByTransaction(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		return &ActionResult{Success: true, Status: txn.Approval.Status, History: entries}, nil
	})
}

// ListTasks returns every task of a transaction, cancelled ones included
func (s *workflowServiceImpl) ListTasks(ctx context.Context, ref entity.TransactionRef) *ActionResult {
	return s.read(ctx, ActionListTasks, func(ctx context.Context) (*ActionResult, error) {
		txn, err := s.loadTransaction(ctx, ref)
		if err != nil {
			return nil, err
		}
		tasks, err := s.tasks.Find(ctx, entity.TaskFilter{TransactionType: ref.Type, TransactionID: ref.ID})
		if err != nil {
			return nil, fmt.Errorf("load tasks: %w", err)
		}
		return &ActionResult{Success: true, Status: txn.Approval.Status, Tasks: tasks}, nil
	})
}

func (s *workflowServiceImpl) loadTransaction(ctx context.Context, ref entity.TransactionRef) (*entity.Transaction, error) {
	txn, err := s.store.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if txn == nil {
		return nil, workflow.NotFoundError("transaction %s/%s not found", ref.Type, ref.ID)
	}
	return txn, nil
}

func (s *workflowServiceImpl) loadPendingTask(ctx context.Context, id int64) (*entity.ApprovalTask, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if task == nil {
		return nil, workflow.NotFoundError("task %d not found", id)
	}
	if !task.IsPending() {
		return nil, workflow.StateError("task %d is not pending (status %s)", id, task.Status)
	}
	return task, nil
}

func (s *workflowServiceImpl) taskForToken(ctx context.Context, token string) (*entity.ApprovalTask, error) {
	if token == "" {
		return nil, workflow.ValidationError("approval token is required")
	}
	task, err := s.tasks.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load task by token: %w", err)
	}
	if task == nil {
		return nil, workflow.NotFoundError("approval link is invalid or has already been used")
	}
	if !task.IsPending() {
		return nil, workflow.StateError("task %d is not pending (status %s)", task.ID, task.Status)
	}
	if task.TokenExpiresAt != nil && s.now().After(*task.TokenExpiresAt) {
		return nil, workflow.StateError("approval link has expired")
	}
	return task, nil
}

func (s *workflowServiceImpl) loadStep(ctx context.Context, stepID int64) (*entity.PathStep, error) {
	step, err := s.paths.GetStep(ctx, stepID)
	if err != nil {
		return nil, fmt.Errorf("load step: %w", err)
	}
	if step == nil {
		return nil, workflow.ConfigurationError("path step %d no longer exists", stepID)
	}
	return step, nil
}

// resolveTask moves the task out of pending; losing a race is a state error
func (s *workflowServiceImpl) resolveTask(ctx context.Context, task *entity.ApprovalTask, status string) error {
	now := s.now()
	ok, err := s.tasks.Resolve(ctx, task.ID, status, now)
	if err != nil {
		return fmt.Errorf("resolve task: %w", err)
	}
	if !ok {
		return workflow.StateError("task %d is not pending", task.ID)
	}
	task.Status = status
	task.CompletedAt = &now

	if err := s.tokens.Invalidate(ctx, task.ID); err != nil {
		s.logger.Error("Failed to invalidate token", "task_id", task.ID, "error", err)
	}
	return nil
}

func (s *workflowServiceImpl) logHistory(ctx context.Context, ref entity.TransactionRef, task *entity.ApprovalTask, action, actorID, actingID, prev, next, comment, method string) error {
	entry := &entity.ApprovalHistory{
		TransactionType:  ref.Type,
		TransactionID:    ref.ID,
		Action:           action,
		ActorID:          actorID,
		ActingApproverID: actingID,
		PreviousStatus:   prev,
		NewStatus:        next,
		Comment:          comment,
		Method:           method,
		Timestamp:        s.now(),
	}
	if task != nil {
		taskID, seq := task.ID, task.Sequence
		entry.TaskID = &taskID
		entry.Sequence = &seq
	}
	if err := s.history.Create(ctx, entry); err != nil {
		return fmt.Errorf("create history: %w", err)
	}
	return nil
}

func (s *workflowServiceImpl) raiseTaskEvents(scope *actionScope, txn *entity.Transaction, tasks []*entity.ApprovalTask) {
	for _, task := range tasks {
		scope.raise(event.NewEvent(event.TypeTaskCreated, txn.Ref()).WithTask(task).WithTransaction(txn))
	}
}

// authorizeTaskActor reports whether actor acts as a privileged override
func authorizeTaskActor(task *entity.ApprovalTask, actor port.Actor) (bool, error) {
	if actor.ID == "" {
		return false, workflow.AuthorizationError("actor identity is required")
	}
	if task.CanAct(actor.ID) {
		return false, nil
	}
	if actor.Privileged {
		return true, nil
	}
	return false, workflow.AuthorizationError("%s is not the approver of task %d", actor.ID, task.ID)
}

func requirePendingApproval(txn *entity.Transaction) error {
	if txn.Approval.Status != entity.ApprovalStatusPendingApproval {
		return workflow.StateError("transaction is %s, not pending approval", statusOrDraft(txn.Approval.Status))
	}
	return nil
}

func validateMatchContext(mc entity.MatchContext) error {
	if !entity.IsValidTransactionType(mc.TransactionType) {
		return workflow.ValidationError("unknown transaction type %q", mc.TransactionType)
	}
	if mc.Amount < 0 {
		return workflow.ValidationError("amount must not be negative")
	}
	return nil
}

func taskRef(task *entity.ApprovalTask) entity.TransactionRef {
	return entity.TransactionRef{Type: task.TransactionType, ID: task.TransactionID}
}

func methodOrDefault(m string) string {
	if entity.IsValidMethod(m) {
		return m
	}
	return entity.MethodAPI
}

func statusOrDraft(status string) string {
	if status == "" {
		return entity.ApprovalStatusDraft
	}
	return status
}

// Verify interface compliance
var _ WorkflowService = (*workflowServiceImpl)(nil)
