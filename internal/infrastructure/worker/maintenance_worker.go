package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/event"
	"go.uber.org/zap"
)

// Maintenance item kinds, used as metric labels
const (
	KindTokenRefresh = "token_refresh"
	KindEscalation   = "escalation"
	KindReminder     = "reminder"
)

// systemActor is recorded on history entries written by the worker
const systemActor = "system"

// errTaskResolved marks a due item whose task was decided after it was listed
var errTaskResolved = errors.New("task no longer pending")

// MaintenanceWorkerConfig holds configuration for the maintenance worker
type MaintenanceWorkerConfig struct {
	PollInterval  time.Duration
	ReminderAfter time.Duration
	MaxReminders  int
	RunBudget     time.Duration
	BatchSize     int
}

// DefaultMaintenanceWorkerConfig returns default configuration
func DefaultMaintenanceWorkerConfig() MaintenanceWorkerConfig {
	return MaintenanceWorkerConfig{
		PollInterval:  15 * time.Minute,
		ReminderAfter: 24 * time.Hour,
		MaxReminders:  3,
		RunBudget:     2 * time.Minute,
		BatchSize:     50,
	}
}

// EventPublisher hands events to asynchronous subscribers
type EventPublisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// MaintenanceMetrics records maintenance throughput
type MaintenanceMetrics interface {
	MaintenanceProcessed(kind string, count int)
	BudgetExhausted()
}

// RunReport summarizes one maintenance run
type RunReport struct {
	TokensRefreshed int  `json:"tokens_refreshed"`
	Escalated       int  `json:"escalated"`
	Reminded        int  `json:"reminded"`
	Skipped         int  `json:"skipped"`
	Failed          int  `json:"failed"`
	BudgetExhausted bool `json:"budget_exhausted"`
}

// MaintenanceWorker refreshes expired approval tokens, escalates tasks past
// their SLA and reminds approvers of tasks left pending. A run stops once
// its budget is spent; remaining items are picked up on the next tick.
type MaintenanceWorker struct {
	config MaintenanceWorkerConfig

	tasks     port.TaskRepository
	history   port.HistoryRepository
	store     port.TransactionStore
	tokens    port.TokenIssuer
	txManager port.TransactionManager
	events    EventPublisher
	metrics   MaintenanceMetrics
	logger    *zap.Logger
	now       func() time.Time

	// Runtime state
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	done           chan struct{}
	isRunning      bool
	lastRun        time.Time
	processedCount int
	failedCount    int
	lastError      error
}

// MaintenanceDeps groups the worker's collaborators. Metrics and Now are optional.
type MaintenanceDeps struct {
	Tasks     port.TaskRepository
	History   port.HistoryRepository
	Store     port.TransactionStore
	Tokens    port.TokenIssuer
	TxManager port.TransactionManager
	Events    EventPublisher
	Metrics   MaintenanceMetrics
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewMaintenanceWorker creates a new maintenance worker
func NewMaintenanceWorker(config MaintenanceWorkerConfig, deps MaintenanceDeps) *MaintenanceWorker {
	defaults := DefaultMaintenanceWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RunBudget <= 0 {
		config.RunBudget = defaults.RunBudget
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MaintenanceWorker{
		config:    config,
		tasks:     deps.Tasks,
		history:   deps.History,
		store:     deps.Store,
		tokens:    deps.Tokens,
		txManager: deps.TxManager,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       now,
	}
}

// Start begins the worker polling loop
func (w *MaintenanceWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("maintenance worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("MaintenanceWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Duration("run_budget", w.config.RunBudget),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop()

	return nil
}

// Stop cancels the loop and waits for an in-flight run to finish
func (w *MaintenanceWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}

	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.RLock()
	defer w.mu.RUnlock()
	w.logger.Info("MaintenanceWorker stopped",
		zap.Int("processed_count", w.processedCount),
		zap.Int("failed_count", w.failedCount))

	return nil
}

// Name returns the worker name for identification
func (w *MaintenanceWorker) Name() string {
	return "MaintenanceWorker"
}

// Stats returns runtime counters across all runs
func (w *MaintenanceWorker) Stats() (processed, failed int, lastRun time.Time, lastErr error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.processedCount, w.failedCount, w.lastRun, w.lastError
}

func (w *MaintenanceWorker) pollLoop() {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Maintenance loop context cancelled")
			return

		case <-ticker.C:
			if _, err := w.RunOnce(w.ctx); err != nil {
				w.logger.Error("Maintenance run failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs one maintenance pass. Expired tokens are refreshed first
// so escalations and reminders carry working links. Per-item failures are
// logged and counted; only listing failures abort the run.
func (w *MaintenanceWorker) RunOnce(ctx context.Context) (RunReport, error) {
	start := w.now()
	deadline := start.Add(w.config.RunBudget)

	var report RunReport
	run := &maintenanceRun{worker: w, ctx: ctx, deadline: deadline, report: &report}

	err := run.phase(KindTokenRefresh, func() ([]*entity.ApprovalTask, error) {
		return w.tasks.ListPendingTokenExpiredBefore(ctx, start, w.config.BatchSize)
	}, w.refreshToken, &report.TokensRefreshed)

	if err == nil {
		err = run.phase(KindEscalation, func() ([]*entity.ApprovalTask, error) {
			return w.tasks.ListEscalationDue(ctx, start, w.config.BatchSize)
		}, w.escalate, &report.Escalated)
	}

	if err == nil && w.config.MaxReminders > 0 && w.config.ReminderAfter > 0 {
		cutoff := start.Add(-w.config.ReminderAfter)
		err = run.phase(KindReminder, func() ([]*entity.ApprovalTask, error) {
			return w.tasks.ListReminderDue(ctx, cutoff, cutoff, w.config.MaxReminders, w.config.BatchSize)
		}, w.remind, &report.Reminded)
	}

	if report.BudgetExhausted && w.metrics != nil {
		w.metrics.BudgetExhausted()
	}

	w.mu.Lock()
	w.lastRun = start
	w.processedCount += report.TokensRefreshed + report.Escalated + report.Reminded
	w.failedCount += report.Failed
	if err != nil {
		w.lastError = err
	}
	w.mu.Unlock()

	w.logger.Info("Maintenance run completed",
		zap.Int("tokens_refreshed", report.TokensRefreshed),
		zap.Int("escalated", report.Escalated),
		zap.Int("reminded", report.Reminded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Bool("budget_exhausted", report.BudgetExhausted))

	return report, err
}

type maintenanceRun struct {
	worker   *MaintenanceWorker
	ctx      context.Context
	deadline time.Time
	report   *RunReport
}

// phase lists one kind of due item and handles each until the budget runs out
func (r *maintenanceRun) phase(kind string, list func() ([]*entity.ApprovalTask, error), handle func(context.Context, *entity.ApprovalTask) error, counter *int) error {
	w := r.worker
	if r.report.BudgetExhausted {
		return nil
	}

	tasks, err := list()
	if err != nil {
		return fmt.Errorf("list %s candidates: %w", kind, err)
	}

	done := 0
	for _, task := range tasks {
		if r.ctx.Err() != nil {
			break
		}
		if !w.now().Before(r.deadline) {
			r.report.BudgetExhausted = true
			w.logger.Warn("Maintenance run budget exhausted",
				zap.String("kind", kind),
				zap.Int("remaining", len(tasks)-done))
			break
		}

		err := handle(r.ctx, task)
		switch {
		case errors.Is(err, errTaskResolved):
			r.report.Skipped++
			w.logger.Debug("Maintenance item skipped, task already resolved",
				zap.String("kind", kind),
				zap.Int64("task_id", task.ID))
		case err != nil:
			r.report.Failed++
			w.logger.Error("Maintenance item failed",
				zap.String("kind", kind),
				zap.Int64("task_id", task.ID),
				zap.String("transaction_id", task.TransactionID),
				zap.Error(err))
		default:
			*counter++
		}
		done++
	}

	if w.metrics != nil && *counter > 0 {
		w.metrics.MaintenanceProcessed(kind, *counter)
	}
	return nil
}

func (w *MaintenanceWorker) refreshToken(ctx context.Context, task *entity.ApprovalTask) error {
	tok, err := w.tokens.Refresh(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	w.logger.Debug("Approval token refreshed",
		zap.Int64("task_id", task.ID),
		zap.Time("expires_at", tok.ExpiresAt))
	return nil
}

func (w *MaintenanceWorker) escalate(ctx context.Context, task *entity.ApprovalTask) error {
	var txn *entity.Transaction
	err := w.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if txn, err = w.loadTransaction(ctx, task); err != nil {
			return err
		}
		marked, err := w.tasks.MarkEscalated(ctx, task.ID)
		if err != nil {
			return err
		}
		if !marked {
			return errTaskResolved
		}

		taskID, seq := task.ID, task.Sequence
		return w.history.Create(ctx, &entity.ApprovalHistory{
			TransactionType:  task.TransactionType,
			TransactionID:    task.TransactionID,
			TaskID:           &taskID,
			Sequence:         &seq,
			Action:           entity.ActionEscalate,
			ActorID:          systemActor,
			ActingApproverID: task.ActingApproverID,
			PreviousStatus:   txn.Approval.Status,
			NewStatus:        txn.Approval.Status,
			Comment:          "approval SLA exceeded",
			Method:           entity.MethodAPI,
			Timestamp:        w.now(),
		})
	})
	if err != nil {
		return err
	}

	task.Escalated = true
	w.publish(ctx, event.TypeTaskEscalated, task, txn)
	return nil
}

func (w *MaintenanceWorker) remind(ctx context.Context, task *entity.ApprovalTask) error {
	txn, err := w.loadTransaction(ctx, task)
	if err != nil {
		return err
	}
	recorded, err := w.tasks.RecordReminder(ctx, task.ID, w.now())
	if err != nil {
		return err
	}
	if !recorded {
		return errTaskResolved
	}

	task.ReminderCount++
	w.publish(ctx, event.TypeTaskReminder, task, txn)
	return nil
}

func (w *MaintenanceWorker) loadTransaction(ctx context.Context, task *entity.ApprovalTask) (*entity.Transaction, error) {
	ref := entity.TransactionRef{Type: task.TransactionType, ID: task.TransactionID}
	txn, err := w.store.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if txn == nil {
		return nil, fmt.Errorf("transaction %s/%s not found", ref.Type, ref.ID)
	}
	return txn, nil
}

func (w *MaintenanceWorker) publish(ctx context.Context, eventType event.Type, task *entity.ApprovalTask, txn *entity.Transaction) {
	if w.events == nil {
		return
	}
	evt := event.NewEvent(eventType, txn.Ref()).WithTask(task).WithTransaction(txn)
	w.events.DispatchAsync(ctx, evt)
}
