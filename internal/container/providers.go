package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/garyjia/approval-routing/internal/application/delegation"
	"github.com/garyjia/approval-routing/internal/application/dispatcher"
	"github.com/garyjia/approval-routing/internal/application/matcher"
	"github.com/garyjia/approval-routing/internal/application/pathrunner"
	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/application/service"
	infraLark "github.com/garyjia/approval-routing/internal/infrastructure/external/lark"
	"github.com/garyjia/approval-routing/internal/infrastructure/metrics"
	"github.com/garyjia/approval-routing/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-routing/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-routing/internal/infrastructure/token"
	"github.com/garyjia/approval-routing/internal/infrastructure/worker"
	"github.com/garyjia/approval-routing/migrations"
	"github.com/garyjia/approval-routing/pkg/database"
	"github.com/garyjia/approval-routing/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Rules        port.RuleRepository
	Paths        port.PathRepository
	Tasks        port.TaskRepository
	History      port.HistoryRepository
	Delegations  port.DelegationRepository
	Transactions *repository.TransactionRepository
	Identity     *repository.IdentityRepository
}

// EngineBundle holds the approval engine components.
type EngineBundle struct {
	Matcher     *matcher.Matcher
	Resolver    *delegation.Resolver
	Delegations *delegation.Service
	Runner      *pathrunner.Runner
	Tokens      *token.Issuer
	Workflow    service.WorkflowService
}

// ProvideDatabase opens the database and applies pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrationsFS(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories and checks that the
// transaction store carries the approval columns.
func ProvideRepositories(ctx context.Context, db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	txns := repository.NewTransactionRepository(db.DB, logger)
	if err := txns.ValidateSchema(ctx); err != nil {
		return nil, fmt.Errorf("transaction store schema: %w", err)
	}

	return &RepositoryBundle{
		Rules:        repository.NewRuleRepository(db.DB, logger),
		Paths:        repository.NewPathRepository(db.DB, logger),
		Tasks:        repository.NewTaskRepository(db.DB, logger),
		History:      repository.NewHistoryRepository(db.DB, logger),
		Delegations:  repository.NewDelegationRepository(db.DB, logger),
		Transactions: txns,
		Identity:     repository.NewIdentityRepository(db.DB, logger),
	}, nil
}

// ProvideMetrics registers the workflow collectors, plus the Go runtime
// and process collectors, on a fresh registry.
func ProvideMetrics() (*metrics.Recorder, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewRecorder(metrics.Config{Registry: registry}), registry
}

// ProvideNotificationSink sends through Lark when it is enabled and to the
// log otherwise.
func ProvideNotificationSink(cfg *LarkConfig, wf *WorkflowConfig, logger *zap.Logger) (port.NotificationSink, error) {
	if cfg == nil || wf == nil {
		return nil, fmt.Errorf("lark and workflow config are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if !cfg.Enabled {
		logger.Info("Lark notifications disabled, logging them instead")
		return &logSink{logger: logger.Named("notifications")}, nil
	}

	client := infraLark.NewSDKClient(infraLark.Config{
		AppID:         cfg.AppID,
		AppSecret:     cfg.AppSecret,
		ReceiveIDType: cfg.ReceiveIDType,
	}, logger)

	return infraLark.NewNotifier(infraLark.NewMessenger(client, logger), infraLark.NotifierConfig{
		ApprovalLinkBaseURL: wf.ApprovalLinkBaseURL,
		EscalationReceiver:  wf.EscalationReceiver,
	}, logger), nil
}

// ProvideDispatcher creates the event dispatcher and subscribes the
// notification handler to it.
func ProvideDispatcher(sink port.NotificationSink, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if sink == nil {
		return nil, fmt.Errorf("notification sink is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	kv := utils.NewKVLogger(logger)
	d := dispatcher.NewDispatcher(
		dispatcher.WithLogger(kv),
	)
	service.NewNotificationHandler(sink, kv).Register(d)

	return d, nil
}

// EngineDeps holds dependencies required for creating the approval engine.
type EngineDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Metrics    port.Metrics
	Config     *WorkflowConfig
	Logger     *zap.Logger
}

// ProvideEngine creates the matcher, delegation resolver, path runner and
// workflow service.
func ProvideEngine(deps *EngineDeps) (*EngineBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("engine dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("workflow config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	kv := utils.NewKVLogger(deps.Logger)
	repos := deps.Repos
	cfg := deps.Config

	m := matcher.New(repos.Rules, repos.Paths, MatcherSettings(*cfg), kv, matcher.WithMetrics(deps.Metrics))
	resolver := delegation.NewResolver(repos.Delegations, nil)
	delegations := delegation.NewService(repos.Delegations, DelegationSettings(*cfg), kv, nil)
	tokens := token.NewIssuer(repos.Tasks, cfg.TokenTTL, nil)

	runner := pathrunner.New(pathrunner.Deps{
		Tasks:       repos.Tasks,
		Paths:       repos.Paths,
		History:     repos.History,
		Store:       repos.Transactions,
		Identity:    repos.Identity,
		Delegations: resolver,
		Tokens:      tokens,
		Metrics:     deps.Metrics,
		Logger:      kv,
	})

	wf := service.NewWorkflowService(service.Deps{
		Matcher:   m,
		Runner:    runner,
		Tasks:     repos.Tasks,
		Paths:     repos.Paths,
		History:   repos.History,
		Store:     repos.Transactions,
		Tokens:    tokens,
		TxManager: deps.TxManager,
		Events:    deps.Dispatcher,
		Metrics:   deps.Metrics,
		Logger:    kv,
	}, WorkflowSettings(*cfg))

	return &EngineBundle{
		Matcher:     m,
		Resolver:    resolver,
		Delegations: delegations,
		Runner:      runner,
		Tokens:      tokens,
		Workflow:    wf,
	}, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Tokens     port.TokenIssuer
	Dispatcher dispatcher.Dispatcher
	Metrics    worker.MaintenanceMetrics
	WorkerCfg  *WorkerConfig
	Logger     *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.Manager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.Manager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewManager(deps.Logger)

	cfg := worker.MaintenanceWorkerConfig{
		PollInterval:  deps.WorkerCfg.PollInterval,
		ReminderAfter: deps.WorkerCfg.ReminderAfter,
		MaxReminders:  deps.WorkerCfg.MaxReminders,
		RunBudget:     deps.WorkerCfg.RunBudget,
		BatchSize:     deps.WorkerCfg.BatchSize,
	}
	manager.Register(worker.NewMaintenanceWorker(cfg, worker.MaintenanceDeps{
		Tasks:     deps.Repos.Tasks,
		History:   deps.Repos.History,
		Store:     deps.Repos.Transactions,
		Tokens:    deps.Tokens,
		TxManager: deps.TxManager,
		Events:    deps.Dispatcher,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	}))

	return manager, nil
}

// MatcherSettings extracts the matcher's part of the workflow policy
func MatcherSettings(cfg WorkflowConfig) matcher.Settings {
	return matcher.Settings{FallbackPathID: cfg.FallbackPathID}
}

// DelegationSettings extracts the delegation service's part of the workflow policy
func DelegationSettings(cfg WorkflowConfig) delegation.Settings {
	return delegation.Settings{MaxDays: cfg.DelegationMaxDays}
}

// WorkflowSettings extracts the controller's part of the workflow policy
func WorkflowSettings(cfg WorkflowConfig) service.Settings {
	return service.Settings{
		AutoApproveEnabled:       cfg.AutoApproveEnabled,
		AutoApproveMaxRisk:       cfg.AutoApproveMaxRisk,
		AllowPrivilegedSoDBypass: cfg.AllowPrivilegedSoDBypass,
	}
}
