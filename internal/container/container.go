package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/approval-routing/internal/application/delegation"
	"github.com/garyjia/approval-routing/internal/application/dispatcher"
	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/application/service"
	"github.com/garyjia/approval-routing/internal/infrastructure/metrics"
	"github.com/garyjia/approval-routing/internal/infrastructure/worker"
	"github.com/garyjia/approval-routing/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    port.TransactionManager
	repositories *RepositoryBundle

	// Infrastructure - Observability and delivery
	recorder *metrics.Recorder
	registry *prometheus.Registry
	sink     port.NotificationSink

	// Application
	dispatcher dispatcher.Dispatcher
	engine     *EngineBundle

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database, migrations and repositories
// 2. Metrics and notification delivery
// 3. Event dispatcher
// 4. Approval engine
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initDelivery(); err != nil {
		return fmt.Errorf("failed to initialize notifications: %w", err)
	}
	c.logger.Info("Metrics and notifications initialized")

	if err := c.initDispatcher(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.logger.Info("Dispatcher initialized")

	if err := c.initEngine(); err != nil {
		return fmt.Errorf("failed to initialize approval engine: %w", err)
	}
	c.logger.Info("Approval engine initialized")

	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	// Workers first so no new maintenance events are raised
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Waits for in-flight notifications
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.db == nil:
		set("database", false, "not initialized")
	default:
		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := c.db.HealthCheck(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	if c.workers == nil {
		set("workers", false, "not initialized")
	} else {
		running := c.workers.Running()
		set("workers", len(running) > 0, fmt.Sprintf("running: %d", len(running)))
	}

	if c.dispatcher == nil {
		set("dispatcher", false, "not initialized")
	} else {
		set("dispatcher", true, "")
	}

	if c.engine == nil {
		set("engine", false, "not initialized")
	} else {
		set("engine", true, "")
	}

	return status
}

// ApplyWorkflow pushes a reloaded workflow policy into the running engine.
// Notification link and escalation settings only take effect on restart.
func (c *Container) ApplyWorkflow(cfg WorkflowConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.config.Workflow.FallbackPathID = cfg.FallbackPathID
	c.config.Workflow.AutoApproveEnabled = cfg.AutoApproveEnabled
	c.config.Workflow.AutoApproveMaxRisk = cfg.AutoApproveMaxRisk
	c.config.Workflow.DelegationMaxDays = cfg.DelegationMaxDays
	c.config.Workflow.TokenTTL = cfg.TokenTTL
	c.config.Workflow.AllowPrivilegedSoDBypass = cfg.AllowPrivilegedSoDBypass

	if c.engine == nil {
		return
	}

	c.engine.Matcher.ApplySettings(MatcherSettings(cfg))
	c.engine.Workflow.ApplySettings(WorkflowSettings(cfg))
	c.engine.Delegations.ApplySettings(DelegationSettings(cfg))
	if cfg.TokenTTL > 0 {
		c.engine.Tokens.SetTTL(cfg.TokenTTL)
	}

	c.logger.Info("Workflow settings applied",
		zap.Int64("fallback_path_id", cfg.FallbackPathID),
		zap.Bool("auto_approve", cfg.AutoApproveEnabled),
		zap.Float64("auto_approve_max_risk", cfg.AutoApproveMaxRisk),
		zap.Int("delegation_max_days", cfg.DelegationMaxDays),
		zap.Duration("token_ttl", cfg.TokenTTL),
		zap.Bool("privileged_sod_bypass", cfg.AllowPrivilegedSoDBypass))
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.db = dbBundle.DB
	c.txManager = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.ctx, c.db, c.logger)
	if err != nil {
		_ = c.db.Close()
		c.db = nil
		return err
	}

	c.repositories = repos
	return nil
}

func (c *Container) initDelivery() error {
	c.recorder, c.registry = ProvideMetrics()

	sink, err := ProvideNotificationSink(&c.config.Lark, &c.config.Workflow, c.logger)
	if err != nil {
		return err
	}
	c.sink = sink
	return nil
}

func (c *Container) initDispatcher() error {
	disp, err := ProvideDispatcher(c.sink, c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	return nil
}

func (c *Container) initEngine() error {
	engine, err := ProvideEngine(&EngineDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Dispatcher: c.dispatcher,
		Metrics:    c.recorder,
		Config:     &c.config.Workflow,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Tokens:     c.engine.Tokens,
		Dispatcher: c.dispatcher,
		Metrics:    c.recorder,
		WorkerCfg:  &c.config.Worker,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// Getters for accessing container components

// Workflow returns the workflow service.
func (c *Container) Workflow() service.WorkflowService {
	return c.engine.Workflow
}

// Delegations returns the delegation service.
func (c *Container) Delegations() *delegation.Service {
	return c.engine.Delegations
}

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.txManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Gatherer returns the registry holding the service metrics.
func (c *Container) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
