package cli

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/approval-routing/internal/application/dispatcher"
	"github.com/garyjia/approval-routing/internal/config"
	"github.com/garyjia/approval-routing/internal/container"
	"github.com/garyjia/approval-routing/pkg/utils"
)

// settings is what a command needs from the config file and flags
type settings struct {
	database container.DatabaseConfig
	workflow container.WorkflowConfig
	auth     config.AuthConfig
}

func resolveSettings(opts *RootOptions) (*settings, error) {
	s := &settings{
		database: container.DefaultConfig().Database,
		workflow: container.DefaultConfig().Workflow,
	}
	s.database.Path = ""

	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cc := cfg.ToContainerConfig()
		s.database = cc.Database
		s.workflow = cc.Workflow
		s.auth = cfg.Auth
	}

	if opts.Database != "" {
		s.database.Path = opts.Database
	}
	if opts.FallbackPathID > 0 {
		s.workflow.FallbackPathID = opts.FallbackPathID
	}
	if s.database.Path == "" {
		return nil, NewExitError(ExitCommandError, "no database: pass --db or --config")
	}
	return s, nil
}

func newLogger(opts *RootOptions) *zap.Logger {
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	logger, err := utils.NewLogger(utils.LoggerConfig{Level: level, OutputPath: "stderr", Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// env is an opened database with the approval engine on top. The engine
// has no notification subscribers: commands never notify anyone.
type env struct {
	db     *container.DatabaseBundle
	repos  *container.RepositoryBundle
	engine *container.EngineBundle
	logger *zap.Logger
}

func openEnv(ctx context.Context, opts *RootOptions) (*env, error) {
	s, err := resolveSettings(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts)

	db, err := container.ProvideDatabase(&s.database, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	repos, err := container.ProvideRepositories(ctx, db.DB, logger)
	if err != nil {
		_ = db.DB.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open repositories", err)
	}

	engine, err := container.ProvideEngine(&container.EngineDeps{
		Repos:      repos,
		TxManager:  db.TransactionMgr,
		Dispatcher: dispatcher.NewDispatcher(),
		Config:     &s.workflow,
		Logger:     logger,
	})
	if err != nil {
		_ = db.DB.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build approval engine", err)
	}

	return &env{db: db, repos: repos, engine: engine, logger: logger}, nil
}

func (e *env) Close() {
	_ = e.db.DB.Close()
	_ = e.logger.Sync()
}
