package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/approval-routing/internal/config"
	"github.com/garyjia/approval-routing/internal/container"
	httpapi "github.com/garyjia/approval-routing/internal/interfaces/http"
	"github.com/garyjia/approval-routing/pkg/utils"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// Load configuration
	loader := config.NewLoader(configPath, ".env")
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting approval routing service",
		zap.String("config", configPath),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, loader, cfg, logger); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Service exited")
}

func run(ctx context.Context, loader *config.Loader, cfg *config.Config, logger *zap.Logger) error {
	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container close failed", zap.Error(err))
		}
	}()

	loader.Watch(func(next *config.Config) {
		c.ApplyWorkflow(next.Workflow.ToContainer())
	}, func(err error) {
		logger.Error("Ignoring invalid configuration change", zap.Error(err))
	})

	auth, err := httpapi.NewAuthenticator(httpapi.AuthConfig{
		Secret: cfg.Auth.Secret,
		Issuer: cfg.Auth.Issuer,
	})
	if err != nil {
		return err
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, httpapi.Deps{
		Workflow:    c.Workflow(),
		Delegations: c.Delegations(),
		Auth:        auth,
		Health: func() (bool, interface{}) {
			h := c.Health()
			return h.Overall, h.Components
		},
		Gatherer: c.Gatherer(),
		Logger:   utils.NewKVLogger(logger.Named("http")),
	})

	// Blocks until ctx is cancelled
	return server.Start(ctx)
}
