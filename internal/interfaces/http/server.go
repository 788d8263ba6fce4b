// Package http exposes the approval workflow over HTTP.
// Handlers only translate requests into workflow service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/approval-routing/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Deps are the collaborators behind the routes. Gatherer defaults to the
// default prometheus registry.
type Deps struct {
	Workflow    service.WorkflowService
	Delegations DelegationService
	Auth        *Authenticator
	Health      HealthFunc
	Gatherer    prometheus.Gatherer
	Logger      Logger
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Deps
	logger     Logger
}

// NewServer creates a new HTTP server with its routes registered
func NewServer(config ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	server := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: deps.Logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

func (s *Server) setupRoutes() {
	h := NewHandlers(s.deps.Workflow, s.deps.Delegations, s.deps.Health, s.logger)

	s.router.GET("/health", h.HealthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")

	// Email links carry their own credential
	tokens := api.Group("/tokens")
	{
		tokens.GET("/:token/approve", h.ApproveByToken)
		tokens.POST("/:token/approve", h.ApproveByToken)
		tokens.GET("/:token/reject", h.RejectByToken)
		tokens.POST("/:token/reject", h.RejectByToken)
	}

	authed := api.Group("")
	authed.Use(s.deps.Auth.Middleware())
	{
		txns := authed.Group("/transactions/:type/:id")
		txns.POST("/submit", h.Submit)
		txns.POST("/recall", h.Recall)
		txns.POST("/resubmit", h.Resubmit)
		txns.GET("/history", h.GetHistory)
		txns.GET("/tasks", h.ListTasks)

		authed.POST("/tasks/:id/approve", h.Approve)
		authed.POST("/tasks/:id/reject", h.Reject)

		authed.POST("/match/preview", h.PreviewMatch)
		authed.POST("/match/debug", h.DebugMatch)
		authed.GET("/paths/:id/steps", h.ListPathSteps)

		authed.POST("/delegations", h.CreateDelegation)
		authed.GET("/delegations", h.ListDelegations)
		authed.DELETE("/delegations/:id", h.RevokeDelegation)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
