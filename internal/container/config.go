// Package container provides dependency injection and lifecycle management
// for the approval routing service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Lark API configuration
	Lark LarkConfig

	// Server configuration
	Server ServerConfig

	// Workflow policy
	Workflow WorkflowConfig

	// Worker configuration
	Worker WorkerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	// Enabled sends notifications through Lark; otherwise they are logged
	Enabled bool

	// AppID is the Lark application ID
	AppID string

	// AppSecret is the Lark application secret
	AppSecret string

	// ReceiveIDType maps workflow user IDs to Lark recipients
	ReceiveIDType string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WorkflowConfig holds the approval policy pushed into the matcher,
// controller, delegation service and token issuer.
type WorkflowConfig struct {
	FallbackPathID           int64
	AutoApproveEnabled       bool
	AutoApproveMaxRisk       float64
	DelegationMaxDays        int
	TokenTTL                 time.Duration
	AllowPrivilegedSoDBypass bool

	// Read once at startup
	ApprovalLinkBaseURL string
	EscalationReceiver  string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	PollInterval  time.Duration
	ReminderAfter time.Duration
	MaxReminders  int
	RunBudget     time.Duration
	BatchSize     int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/approvals.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		Lark: LarkConfig{
			ReceiveIDType: "user_id",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Workflow: WorkflowConfig{
			DelegationMaxDays: 90,
			TokenTTL:          72 * time.Hour,
		},
		Worker: WorkerConfig{
			PollInterval:  15 * time.Minute,
			ReminderAfter: 24 * time.Hour,
			MaxReminders:  3,
			RunBudget:     2 * time.Minute,
			BatchSize:     50,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	if c.Workflow.TokenTTL <= 0 {
		return fmt.Errorf("workflow token TTL must be positive")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll interval must be positive")
	}

	return nil
}
