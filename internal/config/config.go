package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LarkConfig holds Lark API configuration. With Enabled off notifications
// are written to the log instead of sent.
type LarkConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// AutoApproveConfig controls submission-time auto approval
type AutoApproveConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	MaxRiskScore float64 `mapstructure:"max_risk_score"`
}

// WorkflowConfig holds the approval policy. Everything here except the
// notification fields is reapplied when the config file changes.
type WorkflowConfig struct {
	FallbackPathID           int64             `mapstructure:"fallback_path_id"`
	AutoApprove              AutoApproveConfig `mapstructure:"auto_approve"`
	DelegationMaxDays        int               `mapstructure:"delegation_max_days"`
	TokenTTL                 time.Duration     `mapstructure:"token_ttl"`
	AllowPrivilegedSoDBypass bool              `mapstructure:"allow_privileged_sod_bypass"`
	ApprovalLinkBaseURL      string            `mapstructure:"approval_link_base_url"`
	EscalationReceiver       string            `mapstructure:"escalation_receiver"`
}

// WorkerConfig holds maintenance worker configuration
type WorkerConfig struct {
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`
	ReminderAfter    time.Duration `mapstructure:"reminder_after"`
	MaxReminders     int           `mapstructure:"max_reminders"`
	RunBudget        time.Duration `mapstructure:"run_budget"`
	BatchSize        int           `mapstructure:"batch_size"`
}

// Loader reads configuration from one file plus the environment and can
// watch the file for changes
type Loader struct {
	v       *viper.Viper
	envFile string
	once    sync.Once
}

// NewLoader creates a Loader for configPath. Variables from envFile are
// exported first when the file exists; pass "" to skip it.
func NewLoader(configPath, envFile string) *Loader {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APPROVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	return &Loader{v: v, envFile: envFile}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath, ".env").Load()
}

// Load reads, decodes and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.decode()
}

// Watch calls onChange with every valid configuration written to the file
// after Load. Invalid edits go to onError and the previous configuration
// stays in effect.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.once.Do(func() {
		l.v.OnConfigChange(func(fsnotify.Event) {
			cfg, err := l.decode()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(cfg)
		})
		l.v.WatchConfig()
	})
}

func (l *Loader) loadEnvFile() error {
	if l.envFile == "" {
		return nil
	}
	if _, err := os.Stat(l.envFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(l.envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/approvals.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	// Lark defaults
	v.SetDefault("lark.enabled", true)
	v.SetDefault("lark.receive_id_type", "user_id")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Auth defaults
	v.SetDefault("auth.issuer", "approval-routing")

	// Workflow defaults
	v.SetDefault("workflow.fallback_path_id", 0)
	v.SetDefault("workflow.auto_approve.enabled", false)
	v.SetDefault("workflow.auto_approve.max_risk_score", 0)
	v.SetDefault("workflow.delegation_max_days", 90)
	v.SetDefault("workflow.token_ttl", 72*time.Hour)
	v.SetDefault("workflow.allow_privileged_sod_bypass", false)

	// Worker defaults
	v.SetDefault("worker.reminder_interval", 15*time.Minute)
	v.SetDefault("worker.reminder_after", 24*time.Hour)
	v.SetDefault("worker.max_reminders", 3)
	v.SetDefault("worker.run_budget", 2*time.Minute)
	v.SetDefault("worker.batch_size", 50)
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("auth.secret", "AUTH_JWT_SECRET")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 bytes")
	}

	w := c.Workflow
	if w.FallbackPathID < 0 {
		return fmt.Errorf("workflow.fallback_path_id cannot be negative")
	}
	if w.AutoApprove.Enabled && w.AutoApprove.MaxRiskScore < 0 {
		return fmt.Errorf("workflow.auto_approve.max_risk_score cannot be negative")
	}
	if w.DelegationMaxDays < 0 {
		return fmt.Errorf("workflow.delegation_max_days cannot be negative")
	}
	if w.TokenTTL <= 0 {
		return fmt.Errorf("workflow.token_ttl must be positive")
	}

	if c.Worker.ReminderInterval <= 0 {
		return fmt.Errorf("worker.reminder_interval must be positive")
	}
	if c.Worker.RunBudget <= 0 {
		return fmt.Errorf("worker.run_budget must be positive")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be positive")
	}
	if c.Worker.MaxReminders < 0 {
		return fmt.Errorf("worker.max_reminders cannot be negative")
	}

	return nil
}
