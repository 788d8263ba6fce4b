package config

import (
	"github.com/garyjia/approval-routing/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Lark: container.LarkConfig{
			Enabled:       c.Lark.Enabled,
			AppID:         c.Lark.AppID,
			AppSecret:     c.Lark.AppSecret,
			ReceiveIDType: c.Lark.ReceiveIDType,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Workflow: c.Workflow.ToContainer(),
		Worker: container.WorkerConfig{
			PollInterval:  c.Worker.ReminderInterval,
			ReminderAfter: c.Worker.ReminderAfter,
			MaxReminders:  c.Worker.MaxReminders,
			RunBudget:     c.Worker.RunBudget,
			BatchSize:     c.Worker.BatchSize,
		},
	}
}

// ToContainer converts the workflow section on its own, for reloads
func (w WorkflowConfig) ToContainer() container.WorkflowConfig {
	return container.WorkflowConfig{
		FallbackPathID:           w.FallbackPathID,
		AutoApproveEnabled:       w.AutoApprove.Enabled,
		AutoApproveMaxRisk:       w.AutoApprove.MaxRiskScore,
		DelegationMaxDays:        w.DelegationMaxDays,
		TokenTTL:                 w.TokenTTL,
		AllowPrivilegedSoDBypass: w.AllowPrivilegedSoDBypass,
		ApprovalLinkBaseURL:      w.ApprovalLinkBaseURL,
		EscalationReceiver:       w.EscalationReceiver,
	}
}
