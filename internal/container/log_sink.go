package container

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
)

var _ port.NotificationSink = (*logSink)(nil)

// logSink records notifications in the log when no chat channel is configured
type logSink struct {
	logger *zap.Logger
}

func (s *logSink) SendApprovalRequest(_ context.Context, task *entity.ApprovalTask, txn *entity.Transaction) error {
	s.logger.Info("Approval request", taskFields(task, txn)...)
	return nil
}

func (s *logSink) SendReminder(_ context.Context, task *entity.ApprovalTask, txn *entity.Transaction) error {
	s.logger.Info("Approval reminder", append(taskFields(task, txn), zap.Int("reminder_count", task.ReminderCount))...)
	return nil
}

func (s *logSink) SendEscalation(_ context.Context, task *entity.ApprovalTask, txn *entity.Transaction) error {
	s.logger.Warn("Approval escalated", taskFields(task, txn)...)
	return nil
}

func (s *logSink) SendApprovedNotification(_ context.Context, txn *entity.Transaction) error {
	s.logger.Info("Transaction approved",
		zap.String("transaction_type", txn.Type),
		zap.String("transaction_id", txn.ID),
		zap.String("created_by", txn.CreatedBy))
	return nil
}

func (s *logSink) SendRejectedNotification(_ context.Context, txn *entity.Transaction, actorID, comment string) error {
	s.logger.Info("Transaction rejected",
		zap.String("transaction_type", txn.Type),
		zap.String("transaction_id", txn.ID),
		zap.String("created_by", txn.CreatedBy),
		zap.String("rejected_by", actorID),
		zap.String("comment", comment))
	return nil
}

func taskFields(task *entity.ApprovalTask, txn *entity.Transaction) []zap.Field {
	return []zap.Field{
		zap.String("transaction_type", txn.Type),
		zap.String("transaction_id", txn.ID),
		zap.Int64("task_id", task.ID),
		zap.Int("sequence", task.Sequence),
		zap.String("recipient", task.NotifyTarget()),
	}
}
