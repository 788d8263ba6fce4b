package lark

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/entity"
)

// NotifierConfig controls message content and escalation routing
type NotifierConfig struct {
	// ApprovalLinkBaseURL prefixes emailed approve/reject links. Links are
	// omitted when empty.
	ApprovalLinkBaseURL string

	// EscalationReceiver gets escalations in addition to the assignee
	EscalationReceiver string
}

// Notifier implements port.NotificationSink over Lark IM
type Notifier struct {
	sender TextSender
	cfg    NotifierConfig
	logger *zap.Logger
}

// NewNotifier creates a new Notifier
func NewNotifier(sender TextSender, cfg NotifierConfig, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		cfg:    cfg,
		logger: logger,
	}
}

// SendApprovalRequest implements port.NotificationSink
func (n *Notifier) SendApprovalRequest(ctx context.Context, task *entity.ApprovalTask, txn *entity.Transaction) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval requested: %s awaits your decision at step %d.", describe(txn), task.Sequence)
	n.appendOnBehalf(&b, task)
	n.appendLinks(&b, task)
	return n.sender.SendText(ctx, task.NotifyTarget(), b.String())
}

// SendReminder implements port.NotificationSink
func (n *Notifier) SendReminder(ctx context.Context, task *entity.ApprovalTask, txn *entity.Transaction) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Reminder %d: %s is still waiting for your decision at step %d.", task.ReminderCount, describe(txn), task.Sequence)
	n.appendOnBehalf(&b, task)
	n.appendLinks(&b, task)
	return n.sender.SendText(ctx, task.NotifyTarget(), b.String())
}

// SendEscalation implements port.NotificationSink
func (n *Notifier) SendEscalation(ctx context.Context, task *entity.ApprovalTask, txn *entity.Transaction) error {
	text := fmt.Sprintf("Escalation: %s has exceeded its approval SLA at step %d (assigned to %s).",
		describe(txn), task.Sequence, task.NotifyTarget())

	if err := n.sender.SendText(ctx, task.NotifyTarget(), text); err != nil {
		return err
	}
	if n.cfg.EscalationReceiver != "" && n.cfg.EscalationReceiver != task.NotifyTarget() {
		return n.sender.SendText(ctx, n.cfg.EscalationReceiver, text)
	}
	return nil
}

// SendApprovedNotification implements port.NotificationSink
func (n *Notifier) SendApprovedNotification(ctx context.Context, txn *entity.Transaction) error {
	text := fmt.Sprintf("Approved: %s has completed approval.", describe(txn))
	return n.sender.SendText(ctx, txn.Requester(), text)
}

// SendRejectedNotification implements port.NotificationSink
func (n *Notifier) SendRejectedNotification(ctx context.Context, txn *entity.Transaction, actorID, comment string) error {
	text := fmt.Sprintf("Rejected: %s was rejected by %s.", describe(txn), actorID)
	if comment != "" {
		text += "\nComment: " + comment
	}
	return n.sender.SendText(ctx, txn.Requester(), text)
}

func (n *Notifier) appendOnBehalf(b *strings.Builder, task *entity.ApprovalTask) {
	if task.ActingApproverID != "" && task.ActingApproverID != task.ApproverID {
		fmt.Fprintf(b, " You are acting on behalf of %s.", task.ApproverID)
	}
}

func (n *Notifier) appendLinks(b *strings.Builder, task *entity.ApprovalTask) {
	if n.cfg.ApprovalLinkBaseURL == "" || task.Token == "" {
		return
	}
	base := strings.TrimRight(n.cfg.ApprovalLinkBaseURL, "/")
	token := url.PathEscape(task.Token)
	fmt.Fprintf(b, "\nApprove: %s/api/v1/tokens/%s/approve", base, token)
	fmt.Fprintf(b, "\nReject: %s/api/v1/tokens/%s/reject", base, token)
}

func describe(txn *entity.Transaction) string {
	amount := fmt.Sprintf("%.2f", txn.Amount)
	if txn.Currency != "" {
		amount += " " + txn.Currency
	}
	return fmt.Sprintf("%s %s (%s)", strings.ReplaceAll(txn.Type, "_", " "), txn.ID, amount)
}

// Verify interface compliance
var _ port.NotificationSink = (*Notifier)(nil)
