package service

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-routing/internal/application/dispatcher"
	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/domain/event"
)

// NotificationHandler turns committed workflow events into notifications.
// Delivery is best-effort: failures are logged and reported to the
// dispatcher, never to the action that raised the event.
type NotificationHandler struct {
	sink   port.NotificationSink
	logger Logger
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(sink port.NotificationSink, logger Logger) *NotificationHandler {
	return &NotificationHandler{sink: sink, logger: logger}
}

// Register subscribes the handler to every notifying event type
func (h *NotificationHandler) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeTaskCreated, "notify-approval-request", h.onTaskCreated)
	d.SubscribeNamed(event.TypeTaskReminder, "notify-reminder", h.onTaskReminder)
	d.SubscribeNamed(event.TypeTaskEscalated, "notify-escalation", h.onTaskEscalated)
	d.SubscribeNamed(event.TypeTransactionApproved, "notify-approved", h.onApproved)
	d.SubscribeNamed(event.TypeTransactionRejected, "notify-rejected", h.onRejected)
}

func (h *NotificationHandler) onTaskCreated(ctx context.Context, evt *event.Event) error {
	if evt.Task == nil || evt.Snapshot == nil {
		return fmt.Errorf("event %s missing task or transaction snapshot", evt.ID)
	}
	return h.deliver(evt, h.sink.SendApprovalRequest(ctx, evt.Task, evt.Snapshot))
}

func (h *NotificationHandler) onTaskReminder(ctx context.Context, evt *event.Event) error {
	if evt.Task == nil || evt.Snapshot == nil {
		return fmt.Errorf("event %s missing task or transaction snapshot", evt.ID)
	}
	return h.deliver(evt, h.sink.SendReminder(ctx, evt.Task, evt.Snapshot))
}

func (h *NotificationHandler) onTaskEscalated(ctx context.Context, evt *event.Event) error {
	if evt.Task == nil || evt.Snapshot == nil {
		return fmt.Errorf("event %s missing task or transaction snapshot", evt.ID)
	}
	return h.deliver(evt, h.sink.SendEscalation(ctx, evt.Task, evt.Snapshot))
}

func (h *NotificationHandler) onApproved(ctx context.Context, evt *event.Event) error {
	if evt.Snapshot == nil {
		return fmt.Errorf("event %s missing transaction snapshot", evt.ID)
	}
	return h.deliver(evt, h.sink.SendApprovedNotification(ctx, evt.Snapshot))
}

func (h *NotificationHandler) onRejected(ctx context.Context, evt *event.Event) error {
	if evt.Snapshot == nil {
		return fmt.Errorf("event %s missing transaction snapshot", evt.ID)
	}
	return h.deliver(evt, h.sink.SendRejectedNotification(ctx, evt.Snapshot, evt.ActorID, evt.Comment))
}

func (h *NotificationHandler) deliver(evt *event.Event, err error) error {
	if err != nil {
		h.logger.Error("Notification delivery failed",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"transaction_id", evt.Transaction.ID,
			"error", err,
		)
		return fmt.Errorf("deliver %s: %w", evt.Type, err)
	}
	h.logger.Info("Notification delivered",
		"event_type", evt.Type,
		"transaction_id", evt.Transaction.ID,
	)
	return nil
}
