package dispatcher

import (
	"context"

	"github.com/garyjia/approval-routing/internal/domain/event"
)

// Handler processes a workflow event. Handlers receive snapshots and must
// not modify them.
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
