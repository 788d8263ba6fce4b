package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-routing/internal/domain/entity"
)

// Event represents a workflow event raised after a state change has been
// persisted. Handlers must treat the attached records as read-only snapshots.
type Event struct {
	ID            string                `json:"id"`
	Type          Type                  `json:"type"`
	Transaction   entity.TransactionRef `json:"transaction"`
	Task          *entity.ApprovalTask  `json:"task,omitempty"`
	Snapshot      *entity.Transaction   `json:"snapshot,omitempty"`
	ActorID       string                `json:"actor_id,omitempty"`
	Comment       string                `json:"comment,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
	CorrelationID string                `json:"correlation_id"`
}

// NewEvent creates an event with a generated ID and its own correlation chain
func NewEvent(eventType Type, ref entity.TransactionRef) *Event {
	return NewEventWithCorrelation(eventType, ref, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to an existing correlation chain
func NewEventWithCorrelation(eventType Type, ref entity.TransactionRef, correlationID string) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Transaction:   ref,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// WithTask returns a copy of the event carrying a snapshot of task
func (e *Event) WithTask(task *entity.ApprovalTask) *Event {
	cp := *e
	if task != nil {
		t := *task
		cp.Task = &t
	}
	return &cp
}

// WithTransaction returns a copy of the event carrying a snapshot of txn
func (e *Event) WithTransaction(txn *entity.Transaction) *Event {
	cp := *e
	if txn != nil {
		t := *txn
		cp.Snapshot = &t
	}
	return &cp
}

// WithActor returns a copy of the event attributed to actorID with an optional comment
func (e *Event) WithActor(actorID, comment string) *Event {
	cp := *e
	cp.ActorID = actorID
	cp.Comment = comment
	return &cp
}
