package event

import (
	"testing"

	"github.com/garyjia/approval-routing/internal/domain/entity"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"task created", TypeTaskCreated, true},
		{"task reminder", TypeTaskReminder, true},
		{"task escalated", TypeTaskEscalated, true},
		{"transaction approved", TypeTransactionApproved, true},
		{"transaction rejected", TypeTransactionRejected, true},
		{"unknown", Type("voucher.generated"), false},
		{"empty", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	ref := entity.TransactionRef{Type: entity.TxnTypePurchaseOrder, ID: "PO-1"}
	evt := NewEvent(TypeTaskCreated, ref)

	if evt.ID == "" {
		t.Error("ID should be generated")
	}
	if evt.CorrelationID == "" {
		t.Error("CorrelationID should be generated")
	}
	if evt.ID == evt.CorrelationID {
		t.Error("ID and CorrelationID should differ for a new chain")
	}
	if evt.Transaction != ref {
		t.Errorf("Transaction = %v, want %v", evt.Transaction, ref)
	}
	if evt.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestNewEventWithCorrelation(t *testing.T) {
	ref := entity.TransactionRef{Type: entity.TxnTypeInvoice, ID: "INV-9"}
	parent := NewEvent(TypeTaskCreated, ref)
	child := NewEventWithCorrelation(TypeTransactionApproved, ref, parent.CorrelationID)

	if child.CorrelationID != parent.CorrelationID {
		t.Errorf("CorrelationID = %v, want %v", child.CorrelationID, parent.CorrelationID)
	}
	if child.ID == parent.ID {
		t.Error("child event should have its own ID")
	}
}

func TestEvent_WithTaskSnapshotsTask(t *testing.T) {
	ref := entity.TransactionRef{Type: entity.TxnTypeVendorBill, ID: "VB-3"}
	task := &entity.ApprovalTask{ID: 7, ApproverID: "u1", Status: entity.TaskStatusPending}

	original := NewEvent(TypeTaskCreated, ref)
	evt := original.WithTask(task)

	task.Status = entity.TaskStatusCancelled

	if evt.Task == nil {
		t.Fatal("Task should be attached")
	}
	if evt.Task.Status != entity.TaskStatusPending {
		t.Errorf("snapshot status = %v, want %v", evt.Task.Status, entity.TaskStatusPending)
	}
	if original.Task != nil {
		t.Error("WithTask should not modify the original event")
	}
}

func TestEvent_WithActor(t *testing.T) {
	ref := entity.TransactionRef{Type: entity.TxnTypeSalesOrder, ID: "SO-1"}
	evt := NewEvent(TypeTransactionRejected, ref).WithActor("u2", "over budget")

	if evt.ActorID != "u2" || evt.Comment != "over budget" {
		t.Errorf("WithActor() = (%q, %q)", evt.ActorID, evt.Comment)
	}
}
