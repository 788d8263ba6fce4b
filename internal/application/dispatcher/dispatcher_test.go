package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/event"
)

// mockLogger records messages for assertions
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func newApprovedEvent() *event.Event {
	return event.NewEvent(event.TypeTransactionApproved, entity.TransactionRef{Type: entity.TxnTypePurchaseOrder, ID: "PO-1"})
}

func TestSubscribe(t *testing.T) {
	t.Run("generated names are unique per event type", func(t *testing.T) {
		d := NewDispatcher()
		noop := func(ctx context.Context, evt *event.Event) error { return nil }

		d.Subscribe(event.TypeTransactionApproved, noop)
		d.Subscribe(event.TypeTransactionApproved, noop)

		handlers := d.ListHandlers(event.TypeTransactionApproved)
		if len(handlers) != 2 {
			t.Fatalf("expected 2 handlers, got %d", len(handlers))
		}
		if handlers[0].Name == handlers[1].Name {
			t.Errorf("expected distinct names, both were %q", handlers[0].Name)
		}
		if handlers[0].Handler != nil {
			t.Error("expected listed handlers to omit the function")
		}
	})

	t.Run("registration is logged", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.SubscribeNamed(event.TypeTaskCreated, "notify", func(ctx context.Context, evt *event.Event) error { return nil })

		if !logger.HasInfo("Handler registered") {
			t.Error("expected registration to be logged")
		}
	})

	t.Run("handlers only see their event type", func(t *testing.T) {
		d := NewDispatcher()
		called := false
		d.Subscribe(event.TypeTransactionRejected, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		if err := d.Dispatch(context.Background(), newApprovedEvent()); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if called {
			t.Error("rejected handler should not run for an approved event")
		}
	})
}

func TestDispatch(t *testing.T) {
	t.Run("runs handlers in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int

		d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 1)
			return nil
		})
		d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 2)
			return nil
		})

		if err := d.Dispatch(context.Background(), newApprovedEvent()); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("expected handlers to run in order [1, 2], got %v", order)
		}
	})

	t.Run("stops at first error", func(t *testing.T) {
		d := NewDispatcher()
		expectedErr := errors.New("sink down")
		called := false

		d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
			return expectedErr
		})
		d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), newApprovedEvent())
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error to wrap %v, got %v", expectedErr, err)
		}
		if called {
			t.Error("expected second handler not to be called after first error")
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
			panic("boom")
		})

		if err := d.Dispatch(context.Background(), newApprovedEvent()); err == nil {
			t.Fatal("expected error from panic recovery")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected panic to be logged as error")
		}
	})

	t.Run("refuses events after close", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := d.Dispatch(context.Background(), newApprovedEvent()); err == nil {
			t.Fatal("expected error when dispatching to closed dispatcher")
		}
		if err := d.Close(); err == nil {
			t.Error("expected second close to fail")
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("close waits for handlers", func(t *testing.T) {
		d := NewDispatcher()
		var called atomic.Int32

		for i := 0; i < 2; i++ {
			d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
				time.Sleep(10 * time.Millisecond)
				called.Add(1)
				return nil
			})
		}

		d.DispatchAsync(context.Background(), newApprovedEvent())

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if called.Load() != 2 {
			t.Errorf("expected 2 handlers to be called, got %d", called.Load())
		}
	})

	t.Run("handlers outlive the caller's context", func(t *testing.T) {
		d := NewDispatcher()
		var cancelled atomic.Bool
		release := make(chan struct{})

		d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
			<-release
			cancelled.Store(ctx.Err() != nil)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, newApprovedEvent())
		cancel()
		close(release)

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if cancelled.Load() {
			t.Error("expected handler context to survive caller cancellation")
		}
	})

	t.Run("handler timeout applies", func(t *testing.T) {
		d := NewDispatcher(WithHandlerTimeout(5 * time.Millisecond))
		var deadline atomic.Bool

		d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
			_, ok := ctx.Deadline()
			deadline.Store(ok)
			return nil
		})

		d.DispatchAsync(context.Background(), newApprovedEvent())
		_ = d.Close()

		if !deadline.Load() {
			t.Error("expected handler context to carry a deadline")
		}
	})

	t.Run("errors are logged, not propagated", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32

		d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
			return errors.New("sink down")
		})
		d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})

		d.DispatchAsync(context.Background(), newApprovedEvent())
		_ = d.Close()

		if called.Load() != 1 {
			t.Errorf("expected second handler to run, got %d calls", called.Load())
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected error to be logged")
		}
	})

	t.Run("close racing dispatch waits for every accepted event", func(t *testing.T) {
		for round := 0; round < 50; round++ {
			logger := &mockLogger{}
			d := NewDispatcher(WithLogger(logger))
			var called atomic.Int32
			d.Subscribe(event.TypeTransactionApproved, func(ctx context.Context, evt *event.Event) error {
				called.Add(1)
				return nil
			})

			const senders = 8
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < senders; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					d.DispatchAsync(context.Background(), newApprovedEvent())
				}()
			}

			close(start)
			if err := d.Close(); err != nil {
				t.Fatalf("close failed: %v", err)
			}
			afterClose := called.Load()
			wg.Wait()

			// Every event was either run before Close returned or dropped
			if got := int(afterClose) + logger.ErrorCount(); got != senders {
				t.Fatalf("round %d: %d handled + %d dropped, want %d", round, afterClose, logger.ErrorCount(), senders)
			}
		}
	})

	t.Run("drops events after close", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		_ = d.Close()

		d.DispatchAsync(context.Background(), newApprovedEvent())

		if logger.ErrorCount() != 1 {
			t.Errorf("expected dropped event to be logged once, got %d", logger.ErrorCount())
		}
	})
}
