package notify

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"mailtriage/contracts/event"
	"mailtriage/internal/bus"
	"mailtriage/internal/model"
	"mailtriage/internal/repository"
)

type failingBus struct {
	fail  bool
	calls int
}

func (b *failingBus) Publish(ctx context.Context, routingKey string, payload any) error {
	b.calls++
	if b.fail {
		return errors.New("broker unavailable")
	}
	return nil
}

func newNotifRepo(t *testing.T) *repository.FileNotificationRepository {
	t.Helper()
	repo, err := repository.NewFileNotificationRepository(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileNotificationRepository: %v", err)
	}
	return repo
}

func TestDispatchPendingMarksSent(t *testing.T) {
	repo := newNotifRepo(t)
	ctx := context.Background()

	inserted, err := repo.Insert(ctx, "bulk_approve", "Bulk operation", "2 succeeded, 0 failed", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	eventBus := bus.NewChannelBus(8, zap.NewNop())
	d := NewDispatcher(repo, eventBus, zap.NewNop())
	d.DispatchPending(ctx)

	select {
	case evt := <-eventBus.Events():
		if evt.RoutingKey != event.NotificationCreated {
			t.Fatalf("routing key = %s", evt.RoutingKey)
		}
	default:
		t.Fatal("expected a notification.created event")
	}

	items, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].ID != inserted.ID || items[0].Status != model.NotificationSent {
		t.Fatalf("notification not marked sent: %+v", items)
	}

	// Nothing pending on the next sweep.
	d.DispatchPending(ctx)
	select {
	case <-eventBus.Events():
		t.Fatal("sent notification dispatched twice")
	default:
	}
}

func TestDispatchFailureRetriesUntilFailed(t *testing.T) {
	repo := newNotifRepo(t)
	ctx := context.Background()

	if _, err := repo.Insert(ctx, "bulk_decline", "Bulk operation", "1 succeeded, 0 failed", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	broker := &failingBus{fail: true}
	d := NewDispatcher(repo, broker, zap.NewNop()).WithMaxRetries(2)

	d.DispatchPending(ctx)
	items, _ := repo.List(ctx)
	if items[0].Status != model.NotificationPending || items[0].RetryCount != 1 {
		t.Fatalf("after first failure: %+v", items[0])
	}

	d.DispatchPending(ctx)
	items, _ = repo.List(ctx)
	if items[0].Status != model.NotificationFailed {
		t.Fatalf("status = %s, want failed after exhausting retries", items[0].Status)
	}

	// Failed notifications are no longer picked up.
	d.DispatchPending(ctx)
	if broker.calls != 2 {
		t.Fatalf("broker called %d times, want 2", broker.calls)
	}
}

func TestDispatchOldestFirst(t *testing.T) {
	repo := newNotifRepo(t)
	ctx := context.Background()

	first, err := repo.Insert(ctx, "bulk_approve", "Bulk operation", "first", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := repo.Insert(ctx, "bulk_approve", "Bulk operation", "second", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	pending, err := repo.GetPending(ctx, 10)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID {
		t.Fatalf("pending order wrong: %+v", pending)
	}
}
