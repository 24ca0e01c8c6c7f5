package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestTimelineRepository_AppendKeepsChronology(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	base := time.Now().UTC()

	events := []domain.TimelineEvent{
		{OrderID: "order-1", Type: domain.TimelineOrderCancelled, FromStatus: domain.OrderStatusPlaced, ToStatus: domain.OrderStatusCancelled, Occurred: base.Add(time.Second)},
		{OrderID: "order-1", Type: domain.TimelineOrderPlaced, ToStatus: domain.OrderStatusPlaced, Occurred: base},
		{OrderID: "order-2", Type: domain.TimelineOrderPlaced, ToStatus: domain.OrderStatusPlaced, Occurred: base},
	}
	for _, ev := range events {
		if err := repo.Append(ctx, ev); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	history, err := repo.List(ctx, "order-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	if history[0].Type != domain.TimelineOrderPlaced || history[1].Type != domain.TimelineOrderCancelled {
		t.Fatalf("unexpected order of events: %+v", history)
	}

	if err := repo.Append(ctx, domain.TimelineEvent{Type: domain.TimelineOrderPlaced}); !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("expected ErrOrderIDRequired, got %v", err)
	}
}

func TestTimelineRepository_EqualTimestampsKeepWriteOrder(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	for _, typ := range []string{domain.TimelinePaymentFailed, domain.TimelineOrderCancelled, domain.TimelineOrderReactivated} {
		if err := repo.Append(ctx, domain.TimelineEvent{OrderID: "order-1", Type: typ, Occurred: at}); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}
	if err := repo.Append(ctx, domain.TimelineEvent{OrderID: "order-1", Type: domain.TimelineOrderPlaced, Occurred: at.Add(-time.Minute)}); err != nil {
		t.Fatalf("append placed: %v", err)
	}

	history, err := repo.List(ctx, "order-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{domain.TimelineOrderPlaced, domain.TimelinePaymentFailed, domain.TimelineOrderCancelled, domain.TimelineOrderReactivated}
	for i, typ := range want {
		if history[i].Type != typ {
			t.Fatalf("event %d: got %s want %s", i, history[i].Type, typ)
		}
	}

	history[0].Type = "mutated"
	again, _ := repo.List(ctx, "order-1")
	if again[0].Type != domain.TimelineOrderPlaced {
		t.Fatal("List must return a copy")
	}
}

func TestTimelineRepository_ZeroOccurredIsStamped(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()

	if err := repo.Append(ctx, domain.TimelineEvent{OrderID: "order-3", Type: domain.TimelineOrderPlaced}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	history, _ := repo.List(ctx, "order-3")
	if len(history) != 1 || history[0].Occurred.IsZero() {
		t.Fatalf("expected stamped event, got %+v", history)
	}

	empty, err := repo.List(ctx, "missing")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil history, got %v %v", empty, err)
	}
}
