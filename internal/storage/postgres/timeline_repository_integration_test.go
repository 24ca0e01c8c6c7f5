package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	timelineRepo := NewTimelineRepository(store)
	ctx := context.Background()

	placedAt := time.Now().UTC().Add(-time.Minute).Round(time.Microsecond)
	if err := timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID:  "timeline-order",
		Type:     domain.TimelineOrderPlaced,
		ToStatus: domain.OrderStatusPlaced,
		Occurred: placedAt,
	}); err != nil {
		t.Fatalf("append placed event: %v", err)
	}

	// Zero occurred should be auto-filled.
	if err := timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID:    "timeline-order",
		Type:       domain.TimelineOrderCancelled,
		FromStatus: domain.OrderStatusPlaced,
		ToStatus:   domain.OrderStatusCancelled,
		Reason:     "changed my mind",
	}); err != nil {
		t.Fatalf("append cancel event: %v", err)
	}

	events, err := timelineRepo.List(ctx, "timeline-order")
	if err != nil {
		t.Fatalf("list timeline events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 timeline events, got %d", len(events))
	}
	if events[0].Type != domain.TimelineOrderPlaced || events[1].Type != domain.TimelineOrderCancelled {
		t.Fatalf("unexpected event order: %+v", events)
	}
	if events[1].FromStatus != domain.OrderStatusPlaced || events[1].ToStatus != domain.OrderStatusCancelled {
		t.Fatalf("transition statuses not persisted: %+v", events[1])
	}
	if events[1].Reason != "changed my mind" {
		t.Fatalf("unexpected reason: %q", events[1].Reason)
	}
}

func TestTimelineRepository_PostgresHistoryOutlivesOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orderRepo := NewOrderRepository(store)
	timelineRepo := NewTimelineRepository(store)
	ctx := context.Background()

	order := sampleOrder("timeline-deleted", "customer-timeline", time.Now().UTC().Round(time.Microsecond))
	if err := orderRepo.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := timelineRepo.Append(ctx, domain.TimelineEvent{OrderID: order.ID, Type: domain.TimelinePaymentFailed}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := orderRepo.Delete(ctx, order.ID, 0); err != nil {
		t.Fatalf("delete order: %v", err)
	}

	events, err := timelineRepo.List(ctx, order.ID)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected history to survive deletion, got %d events", len(events))
	}

	missing, err := timelineRepo.List(ctx, "never-existed")
	if err != nil || len(missing) != 0 {
		t.Fatalf("expected empty history, got %v, %v", missing, err)
	}
}
