package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestRecorder_WritesOutboxAndTimeline(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	rec := NewRecorder(outbox, timeline, metrics.NewStoreMetricsWithRegisterer(prometheus.NewRegistry()), nil)

	order := domain.Order{
		ID:            "order-1",
		CustomerID:    "cust-1",
		Currency:      "EUR",
		AmountMinor:   1200,
		PaymentMethod: domain.PaymentMethodCOD,
		Status:        domain.OrderStatusCancelled,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Record(ctx, order, Entry{
		Type:   domain.TimelineOrderCancelled,
		From:   domain.OrderStatusPlaced,
		To:     domain.OrderStatusCancelled,
		Reason: "changed my mind",
	})

	pending := outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, AggregateOrder, pending[0].AggregateType)
	require.Equal(t, "order-1", pending[0].AggregateID)
	require.Equal(t, domain.TimelineOrderCancelled, pending[0].EventType)

	var payload EventPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, domain.OrderStatusPlaced, payload.FromStatus)
	require.Equal(t, domain.OrderStatusCancelled, payload.ToStatus)
	require.Equal(t, "changed my mind", payload.Reason)
	require.EqualValues(t, 1200, payload.AmountMinor)

	events, err := timeline.List(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.OrderStatusCancelled, events[0].ToStatus)
	require.False(t, events[0].Occurred.IsZero())
}

type failingOutbox struct{ domain.OutboxRepository }

func (failingOutbox) Enqueue(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("outbox down")
}

func TestRecorder_OutboxFailureStillWritesTimeline(t *testing.T) {
	timeline := memory.NewTimelineRepository()
	rec := NewRecorder(failingOutbox{}, timeline, nil, nil)

	rec.Record(context.Background(), domain.Order{ID: "order-2"}, Entry{Type: domain.TimelinePaymentFailed})

	events, err := timeline.List(context.Background(), "order-2")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRecorder_NilRepositories(t *testing.T) {
	rec := NewRecorder(nil, nil, nil, nil)
	rec.Record(context.Background(), domain.Order{ID: "order-3"}, Entry{Type: domain.TimelineOrderPlaced})
}
