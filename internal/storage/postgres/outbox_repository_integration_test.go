package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func orderEvent(orderID, eventType string, createdAt time.Time) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
		CreatedAt:     createdAt,
	}
}

func TestOutboxRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute).Round(time.Microsecond)
	placed, err := repo.Enqueue(ctx, orderEvent("order-1", domain.TimelineOrderPlaced, base))
	require.NoError(t, err)
	assert.NotEmpty(t, placed.ID, "id must be generated")

	fixed := orderEvent("order-1", domain.TimelinePaymentConfirmed, base.Add(time.Second))
	fixed.ID = "outbox-fixed-id"
	fixed.Attempts = 7
	confirmed, err := repo.Enqueue(ctx, fixed)
	require.NoError(t, err)
	assert.Equal(t, "outbox-fixed-id", confirmed.ID)
	assert.Zero(t, confirmed.Attempts)

	_, err = repo.Enqueue(ctx, fixed)
	require.Error(t, err, "duplicate id must be rejected")

	pending, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []string{domain.TimelineOrderPlaced, domain.TimelinePaymentConfirmed},
		[]string{pending[0].EventType, pending[1].EventType})
	assert.Equal(t, base, pending[0].CreatedAt)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(pending[0].Payload))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)
	assert.Equal(t, base, stats.OldestPendingAt)

	require.NoError(t, repo.MarkSent(ctx, placed.ID))
	require.NoError(t, repo.MarkFailed(ctx, confirmed.ID))

	after, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, after)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.IsZero())

	var attempts int
	var status string
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT attempt_count, status FROM outbox_messages WHERE id = $1`, confirmed.ID,
	).Scan(&attempts, &status))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, outboxFailed, status)
}

func TestOutboxRepository_PostgresPullRespectsLimitAndOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour).Round(time.Microsecond)
	for i, orderID := range []string{"order-c", "order-a", "order-b"} {
		_, err := repo.Enqueue(ctx, orderEvent(orderID, domain.TimelineOrderPlaced, base.Add(time.Duration(2-i)*time.Second)))
		require.NoError(t, err)
	}

	batch, err := repo.PullPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "order-b", batch[0].AggregateID)
	assert.Equal(t, "order-a", batch[1].AggregateID)
}

func TestOutboxRepository_PostgresMarkMissing(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	assert.ErrorIs(t, repo.MarkSent(ctx, "missing-outbox"), domain.ErrOutboxPublish)
	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing-outbox"), domain.ErrOutboxPublish)
}
