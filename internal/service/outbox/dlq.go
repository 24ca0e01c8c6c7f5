package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DLQEnvelope — формат сообщения в DLQ-топике. Его же читает утилита переотправки.
type DLQEnvelope struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	PriorAttempts  int             `json:"prior_attempts"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func newDLQEnvelope(event domain.OutboxMessage, publishErr error, now time.Time) DLQEnvelope {
	return DLQEnvelope{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   publishErr.Error(),
		PriorAttempts:  event.Attempts,
		EnqueuedAt:     event.CreatedAt,
		DLQPublishedAt: now,
	}
}

// publishToDLQ заворачивает исходное сообщение в DLQEnvelope. Без DLQ-паблишера
// сообщение просто остаётся в outbox со статусом failed.
func (w *Worker) publishToDLQ(ctx context.Context, event domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(newDLQEnvelope(event, publishErr, w.now()))
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dead := event
	dead.Payload = payload
	if err := w.publishOnce(ctx, w.dlqPublisher, dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
