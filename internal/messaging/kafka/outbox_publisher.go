package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var errPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher отправляет записи outbox в один топик.
// Ключ сообщения — идентификатор заказа, поэтому события заказа идут в одну партицию.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт паблишер; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}
	// SyncProducer не принимает контекст.
	if err := ctx.Err(); err != nil {
		return err
	}

	key, envelope, headers := p.envelope(event)
	return p.producer.PublishEvent(p.topic, key, envelope, headers...)
}

func (p *OutboxTopicPublisher) envelope(event domain.OutboxMessage) (string, OutboxEnvelope, []sarama.RecordHeader) {
	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	envelope := OutboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   p.now(),
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderEventType), Value: []byte(event.EventType)},
		{Key: []byte(HeaderOutboxID), Value: []byte(event.ID)},
	}
	return key, envelope, headers
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
