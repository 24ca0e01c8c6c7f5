package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// EventType определяет тип события заказа.
type EventType string

// Типы событий совпадают с типами записей истории заказа.
const (
	EventTypeOrderPlaced           EventType = domain.TimelineOrderPlaced
	EventTypeOrderStatusChanged    EventType = domain.TimelineStatusChanged
	EventTypeOrderPaymentConfirmed EventType = domain.TimelinePaymentConfirmed
	EventTypeOrderPaymentFailed    EventType = domain.TimelinePaymentFailed
	EventTypeOrderCancelled        EventType = domain.TimelineOrderCancelled
	EventTypeOrderReactivated      EventType = domain.TimelineOrderReactivated
	EventTypeCheckoutCompensated   EventType = domain.TimelineCheckoutCompensated
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicPaymentOutcomes = "storefront.payment.outcomes"
	TopicDeadLetterQueue = "storefront.dlq" // Dead Letter Queue для failed messages
)

// Заголовки сообщений. x-retry-count переживает DLQ и replay.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	// HeaderOutboxID позволяет подписчикам отбрасывать повторы at-least-once доставки.
	HeaderOutboxID = "x-outbox-id"
)

// OutboxEnvelope — формат события заказа в топике storefront.order.events.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter — сообщение, которое consumer не смог обработать.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// ParseOrderEvent парсит событие заказа из сообщения.
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OutboxEnvelope, error) {
	var event OutboxEnvelope
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return &event, nil
}

// ParsePaymentOutcome парсит результат оплаты из сообщения.
func ParsePaymentOutcome(message *sarama.ConsumerMessage) (domain.PaymentOutcome, error) {
	var outcome domain.PaymentOutcome
	if err := json.Unmarshal(message.Value, &outcome); err != nil {
		return domain.PaymentOutcome{}, fmt.Errorf("failed to unmarshal payment outcome: %w", err)
	}
	if err := outcome.Validate(); err != nil {
		return domain.PaymentOutcome{}, fmt.Errorf("invalid payment outcome: %w", err)
	}
	return outcome, nil
}
