package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

const (
	sourceConsumer = "consumer"
	sourceOutbox   = "outbox"
)

// errNotDeadLetter — сообщение не похоже ни на один формат DLQ.
var errNotDeadLetter = errors.New("message is not a dead letter")

// replayMessage — восстановленное исходное сообщение.
type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
	// reason — ошибка, с которой сообщение попало в DLQ.
	reason    string
	eventType string
	source    string
}

func (m replayMessage) producerMessage() *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic:     m.topic,
		Key:       sarama.StringEncoder(m.key),
		Value:     sarama.ByteEncoder(m.value),
		Headers:   m.headers,
		Timestamp: time.Now().UTC(),
	}
}

// decodeDeadLetter понимает два формата DLQ: kafka.DeadLetter от consumer
// исходов оплаты и outbox.DLQEnvelope, упакованный outbox-воркером в
// kafka.OutboxEnvelope. Счётчик повторов не переносится: после replay
// consumer начинает попытки заново.
func decodeDeadLetter(value []byte, eventsTopic string) (replayMessage, error) {
	var letter kafka.DeadLetter
	if err := json.Unmarshal(value, &letter); err == nil && letter.OriginalValue != "" {
		return fromConsumerLetter(letter, eventsTopic), nil
	}

	var envelope kafka.OutboxEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errNotDeadLetter
	}
	return fromOutboxEnvelope(envelope, eventsTopic)
}

func fromConsumerLetter(letter kafka.DeadLetter, fallbackTopic string) replayMessage {
	topic := strings.TrimSpace(letter.OriginalTopic)
	if topic == "" {
		topic = fallbackTopic
	}
	return replayMessage{
		topic:  topic,
		key:    letter.OriginalKey,
		value:  []byte(letter.OriginalValue),
		reason: letter.ErrorMessage,
		source: sourceConsumer,
	}
}

func fromOutboxEnvelope(envelope kafka.OutboxEnvelope, eventsTopic string) (replayMessage, error) {
	var dead outbox.DLQEnvelope
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(dead.Payload) == 0 {
		return replayMessage{}, errors.New("outbox dlq payload does not contain original event payload")
	}

	// Тип события и агрегата берутся только из исходного сообщения: у обёртки DLQ свои.
	original := kafka.OutboxEnvelope{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: dead.AggregateType,
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     dead.EventType,
		Payload:       dead.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	body, err := json.Marshal(original)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	msg := replayMessage{
		topic:     eventsTopic,
		key:       firstNonEmpty(original.AggregateID, original.ID),
		value:     body,
		reason:    dead.PublishError,
		eventType: original.EventType,
		source:    sourceOutbox,
	}
	if original.EventType != "" {
		msg.headers = []sarama.RecordHeader{{Key: []byte(kafka.HeaderEventType), Value: []byte(original.EventType)}}
	}
	return msg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
