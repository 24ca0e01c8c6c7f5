package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const clientID = "storefront"

// Producer — синхронный идемпотентный producer. Используется outbox-воркером
// и consumer-ом для DLQ.
type Producer struct {
	producer sarama.SyncProducer
	// client нужен для Ping; у producer на mock он nil.
	client sarama.Client
	logger *log.Entry
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string) (*Producer, error) {
	client, err := sarama.NewClient(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		client:   client,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// NewProducerConfig — acks=all, идемпотентность и один запрос в полёте,
// чтобы события одного заказа не переупорядочивались при повторах.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// PublishEvent сериализует event в JSON и отправляет с ключом key.
// Ключ задаёт партицию: события одного заказа идут по порядку.
func (p *Producer) PublishEvent(topic string, key string, event any, headers ...sarama.RecordHeader) error {
	msg, err := newJSONMessage(topic, key, event, headers)
	if err != nil {
		return err
	}

	logger := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.WithError(err).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}
	logger.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("message sent to kafka")
	return nil
}

func newJSONMessage(topic, key string, event any, headers []sarama.RecordHeader) (*sarama.ProducerMessage, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(body),
		Headers:   headers,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Ping обновляет метаданные кластера: ошибка означает, что брокеры недоступны.
func (p *Producer) Ping() error {
	switch {
	case p.client == nil:
		return errors.New("kafka client is not initialized")
	case p.client.Closed():
		return sarama.ErrClosedClient
	}
	return p.client.RefreshMetadata()
}

// Close закрывает producer и его клиента.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	if p.client == nil || p.client.Closed() {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close kafka client: %w", err)
	}
	return nil
}
