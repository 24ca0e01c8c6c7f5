package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

var errKafkaDisabled = errors.New("kafka brokers are not configured")

// kafkaRuntime — producer для outbox и DLQ плюс consumer исходов оплаты.
// Kafka необязательна: без брокеров оба поля nil, а витрина работает
// на синхронном пути подтверждения оплаты.
type kafkaRuntime struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	logger   *log.Entry
}

// newKafkaProducer возвращает errKafkaDisabled, если брокеры не заданы.
func newKafkaProducer(cfg Config) (*kafka.Producer, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, errKafkaDisabled
	}
	return kafka.NewProducer(brokers)
}

// newOutcomeConsumer подписывается на исходы оплаты. Сообщения, исчерпавшие
// повторы, consumer отправляет в DLQ через dlq.
func newOutcomeConsumer(cfg Config, confirmer kafka.PaymentConfirmer, guard domain.WebhookGuard, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, errKafkaDisabled
	}

	return kafka.NewConsumer(
		brokers,
		cfg.KafkaConsumerGroup,
		[]string{cfg.KafkaOutcomesTopic},
		kafka.NewPaymentOutcomeHandler(confirmer, guard, logger.WithField("component", "payment-outcome-consumer")),
		kafka.WithDeadLetters(dlq, cfg.KafkaDLQTopic),
		kafka.WithMaxAttempts(cfg.KafkaConsumerRetries),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
}

// startKafka поднимает то, что удалось: отказ брокеров только логируется
// и отмечается в health как degraded.
func startKafka(ctx context.Context, cfg Config, confirmer kafka.PaymentConfirmer, guard domain.WebhookGuard, health *healthcheck.Handler, logger *log.Entry) *kafkaRuntime {
	rt := &kafkaRuntime{logger: logger}

	producer, err := newKafkaProducer(cfg)
	switch {
	case errors.Is(err, errKafkaDisabled):
		logger.Info("kafka is disabled: no brokers configured")
		return rt
	case err != nil:
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return rt
	}
	rt.producer = producer
	logger.WithField("brokers", cfg.Brokers()).Info("kafka producer initialized")

	if health != nil {
		health.RegisterOptional("kafka", healthcheck.NewSimpleChecker("kafka", producer.Ping))
	}

	consumer, err := newOutcomeConsumer(cfg, confirmer, guard, producer, logger)
	if err != nil {
		logger.WithError(err).Warn("payment outcome consumer is disabled")
		return rt
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start payment outcome consumer")
		return rt
	}
	rt.consumer = consumer
	return rt
}

// close останавливает consumer раньше producer: consumer пишет в DLQ через него.
func (k *kafkaRuntime) close() {
	if k == nil {
		return
	}
	if k.consumer != nil {
		if err := k.consumer.Stop(); err != nil {
			k.logger.WithError(err).Warn("failed to stop kafka consumer")
		}
		k.consumer = nil
	}
	if k.producer != nil {
		if err := k.producer.Close(); err != nil {
			k.logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			k.logger.Info("kafka producer closed")
		}
		k.producer = nil
	}
}
