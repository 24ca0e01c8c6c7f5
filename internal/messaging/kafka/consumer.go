package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 200 * time.Millisecond
)

// ErrPermanent помечает ошибки, которые бессмысленно повторять: сообщение сразу уходит в DLQ.
var ErrPermanent = errors.New("permanent message failure")

// MessageHandler обрабатывает одно сообщение. Ошибка с ErrPermanent не повторяется.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// outcome — судьба сообщения после обработки.
type outcome int

const (
	// outcomeHandled — обработано, offset фиксируется.
	outcomeHandled outcome = iota
	// outcomeDeadLettered — отправлено в DLQ, offset фиксируется.
	outcomeDeadLettered
	// outcomeRedeliver — offset не фиксируется, сообщение перечитают после rebalance.
	outcomeRedeliver
)

// Consumer читает топики в составе consumer group. Каждое сообщение
// обрабатывается до maxAttempts раз; после этого или при ErrPermanent
// оно уходит в DLQ, если он настроен.
type Consumer struct {
	group        sarama.ConsumerGroup
	topics       []string
	handler      MessageHandler
	logger       *log.Entry
	dlq          *Producer
	dlqTopic     string
	maxAttempts  int
	retryBackoff time.Duration
	wg           sync.WaitGroup
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetters включает DLQ. Пустой topic означает TopicDeadLetterQueue.
func WithDeadLetters(producer *Producer, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = producer
		if topic != "" {
			c.dlqTopic = topic
		}
	}
}

// WithMaxAttempts задаёт число попыток обработки, включая сделанные до переотправки из DLQ.
func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryBackoff задаёт шаг линейной паузы между попытками; 0 отключает паузу.
func WithRetryBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryBackoff = d
		}
	}
}

// WithConsumerLogger задаёт логгер.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumerConfig — round-robin балансировка, чтение с новейших offset.
func NewConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	return config
}

// NewConsumer подключается к consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("kafka consumer handler is required")
	}
	group, err := sarama.NewConsumerGroup(brokers, groupID, NewConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:        group,
		topics:       topics,
		handler:      handler,
		logger:       log.WithField("component", "kafka-consumer"),
		dlqTopic:     TopicDeadLetterQueue,
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает чтение в фоне и возвращается сразу.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance.
		for {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("consumer group session failed")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithFields(log.Fields{
		"topics":       c.topics,
		"max_attempts": c.maxAttempts,
		"dlq":          c.dlq != nil,
	}).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает партицию последовательно.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if c.process(session.Context(), message) != outcomeRedeliver {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) outcome {
	logger := c.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	})

	attempts, err := c.runAttempts(ctx, message, logger)
	if err == nil {
		return outcomeHandled
	}
	if ctx.Err() != nil && !errors.Is(err, ErrPermanent) {
		logger.WithError(err).Warn("processing interrupted, message will be redelivered")
		return outcomeRedeliver
	}
	if c.dlq == nil {
		logger.WithError(err).Error("message processing failed, dlq is not configured")
		return outcomeRedeliver
	}
	if dlqErr := c.sendToDLQ(message, err, attempts); dlqErr != nil {
		logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return outcomeRedeliver
	}
	logger.WithError(err).WithField("attempts", attempts).Warn("message sent to DLQ")
	return outcomeDeadLettered
}

// runAttempts вызывает handler, пока он не преуспеет, не вернёт ErrPermanent
// или счётчик попыток (с учётом x-retry-count) не достигнет maxAttempts.
func (c *Consumer) runAttempts(ctx context.Context, message *sarama.ConsumerMessage, logger *log.Entry) (int, error) {
	attempts := retryCountFromHeaders(message.Headers)
	for {
		err := c.handler(ctx, message)
		if err == nil {
			return attempts, nil
		}
		attempts++
		if errors.Is(err, ErrPermanent) || attempts >= c.maxAttempts || ctx.Err() != nil {
			return attempts, err
		}

		logger.WithError(err).WithField("attempt", attempts).Warn("message processing failed, retrying")
		if c.retryBackoff <= 0 {
			continue
		}
		timer := time.NewTimer(c.retryBackoff * time.Duration(attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, err
		case <-timer.C:
		}
	}
}

func retryCountFromHeaders(headers []*sarama.RecordHeader) int {
	for _, header := range headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil && count > 0 {
			return count
		}
	}
	return 0
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, cause error, attempts int) error {
	failedAt := time.Now().UTC().Format(time.RFC3339)
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		RetryCount:        attempts,
	}

	return c.dlq.PublishEvent(
		c.dlqTopic,
		string(message.Key),
		letter,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(cause.Error())},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(failedAt)},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(attempts))},
	)
}
