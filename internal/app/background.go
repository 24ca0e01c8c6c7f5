package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

// background — фоновый воркер со своим контекстом. nil означает, что воркер не запущен.
type background struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

func runBackground(ctx context.Context, name string, run func(context.Context)) *background {
	workerCtx, cancel := context.WithCancel(ctx)
	b := &background{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(b.done)
		run(workerCtx)
	}()
	return b
}

// stop отменяет контекст воркера и ждёт его не дольше shutdownTimeout.
func (b *background) stop(logger *log.Entry) {
	if b == nil {
		return
	}
	b.cancel()
	select {
	case <-b.done:
	case <-time.After(shutdownTimeout):
		logger.WithField("worker", b.name).Warn("background worker did not stop in time")
	}
}

// startOutboxWorker публикует outbox в Kafka. Без producer события копятся в outbox
// и уйдут после включения Kafka.
func startOutboxWorker(ctx context.Context, cfg Config, deps runtimeDependencies, producer *kafka.Producer, m *metrics.WorkerMetrics, logger *log.Entry) *background {
	if producer == nil || deps.outboxRepo == nil {
		logger.Info("outbox worker is disabled: kafka is not configured")
		return nil
	}

	worker := outbox.NewWorker(
		deps.outboxRepo,
		kafka.NewOutboxPublisher(producer, cfg.KafkaEventsTopic),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(m),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	return runBackground(ctx, "outbox", worker.Run)
}

func startIdempotencyCleanup(ctx context.Context, cfg Config, deps runtimeDependencies, m *metrics.WorkerMetrics, logger *log.Entry) *background {
	if deps.idempotencyRepo == nil {
		return nil
	}
	worker := idempotency.NewCleanupWorker(
		deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(m),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	return runBackground(ctx, "idempotency-cleanup", worker.Run)
}
