package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redis"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

const (
	webhookGuardScope = "stripe-webhook"
	outcomeGuardScope = "payment-outcome"
)

type webhookGuards struct {
	webhooks domain.WebhookGuard
	outcomes domain.WebhookGuard
	client   *redis.Client
}

// initWebhookGuards выбирает Redis, если он настроен и доступен. Иначе отметки
// хранятся в памяти процесса и не разделяются между репликами.
func initWebhookGuards(ctx context.Context, cfg Config, logger *log.Entry) webhookGuards {
	fallback := webhookGuards{
		webhooks: memory.NewWebhookGuard(cfg.WebhookGuardTTL),
		outcomes: memory.NewWebhookGuard(cfg.WebhookGuardTTL),
	}
	if cfg.RedisAddr == "" {
		logger.Info("redis is not configured, webhook dedup is process-local")
		return fallback
	}

	client, err := redis.Open(ctx, cfg.RedisAddr)
	if err != nil {
		logger.WithError(err).Warn("redis is unavailable, webhook dedup is process-local")
		return fallback
	}

	webhooks, err := redis.NewWebhookGuard(client, cfg.WebhookGuardTTL, webhookGuardScope)
	if err != nil {
		logger.WithError(err).Warn("failed to create redis webhook guard")
		_ = client.Close()
		return fallback
	}
	outcomes, err := redis.NewWebhookGuard(client, cfg.WebhookGuardTTL, outcomeGuardScope)
	if err != nil {
		logger.WithError(err).Warn("failed to create redis outcome guard")
		_ = client.Close()
		return fallback
	}

	logger.WithField("addr", cfg.RedisAddr).Info("redis webhook guard initialized")
	return webhookGuards{webhooks: webhooks, outcomes: outcomes, client: client}
}

func (g webhookGuards) close(logger *log.Entry) {
	if g.client == nil {
		return
	}
	if err := g.client.Close(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}

// paymentIntegration — провайдер оплаты и его входящие каналы.
type paymentIntegration struct {
	gateway  domain.PaymentGateway
	webhooks httpapi.WebhookParser
	verifier domain.PaymentVerifier
}

// initPaymentGateway возвращает Stripe, если задан ключ, иначе mock.
// Создание сессий всегда идёт через circuit breaker.
func initPaymentGateway(cfg Config, logger *log.Entry) (paymentIntegration, error) {
	breaker := payment.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger.WithField("component", "payment-breaker"))

	if cfg.StripeSecretKey == "" {
		logger.Warn("stripe is not configured, using mock payment gateway")
		mock := payment.NewMockGateway()
		return paymentIntegration{
			gateway:  payment.NewBreakerGateway(mock, breaker),
			verifier: mock,
		}, nil
	}

	stripeGateway, err := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
	}, logger.WithField("component", "stripe-gateway"))
	if err != nil {
		return paymentIntegration{}, err
	}
	return paymentIntegration{
		gateway:  payment.NewBreakerGateway(stripeGateway, breaker),
		webhooks: stripeGateway,
		verifier: stripeGateway,
	}, nil
}
