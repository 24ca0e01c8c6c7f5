package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// PaymentConfirmer применяет результат оплаты к заказу.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, customerID, orderID string, succeeded bool) (domain.Order, error)
}

// NewPaymentOutcomeHandler возвращает обработчик топика storefront.payment.outcomes.
// guard (может быть nil) отсекает повторную доставку одного события провайдера.
func NewPaymentOutcomeHandler(confirmer PaymentConfirmer, guard domain.WebhookGuard, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.New().WithField("component", "payment-outcome-consumer")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		outcome, err := ParsePaymentOutcome(message)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}

		entry := logger.WithFields(log.Fields{
			"event_id":    outcome.EventID,
			"order_id":    outcome.OrderID,
			"customer_id": outcome.CustomerID,
			"succeeded":   outcome.Succeeded,
		})

		if guard != nil && outcome.EventID != "" {
			first, err := guard.CheckAndMark(ctx, outcome.EventID)
			if err != nil {
				return fmt.Errorf("check payment outcome guard: %w", err)
			}
			if !first {
				entry.Debug("duplicate payment outcome skipped")
				return nil
			}
		}

		_, err = confirmer.ConfirmPayment(ctx, outcome.CustomerID, outcome.OrderID, outcome.Succeeded)
		switch {
		case err == nil:
			entry.Info("payment outcome applied")
			return nil
		case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrUnauthorized):
			// Повтор не поможет; отметку guard оставляем.
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		default:
			if guard != nil && outcome.EventID != "" {
				if delErr := guard.Delete(context.WithoutCancel(ctx), outcome.EventID); delErr != nil {
					entry.WithError(delErr).Warn("failed to clear payment outcome guard")
				}
			}
			return err
		}
	}
}
