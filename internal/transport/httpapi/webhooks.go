package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	headerStripeSignature = "Stripe-Signature"
	maxWebhookBytes       = 64 << 10
)

// handleStripeWebhook применяет подписанный исход оплаты.
// Повторная доставка того же события отсекается guard; при ошибке отметка снимается,
// чтобы провайдер повторил доставку.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Webhooks == nil {
		s.writeError(w, r, newHTTPError(http.StatusServiceUnavailable, CodePaymentUnavailable, "payment webhooks are not configured"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		s.writeError(w, r, newHTTPError(http.StatusBadRequest, CodeInvalidRequest, "failed to read webhook body"))
		return
	}

	outcome, ok, err := s.deps.Webhooks.ParseWebhook(payload, r.Header.Get(headerStripeSignature))
	if err != nil {
		if errors.Is(err, domain.ErrWebhookSignature) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, newHTTPError(http.StatusBadRequest, CodeInvalidRequest, err.Error()))
		return
	}
	if !ok {
		writeSuccess(w, http.StatusOK, envelope{})
		return
	}

	logger := s.logger.WithFields(log.Fields{
		"event_id":    outcome.EventID,
		"order_id":    outcome.OrderID,
		"customer_id": outcome.CustomerID,
		"succeeded":   outcome.Succeeded,
	})

	guard := s.deps.Guard
	if guard != nil && outcome.EventID != "" {
		first, err := guard.CheckAndMark(r.Context(), outcome.EventID)
		if err != nil {
			logger.WithError(err).Error("webhook guard unavailable")
			s.writeError(w, r, err)
			return
		}
		if !first {
			logger.Debug("duplicate webhook event skipped")
			writeSuccess(w, http.StatusOK, envelope{})
			return
		}
	}

	_, err = s.deps.Orders.ConfirmPayment(r.Context(), outcome.CustomerID, outcome.OrderID, outcome.Succeeded)
	switch {
	case err == nil:
		logger.Info("payment webhook applied")
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrUnauthorized):
		// Повторная доставка не изменит результат: подтверждаем получение.
		logger.WithError(err).Warn("payment webhook ignored")
	default:
		if guard != nil && outcome.EventID != "" {
			if delErr := guard.Delete(context.WithoutCancel(r.Context()), outcome.EventID); delErr != nil {
				logger.WithError(delErr).Warn("failed to clear webhook guard")
			}
		}
		s.writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{})
}
