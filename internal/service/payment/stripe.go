package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	metadataOrderID    = "order_id"
	metadataCustomerID = "customer_id"
)

var (
	errSecretKeyRequired     = errors.New("stripe secret key is required")
	errWebhookSecretRequired = errors.New("stripe webhook secret is required")
)

// sessionAPI — подмножество Stripe Checkout Sessions API. Подменяется в тестах.
type sessionAPI interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	Retrieve(ctx context.Context, id string, params *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error)
}

// StripeConfig — ключи Stripe.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeGateway создаёт Checkout Session в Stripe и разбирает подписанные webhook-события.
// Клиент создаётся один раз при старте и разделяется всеми запросами.
type StripeGateway struct {
	sessions      sessionAPI
	webhookSecret string
	logger        *log.Entry
}

// NewStripeGateway создаёт gateway поверх stripe.Client.
func NewStripeGateway(cfg StripeConfig, logger *log.Entry) (*StripeGateway, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	client := stripe.NewClient(secretKey)
	return newStripeGateway(client.V1CheckoutSessions, webhookSecret, logger), nil
}

func newStripeGateway(sessions sessionAPI, webhookSecret string, logger *log.Entry) *StripeGateway {
	if logger == nil {
		logger = log.New().WithField("component", "stripe-gateway")
	}
	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// CreateSession создаёт платёжную сессию. Идентификатор заказа уходит в metadata,
// по нему webhook находит заказ.
func (g *StripeGateway) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.PaymentSession, error) {
	if req.OrderID == "" {
		return domain.PaymentSession{}, domain.ErrOrderIDRequired
	}
	if len(req.LineItems) == 0 {
		return domain.PaymentSession{}, domain.ErrItemsRequired
	}

	currency := strings.ToLower(req.Currency)
	lineItems := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitPriceMinor),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
			Quantity: stripe.Int64(item.Qty),
		})
	}

	metadata := map[string]string{
		metadataOrderID:    req.OrderID,
		metadataCustomerID: req.CustomerID,
	}
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}

	session, err := g.sessions.Create(ctx, params)
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("create stripe checkout session: %w", err)
	}

	g.logger.WithFields(log.Fields{
		"order_id":   req.OrderID,
		"session_id": session.ID,
	}).Debug("stripe checkout session created")

	return domain.PaymentSession{ID: session.ID, URL: session.URL}, nil
}

// SessionPaid запрашивает сессию у Stripe и сообщает, списаны ли деньги.
// Пустой sessionID означает, что сессия не создавалась.
func (g *StripeGateway) SessionPaid(ctx context.Context, sessionID string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, nil
	}
	session, err := g.sessions.Retrieve(ctx, sessionID, nil)
	if err != nil {
		return false, fmt.Errorf("%w: retrieve stripe checkout session: %w", domain.ErrGatewayFailure, err)
	}
	return session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid, nil
}

// ParseWebhook проверяет подпись и переводит событие Checkout Session в исход оплаты.
// ok=false для типов событий, которые не влияют на заказ.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (outcome domain.PaymentOutcome, ok bool, err error) {
	if strings.TrimSpace(signature) == "" {
		return domain.PaymentOutcome{}, false, fmt.Errorf("%w: signature header missing", domain.ErrWebhookSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentOutcome{}, false, fmt.Errorf("%w: %w", domain.ErrWebhookSignature, err)
	}

	var succeeded bool
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		// Для отложенных методов оплаты completed приходит до списания денег.
		session, err := decodeCheckoutSession(event)
		if err != nil {
			return domain.PaymentOutcome{}, false, err
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return domain.PaymentOutcome{}, false, nil
		}
		succeeded = true
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		succeeded = true
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed, stripe.EventTypeCheckoutSessionExpired:
		succeeded = false
	default:
		return domain.PaymentOutcome{}, false, nil
	}

	session, err := decodeCheckoutSession(event)
	if err != nil {
		return domain.PaymentOutcome{}, false, err
	}

	outcome = domain.PaymentOutcome{
		EventID:    event.ID,
		OrderID:    session.Metadata[metadataOrderID],
		CustomerID: session.Metadata[metadataCustomerID],
		Succeeded:  succeeded,
	}
	if outcome.OrderID == "" {
		outcome.OrderID = session.ClientReferenceID
	}
	if err := outcome.Validate(); err != nil {
		return domain.PaymentOutcome{}, false, fmt.Errorf("stripe event %s: %w", event.ID, err)
	}
	return outcome, true, nil
}

func decodeCheckoutSession(event stripe.Event) (stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if event.Data == nil {
		return session, fmt.Errorf("stripe event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return session, fmt.Errorf("decode checkout session: %w", err)
	}
	return session, nil
}

var (
	_ domain.PaymentGateway  = (*StripeGateway)(nil)
	_ domain.PaymentVerifier = (*StripeGateway)(nil)
)
