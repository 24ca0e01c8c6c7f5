package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

const defaultRequestTimeout = 30 * time.Second

// Checkout оформляет заказы.
type Checkout interface {
	PlaceOrder(ctx context.Context, req checkout.PlaceOrderRequest) (checkout.PlaceOrderResult, error)
}

// Orders — операции над уже оформленными заказами.
type Orders interface {
	ConfirmPayment(ctx context.Context, customerID, orderID string, succeeded bool) (domain.Order, error)
	ChangeStatus(ctx context.Context, orderID string, newStatus domain.OrderStatus, reason string) (domain.Order, error)
	Cancel(ctx context.Context, customerID, orderID, reason string) (domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
	ListAll(ctx context.Context, limit int) ([]domain.Order, error)
	History(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
}

// Stock отдаёт остатки для витрины.
type Stock interface {
	Available(ctx context.Context, productID, sizeLabel string) (int32, error)
}

// WebhookParser проверяет подпись webhook провайдера и извлекает исход оплаты.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (domain.PaymentOutcome, bool, error)
}

// Deps — зависимости HTTP API. Webhooks, Payments, Guard и Idempotency необязательны.
type Deps struct {
	Checkout Checkout
	Orders   Orders
	Stock    Stock
	Webhooks WebhookParser
	// Payments подтверждает успех, о котором сообщил браузер.
	Payments    domain.PaymentVerifier
	Guard       domain.WebhookGuard
	Idempotency domain.IdempotencyRepository
	// RequestTimeout ограничивает обработку одного запроса.
	RequestTimeout time.Duration
}

// Server — REST API витрины.
type Server struct {
	deps   Deps
	logger *log.Entry
	now    func() time.Time
}

// NewServer создаёт API поверх сервисов витрины.
func NewServer(deps Deps, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	return &Server{
		deps:   deps,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Routes собирает chi-роутер со всеми эндпоинтами.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(middleware.Timeout(s.deps.RequestTimeout))

	r.Get("/api/products/{productID}/availability", s.handleAvailability)
	r.Post("/webhooks/stripe", s.handleStripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(identity)

		r.Route("/api/orders", func(r chi.Router) {
			r.Use(s.requireCustomer)
			r.With(s.idempotent).Post("/", s.handlePlaceOrder)
			r.Get("/", s.handleListOrders)
			r.Get("/{orderID}", s.handleGetOrder)
			r.Get("/{orderID}/history", s.handleOrderHistory)
			r.Post("/{orderID}/cancel", s.handleCancelOrder)
			r.Post("/{orderID}/verify-payment", s.handleVerifyPayment)
		})

		r.Route("/api/admin/orders", func(r chi.Router) {
			r.Use(s.requireStaff)
			r.Get("/", s.handleListAllOrders)
			r.Patch("/{orderID}/status", s.handleChangeStatus)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}
