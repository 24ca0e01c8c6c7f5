package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/history"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	orderIDPlaceholder    = "{order_id}"
)

// Config — параметры оформления заказа.
type Config struct {
	Currency         string
	DeliveryFeeMinor int64
	// SuccessURL и CancelURL могут содержать {order_id}.
	SuccessURL     string
	CancelURL      string
	GatewayTimeout time.Duration
}

// LineRequest — позиция корзины, пришедшая от клиента. Цена берётся из каталога.
type LineRequest struct {
	ProductID string
	SizeLabel string
	Qty       int32
}

// PlaceOrderRequest — запрос на оформление заказа аутентифицированным клиентом.
type PlaceOrderRequest struct {
	CustomerID    string
	Items         []LineRequest
	Address       domain.Address
	PaymentMethod domain.PaymentMethod
}

// PlaceOrderResult — принятый заказ и, для онлайн-оплаты, адрес платёжной страницы.
type PlaceOrderResult struct {
	Order      domain.Order
	SessionURL string
}

// Service принимает заказы: проверка, списание стока, запись заказа, платёжная сессия.
type Service struct {
	catalog domain.Catalog
	ledger  *stock.Ledger
	orders  domain.OrderRepository
	gateway domain.PaymentGateway
	history *history.Recorder
	cfg     Config
	metrics *metrics.StoreMetrics
	logger  *log.Entry

	now   func() time.Time
	newID func() string
}

// NewService создаёт checkout. gateway может быть nil, тогда онлайн-оплата недоступна.
func NewService(
	catalog domain.Catalog,
	ledger *stock.Ledger,
	orders domain.OrderRepository,
	gateway domain.PaymentGateway,
	recorder *history.Recorder,
	cfg Config,
	m *metrics.StoreMetrics,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	if recorder == nil {
		recorder = history.NewRecorder(nil, nil, m, logger)
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))

	return &Service{
		catalog: catalog,
		ledger:  ledger,
		orders:  orders,
		gateway: gateway,
		history: recorder,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// PlaceOrder оформляет заказ.
//
// Ошибки: domain.ErrOrderRejected вместе с *domain.StockError, если товара нет;
// domain.ErrGatewayFailure, если не удалось создать платёжную сессию (сток возвращён,
// заказа нет); ошибки валидации запроса.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (result PlaceOrderResult, err error) {
	start := time.Now()
	s.metrics.CheckoutStarted()
	outcome := metrics.OutcomeError
	defer func() {
		s.metrics.CheckoutFinished()
		s.metrics.RecordCheckout(outcome, string(req.PaymentMethod), time.Since(start))
	}()

	logger := s.logger.WithFields(log.Fields{
		"customer_id":    req.CustomerID,
		"payment_method": req.PaymentMethod,
	})

	if err := validateRequest(req); err != nil {
		outcome = metrics.OutcomeRejectedValidation
		return PlaceOrderResult{}, err
	}
	if req.PaymentMethod == domain.PaymentMethodOnline && s.gateway == nil {
		outcome = metrics.OutcomeGatewayFailed
		return PlaceOrderResult{}, fmt.Errorf("%w: online payments are not configured", domain.ErrGatewayFailure)
	}

	order, err := s.buildOrder(ctx, req)
	if err != nil {
		if domain.IsStockUnavailable(err) {
			outcome = metrics.OutcomeRejectedStock
			return PlaceOrderResult{}, fmt.Errorf("%w: %w", domain.ErrOrderRejected, err)
		}
		return PlaceOrderResult{}, err
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		outcome = metrics.OutcomeRejectedValidation
		return PlaceOrderResult{}, errors.Join(errs...)
	}
	logger = logger.WithField("order_id", order.ID)

	lines := order.StockLines()
	if err := s.ledger.Decrement(ctx, lines); err != nil {
		if domain.IsStockUnavailable(err) {
			outcome = metrics.OutcomeRejectedStock
			return PlaceOrderResult{}, fmt.Errorf("%w: %w", domain.ErrOrderRejected, err)
		}
		return PlaceOrderResult{}, fmt.Errorf("reserve stock: %w", err)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.releaseStock(ctx, logger, lines, "persist_failed")
		return PlaceOrderResult{}, fmt.Errorf("persist order: %w", err)
	}
	s.history.Record(ctx, order, history.Entry{
		Type: domain.TimelineOrderPlaced,
		To:   domain.OrderStatusPlaced,
	})

	if order.PaymentMethod == domain.PaymentMethodCOD {
		outcome = metrics.OutcomePlaced
		logger.Info("cod order placed")
		return PlaceOrderResult{Order: order}, nil
	}

	session, err := s.createSession(ctx, order)
	if err != nil {
		outcome = metrics.OutcomeGatewayFailed
		logger.WithError(err).Warn("payment session failed, rolling back order")
		s.rollbackOnlineOrder(ctx, logger, order, err)
		if errors.Is(err, domain.ErrGatewayFailure) {
			return PlaceOrderResult{}, err
		}
		return PlaceOrderResult{}, fmt.Errorf("%w: %w", domain.ErrGatewayFailure, err)
	}

	order = s.attachSession(ctx, logger, order, session.ID)

	outcome = metrics.OutcomePlaced
	logger.Info("online order placed, awaiting payment")
	return PlaceOrderResult{Order: order, SessionURL: session.URL}, nil
}

func validateRequest(req PlaceOrderRequest) error {
	var errs []error
	if strings.TrimSpace(req.CustomerID) == "" {
		errs = append(errs, domain.ErrCustomerRequired)
	}
	if len(req.Items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}
	if !req.PaymentMethod.Valid() {
		errs = append(errs, domain.ErrPaymentMethodInvalid)
	}
	for _, item := range req.Items {
		if item.ProductID == "" {
			errs = append(errs, domain.ErrProductIDRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, domain.ErrItemQtyInvalid)
		}
	}
	return errors.Join(errs...)
}

// buildOrder переоценивает корзину по каталогу. Цены клиента не принимаются.
func (s *Service) buildOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	now := s.now()
	order := domain.Order{
		ID:               s.newID(),
		CustomerID:       req.CustomerID,
		Address:          req.Address,
		Currency:         s.cfg.Currency,
		DeliveryFeeMinor: s.cfg.DeliveryFeeMinor,
		PaymentMethod:    req.PaymentMethod,
		Status:           domain.OrderStatusPlaced,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	products := make(map[string]domain.Product, len(req.Items))
	amount := s.cfg.DeliveryFeeMinor
	for _, item := range req.Items {
		product, ok := products[item.ProductID]
		if !ok {
			var err error
			product, err = s.catalog.GetProduct(ctx, item.ProductID)
			if err != nil {
				if errors.Is(err, domain.ErrProductNotFound) {
					return domain.Order{}, domain.NewSizeNotFound(domain.StockLine{
						ProductID: item.ProductID,
						SizeLabel: item.SizeLabel,
						Qty:       item.Qty,
					})
				}
				return domain.Order{}, fmt.Errorf("load product %s: %w", item.ProductID, err)
			}
			products[item.ProductID] = product
		}

		// Товар без вариантов можно заказать, не указывая размер.
		size := item.SizeLabel
		if size == "" && len(product.Sizes) == 1 {
			size = product.Sizes[0].Label
		}
		if size == "" {
			return domain.Order{}, domain.NewSizeNotFound(domain.StockLine{
				ProductID: item.ProductID,
				Qty:       item.Qty,
			})
		}

		order.Items = append(order.Items, domain.OrderItem{
			ID:             s.newID(),
			ProductID:      product.ID,
			ProductName:    product.Name,
			SizeLabel:      size,
			Qty:            item.Qty,
			UnitPriceMinor: product.PriceMinor,
		})
		amount += int64(item.Qty) * product.PriceMinor
	}
	order.AmountMinor = amount
	return order, nil
}

func (s *Service) createSession(ctx context.Context, order domain.Order) (domain.PaymentSession, error) {
	req := domain.SessionFromOrder(order,
		expandURL(s.cfg.SuccessURL, order.ID),
		expandURL(s.cfg.CancelURL, order.ID),
	)

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	session, err := s.gateway.CreateSession(gwCtx, req)
	if err != nil {
		s.metrics.RecordGatewayLatency("error", time.Since(start))
		return domain.PaymentSession{}, err
	}
	s.metrics.RecordGatewayLatency("ok", time.Since(start))
	return session, nil
}

// rollbackOnlineOrder возвращает сток и удаляет заказ. Выполняется даже если клиент
// уже отключился: иначе остаток останется списанным без заказа.
func (s *Service) rollbackOnlineOrder(ctx context.Context, logger *log.Entry, order domain.Order, cause error) {
	ctx = context.WithoutCancel(ctx)

	s.releaseStock(ctx, logger, order.StockLines(), "gateway_failure")
	if err := s.orders.Delete(ctx, order.ID, order.Version); err != nil {
		logger.WithError(err).Error("failed to delete order after gateway failure")
	}
	s.history.Record(ctx, order, history.Entry{
		Type:   domain.TimelineCheckoutCompensated,
		From:   domain.OrderStatusPlaced,
		Reason: cause.Error(),
	})
}

func (s *Service) releaseStock(ctx context.Context, logger *log.Entry, lines []domain.StockLine, reason string) {
	ctx = context.WithoutCancel(ctx)
	s.metrics.RecordCompensation(reason)
	if err := s.ledger.Increment(ctx, lines); err != nil {
		logger.WithError(err).WithField("reason", reason).Error("failed to release stock during checkout compensation")
	}
}

// attachSession сохраняет id платёжной сессии. Ошибка не отменяет заказ:
// webhook находит заказ по order_id из metadata.
func (s *Service) attachSession(ctx context.Context, logger *log.Entry, order domain.Order, sessionID string) domain.Order {
	if sessionID == "" {
		return order
	}

	ctx = context.WithoutCancel(ctx)
	for attempt := 0; attempt < 2; attempt++ {
		updated := order
		updated.PaymentSessionID = sessionID
		saved, err := s.orders.Save(ctx, updated)
		if err == nil {
			return saved
		}
		if !domain.IsVersionConflict(err) {
			logger.WithError(err).Warn("failed to store payment session id")
			return order
		}
		fresh, loadErr := s.orders.Get(ctx, order.ID)
		if loadErr != nil {
			logger.WithError(loadErr).Warn("failed to reload order after session conflict")
			return order
		}
		order = fresh
	}
	logger.Warn("payment session id not stored: order keeps changing")
	return order
}

func expandURL(template, orderID string) string {
	return strings.ReplaceAll(template, orderIDPlaceholder, orderID)
}
