package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/history"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
)

const (
	maxAttempts = 3
	baseDelay   = 10 * time.Millisecond
)

// Reconciler применяет исходы оплаты и смены статуса, поддерживая сток в согласии с заказами.
//
// Каждый переход — compare-and-set по версии заказа. Возврат стока делает только тот,
// кто выиграл запись статуса, поэтому повторные и конкурентные вызовы возвращают
// остаток ровно один раз.
type Reconciler struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	ledger   *stock.Ledger
	history  *history.Recorder
	metrics  *metrics.StoreMetrics
	logger   *log.Entry
}

// NewReconciler создаёт сверку оплат. timeline нужен для History и может быть nil.
func NewReconciler(
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	ledger *stock.Ledger,
	recorder *history.Recorder,
	m *metrics.StoreMetrics,
	logger *log.Entry,
) *Reconciler {
	if logger == nil {
		logger = log.New().WithField("component", "reconciler")
	}
	if recorder == nil {
		recorder = history.NewRecorder(nil, timeline, m, logger)
	}
	return &Reconciler{
		orders:   orders,
		timeline: timeline,
		ledger:   ledger,
		history:  recorder,
		metrics:  m,
		logger:   logger,
	}
}

// ConfirmPayment применяет исход онлайн-оплаты. Данные исхода недоверенные:
// customerID должен совпадать с владельцем заказа.
//
// Успех переводит Placed в PaymentConfirmed и ставит paid. Отказ удаляет ещё не
// оплаченный Placed-заказ и возвращает сток; возвращается нулевой заказ.
// Повторная доставка любого исхода ничего не меняет.
func (r *Reconciler) ConfirmPayment(ctx context.Context, customerID, orderID string, succeeded bool) (domain.Order, error) {
	logger := r.logger.WithFields(log.Fields{
		"order_id":    orderID,
		"customer_id": customerID,
		"succeeded":   succeeded,
	})

	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := r.orders.Get(ctx, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) && !succeeded {
				// Заказ уже удалён предыдущей доставкой отказа.
				r.metrics.RecordPaymentOutcome("duplicate")
				return domain.Order{}, nil
			}
			return domain.Order{}, err
		}
		if order.CustomerID != customerID {
			logger.Warn("payment outcome for foreign order rejected")
			return domain.Order{}, domain.ErrUnauthorized
		}

		var done bool
		if succeeded {
			order, done, err = r.applyPaymentSuccess(ctx, logger, order)
		} else {
			order, done, err = r.applyPaymentFailure(ctx, logger, order)
		}
		if done || err != nil {
			return order, err
		}

		if err := backoff(ctx, attempt); err != nil {
			return domain.Order{}, err
		}
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

func (r *Reconciler) applyPaymentSuccess(ctx context.Context, logger *log.Entry, order domain.Order) (domain.Order, bool, error) {
	if order.Paid {
		r.metrics.RecordPaymentOutcome("duplicate")
		return order, true, nil
	}
	if order.PaymentMethod != domain.PaymentMethodOnline {
		// COD оплачивается при доставке, онлайн-исход к нему не относится.
		logger.WithField("payment_method", order.PaymentMethod).Warn("payment success ignored: order is not paid online")
		r.metrics.RecordPaymentOutcome("ignored")
		return order, true, nil
	}

	from := order.Status
	updated := order.Clone()
	updated.Paid = true
	entry := history.Entry{Type: domain.TimelinePaymentConfirmed, From: from, To: from}
	if from == domain.OrderStatusPlaced {
		updated.Status = domain.OrderStatusPaymentConfirmed
		entry.To = domain.OrderStatusPaymentConfirmed
	} else {
		// Деньги пришли после отмены: фиксируем оплату, возврат делается вручную.
		entry.Reason = fmt.Sprintf("payment received while order is %s", from)
		logger.WithField("status", from).Warn("payment succeeded for non-placed order, manual refund required")
	}

	saved, err := r.orders.Save(ctx, updated)
	if err != nil {
		if domain.IsVersionConflict(err) {
			return order, false, nil
		}
		return order, true, err
	}

	r.metrics.RecordPaymentOutcome("succeeded")
	r.history.Record(ctx, saved, entry)
	logger.Info("payment confirmed")
	return saved, true, nil
}

func (r *Reconciler) applyPaymentFailure(ctx context.Context, logger *log.Entry, order domain.Order) (domain.Order, bool, error) {
	if order.Status != domain.OrderStatusPlaced || order.Paid || order.PaymentMethod != domain.PaymentMethodOnline {
		logger.WithField("status", order.Status).Debug("payment failure ignored: order is not awaiting payment")
		r.metrics.RecordPaymentOutcome("ignored")
		return order, true, nil
	}

	if err := r.orders.Delete(ctx, order.ID, order.Version); err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			r.metrics.RecordPaymentOutcome("duplicate")
			return domain.Order{}, true, nil
		case domain.IsVersionConflict(err):
			return order, false, nil
		default:
			return order, true, err
		}
	}

	r.metrics.RecordPaymentOutcome("failed")
	r.history.Record(ctx, order, history.Entry{
		Type:   domain.TimelinePaymentFailed,
		From:   domain.OrderStatusPlaced,
		Reason: "payment failed",
	})
	r.releaseStock(ctx, logger, order, "payment_failed")
	logger.Info("payment failed, order removed and stock released")
	return domain.Order{}, true, nil
}

// ChangeStatus меняет статус заказа (действие продавца или администратора).
// Уход в Cancelled/Refunded возвращает сток, возврат из них списывает его снова;
// если товара уже нет, заказ остаётся в прежнем статусе.
func (r *Reconciler) ChangeStatus(ctx context.Context, orderID string, newStatus domain.OrderStatus, reason string) (domain.Order, error) {
	if !newStatus.Valid() {
		return domain.Order{}, domain.ErrOrderStatusInvalid
	}
	return r.transition(ctx, orderID, newStatus, reason, nil)
}

// Cancel отменяет заказ по запросу клиента.
func (r *Reconciler) Cancel(ctx context.Context, customerID, orderID, reason string) (domain.Order, error) {
	return r.transition(ctx, orderID, domain.OrderStatusCancelled, reason, func(order domain.Order) error {
		if order.CustomerID != customerID {
			return domain.ErrUnauthorized
		}
		if order.Status.IsReleased() {
			return domain.ErrAlreadyTerminal
		}
		if !order.Status.IsCustomerCancellable() {
			return domain.ErrNotCancellable
		}
		return nil
	})
}

// transition — цикл compare-and-set по версии. guard проверяется на каждой свежей копии заказа.
func (r *Reconciler) transition(ctx context.Context, orderID string, newStatus domain.OrderStatus, reason string, guard func(domain.Order) error) (domain.Order, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := r.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if guard != nil {
			if err := guard(order); err != nil {
				if errors.Is(err, domain.ErrAlreadyTerminal) {
					return order, nil
				}
				return order, err
			}
		}
		if order.Status == newStatus {
			return order, nil
		}

		logger := r.logger.WithFields(log.Fields{
			"order_id":    order.ID,
			"from_status": order.Status,
			"to_status":   newStatus,
			"attempt":     attempt + 1,
		})

		var (
			saved domain.Order
			done  bool
		)
		switch {
		case newStatus.IsReleased() && !order.Status.IsReleased():
			saved, done, err = r.release(ctx, logger, order, newStatus, reason)
		case order.Status.IsReleased() && !newStatus.IsReleased():
			saved, done, err = r.reactivate(ctx, logger, order, newStatus, reason)
		default:
			saved, done, err = r.writeStatus(ctx, order, newStatus, reason)
		}
		if err != nil {
			return order, err
		}
		if done {
			return saved, nil
		}

		logger.Warn("version conflict detected, retrying")
		if err := backoff(ctx, attempt); err != nil {
			return domain.Order{}, err
		}
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

// release сначала записывает статус, затем возвращает сток: при гонке двух отмен
// возврат делает только победитель.
func (r *Reconciler) release(ctx context.Context, logger *log.Entry, order domain.Order, newStatus domain.OrderStatus, reason string) (domain.Order, bool, error) {
	saved, done, err := r.save(ctx, order, newStatus)
	if !done || err != nil {
		return saved, done, err
	}

	entryType := domain.TimelineStatusChanged
	if newStatus == domain.OrderStatusCancelled {
		entryType = domain.TimelineOrderCancelled
	}
	r.history.Record(ctx, saved, history.Entry{Type: entryType, From: order.Status, To: newStatus, Reason: reason})
	r.releaseStock(ctx, logger, saved, string(newStatus))
	logger.Info("order released, stock returned")
	return saved, true, nil
}

// reactivate сначала списывает сток, затем пишет статус. Проигравший гонку
// возвращает списанное обратно.
func (r *Reconciler) reactivate(ctx context.Context, logger *log.Entry, order domain.Order, newStatus domain.OrderStatus, reason string) (domain.Order, bool, error) {
	lines := order.StockLines()
	if err := r.ledger.Decrement(ctx, lines); err != nil {
		logger.WithError(err).Info("reactivation rejected: stock unavailable")
		return order, true, err
	}

	saved, done, err := r.save(ctx, order, newStatus)
	if !done || err != nil {
		r.metrics.RecordCompensation("reactivation_aborted")
		if incErr := r.ledger.Increment(context.WithoutCancel(ctx), lines); incErr != nil {
			logger.WithError(incErr).Error("failed to return stock after aborted reactivation")
		}
		return saved, done, err
	}

	r.history.Record(ctx, saved, history.Entry{
		Type:   domain.TimelineOrderReactivated,
		From:   order.Status,
		To:     newStatus,
		Reason: reason,
	})
	logger.Info("order reactivated, stock reserved again")
	return saved, true, nil
}

func (r *Reconciler) writeStatus(ctx context.Context, order domain.Order, newStatus domain.OrderStatus, reason string) (domain.Order, bool, error) {
	saved, done, err := r.save(ctx, order, newStatus)
	if !done || err != nil {
		return saved, done, err
	}
	r.history.Record(ctx, saved, history.Entry{
		Type:   domain.TimelineStatusChanged,
		From:   order.Status,
		To:     newStatus,
		Reason: reason,
	})
	return saved, true, nil
}

// save — одна попытка CAS. done=false означает конфликт версий.
func (r *Reconciler) save(ctx context.Context, order domain.Order, newStatus domain.OrderStatus) (domain.Order, bool, error) {
	updated := order.Clone()
	updated.Status = newStatus
	saved, err := r.orders.Save(ctx, updated)
	if err != nil {
		if domain.IsVersionConflict(err) {
			return order, false, nil
		}
		return order, true, err
	}
	return saved, true, nil
}

func (r *Reconciler) releaseStock(ctx context.Context, logger *log.Entry, order domain.Order, reason string) {
	ctx = context.WithoutCancel(ctx)
	r.metrics.RecordCompensation(reason)
	if err := r.ledger.Increment(ctx, order.StockLines()); err != nil {
		logger.WithError(err).Error("stock release failed")
		r.history.Record(ctx, order, history.Entry{
			Type:   domain.TimelineStockReleaseIncomplete,
			From:   order.Status,
			To:     order.Status,
			Reason: err.Error(),
		})
	}
}

// Get возвращает заказ без проверки владельца; её делает транспортный слой.
func (r *Reconciler) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return r.orders.Get(ctx, orderID)
}

// ListByCustomer возвращает заказы клиента, новые первыми.
func (r *Reconciler) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	if customerID == "" {
		return nil, domain.ErrCustomerRequired
	}
	return r.orders.ListByCustomer(ctx, customerID, limit)
}

// ListAll возвращает все заказы, новые первыми.
func (r *Reconciler) ListAll(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.orders.ListAll(ctx, limit)
}

// History возвращает историю переходов заказа.
func (r *Reconciler) History(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if r.timeline == nil {
		return nil, nil
	}
	return r.timeline.List(ctx, orderID)
}

func backoff(ctx context.Context, attempt int) error {
	delay := baseDelay * time.Duration(1<<uint(attempt))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
