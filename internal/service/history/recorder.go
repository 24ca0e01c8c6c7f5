package history

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// AggregateOrder — тип агрегата для сообщений outbox.
const AggregateOrder = "order"

// Entry — одна запись о переходе заказа.
type Entry struct {
	Type   string
	From   domain.OrderStatus
	To     domain.OrderStatus
	Reason string
}

// EventPayload — тело события заказа в outbox и брокере.
type EventPayload struct {
	OrderID       string               `json:"order_id"`
	CustomerID    string               `json:"customer_id"`
	FromStatus    domain.OrderStatus   `json:"from_status,omitempty"`
	ToStatus      domain.OrderStatus   `json:"to_status,omitempty"`
	Paid          bool                 `json:"paid"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	AmountMinor   int64                `json:"amount_minor"`
	Currency      string               `json:"currency"`
	Reason        string               `json:"reason,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// Recorder пишет переход в историю заказа и ставит событие в outbox.
// Ошибки записи логируются: переход уже зафиксирован в хранилище и не откатывается.
type Recorder struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.StoreMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewRecorder создаёт Recorder. outbox и timeline могут быть nil.
func NewRecorder(outbox domain.OutboxRepository, timeline domain.TimelineRepository, m *metrics.StoreMetrics, logger *log.Entry) *Recorder {
	if logger == nil {
		logger = log.New().WithField("component", "order-history")
	}
	return &Recorder{
		outbox:   outbox,
		timeline: timeline,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Record фиксирует переход. Контекст отвязывается от отмены: запись идёт после коммита.
func (r *Recorder) Record(ctx context.Context, order domain.Order, entry Entry) {
	ctx = context.WithoutCancel(ctx)
	occurred := r.now()

	fields := log.Fields{
		"order_id": order.ID,
		"event":    entry.Type,
	}

	if entry.From != "" && entry.To != "" && entry.From != entry.To {
		r.metrics.RecordTransition(string(entry.From), string(entry.To))
	}

	if r.outbox != nil {
		payload, err := json.Marshal(EventPayload{
			OrderID:       order.ID,
			CustomerID:    order.CustomerID,
			FromStatus:    entry.From,
			ToStatus:      entry.To,
			Paid:          order.Paid,
			PaymentMethod: order.PaymentMethod,
			AmountMinor:   order.AmountMinor,
			Currency:      order.Currency,
			Reason:        entry.Reason,
			OccurredAt:    occurred,
		})
		if err != nil {
			r.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		} else if _, err := r.outbox.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: AggregateOrder,
			AggregateID:   order.ID,
			EventType:     entry.Type,
			Payload:       payload,
		}); err != nil {
			r.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
		} else {
			r.metrics.RecordOutboxEvent()
		}
	}

	if r.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:    order.ID,
			Type:       entry.Type,
			FromStatus: entry.From,
			ToStatus:   entry.To,
			Reason:     entry.Reason,
			Occurred:   occurred,
		}
		if err := r.timeline.Append(ctx, event); err != nil {
			r.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		} else {
			r.metrics.RecordTimelineEvent()
		}
	}
}
