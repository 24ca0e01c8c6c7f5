package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы checkout для метрики storefront_checkout_total.
const (
	OutcomePlaced             = "placed"
	OutcomeRejectedStock      = "rejected_stock"
	OutcomeRejectedValidation = "rejected_validation"
	OutcomeGatewayFailed      = "gateway_failed"
	OutcomeError              = "error"
)

// StoreMetrics содержит метрики складского учёта, checkout и сверки оплат.
// Все методы безопасны для nil-получателя: сервисы в тестах работают без метрик.
type StoreMetrics struct {
	checkoutResults  *prometheus.CounterVec
	checkoutDuration *prometheus.HistogramVec
	checkoutInFlight prometheus.Gauge

	stockOperations *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	paymentOutcomes *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewStoreMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewStoreMetrics() *StoreMetrics {
	return NewStoreMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStoreMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewStoreMetricsWithRegisterer(registerer prometheus.Registerer) *StoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StoreMetrics{
		checkoutResults: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_total",
			Help: "Total number of checkout attempts grouped by outcome",
		}, []string{"outcome"}),
		checkoutDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"payment_method"}),
		checkoutInFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_checkout_in_flight",
			Help: "Number of checkout requests currently being processed",
		}),
		stockOperations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_operations_total",
			Help: "Total number of stock ledger operations grouped by operation and result",
		}, []string{"op", "result"}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_compensations_total",
			Help: "Total number of compensating stock increments grouped by reason",
		}, []string{"reason"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_transitions_total",
			Help: "Total number of order status transitions",
		}, []string{"from", "to"}),
		paymentOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_payment_outcomes_total",
			Help: "Total number of applied payment outcomes grouped by result",
		}, []string{"result"}),
		gatewayLatency: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_gateway_session_duration_seconds",
			Help:    "Duration of payment session creation in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of order history entries recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of events enqueued into the outbox",
		}),
	}
}

// RecordCheckout фиксирует исход и длительность checkout.
func (m *StoreMetrics) RecordCheckout(outcome, paymentMethod string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkoutResults.WithLabelValues(outcome).Inc()
	m.checkoutDuration.WithLabelValues(paymentMethod).Observe(duration.Seconds())
}

// CheckoutStarted увеличивает число активных checkout.
func (m *StoreMetrics) CheckoutStarted() {
	if m == nil {
		return
	}
	m.checkoutInFlight.Inc()
}

// CheckoutFinished уменьшает число активных checkout.
func (m *StoreMetrics) CheckoutFinished() {
	if m == nil {
		return
	}
	m.checkoutInFlight.Dec()
}

// RecordStockOperation считает операции склада: op = decrement|increment, result = ok|rejected|error.
func (m *StoreMetrics) RecordStockOperation(op, result string) {
	if m == nil {
		return
	}
	m.stockOperations.WithLabelValues(op, result).Inc()
}

// RecordCompensation считает компенсирующие возвраты стока.
func (m *StoreMetrics) RecordCompensation(reason string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(reason).Inc()
}

// RecordTransition считает переходы статусов заказа.
func (m *StoreMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordPaymentOutcome считает применённые результаты оплаты.
func (m *StoreMetrics) RecordPaymentOutcome(result string) {
	if m == nil {
		return
	}
	m.paymentOutcomes.WithLabelValues(result).Inc()
}

// RecordGatewayLatency записывает длительность создания платёжной сессии.
func (m *StoreMetrics) RecordGatewayLatency(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик записей истории.
func (m *StoreMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *StoreMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
