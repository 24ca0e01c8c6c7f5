package domain

import "time"

// Типы событий истории заказа.
const (
	TimelineOrderPlaced            = "OrderPlaced"
	TimelineStatusChanged          = "OrderStatusChanged"
	TimelinePaymentConfirmed       = "OrderPaymentConfirmed"
	TimelinePaymentFailed          = "OrderPaymentFailed"
	TimelineOrderCancelled         = "OrderCancelled"
	TimelineOrderReactivated       = "OrderReactivated"
	TimelineCheckoutCompensated    = "OrderCheckoutCompensated"
	TimelineStockReleaseIncomplete = "OrderStockReleaseIncomplete"
)

// TimelineEvent описывает запись append-only истории переходов заказа.
type TimelineEvent struct {
	OrderID    string
	Type       string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Reason     string
	Occurred   time.Time
}
