package domain

import "time"

// OrderStatus описывает жизненный цикл заказа витрины.
type OrderStatus string

const (
	// OrderStatusPlaced — заказ принят, сток списан.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusPaymentConfirmed — онлайн-оплата подтверждена провайдером.
	OrderStatusPaymentConfirmed OrderStatus = "payment_confirmed"
	// OrderStatusPacking — заказ собирается на складе.
	OrderStatusPacking OrderStatus = "packing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusOutForDelivery — курьер везёт заказ клиенту.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered — заказ вручён.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён, сток возвращён.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — деньги возвращены, сток возвращён.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Valid сообщает, относится ли статус к известным значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPlaced, OrderStatusPaymentConfirmed, OrderStatusPacking,
		OrderStatusShipped, OrderStatusOutForDelivery, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// IsReleased — статусы, в которых сток заказа уже возвращён на склад.
func (s OrderStatus) IsReleased() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// IsCustomerCancellable — клиент не может отменить заказ, ушедший в доставку.
func (s OrderStatus) IsCustomerCancellable() bool {
	switch s {
	case OrderStatusShipped, OrderStatusOutForDelivery, OrderStatusDelivered:
		return false
	default:
		return true
	}
}

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	// PaymentMethodCOD — оплата при получении.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodOnline — оплата через платёжную сессию провайдера.
	PaymentMethodOnline PaymentMethod = "online"
)

// Valid проверяет способ оплаты.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodOnline
}

// Address — адрес доставки, снимок на момент заказа.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
}

// OrderItem представляет одну позицию заказа. Цена фиксируется при оформлении.
type OrderItem struct {
	ID             string
	ProductID      string
	ProductName    string
	SizeLabel      string
	Qty            int32
	UnitPriceMinor int64
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID               string
	CustomerID       string
	Items            []OrderItem
	Address          Address
	Currency         string
	DeliveryFeeMinor int64
	AmountMinor      int64
	PaymentMethod    PaymentMethod
	Paid             bool
	Status           OrderStatus
	PaymentSessionID string
	Version          int64
	// CreatedAt — момент оформления (placedAt).
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if !o.PaymentMethod.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}

	// Сверяем сумму заказа: qty * price по позициям плюс доставка.
	calc := o.DeliveryFeeMinor
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.UnitPriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// StockLines возвращает складские строки заказа в порядке позиций.
func (o *Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{
			ProductID: item.ProductID,
			SizeLabel: item.SizeLabel,
			Qty:       item.Qty,
		})
	}
	return lines
}

// Clone возвращает копию заказа с независимым слайсом позиций.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}
