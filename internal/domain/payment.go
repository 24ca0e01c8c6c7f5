package domain

// SessionLineItem — строка платёжной сессии провайдера.
type SessionLineItem struct {
	Name           string
	UnitPriceMinor int64
	Qty            int64
}

// SessionRequest — данные для создания платёжной сессии по заказу.
type SessionRequest struct {
	OrderID    string
	CustomerID string
	Currency   string
	LineItems  []SessionLineItem
	SuccessURL string
	CancelURL  string
}

// PaymentSession — созданная у провайдера сессия оплаты.
type PaymentSession struct {
	ID  string
	URL string
}

// PaymentOutcome — асинхронный результат оплаты, пришедший от провайдера.
// Данные недоверенные: владелец заказа проверяется при применении.
type PaymentOutcome struct {
	EventID    string `json:"event_id"`
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Succeeded  bool   `json:"succeeded"`
}

// Validate проверяет обязательные поля исхода оплаты.
func (o PaymentOutcome) Validate() error {
	if o.OrderID == "" {
		return ErrOrderIDRequired
	}
	if o.CustomerID == "" {
		return ErrCustomerRequired
	}
	return nil
}

// SessionFromOrder собирает запрос сессии из позиций заказа и стоимости доставки.
func SessionFromOrder(order Order, successURL, cancelURL string) SessionRequest {
	items := make([]SessionLineItem, 0, len(order.Items)+1)
	for _, item := range order.Items {
		name := item.ProductName
		if item.SizeLabel != "" && item.SizeLabel != OneSizeLabel {
			name += " (" + item.SizeLabel + ")"
		}
		items = append(items, SessionLineItem{
			Name:           name,
			UnitPriceMinor: item.UnitPriceMinor,
			Qty:            int64(item.Qty),
		})
	}
	if order.DeliveryFeeMinor > 0 {
		items = append(items, SessionLineItem{
			Name:           "Delivery",
			UnitPriceMinor: order.DeliveryFeeMinor,
			Qty:            1,
		})
	}

	return SessionRequest{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Currency:   order.Currency,
		LineItems:  items,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	}
}
