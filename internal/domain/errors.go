package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка неизвестного способа оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method must be cod or online")
	// Ошибка неизвестного статуса заказа.
	ErrOrderStatusInvalid = errors.New("unknown order status")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка отрицательной цены товара.
	ErrProductPriceInvalid = errors.New("product price must be non-negative")
	// Ошибка товара без размеров.
	ErrProductSizesRequired = errors.New("product must have at least one size")
	// Ошибка пустой метки размера.
	ErrSizeLabelRequired = errors.New("size label is required")
	// Ошибка повторяющейся метки размера в товаре.
	ErrSizeLabelDuplicate = errors.New("size label must be unique within product")
	// Ошибка отрицательного остатка размера.
	ErrSizeQtyNegative = errors.New("size quantity must be non-negative")
	// Ошибка пустой пачки складских операций.
	ErrStockLinesRequired = errors.New("stock batch must contain at least one line")

	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrSizeNotFound — у товара нет запрошенного размера.
	ErrSizeNotFound = errors.New("size not found")
	// ErrInsufficientStock — остатка размера не хватает для списания.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderRejected — заказ не принят (нет стока или размера), записи заказа нет.
	ErrOrderRejected = errors.New("order rejected")
	// ErrUnauthorized — заказ принадлежит другому клиенту.
	ErrUnauthorized = errors.New("order does not belong to customer")
	// ErrNotCancellable — заказ уже ушёл в доставку и не может быть отменён клиентом.
	ErrNotCancellable = errors.New("order can no longer be cancelled")
	// ErrAlreadyTerminal — переход уже применён; идемпотентные обработчики не считают это ошибкой.
	ErrAlreadyTerminal = errors.New("order transition already applied")

	// ErrGatewayFailure — платёжный провайдер недоступен, checkout откатывается.
	ErrGatewayFailure = errors.New("payment gateway failure")
	// ErrWebhookSignature — подпись webhook не прошла проверку.
	ErrWebhookSignature = errors.New("webhook signature verification failed")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// StockError описывает отказ склада по конкретной паре товар/размер.
type StockError struct {
	ProductID string
	SizeLabel string
	Requested int32
	Available int32
	Err       error
}

func (e *StockError) Error() string {
	if errors.Is(e.Err, ErrInsufficientStock) {
		return fmt.Sprintf("%v: product %s size %q requested %d available %d",
			e.Err, e.ProductID, e.SizeLabel, e.Requested, e.Available)
	}
	return fmt.Sprintf("%v: product %s size %q", e.Err, e.ProductID, e.SizeLabel)
}

func (e *StockError) Unwrap() error { return e.Err }

// NewInsufficientStock собирает ошибку нехватки остатка.
func NewInsufficientStock(line StockLine, available int32) *StockError {
	return &StockError{
		ProductID: line.ProductID,
		SizeLabel: line.SizeLabel,
		Requested: line.Qty,
		Available: available,
		Err:       ErrInsufficientStock,
	}
}

// NewSizeNotFound собирает ошибку отсутствующего товара или размера.
func NewSizeNotFound(line StockLine) *StockError {
	return &StockError{
		ProductID: line.ProductID,
		SizeLabel: line.SizeLabel,
		Requested: line.Qty,
		Err:       ErrSizeNotFound,
	}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsStockUnavailable отличает «нет товара» от прочих ошибок.
func IsStockUnavailable(err error) bool {
	return errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrSizeNotFound)
}
