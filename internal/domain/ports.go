package domain

import (
	"context"
	"time"
)

// ProductRepository хранит товары и их остатки по размерам.
// DecrementStock и IncrementStock — атомарные примитивы складского учёта.
type ProductRepository interface {
	Get(ctx context.Context, id string) (Product, error)
	Upsert(ctx context.Context, product Product) error
	List(ctx context.Context) ([]Product, error)
	// DecrementStock списывает все строки пачки или ни одной.
	DecrementStock(ctx context.Context, lines []StockLine) error
	// IncrementStock возвращает остатки; неизвестные товары/размеры пропускаются
	// и возвращаются вызывающему для логирования.
	IncrementStock(ctx context.Context, lines []StockLine) ([]StockLine, error)
}

// Catalog отдаёт актуальные данные каталога для переоценки заказа.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (Product, error)
}

// OrderRepository хранит заказы с оптимистичной блокировкой по Version.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	// Save сохраняет заказ, если версия в хранилище совпадает с order.Version.
	Save(ctx context.Context, order Order) (Order, error)
	// Delete удаляет заказ, если версия совпадает с expectedVersion.
	Delete(ctx context.Context, id string, expectedVersion int64) error
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	ListAll(ctx context.Context, limit int) ([]Order, error)
}

// TimelineRepository хранит историю переходов заказа (append-only).
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// PaymentGateway создаёт платёжные сессии у провайдера.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (PaymentSession, error)
}

// PaymentVerifier спрашивает у провайдера, оплачена ли сессия.
type PaymentVerifier interface {
	SessionPaid(ctx context.Context, sessionID string) (bool, error)
}

// WebhookGuard защищает от повторной обработки одного и того же события провайдера.
type WebhookGuard interface {
	// CheckAndMark возвращает true, если событие видим впервые.
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	// Delete снимает отметку, чтобы провайдер мог повторить доставку.
	Delete(ctx context.Context, eventID string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
