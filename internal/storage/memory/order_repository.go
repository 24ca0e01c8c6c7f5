package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory хранит заказы в map и держит индекс по клиенту.
// Заказы хранятся и отдаются копиями.
type orderRepositoryInMemory struct {
	mu         sync.RWMutex
	orders     map[string]domain.Order
	byCustomer map[string][]string
	now        func() time.Time
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		orders:     make(map[string]domain.Order),
		byCustomer: make(map[string][]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create сохраняет новый заказ; занятый ID — конфликт версии.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.ErrOrderVersionConflict
	}
	r.orders[order.ID] = order.Clone()
	r.byCustomer[order.CustomerID] = append(r.byCustomer[order.CustomerID], order.ID)
	return nil
}

func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// ListByCustomer возвращает заказы клиента, новые первыми.
func (r *orderRepositoryInMemory) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byCustomer[customerID]
	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, r.orders[id])
	}
	return newestFirst(orders, limit), nil
}

// ListAll возвращает все заказы, новые первыми.
func (r *orderRepositoryInMemory) ListAll(_ context.Context, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		orders = append(orders, order)
	}
	return newestFirst(orders, limit), nil
}

// newestFirst сортирует по CreatedAt и ID по убыванию, режет до limit (>0) и клонирует.
func newestFirst(orders []domain.Order, limit int) []domain.Order {
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	for i := range orders {
		orders[i] = orders[i].Clone()
	}
	return orders
}

// Save перезаписывает заказ при совпадении версии и увеличивает её на единицу.
// CreatedAt берётся из сохранённой записи.
func (r *orderRepositoryInMemory) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	switch {
	case !ok:
		return domain.Order{}, domain.ErrOrderNotFound
	case current.Version != order.Version:
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	next := order.Clone()
	next.Version = current.Version + 1
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = r.now()
	next.CustomerID = current.CustomerID
	r.orders[next.ID] = next
	return next.Clone(), nil
}

func (r *orderRepositoryInMemory) Delete(_ context.Context, id string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[id]
	switch {
	case !ok:
		return domain.ErrOrderNotFound
	case current.Version != expectedVersion:
		return domain.ErrOrderVersionConflict
	}

	delete(r.orders, id)
	ids := r.byCustomer[current.CustomerID]
	if i := slices.Index(ids, id); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	}
	if len(ids) == 0 {
		delete(r.byCustomer, current.CustomerID)
	} else {
		r.byCustomer[current.CustomerID] = ids
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
