package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// productEntry — товар со своим мьютексом: единственный писатель на товар.
type productEntry struct {
	mu      sync.Mutex
	product domain.Product
}

// productRepositoryInMemory хранит каталог и остатки в памяти.
// Пачки по непересекающимся товарам не конкурируют между собой.
type productRepositoryInMemory struct {
	mu      sync.RWMutex
	entries map[string]*productEntry
}

// NewProductRepository создаёт in-memory реализацию ProductRepository.
func NewProductRepository() *productRepositoryInMemory {
	return &productRepositoryInMemory{entries: make(map[string]*productEntry)}
}

// Get возвращает копию товара или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	entry := r.entry(id)
	if entry == nil {
		return domain.Product{}, domain.ErrProductNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.product.Clone(), nil
}

// GetProduct позволяет использовать репозиторий как каталог.
func (r *productRepositoryInMemory) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return r.Get(ctx, id)
}

// Upsert создаёт или полностью заменяет товар.
func (r *productRepositoryInMemory) Upsert(_ context.Context, product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return errs[0]
	}

	now := time.Now().UTC()
	product = product.Clone()
	product.UpdatedAt = now

	r.mu.Lock()
	entry, ok := r.entries[product.ID]
	if !ok {
		if product.CreatedAt.IsZero() {
			product.CreatedAt = now
		}
		r.entries[product.ID] = &productEntry{product: product}
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	product.CreatedAt = entry.product.CreatedAt
	entry.product = product
	return nil
}

// List возвращает все товары, отсортированные по ID.
func (r *productRepositoryInMemory) List(_ context.Context) ([]domain.Product, error) {
	r.mu.RLock()
	entries := make([]*productEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	result := make([]domain.Product, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		result = append(result, entry.product.Clone())
		entry.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DecrementStock списывает строки по порядку; первая неудачная строка отменяет всю пачку.
func (r *productRepositoryInMemory) DecrementStock(_ context.Context, lines []domain.StockLine) error {
	if err := domain.ValidateStockLines(lines); err != nil {
		return err
	}

	locked := r.lockProducts(lines)
	defer unlockProducts(locked)

	// Рабочие копии: в хранилище попадают только если прошли все строки.
	working := make(map[string]domain.Product, len(locked))
	for id, entry := range locked {
		working[id] = entry.product.Clone()
	}

	for _, line := range lines {
		product, ok := working[line.ProductID]
		if !ok {
			return domain.NewSizeNotFound(line)
		}
		idx := product.Size(line.SizeLabel)
		if idx < 0 {
			return domain.NewSizeNotFound(line)
		}
		available := product.Sizes[idx].Quantity
		if available < line.Qty {
			return domain.NewInsufficientStock(line, available)
		}
		product.Sizes[idx].Quantity = available - line.Qty
	}

	now := time.Now().UTC()
	for id, entry := range locked {
		product := working[id]
		product.UpdatedAt = now
		entry.product = product
	}
	return nil
}

// IncrementStock возвращает остатки; неизвестные товары и размеры пропускаются.
func (r *productRepositoryInMemory) IncrementStock(_ context.Context, lines []domain.StockLine) ([]domain.StockLine, error) {
	if err := domain.ValidateStockLines(lines); err != nil {
		return nil, err
	}

	locked := r.lockProducts(lines)
	defer unlockProducts(locked)

	var skipped []domain.StockLine
	now := time.Now().UTC()
	for _, line := range lines {
		entry, ok := locked[line.ProductID]
		if !ok {
			skipped = append(skipped, line)
			continue
		}
		idx := entry.product.Size(line.SizeLabel)
		if idx < 0 {
			skipped = append(skipped, line)
			continue
		}
		entry.product.Sizes[idx].Quantity += line.Qty
		entry.product.UpdatedAt = now
	}
	return skipped, nil
}

func (r *productRepositoryInMemory) entry(id string) *productEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// lockProducts захватывает мьютексы известных товаров пачки в порядке ID,
// чтобы пересекающиеся пачки не взаимоблокировались.
func (r *productRepositoryInMemory) lockProducts(lines []domain.StockLine) map[string]*productEntry {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	sort.Strings(ids)

	r.mu.RLock()
	entries := make([]*productEntry, 0, len(ids))
	locked := make(map[string]*productEntry, len(ids))
	for _, id := range ids {
		if entry, ok := r.entries[id]; ok {
			entries = append(entries, entry)
			locked[id] = entry
		}
	}
	r.mu.RUnlock()

	for _, entry := range entries {
		entry.mu.Lock()
	}
	return locked
}

func unlockProducts(locked map[string]*productEntry) {
	for _, entry := range locked {
		entry.mu.Unlock()
	}
}

var (
	_ domain.ProductRepository = (*productRepositoryInMemory)(nil)
	_ domain.Catalog           = (*productRepositoryInMemory)(nil)
)
