package stock

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	opDecrement = "decrement"
	opIncrement = "increment"
)

// Ledger — складской учёт по товарам и размерам.
// Единственный компонент, меняющий остатки: атомарность пачки обеспечивает репозиторий.
type Ledger struct {
	products domain.ProductRepository
	logger   *log.Entry
	metrics  *metrics.StoreMetrics
}

// NewLedger создаёт складской учёт поверх репозитория товаров. metrics может быть nil.
func NewLedger(products domain.ProductRepository, m *metrics.StoreMetrics, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "stock-ledger")
	}
	return &Ledger{products: products, logger: logger, metrics: m}
}

// Available возвращает текущий остаток размера. Неизвестный товар — ErrProductNotFound,
// неизвестный размер — ErrSizeNotFound.
func (l *Ledger) Available(ctx context.Context, productID, sizeLabel string) (int32, error) {
	product, err := l.products.Get(ctx, productID)
	if err != nil {
		return 0, err
	}

	idx := product.Size(sizeLabel)
	if idx < 0 {
		return 0, domain.NewSizeNotFound(domain.StockLine{ProductID: productID, SizeLabel: sizeLabel})
	}
	return product.Sizes[idx].Quantity, nil
}

// Decrement списывает пачку строк в порядке списка: либо все, либо ни одной.
// Ошибка *domain.StockError указывает первую строку, которую нельзя списать.
func (l *Ledger) Decrement(ctx context.Context, lines []domain.StockLine) error {
	if err := domain.ValidateStockLines(lines); err != nil {
		return err
	}

	if err := l.products.DecrementStock(ctx, lines); err != nil {
		var stockErr *domain.StockError
		if errors.As(err, &stockErr) {
			l.metrics.RecordStockOperation(opDecrement, "rejected")
			l.logger.WithFields(log.Fields{
				"product_id": stockErr.ProductID,
				"size":       stockErr.SizeLabel,
				"requested":  stockErr.Requested,
				"available":  stockErr.Available,
			}).Info("stock decrement rejected")
			return err
		}
		l.metrics.RecordStockOperation(opDecrement, "error")
		l.logger.WithError(err).Error("stock decrement failed")
		return err
	}

	l.metrics.RecordStockOperation(opDecrement, "ok")
	return nil
}

// Increment возвращает остатки. Неизвестные товары и размеры логируются и пропускаются.
func (l *Ledger) Increment(ctx context.Context, lines []domain.StockLine) error {
	if err := domain.ValidateStockLines(lines); err != nil {
		return err
	}

	skipped, err := l.products.IncrementStock(ctx, lines)
	if err != nil {
		l.metrics.RecordStockOperation(opIncrement, "error")
		l.logger.WithError(err).Error("stock increment failed")
		return err
	}

	for _, line := range skipped {
		l.logger.WithFields(log.Fields{
			"product_id": line.ProductID,
			"size":       line.SizeLabel,
			"qty":        line.Qty,
		}).Warn("stock increment skipped: unknown product or size")
	}
	if len(skipped) > 0 {
		l.metrics.RecordStockOperation(opIncrement, "partial")
		return nil
	}

	l.metrics.RecordStockOperation(opIncrement, "ok")
	return nil
}
