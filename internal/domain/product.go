package domain

import "time"

// OneSizeLabel — синтетический размер для товаров без вариантов.
const OneSizeLabel = "One Size"

// SizeStock хранит остаток одного размера товара.
type SizeStock struct {
	Label    string
	Quantity int32
}

// Product — позиция каталога с остатками по размерам.
// Остатки меняет только складской учёт (StockLedger).
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	Sizes      []SizeStock
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate проверяет инварианты товара и возвращает список замечаний.
func (p *Product) Validate() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrProductPriceInvalid)
	}
	if len(p.Sizes) == 0 {
		errs = append(errs, ErrProductSizesRequired)
	}

	seen := make(map[string]struct{}, len(p.Sizes))
	for _, size := range p.Sizes {
		if size.Label == "" {
			errs = append(errs, ErrSizeLabelRequired)
			continue
		}
		if _, dup := seen[size.Label]; dup {
			errs = append(errs, ErrSizeLabelDuplicate)
		}
		seen[size.Label] = struct{}{}
		if size.Quantity < 0 {
			errs = append(errs, ErrSizeQtyNegative)
		}
	}

	return errs
}

// Size возвращает индекс размера по метке или -1.
func (p *Product) Size(label string) int {
	for i := range p.Sizes {
		if p.Sizes[i].Label == label {
			return i
		}
	}
	return -1
}

// Clone возвращает копию товара с независимым слайсом размеров.
func (p Product) Clone() Product {
	p.Sizes = append([]SizeStock(nil), p.Sizes...)
	return p
}

// StockLine — одна строка складской операции.
type StockLine struct {
	ProductID string
	SizeLabel string
	Qty       int32
}

// ValidateStockLines проверяет пачку перед списанием или возвратом.
func ValidateStockLines(lines []StockLine) error {
	if len(lines) == 0 {
		return ErrStockLinesRequired
	}
	for _, line := range lines {
		if line.ProductID == "" {
			return ErrProductIDRequired
		}
		if line.SizeLabel == "" {
			return ErrSizeLabelRequired
		}
		if line.Qty <= 0 {
			return ErrItemQtyInvalid
		}
	}
	return nil
}
