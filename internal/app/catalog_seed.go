package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type seedSize struct {
	Label    string `json:"label"`
	Quantity int32  `json:"quantity"`
}

type seedProduct struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	PriceMinor int64      `json:"price_minor"`
	Sizes      []seedSize `json:"sizes"`
}

// loadCatalogSeed загружает каталог из JSON-файла. Товар без размеров получает One Size.
// Повторная загрузка перезаписывает остатки товаров из файла.
func loadCatalogSeed(ctx context.Context, path string, products domain.ProductRepository, logger *log.Entry) (int, error) {
	if path == "" {
		return 0, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog seed: %w", err)
	}

	var seed []seedProduct
	if err := json.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("decode catalog seed %s: %w", path, err)
	}

	for i, item := range seed {
		product := domain.Product{
			ID:         item.ID,
			Name:       item.Name,
			PriceMinor: item.PriceMinor,
		}
		for _, size := range item.Sizes {
			product.Sizes = append(product.Sizes, domain.SizeStock{Label: size.Label, Quantity: size.Quantity})
		}
		if len(product.Sizes) == 0 {
			product.Sizes = []domain.SizeStock{{Label: domain.OneSizeLabel}}
		}
		if err := products.Upsert(ctx, product); err != nil {
			return i, fmt.Errorf("seed product %q: %w", item.ID, err)
		}
	}

	logger.WithFields(log.Fields{"file": path, "products": len(seed)}).Info("catalog seed loaded")
	return len(seed), nil
}
