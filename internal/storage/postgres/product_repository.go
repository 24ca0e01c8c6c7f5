package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
// Остатки меняются условными UPDATE внутри одной транзакции на пачку.
func NewProductRepository(store *Store) *productRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var product domain.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price_minor, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.PriceMinor, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}

	sizes, err := r.loadSizes(ctx, product.ID)
	if err != nil {
		return domain.Product{}, err
	}
	product.Sizes = sizes

	return product, nil
}

// GetProduct позволяет использовать репозиторий как каталог.
func (r *productRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return r.Get(ctx, id)
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) (err error) {
	if errs := product.Validate(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	createdAt := product.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, price_minor, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.PriceMinor, createdAt, now); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM product_sizes WHERE product_id = $1`, product.ID); err != nil {
		return fmt.Errorf("reset product sizes: %w", err)
	}
	for i, size := range product.Sizes {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO product_sizes (product_id, label, position, quantity)
			VALUES ($1,$2,$3,$4)
		`, product.ID, size.Label, i, size.Quantity); err != nil {
			return fmt.Errorf("insert product size: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert product: %w", err)
	}
	return nil
}

func (r *productRepository) List(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.price_minor, p.created_at, p.updated_at, s.label, s.quantity
		FROM products p
		JOIN product_sizes s ON s.product_id = p.id
		ORDER BY p.id, s.position
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var (
			product domain.Product
			size    domain.SizeStock
		)
		if err := rows.Scan(
			&product.ID, &product.Name, &product.PriceMinor, &product.CreatedAt, &product.UpdatedAt,
			&size.Label, &size.Quantity,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		if n := len(products); n > 0 && products[n-1].ID == product.ID {
			products[n-1].Sizes = append(products[n-1].Sizes, size)
			continue
		}
		product.Sizes = []domain.SizeStock{size}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, nil
}

// DecrementStock списывает строки в порядке пачки внутри одной транзакции.
// Условие quantity >= n делает каждое списание атомарным compare-and-set.
func (r *productRepository) DecrementStock(ctx context.Context, lines []domain.StockLine) error {
	if err := domain.ValidateStockLines(lines); err != nil {
		return err
	}

	return withTxRetry(ctx, func(ctx context.Context) error {
		return r.decrementOnce(ctx, lines)
	})
}

func (r *productRepository) decrementOnce(ctx context.Context, lines []domain.StockLine) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, line := range lines {
		res, execErr := tx.ExecContext(ctx, `
			UPDATE product_sizes
			SET quantity = quantity - $3
			WHERE product_id = $1
			  AND label = $2
			  AND quantity >= $3
		`, line.ProductID, line.SizeLabel, line.Qty)
		if execErr != nil {
			err = fmt.Errorf("decrement stock: %w", execErr)
			return err
		}

		affected, affErr := res.RowsAffected()
		if affErr != nil {
			err = fmt.Errorf("rows affected: %w", affErr)
			return err
		}
		if affected == 0 {
			err = r.explainRejectedLine(ctx, tx, line)
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE products SET updated_at = $2 WHERE id = ANY($1)
	`, productIDs(lines), time.Now().UTC()); err != nil {
		return fmt.Errorf("touch products: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit decrement stock: %w", err)
	}
	return nil
}

// explainRejectedLine отличает отсутствующий размер от нехватки остатка.
func (r *productRepository) explainRejectedLine(ctx context.Context, tx *sql.Tx, line domain.StockLine) error {
	var available int32
	err := tx.QueryRowContext(ctx, `
		SELECT quantity FROM product_sizes WHERE product_id = $1 AND label = $2
	`, line.ProductID, line.SizeLabel).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewSizeNotFound(line)
		}
		return fmt.Errorf("check stock: %w", err)
	}
	return domain.NewInsufficientStock(line, available)
}

// IncrementStock возвращает остатки; строки без товара/размера пропускаются.
func (r *productRepository) IncrementStock(ctx context.Context, lines []domain.StockLine) ([]domain.StockLine, error) {
	if err := domain.ValidateStockLines(lines); err != nil {
		return nil, err
	}

	var skipped []domain.StockLine
	err := withTxRetry(ctx, func(ctx context.Context) error {
		var err error
		skipped, err = r.incrementOnce(ctx, lines)
		return err
	})
	if err != nil {
		return nil, err
	}
	return skipped, nil
}

func (r *productRepository) incrementOnce(ctx context.Context, lines []domain.StockLine) (skipped []domain.StockLine, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, line := range lines {
		res, execErr := tx.ExecContext(ctx, `
			UPDATE product_sizes
			SET quantity = quantity + $3
			WHERE product_id = $1
			  AND label = $2
		`, line.ProductID, line.SizeLabel, line.Qty)
		if execErr != nil {
			err = fmt.Errorf("increment stock: %w", execErr)
			return nil, err
		}
		affected, affErr := res.RowsAffected()
		if affErr != nil {
			err = fmt.Errorf("rows affected: %w", affErr)
			return nil, err
		}
		if affected == 0 {
			skipped = append(skipped, line)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit increment stock: %w", err)
	}
	return skipped, nil
}

func (r *productRepository) loadSizes(ctx context.Context, productID string) ([]domain.SizeStock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT label, quantity
		FROM product_sizes
		WHERE product_id = $1
		ORDER BY position ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("load product sizes: %w", err)
	}
	defer rows.Close()

	sizes := make([]domain.SizeStock, 0)
	for rows.Next() {
		var size domain.SizeStock
		if err := rows.Scan(&size.Label, &size.Quantity); err != nil {
			return nil, fmt.Errorf("scan product size: %w", err)
		}
		sizes = append(sizes, size)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product sizes: %w", err)
	}

	return sizes, nil
}

func productIDs(lines []domain.StockLine) []string {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

var (
	_ domain.ProductRepository = (*productRepository)(nil)
	_ domain.Catalog           = (*productRepository)(nil)
)
