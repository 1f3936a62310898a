package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Get(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var product domain.Product

	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, slug, stock_quantity, reserved_quantity
		FROM products
		WHERE id = $1
	`, id).Scan(
		&product.ID, &product.Title, &product.Slug,
		&product.StockQuantity, &product.ReservedQuantity,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}

	variants, err := r.loadVariants(ctx, product.ID)
	if err != nil {
		return domain.Product{}, err
	}
	product.Variants = variants

	return product, nil
}

func (r *productRepository) List() ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, slug, stock_quantity, reserved_quantity
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(
			&product.ID, &product.Title, &product.Slug,
			&product.StockQuantity, &product.ReservedQuantity,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	for i := range products {
		variants, err := r.loadVariants(ctx, products[i].ID)
		if err != nil {
			return nil, err
		}
		products[i].Variants = variants
	}

	return products, nil
}

// ApplyStockPatches применяет все патчи в одной транзакции. Инкременты
// выполняются выражениями вида `SET x = x + $n` на стороне базы, поэтому
// конкурентные партии не затирают друг друга.
func (r *productRepository) ApplyStockPatches(patches []domain.StockPatch) error {
	if len(patches) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrStoreTransaction, err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, patch := range patches {
		if err = r.applyPatchTx(ctx, tx, patch); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit stock patches: %v", domain.ErrStoreTransaction, err)
	}

	return nil
}

func (r *productRepository) applyPatchTx(ctx context.Context, tx *sql.Tx, patch domain.StockPatch) error {
	now := time.Now().UTC()

	var (
		res sql.Result
		err error
	)

	if patch.Size != "" {
		res, err = tx.ExecContext(ctx, `
			UPDATE product_variants
			SET stock_quantity = stock_quantity + $1,
			    reserved_quantity = reserved_quantity + $2,
			    updated_at = $3
			WHERE product_id = $4
			  AND size = $5
		`, patch.StockDelta, patch.ReservedDelta, now, patch.ProductID, patch.Size)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity + $1,
			    reserved_quantity = reserved_quantity + $2,
			    updated_at = $3
			WHERE id = $4
		`, patch.StockDelta, patch.ReservedDelta, now, patch.ProductID)
	}
	if err != nil {
		return fmt.Errorf("%w: apply stock patch for %s: %v", domain.ErrStoreTransaction, patch.ProductID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", domain.ErrStoreTransaction, err)
	}
	if affected == 0 {
		if patch.Size != "" {
			exists, err := r.productExistsTx(ctx, tx, patch.ProductID)
			if err != nil {
				return err
			}
			if exists {
				return domain.ErrVariantNotFound
			}
		}
		return domain.ErrProductNotFound
	}

	return nil
}

func (r *productRepository) loadVariants(ctx context.Context, productID string) ([]domain.Variant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT size, stock_quantity, reserved_quantity
		FROM product_variants
		WHERE product_id = $1
		ORDER BY size
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("load product variants: %w", err)
	}
	defer rows.Close()

	variants := make([]domain.Variant, 0)
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.Size, &v.StockQuantity, &v.ReservedQuantity); err != nil {
			return nil, fmt.Errorf("scan product variant: %w", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product variants: %w", err)
	}

	if len(variants) == 0 {
		return nil, nil
	}
	return variants, nil
}

func (r *productRepository) productExistsTx(ctx context.Context, tx *sql.Tx, productID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1`, productID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("%w: check product exists: %v", domain.ErrStoreTransaction, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.ProductRepository = (*productRepository)(nil)
