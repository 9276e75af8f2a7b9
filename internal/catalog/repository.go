package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitacare-erp/vitacare/internal/shared"
)

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const getProductQuery = `
SELECT id, sku, name, category, default_unit, price, stock_base_qty, nearest_expiry, created_at, updated_at
FROM products
WHERE id = $1`

const listVariantsQuery = `
SELECT id, product_id, unit, ratio, price, position
FROM product_units
WHERE product_id = ANY($1)
ORDER BY product_id, position, id`

const listProductsQuery = `
SELECT id, sku, name, category, default_unit, price, stock_base_qty, nearest_expiry, created_at, updated_at
FROM products
WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR sku ILIKE '%' || $1 || '%')
  AND ($2 = '' OR category = $2)
ORDER BY name, id
LIMIT $3 OFFSET $4`

const listProductIDsQuery = `SELECT id FROM products ORDER BY id`

const stockSummaryQuery = `
SELECT COALESCE(SUM(remaining_qty), 0),
       MIN(expiry_date) FILTER (WHERE remaining_qty > 0)
FROM product_batches
WHERE product_id = $1 AND warehouse_id = $2`

const updateStockSummaryQuery = `
UPDATE products
SET stock_base_qty = $2, nearest_expiry = $3, updated_at = NOW()
WHERE id = $1`

// GetProduct loads one product with its unit variants.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, getProductQuery, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, fmt.Errorf("catalog: get product: %w", err)
	}
	variants, err := r.loadVariants(ctx, []int64{p.ID})
	if err != nil {
		return Product{}, err
	}
	p.Variants = variants[p.ID]
	return p, nil
}

// ListProducts returns a filtered page of products including variants.
func (r *Repository) ListProducts(ctx context.Context, filter ListFilter) ([]Product, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, listProductsQuery, filter.Search, filter.Category, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	var ids []int64
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan product: %w", err)
		}
		products = append(products, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return products, nil
	}
	variants, err := r.loadVariants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Variants = variants[products[i].ID]
	}
	return products, nil
}

// ListProductIDs returns every product id, used by the full recompute job.
func (r *Repository) ListProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, listProductIDsQuery)
	if err != nil {
		return nil, fmt.Errorf("catalog: list product ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StockSummary aggregates remaining quantity and nearest expiry from the
// batch ledger of one warehouse.
func (r *Repository) StockSummary(ctx context.Context, productID, warehouseID int64) (StockSummary, error) {
	var total int64
	var nearest *time.Time
	err := r.pool.QueryRow(ctx, stockSummaryQuery, productID, warehouseID).Scan(&total, &nearest)
	if err != nil {
		return StockSummary{}, fmt.Errorf("catalog: stock summary: %w", err)
	}
	return StockSummary{ProductID: productID, TotalBaseQty: total, NearestExpiry: nearest}, nil
}

// UpdateStockSummary writes the denormalised summary onto the product row.
func (r *Repository) UpdateStockSummary(ctx context.Context, s StockSummary) error {
	tag, err := r.pool.Exec(ctx, updateStockSummaryQuery, s.ProductID, s.TotalBaseQty, s.NearestExpiry)
	if err != nil {
		return fmt.Errorf("catalog: update stock summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) loadVariants(ctx context.Context, productIDs []int64) (map[int64][]UnitVariant, error) {
	rows, err := r.pool.Query(ctx, listVariantsQuery, productIDs)
	if err != nil {
		return nil, fmt.Errorf("catalog: list variants: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]UnitVariant, len(productIDs))
	for rows.Next() {
		var v UnitVariant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Unit, &v.Ratio, &v.Price, &v.Position); err != nil {
			return nil, err
		}
		out[v.ProductID] = append(out[v.ProductID], v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.DefaultUnit, &p.Price, &p.StockBaseQty, &p.NearestExpiry, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
