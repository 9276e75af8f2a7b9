package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitacare-erp/vitacare/internal/inventory"
	"github.com/vitacare-erp/vitacare/internal/platform/db"
	"github.com/vitacare-erp/vitacare/internal/shared"
)

// Repository persists sale invoices in PostgreSQL. Fulfillment writes the
// invoice, its lines and the batch decrements in the same transaction, so
// the transactional interface spans both tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the writes of one fulfillment or restoration.
type TxRepository interface {
	InsertInvoice(ctx context.Context, inv SaleInvoice) (int64, error)
	InsertLines(ctx context.Context, invoiceID int64, lines []SaleLine) error
	GetInvoiceForUpdate(ctx context.Context, id int64) (SaleInvoice, error)
	SetInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error
	DeleteInvoice(ctx context.Context, id int64) error

	SelectAllocatableBatches(ctx context.Context, productID, warehouseID int64, now time.Time) ([]inventory.Batch, error)
	DecrementBatch(ctx context.Context, id, qty int64) error
	CreditBatch(ctx context.Context, id, qty int64) (bool, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const invoiceColumns = `id, customer_id, warehouse_id, status, total_bill, COALESCE(note, ''), created_at, updated_at`

// GetInvoice loads one invoice with lines.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (SaleInvoice, error) {
	return loadInvoice(ctx, r.pool, id, "")
}

// ListInvoices returns invoices, newest first.
func (r *Repository) ListInvoices(ctx context.Context, filter OrderFilter) ([]SaleInvoice, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+invoiceColumns+`
FROM sale_invoices
WHERE ($1 = 0 OR customer_id = $1)
  AND ($2 = '' OR status = $2)
ORDER BY id DESC
LIMIT $3 OFFSET $4`, filter.CustomerID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("sales: list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []SaleInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range invoices {
		lines, err := loadLines(ctx, r.pool, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		invoices[i].Lines = lines
	}
	return invoices, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadInvoice(ctx context.Context, q querier, id int64, lock string) (SaleInvoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM sale_invoices WHERE id = $1`+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SaleInvoice{}, shared.ErrNotFound
		}
		return SaleInvoice{}, fmt.Errorf("sales: get invoice: %w", err)
	}
	lines, err := loadLines(ctx, q, id)
	if err != nil {
		return SaleInvoice{}, err
	}
	inv.Lines = lines
	return inv, nil
}

func loadLines(ctx context.Context, q querier, invoiceID int64) ([]SaleLine, error) {
	rows, err := q.Query(ctx, `
SELECT id, invoice_id, product_id, batch_id, quantity, unit_price, total_price
FROM sale_lines
WHERE invoice_id = $1
ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("sales: load lines: %w", err)
	}
	defer rows.Close()

	var lines []SaleLine
	for rows.Next() {
		var l SaleLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ProductID, &l.BatchID, &l.Quantity, &l.UnitPrice, &l.TotalPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepo) InsertInvoice(ctx context.Context, inv SaleInvoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
INSERT INTO sale_invoices (customer_id, warehouse_id, status, total_bill, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW(), NOW())
RETURNING id`, inv.CustomerID, inv.WarehouseID, inv.Status, inv.TotalBill, inv.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sales: insert invoice: %w", err)
	}
	return id, nil
}

func (r *txRepo) InsertLines(ctx context.Context, invoiceID int64, lines []SaleLine) error {
	for _, l := range lines {
		_, err := r.tx.Exec(ctx, `
INSERT INTO sale_lines (invoice_id, product_id, batch_id, quantity, unit_price, total_price)
VALUES ($1, $2, $3, $4, $5, $6)`, invoiceID, l.ProductID, l.BatchID, l.Quantity, l.UnitPrice, l.TotalPrice)
		if err != nil {
			return fmt.Errorf("sales: insert line: %w", err)
		}
	}
	return nil
}

func (r *txRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (SaleInvoice, error) {
	return loadInvoice(ctx, r.tx, id, ` FOR UPDATE`)
}

func (r *txRepo) SetInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sale_invoices SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("sales: set invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) DeleteInvoice(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM sale_lines WHERE invoice_id = $1`, id); err != nil {
		return fmt.Errorf("sales: delete lines: %w", err)
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM sale_invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sales: delete invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) SelectAllocatableBatches(ctx context.Context, productID, warehouseID int64, now time.Time) ([]inventory.Batch, error) {
	rows, err := r.tx.Query(ctx, `
SELECT id, product_id, warehouse_id, quantity, remaining_qty, base_unit,
       manufacture_date, expiry_date, COALESCE(origin_invoice_id, ''), COALESCE(origin_transfer_id, 0), created_at
FROM product_batches
WHERE product_id = $1 AND warehouse_id = $2 AND remaining_qty > 0 AND expiry_date > $3
ORDER BY expiry_date, id
FOR UPDATE`, productID, warehouseID, now)
	if err != nil {
		return nil, fmt.Errorf("sales: select allocatable: %w", err)
	}
	defer rows.Close()

	var batches []inventory.Batch
	for rows.Next() {
		var b inventory.Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.WarehouseID, &b.Quantity, &b.RemainingQty, &b.BaseUnit,
			&b.ManufactureDate, &b.ExpiryDate, &b.OriginInvoiceID, &b.OriginTransferID, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *txRepo) DecrementBatch(ctx context.Context, id, qty int64) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE product_batches
SET remaining_qty = remaining_qty - $2
WHERE id = $1 AND remaining_qty >= $2`, id, qty)
	if err != nil {
		return fmt.Errorf("sales: decrement batch %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInsufficientStock
	}
	return nil
}

// CreditBatch returns stock to a batch. The boolean reports whether the
// batch still existed; restoration skips vanished batches.
func (r *txRepo) CreditBatch(ctx context.Context, id, qty int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `
UPDATE product_batches
SET remaining_qty = LEAST(remaining_qty + $2, quantity)
WHERE id = $1`, id, qty)
	if err != nil {
		return false, fmt.Errorf("sales: credit batch %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (SaleInvoice, error) {
	var inv SaleInvoice
	err := row.Scan(&inv.ID, &inv.CustomerID, &inv.WarehouseID, &inv.Status, &inv.TotalBill, &inv.Note, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}
