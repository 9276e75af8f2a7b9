package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitacare-erp/vitacare/internal/platform/db"
	"github.com/vitacare-erp/vitacare/internal/shared"
)

// Repository persists the batch ledger and transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes ledger operations that must run inside one
// transaction. Rows read with the ForUpdate variants stay locked until
// commit, so concurrent decrements serialize instead of racing.
type TxRepository interface {
	InsertBatch(ctx context.Context, b Batch) (int64, error)
	GetBatchForUpdate(ctx context.Context, id int64) (Batch, error)
	SelectDrainableBatches(ctx context.Context, productID, warehouseID int64) ([]Batch, error)
	SelectRestorableBatches(ctx context.Context, productID, warehouseID int64) ([]Batch, error)
	DecrementBatch(ctx context.Context, id, qty int64) error
	CreditBatch(ctx context.Context, id, qty int64) error
	UpdateBatch(ctx context.Context, b Batch) error
	DeleteBatch(ctx context.Context, id int64) error

	InsertTransfer(ctx context.Context, t Transfer) (int64, error)
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	SetTransferStatus(ctx context.Context, id int64, status TransferStatus, completedAt *time.Time) error
	DeleteTransfer(ctx context.Context, id int64) error
	CountBatchesForTransfer(ctx context.Context, transferID int64) (int64, error)
	ListBatchesForTransfer(ctx context.Context, transferID int64) ([]Batch, error)
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

const batchColumns = `id, product_id, warehouse_id, quantity, remaining_qty, base_unit,
       manufacture_date, expiry_date, COALESCE(origin_invoice_id, ''), COALESCE(origin_transfer_id, 0), created_at`

const listBatchesQuery = `
SELECT ` + batchColumns + `
FROM product_batches
WHERE ($1 = 0 OR product_id = $1)
  AND ($2 = 0 OR warehouse_id = $2)
  AND (NOT $3 OR remaining_qty > 0)
ORDER BY expiry_date, id
LIMIT $4 OFFSET $5`

const getBatchQuery = `
SELECT ` + batchColumns + `
FROM product_batches
WHERE id = $1`

const warehouseStockQuery = `
SELECT product_id,
       COALESCE(SUM(remaining_qty), 0),
       COUNT(*),
       MIN(expiry_date) FILTER (WHERE remaining_qty > 0)
FROM product_batches
WHERE warehouse_id = $1
GROUP BY product_id
ORDER BY product_id`

const listTransfersQuery = `
SELECT id, source_id, destination_id, status, note, created_at, completed_at
FROM transfers
WHERE ($1 = '' OR status = $1)
ORDER BY id DESC
LIMIT $2 OFFSET $3`

// ListBatches returns batches matching the filter, expiry-ordered.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, listBatchesQuery,
		filter.ProductID, filter.WarehouseID, filter.OnlyInStock, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("inventory: list batches: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

// GetBatch loads one batch.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.pool.QueryRow(ctx, getBatchQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, shared.ErrNotFound
	}
	return b, err
}

// WarehouseStock aggregates per-product positions straight from the ledger.
func (r *Repository) WarehouseStock(ctx context.Context, warehouseID int64) ([]WarehouseStockEntry, error) {
	rows, err := r.pool.Query(ctx, warehouseStockQuery, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("inventory: warehouse stock: %w", err)
	}
	defer rows.Close()

	var entries []WarehouseStockEntry
	for rows.Next() {
		var e WarehouseStockEntry
		if err := rows.Scan(&e.ProductID, &e.TotalQty, &e.BatchCount, &e.NearestExpiry); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetTransfer loads one transfer with its lines.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	return loadTransfer(ctx, r.pool, id, "")
}

// ListTransfers returns transfers, newest first.
func (r *Repository) ListTransfers(ctx context.Context, status TransferStatus, limit, offset int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, listTransfersQuery, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("inventory: list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.SourceID, &t.DestinationID, &t.Status, &t.Note, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range transfers {
		lines, err := loadTransferLines(ctx, r.pool, transfers[i].ID)
		if err != nil {
			return nil, err
		}
		transfers[i].Lines = lines
	}
	return transfers, nil
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadTransfer(ctx context.Context, q querier, id int64, lock string) (Transfer, error) {
	query := `SELECT id, source_id, destination_id, status, note, created_at, completed_at FROM transfers WHERE id = $1` + lock
	var t Transfer
	err := q.QueryRow(ctx, query, id).Scan(&t.ID, &t.SourceID, &t.DestinationID, &t.Status, &t.Note, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, shared.ErrNotFound
		}
		return Transfer{}, fmt.Errorf("inventory: get transfer: %w", err)
	}
	lines, err := loadTransferLines(ctx, q, id)
	if err != nil {
		return Transfer{}, err
	}
	t.Lines = lines
	return t, nil
}

func loadTransferLines(ctx context.Context, q querier, transferID int64) ([]TransferLine, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, product_id, quantity FROM transfer_lines WHERE transfer_id = $1 ORDER BY id`, transferID)
	if err != nil {
		return nil, fmt.Errorf("inventory: transfer lines: %w", err)
	}
	defer rows.Close()

	var lines []TransferLine
	for rows.Next() {
		var l TransferLine
		if err := rows.Scan(&l.ID, &l.TransferID, &l.ProductID, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepo) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
INSERT INTO product_batches (product_id, warehouse_id, quantity, remaining_qty, base_unit,
       manufacture_date, expiry_date, origin_invoice_id, origin_transfer_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, 0), NOW())
RETURNING id`,
		b.ProductID, b.WarehouseID, b.Quantity, b.RemainingQty, b.BaseUnit,
		b.ManufactureDate, b.ExpiryDate, b.OriginInvoiceID, b.OriginTransferID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inventory: insert batch: %w", err)
	}
	return id, nil
}

func (r *txRepo) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx, getBatchQuery+` FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, shared.ErrNotFound
	}
	return b, err
}

// SelectDrainableBatches locks every non-empty batch for the product in
// the warehouse, ordered for first-expiry-first-out consumption. Transfers
// move whatever physically sits on the shelf, expired stock included.
func (r *txRepo) SelectDrainableBatches(ctx context.Context, productID, warehouseID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `
SELECT `+batchColumns+`
FROM product_batches
WHERE product_id = $1 AND warehouse_id = $2 AND remaining_qty > 0
ORDER BY expiry_date, id
FOR UPDATE`, productID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("inventory: select drainable: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

// SelectRestorableBatches locks every batch for the product in the
// warehouse regardless of remaining quantity, expiry-ordered, for the
// spare-capacity credit walk.
func (r *txRepo) SelectRestorableBatches(ctx context.Context, productID, warehouseID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `
SELECT `+batchColumns+`
FROM product_batches
WHERE product_id = $1 AND warehouse_id = $2
ORDER BY expiry_date, id
FOR UPDATE`, productID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("inventory: select restorable: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (r *txRepo) DecrementBatch(ctx context.Context, id, qty int64) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE product_batches
SET remaining_qty = remaining_qty - $2
WHERE id = $1 AND remaining_qty >= $2`, id, qty)
	if err != nil {
		return fmt.Errorf("inventory: decrement batch %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInsufficientStock
	}
	return nil
}

func (r *txRepo) CreditBatch(ctx context.Context, id, qty int64) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE product_batches
SET remaining_qty = remaining_qty + $2
WHERE id = $1 AND remaining_qty + $2 <= quantity`, id, qty)
	if err != nil {
		return fmt.Errorf("inventory: credit batch %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory: credit batch %d: %w", id, shared.ErrStateConflict)
	}
	return nil
}

func (r *txRepo) UpdateBatch(ctx context.Context, b Batch) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE product_batches
SET quantity = $2, remaining_qty = $3, manufacture_date = $4, expiry_date = $5
WHERE id = $1`, b.ID, b.Quantity, b.RemainingQty, b.ManufactureDate, b.ExpiryDate)
	if err != nil {
		return fmt.Errorf("inventory: update batch %d: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) DeleteBatch(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM product_batches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("inventory: delete batch %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
INSERT INTO transfers (source_id, destination_id, status, note, created_at)
VALUES ($1, $2, $3, $4, NOW())
RETURNING id`, t.SourceID, t.DestinationID, t.Status, t.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inventory: insert transfer: %w", err)
	}
	for _, line := range t.Lines {
		_, err := r.tx.Exec(ctx, `
INSERT INTO transfer_lines (transfer_id, product_id, quantity)
VALUES ($1, $2, $3)`, id, line.ProductID, line.Quantity)
		if err != nil {
			return 0, fmt.Errorf("inventory: insert transfer line: %w", err)
		}
	}
	return id, nil
}

func (r *txRepo) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	return loadTransfer(ctx, r.tx, id, ` FOR UPDATE`)
}

func (r *txRepo) SetTransferStatus(ctx context.Context, id int64, status TransferStatus, completedAt *time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE transfers SET status = $2, completed_at = $3 WHERE id = $1`, id, status, completedAt)
	if err != nil {
		return fmt.Errorf("inventory: set transfer status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) DeleteTransfer(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM transfer_lines WHERE transfer_id = $1`, id); err != nil {
		return fmt.Errorf("inventory: delete transfer lines: %w", err)
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM transfers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("inventory: delete transfer %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) CountBatchesForTransfer(ctx context.Context, transferID int64) (int64, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM product_batches WHERE origin_transfer_id = $1`, transferID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("inventory: count transfer batches: %w", err)
	}
	return n, nil
}

func (r *txRepo) ListBatchesForTransfer(ctx context.Context, transferID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `
SELECT `+batchColumns+`
FROM product_batches
WHERE origin_transfer_id = $1
ORDER BY id
FOR UPDATE`, transferID)
	if err != nil {
		return nil, fmt.Errorf("inventory: transfer batches: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ProductID, &b.WarehouseID, &b.Quantity, &b.RemainingQty, &b.BaseUnit,
		&b.ManufactureDate, &b.ExpiryDate, &b.OriginInvoiceID, &b.OriginTransferID, &b.CreatedAt)
	return b, err
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
