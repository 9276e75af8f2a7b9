package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitacare-erp/vitacare/internal/observability"
	"github.com/vitacare-erp/vitacare/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	WarehouseStock(ctx context.Context, warehouseID int64) ([]WarehouseStockEntry, error)
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, status TransferStatus, limit, offset int) ([]Transfer, error)
}

// UnitConverter translates sale-unit quantities into base units.
type UnitConverter interface {
	ConvertToBase(ctx context.Context, productID, quantity int64, unit string) (baseQty int64, baseUnit string, err error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RecomputeQueue schedules stock summary recomputes after a commit.
type RecomputeQueue interface {
	EnqueueRecompute(ctx context.Context, productIDs ...int64) error
}

// Service coordinates ledger mutations. Every multi-row write runs inside
// one repository transaction.
type Service struct {
	repo      RepositoryPort
	converter UnitConverter
	audit     AuditPort
	recompute RecomputeQueue
	cache     *WarehouseStockCache
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, converter UnitConverter, audit AuditPort, recompute RecomputeQueue, cache *WarehouseStockCache, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		converter: converter,
		audit:     audit,
		recompute: recompute,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
	}
}

func validateBatchInput(in CreateBatchInput) error {
	switch {
	case in.ProductID <= 0:
		return shared.NewValidation("product_id", "required")
	case in.WarehouseID <= 0:
		return shared.NewValidation("warehouse_id", "required")
	case in.Quantity <= 0:
		return shared.NewValidation("quantity", "must be positive")
	case in.ManufactureDate.IsZero() || in.ExpiryDate.IsZero():
		return shared.NewValidation("dates", "manufacture and expiry dates required")
	case !in.ExpiryDate.After(in.ManufactureDate):
		return shared.NewValidation("expiry_date", "must be after manufacture date")
	}
	return nil
}

// CreateBatch receives one goods receipt into the ledger.
func (s *Service) CreateBatch(ctx context.Context, in CreateBatchInput) (Batch, error) {
	batches, err := s.BulkCreateBatches(ctx, []CreateBatchInput{in})
	if err != nil {
		return Batch{}, err
	}
	return batches[0], nil
}

// BulkCreateBatches receives several batches in one transaction, grouped
// under a shared origin invoice id.
func (s *Service) BulkCreateBatches(ctx context.Context, inputs []CreateBatchInput) ([]Batch, error) {
	if len(inputs) == 0 {
		return nil, shared.NewValidation("batches", "at least one batch required")
	}
	for _, in := range inputs {
		if err := validateBatchInput(in); err != nil {
			return nil, err
		}
	}

	invoiceID := uuid.NewString()
	batches := make([]Batch, 0, len(inputs))
	for _, in := range inputs {
		baseQty, baseUnit, err := s.converter.ConvertToBase(ctx, in.ProductID, in.Quantity, in.Unit)
		if err != nil {
			return nil, err
		}
		batches = append(batches, Batch{
			ProductID:       in.ProductID,
			WarehouseID:     in.WarehouseID,
			Quantity:        baseQty,
			RemainingQty:    baseQty,
			BaseUnit:        baseUnit,
			ManufactureDate: in.ManufactureDate,
			ExpiryDate:      in.ExpiryDate,
			OriginInvoiceID: invoiceID,
		})
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i := range batches {
			id, err := tx.InsertBatch(ctx, batches[i])
			if err != nil {
				return err
			}
			batches[i].ID = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, b := range batches {
		s.recordAudit(ctx, inputs[i].ActorID, "batch.create", "product_batch", b.ID, map[string]any{
			"product_id": b.ProductID, "quantity": b.Quantity, "invoice_id": invoiceID,
		})
	}
	s.afterMutation(ctx, productIDs(batches), warehouseIDs(batches))
	return batches, nil
}

// UpdateBatch adjusts dates or the received quantity. A quantity change
// shifts remaining by the same delta and may not push it below zero.
func (s *Service) UpdateBatch(ctx context.Context, in UpdateBatchInput) (Batch, error) {
	if in.BatchID <= 0 {
		return Batch{}, shared.NewValidation("batch_id", "required")
	}
	var updated Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, in.BatchID)
		if err != nil {
			return err
		}
		if in.ManufactureDate != nil {
			b.ManufactureDate = *in.ManufactureDate
		}
		if in.ExpiryDate != nil {
			b.ExpiryDate = *in.ExpiryDate
		}
		if !b.ExpiryDate.After(b.ManufactureDate) {
			return shared.NewValidation("expiry_date", "must be after manufacture date")
		}
		if in.Quantity != nil {
			delta := *in.Quantity - b.Quantity
			if *in.Quantity <= 0 {
				return shared.NewValidation("quantity", "must be positive")
			}
			if b.RemainingQty+delta < 0 {
				return shared.NewValidation("quantity", "reduction exceeds remaining stock")
			}
			b.Quantity = *in.Quantity
			b.RemainingQty += delta
		}
		if err := tx.UpdateBatch(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	s.recordAudit(ctx, in.ActorID, "batch.update", "product_batch", updated.ID, map[string]any{
		"quantity": updated.Quantity, "remaining": updated.RemainingQty,
	})
	s.afterMutation(ctx, []int64{updated.ProductID}, []int64{updated.WarehouseID})
	return updated, nil
}

// DeleteBatch removes a batch. When the batch was created by a completed
// transfer, its remaining quantity goes back to the source warehouse:
// existing batches there absorb it up to their spare capacity, earliest
// expiry first, and anything left over lands in a fresh batch carrying the
// deleted batch's dates. The transfer record itself is removed once no
// batch references it.
func (s *Service) DeleteBatch(ctx context.Context, batchID, actorID int64) error {
	if batchID <= 0 {
		return shared.NewValidation("batch_id", "required")
	}
	var (
		deleted      Batch
		touchedWh    []int64
		restoredQty  int64
		transferGone bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		deleted = b
		touchedWh = []int64{b.WarehouseID}

		if b.OriginTransferID != 0 && b.RemainingQty > 0 {
			transfer, err := tx.GetTransferForUpdate(ctx, b.OriginTransferID)
			if err != nil {
				return err
			}
			if err := restoreToWarehouse(ctx, tx, b, transfer.SourceID); err != nil {
				return err
			}
			restoredQty = b.RemainingQty
			touchedWh = append(touchedWh, transfer.SourceID)
		}
		if err := tx.DeleteBatch(ctx, b.ID); err != nil {
			return err
		}
		if b.OriginTransferID != 0 {
			n, err := tx.CountBatchesForTransfer(ctx, b.OriginTransferID)
			if err != nil {
				return err
			}
			if n == 0 {
				if err := tx.DeleteTransfer(ctx, b.OriginTransferID); err != nil {
					return err
				}
				transferGone = true
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.StockRestored(restoredQty)
	s.recordAudit(ctx, actorID, "batch.delete", "product_batch", deleted.ID, map[string]any{
		"product_id": deleted.ProductID, "restored": restoredQty, "transfer_deleted": transferGone,
	})
	s.afterMutation(ctx, []int64{deleted.ProductID}, touchedWh)
	return nil
}

// restoreToWarehouse credits the batch's remaining quantity back into the
// given warehouse inside the current transaction.
func restoreToWarehouse(ctx context.Context, tx TxRepository, b Batch, warehouseID int64) error {
	targets, err := tx.SelectRestorableBatches(ctx, b.ProductID, warehouseID)
	if err != nil {
		return err
	}
	credits, leftover := PlanRestore(targets, b.RemainingQty)
	for _, c := range credits {
		if err := tx.CreditBatch(ctx, c.Batch.ID, c.Qty); err != nil {
			return err
		}
	}
	if leftover > 0 {
		_, err := tx.InsertBatch(ctx, Batch{
			ProductID:       b.ProductID,
			WarehouseID:     warehouseID,
			Quantity:        leftover,
			RemainingQty:    leftover,
			BaseUnit:        b.BaseUnit,
			ManufactureDate: b.ManufactureDate,
			ExpiryDate:      b.ExpiryDate,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// GetBatch loads one batch.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// ListBatches returns a filtered ledger listing.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	return s.repo.ListBatches(ctx, filter)
}

// GetWarehouseStock aggregates the warehouse ledger, served through the
// short-lived cache when one is configured.
func (s *Service) GetWarehouseStock(ctx context.Context, warehouseID int64) ([]WarehouseStockEntry, error) {
	if warehouseID <= 0 {
		return nil, shared.NewValidation("warehouse_id", "required")
	}
	if s.cache == nil {
		return s.repo.WarehouseStock(ctx, warehouseID)
	}
	return s.cache.Get(ctx, warehouseID, func(ctx context.Context) ([]WarehouseStockEntry, error) {
		return s.repo.WarehouseStock(ctx, warehouseID)
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       time.Now(),
	}
	if err := s.audit.Record(ctx, log); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// afterMutation schedules summary recomputes and drops stale warehouse
// cache entries. Both are best effort; the ledger is already committed.
func (s *Service) afterMutation(ctx context.Context, products, warehouses []int64) {
	if s.recompute != nil && len(products) > 0 {
		if err := s.recompute.EnqueueRecompute(ctx, products...); err != nil && s.logger != nil {
			s.logger.Warn("recompute enqueue failed", slog.Any("error", err))
		}
	}
	if s.cache != nil {
		for _, wh := range warehouses {
			s.cache.Invalidate(ctx, wh)
		}
	}
}

func productIDs(batches []Batch) []int64 {
	seen := make(map[int64]struct{}, len(batches))
	var ids []int64
	for _, b := range batches {
		if _, ok := seen[b.ProductID]; !ok {
			seen[b.ProductID] = struct{}{}
			ids = append(ids, b.ProductID)
		}
	}
	return ids
}

func warehouseIDs(batches []Batch) []int64 {
	seen := make(map[int64]struct{}, len(batches))
	var ids []int64
	for _, b := range batches {
		if _, ok := seen[b.WarehouseID]; !ok {
			seen[b.WarehouseID] = struct{}{}
			ids = append(ids, b.WarehouseID)
		}
	}
	return ids
}
