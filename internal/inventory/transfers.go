package inventory

import (
	"context"
	"time"

	"github.com/vitacare-erp/vitacare/internal/shared"
)

func validateTransferInput(in CreateTransferInput) error {
	switch {
	case in.SourceID <= 0 || in.DestinationID <= 0:
		return shared.NewValidation("warehouse", "source and destination required")
	case in.SourceID == in.DestinationID:
		return shared.NewValidation("warehouse", "source and destination must differ")
	case len(in.Lines) == 0:
		return shared.NewValidation("lines", "at least one line required")
	}
	for _, line := range in.Lines {
		if line.ProductID <= 0 {
			return shared.NewValidation("product_id", "required")
		}
		if line.Quantity <= 0 {
			return shared.NewValidation("quantity", "must be positive")
		}
	}
	return nil
}

// CreateTransfer opens a pending transfer after checking that the source
// warehouse currently holds enough stock. Nothing is reserved here, so two
// pending transfers can claim the same stock; completion re-validates and
// rejects the loser.
func (s *Service) CreateTransfer(ctx context.Context, in CreateTransferInput) (Transfer, error) {
	if err := validateTransferInput(in); err != nil {
		return Transfer{}, err
	}
	for _, line := range in.Lines {
		available, err := s.availableStock(ctx, line.ProductID, in.SourceID)
		if err != nil {
			return Transfer{}, err
		}
		if available < line.Quantity {
			return Transfer{}, &shared.InsufficientStockError{
				ProductID: line.ProductID,
				Required:  line.Quantity,
				Available: available,
			}
		}
	}

	transfer := Transfer{
		SourceID:      in.SourceID,
		DestinationID: in.DestinationID,
		Status:        TransferPending,
		Note:          in.Note,
	}
	for _, line := range in.Lines {
		transfer.Lines = append(transfer.Lines, TransferLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertTransfer(ctx, transfer)
		if err != nil {
			return err
		}
		transfer.ID = id
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}

	s.recordAudit(ctx, in.ActorID, "transfer.create", "transfer", transfer.ID, map[string]any{
		"source": in.SourceID, "destination": in.DestinationID, "lines": len(in.Lines),
	})
	return s.repo.GetTransfer(ctx, transfer.ID)
}

// CompleteTransfer moves the stock. Source batches are drained earliest
// expiry first, expired stock included; each drained batch yields a
// destination batch carrying the same dates and base unit, tagged with the
// transfer id. The availability check at creation may have gone stale by
// now, so a shortage here is a normal outcome, not a bug.
func (s *Service) CompleteTransfer(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	var (
		completed Transfer
		products  []int64
		moved     int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if transfer.Status != TransferPending {
			return shared.ErrStateConflict
		}

		now := time.Now()
		for _, line := range transfer.Lines {
			batches, err := tx.SelectDrainableBatches(ctx, line.ProductID, transfer.SourceID)
			if err != nil {
				return err
			}
			allocations, shortage := Allocate(batches, line.Quantity)
			if shortage > 0 {
				return &shared.InsufficientStockError{
					ProductID: line.ProductID,
					Required:  line.Quantity,
					Available: line.Quantity - shortage,
				}
			}
			for _, alloc := range allocations {
				if err := tx.DecrementBatch(ctx, alloc.Batch.ID, alloc.Qty); err != nil {
					return err
				}
				_, err := tx.InsertBatch(ctx, Batch{
					ProductID:        line.ProductID,
					WarehouseID:      transfer.DestinationID,
					Quantity:         alloc.Qty,
					RemainingQty:     alloc.Qty,
					BaseUnit:         alloc.Batch.BaseUnit,
					ManufactureDate:  alloc.Batch.ManufactureDate,
					ExpiryDate:       alloc.Batch.ExpiryDate,
					OriginTransferID: transfer.ID,
				})
				if err != nil {
					return err
				}
				moved++
			}
			products = append(products, line.ProductID)
		}

		if err := tx.SetTransferStatus(ctx, transfer.ID, TransferCompleted, &now); err != nil {
			return err
		}
		transfer.Status = TransferCompleted
		transfer.CompletedAt = &now
		completed = transfer
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}

	s.metrics.BatchesAllocated(moved)
	s.recordAudit(ctx, actorID, "transfer.complete", "transfer", completed.ID, map[string]any{
		"batches_created": moved,
	})
	s.afterMutation(ctx, products, []int64{completed.SourceID, completed.DestinationID})
	return completed, nil
}

// CancelTransfer closes a pending transfer. No stock ever moved, so there
// is nothing to restore.
func (s *Service) CancelTransfer(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	var cancelled Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if transfer.Status != TransferPending {
			return shared.ErrStateConflict
		}
		if err := tx.SetTransferStatus(ctx, transfer.ID, TransferCancelled, nil); err != nil {
			return err
		}
		transfer.Status = TransferCancelled
		cancelled = transfer
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, "transfer.cancel", "transfer", cancelled.ID, nil)
	return cancelled, nil
}

// DeleteTransfer removes a transfer record. Deleting a completed transfer
// first unwinds every batch it created: each destination batch's remaining
// quantity is credited back to the source warehouse and the batch removed.
func (s *Service) DeleteTransfer(ctx context.Context, transferID, actorID int64) error {
	var (
		products    []int64
		warehouses  []int64
		restoredQty int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		warehouses = []int64{transfer.SourceID, transfer.DestinationID}

		if transfer.Status == TransferCompleted {
			created, err := tx.ListBatchesForTransfer(ctx, transfer.ID)
			if err != nil {
				return err
			}
			for _, b := range created {
				if b.RemainingQty > 0 {
					if err := restoreToWarehouse(ctx, tx, b, transfer.SourceID); err != nil {
						return err
					}
					restoredQty += b.RemainingQty
				}
				if err := tx.DeleteBatch(ctx, b.ID); err != nil {
					return err
				}
				products = append(products, b.ProductID)
			}
		}
		return tx.DeleteTransfer(ctx, transfer.ID)
	})
	if err != nil {
		return err
	}

	s.metrics.StockRestored(restoredQty)
	s.recordAudit(ctx, actorID, "transfer.delete", "transfer", transferID, map[string]any{
		"restored": restoredQty,
	})
	s.afterMutation(ctx, products, warehouses)
	return nil
}

// GetTransfer loads one transfer with lines.
func (s *Service) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// ListTransfers returns transfers, optionally filtered by status.
func (s *Service) ListTransfers(ctx context.Context, status TransferStatus, limit, offset int) ([]Transfer, error) {
	return s.repo.ListTransfers(ctx, status, limit, offset)
}

// availableStock sums remaining quantity over a product's batches in one
// warehouse without taking locks.
func (s *Service) availableStock(ctx context.Context, productID, warehouseID int64) (int64, error) {
	batches, err := s.repo.ListBatches(ctx, BatchFilter{
		ProductID:   productID,
		WarehouseID: warehouseID,
		OnlyInStock: true,
	})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, b := range batches {
		total += b.RemainingQty
	}
	return total, nil
}
