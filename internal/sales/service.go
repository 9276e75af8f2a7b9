package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitacare-erp/vitacare/internal/inventory"
	"github.com/vitacare-erp/vitacare/internal/observability"
	"github.com/vitacare-erp/vitacare/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (SaleInvoice, error)
	ListInvoices(ctx context.Context, filter OrderFilter) ([]SaleInvoice, error)
}

// Conversion is the unit translation a cart line needs.
type Conversion struct {
	ProductName  string
	BaseUnit     string
	Ratio        int64
	BaseQuantity int64
}

// Converter resolves sale units against the product catalog.
type Converter interface {
	Convert(ctx context.Context, productID, quantity int64, unit string) (Conversion, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RecomputeQueue schedules stock summary recomputes after a commit.
type RecomputeQueue interface {
	EnqueueRecompute(ctx context.Context, productIDs ...int64) error
}

// Service runs order fulfillment and stock restoration.
type Service struct {
	repo      RepositoryPort
	converter Converter
	audit     AuditPort
	recompute RecomputeQueue
	metrics   *observability.Metrics
	logger    *slog.Logger
	// referenceWarehouseID backs online orders that name no warehouse.
	referenceWarehouseID int64
}

// NewService builds Service.
func NewService(repo RepositoryPort, converter Converter, audit AuditPort, recompute RecomputeQueue, metrics *observability.Metrics, logger *slog.Logger, referenceWarehouseID int64) *Service {
	return &Service{
		repo:                 repo,
		converter:            converter,
		audit:                audit,
		recompute:            recompute,
		metrics:              metrics,
		logger:               logger,
		referenceWarehouseID: referenceWarehouseID,
	}
}

type fulfillmentLine struct {
	cart      CartLine
	baseQty   int64
	baseUnit  string
	basePrice float64
	name      string
}

// CreateOrder fulfills a whole cart atomically. Every line is checked for
// availability before any batch is touched; a shortfall on any line aborts
// the entire order. Batches drain earliest expiry first and each
// (line, batch) draw becomes one SaleLine.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (SaleInvoice, error) {
	if len(in.Lines) == 0 {
		return SaleInvoice{}, shared.NewValidation("lines", "cart is empty")
	}
	warehouseID := in.WarehouseID
	if warehouseID == 0 {
		warehouseID = s.referenceWarehouseID
	}
	if warehouseID <= 0 {
		return SaleInvoice{}, shared.NewValidation("warehouse_id", "no warehouse resolved")
	}

	lines := make([]fulfillmentLine, 0, len(in.Lines))
	for _, cart := range in.Lines {
		if cart.Quantity <= 0 {
			return SaleInvoice{}, shared.NewValidation("quantity", "must be positive")
		}
		if cart.UnitPrice < 0 {
			return SaleInvoice{}, shared.NewValidation("unit_price", "must not be negative")
		}
		conv, err := s.converter.Convert(ctx, cart.ProductID, cart.Quantity, cart.Unit)
		if err != nil {
			return SaleInvoice{}, err
		}
		lines = append(lines, fulfillmentLine{
			cart:      cart,
			baseQty:   conv.BaseQuantity,
			baseUnit:  conv.BaseUnit,
			basePrice: cart.UnitPrice / float64(conv.Ratio),
			name:      conv.ProductName,
		})
	}

	var invoice SaleInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := time.Now()

		// First pass: lock and verify every line before mutating anything.
		// Lines are planned against a view that subtracts what earlier
		// lines already claimed, so a cart may list the same product twice.
		taken := make(map[int64]int64)
		allocations := make([][]inventory.Allocation, len(lines))
		for i, line := range lines {
			batches, err := tx.SelectAllocatableBatches(ctx, line.cart.ProductID, warehouseID, now)
			if err != nil {
				return err
			}
			view := make([]inventory.Batch, 0, len(batches))
			for _, b := range batches {
				b.RemainingQty -= taken[b.ID]
				if b.RemainingQty > 0 {
					view = append(view, b)
				}
			}
			allocs, shortage := inventory.Allocate(view, line.baseQty)
			if shortage > 0 {
				return &shared.InsufficientStockError{
					ProductID:   line.cart.ProductID,
					ProductName: line.name,
					Unit:        line.baseUnit,
					Required:    line.baseQty,
					Available:   line.baseQty - shortage,
				}
			}
			for _, a := range allocs {
				taken[a.Batch.ID] += a.Qty
			}
			allocations[i] = allocs
		}

		// Second pass: apply the plan.
		var saleLines []SaleLine
		var total float64
		for i, line := range lines {
			for _, alloc := range allocations[i] {
				if err := tx.DecrementBatch(ctx, alloc.Batch.ID, alloc.Qty); err != nil {
					return err
				}
				lineTotal := float64(alloc.Qty) * line.basePrice
				saleLines = append(saleLines, SaleLine{
					ProductID:  line.cart.ProductID,
					BatchID:    alloc.Batch.ID,
					Quantity:   alloc.Qty,
					UnitPrice:  line.basePrice,
					TotalPrice: lineTotal,
				})
				total += lineTotal
			}
		}

		invoice = SaleInvoice{
			CustomerID:  in.CustomerID,
			WarehouseID: warehouseID,
			Status:      InvoicePending,
			TotalBill:   total,
			Note:        in.Note,
		}
		id, err := tx.InsertInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		invoice.ID = id
		for i := range saleLines {
			saleLines[i].InvoiceID = id
		}
		if err := tx.InsertLines(ctx, id, saleLines); err != nil {
			return err
		}
		invoice.Lines = saleLines
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientStock) {
			s.metrics.OrderShortage()
		}
		return SaleInvoice{}, err
	}

	s.metrics.OrderFulfilled()
	s.metrics.BatchesAllocated(len(invoice.Lines))
	s.recordAudit(ctx, in.ActorID, "order.create", invoice.ID, map[string]any{
		"total": invoice.TotalBill, "lines": len(invoice.Lines),
	})
	s.afterMutation(ctx, invoice.Lines)
	return invoice, nil
}

// restoreLines credits every sale line back to its batch. Vanished
// batches are logged and skipped. The walk itself is not idempotent, so
// callers gate on invoice status before invoking it.
func (s *Service) restoreLines(ctx context.Context, tx TxRepository, inv SaleInvoice) int64 {
	var restored int64
	for _, line := range inv.Lines {
		ok, err := tx.CreditBatch(ctx, line.BatchID, line.Quantity)
		if err != nil || !ok {
			if s.logger != nil {
				s.logger.Warn("restore skipped batch",
					slog.Int64("invoice_id", inv.ID),
					slog.Int64("batch_id", line.BatchID),
					slog.Any("error", err))
			}
			continue
		}
		restored += line.Quantity
	}
	return restored
}

// RestoreStockForOrder runs the credit walk without touching the invoice
// status. It double-credits if called twice for the same order, so every
// caller must gate on status first; prefer CancelOrder unless the invoice
// record has to stay untouched.
func (s *Service) RestoreStockForOrder(ctx context.Context, orderID int64) (int64, error) {
	var (
		restored int64
		invoice  SaleInvoice
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		restored = s.restoreLines(ctx, tx, inv)
		invoice = inv
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.metrics.StockRestored(restored)
	s.afterMutation(ctx, invoice.Lines)
	return restored, nil
}

// CancelOrder cancels a pending or paid invoice and restores its stock in
// the same transaction.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID int64) (SaleInvoice, error) {
	var (
		cancelled SaleInvoice
		restored  int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceCancelled || inv.Status == InvoiceCompleted {
			return shared.ErrStateConflict
		}
		restored = s.restoreLines(ctx, tx, inv)
		if err := tx.SetInvoiceStatus(ctx, inv.ID, InvoiceCancelled); err != nil {
			return err
		}
		inv.Status = InvoiceCancelled
		cancelled = inv
		return nil
	})
	if err != nil {
		return SaleInvoice{}, err
	}

	s.metrics.StockRestored(restored)
	s.recordAudit(ctx, actorID, "order.cancel", cancelled.ID, map[string]any{"restored": restored})
	s.afterMutation(ctx, cancelled.Lines)
	return cancelled, nil
}

// DeleteOrder removes an invoice entirely. Stock is restored first unless
// a cancellation already did.
func (s *Service) DeleteOrder(ctx context.Context, orderID, actorID int64) error {
	var (
		deleted  SaleInvoice
		restored int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceCancelled {
			restored = s.restoreLines(ctx, tx, inv)
		}
		if err := tx.DeleteInvoice(ctx, inv.ID); err != nil {
			return err
		}
		deleted = inv
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.StockRestored(restored)
	s.recordAudit(ctx, actorID, "order.delete", deleted.ID, map[string]any{"restored": restored})
	s.afterMutation(ctx, deleted.Lines)
	return nil
}

// MarkPaid moves a pending invoice to paid.
func (s *Service) MarkPaid(ctx context.Context, orderID int64) (SaleInvoice, error) {
	var paid SaleInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if inv.Status != InvoicePending {
			return shared.ErrStateConflict
		}
		if err := tx.SetInvoiceStatus(ctx, inv.ID, InvoicePaid); err != nil {
			return err
		}
		inv.Status = InvoicePaid
		paid = inv
		return nil
	})
	if err != nil {
		return SaleInvoice{}, err
	}
	s.recordAudit(ctx, 0, "order.paid", paid.ID, nil)
	return paid, nil
}

// GetOrder loads one invoice.
func (s *Service) GetOrder(ctx context.Context, id int64) (SaleInvoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListOrders returns a filtered invoice page.
func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]SaleInvoice, error) {
	return s.repo.ListInvoices(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, invoiceID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sale_invoice",
		EntityID: fmt.Sprintf("%d", invoiceID),
		Meta:     meta,
		At:       time.Now(),
	}
	if err := s.audit.Record(ctx, log); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) afterMutation(ctx context.Context, lines []SaleLine) {
	if s.recompute == nil || len(lines) == 0 {
		return
	}
	seen := make(map[int64]struct{}, len(lines))
	var ids []int64
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; !ok {
			seen[l.ProductID] = struct{}{}
			ids = append(ids, l.ProductID)
		}
	}
	if err := s.recompute.EnqueueRecompute(ctx, ids...); err != nil && s.logger != nil {
		s.logger.Warn("recompute enqueue failed", slog.Any("error", err))
	}
}
