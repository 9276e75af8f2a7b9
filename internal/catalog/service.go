package catalog

import (
	"context"
	"fmt"
	"log/slog"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ListFilter) ([]Product, error)
	ListProductIDs(ctx context.Context) ([]int64, error)
	StockSummary(ctx context.Context, productID, warehouseID int64) (StockSummary, error)
	UpdateStockSummary(ctx context.Context, s StockSummary) error
}

// Service coordinates catalog lookups, unit conversion and the stock
// summary recompute.
type Service struct {
	repo RepositoryPort
	// referenceWarehouseID selects which warehouse ledger backs the
	// denormalised stock summary shown on product listings.
	referenceWarehouseID int64
	logger               *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, referenceWarehouseID int64, logger *slog.Logger) *Service {
	return &Service{repo: repo, referenceWarehouseID: referenceWarehouseID, logger: logger}
}

// Get returns one product with variants.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// List returns a filtered page of products.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

// ConvertToBase resolves the product and translates the sale quantity.
func (s *Service) ConvertToBase(ctx context.Context, productID, quantity int64, unit string) (Conversion, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Conversion{}, err
	}
	return ConvertToBase(product, quantity, unit)
}

// RecomputeStockSummary refreshes one product's denormalised summary from
// the reference warehouse ledger.
func (s *Service) RecomputeStockSummary(ctx context.Context, productID int64) error {
	summary, err := s.repo.StockSummary(ctx, productID, s.referenceWarehouseID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStockSummary(ctx, summary); err != nil {
		return fmt.Errorf("catalog: recompute product %d: %w", productID, err)
	}
	return nil
}

// RecomputeAll walks every product. Individual failures are logged and do
// not abort the walk, so a single deleted product cannot wedge the nightly
// job.
func (s *Service) RecomputeAll(ctx context.Context) error {
	ids, err := s.repo.ListProductIDs(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, id := range ids {
		if err := s.RecomputeStockSummary(ctx, id); err != nil {
			failed++
			if s.logger != nil {
				s.logger.Warn("stock summary recompute failed",
					slog.Int64("product_id", id), slog.Any("error", err))
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("catalog: recompute all: %d of %d products failed", failed, len(ids))
	}
	return nil
}
