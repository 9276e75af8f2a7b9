package inventory

import "time"

// Batch is one discrete receipt of stock. Quantity and RemainingQty are
// always base units; 0 <= RemainingQty <= Quantity holds at all times.
type Batch struct {
	ID               int64
	ProductID        int64
	WarehouseID      int64
	Quantity         int64
	RemainingQty     int64
	BaseUnit         string
	ManufactureDate  time.Time
	ExpiryDate       time.Time
	OriginInvoiceID  string
	OriginTransferID int64
	CreatedAt        time.Time
}

// TransferStatus enumerates the transfer lifecycle. Pending is the only
// state a transition is allowed from.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

// Transfer moves stock between two warehouses.
type Transfer struct {
	ID            int64
	SourceID      int64
	DestinationID int64
	Status        TransferStatus
	Note          string
	Lines         []TransferLine
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// TransferLine is one product quantity within a transfer, in base units.
type TransferLine struct {
	ID         int64
	TransferID int64
	ProductID  int64
	Quantity   int64
}

// CreateBatchInput carries one goods receipt. Quantity arrives in the
// caller's chosen sale unit and is converted before insert.
type CreateBatchInput struct {
	ProductID       int64
	WarehouseID     int64
	Quantity        int64
	Unit            string
	ManufactureDate time.Time
	ExpiryDate      time.Time
	ActorID         int64
}

// UpdateBatchInput adjusts batch metadata or its received quantity. A
// quantity change shifts RemainingQty by the same delta.
type UpdateBatchInput struct {
	BatchID         int64
	Quantity        *int64
	ManufactureDate *time.Time
	ExpiryDate      *time.Time
	ActorID         int64
}

// CreateTransferInput opens a pending transfer. Line quantities are in
// base units.
type CreateTransferInput struct {
	SourceID      int64
	DestinationID int64
	Note          string
	Lines         []TransferLineInput
	ActorID       int64
}

// TransferLineInput is one requested product movement.
type TransferLineInput struct {
	ProductID int64
	Quantity  int64
}

// WarehouseStockEntry aggregates one product's ledger position in a
// warehouse, computed directly from batches.
type WarehouseStockEntry struct {
	ProductID     int64
	TotalQty      int64
	BatchCount    int
	NearestExpiry *time.Time
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID   int64
	WarehouseID int64
	OnlyInStock bool
	Limit       int
	Offset      int
}
