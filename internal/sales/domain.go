package sales

import "time"

// InvoiceStatus enumerates the order lifecycle. Cancelled is terminal;
// restoration must never run twice for the same invoice.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCompleted InvoiceStatus = "completed"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// SaleInvoice aggregates one customer order. TotalBill is recomputed on
// the server from line totals; client-supplied totals are ignored.
type SaleInvoice struct {
	ID          int64
	CustomerID  int64
	WarehouseID int64
	Status      InvoiceStatus
	TotalBill   float64
	Note        string
	Lines       []SaleLine
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SaleLine records one draw from one batch. A cart line spanning several
// batches produces several SaleLines. Quantity is base units; UnitPrice is
// per base unit.
type SaleLine struct {
	ID         int64
	InvoiceID  int64
	ProductID  int64
	BatchID    int64
	Quantity   int64
	UnitPrice  float64
	TotalPrice float64
}

// CartLine is one requested item, in whatever sale unit the customer
// picked. UnitPrice is the price per that unit.
type CartLine struct {
	ProductID int64
	Quantity  int64
	Unit      string
	UnitPrice float64
}

// CreateOrderInput carries a whole cart. WarehouseID zero means the
// configured reference warehouse (online sales).
type CreateOrderInput struct {
	CustomerID  int64
	WarehouseID int64
	Note        string
	Lines       []CartLine
	ActorID     int64
}

// OrderFilter narrows invoice listings.
type OrderFilter struct {
	CustomerID int64
	Status     InvoiceStatus
	Limit      int
	Offset     int
}
