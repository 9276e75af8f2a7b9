package catalog

import "time"

// UnitVariant is one sellable presentation of a product. The variant with
// ratio 1 is the base unit; every other ratio counts base units per pack.
type UnitVariant struct {
	ID        int64
	ProductID int64
	Unit      string
	Ratio     int64
	Price     float64
	Position  int
}

// Product is a catalog entry together with its unit variants. Products
// without variants track stock in DefaultUnit with ratio 1.
type Product struct {
	ID          int64
	SKU         string
	Name        string
	Category    string
	DefaultUnit string
	Price       float64
	Variants    []UnitVariant
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Denormalised ledger summary, maintained by the recompute job.
	StockBaseQty  int64
	NearestExpiry *time.Time
}

// Conversion is the result of translating a sale quantity into base units.
type Conversion struct {
	ProductID    int64
	ProductName  string
	Unit         string
	BaseUnit     string
	Ratio        int64
	BaseQuantity int64
	UnitPrice    float64
}

// StockSummary is the aggregate a recompute derives from the batch ledger.
type StockSummary struct {
	ProductID     int64
	TotalBaseQty  int64
	NearestExpiry *time.Time
}

// ListFilter narrows product listings.
type ListFilter struct {
	Search   string
	Category string
	Limit    int
	Offset   int
}
