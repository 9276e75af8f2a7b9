package sales

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitacare-erp/vitacare/internal/inventory"
	"github.com/vitacare-erp/vitacare/internal/shared"
)

// expireIn pins batch expiry relative to the test run; the ledger only
// allocates batches whose expiry lies after time.Now().
func expireIn(days int) time.Time {
	return time.Now().AddDate(0, 0, days)
}

// memRepo is an in-memory invoice store plus batch ledger implementing
// RepositoryPort and TxRepository. WithTx rolls back on error.
type memRepo struct {
	invoices    map[int64]*SaleInvoice
	batches     map[int64]*inventory.Batch
	nextInvoice int64
	nextLine    int64
	nextBatch   int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		invoices: make(map[int64]*SaleInvoice),
		batches:  make(map[int64]*inventory.Batch),
	}
}

func (m *memRepo) addBatch(b inventory.Batch) int64 {
	m.nextBatch++
	b.ID = m.nextBatch
	m.batches[b.ID] = &b
	return b.ID
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	invoices := make(map[int64]*SaleInvoice, len(m.invoices))
	for id, inv := range m.invoices {
		cp := *inv
		cp.Lines = append([]SaleLine(nil), inv.Lines...)
		invoices[id] = &cp
	}
	batches := make(map[int64]*inventory.Batch, len(m.batches))
	for id, b := range m.batches {
		cp := *b
		batches[id] = &cp
	}
	if err := fn(ctx, m); err != nil {
		m.invoices, m.batches = invoices, batches
		return err
	}
	return nil
}

func (m *memRepo) GetInvoice(_ context.Context, id int64) (SaleInvoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return SaleInvoice{}, shared.ErrNotFound
	}
	return *inv, nil
}

func (m *memRepo) ListInvoices(_ context.Context, filter OrderFilter) ([]SaleInvoice, error) {
	var out []SaleInvoice
	for _, inv := range m.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRepo) InsertInvoice(_ context.Context, inv SaleInvoice) (int64, error) {
	m.nextInvoice++
	inv.ID = m.nextInvoice
	inv.CreatedAt = time.Now()
	m.invoices[inv.ID] = &inv
	return inv.ID, nil
}

func (m *memRepo) InsertLines(_ context.Context, invoiceID int64, lines []SaleLine) error {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return shared.ErrNotFound
	}
	for _, l := range lines {
		m.nextLine++
		l.ID = m.nextLine
		l.InvoiceID = invoiceID
		inv.Lines = append(inv.Lines, l)
	}
	return nil
}

func (m *memRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (SaleInvoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *memRepo) SetInvoiceStatus(_ context.Context, id int64, status InvoiceStatus) error {
	inv, ok := m.invoices[id]
	if !ok {
		return shared.ErrNotFound
	}
	inv.Status = status
	return nil
}

func (m *memRepo) DeleteInvoice(_ context.Context, id int64) error {
	if _, ok := m.invoices[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.invoices, id)
	return nil
}

func (m *memRepo) SelectAllocatableBatches(_ context.Context, productID, warehouseID int64, now time.Time) ([]inventory.Batch, error) {
	var out []inventory.Batch
	for _, b := range m.batches {
		if b.ProductID == productID && b.WarehouseID == warehouseID && b.RemainingQty > 0 && b.ExpiryDate.After(now) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memRepo) DecrementBatch(_ context.Context, id, qty int64) error {
	b, ok := m.batches[id]
	if !ok || b.RemainingQty < qty {
		return shared.ErrInsufficientStock
	}
	b.RemainingQty -= qty
	return nil
}

func (m *memRepo) CreditBatch(_ context.Context, id, qty int64) (bool, error) {
	b, ok := m.batches[id]
	if !ok {
		return false, nil
	}
	b.RemainingQty += qty
	if b.RemainingQty > b.Quantity {
		b.RemainingQty = b.Quantity
	}
	return true, nil
}

// tableConverter maps unit names to ratios for every product.
type tableConverter struct {
	ratios map[string]int64
}

func (c tableConverter) Convert(_ context.Context, productID, quantity int64, unit string) (Conversion, error) {
	ratio, ok := c.ratios[unit]
	if !ok {
		return Conversion{}, shared.ErrUnitNotFound
	}
	return Conversion{
		ProductName:  "Product",
		BaseUnit:     "Viên",
		Ratio:        ratio,
		BaseQuantity: quantity * ratio,
	}, nil
}

type recordingQueue struct {
	enqueued [][]int64
}

func (q *recordingQueue) EnqueueRecompute(_ context.Context, productIDs ...int64) error {
	q.enqueued = append(q.enqueued, productIDs)
	return nil
}

func newTestService(repo *memRepo) (*Service, *recordingQueue) {
	queue := &recordingQueue{}
	converter := tableConverter{ratios: map[string]int64{"Viên": 1, "Vỉ": 10, "Hộp": 100}}
	return NewService(repo, converter, nil, queue, nil, nil, 1), queue
}

func TestCreateOrderSpansBatchesEarliestExpiryFirst(t *testing.T) {
	repo := newMemRepo()
	early := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 50, RemainingQty: 50,
		ExpiryDate: expireIn(120),
	})
	late := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 80, RemainingQty: 80,
		ExpiryDate: expireIn(270),
	})
	svc, queue := newTestService(repo)

	// 6 Vỉ of 10 = 60 base units at 5000 per Vỉ.
	invoice, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: 9,
		Lines:      []CartLine{{ProductID: 1, Quantity: 6, Unit: "Vỉ", UnitPrice: 5000}},
	})
	require.NoError(t, err)
	require.Equal(t, InvoicePending, invoice.Status)
	require.Len(t, invoice.Lines, 2)

	require.Equal(t, early, invoice.Lines[0].BatchID)
	require.Equal(t, int64(50), invoice.Lines[0].Quantity)
	require.Equal(t, late, invoice.Lines[1].BatchID)
	require.Equal(t, int64(10), invoice.Lines[1].Quantity)

	// Base price is 5000/10 = 500 per Viên; total is server-computed.
	require.Equal(t, 500.0, invoice.Lines[0].UnitPrice)
	require.Equal(t, 30000.0, invoice.TotalBill)

	require.Equal(t, int64(0), repo.batches[early].RemainingQty)
	require.Equal(t, int64(70), repo.batches[late].RemainingQty)
	require.Equal(t, [][]int64{{1}}, queue.enqueued)
}

func TestCreateOrderUsesReferenceWarehouseWhenUnset(t *testing.T) {
	repo := newMemRepo()
	repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 10, RemainingQty: 10,
		ExpiryDate: expireIn(120),
	})
	// Stock in another warehouse must not satisfy an online order.
	repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 2, Quantity: 100, RemainingQty: 100,
		ExpiryDate: expireIn(120),
	})
	svc, _ := newTestService(repo)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 50, Unit: "Viên", UnitPrice: 100}},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestCreateOrderAllOrNothing(t *testing.T) {
	repo := newMemRepo()
	ok := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 100, RemainingQty: 100,
		ExpiryDate: expireIn(120),
	})
	repo.addBatch(inventory.Batch{
		ProductID: 2, WarehouseID: 1, Quantity: 5, RemainingQty: 5,
		ExpiryDate: expireIn(120),
	})
	svc, _ := newTestService(repo)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Lines: []CartLine{
			{ProductID: 1, Quantity: 10, Unit: "Viên", UnitPrice: 100},
			{ProductID: 2, Quantity: 50, Unit: "Viên", UnitPrice: 100},
		},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// The satisfiable line must not have been deducted either.
	require.Equal(t, int64(100), repo.batches[ok].RemainingQty)
	require.Empty(t, repo.invoices)
}

func TestCreateOrderSkipsExpiredBatches(t *testing.T) {
	repo := newMemRepo()
	repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 100, RemainingQty: 100,
		ExpiryDate: expireIn(-30),
	})
	svc, _ := newTestService(repo)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 10, Unit: "Viên", UnitPrice: 100}},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestCancelOrderRestoresExactPerBatchAmounts(t *testing.T) {
	repo := newMemRepo()
	early := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 50, RemainingQty: 50,
		ExpiryDate: expireIn(120),
	})
	late := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 80, RemainingQty: 80,
		ExpiryDate: expireIn(270),
	})
	svc, _ := newTestService(repo)
	ctx := context.Background()

	invoice, err := svc.CreateOrder(ctx, CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 60, Unit: "Viên", UnitPrice: 100}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), repo.batches[early].RemainingQty)
	require.Equal(t, int64(70), repo.batches[late].RemainingQty)

	cancelled, err := svc.CancelOrder(ctx, invoice.ID, 0)
	require.NoError(t, err)
	require.Equal(t, InvoiceCancelled, cancelled.Status)
	require.Equal(t, int64(50), repo.batches[early].RemainingQty)
	require.Equal(t, int64(80), repo.batches[late].RemainingQty)
}

func TestCancelOrderTwiceConflicts(t *testing.T) {
	repo := newMemRepo()
	repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 100, RemainingQty: 100,
		ExpiryDate: expireIn(120),
	})
	svc, _ := newTestService(repo)
	ctx := context.Background()

	invoice, err := svc.CreateOrder(ctx, CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 10, Unit: "Viên", UnitPrice: 100}},
	})
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, invoice.ID, 0)
	require.NoError(t, err)
	_, err = svc.CancelOrder(ctx, invoice.ID, 0)
	require.ErrorIs(t, err, shared.ErrStateConflict)

	// Double cancellation must not double-credit.
	require.Equal(t, int64(100), repo.batches[1].RemainingQty)
}

func TestRestoreSkipsVanishedBatches(t *testing.T) {
	repo := newMemRepo()
	gone := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 30, RemainingQty: 30,
		ExpiryDate: expireIn(120),
	})
	kept := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 30, RemainingQty: 30,
		ExpiryDate: expireIn(270),
	})
	svc, _ := newTestService(repo)
	ctx := context.Background()

	invoice, err := svc.CreateOrder(ctx, CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 40, Unit: "Viên", UnitPrice: 100}},
	})
	require.NoError(t, err)

	delete(repo.batches, gone)

	cancelled, err := svc.CancelOrder(ctx, invoice.ID, 0)
	require.NoError(t, err)
	require.Equal(t, InvoiceCancelled, cancelled.Status)
	require.Equal(t, int64(30), repo.batches[kept].RemainingQty)
}

func TestDeleteOrderAfterCancelDoesNotRestoreAgain(t *testing.T) {
	repo := newMemRepo()
	id := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 100, RemainingQty: 100,
		ExpiryDate: expireIn(120),
	})
	svc, _ := newTestService(repo)
	ctx := context.Background()

	invoice, err := svc.CreateOrder(ctx, CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 10, Unit: "Viên", UnitPrice: 100}},
	})
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, invoice.ID, 0)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteOrder(ctx, invoice.ID, 0))

	require.Equal(t, int64(100), repo.batches[id].RemainingQty)
	require.Empty(t, repo.invoices)
}

func TestMarkPaidOnlyFromPending(t *testing.T) {
	repo := newMemRepo()
	repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 100, RemainingQty: 100,
		ExpiryDate: expireIn(120),
	})
	svc, _ := newTestService(repo)
	ctx := context.Background()

	invoice, err := svc.CreateOrder(ctx, CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 10, Unit: "Viên", UnitPrice: 100}},
	})
	require.NoError(t, err)

	paid, err := svc.MarkPaid(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, paid.Status)

	_, err = svc.MarkPaid(ctx, invoice.ID)
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestCreateOrderSameProductOnTwoLines(t *testing.T) {
	repo := newMemRepo()
	early := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 50, RemainingQty: 50,
		ExpiryDate: expireIn(120),
	})
	late := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 50, RemainingQty: 50,
		ExpiryDate: expireIn(270),
	})
	svc, _ := newTestService(repo)

	// Two lines of the same product that together need every unit. The
	// second line must be planned against what the first already claimed.
	invoice, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Lines: []CartLine{
			{ProductID: 1, Quantity: 60, Unit: "Viên", UnitPrice: 100},
			{ProductID: 1, Quantity: 40, Unit: "Viên", UnitPrice: 100},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), repo.batches[early].RemainingQty)
	require.Equal(t, int64(0), repo.batches[late].RemainingQty)

	require.Len(t, invoice.Lines, 3)
	require.Equal(t, early, invoice.Lines[0].BatchID)
	require.Equal(t, int64(50), invoice.Lines[0].Quantity)
	require.Equal(t, late, invoice.Lines[1].BatchID)
	require.Equal(t, int64(10), invoice.Lines[1].Quantity)
	require.Equal(t, late, invoice.Lines[2].BatchID)
	require.Equal(t, int64(40), invoice.Lines[2].Quantity)

	// The stock is gone now, so one more unit is a shortage.
	_, err = svc.CreateOrder(context.Background(), CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 1, Unit: "Viên", UnitPrice: 100}},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestCreateOrderShortageReportsBaseUnits(t *testing.T) {
	repo := newMemRepo()
	repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 50, RemainingQty: 50,
		ExpiryDate: expireIn(120),
	})
	svc, _ := newTestService(repo)

	// 6 Hộp of 100 is 600 base units against 50 on hand.
	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 6, Unit: "Hộp", UnitPrice: 90000}},
	})
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, "Viên", stockErr.Unit)
	require.Equal(t, int64(600), stockErr.Required)
	require.Equal(t, int64(50), stockErr.Available)
}

func TestRestoreStockForOrderCreditsWithoutStatusGate(t *testing.T) {
	repo := newMemRepo()
	id := repo.addBatch(inventory.Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 100, RemainingQty: 100,
		ExpiryDate: expireIn(120),
	})
	svc, _ := newTestService(repo)
	ctx := context.Background()

	first, err := svc.CreateOrder(ctx, CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 30, Unit: "Viên", UnitPrice: 100}},
	})
	require.NoError(t, err)
	_, err = svc.CreateOrder(ctx, CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 30, Unit: "Viên", UnitPrice: 100}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(40), repo.batches[id].RemainingQty)

	restored, err := svc.RestoreStockForOrder(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, int64(30), restored)
	require.Equal(t, int64(70), repo.batches[id].RemainingQty)

	// A second call credits the same lines again; this is why cancel,
	// delete and the payment callback all check status before calling.
	restored, err = svc.RestoreStockForOrder(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, int64(30), restored)
	require.Equal(t, int64(100), repo.batches[id].RemainingQty)
}

func TestCreateOrderRejectsUnknownUnit(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Lines: []CartLine{{ProductID: 1, Quantity: 1, Unit: "Thùng", UnitPrice: 100}},
	})
	require.ErrorIs(t, err, shared.ErrUnitNotFound)
}
