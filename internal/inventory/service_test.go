package inventory

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitacare-erp/vitacare/internal/shared"
)

// memRepo is an in-memory ledger implementing both RepositoryPort and
// TxRepository. WithTx snapshots state and rolls back on error so the
// all-or-nothing behaviour of the real transactions is observable.
type memRepo struct {
	batches      map[int64]*Batch
	transfers    map[int64]*Transfer
	nextBatch    int64
	nextTransfer int64
	nextLine     int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		batches:   make(map[int64]*Batch),
		transfers: make(map[int64]*Transfer),
	}
}

func (m *memRepo) addBatch(b Batch) int64 {
	m.nextBatch++
	b.ID = m.nextBatch
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	m.batches[b.ID] = &b
	return b.ID
}

func (m *memRepo) snapshot() (map[int64]*Batch, map[int64]*Transfer) {
	batches := make(map[int64]*Batch, len(m.batches))
	for id, b := range m.batches {
		cp := *b
		batches[id] = &cp
	}
	transfers := make(map[int64]*Transfer, len(m.transfers))
	for id, t := range m.transfers {
		cp := *t
		cp.Lines = append([]TransferLine(nil), t.Lines...)
		transfers[id] = &cp
	}
	return batches, transfers
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	batches, transfers := m.snapshot()
	if err := fn(ctx, m); err != nil {
		m.batches, m.transfers = batches, transfers
		return err
	}
	return nil
}

func (m *memRepo) sortedBatches(filter func(Batch) bool) []Batch {
	var out []Batch
	for _, b := range m.batches {
		if filter(*b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memRepo) ListBatches(_ context.Context, f BatchFilter) ([]Batch, error) {
	return m.sortedBatches(func(b Batch) bool {
		if f.ProductID != 0 && b.ProductID != f.ProductID {
			return false
		}
		if f.WarehouseID != 0 && b.WarehouseID != f.WarehouseID {
			return false
		}
		if f.OnlyInStock && b.RemainingQty <= 0 {
			return false
		}
		return true
	}), nil
}

func (m *memRepo) GetBatch(_ context.Context, id int64) (Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return Batch{}, shared.ErrNotFound
	}
	return *b, nil
}

func (m *memRepo) WarehouseStock(_ context.Context, warehouseID int64) ([]WarehouseStockEntry, error) {
	byProduct := make(map[int64]*WarehouseStockEntry)
	for _, b := range m.batches {
		if b.WarehouseID != warehouseID {
			continue
		}
		e, ok := byProduct[b.ProductID]
		if !ok {
			e = &WarehouseStockEntry{ProductID: b.ProductID}
			byProduct[b.ProductID] = e
		}
		e.TotalQty += b.RemainingQty
		e.BatchCount++
		if b.RemainingQty > 0 {
			exp := b.ExpiryDate
			if e.NearestExpiry == nil || exp.Before(*e.NearestExpiry) {
				e.NearestExpiry = &exp
			}
		}
	}
	var out []WarehouseStockEntry
	for _, e := range byProduct {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *memRepo) GetTransfer(_ context.Context, id int64) (Transfer, error) {
	t, ok := m.transfers[id]
	if !ok {
		return Transfer{}, shared.ErrNotFound
	}
	return *t, nil
}

func (m *memRepo) ListTransfers(_ context.Context, status TransferStatus, _, _ int) ([]Transfer, error) {
	var out []Transfer
	for _, t := range m.transfers {
		if status == "" || t.Status == status {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRepo) InsertBatch(_ context.Context, b Batch) (int64, error) {
	return m.addBatch(b), nil
}

func (m *memRepo) GetBatchForUpdate(_ context.Context, id int64) (Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return Batch{}, shared.ErrNotFound
	}
	return *b, nil
}

func (m *memRepo) SelectDrainableBatches(_ context.Context, productID, warehouseID int64) ([]Batch, error) {
	return m.sortedBatches(func(b Batch) bool {
		return b.ProductID == productID && b.WarehouseID == warehouseID && b.RemainingQty > 0
	}), nil
}

func (m *memRepo) SelectRestorableBatches(_ context.Context, productID, warehouseID int64) ([]Batch, error) {
	return m.sortedBatches(func(b Batch) bool {
		return b.ProductID == productID && b.WarehouseID == warehouseID
	}), nil
}

func (m *memRepo) DecrementBatch(_ context.Context, id, qty int64) error {
	b, ok := m.batches[id]
	if !ok || b.RemainingQty < qty {
		return shared.ErrInsufficientStock
	}
	b.RemainingQty -= qty
	return nil
}

func (m *memRepo) CreditBatch(_ context.Context, id, qty int64) error {
	b, ok := m.batches[id]
	if !ok {
		return shared.ErrNotFound
	}
	if b.RemainingQty+qty > b.Quantity {
		return shared.ErrStateConflict
	}
	b.RemainingQty += qty
	return nil
}

func (m *memRepo) UpdateBatch(_ context.Context, b Batch) error {
	stored, ok := m.batches[b.ID]
	if !ok {
		return shared.ErrNotFound
	}
	*stored = b
	return nil
}

func (m *memRepo) DeleteBatch(_ context.Context, id int64) error {
	if _, ok := m.batches[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.batches, id)
	return nil
}

func (m *memRepo) InsertTransfer(_ context.Context, t Transfer) (int64, error) {
	m.nextTransfer++
	t.ID = m.nextTransfer
	t.CreatedAt = time.Now()
	for i := range t.Lines {
		m.nextLine++
		t.Lines[i].ID = m.nextLine
		t.Lines[i].TransferID = t.ID
	}
	m.transfers[t.ID] = &t
	return t.ID, nil
}

func (m *memRepo) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	return m.GetTransfer(ctx, id)
}

func (m *memRepo) SetTransferStatus(_ context.Context, id int64, status TransferStatus, completedAt *time.Time) error {
	t, ok := m.transfers[id]
	if !ok {
		return shared.ErrNotFound
	}
	t.Status = status
	t.CompletedAt = completedAt
	return nil
}

func (m *memRepo) DeleteTransfer(_ context.Context, id int64) error {
	if _, ok := m.transfers[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.transfers, id)
	return nil
}

func (m *memRepo) CountBatchesForTransfer(_ context.Context, transferID int64) (int64, error) {
	var n int64
	for _, b := range m.batches {
		if b.OriginTransferID == transferID {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ListBatchesForTransfer(_ context.Context, transferID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.OriginTransferID == transferID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ratioConverter converts using a fixed ratio table keyed by unit name.
type ratioConverter struct {
	ratios   map[string]int64
	baseUnit string
}

func (c ratioConverter) ConvertToBase(_ context.Context, _ int64, quantity int64, unit string) (int64, string, error) {
	ratio, ok := c.ratios[unit]
	if !ok {
		return 0, "", shared.ErrUnitNotFound
	}
	return quantity * ratio, c.baseUnit, nil
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
	converter := ratioConverter{ratios: map[string]int64{"Viên": 1, "Hộp": 100}, baseUnit: "Viên"}
	return NewService(repo, converter, nil, queue, nil, nil, nil), queue
}

func TestCreateBatchConvertsToBaseUnits(t *testing.T) {
	repo := newMemRepo()
	svc, queue := newTestService(repo)

	batch, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		ProductID:       1,
		WarehouseID:     1,
		Quantity:        3,
		Unit:            "Hộp",
		ManufactureDate: dateIn(-240),
		ExpiryDate:      dateIn(480),
	})
	require.NoError(t, err)
	require.Equal(t, int64(300), batch.Quantity)
	require.Equal(t, int64(300), batch.RemainingQty)
	require.Equal(t, "Viên", batch.BaseUnit)
	require.NotEmpty(t, batch.OriginInvoiceID)
	require.Equal(t, [][]int64{{1}}, queue.enqueued)
}

func TestCreateBatchRejectsBadDates(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	_, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		ProductID:       1,
		WarehouseID:     1,
		Quantity:        1,
		Unit:            "Viên",
		ManufactureDate: dateIn(480),
		ExpiryDate:      dateIn(-240),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.batches)
}

func TestBulkCreateSharesInvoiceID(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	batches, err := svc.BulkCreateBatches(context.Background(), []CreateBatchInput{
		{ProductID: 1, WarehouseID: 1, Quantity: 10, Unit: "Viên", ManufactureDate: dateIn(-240), ExpiryDate: dateIn(120)},
		{ProductID: 2, WarehouseID: 1, Quantity: 2, Unit: "Hộp", ManufactureDate: dateIn(-240), ExpiryDate: dateIn(270)},
	})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, batches[0].OriginInvoiceID, batches[1].OriginInvoiceID)
	require.Equal(t, int64(200), batches[1].Quantity)
}

func TestBulkCreateAbortsWholeReceiptOnUnknownUnit(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	_, err := svc.BulkCreateBatches(context.Background(), []CreateBatchInput{
		{ProductID: 1, WarehouseID: 1, Quantity: 10, Unit: "Viên", ManufactureDate: dateIn(-240), ExpiryDate: dateIn(120)},
		{ProductID: 2, WarehouseID: 1, Quantity: 2, Unit: "Thùng", ManufactureDate: dateIn(-240), ExpiryDate: dateIn(270)},
	})
	require.ErrorIs(t, err, shared.ErrUnitNotFound)
	require.Empty(t, repo.batches)
}

func TestUpdateBatchQuantityShiftsRemaining(t *testing.T) {
	repo := newMemRepo()
	id := repo.addBatch(Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 100, RemainingQty: 60,
		ManufactureDate: dateIn(-240), ExpiryDate: dateIn(120),
	})
	svc, _ := newTestService(repo)

	qty := int64(120)
	updated, err := svc.UpdateBatch(context.Background(), UpdateBatchInput{BatchID: id, Quantity: &qty})
	require.NoError(t, err)
	require.Equal(t, int64(120), updated.Quantity)
	require.Equal(t, int64(80), updated.RemainingQty)

	// Shrinking below what was already consumed is rejected.
	qty = 30
	_, err = svc.UpdateBatch(context.Background(), UpdateBatchInput{BatchID: id, Quantity: &qty})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteBatchWithoutTransferOrigin(t *testing.T) {
	repo := newMemRepo()
	id := repo.addBatch(Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 50, RemainingQty: 50,
		ManufactureDate: dateIn(-240), ExpiryDate: dateIn(120),
	})
	svc, _ := newTestService(repo)

	require.NoError(t, svc.DeleteBatch(context.Background(), id, 0))
	require.Empty(t, repo.batches)
}

func TestDeleteTransferOriginBatchRestoresSource(t *testing.T) {
	repo := newMemRepo()
	// Source warehouse 1: one batch with 10 spare, one untouched full batch.
	exp := dateIn(120)
	spare := repo.addBatch(Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 100, RemainingQty: 90,
		ManufactureDate: dateIn(-240), ExpiryDate: exp,
	})
	full := repo.addBatch(Batch{
		ProductID: 1, WarehouseID: 1, Quantity: 200, RemainingQty: 200,
		ManufactureDate: dateIn(-210), ExpiryDate: dateIn(270),
	})
	repo.transfers[5] = &Transfer{ID: 5, SourceID: 1, DestinationID: 2, Status: TransferCompleted}
	repo.nextTransfer = 5
	dest := repo.addBatch(Batch{
		ProductID: 1, WarehouseID: 2, Quantity: 20, RemainingQty: 20,
		ManufactureDate: dateIn(-240), ExpiryDate: exp,
		OriginTransferID: 5,
	})
	svc, _ := newTestService(repo)

	require.NoError(t, svc.DeleteBatch(context.Background(), dest, 0))

	// 10 units fill the spare capacity, the remaining 10 open a new batch.
	require.Equal(t, int64(100), repo.batches[spare].RemainingQty)
	require.Equal(t, int64(200), repo.batches[full].RemainingQty)
	var overflow *Batch
	for _, b := range repo.batches {
		if b.ID != spare && b.ID != full {
			overflow = b
		}
	}
	require.NotNil(t, overflow)
	require.Equal(t, int64(10), overflow.Quantity)
	require.Equal(t, int64(10), overflow.RemainingQty)
	require.Equal(t, int64(1), overflow.WarehouseID)
	require.Equal(t, exp, overflow.ExpiryDate)

	// Last batch of the transfer is gone, so the transfer record goes too.
	_, err := repo.GetTransfer(context.Background(), 5)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteBatchKeepsTransferWhileSiblingsRemain(t *testing.T) {
	repo := newMemRepo()
	repo.transfers[9] = &Transfer{ID: 9, SourceID: 1, DestinationID: 2, Status: TransferCompleted}
	repo.nextTransfer = 9
	first := repo.addBatch(Batch{
		ProductID: 1, WarehouseID: 2, Quantity: 10, RemainingQty: 0,
		ManufactureDate: dateIn(-240), ExpiryDate: dateIn(120),
		OriginTransferID: 9,
	})
	repo.addBatch(Batch{
		ProductID: 2, WarehouseID: 2, Quantity: 10, RemainingQty: 10,
		ManufactureDate: dateIn(-240), ExpiryDate: dateIn(120),
		OriginTransferID: 9,
	})
	svc, _ := newTestService(repo)

	require.NoError(t, svc.DeleteBatch(context.Background(), first, 0))
	_, err := repo.GetTransfer(context.Background(), 9)
	require.NoError(t, err)
}

func TestGetWarehouseStockAggregatesLedger(t *testing.T) {
	repo := newMemRepo()
	nearest := dateIn(60)
	repo.addBatch(Batch{ProductID: 1, WarehouseID: 1, Quantity: 50, RemainingQty: 30, ExpiryDate: dateIn(120)})
	repo.addBatch(Batch{ProductID: 1, WarehouseID: 1, Quantity: 50, RemainingQty: 50, ExpiryDate: nearest})
	repo.addBatch(Batch{ProductID: 2, WarehouseID: 2, Quantity: 10, RemainingQty: 10, ExpiryDate: dateIn(120)})
	svc, _ := newTestService(repo)

	entries, err := svc.GetWarehouseStock(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(80), entries[0].TotalQty)
	require.Equal(t, 2, entries[0].BatchCount)
	require.Equal(t, nearest, *entries[0].NearestExpiry)
}
