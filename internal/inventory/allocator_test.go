package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// dateIn pins fixture dates relative to the test run so batches stay on
// the live side of the expiry filter.
func dateIn(days int) time.Time {
	return time.Now().AddDate(0, 0, days)
}

func TestAllocateDrawsEarliestExpiryFirst(t *testing.T) {
	batches := []Batch{
		{ID: 1, RemainingQty: 50, ExpiryDate: dateIn(120)},
		{ID: 2, RemainingQty: 80, ExpiryDate: dateIn(270)},
	}

	allocations, shortage := Allocate(batches, 60)
	require.Zero(t, shortage)
	require.Len(t, allocations, 2)
	require.Equal(t, int64(1), allocations[0].Batch.ID)
	require.Equal(t, int64(50), allocations[0].Qty)
	require.Equal(t, int64(2), allocations[1].Batch.ID)
	require.Equal(t, int64(10), allocations[1].Qty)
}

func TestAllocateSatisfiableByFirstBatchAlone(t *testing.T) {
	batches := []Batch{
		{ID: 1, RemainingQty: 50, ExpiryDate: dateIn(120)},
		{ID: 2, RemainingQty: 80, ExpiryDate: dateIn(270)},
	}

	allocations, shortage := Allocate(batches, 40)
	require.Zero(t, shortage)
	require.Len(t, allocations, 1)
	require.Equal(t, int64(1), allocations[0].Batch.ID)
	require.Equal(t, int64(40), allocations[0].Qty)
}

func TestAllocateReportsShortage(t *testing.T) {
	batches := []Batch{
		{ID: 1, RemainingQty: 50, ExpiryDate: dateIn(120)},
		{ID: 2, RemainingQty: 80, ExpiryDate: dateIn(270)},
	}

	allocations, shortage := Allocate(batches, 200)
	require.Equal(t, int64(70), shortage)
	require.Len(t, allocations, 2)
	require.Equal(t, int64(50), allocations[0].Qty)
	require.Equal(t, int64(80), allocations[1].Qty)
}

func TestAllocateZeroRequest(t *testing.T) {
	allocations, shortage := Allocate([]Batch{{ID: 1, RemainingQty: 10}}, 0)
	require.Nil(t, allocations)
	require.Zero(t, shortage)
}

func TestAllocateSkipsEmptyBatches(t *testing.T) {
	batches := []Batch{
		{ID: 1, RemainingQty: 0, ExpiryDate: dateIn(120)},
		{ID: 2, RemainingQty: 30, ExpiryDate: dateIn(270)},
	}
	allocations, shortage := Allocate(batches, 20)
	require.Zero(t, shortage)
	require.Len(t, allocations, 1)
	require.Equal(t, int64(2), allocations[0].Batch.ID)
}

func TestPlanRestoreFillsSpareCapacityThenOverflows(t *testing.T) {
	batches := []Batch{
		{ID: 1, Quantity: 100, RemainingQty: 90, ExpiryDate: dateIn(120)},
		{ID: 2, Quantity: 100, RemainingQty: 40, ExpiryDate: dateIn(270)},
	}

	credits, leftover := PlanRestore(batches, 20)
	require.Zero(t, leftover)
	require.Len(t, credits, 2)
	require.Equal(t, int64(1), credits[0].Batch.ID)
	require.Equal(t, int64(10), credits[0].Qty)
	require.Equal(t, int64(2), credits[1].Batch.ID)
	require.Equal(t, int64(10), credits[1].Qty)
}

func TestPlanRestoreLeftoverWhenNoCapacity(t *testing.T) {
	batches := []Batch{
		{ID: 1, Quantity: 100, RemainingQty: 100},
	}
	credits, leftover := PlanRestore(batches, 15)
	require.Empty(t, credits)
	require.Equal(t, int64(15), leftover)
}
