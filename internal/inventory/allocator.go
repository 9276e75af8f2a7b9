package inventory

// Allocation records how much to draw from one batch.
type Allocation struct {
	Batch Batch
	Qty   int64
}

// Allocate walks batches in the order given and takes from each until the
// required amount is covered. Callers pass batches already ordered by
// ascending expiry date with insertion order breaking ties, so consumption
// is first-expiry-first-out. It performs no writes; the second return value
// is the shortage left after exhausting every batch.
func Allocate(batches []Batch, required int64) ([]Allocation, int64) {
	if required <= 0 {
		return nil, 0
	}
	var allocations []Allocation
	needed := required
	for _, b := range batches {
		if needed == 0 {
			break
		}
		if b.RemainingQty <= 0 {
			continue
		}
		take := b.RemainingQty
		if take > needed {
			take = needed
		}
		allocations = append(allocations, Allocation{Batch: b, Qty: take})
		needed -= take
	}
	return allocations, needed
}

// Credit records how much spare capacity to give back to one batch.
type Credit struct {
	Batch Batch
	Qty   int64
}

// PlanRestore distributes amount across the spare capacity of the given
// batches, earliest expiry first. Spare capacity is quantity minus
// remaining; crediting beyond it would break the remaining <= quantity
// invariant. The second return value is the amount no batch could absorb,
// which callers park in a fresh batch.
func PlanRestore(batches []Batch, amount int64) ([]Credit, int64) {
	if amount <= 0 {
		return nil, 0
	}
	var credits []Credit
	left := amount
	for _, b := range batches {
		if left == 0 {
			break
		}
		spare := b.Quantity - b.RemainingQty
		if spare <= 0 {
			continue
		}
		give := spare
		if give > left {
			give = left
		}
		credits = append(credits, Credit{Batch: b, Qty: give})
		left -= give
	}
	return credits, left
}
