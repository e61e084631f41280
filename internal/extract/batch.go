package extract

import (
	"iter"
	"sync/atomic"

	"github.com/livinlefevreloca/stationsync/internal/sales"
	"github.com/livinlefevreloca/stationsync/internal/settlement"
)

// Item is one claimed and formatted record, tagged with where it came from
type Item struct {
	Partition sales.PartitionName
	StationID string
	Record    sales.DetailSaleRecord
	Payload   settlement.Record
}

// Fault is a record or station left out of the batch
type Fault struct {
	Partition sales.PartitionName
	StationID string
	// RecordID is empty for station-level faults
	RecordID string
	Err      error
}

// Batch is the set of records one cycle claimed. Its chunks can be consumed once.
type Batch struct {
	claim     sales.Claim
	items     []Item
	excluded  []Fault
	faults    []Fault
	recovered int
	consumed  atomic.Bool
}

// Claim returns the claim every item in the batch is held under
func (b *Batch) Claim() sales.Claim {
	return b.claim
}

// Len returns the number of submittable records
func (b *Batch) Len() int {
	return len(b.items)
}

// Items returns the submittable records, grouped by partition and station
func (b *Batch) Items() []Item {
	out := make([]Item, len(b.items))
	copy(out, b.items)
	return out
}

// Excluded returns records dropped because they could not be formatted
func (b *Batch) Excluded() []Fault {
	return b.excluded
}

// Faults returns stations skipped for routing faults
func (b *Batch) Faults() []Fault {
	return b.faults
}

// Recovered returns how many stale claims were returned to PENDING
func (b *Batch) Recovered() int {
	return b.recovered
}

// Chunks yields the items in submission chunks of at most size records.
// size <= 0 yields everything in one chunk. Only the first iteration yields;
// later ones see an exhausted sequence.
func (b *Batch) Chunks(size int) iter.Seq[[]Item] {
	return func(yield func([]Item) bool) {
		if !b.consumed.CompareAndSwap(false, true) {
			return
		}
		if size <= 0 {
			size = len(b.items)
		}
		for start := 0; start < len(b.items); start += size {
			end := min(start+size, len(b.items))
			if !yield(b.items[start:end]) {
				return
			}
		}
	}
}
