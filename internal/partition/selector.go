package partition

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/livinlefevreloca/stationsync/internal/sales"
)

// Accessor is the capability set every partition store implements
type Accessor interface {
	// Partition returns the partition this accessor serves
	Partition() sales.PartitionName

	// FindStation returns sales.ErrUnknownStation if the station is not stored in this partition
	FindStation(ctx context.Context, stationID string) (*sales.Station, error)

	// ListPending returns the station's records that are eligible for synchronization
	ListPending(ctx context.Context, stationID string) ([]sales.DetailSaleRecord, error)

	// ClaimPending transitions up to limit eligible records to IN_FLIGHT under the claim
	// and returns exactly the records this call claimed. limit <= 0 means no limit.
	ClaimPending(ctx context.Context, stationID string, claim sales.Claim, limit int) ([]sales.DetailSaleRecord, error)

	// UpdateStatus resolves a record. Returns sales.ErrClaimLost if update.ClaimToken
	// is set and no longer matches the record.
	UpdateStatus(ctx context.Context, recordID string, update sales.StatusUpdate) error

	// RecoverClaims returns IN_FLIGHT records claimed before staleBefore to PENDING
	RecoverClaims(ctx context.Context, staleBefore time.Time) (int, error)
}

// Selector maps partition names to their accessors. It is built once at startup
// and never mutated afterwards.
type Selector struct {
	accessors map[sales.PartitionName]Accessor
}

// NewSelector registers each accessor under its partition name
func NewSelector(accessors ...Accessor) (*Selector, error) {
	s := &Selector{
		accessors: make(map[sales.PartitionName]Accessor, len(accessors)),
	}

	for _, a := range accessors {
		name := a.Partition()
		if name == "" {
			return nil, fmt.Errorf("partition accessor %T has an empty name", a)
		}
		if _, exists := s.accessors[name]; exists {
			return nil, fmt.Errorf("partition %q registered twice", name)
		}
		s.accessors[name] = a
	}

	return s, nil
}

// Select returns the accessor serving the named partition.
// Unknown names are an error; there is no default partition.
func (s *Selector) Select(name sales.PartitionName) (Accessor, error) {
	a, ok := s.accessors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", sales.ErrUnsupportedPartition, name)
	}
	return a, nil
}

// Names returns the registered partition names in sorted order
func (s *Selector) Names() []sales.PartitionName {
	names := make([]sales.PartitionName, 0, len(s.accessors))
	for name := range s.accessors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
