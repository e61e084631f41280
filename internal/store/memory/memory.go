package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/livinlefevreloca/stationsync/internal/partition"
	"github.com/livinlefevreloca/stationsync/internal/sales"
)

var _ partition.Accessor = (*Accessor)(nil)

// Accessor is an in-memory partition store. It backs tests and dry runs.
type Accessor struct {
	name sales.PartitionName

	mu       sync.Mutex
	stations map[string]sales.Station
	records  map[string]*sales.DetailSaleRecord

	// Injected faults, keyed by operation name
	errs map[string]error
}

// New creates an empty accessor for the named partition
func New(name sales.PartitionName) *Accessor {
	return &Accessor{
		name:     name,
		stations: make(map[string]sales.Station),
		records:  make(map[string]*sales.DetailSaleRecord),
		errs:     make(map[string]error),
	}
}

func (a *Accessor) Partition() sales.PartitionName {
	return a.name
}

// AddStation stores a station in this partition
func (a *Accessor) AddStation(st sales.Station) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st.Partition = a.name
	a.stations[st.ID] = st
}

// AddRecord stores a detail sale record. Records without a status are pending.
func (a *Accessor) AddRecord(rec sales.DetailSaleRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := rec
	a.records[rec.ID] = &cp
}

// Record returns a copy of the stored record
func (a *Accessor) Record(id string) (sales.DetailSaleRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[id]
	if !ok {
		return sales.DetailSaleRecord{}, false
	}
	return *rec, true
}

// CountByStatus returns how many records are in each sync status
func (a *Accessor) CountByStatus() map[sales.SyncStatus]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts := make(map[sales.SyncStatus]int)
	for _, rec := range a.records {
		status := rec.SyncStatus
		if status == "" {
			status = sales.StatusPending
		}
		counts[status]++
	}
	return counts
}

// SetError makes every subsequent call of op fail with err. A nil err clears it.
// Valid ops: FindStation, ListPending, ClaimPending, UpdateStatus, RecoverClaims.
func (a *Accessor) SetError(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.errs, op)
		return
	}
	a.errs[op] = err
}

func (a *Accessor) FindStation(_ context.Context, stationID string) (*sales.Station, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.errs["FindStation"]; err != nil {
		return nil, err
	}

	st, ok := a.stations[stationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s in partition %s", sales.ErrUnknownStation, stationID, a.name)
	}
	return &st, nil
}

func (a *Accessor) ListPending(_ context.Context, stationID string) ([]sales.DetailSaleRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.errs["ListPending"]; err != nil {
		return nil, err
	}

	eligible := a.eligibleLocked(stationID)
	out := make([]sales.DetailSaleRecord, 0, len(eligible))
	for _, rec := range eligible {
		out = append(out, *rec)
	}
	return out, nil
}

func (a *Accessor) ClaimPending(_ context.Context, stationID string, claim sales.Claim, limit int) ([]sales.DetailSaleRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.errs["ClaimPending"]; err != nil {
		return nil, err
	}

	eligible := a.eligibleLocked(stationID)
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}

	out := make([]sales.DetailSaleRecord, 0, len(eligible))
	for _, rec := range eligible {
		rec.SyncStatus = sales.StatusInFlight
		rec.ClaimToken = claim.Token
		rec.ClaimedAt = claim.ClaimedAt
		rec.SyncAttempts++
		out = append(out, *rec)
	}
	return out, nil
}

func (a *Accessor) UpdateStatus(_ context.Context, recordID string, update sales.StatusUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.errs["UpdateStatus"]; err != nil {
		return err
	}

	rec, ok := a.records[recordID]
	if !ok {
		return fmt.Errorf("%w: %s", sales.ErrRecordNotFound, recordID)
	}
	if update.ClaimToken != "" && rec.ClaimToken != update.ClaimToken {
		return fmt.Errorf("%w: %s", sales.ErrClaimLost, recordID)
	}
	if rec.SyncStatus == sales.StatusSent {
		return fmt.Errorf("%w: %s already sent", sales.ErrClaimLost, recordID)
	}

	rec.SyncStatus = update.Status
	rec.ClaimToken = ""
	rec.ClaimedAt = time.Time{}
	rec.LastSyncError = update.Error
	if update.Status == sales.StatusSent {
		rec.TransactionID = update.TransactionID
		rec.SyncedAt = update.At
	}
	return nil
}

func (a *Accessor) RecoverClaims(_ context.Context, staleBefore time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.errs["RecoverClaims"]; err != nil {
		return 0, err
	}

	recovered := 0
	for _, rec := range a.records {
		if rec.SyncStatus == sales.StatusInFlight && rec.ClaimedAt.Before(staleBefore) {
			rec.SyncStatus = sales.StatusPending
			rec.ClaimToken = ""
			rec.ClaimedAt = time.Time{}
			recovered++
		}
	}
	return recovered, nil
}

// eligibleLocked returns the station's claimable records ordered by sale time
func (a *Accessor) eligibleLocked(stationID string) []*sales.DetailSaleRecord {
	var eligible []*sales.DetailSaleRecord
	for _, rec := range a.records {
		if rec.StationID == stationID && rec.SyncStatus.Claimable() {
			eligible = append(eligible, rec)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].SoldAt.Equal(eligible[j].SoldAt) {
			return eligible[i].SoldAt.Before(eligible[j].SoldAt)
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible
}
