package extract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/stationsync/internal/partition"
	"github.com/livinlefevreloca/stationsync/internal/sales"
	"github.com/livinlefevreloca/stationsync/internal/settlement"
	"github.com/livinlefevreloca/stationsync/internal/store/memory"
	"github.com/livinlefevreloca/stationsync/internal/tenant"
	"github.com/livinlefevreloca/stationsync/internal/testutil"
)

var cycleStart = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ks, cs    *memory.Accessor
	extractor *Extractor
	logger    *testutil.TestLogger
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	ks := memory.New("ks")
	cs := memory.New("cs")
	selector, err := partition.NewSelector(ks, cs)
	require.NoError(t, err)

	logger := testutil.NewTestLogger()
	ex, err := NewExtractor(cfg, selector, NewFormatter(settlement.DefaultConfig()), logger.Logger())
	require.NoError(t, err)

	return &fixture{ks: ks, cs: cs, extractor: ex, logger: logger}
}

func record(id, station string, offset time.Duration) sales.DetailSaleRecord {
	return sales.DetailSaleRecord{
		ID:         id,
		StationID:  station,
		Voucher:    "V-" + id,
		FuelType:   "95",
		SaleLiter:  5,
		TotalPrice: 12500,
		SoldAt:     cycleStart.Add(-time.Hour + offset),
	}
}

func claimAt(at time.Time) sales.Claim {
	return sales.Claim{Token: "claim-" + at.Format("150405"), ClaimedAt: at}
}

func itemIDs(b *Batch) []string {
	var ids []string
	for _, it := range b.Items() {
		ids = append(ids, it.Record.ID)
	}
	return ids
}

func TestCollect_ClaimsAcrossPartitions(t *testing.T) {
	fx := newFixture(t, DefaultConfig())
	fx.ks.AddStation(sales.Station{ID: "S1", Name: "One"})
	fx.cs.AddStation(sales.Station{ID: "S2", Name: "Two"})
	fx.ks.AddRecord(record("a2", "S1", 2*time.Minute))
	fx.ks.AddRecord(record("a1", "S1", time.Minute))
	fx.cs.AddRecord(record("b1", "S2", time.Minute))
	sent := record("a0", "S1", 0)
	sent.SyncStatus = sales.StatusSent
	fx.ks.AddRecord(sent)

	snap := tenant.NewSnapshot(
		tenant.Assignment{StationID: "S1", Partition: "ks"},
		tenant.Assignment{StationID: "S2", Partition: "cs"},
	)
	claim := claimAt(cycleStart)

	batch, err := fx.extractor.Collect(context.Background(), snap, claim)
	require.NoError(t, err)

	// cs sorts before ks
	assert.Equal(t, []string{"b1", "a1", "a2"}, itemIDs(batch))
	assert.Empty(t, batch.Faults())
	assert.Empty(t, batch.Excluded())
	assert.Equal(t, claim, batch.Claim())

	for _, id := range []string{"a1", "a2"} {
		rec, _ := fx.ks.Record(id)
		assert.Equal(t, sales.StatusInFlight, rec.SyncStatus)
		assert.Equal(t, claim.Token, rec.ClaimToken)
	}
	rec, _ := fx.ks.Record("a0")
	assert.Equal(t, sales.StatusSent, rec.SyncStatus)
}

func TestCollect_MalformedRecordIsolated(t *testing.T) {
	fx := newFixture(t, DefaultConfig())
	fx.ks.AddStation(sales.Station{ID: "S1"})
	fx.ks.AddRecord(record("good", "S1", time.Minute))
	bad := record("bad", "S1", 2*time.Minute)
	bad.SaleLiter = 0
	fx.ks.AddRecord(bad)

	snap := tenant.NewSnapshot(tenant.Assignment{StationID: "S1", Partition: "ks"})
	batch, err := fx.extractor.Collect(context.Background(), snap, claimAt(cycleStart))
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, itemIDs(batch))
	require.Len(t, batch.Excluded(), 1)
	assert.Equal(t, "bad", batch.Excluded()[0].RecordID)
	assert.ErrorIs(t, batch.Excluded()[0].Err, sales.ErrFormat)

	rec, _ := fx.ks.Record("bad")
	assert.Equal(t, sales.StatusPending, rec.SyncStatus)
	assert.Empty(t, rec.ClaimToken)
	assert.Contains(t, rec.LastSyncError, "liters")
}

func TestCollect_StationFaults(t *testing.T) {
	fx := newFixture(t, DefaultConfig())
	fx.ks.AddStation(sales.Station{ID: "S1"})
	fx.ks.AddRecord(record("r1", "S1", 0))

	snap := tenant.NewSnapshot(
		tenant.Assignment{StationID: "S1", Partition: "ks"},
		tenant.Assignment{StationID: "S2", Partition: "ks"},
		tenant.Assignment{StationID: "S3", Partition: "zz"},
	)
	batch, err := fx.extractor.Collect(context.Background(), snap, claimAt(cycleStart))
	require.NoError(t, err)

	assert.Equal(t, []string{"r1"}, itemIDs(batch))

	faults := map[string]error{}
	for _, f := range batch.Faults() {
		faults[f.StationID] = f.Err
	}
	require.Len(t, faults, 2)
	assert.ErrorIs(t, faults["S2"], sales.ErrUnknownStation)
	assert.ErrorIs(t, faults["S3"], sales.ErrUnsupportedPartition)
	assert.True(t, fx.logger.HasWarning())
}

func TestCollect_StorageErrorReleasesClaims(t *testing.T) {
	fx := newFixture(t, Config{BatchSize: 10, StaleClaimAfter: time.Minute, Concurrency: 1})
	fx.cs.AddStation(sales.Station{ID: "S1"})
	fx.cs.AddRecord(record("c1", "S1", 0))
	fx.ks.AddStation(sales.Station{ID: "S2"})
	fx.ks.AddRecord(record("k1", "S2", 0))
	fx.ks.SetError("ClaimPending", errors.New("connection reset"))

	snap := tenant.NewSnapshot(
		tenant.Assignment{StationID: "S1", Partition: "cs"},
		tenant.Assignment{StationID: "S2", Partition: "ks"},
	)
	batch, err := fx.extractor.Collect(context.Background(), snap, claimAt(cycleStart))
	require.Error(t, err)
	assert.Nil(t, batch)
	assert.Contains(t, err.Error(), "connection reset")

	rec, _ := fx.cs.Record("c1")
	assert.Equal(t, sales.StatusPending, rec.SyncStatus, "claim taken before the failure is released")
	assert.Empty(t, rec.ClaimToken)

	rec, _ = fx.ks.Record("k1")
	assert.True(t, rec.SyncStatus.Claimable())
	assert.NotEmpty(t, fx.logger.GetEntriesByMessage("extraction aborted"))
}

// panickingAccessor panics on FindStation for one station
type panickingAccessor struct {
	*memory.Accessor
	station string
}

func (a *panickingAccessor) FindStation(ctx context.Context, stationID string) (*sales.Station, error) {
	if stationID == a.station {
		panic("driver bug")
	}
	return a.Accessor.FindStation(ctx, stationID)
}

func TestCollect_AccessorPanicReleasesClaims(t *testing.T) {
	// Partitions run in name order with concurrency 1: cs claims, then ks panics
	cs := memory.New("cs")
	cs.AddStation(sales.Station{ID: "S1"})
	cs.AddRecord(record("c1", "S1", 0))
	ks := memory.New("ks")
	ks.AddStation(sales.Station{ID: "S2"})
	ks.AddRecord(record("k1", "S2", 0))

	selector, err := partition.NewSelector(cs, &panickingAccessor{Accessor: ks, station: "S2"})
	require.NoError(t, err)
	logger := testutil.NewTestLogger()
	ex, err := NewExtractor(Config{BatchSize: 10, StaleClaimAfter: time.Minute, Concurrency: 1},
		selector, NewFormatter(settlement.DefaultConfig()), logger.Logger())
	require.NoError(t, err)

	snap := tenant.NewSnapshot(
		tenant.Assignment{StationID: "S1", Partition: "cs"},
		tenant.Assignment{StationID: "S2", Partition: "ks"},
	)

	var batch *Batch
	require.NotPanics(t, func() {
		batch, err = ex.Collect(context.Background(), snap, claimAt(cycleStart))
	})
	require.Error(t, err)
	assert.Nil(t, batch)
	assert.ErrorContains(t, err, "partition ks panicked: driver bug")

	rec, _ := cs.Record("c1")
	assert.Equal(t, sales.StatusPending, rec.SyncStatus, "claim taken before the panic is released")
	assert.Empty(t, rec.ClaimToken)

	rec, _ = ks.Record("k1")
	assert.True(t, rec.SyncStatus.Claimable())
	assert.NotEmpty(t, logger.GetEntriesByMessage("extraction aborted"))
}

func TestCollect_RecoversStaleClaims(t *testing.T) {
	fx := newFixture(t, DefaultConfig())
	fx.ks.AddStation(sales.Station{ID: "S1"})

	stale := record("stale", "S1", 0)
	stale.SyncStatus = sales.StatusInFlight
	stale.ClaimToken = "crashed-cycle"
	stale.ClaimedAt = cycleStart.Add(-time.Hour)
	fx.ks.AddRecord(stale)

	fresh := record("fresh", "S1", time.Minute)
	fresh.SyncStatus = sales.StatusInFlight
	fresh.ClaimToken = "running-elsewhere"
	fresh.ClaimedAt = cycleStart.Add(-time.Minute)
	fx.ks.AddRecord(fresh)

	snap := tenant.NewSnapshot(tenant.Assignment{StationID: "S1", Partition: "ks"})
	batch, err := fx.extractor.Collect(context.Background(), snap, claimAt(cycleStart))
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Recovered())
	assert.Equal(t, []string{"stale"}, itemIDs(batch))

	rec, _ := fx.ks.Record("fresh")
	assert.Equal(t, "running-elsewhere", rec.ClaimToken)
}

func TestCollect_PerStationLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRecordsPerStation = 2
	fx := newFixture(t, cfg)
	fx.ks.AddStation(sales.Station{ID: "S1"})
	for i := range 5 {
		fx.ks.AddRecord(record(fmt.Sprintf("r%d", i), "S1", time.Duration(i)*time.Minute))
	}

	snap := tenant.NewSnapshot(tenant.Assignment{StationID: "S1", Partition: "ks"})
	batch, err := fx.extractor.Collect(context.Background(), snap, claimAt(cycleStart))
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r1"}, itemIDs(batch))
	assert.Equal(t, 3, fx.ks.CountByStatus()[sales.StatusPending])
}

func TestBatch_ChunksConsumedOnce(t *testing.T) {
	b := &Batch{}
	for i := range 5 {
		b.items = append(b.items, Item{Record: sales.DetailSaleRecord{ID: fmt.Sprintf("r%d", i)}})
	}

	var sizes []int
	for chunk := range b.Chunks(2) {
		sizes = append(sizes, len(chunk))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)

	again := slices.Collect(b.Chunks(2))
	assert.Empty(t, again)
}

func TestBatch_SingleChunk(t *testing.T) {
	b := &Batch{items: make([]Item, 3)}
	chunks := slices.Collect(b.Chunks(0))
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 3)

	empty := &Batch{}
	assert.Empty(t, slices.Collect(empty.Chunks(10)))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Concurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.StaleClaimAfter = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BatchSize = -1
	assert.Error(t, cfg.Validate())
}
