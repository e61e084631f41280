package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/stationsync/internal/sales"
)

func seeded() *Accessor {
	a := New("ks")
	a.AddStation(sales.Station{ID: "st-1", Name: "Station One"})
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	a.AddRecord(sales.DetailSaleRecord{ID: "r3", StationID: "st-1", SoldAt: base.Add(2 * time.Minute)})
	a.AddRecord(sales.DetailSaleRecord{ID: "r1", StationID: "st-1", SoldAt: base})
	a.AddRecord(sales.DetailSaleRecord{ID: "r2", StationID: "st-1", SoldAt: base.Add(time.Minute), SyncStatus: sales.StatusFailed})
	a.AddRecord(sales.DetailSaleRecord{ID: "r4", StationID: "st-1", SoldAt: base, SyncStatus: sales.StatusSent})
	a.AddRecord(sales.DetailSaleRecord{ID: "r5", StationID: "st-2", SoldAt: base})
	return a
}

func TestFindStation(t *testing.T) {
	a := seeded()
	st, err := a.FindStation(context.Background(), "st-1")
	require.NoError(t, err)
	assert.Equal(t, sales.PartitionName("ks"), st.Partition)

	_, err = a.FindStation(context.Background(), "st-9")
	assert.ErrorIs(t, err, sales.ErrUnknownStation)
}

func TestListPending_OrderAndEligibility(t *testing.T) {
	a := seeded()
	recs, err := a.ListPending(context.Background(), "st-1")
	require.NoError(t, err)

	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids)
}

func TestClaimPending_Limit(t *testing.T) {
	a := seeded()
	claim := sales.Claim{Token: "c1", ClaimedAt: time.Now()}

	recs, err := a.ClaimPending(context.Background(), "st-1", claim, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, sales.StatusInFlight, r.SyncStatus)
		assert.Equal(t, "c1", r.ClaimToken)
		assert.Equal(t, 1, r.SyncAttempts)
	}

	// A second claim only sees the remaining record
	recs, err = a.ClaimPending(context.Background(), "st-1", sales.Claim{Token: "c2", ClaimedAt: time.Now()}, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r3", recs[0].ID)
}

func TestUpdateStatus_ClaimChecks(t *testing.T) {
	a := seeded()
	ctx := context.Background()
	_, err := a.ClaimPending(ctx, "st-1", sales.Claim{Token: "c1", ClaimedAt: time.Now()}, 1)
	require.NoError(t, err)

	err = a.UpdateStatus(ctx, "r1", sales.StatusUpdate{ClaimToken: "other", Status: sales.StatusSent})
	assert.ErrorIs(t, err, sales.ErrClaimLost)

	err = a.UpdateStatus(ctx, "r1", sales.StatusUpdate{ClaimToken: "c1", Status: sales.StatusSent, TransactionID: "T1"})
	require.NoError(t, err)

	rec, _ := a.Record("r1")
	assert.Equal(t, sales.StatusSent, rec.SyncStatus)
	assert.Equal(t, "T1", rec.TransactionID)
	assert.Empty(t, rec.ClaimToken)

	// SENT never reverts
	err = a.UpdateStatus(ctx, "r1", sales.StatusUpdate{Status: sales.StatusPending})
	assert.ErrorIs(t, err, sales.ErrClaimLost)

	err = a.UpdateStatus(ctx, "missing", sales.StatusUpdate{Status: sales.StatusFailed})
	assert.ErrorIs(t, err, sales.ErrRecordNotFound)
}

func TestRecoverClaims(t *testing.T) {
	a := seeded()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	_, err := a.ClaimPending(ctx, "st-1", sales.Claim{Token: "crashed", ClaimedAt: old}, 0)
	require.NoError(t, err)

	n, err := a.RecoverClaims(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 4, a.CountByStatus()[sales.StatusPending])
}

func TestSetError(t *testing.T) {
	a := seeded()
	boom := errors.New("boom")
	a.SetError("ClaimPending", boom)

	_, err := a.ClaimPending(context.Background(), "st-1", sales.Claim{Token: "c"}, 0)
	assert.ErrorIs(t, err, boom)

	a.SetError("ClaimPending", nil)
	_, err = a.ClaimPending(context.Background(), "st-1", sales.Claim{Token: "c"}, 0)
	assert.NoError(t, err)
}
