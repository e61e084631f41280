package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/livinlefevreloca/stationsync/internal/sales"
)

func TestToRecord_MissingStatusIsPending(t *testing.T) {
	id := primitive.NewObjectID()
	station := primitive.NewObjectID()
	soldAt := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	rec := detailSaleDocument{
		ID:         id,
		StationID:  station,
		Voucher:    "V-1",
		FuelType:   "92",
		SaleLiter:  4,
		TotalPrice: 10000,
		SoldAt:     soldAt,
	}.toRecord()

	assert.Equal(t, id.Hex(), rec.ID)
	assert.Equal(t, station.Hex(), rec.StationID)
	assert.Equal(t, sales.StatusPending, rec.SyncStatus)
	assert.True(t, rec.SyncStatus.Claimable())
	assert.Equal(t, soldAt, rec.SoldAt)
}

func TestDetailSaleDocument_DecodesStationFields(t *testing.T) {
	id := primitive.NewObjectID()
	raw, err := bson.Marshal(bson.M{
		"_id":             id,
		"stationDetailId": primitive.NewObjectID(),
		"vocono":          "V-9",
		"nozzleNo":        "2",
		"fuelType":        "95",
		"saleLiter":       int32(5),
		"salePrice":       2500.5,
		"totalPrice":      int64(12502),
		"syncStatus":      "FAILED",
		"syncAttempts":    int32(2),
	})
	assert.NoError(t, err)

	var doc detailSaleDocument
	assert.NoError(t, bson.Unmarshal(raw, &doc))

	rec := doc.toRecord()
	assert.Equal(t, "V-9", rec.Voucher)
	assert.Equal(t, 5.0, rec.SaleLiter)
	assert.Equal(t, 12502.0, rec.TotalPrice)
	assert.Equal(t, sales.StatusFailed, rec.SyncStatus)
	assert.Equal(t, 2, rec.SyncAttempts)
}

func TestResolveUpdate(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)

	sent := resolveUpdate(sales.StatusUpdate{Status: sales.StatusSent, TransactionID: "TX-1", At: at})
	set := sent["$set"].(bson.M)
	assert.Equal(t, "SENT", set[fieldSyncStatus])
	assert.Equal(t, "TX-1", set[fieldTransactionID])
	assert.Equal(t, at, set[fieldSyncedAt])
	assert.Contains(t, sent["$unset"], fieldClaimToken)

	failed := resolveUpdate(sales.StatusUpdate{Status: sales.StatusFailed, Error: "rejected"})
	set = failed["$set"].(bson.M)
	assert.Equal(t, "rejected", set[fieldLastSyncError])
	assert.NotContains(t, set, fieldTransactionID)
}

func TestStationClaimableFilter(t *testing.T) {
	station := primitive.NewObjectID()
	filter := stationClaimableFilter(station)

	assert.Equal(t, station, filter[fieldStationID])
	statuses := filter[fieldSyncStatus].(bson.M)["$in"].(bson.A)
	assert.Contains(t, statuses, nil)
	assert.Contains(t, statuses, "PENDING")
	assert.Contains(t, statuses, "FAILED")
	assert.NotContains(t, statuses, "SENT")
	assert.NotContains(t, statuses, "IN_FLIGHT")
}

func TestDirectory_PartitionFor(t *testing.T) {
	d := &Directory{aliases: map[string]sales.PartitionName{"kyaw_san": "ks"}}

	assert.Equal(t, sales.PartitionName("ks"), d.partitionFor("Kyaw_San"))
	assert.Equal(t, sales.PartitionName("cs"), d.partitionFor(" CS "))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.URI = ""
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Database = ""
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.ConnectTimeout = 0
	assert.Error(t, c.Validate())
}
