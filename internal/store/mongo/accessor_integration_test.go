//go:build integration

package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/livinlefevreloca/stationsync/internal/sales"
	"github.com/livinlefevreloca/stationsync/internal/tenant"
)

var cycleStart = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func startMongo(t *testing.T) *mongo.Database {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	config := DefaultConfig()
	config.URI = uri
	config.Database = "station"
	client, err := Connect(ctx, config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	return client.Database(config.Database)
}

func insertSale(t *testing.T, db *mongo.Database, partition string, station primitive.ObjectID, extra bson.M) primitive.ObjectID {
	t.Helper()
	id := primitive.NewObjectID()
	doc := bson.M{
		"_id":             id,
		"stationDetailId": station,
		"vocono":          "V-" + id.Hex()[18:],
		"fuelType":        "92",
		"saleLiter":       4.0,
		"salePrice":       2500.0,
		"totalPrice":      10000.0,
		"createAt":        cycleStart.Add(-30 * time.Minute),
	}
	for k, v := range extra {
		doc[k] = v
	}
	_, err := db.Collection(partition+"detailsales").InsertOne(context.Background(), doc)
	require.NoError(t, err)
	return id
}

func TestAccessor_ClaimAndResolve(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()

	a := NewAccessor(db, "ks")
	require.NoError(t, a.EnsureIndexes(ctx))

	station := primitive.NewObjectID()
	_, err := db.Collection("ksstationdetails").InsertOne(ctx, bson.M{"_id": station, "name": "Kyauk Se 1", "licenseNo": "LIC-1"})
	require.NoError(t, err)

	fresh := insertSale(t, db, "ks", station, nil)
	failed := insertSale(t, db, "ks", station, bson.M{"syncStatus": "FAILED", "createAt": cycleStart.Add(-40 * time.Minute)})
	sent := insertSale(t, db, "ks", station, bson.M{"syncStatus": "SENT"})

	st, err := a.FindStation(ctx, station.Hex())
	require.NoError(t, err)
	assert.Equal(t, "Kyauk Se 1", st.Name)
	assert.Equal(t, sales.PartitionName("ks"), st.Partition)

	pending, err := a.ListPending(ctx, station.Hex())
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	claim := sales.Claim{Token: "claim-1", ClaimedAt: cycleStart}
	claimed, err := a.ClaimPending(ctx, station.Hex(), claim, 0)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, failed.Hex(), claimed[0].ID, "older sale first")
	for _, rec := range claimed {
		assert.Equal(t, sales.StatusInFlight, rec.SyncStatus)
		assert.Equal(t, "claim-1", rec.ClaimToken)
		assert.Equal(t, 1, rec.SyncAttempts)
	}

	// A second claimer finds nothing left
	again, err := a.ClaimPending(ctx, station.Hex(), sales.Claim{Token: "claim-2", ClaimedAt: cycleStart}, 0)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, a.UpdateStatus(ctx, fresh.Hex(), sales.StatusUpdate{
		ClaimToken:    "claim-1",
		Status:        sales.StatusSent,
		TransactionID: "TX-1",
		At:            cycleStart.Add(time.Minute),
	}))

	err = a.UpdateStatus(ctx, fresh.Hex(), sales.StatusUpdate{ClaimToken: "claim-1", Status: sales.StatusFailed})
	assert.ErrorIs(t, err, sales.ErrClaimLost, "SENT is never reverted")

	err = a.UpdateStatus(ctx, failed.Hex(), sales.StatusUpdate{ClaimToken: "someone-else", Status: sales.StatusSent})
	assert.ErrorIs(t, err, sales.ErrClaimLost)

	err = a.UpdateStatus(ctx, primitive.NewObjectID().Hex(), sales.StatusUpdate{Status: sales.StatusSent})
	assert.ErrorIs(t, err, sales.ErrRecordNotFound)

	var doc detailSaleDocument
	require.NoError(t, db.Collection("ksdetailsales").FindOne(ctx, bson.M{"_id": fresh}).Decode(&doc))
	assert.Equal(t, "SENT", doc.SyncStatus)
	assert.Equal(t, "TX-1", doc.TransactionID)
	assert.Empty(t, doc.ClaimToken)

	require.NoError(t, db.Collection("ksdetailsales").FindOne(ctx, bson.M{"_id": sent}).Decode(&doc))
	assert.Equal(t, "SENT", doc.SyncStatus)
}

func TestAccessor_ClaimLimitAndRecovery(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	a := NewAccessor(db, "cs")

	station := primitive.NewObjectID()
	for i := range 3 {
		insertSale(t, db, "cs", station, bson.M{"createAt": cycleStart.Add(time.Duration(i) * time.Minute)})
	}

	claimed, err := a.ClaimPending(ctx, station.Hex(), sales.Claim{Token: "old", ClaimedAt: cycleStart.Add(-time.Hour)}, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	recovered, err := a.RecoverClaims(ctx, cycleStart.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	pending, err := a.ListPending(ctx, station.Hex())
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestAccessor_UnknownStation(t *testing.T) {
	db := startMongo(t)
	a := NewAccessor(db, "ks")

	_, err := a.FindStation(context.Background(), primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, sales.ErrUnknownStation)

	_, err = a.FindStation(context.Background(), "not-an-object-id")
	assert.ErrorIs(t, err, sales.ErrUnknownStation)
}

func TestDirectory_Assignments(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()

	ksID, csID := primitive.NewObjectID(), primitive.NewObjectID()
	_, err := db.Collection("collections").InsertMany(ctx, []any{
		bson.M{"_id": ksID, "collectionName": "kyaw_san"},
		bson.M{"_id": csID, "collectionName": "cs"},
	})
	require.NoError(t, err)

	s1, s2 := primitive.NewObjectID(), primitive.NewObjectID()
	_, err = db.Collection("users").InsertMany(ctx, []any{
		bson.M{"email": "a@station", "stationId": s1, "collectionId": ksID},
		bson.M{"email": "b@station", "stationId": s1, "collectionId": ksID},
		bson.M{"email": "c@station", "stationId": s2, "collectionId": csID},
		bson.M{"email": "admin@hq"},
	})
	require.NoError(t, err)

	dir := NewDirectory(db, map[string]string{"kyaw_san": "ks"})
	assignments, err := dir.Assignments(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []tenant.Assignment{
		{StationID: s1.Hex(), Partition: "ks"},
		{StationID: s2.Hex(), Partition: "cs"},
	}, assignments)
}
