// Package mongo stores station and sales documents in the MongoDB database
// shared with the station application.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/livinlefevreloca/stationsync/internal/sales"
)

// Accessor serves one partition: a <name>stationdetails and a <name>detailsales collection
type Accessor struct {
	name     sales.PartitionName
	stations *mongo.Collection
	sales    *mongo.Collection
}

// NewAccessor binds the partition's collections in db
func NewAccessor(db *mongo.Database, name sales.PartitionName) *Accessor {
	return &Accessor{
		name:     name,
		stations: db.Collection(string(name) + "stationdetails"),
		sales:    db.Collection(string(name) + "detailsales"),
	}
}

func (a *Accessor) Partition() sales.PartitionName {
	return a.name
}

// EnsureIndexes creates the indexes the claim and recovery queries rely on
func (a *Accessor) EnsureIndexes(ctx context.Context) error {
	_, err := a.sales.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: fieldStationID, Value: 1},
				{Key: fieldSyncStatus, Value: 1},
				{Key: fieldSoldAt, Value: 1},
			},
			Options: options.Index().SetName("sync_eligible"),
		},
		{
			Keys:    bson.D{{Key: fieldClaimToken, Value: 1}},
			Options: options.Index().SetName("sync_claim").SetSparse(true),
		},
		{
			Keys: bson.D{
				{Key: fieldSyncStatus, Value: 1},
				{Key: fieldClaimedAt, Value: 1},
			},
			Options: options.Index().SetName("sync_stale"),
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes on %s: %w", a.sales.Name(), err)
	}
	return nil
}

func (a *Accessor) FindStation(ctx context.Context, stationID string) (*sales.Station, error) {
	oid, err := a.stationObjectID(stationID)
	if err != nil {
		return nil, err
	}

	var doc stationDocument
	err = a.stations.FindOne(ctx, bson.M{fieldID: oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s in partition %s", sales.ErrUnknownStation, stationID, a.name)
		}
		return nil, fmt.Errorf("find station %s: %w", stationID, err)
	}

	return doc.toStation(a.name), nil
}

func (a *Accessor) ListPending(ctx context.Context, stationID string) ([]sales.DetailSaleRecord, error) {
	oid, err := a.stationObjectID(stationID)
	if err != nil {
		return nil, err
	}
	return a.find(ctx, stationClaimableFilter(oid), 0)
}

// ClaimPending selects candidates, then claims them with a conditional
// UpdateMany. Records another claimer won between the two steps are not
// returned, since the final read filters on this claim's token.
func (a *Accessor) ClaimPending(ctx context.Context, stationID string, claim sales.Claim, limit int) ([]sales.DetailSaleRecord, error) {
	oid, err := a.stationObjectID(stationID)
	if err != nil {
		return nil, err
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: fieldSoldAt, Value: 1}, {Key: fieldID, Value: 1}}).
		SetProjection(bson.M{fieldID: 1})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := a.sales.Find(ctx, stationClaimableFilter(oid), findOpts)
	if err != nil {
		return nil, fmt.Errorf("select claimable records for %s: %w", stationID, err)
	}
	var candidates []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, fmt.Errorf("select claimable records for %s: %w", stationID, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make(bson.A, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	filter := claimableFilter()
	filter[fieldID] = bson.M{"$in": ids}
	update := bson.M{
		"$set": bson.M{
			fieldSyncStatus: string(sales.StatusInFlight),
			fieldClaimToken: claim.Token,
			fieldClaimedAt:  claim.ClaimedAt,
		},
		"$inc": bson.M{fieldSyncAttempts: 1},
	}
	if _, err := a.sales.UpdateMany(ctx, filter, update); err != nil {
		return nil, fmt.Errorf("claim records for %s: %w", stationID, err)
	}

	return a.find(ctx, bson.M{fieldID: bson.M{"$in": ids}, fieldClaimToken: claim.Token}, 0)
}

func (a *Accessor) UpdateStatus(ctx context.Context, recordID string, update sales.StatusUpdate) error {
	oid, err := primitive.ObjectIDFromHex(recordID)
	if err != nil {
		return fmt.Errorf("%w: %s", sales.ErrRecordNotFound, recordID)
	}

	filter := bson.M{
		fieldID:         oid,
		fieldSyncStatus: bson.M{"$ne": string(sales.StatusSent)},
	}
	if update.ClaimToken != "" {
		filter[fieldClaimToken] = update.ClaimToken
	}

	result, err := a.sales.UpdateOne(ctx, filter, resolveUpdate(update))
	if err != nil {
		return fmt.Errorf("update record %s: %w", recordID, err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	n, err := a.sales.CountDocuments(ctx, bson.M{fieldID: oid})
	if err != nil {
		return fmt.Errorf("update record %s: %w", recordID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", sales.ErrRecordNotFound, recordID)
	}
	return fmt.Errorf("%w: %s", sales.ErrClaimLost, recordID)
}

func (a *Accessor) RecoverClaims(ctx context.Context, staleBefore time.Time) (int, error) {
	filter := bson.M{
		fieldSyncStatus: string(sales.StatusInFlight),
		fieldClaimedAt:  bson.M{"$lt": staleBefore},
	}
	update := bson.M{
		"$set":   bson.M{fieldSyncStatus: string(sales.StatusPending)},
		"$unset": bson.M{fieldClaimToken: "", fieldClaimedAt: ""},
	}

	result, err := a.sales.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("recover stale claims in %s: %w", a.sales.Name(), err)
	}
	return int(result.ModifiedCount), nil
}

// find returns matching records ordered by sale time
func (a *Accessor) find(ctx context.Context, filter bson.M, limit int64) ([]sales.DetailSaleRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: fieldSoldAt, Value: 1}, {Key: fieldID, Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := a.sales.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", a.sales.Name(), err)
	}

	var docs []detailSaleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", a.sales.Name(), err)
	}

	records := make([]sales.DetailSaleRecord, len(docs))
	for i, d := range docs {
		records[i] = d.toRecord()
	}
	return records, nil
}

// stationObjectID parses a station id. Ids that are not ObjectIDs cannot exist here.
func (a *Accessor) stationObjectID(stationID string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(stationID)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %s in partition %s", sales.ErrUnknownStation, stationID, a.name)
	}
	return oid, nil
}
