package mongo

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/livinlefevreloca/stationsync/internal/sales"
	"github.com/livinlefevreloca/stationsync/internal/tenant"
)

// Directory derives station assignments the way the station application
// routes logins: a user's stationId lives in the partition named by the
// collectionName of its collectionId.
type Directory struct {
	users       *mongo.Collection
	collections *mongo.Collection
	aliases     map[string]sales.PartitionName
}

// NewDirectory reads the users and collections collections of db. aliases maps
// a collectionName to a partition name; unmapped names are used lowercased.
func NewDirectory(db *mongo.Database, aliases map[string]string) *Directory {
	d := &Directory{
		users:       db.Collection("users"),
		collections: db.Collection("collections"),
		aliases:     make(map[string]sales.PartitionName, len(aliases)),
	}
	for from, to := range aliases {
		d.aliases[strings.ToLower(from)] = sales.PartitionName(to)
	}
	return d
}

type collectionDocument struct {
	ID   primitive.ObjectID `bson:"_id"`
	Name string             `bson:"collectionName"`
}

type userDocument struct {
	StationID    primitive.ObjectID `bson:"stationId"`
	CollectionID primitive.ObjectID `bson:"collectionId"`
}

func (d *Directory) Assignments(ctx context.Context) ([]tenant.Assignment, error) {
	cursor, err := d.collections.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	var collections []collectionDocument
	if err := cursor.All(ctx, &collections); err != nil {
		return nil, fmt.Errorf("decode collections: %w", err)
	}

	partitions := make(map[primitive.ObjectID]sales.PartitionName, len(collections))
	for _, c := range collections {
		partitions[c.ID] = d.partitionFor(c.Name)
	}

	filter := bson.M{
		"stationId":    bson.M{"$type": "objectId"},
		"collectionId": bson.M{"$type": "objectId"},
	}
	opts := options.Find().SetProjection(bson.M{"stationId": 1, "collectionId": 1})
	cursor, err = d.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list station users: %w", err)
	}
	var users []userDocument
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode station users: %w", err)
	}

	// Several users may share a station; one assignment per distinct pair
	seen := make(map[tenant.Assignment]bool, len(users))
	assignments := make([]tenant.Assignment, 0, len(users))
	for _, u := range users {
		a := tenant.Assignment{
			StationID: u.StationID.Hex(),
			Partition: partitions[u.CollectionID],
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		assignments = append(assignments, a)
	}

	return assignments, nil
}

func (d *Directory) partitionFor(collectionName string) sales.PartitionName {
	key := strings.ToLower(strings.TrimSpace(collectionName))
	if p, ok := d.aliases[key]; ok {
		return p
	}
	return sales.PartitionName(key)
}
