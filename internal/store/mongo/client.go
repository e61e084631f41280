package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/livinlefevreloca/stationsync/internal/sales"
)

// Config holds the MongoDB connection settings
type Config struct {
	URI               string            `toml:"uri" env:"URI"`
	Database          string            `toml:"database" env:"DATABASE"`
	ConnectTimeout    time.Duration     `toml:"connect_timeout"`
	CollectionAliases map[string]string `toml:"collection_aliases"`
	EnsureIndexes     bool              `toml:"ensure_indexes"`
}

// PartitionConfig declares one partition. Database overrides Config.Database.
type PartitionConfig struct {
	Name     string `toml:"name"`
	Database string `toml:"database"`
}

// DefaultConfig returns settings for a local server and the ks/cs partitions
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "station",
		ConnectTimeout: 10 * time.Second,
		EnsureIndexes:  true,
	}
}

// DefaultPartitions returns the two partitions the station application writes
func DefaultPartitions() []PartitionConfig {
	return []PartitionConfig{{Name: "ks"}, {Name: "cs"}}
}

// Validate checks the connection settings
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("mongo uri must not be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("mongo database must not be empty")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("mongo connect_timeout must be positive")
	}
	return nil
}

// Connect opens a client and verifies the primary is reachable. Reads go to
// the primary so a cycle sees its own claim writes.
func Connect(ctx context.Context, config Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(config.URI).
		SetReadPreference(readpref.Primary()).
		SetConnectTimeout(config.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return client, nil
}

// NewAccessors builds one accessor per partition, creating indexes if configured
func NewAccessors(ctx context.Context, client *mongo.Client, config Config, partitions []PartitionConfig) ([]*Accessor, error) {
	accessors := make([]*Accessor, 0, len(partitions))
	for _, p := range partitions {
		dbName := p.Database
		if dbName == "" {
			dbName = config.Database
		}

		a := NewAccessor(client.Database(dbName), sales.PartitionName(p.Name))
		if config.EnsureIndexes {
			if err := a.EnsureIndexes(ctx); err != nil {
				return nil, err
			}
		}
		accessors = append(accessors, a)
	}
	return accessors, nil
}
