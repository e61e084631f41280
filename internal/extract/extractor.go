package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/stationsync/internal/partition"
	"github.com/livinlefevreloca/stationsync/internal/sales"
	"github.com/livinlefevreloca/stationsync/internal/tenant"
)

// Config controls how pending records are claimed and chunked
type Config struct {
	// Records per submission; 0 sends everything in one submission
	BatchSize int `toml:"batch_size"`

	// Cap on records claimed per station per cycle; 0 is unlimited
	MaxRecordsPerStation int `toml:"max_records_per_station"`

	// Claims older than this at cycle start are treated as left behind by a crash
	StaleClaimAfter time.Duration `toml:"stale_claim_after"`

	// Partitions extracted in parallel
	Concurrency int `toml:"concurrency"`
}

// DefaultConfig returns extraction defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:            500,
		MaxRecordsPerStation: 0,
		StaleClaimAfter:      10 * time.Minute,
		Concurrency:          4,
	}
}

// Validate checks extraction configuration
func (c Config) Validate() error {
	if c.BatchSize < 0 {
		return fmt.Errorf("extract batch_size must not be negative, got %d", c.BatchSize)
	}
	if c.MaxRecordsPerStation < 0 {
		return fmt.Errorf("extract max_records_per_station must not be negative, got %d", c.MaxRecordsPerStation)
	}
	if c.StaleClaimAfter <= 0 {
		return fmt.Errorf("extract stale_claim_after must be positive, got %v", c.StaleClaimAfter)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("extract concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}

// Extractor claims pending records across every routable station and formats them
type Extractor struct {
	config    Config
	selector  *partition.Selector
	formatter *Formatter
	logger    *slog.Logger
}

// NewExtractor creates an extractor
func NewExtractor(config Config, selector *partition.Selector, formatter *Formatter, logger *slog.Logger) (*Extractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		config:    config,
		selector:  selector,
		formatter: formatter,
		logger:    logger,
	}, nil
}

// Config returns the extraction configuration
func (e *Extractor) Config() Config {
	return e.config
}

// claimedRef locates a claimed record for release
type claimedRef struct {
	accessor partition.Accessor
	recordID string
}

// partitionResult is what one partition contributes to the batch
type partitionResult struct {
	items     []Item
	excluded  []Fault
	faults    []Fault
	recovered int
}

// Collect claims and formats every eligible record of every station in snap.
// All partition work is joined before it returns. On a storage error every
// claim taken so far is released back to PENDING and the error is returned.
func (e *Extractor) Collect(ctx context.Context, snap *tenant.Snapshot, claim sales.Claim) (*Batch, error) {
	batch := &Batch{claim: claim}

	groups := make(map[sales.PartitionName][]string)
	for _, stationID := range snap.Stations() {
		name, err := snap.Resolve(stationID)
		if err != nil {
			batch.faults = append(batch.faults, Fault{StationID: stationID, Err: err})
			continue
		}
		if _, err := e.selector.Select(name); err != nil {
			e.logger.Warn("station routed to unsupported partition",
				"station_id", stationID,
				"partition", name,
				"error", err)
			batch.faults = append(batch.faults, Fault{Partition: name, StationID: stationID, Err: err})
			continue
		}
		groups[name] = append(groups[name], stationID)
	}

	names := make([]sales.PartitionName, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var (
		mu      sync.Mutex
		claimed []claimedRef
	)
	track := func(acc partition.Accessor, recs []sales.DetailSaleRecord) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range recs {
			claimed = append(claimed, claimedRef{accessor: acc, recordID: r.ID})
		}
	}

	results := make([]partitionResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for i, name := range names {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("partition %s panicked: %v", name, r)
				}
			}()

			res, err := e.collectPartition(gctx, name, groups[name], claim, track)
			if err != nil {
				return fmt.Errorf("partition %s: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.releaseAll(ctx, claimed, claim, err)
		return nil, err
	}

	for _, res := range results {
		batch.items = append(batch.items, res.items...)
		batch.excluded = append(batch.excluded, res.excluded...)
		batch.faults = append(batch.faults, res.faults...)
		batch.recovered += res.recovered
	}

	return batch, nil
}

func (e *Extractor) collectPartition(
	ctx context.Context,
	name sales.PartitionName,
	stationIDs []string,
	claim sales.Claim,
	track func(partition.Accessor, []sales.DetailSaleRecord),
) (partitionResult, error) {
	var res partitionResult

	acc, err := e.selector.Select(name)
	if err != nil {
		return res, err
	}

	recovered, err := acc.RecoverClaims(ctx, claim.ClaimedAt.Add(-e.config.StaleClaimAfter))
	if err != nil {
		return res, fmt.Errorf("recover stale claims: %w", err)
	}
	if recovered > 0 {
		e.logger.Info("recovered stale claims", "partition", name, "count", recovered)
	}
	res.recovered = recovered

	for _, stationID := range stationIDs {
		st, err := acc.FindStation(ctx, stationID)
		if errors.Is(err, sales.ErrUnknownStation) {
			e.logger.Warn("station not found in its partition",
				"station_id", stationID,
				"partition", name)
			res.faults = append(res.faults, Fault{Partition: name, StationID: stationID, Err: err})
			continue
		}
		if err != nil {
			return res, fmt.Errorf("find station %s: %w", stationID, err)
		}

		recs, err := acc.ClaimPending(ctx, stationID, claim, e.config.MaxRecordsPerStation)
		if err != nil {
			return res, fmt.Errorf("claim records of station %s: %w", stationID, err)
		}
		track(acc, recs)

		for _, rec := range recs {
			payload, err := e.formatter.Format(st, rec)
			if err != nil {
				e.exclude(ctx, acc, rec, claim, err)
				res.excluded = append(res.excluded, Fault{Partition: name, StationID: stationID, RecordID: rec.ID, Err: err})
				continue
			}
			res.items = append(res.items, Item{
				Partition: name,
				StationID: stationID,
				Record:    rec,
				Payload:   payload,
			})
		}
	}

	return res, nil
}

// exclude releases a record that cannot be formatted back to PENDING
func (e *Extractor) exclude(ctx context.Context, acc partition.Accessor, rec sales.DetailSaleRecord, claim sales.Claim, cause error) {
	e.logger.Debug("record excluded from batch",
		"record_id", rec.ID,
		"station_id", rec.StationID,
		"error", cause)

	err := acc.UpdateStatus(ctx, rec.ID, sales.StatusUpdate{
		ClaimToken: claim.Token,
		Status:     sales.StatusPending,
		Error:      cause.Error(),
		At:         claim.ClaimedAt,
	})
	if err != nil {
		// The claim goes stale and is recovered by a later cycle
		e.logger.Warn("failed to release excluded record",
			"record_id", rec.ID,
			"error", err)
	}
}

// releaseAll returns every claim to PENDING after an aborted extraction
func (e *Extractor) releaseAll(ctx context.Context, claimed []claimedRef, claim sales.Claim, cause error) {
	released := 0
	for _, ref := range claimed {
		err := ref.accessor.UpdateStatus(ctx, ref.recordID, sales.StatusUpdate{
			ClaimToken: claim.Token,
			Status:     sales.StatusPending,
			At:         claim.ClaimedAt,
		})
		if err != nil {
			e.logger.Warn("failed to release claim after aborted extraction",
				"record_id", ref.recordID,
				"error", err)
			continue
		}
		released++
	}

	e.logger.Warn("extraction aborted",
		"claimed", len(claimed),
		"released", released,
		"error", cause)
}
