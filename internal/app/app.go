// Package app assembles the sync service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/livinlefevreloca/stationsync/internal/config"
	"github.com/livinlefevreloca/stationsync/internal/cycle"
	"github.com/livinlefevreloca/stationsync/internal/db"
	"github.com/livinlefevreloca/stationsync/internal/extract"
	"github.com/livinlefevreloca/stationsync/internal/lock"
	"github.com/livinlefevreloca/stationsync/internal/partition"
	"github.com/livinlefevreloca/stationsync/internal/sales"
	"github.com/livinlefevreloca/stationsync/internal/scheduler"
	"github.com/livinlefevreloca/stationsync/internal/settlement"
	"github.com/livinlefevreloca/stationsync/internal/store/mongo"
	"github.com/livinlefevreloca/stationsync/internal/tenant"
)

// App is the assembled service
type App struct {
	config *config.Config
	logger *slog.Logger

	Registry  *tenant.Registry
	Selector  *partition.Selector
	Runner    *cycle.Runner
	Scheduler *scheduler.Scheduler
	Ledger    *db.DB

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Components are the externally backed pieces an App is built from
type Components struct {
	Directory tenant.Directory
	Accessors []partition.Accessor

	// Optional
	Ledger     *db.DB
	Lock       scheduler.DistributedLock
	HTTPClient *http.Client
}

// NewLogger builds the process logger described by cfg
func NewLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}
}

// New connects to every backing service named in cfg and assembles the App.
// Whatever was opened before a failure is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	var closers []closer
	fail := func(err error) (*App, error) {
		closeAll(context.Background(), closers, logger)
		return nil, err
	}

	logger.Info("connecting to mongo", "database", cfg.Mongo.Database)
	client, err := mongo.Connect(ctx, cfg.Mongo)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closer{"mongo", client.Disconnect})

	stores, err := mongo.NewAccessors(ctx, client, cfg.Mongo, cfg.Partitions)
	if err != nil {
		return fail(err)
	}
	accessors := make([]partition.Accessor, len(stores))
	for i, s := range stores {
		accessors[i] = s
	}

	comps := Components{
		Directory: mongo.NewDirectory(client.Database(cfg.Mongo.Database), cfg.Mongo.CollectionAliases),
		Accessors: accessors,
	}

	logger.Info("opening run ledger", "driver", cfg.Database.Driver)
	ledger, err := OpenLedger(ctx, cfg.Database, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closer{"ledger", func(context.Context) error { return ledger.Close() }})
	comps.Ledger = ledger

	if cfg.Lock.Enabled {
		redisClient := lock.NewClient(cfg.Lock)
		closers = append(closers, closer{"redis", func(context.Context) error { return redisClient.Close() }})

		rl := lock.NewRedisLock(redisClient, cfg.Lock.Key, cfg.Lock.TTL, logger)
		if err := rl.Ping(ctx); err != nil {
			return fail(fmt.Errorf("lock redis unreachable: %w", err))
		}
		logger.Info("cycle lock enabled", "key", cfg.Lock.Key, "owner", rl.OwnerID())
		comps.Lock = rl
	}

	a, err := Assemble(cfg, comps, logger)
	if err != nil {
		return fail(err)
	}
	a.closers = closers
	return a, nil
}

// OpenLedger opens the run ledger and applies migrations unless configured not to
func OpenLedger(ctx context.Context, cfg db.Config, logger *slog.Logger) (*db.DB, error) {
	ledger, err := db.OpenWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}

	if cfg.SkipMigrations {
		logger.Info("skipping migrations", "reason", "configured to skip")
		return ledger, nil
	}

	applied, err := ledger.Migrate(ctx)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("migrate run ledger: %w", err)
	}
	version, err := ledger.Version(ctx)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("read ledger schema version: %w", err)
	}
	logger.Info("run ledger ready", "version", version, "applied", len(applied))

	return ledger, nil
}

// Assemble wires the sync pipeline over already constructed components
func Assemble(cfg *config.Config, comps Components, logger *slog.Logger) (*App, error) {
	selector, err := partition.NewSelector(comps.Accessors...)
	if err != nil {
		return nil, err
	}

	client, err := settlement.NewClient(cfg.Settlement, comps.HTTPClient, logger)
	if err != nil {
		return nil, err
	}

	extractor, err := extract.NewExtractor(cfg.Extract, selector, extract.NewFormatter(cfg.Settlement), logger)
	if err != nil {
		return nil, err
	}

	registry := tenant.NewRegistry(comps.Directory, logger)

	deps := cycle.Dependencies{
		Registry:   registry,
		Extractor:  extractor,
		Settlement: client,
		Selector:   selector,
		Logger:     logger,
	}
	if comps.Ledger != nil {
		deps.Ledger = db.NewLedger(comps.Ledger, cfg.Database.RunRetention, logger)
	}
	runner := cycle.NewRunner(deps, cfg.Extract.BatchSize)

	sched, err := scheduler.NewScheduler(cfg.Scheduler, runner, comps.Lock, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		config:    cfg,
		logger:    logger,
		Registry:  registry,
		Selector:  selector,
		Runner:    runner,
		Scheduler: sched,
		Ledger:    comps.Ledger,
	}, nil
}

// Serve runs the scheduler until ctx is cancelled, then waits up to
// shutdownTimeout for an in-flight cycle to finish.
func (a *App) Serve(ctx context.Context, shutdownTimeout time.Duration) error {
	a.Scheduler.Start()
	a.logger.Info("stationsync is running",
		"schedule", a.config.Scheduler.Schedule,
		"timezone", a.config.Scheduler.Timezone,
		"next_run", a.Scheduler.NextRun())

	<-ctx.Done()
	a.logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Scheduler.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	return nil
}

// SyncOnce runs one cycle now, subject to the same overlap rules as scheduled cycles
func (a *App) SyncOnce(ctx context.Context) (*cycle.SyncRun, error) {
	return a.Scheduler.RunNow(ctx)
}

// PendingStation is the backlog of one station
type PendingStation struct {
	StationID string
	Partition sales.PartitionName
	Pending   int
	Err       error
}

// Pending counts each routed station's claimable records without claiming them
func (a *App) Pending(ctx context.Context) ([]PendingStation, error) {
	snap, err := a.Registry.Load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]PendingStation, 0, snap.Len())
	for _, stationID := range snap.Stations() {
		p := PendingStation{StationID: stationID}

		name, err := snap.Resolve(stationID)
		if err != nil {
			p.Err = err
			out = append(out, p)
			continue
		}
		p.Partition = name

		acc, err := a.Selector.Select(name)
		if err != nil {
			p.Err = err
			out = append(out, p)
			continue
		}

		records, err := acc.ListPending(ctx, stationID)
		if err != nil {
			if errors.Is(err, sales.ErrUnknownStation) {
				p.Err = err
				out = append(out, p)
				continue
			}
			return nil, fmt.Errorf("list pending for %s: %w", stationID, err)
		}
		p.Pending = len(records)
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Partition != out[j].Partition {
			return out[i].Partition < out[j].Partition
		}
		return out[i].StationID < out[j].StationID
	})
	return out, nil
}

// Close releases every connection the App opened, last opened first
func (a *App) Close(ctx context.Context) error {
	return closeAll(ctx, a.closers, a.logger)
}

func closeAll(ctx context.Context, closers []closer, logger *slog.Logger) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			logger.Warn("failed to close connection", "name", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}
