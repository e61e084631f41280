package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/stationsync/internal/cycle"
)

// Ledger records finalized sync runs. It implements cycle.RunRecorder.
type Ledger struct {
	db        *DB
	retention time.Duration
	logger    *slog.Logger
}

// NewLedger creates a ledger over db. Runs older than retention are pruned
// after each write; retention <= 0 keeps everything.
func NewLedger(db *DB, retention time.Duration, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, retention: retention, logger: logger}
}

// RecordRun persists run
func (l *Ledger) RecordRun(ctx context.Context, run *cycle.SyncRun) error {
	record := &RunRecord{
		ID:             run.ID,
		ClaimToken:     run.ClaimToken,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		TokenAcquired:  run.TokenAcquired,
		Attempted:      run.Attempted,
		Acknowledged:   run.Acknowledged,
		Excluded:       run.Excluded,
		Failed:         run.Failed,
		StationFaults:  run.StationFaults,
		Recovered:      run.Recovered,
		Status:         string(run.Status),
		FinalState:     run.FinalState,
		Error:          run.Error,
		TransactionIDs: run.TransactionIDs,
	}

	if err := l.db.CreateRun(ctx, record); err != nil {
		return fmt.Errorf("record sync run %s: %w", run.ID, err)
	}

	if l.retention <= 0 {
		return nil
	}

	pruned, err := l.db.PruneRuns(ctx, run.StartedAt.Add(-l.retention))
	if err != nil {
		l.logger.Warn("failed to prune sync runs", "error", err)
		return nil
	}
	if pruned > 0 {
		l.logger.Debug("pruned sync runs", "count", pruned)
	}
	return nil
}
