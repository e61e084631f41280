package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunRecord is one row of the sync run ledger
type RunRecord struct {
	ID             string
	ClaimToken     string
	StartedAt      time.Time
	FinishedAt     time.Time
	TokenAcquired  bool
	Attempted      int
	Acknowledged   int
	Excluded       int
	Failed         int
	StationFaults  int
	Recovered      int
	Status         string
	FinalState     string
	Error          string
	TransactionIDs []string
}

// execer is satisfied by both *DB and *Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const runColumns = `id, claim_token, started_at, finished_at, token_acquired, attempted, acknowledged,
	excluded, failed, station_faults, recovered, status, final_state, error`

// CreateRun inserts a run and its transaction ids atomically
func (db *DB) CreateRun(ctx context.Context, run *RunRecord) error {
	return db.WithTransaction(ctx, func(tx *Tx) error {
		return tx.CreateRun(ctx, run)
	})
}

// CreateRun inserts a run and its transaction ids within the transaction
func (tx *Tx) CreateRun(ctx context.Context, run *RunRecord) error {
	return insertRun(ctx, tx.Tx, tx.db.rebind, run)
}

func insertRun(ctx context.Context, ex execer, rebind func(string) string, run *RunRecord) error {
	query := rebind(`
		INSERT INTO sync_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := ex.ExecContext(ctx, query,
		run.ID,
		run.ClaimToken,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.TokenAcquired,
		run.Attempted,
		run.Acknowledged,
		run.Excluded,
		run.Failed,
		run.StationFaults,
		run.Recovered,
		run.Status,
		run.FinalState,
		run.Error,
	)
	if err != nil {
		if IsDuplicate(err) {
			return fmt.Errorf("sync run %s: %w", run.ID, ErrDuplicate)
		}
		return err
	}

	txQuery := rebind(`INSERT INTO sync_run_transactions (run_id, seq, transaction_id) VALUES (?, ?, ?)`)
	for i, txID := range run.TransactionIDs {
		if _, err := ex.ExecContext(ctx, txQuery, run.ID, i, txID); err != nil {
			if IsForeignKey(err) {
				return fmt.Errorf("transaction for run %s: %w", run.ID, ErrForeignKey)
			}
			return err
		}
	}

	return nil
}

// GetRun retrieves a run by id
func (db *DB) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := db.rebind(`SELECT ` + runColumns + ` FROM sync_runs WHERE id = ?`)

	run, err := scanRun(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := db.loadTransactions(ctx, []*RunRecord{run}); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.loadTransactions(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// PruneRuns deletes runs that started before cutoff and returns how many were removed
func (db *DB) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	// Transaction rows go with their run through ON DELETE CASCADE
	result, err := db.ExecContext(ctx, db.rebind(`DELETE FROM sync_runs WHERE started_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	run := &RunRecord{}
	err := row.Scan(
		&run.ID,
		&run.ClaimToken,
		&run.StartedAt,
		&run.FinishedAt,
		&run.TokenAcquired,
		&run.Attempted,
		&run.Acknowledged,
		&run.Excluded,
		&run.Failed,
		&run.StationFaults,
		&run.Recovered,
		&run.Status,
		&run.FinalState,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (db *DB) loadTransactions(ctx context.Context, runs []*RunRecord) error {
	query := db.rebind(`SELECT transaction_id FROM sync_run_transactions WHERE run_id = ? ORDER BY seq`)

	for _, run := range runs {
		rows, err := db.QueryContext(ctx, query, run.ID)
		if err != nil {
			return err
		}

		for rows.Next() {
			var txID string
			if err := rows.Scan(&txID); err != nil {
				rows.Close()
				return err
			}
			run.TransactionIDs = append(run.TransactionIDs, txID)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
