package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/stationsync/internal/extract"
	"github.com/livinlefevreloca/stationsync/internal/partition"
	"github.com/livinlefevreloca/stationsync/internal/sales"
	"github.com/livinlefevreloca/stationsync/internal/settlement"
)

// Dependencies are the collaborators a Runner drives
type Dependencies struct {
	Registry   SnapshotLoader
	Extractor  Collector
	Settlement Settlement
	Selector   *partition.Selector

	// Optional; runs are only logged when nil
	Ledger RunRecorder

	Logger *slog.Logger
}

// Runner executes sync cycles. It does not guard against overlapping
// calls to Run; the scheduler owns that.
type Runner struct {
	deps      Dependencies
	batchSize int
	now       func() time.Time

	// Optional state recorder for testing
	recorder *StateRecorder
}

// NewRunner creates a cycle runner. batchSize <= 0 submits everything in one request.
func NewRunner(deps Dependencies, batchSize int) *Runner {
	return &Runner{
		deps:      deps,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run executes one full cycle and returns its finalized summary.
// Every failure is contained in the returned run.
func (r *Runner) Run(ctx context.Context) *SyncRun {
	now := r.now()
	c := &cycle{
		Runner: r,
		state:  &IdleState{},
		claim:  sales.Claim{Token: uuid.NewString(), ClaimedAt: now},
	}
	c.run = &SyncRun{
		ID:         uuid.NewString(),
		ClaimToken: c.claim.Token,
		StartedAt:  now,
	}

	c.execute(ctx)
	return c.run
}

// chunkOutcome is the result of submitting one chunk
type chunkOutcome struct {
	items  []extract.Item
	result *settlement.SubmissionResult
	err    error
}

// cycle is the state of a single execution
type cycle struct {
	*Runner

	state State
	run   *SyncRun
	claim sales.Claim

	token    *settlement.Token
	renewed  bool
	batch    *extract.Batch
	outcomes []chunkOutcome

	err      error
	finished bool
}

// transitionTo performs a state transition and logs it
func (c *cycle) transitionTo(newState State) {
	oldStateName := c.state.Name()
	c.state = newState

	if c.recorder != nil {
		c.recorder.Record(newState)
	}

	c.deps.Logger.Debug("state transition",
		"from", oldStateName,
		"to", newState.Name(),
		"run_id", c.run.ID)
}

// execute is the main cycle loop
func (c *cycle) execute(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.deps.Logger.Error("cycle panic recovered",
				"run_id", c.run.ID,
				"state", c.state.Name(),
				"panic", r)
			if c.finished {
				return
			}
			if c.err == nil {
				c.err = fmt.Errorf("panic in %s: %v", c.state.Name(), r)
			}
			if _, failing := c.state.(*FailedState); failing {
				c.run.Status = RunFailed
				c.finish(ctx)
				return
			}
			c.transitionTo(&FailedState{})
			c.runFailed(ctx)
		}
	}()

	for {
		switch c.state.(type) {
		case *IdleState:
			if c.finished {
				return
			}
			c.runIdle()
		case *AuthenticatingState:
			c.runAuthenticating(ctx)
		case *ExtractingState:
			c.runExtracting(ctx)
		case *SubmittingState:
			c.runSubmitting(ctx)
		case *RecordingState:
			c.runRecording(ctx)
		case *FailedState:
			c.runFailed(ctx)
		default:
			c.deps.Logger.Error("unknown state type",
				"state", fmt.Sprintf("%T", c.state),
				"run_id", c.run.ID)
			c.err = fmt.Errorf("unknown state %T", c.state)
			c.transitionTo(&FailedState{})
		}
	}
}

func (c *cycle) runIdle() {
	state := c.state.(*IdleState)
	c.transitionTo(state.ToAuthenticating())
}

// runAuthenticating obtains the token. Nothing is claimed before this succeeds.
func (c *cycle) runAuthenticating(ctx context.Context) {
	state := c.state.(*AuthenticatingState)

	token, err := c.authenticate(ctx)
	if err != nil {
		c.err = err
		c.transitionTo(state.ToFailed())
		return
	}

	c.token = token
	c.run.TokenAcquired = true
	c.transitionTo(state.ToExtracting())
}

func (c *cycle) authenticate(ctx context.Context) (*settlement.Token, error) {
	token, err := c.deps.Settlement.Authenticate(ctx)
	if err != nil {
		attrs := []any{"run_id", c.run.ID, "error", err}
		var authErr *sales.AuthError
		if errors.As(err, &authErr) {
			attrs = append(attrs, "rejected", authErr.Rejected, "status_code", authErr.StatusCode)
		}
		c.deps.Logger.Error("settlement authentication failed", attrs...)
		return nil, err
	}
	return token, nil
}

// runExtracting takes the routing snapshot and claims everything eligible
func (c *cycle) runExtracting(ctx context.Context) {
	state := c.state.(*ExtractingState)

	snap, err := c.deps.Registry.Load(ctx)
	if err != nil {
		c.err = fmt.Errorf("load station assignments: %w", err)
		c.transitionTo(state.ToFailed())
		return
	}

	batch, err := c.deps.Extractor.Collect(ctx, snap, c.claim)
	if err != nil {
		c.err = fmt.Errorf("extract pending records: %w", err)
		c.transitionTo(state.ToFailed())
		return
	}

	c.batch = batch
	c.run.Excluded = len(batch.Excluded())
	c.run.StationFaults = len(batch.Faults()) + len(snap.Conflicts())
	c.run.Recovered = batch.Recovered()

	if batch.Len() == 0 {
		c.transitionTo(state.ToRecording())
		return
	}
	c.transitionTo(state.ToSubmitting())
}

// runSubmitting delivers each chunk once, in order
func (c *cycle) runSubmitting(ctx context.Context) {
	state := c.state.(*SubmittingState)

	for chunk := range c.batch.Chunks(c.batchSize) {
		c.run.Attempted += len(chunk)

		if !c.token.Valid(c.now()) && !c.renewed {
			c.renewed = true
			c.deps.Logger.Info("settlement token expired, renewing", "run_id", c.run.ID)
			if token, err := c.authenticate(ctx); err == nil {
				c.token = token
			}
		}

		records := make([]settlement.Record, len(chunk))
		for i, item := range chunk {
			records[i] = item.Payload
		}

		result, err := c.deps.Settlement.Submit(ctx, c.token, records)
		if err != nil {
			c.deps.Logger.Warn("chunk submission failed",
				"run_id", c.run.ID,
				"records", len(chunk),
				"error", err)
		}
		c.outcomes = append(c.outcomes, chunkOutcome{items: chunk, result: result, err: err})
	}

	var lastErr error
	delivered := 0
	for _, o := range c.outcomes {
		if o.err == nil {
			delivered++
		} else {
			lastErr = o.err
		}
	}

	if delivered == 0 {
		c.err = lastErr
		c.transitionTo(state.ToFailed())
		return
	}
	c.transitionTo(state.ToRecording())
}

// runRecording writes delivery outcomes back and finalizes the run
func (c *cycle) runRecording(ctx context.Context) {
	state := c.state.(*RecordingState)

	c.resolveOutcomes(ctx)

	switch {
	case c.run.Attempted == 0:
		c.run.Status = RunEmpty
	case c.run.Failed == 0:
		c.run.Status = RunSucceeded
	default:
		c.run.Status = RunPartial
	}

	c.finish(ctx)
	c.transitionTo(state.ToIdle())
}

// runFailed resolves every claim this cycle still holds and finalizes the run
func (c *cycle) runFailed(ctx context.Context) {
	state := c.state.(*FailedState)

	submitted := c.resolveOutcomes(ctx)

	if c.batch != nil {
		var unsent []extract.Item
		for _, item := range c.batch.Items() {
			if !submitted[item.Record.ID] {
				unsent = append(unsent, item)
			}
		}
		c.resolve(ctx, unsent, sales.StatusUpdate{
			ClaimToken: c.claim.Token,
			Status:     sales.StatusPending,
			At:         c.now(),
		})
	}

	c.run.Status = RunFailed
	c.finish(ctx)
	c.transitionTo(state.ToIdle())
}

// resolveOutcomes marks delivered chunks SENT and rejected chunks FAILED.
// It returns the ids of every record that was part of a submission.
func (c *cycle) resolveOutcomes(ctx context.Context) map[string]bool {
	submitted := make(map[string]bool)
	seen := make(map[string]bool)

	for _, o := range c.outcomes {
		for _, item := range o.items {
			submitted[item.Record.ID] = true
		}

		if o.err != nil {
			c.run.Failed += len(o.items)
			c.resolve(ctx, o.items, sales.StatusUpdate{
				ClaimToken: c.claim.Token,
				Status:     sales.StatusFailed,
				Error:      o.err.Error(),
				At:         c.now(),
			})
			continue
		}

		c.run.Acknowledged += len(o.items)
		if txID := o.result.TransactionID; txID != "" && !seen[txID] {
			seen[txID] = true
			c.run.TransactionIDs = append(c.run.TransactionIDs, txID)
		}
		c.resolve(ctx, o.items, sales.StatusUpdate{
			ClaimToken:    c.claim.Token,
			Status:        sales.StatusSent,
			TransactionID: o.result.TransactionID,
			At:            c.now(),
		})
	}

	c.outcomes = nil
	return submitted
}

// resolve applies update to every item. A write that fails leaves the claim
// to be recovered by a later cycle.
func (c *cycle) resolve(ctx context.Context, items []extract.Item, update sales.StatusUpdate) {
	for _, item := range items {
		acc, err := c.deps.Selector.Select(item.Partition)
		if err == nil {
			err = acc.UpdateStatus(ctx, item.Record.ID, update)
		}
		if err != nil {
			c.deps.Logger.Warn("failed to record sync status",
				"run_id", c.run.ID,
				"record_id", item.Record.ID,
				"status", update.Status,
				"error", err)
		}
	}
}

// finish logs the outcome line and hands the run to the ledger
func (c *cycle) finish(ctx context.Context) {
	c.run.FinishedAt = c.now()
	c.run.FinalState = c.state.Name()
	if c.err != nil {
		c.run.Error = c.err.Error()
	}
	c.finished = true

	c.deps.Logger.Info("sync cycle finished",
		"run_id", c.run.ID,
		"status", c.run.Status,
		"attempted", c.run.Attempted,
		"acknowledged", c.run.Acknowledged,
		"excluded", c.run.Excluded,
		"failed", c.run.Failed,
		"transaction", strings.Join(c.run.TransactionIDs, ","),
		"duration", c.run.Duration(),
		"error", c.run.Error)

	if c.deps.Ledger == nil {
		return
	}
	if err := c.deps.Ledger.RecordRun(ctx, c.run); err != nil {
		c.deps.Logger.Warn("failed to record sync run",
			"run_id", c.run.ID,
			"error", err)
	}
}
