package cycle

import (
	"context"
	"time"

	"github.com/livinlefevreloca/stationsync/internal/extract"
	"github.com/livinlefevreloca/stationsync/internal/sales"
	"github.com/livinlefevreloca/stationsync/internal/settlement"
	"github.com/livinlefevreloca/stationsync/internal/tenant"
)

// RunStatus is the overall outcome of one cycle
type RunStatus string

const (
	// RunSucceeded means every submitted record was acknowledged
	RunSucceeded RunStatus = "succeeded"
	// RunPartial means some chunks were acknowledged and some were not
	RunPartial RunStatus = "partial"
	// RunFailed means the cycle ended without delivering anything
	RunFailed RunStatus = "failed"
	// RunEmpty means there was nothing to submit
	RunEmpty RunStatus = "empty"
)

// SyncRun is the summary of one cycle. It is finalized once and not mutated afterwards.
type SyncRun struct {
	ID            string
	ClaimToken    string
	StartedAt     time.Time
	FinishedAt    time.Time
	TokenAcquired bool

	Attempted     int // records included in submissions
	Acknowledged  int
	Excluded      int // records dropped by formatting
	Failed        int
	StationFaults int
	Recovered     int // stale claims returned to PENDING

	TransactionIDs []string
	Status         RunStatus
	FinalState     string
	Error          string
}

// Duration returns how long the cycle took
func (r *SyncRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SnapshotLoader produces the station-to-partition snapshot a cycle routes with
type SnapshotLoader interface {
	Load(ctx context.Context) (*tenant.Snapshot, error)
}

// Collector claims and formats the records one cycle will submit
type Collector interface {
	Collect(ctx context.Context, snap *tenant.Snapshot, claim sales.Claim) (*extract.Batch, error)
}

// Settlement is the external service records are delivered to
type Settlement interface {
	Authenticate(ctx context.Context) (*settlement.Token, error)
	Submit(ctx context.Context, token *settlement.Token, records []settlement.Record) (*settlement.SubmissionResult, error)
}

// RunRecorder persists finalized runs
type RunRecorder interface {
	RecordRun(ctx context.Context, run *SyncRun) error
}
