package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/livinlefevreloca/stationsync/internal/sales"
)

// ErrConflictingAssignment is reported for a station assigned to more than one partition
var ErrConflictingAssignment = errors.New("tenant: station assigned to multiple partitions")

// Assignment maps one station to the partition that holds its data
type Assignment struct {
	StationID string
	Partition sales.PartitionName
}

// Directory lists the station to partition assignments known to the system
type Directory interface {
	Assignments(ctx context.Context) ([]Assignment, error)
}

// Registry produces point-in-time snapshots of station routing
type Registry struct {
	directory Directory
	logger    *slog.Logger
}

// NewRegistry creates a registry backed by the given directory
func NewRegistry(directory Directory, logger *slog.Logger) *Registry {
	return &Registry{
		directory: directory,
		logger:    logger,
	}
}

// Load reads the directory once and returns an immutable snapshot.
// A cycle resolves every station against the same snapshot, so an assignment
// changed while the cycle runs is only seen by the next cycle.
func (r *Registry) Load(ctx context.Context) (*Snapshot, error) {
	assignments, err := r.directory.Assignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load station assignments: %w", err)
	}

	snap := &Snapshot{
		partitions: make(map[string]sales.PartitionName, len(assignments)),
		takenAt:    time.Now(),
	}
	conflicted := make(map[string]bool)

	for _, a := range assignments {
		if a.StationID == "" || a.Partition == "" {
			r.logger.Warn("skipping incomplete station assignment",
				"station_id", a.StationID,
				"partition", a.Partition)
			continue
		}
		if conflicted[a.StationID] {
			continue
		}
		if existing, ok := snap.partitions[a.StationID]; ok && existing != a.Partition {
			r.logger.Error("station excluded from routing",
				"station_id", a.StationID,
				"partitions", []sales.PartitionName{existing, a.Partition},
				"error", ErrConflictingAssignment)
			delete(snap.partitions, a.StationID)
			conflicted[a.StationID] = true
			snap.conflicts = append(snap.conflicts, a.StationID)
			continue
		}
		snap.partitions[a.StationID] = a.Partition
	}

	sort.Strings(snap.conflicts)
	return snap, nil
}

// Snapshot is a frozen station to partition mapping
type Snapshot struct {
	partitions map[string]sales.PartitionName
	conflicts  []string
	takenAt    time.Time
}

// NewSnapshot builds a snapshot directly from assignments (used by tests and dry runs)
func NewSnapshot(assignments ...Assignment) *Snapshot {
	snap := &Snapshot{
		partitions: make(map[string]sales.PartitionName, len(assignments)),
		takenAt:    time.Now(),
	}
	for _, a := range assignments {
		snap.partitions[a.StationID] = a.Partition
	}
	return snap
}

// Resolve returns the partition a station belongs to
func (s *Snapshot) Resolve(stationID string) (sales.PartitionName, error) {
	name, ok := s.partitions[stationID]
	if !ok {
		return "", fmt.Errorf("%w: %s", sales.ErrUnknownStation, stationID)
	}
	return name, nil
}

// Stations returns every routable station id in sorted order
func (s *Snapshot) Stations() []string {
	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Conflicts returns stations excluded because of conflicting assignments
func (s *Snapshot) Conflicts() []string {
	return s.conflicts
}

// Len returns the number of routable stations
func (s *Snapshot) Len() int {
	return len(s.partitions)
}

// TakenAt returns when the snapshot was read
func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// StaticDirectory is a fixed list of assignments, typically from configuration
type StaticDirectory []Assignment

func (d StaticDirectory) Assignments(_ context.Context) ([]Assignment, error) {
	out := make([]Assignment, len(d))
	copy(out, d)
	return out, nil
}
