package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livinlefevreloca/stationsync/internal/cron"
	"github.com/livinlefevreloca/stationsync/internal/cycle"
	"github.com/livinlefevreloca/stationsync/internal/inbox"
	"github.com/livinlefevreloca/stationsync/internal/lock"
)

var (
	// ErrCycleInFlight is returned when a cycle is already running here or on another instance
	ErrCycleInFlight = errors.New("scheduler: sync cycle already in flight")
	// ErrStopped is returned once the scheduler has been shut down
	ErrStopped = errors.New("scheduler: stopped")
)

// CycleRunner executes one sync cycle
type CycleRunner interface {
	Run(ctx context.Context) *cycle.SyncRun
}

// DistributedLock keeps cycles from overlapping across instances.
// TryAcquire returns lock.ErrNotAcquired when another instance holds it.
type DistributedLock interface {
	TryAcquire(ctx context.Context) (release func(context.Context) error, err error)
}

// Trigger is a request to start a cycle
type Trigger struct {
	Reason string
	At     time.Time
}

// Scheduler fires sync cycles on a cron cadence and never lets two overlap
type Scheduler struct {
	// Configuration
	config   Config
	schedule *cron.Schedule
	location *time.Location
	logger   *slog.Logger

	// Dependencies
	runner CycleRunner
	lock   DistributedLock

	// State
	guard    RunGuard
	inFlight sync.WaitGroup
	lastRun  atomic.Pointer[cycle.SyncRun]
	dropped  atomic.Int64

	// Communication
	triggers *inbox.Inbox[Trigger]

	// Control
	started  atomic.Bool
	admitMu  sync.Mutex // orders admit against closing shutdown
	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	now func() time.Time
}

// NewScheduler creates a scheduler with validated configuration. lock may be nil.
func NewScheduler(config Config, runner CycleRunner, distLock DistributedLock, logger *slog.Logger) (*Scheduler, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	schedule, err := cron.Parse(config.Schedule)
	if err != nil {
		return nil, err
	}
	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		config:   config,
		schedule: schedule,
		location: location,
		logger:   logger,
		runner:   runner,
		lock:     distLock,
		triggers: inbox.New[Trigger]("triggers", config.TriggerBufferSize, config.TriggerSendTimeout, logger),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start launches the scheduling loop in the background
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("starting scheduler",
		"schedule", s.schedule.String(),
		"timezone", s.location.String(),
		"next_run", s.NextRun())
	go s.run()
}

// Trigger asks the loop to start a cycle now. It returns false if the
// request could not be queued; a queued request can still be dropped if a
// cycle is in flight when it is handled.
func (s *Scheduler) Trigger(reason string) bool {
	return s.triggers.Send(Trigger{Reason: reason, At: s.now()})
}

// RunNow runs one cycle synchronously under the same guard as scheduled cycles.
// ctx only carries values; its cancellation does not interrupt the cycle.
func (s *Scheduler) RunNow(ctx context.Context) (*cycle.SyncRun, error) {
	if !s.admit() {
		return nil, ErrStopped
	}
	defer s.inFlight.Done()

	if !s.guard.TryAcquire() {
		return nil, ErrCycleInFlight
	}
	defer s.guard.Release()

	return s.execute(context.WithoutCancel(ctx), "manual")
}

// Shutdown stops scheduling and waits for an in-flight cycle to finish.
// It returns ctx's error if the wait is cut short.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.admitMu.Lock()
	s.stopOnce.Do(func() { close(s.shutdown) })
	s.admitMu.Unlock()

	if s.started.Load() {
		<-s.done
	}

	finished := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stopped with a cycle still in flight")
		return fmt.Errorf("waiting for in-flight cycle: %w", ctx.Err())
	}
}

// admit registers a cycle with inFlight unless shutdown has begun.
// Once Shutdown has closed the channel no further cycle is admitted.
func (s *Scheduler) admit() bool {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.inFlight.Add(1)
	return true
}

// NextRun returns the next scheduled fire time
func (s *Scheduler) NextRun() time.Time {
	return s.schedule.Next(s.now().In(s.location))
}

// LastRun returns the most recently finished cycle, or nil
func (s *Scheduler) LastRun() *cycle.SyncRun {
	return s.lastRun.Load()
}

// Running reports whether a cycle is in flight in this process
func (s *Scheduler) Running() bool {
	return s.guard.Running()
}

// Dropped returns how many triggers were dropped because a cycle was in flight
func (s *Scheduler) Dropped() int64 {
	return s.dropped.Load()
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	defer close(s.done)

	if s.config.RunOnStart {
		s.fire(Trigger{Reason: "startup", At: s.now()})
	}

	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		next := s.NextRun()
		if next.IsZero() {
			s.logger.Error("schedule never fires, waiting for manual triggers", "schedule", s.schedule.String())
		} else {
			timer = time.NewTimer(next.Sub(s.now()))
			timerC = timer.C
		}

		select {
		case <-s.shutdown:
			stopTimer(timer)
			return

		case <-timerC:
			s.fire(Trigger{Reason: "schedule", At: next})

		case t := <-s.triggers.C():
			s.triggers.Ack()
			stopTimer(timer)
			s.fire(t)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// fire starts a cycle in the background unless one is already running
func (s *Scheduler) fire(t Trigger) {
	if !s.admit() {
		return
	}
	if !s.guard.TryAcquire() {
		s.inFlight.Done()
		s.dropped.Add(1)
		s.logger.Warn("sync cycle still in flight, trigger dropped",
			"reason", t.Reason,
			"at", t.At)
		return
	}

	go func() {
		defer s.inFlight.Done()
		defer s.guard.Release()

		// Cycles are not tied to the scheduler's lifetime; Shutdown waits instead
		_, _ = s.execute(context.Background(), t.Reason)
	}()
}

// execute runs one cycle. A panic escaping the cycle is contained here.
func (s *Scheduler) execute(ctx context.Context, reason string) (run *cycle.SyncRun, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync cycle panicked", "reason", reason, "panic", r)
			run, err = nil, fmt.Errorf("sync cycle panicked: %v", r)
		}
	}()

	if s.lock != nil {
		release, err := s.lock.TryAcquire(ctx)
		if errors.Is(err, lock.ErrNotAcquired) {
			s.logger.Info("sync cycle skipped, another instance holds the lock", "reason", reason)
			return nil, fmt.Errorf("%w: %v", ErrCycleInFlight, err)
		}
		if err != nil {
			s.logger.Warn("sync cycle skipped, lock unavailable", "reason", reason, "error", err)
			return nil, err
		}
		defer func() {
			if err := release(ctx); err != nil {
				s.logger.Warn("failed to release cycle lock", "error", err)
			}
		}()
	}

	s.logger.Debug("sync cycle starting", "reason", reason)
	run = s.runner.Run(ctx)
	s.lastRun.Store(run)
	return run, nil
}
