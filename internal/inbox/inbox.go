package inbox

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Inbox is a bounded message queue whose sends give up after a timeout
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger
	name    string

	sent     atomic.Int64
	received atomic.Int64
	timeouts atomic.Int64

	mu       sync.Mutex
	maxDepth int
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates an inbox holding up to bufferSize messages
func New[T any](name string, bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
		name:    name,
	}
}

// Send queues msg, waiting at most the inbox timeout for space.
// Returns false if the message was dropped.
func (ib *Inbox[T]) Send(msg T) bool {
	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case ib.ch <- msg:
		ib.sent.Add(1)
		ib.recordDepth()
		return true
	case <-timer.C:
		ib.timeouts.Add(1)
		ib.logger.Warn("inbox send timeout",
			"inbox", ib.name,
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return false
	}
}

// TryReceive returns a queued message without blocking
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg := <-ib.ch:
		ib.received.Add(1)
		return msg, true
	default:
		var zero T
		return zero, false
	}
}

// C exposes the queue for use in a select. Callers that take a message
// from it should call Ack so the stats stay accurate.
func (ib *Inbox[T]) C() <-chan T {
	return ib.ch
}

// Ack counts a message taken directly from C
func (ib *Inbox[T]) Ack() {
	ib.received.Add(1)
}

// Len returns the current number of queued messages
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}

func (ib *Inbox[T]) recordDepth() {
	depth := len(ib.ch)
	ib.mu.Lock()
	if depth > ib.maxDepth {
		ib.maxDepth = depth
	}
	ib.mu.Unlock()
}

// Stats returns a copy of the current statistics
func (ib *Inbox[T]) Stats() Stats {
	ib.mu.Lock()
	maxDepth := ib.maxDepth
	ib.mu.Unlock()

	return Stats{
		TotalSent:     ib.sent.Load(),
		TotalReceived: ib.received.Load(),
		TimeoutCount:  ib.timeouts.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  maxDepth,
	}
}
