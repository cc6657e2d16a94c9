package memengine

import (
	"context"
	"log/slog"
)

// accessEvent is a fire-and-forget record that a memory was surfaced in a
// retrieval result, queued by the retrieval path and applied asynchronously
// by AccessTracker's worker.
type accessEvent struct {
	memoryID string
	when     int64
}

// AccessTracker records memory access asynchronously so UpdateAccess calls
// never add latency to the retrieval path, per section 4.10. A bounded
// channel plus a single dedicated worker goroutine apply the writes; when
// the channel is full, the newest event is dropped rather than blocking
// the caller, and the drop is logged at debug level (this is expected
// under load, not an error).
type AccessTracker struct {
	store  Store
	logger *slog.Logger
	events chan accessEvent
	done   chan struct{}
}

// AccessOption configures an AccessTracker.
type AccessOption func(*AccessTracker)

// WithAccessLogger sets the structured logger for an AccessTracker.
func WithAccessLogger(l *slog.Logger) AccessOption {
	return func(a *AccessTracker) { a.logger = l }
}

// WithAccessQueueSize sets the bounded channel capacity (default 256).
func WithAccessQueueSize(n int) AccessOption {
	return func(a *AccessTracker) { a.events = make(chan accessEvent, n) }
}

// NewAccessTracker creates an AccessTracker bound to store. Run must be
// started in its own goroutine before Record is useful.
func NewAccessTracker(store Store, opts ...AccessOption) *AccessTracker {
	a := &AccessTracker{
		store:  store,
		logger: slog.New(discardHandler{}),
		events: make(chan accessEvent, 256),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Record enqueues an access event for memoryID at time when. It never
// blocks: if the queue is full, the event is dropped.
func (a *AccessTracker) Record(memoryID string, when int64) {
	select {
	case a.events <- accessEvent{memoryID: memoryID, when: when}:
	default:
		a.logger.Debug("access queue full, dropping event", "memory_id", memoryID)
	}
}

// RecordAll enqueues an access event for every memory in a retrieval
// result set, all stamped with the same timestamp.
func (a *AccessTracker) RecordAll(memories []Memory, when int64) {
	for _, m := range memories {
		a.Record(m.MemoryID, when)
	}
}

// Run drains the event queue and applies each access to the store until
// ctx is canceled, at which point it finishes applying whatever is already
// queued and returns. Store failures are logged and swallowed: a failed
// access-count update never surfaces to the retrieval path that triggered
// it, since that path has already returned by the time this runs.
func (a *AccessTracker) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case ev := <-a.events:
			if err := a.store.UpdateAccess(ctx, ev.memoryID, ev.when); err != nil {
				a.logger.Warn("update access failed", "memory_id", ev.memoryID, "error", err)
			}
		case <-ctx.Done():
			a.drain()
			return
		}
	}
}

// drain applies whatever events are already queued, without blocking,
// using a background context since the caller's ctx is already canceled.
func (a *AccessTracker) drain() {
	bg := context.Background()
	for {
		select {
		case ev := <-a.events:
			if err := a.store.UpdateAccess(bg, ev.memoryID, ev.when); err != nil {
				a.logger.Warn("update access failed during drain", "memory_id", ev.memoryID, "error", err)
			}
		default:
			return
		}
	}
}
