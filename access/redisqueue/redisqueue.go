// Package redisqueue is an optional AccessTracker backend for deployments
// that run the engine as more than one process sharing a Store: access
// events are queued through Redis instead of an in-process channel, so
// every process's retrieval path feeds the same worker-side UpdateAccess
// stream. The default, single-process wiring should still prefer
// memengine.AccessTracker's in-process channel; this package exists for the
// multi-process case.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solace-run/memengine"
)

type event struct {
	MemoryID string `json:"memory_id"`
	When     int64  `json:"when"`
}

// Queue is a bounded, fire-and-forget access-event queue backed by a Redis
// list. Push never blocks the caller: when the list is already at maxLen,
// the new event is dropped and logged, matching the drop-on-overflow
// semantics of the in-process AccessTracker.
type Queue struct {
	client *redis.Client
	key    string
	maxLen int64
	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the structured logger for a Queue.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a Queue bound to client, storing events under key. maxLen
// bounds the list length (default 256, matching AccessTracker's default
// channel capacity).
func New(client *redis.Client, key string, maxLen int64, opts ...Option) *Queue {
	if maxLen <= 0 {
		maxLen = 256
	}
	q := &Queue{
		client: client,
		key:    key,
		maxLen: maxLen,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push enqueues an access event for memoryID at time when. If the queue is
// already at capacity the event is dropped, never blocking the caller.
func (q *Queue) Push(ctx context.Context, memoryID string, when int64) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		q.logger.WarnContext(ctx, "redisqueue: llen failed, dropping event", "error", err)
		return
	}
	if n >= q.maxLen {
		q.logger.DebugContext(ctx, "redisqueue: queue full, dropping event", "memory_id", memoryID)
		return
	}

	payload, err := json.Marshal(event{MemoryID: memoryID, When: when})
	if err != nil {
		q.logger.WarnContext(ctx, "redisqueue: marshal failed, dropping event", "error", err)
		return
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		q.logger.WarnContext(ctx, "redisqueue: rpush failed, dropping event", "error", err)
	}
}

// PushAll enqueues an access event for every memory in a retrieval result
// set, all stamped with the same timestamp.
func (q *Queue) PushAll(ctx context.Context, memories []memengine.Memory, when int64) {
	for _, m := range memories {
		q.Push(ctx, m.MemoryID, when)
	}
}

// Run blocks, popping events and applying them to store via UpdateAccess,
// until ctx is canceled. Store failures are logged and swallowed, same
// posture as AccessTracker.Run.
func (q *Queue) Run(ctx context.Context, store memengine.Store) {
	for {
		result, err := q.client.BLPop(ctx, 5*time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(ctx.Err(), context.Canceled) {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			q.logger.WarnContext(ctx, "redisqueue: blpop failed", "error", err)
			continue
		}
		// result[0] is the key name, result[1] is the payload.
		if len(result) != 2 {
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
			q.logger.WarnContext(ctx, "redisqueue: malformed event, dropping", "error", err)
			continue
		}
		if err := store.UpdateAccess(ctx, ev.MemoryID, ev.When); err != nil {
			q.logger.WarnContext(ctx, "redisqueue: update access failed", "memory_id", ev.MemoryID, "error", err)
		}
	}
}
