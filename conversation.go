package memengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// convState is the per-conversation bookkeeping ConversationTracker needs
// to decide when a conversation has gone idle or materially changed.
type convState struct {
	turns         []Turn
	lastSeen      int64
	checkpointLen int
	firstTurnHash string
}

// ConversationTracker watches turns as they arrive and decides when a
// conversation is done enough to hand its transcript to an Extractor,
// either because it's gone idle past T_idle with a material change since
// the last checkpoint, or because the caller sent an explicit finish
// signal. Grounded in the teacher's per-session state map plus ticker
// idiom, generalized here from a single bot session to an arbitrary
// conversation_id keyspace.
type ConversationTracker struct {
	mu    sync.Mutex
	state map[string]*convState

	onFinish func(ctx context.Context, conversationID string, turns []Turn)
	logger   *slog.Logger

	idleTimeout time.Duration // T_idle, nominally 600s
}

// ConversationOption configures a ConversationTracker.
type ConversationOption func(*ConversationTracker)

// WithIdleTimeout sets T_idle, the duration of inactivity after which a
// conversation with a material change is considered finished (default
// 600s).
func WithIdleTimeout(d time.Duration) ConversationOption {
	return func(c *ConversationTracker) { c.idleTimeout = d }
}

// WithConversationLogger sets the structured logger for a
// ConversationTracker.
func WithConversationLogger(l *slog.Logger) ConversationOption {
	return func(c *ConversationTracker) { c.logger = l }
}

// NewConversationTracker creates a ConversationTracker. onFinish is called,
// from a background goroutine, whenever a conversation is judged finished;
// the transcript handed to it is every turn observed for that conversation
// so far (a checkpoint does not clear earlier turns).
func NewConversationTracker(onFinish func(ctx context.Context, conversationID string, turns []Turn), opts ...ConversationOption) *ConversationTracker {
	c := &ConversationTracker{
		state:       make(map[string]*convState),
		onFinish:    onFinish,
		logger:      slog.New(discardHandler{}),
		idleTimeout: 600 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Observe records a new turn for conversationID at time now. It does not
// itself trigger extraction; call Sweep periodically (or Finish explicitly)
// to evaluate the idle-timeout condition.
func (c *ConversationTracker) Observe(conversationID string, turn Turn, now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.state[conversationID]
	if !ok {
		st = &convState{firstTurnHash: hashTurn(turn)}
		c.state[conversationID] = st
	}
	st.turns = append(st.turns, turn)
	st.lastSeen = now
}

// Sweep evaluates every tracked conversation against now and fires
// onFinish for any that are idle past T_idle AND have materially changed
// since their last checkpoint: message count grew by at least half again,
// or the first stored turn no longer matches the checkpointed hash. Turns
// are only ever appended (Finish does not remove any), so in practice the
// growth condition is the one that fires.
// Swept conversations have their checkpoint advanced so the same turns
// aren't re-extracted on the next sweep.
func (c *ConversationTracker) Sweep(ctx context.Context, now int64) {
	c.mu.Lock()
	var toFire []string
	for id, st := range c.state {
		if now-st.lastSeen < int64(c.idleTimeout/time.Second) {
			continue
		}
		if !c.materiallyChanged(st) {
			continue
		}
		toFire = append(toFire, id)
	}
	c.mu.Unlock()

	for _, id := range toFire {
		c.Finish(ctx, id)
	}
}

// materiallyChanged reports whether st has grown by at least 50% since its
// last checkpoint, or its window's first turn no longer matches the
// checkpointed hash.
func (c *ConversationTracker) materiallyChanged(st *convState) bool {
	if st.checkpointLen == 0 {
		return len(st.turns) > 0
	}
	growth := len(st.turns) - st.checkpointLen
	if float64(growth) >= 0.5*float64(st.checkpointLen) {
		return true
	}
	if len(st.turns) > 0 && hashTurn(st.turns[0]) != st.firstTurnHash {
		return true
	}
	return false
}

// Finish forces conversationID to be treated as finished now, regardless
// of idle time, and hands its accumulated turns to onFinish in a new
// goroutine (detached, so a slow Extractor call never blocks the caller).
// The conversation's checkpoint is advanced immediately so concurrent
// observations aren't lost if Finish is called again before onFinish
// returns.
func (c *ConversationTracker) Finish(ctx context.Context, conversationID string) {
	c.mu.Lock()
	st, ok := c.state[conversationID]
	if !ok || len(st.turns) == 0 {
		c.mu.Unlock()
		return
	}
	turns := make([]Turn, len(st.turns))
	copy(turns, st.turns)
	st.checkpointLen = len(st.turns)
	if len(st.turns) > 0 {
		st.firstTurnHash = hashTurn(st.turns[0])
	}
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go c.onFinish(detached, conversationID, turns)
}

func hashTurn(t Turn) string {
	h := sha256.Sum256([]byte(t.Role + "\x00" + t.Text))
	return hex.EncodeToString(h[:])
}
