package memengine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestConversationTrackerFinishInvokesCallbackWithTurns(t *testing.T) {
	var mu sync.Mutex
	var got []Turn
	done := make(chan struct{})

	c := NewConversationTracker(func(ctx context.Context, conversationID string, turns []Turn) {
		mu.Lock()
		got = append(got, turns...)
		mu.Unlock()
		close(done)
	})

	c.Observe("conv1", Turn{Role: "user", Text: "hello"}, 1)
	c.Observe("conv1", Turn{Role: "assistant", Text: "hi there"}, 2)
	c.Finish(context.Background(), "conv1")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onFinish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 turns handed to onFinish, got %d", len(got))
	}
}

func TestConversationTrackerFinishNoopOnUnknownConversation(t *testing.T) {
	called := false
	c := NewConversationTracker(func(ctx context.Context, conversationID string, turns []Turn) {
		called = true
	})
	c.Finish(context.Background(), "never-observed")
	time.Sleep(50 * time.Millisecond)
	if called {
		t.Fatal("expected no callback for a conversation with no observed turns")
	}
}

func TestConversationTrackerSweepFiresOnlyAfterIdleAndMaterialChange(t *testing.T) {
	var mu sync.Mutex
	fired := make(map[string]bool)

	c := NewConversationTracker(func(ctx context.Context, conversationID string, turns []Turn) {
		mu.Lock()
		fired[conversationID] = true
		mu.Unlock()
	}, WithIdleTimeout(10*time.Second))

	c.Observe("stale", Turn{Role: "user", Text: "a"}, 0)
	c.Observe("fresh", Turn{Role: "user", Text: "b"}, 100)

	c.Sweep(context.Background(), 100) // only "stale" is idle past 10s
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !fired["stale"] {
		t.Error("expected the idle conversation to fire")
	}
	if fired["fresh"] {
		t.Error("expected the recently active conversation not to fire")
	}
}

func TestConversationTrackerSweepSkipsIdleConversationWithoutMaterialChange(t *testing.T) {
	fired := make(chan string, 1)
	c := NewConversationTracker(func(ctx context.Context, conversationID string, turns []Turn) {
		fired <- conversationID
	}, WithIdleTimeout(10*time.Second))

	c.Observe("conv1", Turn{Role: "user", Text: "a"}, 0)
	c.Finish(context.Background(), "conv1") // checkpoints at 1 turn
	<-fired

	// No new turns observed since the checkpoint: growth is zero, first-turn
	// hash is unchanged, so a later sweep must not re-fire.
	c.Sweep(context.Background(), 1000)
	select {
	case id := <-fired:
		t.Fatalf("expected no re-fire without material change, got %q", id)
	case <-time.After(100 * time.Millisecond):
	}
}
