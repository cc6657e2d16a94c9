package memengine

import (
	"context"
	"log/slog"
	"time"
)

// BackfillWorker periodically claims memories that were inserted without an
// embedding (the embedding model was unavailable at ingest time) and fills
// them in, so retrieval's vector sub-query eventually sees every memory.
// Grounded in the teacher's ticker-driven background worker pattern, safe
// to run as multiple concurrent instances because ClaimForEmbedding is
// expected to be an atomic claim (e.g. an UPDATE ... RETURNING) and
// WriteEmbedding is a conditional write that a racing instance can lose.
type BackfillWorker struct {
	store     Store
	embedding *EmbeddingClient
	logger    *slog.Logger

	interval time.Duration
	batch    int
}

// BackfillOption configures a BackfillWorker.
type BackfillOption func(*BackfillWorker)

// WithBackfillInterval sets the ticker period (default 60s).
func WithBackfillInterval(d time.Duration) BackfillOption {
	return func(w *BackfillWorker) { w.interval = d }
}

// WithBackfillBatch sets how many memories are claimed per tick (default 50).
func WithBackfillBatch(n int) BackfillOption {
	return func(w *BackfillWorker) { w.batch = n }
}

// WithBackfillLogger sets the structured logger for a BackfillWorker.
func WithBackfillLogger(l *slog.Logger) BackfillOption {
	return func(w *BackfillWorker) { w.logger = l }
}

// NewBackfillWorker creates a BackfillWorker bound to store and embedding.
func NewBackfillWorker(store Store, embedding *EmbeddingClient, opts ...BackfillOption) *BackfillWorker {
	w := &BackfillWorker{
		store:     store,
		embedding: embedding,
		logger:    slog.New(discardHandler{}),
		interval:  60 * time.Second,
		batch:     50,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run blocks, ticking at the configured interval and calling Tick, until ctx
// is canceled. Intended to be started in its own goroutine by the caller.
func (w *BackfillWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.Tick(ctx); err != nil {
				w.logger.ErrorContext(ctx, "backfill tick failed", "error", err)
			} else if n > 0 {
				w.logger.DebugContext(ctx, "backfill tick embedded memories", "count", n)
			}
		}
	}
}

// Tick claims up to one batch of un-embedded memories, embeds their
// content, and writes the resulting vectors back. It returns the number of
// memories successfully embedded. A failed WriteEmbedding for one memory is
// logged and skipped without aborting the rest of the batch. The whole batch
// is embedded in one Embed call; if that call fails, Tick writes nothing and
// returns 0 with a nil error.
func (w *BackfillWorker) Tick(ctx context.Context) (int, error) {
	claimed, err := w.store.ClaimForEmbedding(ctx, w.batch)
	if err != nil {
		return 0, &ErrStoreUnavailable{Op: "claim_for_embedding", Err: err}
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	texts := make([]string, len(claimed))
	for i, m := range claimed {
		texts[i] = m.Content
	}

	vecs, err := w.embedding.Embed(ctx, texts)
	if err != nil {
		w.logger.WarnContext(ctx, "backfill embedding call failed, memories remain unembedded", "error", err, "count", len(claimed))
		return 0, nil
	}

	var written int
	for i, m := range claimed {
		if i >= len(vecs) {
			break
		}
		ok, err := w.store.WriteEmbedding(ctx, m.MemoryID, vecs[i])
		if err != nil {
			w.logger.ErrorContext(ctx, "write backfilled embedding", "memory_id", m.MemoryID, "error", err)
			continue
		}
		if ok {
			written++
		}
	}
	return written, nil
}
