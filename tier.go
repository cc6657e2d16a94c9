package memengine

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// TierPolicy configures the thresholds AdminTierTransition uses to move
// memories between tiers. A memory whose access frequency is at or above
// Promote moves (or stays) in long_term; one whose composite relevance is
// at or below Archive moves to archived; everything else keeps long_term
// if it has it, otherwise moves to short_term (see tierFor).
type TierPolicy struct {
	Promote float64 // nominally 0.7
	Archive float64 // nominally 0.2
}

// DefaultTierPolicy matches the pinned nominal thresholds.
var DefaultTierPolicy = TierPolicy{Promote: 0.7, Archive: 0.2}

// tierFor classifies a memory under policy using two distinct signals per
// section 6: recent-access frequency drives promotion to long_term, while
// overall composite relevance (the same score the Ranker produces, with a
// neutral similarity substitute since there's no query to score against)
// drives archival. A memory that qualifies for neither keeps its current
// tier if it's already long_term, otherwise it's short_term.
func tierFor(m Memory, relevance float64, frequency float64, policy TierPolicy) Tier {
	switch {
	case frequency >= policy.Promote:
		return TierLongTerm
	case relevance <= policy.Archive:
		return TierArchived
	case m.Tier == TierLongTerm:
		return TierLongTerm
	default:
		return TierShortTerm
	}
}

// TierTransitioner runs AdminTierTransition over every currently valid
// memory, either on demand or on a schedule. Unlike the teacher's
// ticker-driven scheduler, this uses cron because tier transitions are a
// maintenance sweep with a natural cron cadence (e.g. nightly), not a
// tight polling loop — a deliberate redesign from the teacher's
// time.Ticker idiom for this one maintenance job.
type TierTransitioner struct {
	store  Store
	ranker *Ranker
	logger *slog.Logger
	policy TierPolicy

	cron *cron.Cron
}

// TierOption configures a TierTransitioner.
type TierOption func(*TierTransitioner)

// WithTierPolicy sets the promote/archive thresholds.
func WithTierPolicy(p TierPolicy) TierOption {
	return func(t *TierTransitioner) { t.policy = p }
}

// WithTierLogger sets the structured logger for a TierTransitioner.
func WithTierLogger(l *slog.Logger) TierOption {
	return func(t *TierTransitioner) { t.logger = l }
}

// NewTierTransitioner creates a TierTransitioner bound to store.
func NewTierTransitioner(store Store, opts ...TierOption) *TierTransitioner {
	t := &TierTransitioner{
		store:  store,
		ranker: NewRanker(),
		logger: slog.New(discardHandler{}),
		policy: DefaultTierPolicy,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// TierTransitionResult reports how many memories moved into each tier.
type TierTransitionResult struct {
	PromotedToLongTerm int
	MovedToShortTerm   int
	Archived           int
}

// Transition is the AdminTierTransition external interface from section 6:
// it walks every currently valid memory, reclassifies it under policy, and
// writes back any tier that changed. Never called on the retrieval or
// ingest hot path.
func (t *TierTransitioner) Transition(ctx context.Context) (TierTransitionResult, error) {
	var result TierTransitionResult

	memories, err := t.store.GetMemoriesValidAt(ctx, NowUnix())
	if err != nil {
		return result, &ErrStoreUnavailable{Op: "get_memories_valid_at", Err: err}
	}

	now := NowUnix()
	for _, m := range memories {
		relevance := t.ranker.score(m, 0.5, now)
		frequency := t.ranker.frequency(m)
		want := tierFor(m, relevance, frequency, t.policy)
		if want == m.Tier {
			continue
		}
		if err := t.store.UpdateTier(ctx, m.MemoryID, want); err != nil {
			t.logger.ErrorContext(ctx, "update tier failed", "memory_id", m.MemoryID, "error", err)
			continue
		}
		switch want {
		case TierLongTerm:
			result.PromotedToLongTerm++
		case TierArchived:
			result.Archived++
		case TierShortTerm:
			result.MovedToShortTerm++
		}
	}
	return result, nil
}

// StartSchedule registers a cron job that calls Transition on the given
// spec (e.g. "0 3 * * *" for nightly at 03:00) and starts the scheduler.
// Call Stop to halt it.
func (t *TierTransitioner) StartSchedule(ctx context.Context, spec string) error {
	t.cron = cron.New()
	_, err := t.cron.AddFunc(spec, func() {
		if _, err := t.Transition(ctx); err != nil {
			t.logger.ErrorContext(ctx, "scheduled tier transition failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	t.cron.Start()
	return nil
}

// Stop halts a running schedule started by StartSchedule, waiting for any
// in-flight job to finish.
func (t *TierTransitioner) Stop() {
	if t.cron == nil {
		return
	}
	<-t.cron.Stop().Done()
}
