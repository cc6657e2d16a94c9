package memengine

import (
	"math"
	"sort"
)

// RankWeights are the composite score coefficients from section 4.8.
// They must sum to 1.0 for the score to stay in [0,1] when sim_norm,
// confidence, recency, and frequency all do.
type RankWeights struct {
	Similarity float64
	Confidence float64
	Recency    float64
	Frequency  float64
}

// DefaultRankWeights matches the nominal weighting: 0.40 similarity, 0.25
// confidence, 0.20 recency, 0.15 frequency.
var DefaultRankWeights = RankWeights{
	Similarity: 0.40,
	Confidence: 0.25,
	Recency:    0.20,
	Frequency:  0.15,
}

// Ranker computes the composite ranking score for a fused, deduplicated
// result set and sorts it descending.
type Ranker struct {
	weights      RankWeights
	halfLifeDays float64 // recency half-life, nominally 43 days
	freqCap      float64 // frequency normalization cap, nominally 100
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker)

// WithRankWeights sets the composite score coefficients.
func WithRankWeights(w RankWeights) RankerOption {
	return func(r *Ranker) { r.weights = w }
}

// WithHalfLifeDays sets the recency decay half-life in days (default 43).
func WithHalfLifeDays(days float64) RankerOption {
	return func(r *Ranker) { r.halfLifeDays = days }
}

// WithFrequencyCap sets the access-count normalization cap (default 100).
func WithFrequencyCap(cap float64) RankerOption {
	return func(r *Ranker) { r.freqCap = cap }
}

// NewRanker creates a Ranker with the default weights, half-life, and cap.
func NewRanker(opts ...RankerOption) *Ranker {
	r := &Ranker{
		weights:      DefaultRankWeights,
		halfLifeDays: 43,
		freqCap:      100,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Scored pairs a Memory with its computed composite score. The individual
// score components are not kept.
type Scored struct {
	Memory Memory
	Score  float64
}

// Rank computes the composite score for each memory against simNorm (the
// caller-supplied normalized similarity per memory ID, typically the
// min-max normalized RRF fusion score) as of now, and returns memories
// sorted by descending score. Ties break on most recent LearnedAt for a
// stable, deterministic order.
func (r *Ranker) Rank(memories []Memory, simNorm map[string]float64, now int64) []Scored {
	out := make([]Scored, len(memories))
	for i, m := range memories {
		out[i] = Scored{
			Memory: m,
			Score:  r.score(m, simNorm[m.MemoryID], now),
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Memory.LearnedAt > out[j].Memory.LearnedAt
	})
	return out
}

func (r *Ranker) score(m Memory, simNorm float64, now int64) float64 {
	recency := r.recency(m, now)
	frequency := r.frequency(m)
	return r.weights.Similarity*simNorm +
		r.weights.Confidence*m.Confidence +
		r.weights.Recency*recency +
		r.weights.Frequency*frequency
}

// recency = exp(-ln(2) * age_days / half_life_days), measured from
// LearnedAt (system time the engine learned the fact, not world time it
// became true).
func (r *Ranker) recency(m Memory, now int64) float64 {
	ageDays := float64(now-m.LearnedAt) / 86400
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-math.Ln2 * ageDays / r.halfLifeDays)
}

// frequency = log(1+access_count) / log(1+cap), clamped to 1 for access
// counts beyond the cap.
func (r *Ranker) frequency(m Memory) float64 {
	f := math.Log(1+float64(m.AccessCount)) / math.Log(1+r.freqCap)
	if f > 1 {
		f = 1
	}
	return f
}
