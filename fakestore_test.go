package memengine

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// fakeStore is a minimal in-memory Store+GraphStore used by the core
// package's unit tests. It is not a reference storage backend (see
// store/sqlite and store/postgres for those) — just enough bookkeeping to
// exercise StorageService, TemporalManager, and Retriever without a real
// database, mirroring the teacher's table-driven in-memory fixtures.
type fakeStore struct {
	mu      sync.Mutex
	byID    map[string]Memory
	edges   []Edge
	claimed map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:    make(map[string]Memory),
		claimed: make(map[string]bool),
	}
}

func (f *fakeStore) Init(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func (f *fakeStore) UpsertMemory(ctx context.Context, m Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[m.MemoryID] = m
	return nil
}

func (f *fakeStore) GetMemory(ctx context.Context, memoryID string) (Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[memoryID]
	if !ok {
		return Memory{}, &ErrInvariantViolation{MemoryID: memoryID, Detail: "not found"}
	}
	return m, nil
}

func (f *fakeStore) SetSupersedes(ctx context.Context, newID, oldID string, validUntil int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.byID[oldID]
	if !ok {
		return nil
	}
	old.ValidUntil = &validUntil
	id := newID
	old.SupersededBy = &id
	f.byID[oldID] = old
	return nil
}

func (f *fakeStore) matches(m Memory, filter Filter) bool {
	if filter.TypePrefix != "" && TypePrefix(m.Type) != filter.TypePrefix {
		return false
	}
	if filter.MinConfidence > 0 && m.Confidence < filter.MinConfidence {
		return false
	}
	if filter.AtTime != nil {
		return m.ValidAt(*filter.AtTime)
	}
	if filter.CurrentlyValid && !m.IsCurrentlyValid() {
		return false
	}
	return true
}

func (f *fakeStore) VectorSearch(ctx context.Context, queryVec []float32, k int, filter Filter) ([]VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var hits []VectorHit
	for _, m := range f.byID {
		if m.Embedding == nil || !f.matches(m, filter) {
			continue
		}
		hits = append(hits, VectorHit{MemoryID: m.MemoryID, Similarity: cosineSimilarity(queryVec, m.Embedding)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		mi, mj := f.byID[hits[i].MemoryID], f.byID[hits[j].MemoryID]
		if mi.Confidence != mj.Confidence {
			return mi.Confidence > mj.Confidence
		}
		return mi.LearnedAt > mj.LearnedAt
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeStore) BM25Search(ctx context.Context, queryText string, k int, filter Filter) ([]TextHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	terms := strings.Fields(strings.ToLower(queryText))
	var hits []TextHit
	for _, m := range f.byID {
		if !f.matches(m, filter) {
			continue
		}
		content := strings.ToLower(m.Content)
		var score float32
		for _, t := range terms {
			score += float32(strings.Count(content, t))
		}
		if score > 0 {
			hits = append(hits, TextHit{MemoryID: m.MemoryID, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeStore) GetMemoriesByIDs(ctx context.Context, ids []string) ([]Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := f.byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMemoriesValidAt(ctx context.Context, t int64) ([]Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Memory
	for _, m := range f.byID {
		if m.ValidAt(t) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemoryID < out[j].MemoryID })
	return out, nil
}

func (f *fakeStore) UpdateAccess(ctx context.Context, memoryID string, when int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[memoryID]
	if !ok {
		return nil
	}
	m.LastAccessed = &when
	m.AccessCount++
	f.byID[memoryID] = m
	return nil
}

func (f *fakeStore) UpdateTier(ctx context.Context, memoryID string, tier Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[memoryID]
	if !ok {
		return nil
	}
	m.Tier = tier
	f.byID[memoryID] = m
	return nil
}

func (f *fakeStore) ClaimForEmbedding(ctx context.Context, limit int) ([]Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Memory
	for id, m := range f.byID {
		if len(out) >= limit {
			break
		}
		if m.Embedding == nil && !f.claimed[id] {
			f.claimed[id] = true
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemoryID < out[j].MemoryID })
	return out, nil
}

func (f *fakeStore) WriteEmbedding(ctx context.Context, memoryID string, embedding []float32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[memoryID]
	if !ok || m.Embedding != nil {
		return false, nil
	}
	m.Embedding = embedding
	f.byID[memoryID] = m
	return true, nil
}

func (f *fakeStore) StoreEdges(ctx context.Context, edges []Edge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges = append(f.edges, edges...)
	return nil
}

func (f *fakeStore) GetEdges(ctx context.Context, memoryIDs []string, types ...RelationType) ([]Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool, len(memoryIDs))
	for _, id := range memoryIDs {
		set[id] = true
	}
	var out []Edge
	for _, e := range f.edges {
		if set[e.SourceID] && edgeTypeMatches(e, types) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetIncomingEdges(ctx context.Context, memoryIDs []string, types ...RelationType) ([]Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool, len(memoryIDs))
	for _, id := range memoryIDs {
		set[id] = true
	}
	var out []Edge
	for _, e := range f.edges {
		if set[e.TargetID] && edgeTypeMatches(e, types) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) Traverse(ctx context.Context, seedIDs []string, maxHops int, types ...RelationType) ([]TraversalHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	visited := make(map[string]int)
	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := visited[id]; !ok {
			visited[id] = 0
			frontier = append(frontier, id)
		}
	}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, e := range f.edges {
				if e.SourceID != id || !edgeTypeMatches(e, types) {
					continue
				}
				if _, seen := visited[e.TargetID]; !seen {
					visited[e.TargetID] = hop
					next = append(next, e.TargetID)
				}
			}
		}
		frontier = next
	}

	var out []TraversalHit
	for _, id := range seedIDs {
		delete(visited, id) // seeds aren't "reached"
	}
	for id, hops := range visited {
		out = append(out, TraversalHit{MemoryID: id, Hops: hops})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemoryID < out[j].MemoryID })
	return out, nil
}

func edgeTypeMatches(e Edge, types []RelationType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if e.Relation == t {
			return true
		}
	}
	return false
}

// fakeEmbeddingModel returns a deterministic embedding per input text via a
// tiny bag-of-words hash into a fixed-size vector of word counts (not
// normalized; EmbeddingClient normalizes it), so retrieval tests get
// stable, comparable similarities without a real model.
type fakeEmbeddingModel struct {
	dim int
	err error
}

func (m fakeEmbeddingModel) Dimensions() int { return m.dim }

func (m fakeEmbeddingModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t, m.dim)
	}
	return out, nil
}

func hashEmbed(text string, dim int) []float32 {
	v := make([]float32, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv32(w)
		v[int(h)%dim] += 1
	}
	return v
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
