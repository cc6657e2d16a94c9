// Package postgres implements memengine.Store and memengine.GraphStore using
// PostgreSQL with pgvector for native vector similarity search and
// tsvector for full-text keyword search.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection; the caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solace-run/memengine"
)

// Store implements memengine.Store and memengine.GraphStore backed by
// PostgreSQL with pgvector. Vector search uses an HNSW index with cosine
// distance; keyword search uses a GIN index over to_tsvector(content).
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector (current behavior)
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert
// time. Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size), applied by one SET statement during Init. The SET is
// session-level, so it affects only the pooled connection that runs it,
// not the pool's other connections. Default: pgvector's 40.
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

var _ memengine.Store = (*Store)(nil)
var _ memengine.GraphStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation, or
// an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, the memories/memory_edges tables,
// and their indexes: a unique key on id, a composite range index on
// (valid_from, valid_until), an HNSW cosine vector index, and a GIN index
// over to_tsvector(content) for stemmed full-text search. Safe to call
// multiple times.
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			embedding %s,
			valid_from BIGINT NOT NULL,
			valid_until BIGINT,
			learned_at BIGINT NOT NULL,
			superseded_by TEXT,
			supersedes TEXT,
			tier TEXT NOT NULL DEFAULT 'short_term',
			last_accessed BIGINT,
			access_count BIGINT NOT NULL DEFAULT 0,
			source_conversation_id TEXT,
			needs_embedding BOOLEAN NOT NULL DEFAULT TRUE
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_valid_from ON memories(valid_from)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_valid_until ON memories(valid_until)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_learned_at ON memories(learned_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_valid_range ON memories(valid_from, valid_until)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_needs_embedding ON memories(needs_embedding) WHERE needs_embedding`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_memories_embedding ON memories USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
		`CREATE INDEX IF NOT EXISTS idx_memories_fts ON memories USING gin(to_tsvector('english', content))`,

		`CREATE TABLE IF NOT EXISTS memory_edges (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relation TEXT NOT NULL,
			weight REAL NOT NULL,
			UNIQUE(source_id, target_id, relation)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_edges_source ON memory_edges(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_edges_target ON memory_edges(target_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	return nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

const memoryColumns = `id, content, type, confidence, valid_from, valid_until, learned_at,
	superseded_by, supersedes, tier, last_accessed, access_count, source_conversation_id`

// UpsertMemory inserts m or replaces it by MemoryID. A zero-length
// embedding leaves needs_embedding set so BackfillWorker picks it up.
func (s *Store) UpsertMemory(ctx context.Context, m memengine.Memory) error {
	if len(m.Embedding) > 0 {
		embStr := serializeEmbedding(m.Embedding)
		_, err := s.pool.Exec(ctx,
			`INSERT INTO memories (id, content, type, confidence, embedding, valid_from, valid_until, learned_at,
			  superseded_by, supersedes, tier, last_accessed, access_count, source_conversation_id, needs_embedding)
			 VALUES ($1, $2, $3, $4, $5::vector, $6, $7, $8, $9, $10, $11, $12, $13, $14, FALSE)
			 ON CONFLICT (id) DO UPDATE SET
			   content = EXCLUDED.content, type = EXCLUDED.type, confidence = EXCLUDED.confidence,
			   embedding = EXCLUDED.embedding, valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			   learned_at = EXCLUDED.learned_at, superseded_by = EXCLUDED.superseded_by, supersedes = EXCLUDED.supersedes,
			   tier = EXCLUDED.tier, last_accessed = EXCLUDED.last_accessed, access_count = EXCLUDED.access_count,
			   source_conversation_id = EXCLUDED.source_conversation_id, needs_embedding = FALSE`,
			m.MemoryID, m.Content, m.Type, m.Confidence, embStr, m.ValidFrom, m.ValidUntil, m.LearnedAt,
			m.SupersededBy, m.Supersedes, string(m.Tier), m.LastAccessed, m.AccessCount, m.SourceConversationID)
		if err != nil {
			return fmt.Errorf("postgres: upsert memory: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memories (id, content, type, confidence, embedding, valid_from, valid_until, learned_at,
		  superseded_by, supersedes, tier, last_accessed, access_count, source_conversation_id, needs_embedding)
		 VALUES ($1, $2, $3, $4, NULL, $5, $6, $7, $8, $9, $10, $11, $12, $13, TRUE)
		 ON CONFLICT (id) DO UPDATE SET
		   content = EXCLUDED.content, type = EXCLUDED.type, confidence = EXCLUDED.confidence,
		   valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
		   learned_at = EXCLUDED.learned_at, superseded_by = EXCLUDED.superseded_by, supersedes = EXCLUDED.supersedes,
		   tier = EXCLUDED.tier, last_accessed = EXCLUDED.last_accessed, access_count = EXCLUDED.access_count,
		   source_conversation_id = EXCLUDED.source_conversation_id`,
		m.MemoryID, m.Content, m.Type, m.Confidence, m.ValidFrom, m.ValidUntil, m.LearnedAt,
		m.SupersededBy, m.Supersedes, string(m.Tier), m.LastAccessed, m.AccessCount, m.SourceConversationID)
	if err != nil {
		return fmt.Errorf("postgres: upsert memory: %w", err)
	}
	return nil
}

// GetMemory returns a single memory by ID.
func (s *Store) GetMemory(ctx context.Context, memoryID string) (memengine.Memory, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM memories WHERE id = $1`, memoryColumns), memoryID)
	if err != nil {
		return memengine.Memory{}, fmt.Errorf("postgres: get memory: %w", err)
	}
	defer rows.Close()
	out, err := scanMemories(rows)
	if err != nil {
		return memengine.Memory{}, err
	}
	if len(out) == 0 {
		return memengine.Memory{}, fmt.Errorf("postgres: memory %s not found", memoryID)
	}
	return out[0], nil
}

// GetMemoriesByIDs returns memories matching ids, in no particular order.
func (s *Store) GetMemoriesByIDs(ctx context.Context, ids []string) ([]memengine.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM memories WHERE id = ANY($1)`, memoryColumns), ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get memories by ids: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetMemoriesValidAt returns every memory whose validity interval contains
// t: valid_from <= t AND (valid_until IS NULL OR valid_until > t).
func (s *Store) GetMemoriesValidAt(ctx context.Context, t int64) ([]memengine.Memory, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE valid_from <= $1 AND (valid_until IS NULL OR valid_until > $1)`, memoryColumns), t)
	if err != nil {
		return nil, fmt.Errorf("postgres: get memories valid at: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SetSupersedes closes oldID's validity interval at validUntil and points
// its superseded_by at newID. Idempotent.
func (s *Store) SetSupersedes(ctx context.Context, newID, oldID string, validUntil int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE memories SET valid_until = $1, superseded_by = $2 WHERE id = $3`,
		validUntil, newID, oldID)
	if err != nil {
		return fmt.Errorf("postgres: set supersedes: %w", err)
	}
	return nil
}

// UpdateAccess bumps access_count and sets last_accessed := when.
func (s *Store) UpdateAccess(ctx context.Context, memoryID string, when int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed = $1 WHERE id = $2`,
		when, memoryID)
	if err != nil {
		return fmt.Errorf("postgres: update access: %w", err)
	}
	return nil
}

// UpdateTier moves memoryID to tier.
func (s *Store) UpdateTier(ctx context.Context, memoryID string, tier memengine.Tier) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET tier = $1 WHERE id = $2`, string(tier), memoryID)
	if err != nil {
		return fmt.Errorf("postgres: update tier: %w", err)
	}
	return nil
}

// ClaimForEmbedding returns up to limit memories still missing an
// embedding and clears their needs_embedding flag in the same statement
// (RETURNING), so a second concurrent worker can't claim the same rows.
func (s *Store) ClaimForEmbedding(ctx context.Context, limit int) ([]memengine.Memory, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`UPDATE memories SET needs_embedding = FALSE
		 WHERE id IN (SELECT id FROM memories WHERE needs_embedding LIMIT $1 FOR UPDATE SKIP LOCKED)
		 RETURNING %s`, memoryColumns), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim for embedding: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// WriteEmbedding writes embedding for memoryID only if its embedding is
// still null, so a backfill worker that raced another one's claim cannot
// clobber a fresher write. Returns false if no row matched (already
// written, or memoryID doesn't exist).
func (s *Store) WriteEmbedding(ctx context.Context, memoryID string, embedding []float32) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET embedding = $1::vector, needs_embedding = FALSE WHERE id = $2 AND embedding IS NULL`,
		serializeEmbedding(embedding), memoryID)
	if err != nil {
		return false, fmt.Errorf("postgres: write embedding: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// VectorSearch performs pgvector cosine-distance nearest-neighbor search
// over memories matching filter, using the HNSW index. Ties are broken by
// the store per the tie-break rule (higher confidence, then more recent
// learned_at) via the ORDER BY clause appended after the distance.
func (s *Store) VectorSearch(ctx context.Context, queryVec []float32, k int, filter memengine.Filter) ([]memengine.VectorHit, error) {
	where, args, next := filterClause(filter, 2)
	embStr := serializeEmbedding(queryVec)
	args = append([]any{embStr}, args...)
	args = append(args, k)

	query := fmt.Sprintf(
		`SELECT id, 1 - (embedding <=> $1::vector) AS score
		 FROM memories WHERE embedding IS NOT NULL%s
		 ORDER BY embedding <=> $1::vector, confidence DESC, learned_at DESC
		 LIMIT $%d`, where, next)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer rows.Close()

	var hits []memengine.VectorHit
	for rows.Next() {
		var h memengine.VectorHit
		if err := rows.Scan(&h.MemoryID, &h.Similarity); err != nil {
			return nil, fmt.Errorf("postgres: scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// BM25Search performs PostgreSQL tsvector/tsquery full-text search over
// memories matching filter, ranked by ts_rank.
func (s *Store) BM25Search(ctx context.Context, queryText string, k int, filter memengine.Filter) ([]memengine.TextHit, error) {
	where, args, next := filterClause(filter, 2)
	args = append([]any{queryText}, args...)
	args = append(args, k)

	query := fmt.Sprintf(
		`SELECT id, ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		 FROM memories WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)%s
		 ORDER BY score DESC
		 LIMIT $%d`, where, next)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: bm25 search: %w", err)
	}
	defer rows.Close()

	var hits []memengine.TextHit
	for rows.Next() {
		var h memengine.TextHit
		if err := rows.Scan(&h.MemoryID, &h.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan text hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// filterClause translates a memengine.Filter into a " AND ..." SQL clause
// with $N placeholders starting at startParam, plus its bound args and the
// next unused placeholder number.
func filterClause(filter memengine.Filter, startParam int) (string, []any, int) {
	var clauses []string
	var args []any
	p := startParam

	if filter.TypePrefix != "" {
		clauses = append(clauses, fmt.Sprintf("type LIKE $%d", p))
		args = append(args, filter.TypePrefix+"%")
		p++
	}
	if filter.CurrentlyValid {
		clauses = append(clauses, "valid_until IS NULL")
	} else if filter.AtTime != nil {
		clauses = append(clauses, fmt.Sprintf("valid_from <= $%d AND (valid_until IS NULL OR valid_until > $%d)", p, p))
		args = append(args, *filter.AtTime)
		p++
	}
	if filter.MinConfidence > 0 {
		clauses = append(clauses, fmt.Sprintf("confidence >= $%d", p))
		args = append(args, filter.MinConfidence)
		p++
	}
	if len(clauses) == 0 {
		return "", nil, p
	}
	return " AND " + strings.Join(clauses, " AND "), args, p
}

func scanMemories(rows pgx.Rows) ([]memengine.Memory, error) {
	var out []memengine.Memory
	for rows.Next() {
		var m memengine.Memory
		var tier string
		if err := rows.Scan(&m.MemoryID, &m.Content, &m.Type, &m.Confidence, &m.ValidFrom, &m.ValidUntil,
			&m.LearnedAt, &m.SupersededBy, &m.Supersedes, &tier, &m.LastAccessed, &m.AccessCount,
			&m.SourceConversationID); err != nil {
			return nil, fmt.Errorf("postgres: scan memory: %w", err)
		}
		m.Tier = memengine.Tier(tier)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- GraphStore ---

// StoreEdges inserts or replaces edges.
func (s *Store) StoreEdges(ctx context.Context, edges []memengine.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range edges {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_edges (id, source_id, target_id, relation, weight)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (source_id, target_id, relation) DO UPDATE SET weight = EXCLUDED.weight`,
			e.ID, e.SourceID, e.TargetID, string(e.Relation), e.Weight,
		); err != nil {
			return fmt.Errorf("postgres: store edge: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetEdges returns outgoing edges from memoryIDs, optionally restricted to
// the given relation types.
func (s *Store) GetEdges(ctx context.Context, memoryIDs []string, types ...memengine.RelationType) ([]memengine.Edge, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}
	return s.queryEdges(ctx, "source_id", memoryIDs, types)
}

// GetIncomingEdges returns edges targeting memoryIDs, optionally restricted
// to the given relation types.
func (s *Store) GetIncomingEdges(ctx context.Context, memoryIDs []string, types ...memengine.RelationType) ([]memengine.Edge, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}
	return s.queryEdges(ctx, "target_id", memoryIDs, types)
}

func (s *Store) queryEdges(ctx context.Context, column string, ids []string, types []memengine.RelationType) ([]memengine.Edge, error) {
	query := fmt.Sprintf(`SELECT id, source_id, target_id, relation, weight FROM memory_edges WHERE %s = ANY($1)`, column)
	args := []any{ids}
	if len(types) > 0 {
		strs := make([]string, len(types))
		for i, t := range types {
			strs[i] = string(t)
		}
		query += ` AND relation = ANY($2)`
		args = append(args, strs)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows pgx.Rows) ([]memengine.Edge, error) {
	var edges []memengine.Edge
	for rows.Next() {
		var e memengine.Edge
		var rel string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &rel, &e.Weight); err != nil {
			return nil, fmt.Errorf("postgres: scan edge: %w", err)
		}
		e.Relation = memengine.RelationType(rel)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Traverse does a breadth-first walk outward from seedIDs up to maxHops,
// following edges of the given relation types in both directions,
// returning every memory reached with the hop count at which it was first
// seen. Cycle-safe: a memory already visited at a shallower hop is never
// revisited at a deeper one.
func (s *Store) Traverse(ctx context.Context, seedIDs []string, maxHops int, types ...memengine.RelationType) ([]memengine.TraversalHit, error) {
	visited := make(map[string]int, len(seedIDs))
	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := visited[id]; !ok {
			visited[id] = 0
			frontier = append(frontier, id)
		}
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		out, err := s.GetEdges(ctx, frontier, types...)
		if err != nil {
			return nil, err
		}
		in, err := s.GetIncomingEdges(ctx, frontier, types...)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, e := range append(out, in...) {
			for _, neighbor := range []string{e.SourceID, e.TargetID} {
				if _, ok := visited[neighbor]; ok {
					continue
				}
				visited[neighbor] = hop
				next = append(next, neighbor)
			}
		}
		frontier = next
	}

	hits := make([]memengine.TraversalHit, 0, len(visited))
	for id, hop := range visited {
		if hop == 0 {
			continue
		}
		hits = append(hits, memengine.TraversalHit{MemoryID: id, Hops: hop})
	}
	return hits, nil
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
