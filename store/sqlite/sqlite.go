// Package sqlite implements memengine.Store and memengine.GraphStore using
// pure-Go SQLite, with in-process brute-force vector search and FTS5
// keyword search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/solace-run/memengine"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store logs opening, Init, Close, and UpsertMemory (with
// timing and key parameters); other operations are not logged. If not set,
// no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements memengine.Store and memengine.GraphStore backed by a
// local SQLite file. Embeddings are stored as JSON text; vector search is
// brute-force cosine similarity in process, and keyword search uses an
// FTS5 shadow index kept in sync on every write.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ memengine.Store = (*Store)(nil)
var _ memengine.GraphStore = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the memories, memory_edges, and memories_fts tables, and
// applies best-effort migrations for columns added after the initial
// schema (silently ignored if already applied).
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		confidence REAL NOT NULL,
		embedding TEXT,
		valid_from INTEGER NOT NULL,
		valid_until INTEGER,
		learned_at INTEGER NOT NULL,
		superseded_by TEXT,
		supersedes TEXT,
		tier TEXT NOT NULL DEFAULT 'short_term',
		last_accessed INTEGER,
		access_count INTEGER NOT NULL DEFAULT 0,
		source_conversation_id TEXT,
		needs_embedding INTEGER NOT NULL DEFAULT 1
	)`)
	if err != nil {
		return fmt.Errorf("create memories table: %w", err)
	}

	// Best-effort migrations, silent fail if already applied.
	_, _ = s.db.ExecContext(ctx, `ALTER TABLE memories ADD COLUMN needs_embedding INTEGER NOT NULL DEFAULT 1`)

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_memories_valid ON memories(valid_from, valid_until)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_memories_needs_embedding ON memories(needs_embedding)`)

	_, err = s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(memory_id UNINDEXED, content)`)
	if err != nil {
		return fmt.Errorf("create fts table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS memory_edges (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		relation TEXT NOT NULL,
		weight REAL NOT NULL,
		UNIQUE(source_id, target_id, relation)
	)`)
	if err != nil {
		return fmt.Errorf("create memory_edges table: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_memory_edges_source ON memory_edges(source_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_memory_edges_target ON memory_edges(target_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// UpsertMemory inserts m or replaces it by MemoryID, keeping the FTS
// shadow index in sync. A zero-length embedding leaves needs_embedding
// set so BackfillWorker picks it up later.
func (s *Store) UpsertMemory(ctx context.Context, m memengine.Memory) error {
	start := time.Now()
	s.logger.Debug("sqlite: upsert memory", "id", m.MemoryID, "type", m.Type)

	var embJSON *string
	needsEmbedding := 1
	if len(m.Embedding) > 0 {
		v := serializeEmbedding(m.Embedding)
		embJSON = &v
		needsEmbedding = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories
		 (id, content, type, confidence, embedding, valid_from, valid_until, learned_at,
		  superseded_by, supersedes, tier, last_accessed, access_count, source_conversation_id, needs_embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MemoryID, m.Content, m.Type, m.Confidence, embJSON, m.ValidFrom, m.ValidUntil, m.LearnedAt,
		m.SupersededBy, m.Supersedes, string(m.Tier), m.LastAccessed, m.AccessCount, m.SourceConversationID, needsEmbedding,
	)
	if err != nil {
		s.logger.Error("sqlite: upsert memory failed", "id", m.MemoryID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("upsert memory: %w", err)
	}

	_, _ = tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE memory_id = ?`, m.MemoryID)
	if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(memory_id, content) VALUES (?, ?)`, m.MemoryID, m.Content); err != nil {
		return fmt.Errorf("upsert memory fts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: upsert memory ok", "id", m.MemoryID, "duration", time.Since(start))
	return nil
}

// GetMemory returns a single memory by ID.
func (s *Store) GetMemory(ctx context.Context, memoryID string) (memengine.Memory, error) {
	rows, err := s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, memoryID)
	if err != nil {
		return memengine.Memory{}, err
	}
	if len(rows) == 0 {
		return memengine.Memory{}, fmt.Errorf("sqlite: memory %s not found", memoryID)
	}
	return rows[0], nil
}

// GetMemoriesByIDs returns memories matching ids, in no particular order.
func (s *Store) GetMemoriesByIDs(ctx context.Context, ids []string) ([]memengine.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s)`, memoryColumns, strings.Join(placeholders, ","))
	return s.queryMemories(ctx, query, args...)
}

// GetMemoriesValidAt returns every memory whose validity interval contains
// t: valid_from <= t AND (valid_until IS NULL OR valid_until > t).
func (s *Store) GetMemoriesValidAt(ctx context.Context, t int64) ([]memengine.Memory, error) {
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)`, memoryColumns)
	return s.queryMemories(ctx, query, t, t)
}

// SetSupersedes closes oldID's validity interval at validUntil and points
// its superseded_by at newID. Idempotent: calling it again with the same
// arguments leaves the row in the same state.
func (s *Store) SetSupersedes(ctx context.Context, newID, oldID string, validUntil int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET valid_until = ?, superseded_by = ? WHERE id = ?`,
		validUntil, newID, oldID)
	if err != nil {
		return fmt.Errorf("set supersedes: %w", err)
	}
	return nil
}

// UpdateAccess records that memoryID was surfaced at time when, bumping
// access_count and last_accessed.
func (s *Store) UpdateAccess(ctx context.Context, memoryID string, when int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		when, memoryID)
	if err != nil {
		return fmt.Errorf("update access: %w", err)
	}
	return nil
}

// UpdateTier moves memoryID to tier.
func (s *Store) UpdateTier(ctx context.Context, memoryID string, tier memengine.Tier) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET tier = ? WHERE id = ?`, string(tier), memoryID)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	return nil
}

// ClaimForEmbedding returns up to limit memories still missing an
// embedding and clears their needs_embedding flag, so a second concurrent
// worker doesn't claim the same rows before WriteEmbedding lands.
func (s *Store) ClaimForEmbedding(ctx context.Context, limit int) ([]memengine.Memory, error) {
	rows, err := s.queryMemories(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE needs_embedding = 1 LIMIT ?`, memoryColumns), limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	for i, m := range rows {
		ids[i] = m.MemoryID
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE memories SET needs_embedding = 0 WHERE id IN (%s)`, strings.Join(placeholders, ",")),
		args...)
	if err != nil {
		return nil, fmt.Errorf("claim for embedding: %w", err)
	}
	return rows, nil
}

// WriteEmbedding writes embedding for memoryID only if its embedding is
// still null, so a backfill worker that raced another one's claim cannot
// clobber a fresher write. Returns false if no row matched (already
// embedded, or memoryID doesn't exist).
func (s *Store) WriteEmbedding(ctx context.Context, memoryID string, embedding []float32) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding = ?, needs_embedding = 0 WHERE id = ? AND embedding IS NULL`,
		serializeEmbedding(embedding), memoryID)
	if err != nil {
		return false, fmt.Errorf("write embedding: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// VectorSearch performs brute-force cosine similarity search over
// memories matching filter. Ties break by higher confidence first, then
// more recent learned_at, per the Store contract.
func (s *Store) VectorSearch(ctx context.Context, queryVec []float32, k int, filter memengine.Filter) ([]memengine.VectorHit, error) {
	where, args := filterClause(filter)
	query := fmt.Sprintf(`SELECT id, embedding, confidence, learned_at FROM memories WHERE embedding IS NOT NULL%s`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	type hitMeta struct {
		confidence float64
		learnedAt  int64
	}
	var hits []memengine.VectorHit
	meta := make(map[string]hitMeta)
	for rows.Next() {
		var id, embJSON string
		var confidence float64
		var learnedAt int64
		if err := rows.Scan(&id, &embJSON, &confidence, &learnedAt); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		emb, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		hits = append(hits, memengine.VectorHit{MemoryID: id, Similarity: cosineSimilarity(queryVec, emb)})
		meta[id] = hitMeta{confidence: confidence, learnedAt: learnedAt}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector hits: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		mi, mj := meta[hits[i].MemoryID], meta[hits[j].MemoryID]
		if mi.confidence != mj.confidence {
			return mi.confidence > mj.confidence
		}
		return mi.learnedAt > mj.learnedAt
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// BM25Search performs FTS5 keyword search over memories matching filter.
func (s *Store) BM25Search(ctx context.Context, queryText string, k int, filter memengine.Filter) ([]memengine.TextHit, error) {
	where, filterArgs := filterClause(filter)
	query := fmt.Sprintf(
		`SELECT f.memory_id, f.rank FROM memories_fts f JOIN memories m ON m.id = f.memory_id
		 WHERE memories_fts MATCH ?%s ORDER BY f.rank LIMIT ?`, where)

	args := append([]any{queryText}, filterArgs...)
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	defer rows.Close()

	var hits []memengine.TextHit
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan text hit: %w", err)
		}
		score := float32(-rank) // FTS5 rank is negative; closer to 0 is better.
		if score < 0 {
			score = 0
		}
		hits = append(hits, memengine.TextHit{MemoryID: id, Score: score})
	}
	return hits, rows.Err()
}

// filterClause translates a memengine.Filter into a " AND ..." SQL clause
// plus its bound args. Column names are unqualified; they resolve against
// memories both in VectorSearch's plain query and in BM25Search's join,
// since memories_fts has no columns of those names.
func filterClause(filter memengine.Filter) (string, []any) {
	var clauses []string
	var args []any

	if filter.TypePrefix != "" {
		clauses = append(clauses, "type LIKE ?")
		args = append(args, filter.TypePrefix+"%")
	}
	if filter.CurrentlyValid {
		clauses = append(clauses, "valid_until IS NULL")
	} else if filter.AtTime != nil {
		clauses = append(clauses, "valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)")
		args = append(args, *filter.AtTime, *filter.AtTime)
	}
	if filter.MinConfidence > 0 {
		clauses = append(clauses, "confidence >= ?")
		args = append(args, filter.MinConfidence)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

const memoryColumns = `id, content, type, confidence, embedding, valid_from, valid_until, learned_at,
	superseded_by, supersedes, tier, last_accessed, access_count, source_conversation_id`

func (s *Store) queryMemories(ctx context.Context, query string, args ...any) ([]memengine.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []memengine.Memory
	for rows.Next() {
		var m memengine.Memory
		var embJSON sql.NullString
		var tier string
		if err := rows.Scan(&m.MemoryID, &m.Content, &m.Type, &m.Confidence, &embJSON,
			&m.ValidFrom, &m.ValidUntil, &m.LearnedAt, &m.SupersededBy, &m.Supersedes,
			&tier, &m.LastAccessed, &m.AccessCount, &m.SourceConversationID); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Tier = memengine.Tier(tier)
		if embJSON.Valid {
			m.Embedding, _ = deserializeEmbedding(embJSON.String)
		}
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range edges {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO memory_edges (id, source_id, target_id, relation, weight) VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.SourceID, e.TargetID, string(e.Relation), e.Weight,
		); err != nil {
			return fmt.Errorf("store edge: %w", err)
		}
	}
	return tx.Commit()
}

// GetEdges returns outgoing edges from memoryIDs, optionally restricted to
// the given relation types.
func (s *Store) GetEdges(ctx context.Context, memoryIDs []string, types ...memengine.RelationType) ([]memengine.Edge, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}
	where, args := edgeIDFilter("source_id", memoryIDs, types)
	return s.scanEdges(ctx, `SELECT id, source_id, target_id, relation, weight FROM memory_edges WHERE `+where, args)
}

// GetIncomingEdges returns edges targeting memoryIDs, optionally restricted
// to the given relation types.
func (s *Store) GetIncomingEdges(ctx context.Context, memoryIDs []string, types ...memengine.RelationType) ([]memengine.Edge, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}
	where, args := edgeIDFilter("target_id", memoryIDs, types)
	return s.scanEdges(ctx, `SELECT id, source_id, target_id, relation, weight FROM memory_edges WHERE `+where, args)
}

func edgeIDFilter(column string, ids []string, types []memengine.RelationType) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	clause := fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
	if len(types) > 0 {
		typePlaceholders := make([]string, len(types))
		for i, t := range types {
			typePlaceholders[i] = "?"
			args = append(args, string(t))
		}
		clause += " AND relation IN (" + strings.Join(typePlaceholders, ",") + ")"
	}
	return clause, args
}

func (s *Store) scanEdges(ctx context.Context, query string, args []any) ([]memengine.Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []memengine.Edge
	for rows.Next() {
		var e memengine.Edge
		var rel string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &rel, &e.Weight); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Relation = memengine.RelationType(rel)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Traverse does a breadth-first walk outward from seedIDs up to maxHops,
// following edges of the given relation types (both directions, since a
// successor and a predecessor are both meaningful retrieval context),
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
			continue // seed itself, not a traversal result
		}
		hits = append(hits, memengine.TraversalHit{MemoryID: id, Hops: hop})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Hops != hits[j].Hops {
			return hits[i].Hops < hits[j].Hops
		}
		return hits[i].MemoryID < hits[j].MemoryID
	})
	return hits, nil
}

// --- Vector math ---

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
