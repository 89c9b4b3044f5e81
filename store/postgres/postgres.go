// Package postgres implements mangarag's source and chunk stores on
// PostgreSQL with pgvector for native cosine similarity search.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manganews/mangarag"
)

// Store implements mangarag.SourceStore and mangarag.ChunkStore backed
// by PostgreSQL. Vector search uses an HNSW index with cosine distance.
type Store struct {
	pool   *pgxpool.Pool
	cfg    pgConfig
	logger *slog.Logger
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
	previewLen         int
	logger             *slog.Logger
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector,
// catching dimension mismatches at insert time. Only affects new table
// creation.
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

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate
// list size). Default: pgvector's 40. Applied during Init.
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

// WithPreviewLen sets how many runes of chunk text search results carry.
// Default 220.
func WithPreviewLen(n int) Option {
	return func(c *pgConfig) { c.previewLen = n }
}

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(c *pgConfig) { c.logger = l }
}

var _ mangarag.SourceStore = (*Store)(nil)
var _ mangarag.ChunkStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	cfg := pgConfig{previewLen: 220}
	for _, o := range opts {
		o(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &Store{pool: pool, cfg: cfg, logger: logger}
}

// discardHandler drops all log output.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
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

// Init creates the pgvector extension, tables, and indexes. Safe to call
// multiple times (all statements are idempotent). The series table is
// normally populated by the scraper's import jobs; it is created here so
// a fresh database is usable end to end.
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS mn_series (
			url TEXT PRIMARY KEY,
			resume TEXT,
			points_forts TEXT,
			rag_text TEXT,
			rag_char_len INTEGER,
			indexable_rag BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS mn_series_chunks (
			series_url TEXT NOT NULL,
			doc_type TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			embedding %s NOT NULL,
			embedding_model TEXT NOT NULL,
			embedded_at BIGINT NOT NULL,
			UNIQUE (series_url, doc_type, chunk_index)
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS mn_series_chunks_series_idx ON mn_series_chunks(series_url, doc_type)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS mn_series_chunks_embedding_idx ON mn_series_chunks USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
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

// Ping verifies the database is reachable. The CLI fails fast on startup
// when it is not, before any embedding work begins.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// sourceColumn maps a doc type to the series column holding its text.
func sourceColumn(docType string) (string, error) {
	switch docType {
	case mangarag.DocTypeResume:
		return "resume", nil
	case mangarag.DocTypePointsFort:
		return "points_forts", nil
	case mangarag.DocTypeRAG:
		return "rag_text", nil
	}
	return "", fmt.Errorf("postgres: unknown doc type %q", docType)
}

// PendingCount returns how many indexable series have no chunk yet for
// docType.
func (s *Store) PendingCount(ctx context.Context, docType string) (int64, error) {
	if _, err := sourceColumn(docType); err != nil {
		return 0, err
	}
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM mn_series s
		 LEFT JOIN (
		   SELECT DISTINCT series_url FROM mn_series_chunks WHERE doc_type = $1
		 ) c ON c.series_url = s.url
		 WHERE s.indexable_rag IS TRUE
		   AND c.series_url IS NULL`,
		docType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count pending: %w", err)
	}
	return count, nil
}

// PendingPage returns a page of indexable series without chunks for
// docType, ordered by text length. The anti-join sees chunks as of query
// time: series whose chunks were committed since the last query drop out
// of the pending set, so an ingestion driver that commits between pages
// sees fresh work at the same offset.
func (s *Store) PendingPage(ctx context.Context, docType string, offset, limit int, orderAsc bool) ([]mangarag.SourceRecord, error) {
	col, err := sourceColumn(docType)
	if err != nil {
		return nil, err
	}
	dir := "DESC"
	if orderAsc {
		dir = "ASC"
	}

	// col and dir come from fixed allowlists above, never from input.
	q := fmt.Sprintf(
		`SELECT s.url, s.%s
		 FROM mn_series s
		 LEFT JOIN (
		   SELECT DISTINCT series_url FROM mn_series_chunks WHERE doc_type = $1
		 ) c ON c.series_url = s.url
		 WHERE s.indexable_rag IS TRUE
		   AND c.series_url IS NULL
		 ORDER BY s.rag_char_len %s NULLS LAST
		 OFFSET $2 LIMIT $3`, col, dir)

	rows, err := s.pool.Query(ctx, q, docType, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: page pending: %w", err)
	}
	defer rows.Close()

	var records []mangarag.SourceRecord
	for rows.Next() {
		var url string
		var text *string
		if err := rows.Scan(&url, &text); err != nil {
			return nil, fmt.Errorf("postgres: scan pending row: %w", err)
		}
		rec := mangarag.SourceRecord{ID: url}
		if text != nil {
			rec.Fields = append(rec.Fields, mangarag.SourceField{DocType: docType, Text: *text})
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate pending rows: %w", err)
	}
	return records, nil
}

// Begin opens an ingestion transaction. The pipeline owns its lifetime
// and commits every commit window.
func (s *Store) Begin(ctx context.Context) (mangarag.ChunkTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	return &chunkTx{tx: tx}, nil
}

// chunkTx implements mangarag.ChunkTx over a pgx transaction.
type chunkTx struct {
	tx pgx.Tx
}

// InsertChunks writes chunks with ON CONFLICT DO NOTHING on the natural
// key, so a retried run never duplicates or overwrites a chunk. Returns
// the number of rows actually inserted.
func (t *chunkTx) InsertChunks(ctx context.Context, chunks []mangarag.Chunk) (int64, error) {
	var inserted int64
	for _, c := range chunks {
		tag, err := t.tx.Exec(ctx,
			`INSERT INTO mn_series_chunks
			   (series_url, doc_type, chunk_index, chunk_text, embedding, embedding_model, embedded_at)
			 VALUES ($1, $2, $3, $4, $5::vector, $6, $7)
			 ON CONFLICT (series_url, doc_type, chunk_index) DO NOTHING`,
			c.DocumentID, c.DocType, c.Index, c.Text,
			serializeEmbedding(c.Embedding), c.Model, c.EmbeddedAt)
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert chunk: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (t *chunkTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *chunkTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

// SearchChunks performs vector similarity search over chunks of one doc
// type using pgvector's cosine distance operator with the HNSW index.
// Results are ordered by ascending distance; ties fall back to the
// engine's ordering, which is not guaranteed.
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, docType string, topK int) ([]mangarag.ScoredChunk, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT series_url, doc_type, chunk_index,
		        left(chunk_text, %d) AS preview,
		        1 - (embedding <=> $1::vector) AS cosine_sim
		 FROM mn_series_chunks
		 WHERE doc_type = $2
		 ORDER BY embedding <=> $1::vector
		 LIMIT $3`, s.cfg.previewLen),
		embStr, docType, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search chunks: %w", err)
	}
	defer rows.Close()

	var results []mangarag.ScoredChunk
	for rows.Next() {
		var c mangarag.ScoredChunk
		if err := rows.Scan(&c.DocumentID, &c.DocType, &c.Index, &c.Preview, &c.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate chunks: %w", err)
	}
	s.logger.Debug("vector search", "doc_type", docType, "top_k", topK, "results", len(results))
	return results, nil
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
