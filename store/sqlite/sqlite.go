// Package sqlite implements mangarag's source and chunk stores using
// pure-Go SQLite with in-process brute-force vector search. Zero CGO
// required. Meant for local development and small corpora; production
// runs use store/postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/manganews/mangarag"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithPreviewLen sets how many runes of chunk text search results carry.
// Default 220.
func WithPreviewLen(n int) StoreOption {
	return func(s *Store) { s.previewLen = n }
}

// Store implements mangarag.SourceStore and mangarag.ChunkStore backed
// by a local SQLite file. Embeddings are stored as JSON text and vector
// search runs in-process with brute-force cosine similarity.
type Store struct {
	db         *sql.DB
	logger     *slog.Logger
	previewLen int
}

var _ mangarag.SourceStore = (*Store)(nil)
var _ mangarag.ChunkStore = (*Store)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// All goroutines serialize through one connection (SetMaxOpenConns(1)),
// eliminating SQLITE_BUSY errors from concurrent writers.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with
		// the blank import above this cannot happen.
		panic(fmt.Sprintf("sqlite: open %s: %v", dbPath, err))
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: nopLogger, previewLen: 220}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates tables and indexes. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mn_series (
			url TEXT PRIMARY KEY,
			resume TEXT,
			points_forts TEXT,
			rag_text TEXT,
			rag_char_len INTEGER,
			indexable_rag INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS mn_series_chunks (
			series_url TEXT NOT NULL,
			doc_type TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			embedding TEXT NOT NULL,
			embedding_model TEXT NOT NULL,
			embedded_at INTEGER NOT NULL,
			UNIQUE (series_url, doc_type, chunk_index)
		)`,
		`CREATE INDEX IF NOT EXISTS mn_series_chunks_series_idx
		 ON mn_series_chunks(series_url, doc_type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	return nil
}

// Ping verifies the database file is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Series is a source row for local seeding. Production databases are
// populated by the scraper's import jobs; this store accepts rows
// directly so a laptop corpus can be built without the scraper.
type Series struct {
	URL         string
	Resume      string
	PointsForts string
	RAGText     string
	Indexable   bool
}

// UpsertSeries inserts or replaces a source row. The length hint is
// derived from the rag text.
func (s *Store) UpsertSeries(ctx context.Context, row Series) error {
	indexable := 0
	if row.Indexable {
		indexable = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mn_series (url, resume, points_forts, rag_text, rag_char_len, indexable_rag)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
		   resume = excluded.resume,
		   points_forts = excluded.points_forts,
		   rag_text = excluded.rag_text,
		   rag_char_len = excluded.rag_char_len,
		   indexable_rag = excluded.indexable_rag`,
		row.URL, row.Resume, row.PointsForts, row.RAGText, len([]rune(row.RAGText)), indexable)
	if err != nil {
		return fmt.Errorf("sqlite: upsert series: %w", err)
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
	return "", fmt.Errorf("sqlite: unknown doc type %q", docType)
}

// PendingCount returns how many indexable series have no chunk yet for
// docType.
func (s *Store) PendingCount(ctx context.Context, docType string) (int64, error) {
	if _, err := sourceColumn(docType); err != nil {
		return 0, err
	}
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM mn_series s
		 LEFT JOIN (
		   SELECT DISTINCT series_url FROM mn_series_chunks WHERE doc_type = ?
		 ) c ON c.series_url = s.url
		 WHERE s.indexable_rag != 0
		   AND c.series_url IS NULL`,
		docType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count pending: %w", err)
	}
	return count, nil
}

// PendingPage returns a page of indexable series without chunks for
// docType, ordered by text length.
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
		   SELECT DISTINCT series_url FROM mn_series_chunks WHERE doc_type = ?
		 ) c ON c.series_url = s.url
		 WHERE s.indexable_rag != 0
		   AND c.series_url IS NULL
		 ORDER BY s.rag_char_len %s NULLS LAST
		 LIMIT ? OFFSET ?`, col, dir)

	rows, err := s.db.QueryContext(ctx, q, docType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: page pending: %w", err)
	}
	defer rows.Close()

	var records []mangarag.SourceRecord
	for rows.Next() {
		var url string
		var text sql.NullString
		if err := rows.Scan(&url, &text); err != nil {
			return nil, fmt.Errorf("sqlite: scan pending row: %w", err)
		}
		rec := mangarag.SourceRecord{ID: url}
		if text.Valid {
			rec.Fields = append(rec.Fields, mangarag.SourceField{DocType: docType, Text: text.String})
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate pending rows: %w", err)
	}
	return records, nil
}

// Begin opens an ingestion transaction.
func (s *Store) Begin(ctx context.Context) (mangarag.ChunkTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	return &chunkTx{tx: tx}, nil
}

// chunkTx implements mangarag.ChunkTx over a database/sql transaction.
type chunkTx struct {
	tx *sql.Tx
}

// InsertChunks writes chunks with INSERT OR IGNORE on the natural key.
// Returns the number of rows actually inserted.
func (t *chunkTx) InsertChunks(ctx context.Context, chunks []mangarag.Chunk) (int64, error) {
	var inserted int64
	for _, c := range chunks {
		emb, err := json.Marshal(c.Embedding)
		if err != nil {
			return inserted, fmt.Errorf("sqlite: encode embedding: %w", err)
		}
		res, err := t.tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO mn_series_chunks
			   (series_url, doc_type, chunk_index, chunk_text, embedding, embedding_model, embedded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.DocumentID, c.DocType, c.Index, c.Text, string(emb), c.Model, c.EmbeddedAt)
		if err != nil {
			return inserted, fmt.Errorf("sqlite: insert chunk: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("sqlite: rows affected: %w", err)
		}
		inserted += n
	}
	return inserted, nil
}

func (t *chunkTx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (t *chunkTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("sqlite: rollback: %w", err)
	}
	return nil
}

// SearchChunks performs brute-force cosine similarity search over the
// chunks of one doc type. Results are ordered by descending similarity;
// ties keep scan order, which is not guaranteed.
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, docType string, topK int) ([]mangarag.ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT series_url, doc_type, chunk_index, chunk_text, embedding
		 FROM mn_series_chunks
		 WHERE doc_type = ?`,
		docType)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search chunks: %w", err)
	}
	defer rows.Close()

	var results []mangarag.ScoredChunk
	for rows.Next() {
		var c mangarag.ScoredChunk
		var text, embJSON string
		if err := rows.Scan(&c.DocumentID, &c.DocType, &c.Index, &text, &embJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan chunk: %w", err)
		}
		var stored []float32
		if err := json.Unmarshal([]byte(embJSON), &stored); err != nil {
			return nil, fmt.Errorf("sqlite: decode embedding: %w", err)
		}
		c.Preview = truncateRunes(text, s.previewLen)
		c.Score = cosineSimilarity(embedding, stored)
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate chunks: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("vector search", "doc_type", docType, "top_k", topK, "results", len(results))
	return results, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
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

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
