package mangarag

import "context"

// SourceStore exposes the pending-work query contract: rows eligible for
// a doc type that have no chunk yet. The anti-join against existing
// chunks is what makes an interrupted ingestion run restartable: a new
// run simply re-queries for what is still missing.
type SourceStore interface {
	// PendingCount returns how many eligible rows have no chunk for docType.
	PendingCount(ctx context.Context, docType string) (int64, error)

	// PendingPage returns a page of pending rows ordered by the length
	// hint (descending unless orderAsc), so large documents are embedded
	// first. Paging is OFFSET/LIMIT over the pending set as of query
	// time: rows committed between queries shrink the set, so callers
	// that commit between pages re-query at the same offset and advance
	// it only past rows they deliberately leave pending.
	PendingPage(ctx context.Context, docType string, offset, limit int, orderAsc bool) ([]SourceRecord, error)
}

// ChunkTx is an open ingestion transaction. InsertChunks must be
// idempotent on (DocumentID, DocType, Index): re-inserting an existing
// key affects zero rows and never overwrites.
type ChunkTx interface {
	// InsertChunks writes chunks with insert-if-absent semantics and
	// returns the number of rows actually inserted.
	InsertChunks(ctx context.Context, chunks []Chunk) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ChunkStore persists and searches embedded chunks. The ingestion driver
// owns transaction boundaries: it opens a ChunkTx, commits every commit
// window, and opens a fresh one for subsequent inserts.
type ChunkStore interface {
	Begin(ctx context.Context) (ChunkTx, error)

	// SearchChunks returns the topK nearest chunks to embedding within
	// docType, by ascending cosine distance. Score is 1 - distance.
	// Ordering between equidistant chunks is the storage engine's and is
	// not guaranteed.
	SearchChunks(ctx context.Context, embedding []float32, docType string, topK int) ([]ScoredChunk, error)
}
