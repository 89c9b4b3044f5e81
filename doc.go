// Package mangarag turns scraped series text into vector embeddings and
// serves similarity queries over them.
//
// The ingestion side sanitizes and chunks source text, embeds chunks
// through a degradation ladder that falls back across model variants and
// truncation lengths, and persists them idempotently with windowed
// commits so an interrupted run can always resume. The retrieval side
// embeds a query, fetches the nearest chunks from the store, and
// aggregates them into a per-series ranked list.
//
// Storage backends live under store/ (PostgreSQL with pgvector for
// production, pure-Go SQLite for local use), the embedding transport
// under provider/, and OTEL instrumentation under observer/.
package mangarag
