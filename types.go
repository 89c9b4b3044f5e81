package mangarag

// DocType names the source field a chunk was cut from. The scraper
// produces per-field text ("resume", "points_forts") as well as a single
// consolidated "rag" field.
const (
	DocTypeResume     = "resume"
	DocTypePointsFort = "points_forts"
	DocTypeRAG        = "rag"
)

// SourceField is one embeddable text field of a source record.
type SourceField struct {
	DocType string
	Text    string
}

// SourceRecord is a scraped series row as exposed by the source table.
// It is owned by the upstream scraper and read-only here.
type SourceRecord struct {
	// ID is the series URL, the stable document identifier.
	ID     string
	Fields []SourceField
}

// ChunkWorkItem is a chunk awaiting embedding: the position of a window
// of sanitized text within its (document, doc type) group.
type ChunkWorkItem struct {
	DocumentID string
	DocType    string
	Index      int
	Text       string
}

// Chunk is a persisted, embedded window of document text. Chunks are
// append-only: once written a row is never updated, only skipped when the
// same (DocumentID, DocType, Index) key is inserted again.
type Chunk struct {
	DocumentID string    `json:"document_id"`
	DocType    string    `json:"doc_type"`
	Index      int       `json:"chunk_index"`
	Text       string    `json:"text,omitempty"`
	Embedding  []float32 `json:"-"`
	Model      string    `json:"embedding_model,omitempty"`
	EmbeddedAt int64     `json:"embedded_at,omitempty"`
}

// ScoredChunk is a chunk returned by vector search. Preview holds a
// truncated slice of the chunk text; Score is cosine similarity in
// [-1, 1], higher is closer.
type ScoredChunk struct {
	DocumentID string  `json:"series_url"`
	DocType    string  `json:"doc_type"`
	Index      int     `json:"chunk_index"`
	Preview    string  `json:"preview"`
	Score      float32 `json:"cosine_sim"`
}

// SeriesResult is one ranked series with its supporting evidence chunks.
type SeriesResult struct {
	SeriesID  string        `json:"series_url"`
	Score     float32       `json:"score"`
	Evidences []ScoredChunk `json:"evidences"`
}

// SearchResult is the JSON shape produced by Searcher.Search.
type SearchResult struct {
	Query          string         `json:"query"`
	DocType        string         `json:"doc_type"`
	EmbeddingModel string         `json:"embedding_model"`
	TopChunks      []ScoredChunk  `json:"top_chunks"`
	TopSeries      []SeriesResult `json:"top_series"`
}
