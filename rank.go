package mangarag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// SearchConfig tunes retrieval and aggregation.
type SearchConfig struct {
	// DocType restricts the vector search to one chunk family.
	DocType string

	// QueryPrefix is prepended to the query before embedding. Queries
	// and passages use different prefixes per the e5 training convention.
	QueryPrefix string

	// TopKChunks is how many nearest chunks to fetch as evidence.
	TopKChunks int

	// TopSeries caps the number of ranked series returned.
	TopSeries int

	// MaxChunksPerSeries caps evidence per series. It is a diversity cap
	// applied in global result order, not a re-ranking.
	MaxChunksPerSeries int
}

// DefaultSearchConfig returns the production retrieval settings.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		DocType:            DocTypeRAG,
		QueryPrefix:        "query: ",
		TopKChunks:         12,
		TopSeries:          5,
		MaxChunksPerSeries: 3,
	}
}

// Searcher embeds a free-text query and ranks stored series against it.
type Searcher struct {
	cfg       SearchConfig
	embedding EmbeddingProvider
	store     ChunkStore
	logger    *slog.Logger
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithSearcherLogger sets a structured logger.
func WithSearcherLogger(l *slog.Logger) SearcherOption {
	return func(s *Searcher) { s.logger = l }
}

// NewSearcher creates a Searcher.
func NewSearcher(cfg SearchConfig, embedding EmbeddingProvider, store ChunkStore, opts ...SearcherOption) *Searcher {
	s := &Searcher{cfg: cfg, embedding: embedding, store: store, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search embeds the query, fetches the nearest chunks for the configured
// doc type, and aggregates them into a capped per-series ranking.
func (s *Searcher) Search(ctx context.Context, query string) (SearchResult, error) {
	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return SearchResult{}, err
	}

	chunks, err := s.store.SearchChunks(ctx, vec, s.cfg.DocType, s.cfg.TopKChunks)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search chunks: %w", err)
	}
	s.logger.Debug("vector search", "doc_type", s.cfg.DocType, "chunks", len(chunks))

	return SearchResult{
		Query:          query,
		DocType:        s.cfg.DocType,
		EmbeddingModel: s.embedding.Name(),
		TopChunks:      chunks,
		TopSeries:      RankSeries(chunks, s.cfg.TopSeries, s.cfg.MaxChunksPerSeries),
	}, nil
}

// embedQuery embeds a single query with the query prefix.
func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := s.embedding.Embed(ctx, []string{s.cfg.QueryPrefix + strings.TrimSpace(query)})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, &ErrEmbedding{Provider: s.embedding.Name(), Message: "empty or invalid query embedding"}
	}
	return vecs[0], nil
}

// RankSeries aggregates chunks, already globally ordered by descending
// similarity, into per-series results. Each series keeps at most
// maxPerSeries evidence chunks (the first ones seen in result order) and
// is scored by the sum of their similarities. Series are returned by
// descending score, capped at topSeries; equal scores keep first-seen
// order.
func RankSeries(chunks []ScoredChunk, topSeries, maxPerSeries int) []SeriesResult {
	bySeries := make(map[string]int)
	var ranked []SeriesResult

	for _, c := range chunks {
		i, ok := bySeries[c.DocumentID]
		if !ok {
			bySeries[c.DocumentID] = len(ranked)
			ranked = append(ranked, SeriesResult{SeriesID: c.DocumentID})
			i = len(ranked) - 1
		}
		if len(ranked[i].Evidences) >= maxPerSeries {
			continue
		}
		ranked[i].Evidences = append(ranked[i].Evidences, c)
		ranked[i].Score += c.Score
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > topSeries {
		ranked = ranked[:topSeries]
	}
	return ranked
}
