package mangarag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// PipelineConfig tunes the ingestion driver. All knobs have documented
// defaults via DefaultPipelineConfig; zero values are not usable.
type PipelineConfig struct {
	// DocTypes are ingested one sweep each. A source row contributes the
	// field matching the sweep's doc type.
	DocTypes []string

	// PageSize is the number of pending source rows fetched per page.
	PageSize int

	// EmbedBatch is the number of chunks per embedding call.
	EmbedBatch int

	// CommitEvery commits the open transaction after this many inserted
	// rows, bounding transaction size and crash-loss exposure. The driver
	// also commits at every page boundary regardless of the window, so a
	// transaction never spans a pending-page query.
	CommitEvery int

	// PaceInterval spaces embedding sub-batches to respect service rate
	// limits. Zero disables pacing.
	PaceInterval time.Duration

	// ChunkSize and ChunkOverlap configure the window chunker, in runes.
	ChunkSize    int
	ChunkOverlap int

	// PassagePrefix is prepended to every chunk before embedding (the e5
	// family trains documents with "passage: " and queries with
	// "query: ").
	PassagePrefix string

	// OrderAsc flips the length-ordered page query to ascending. The
	// default embeds the largest documents first.
	OrderAsc bool
}

// DefaultPipelineConfig returns the production ingestion settings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		DocTypes:      []string{DocTypeRAG},
		PageSize:      50,
		EmbedBatch:    32,
		CommitEvery:   200,
		PaceInterval:  50 * time.Millisecond,
		ChunkSize:     1200,
		ChunkOverlap:  150,
		PassagePrefix: "passage: ",
	}
}

// RunStats are the cumulative counters of an ingestion run.
type RunStats struct {
	RowsSeen        int64
	ChunksBuilt     int64
	ChunksInserted  int64
	ChunksSkipped   int64
	ChunksDropped   int64
	Batches         int64
	FallbackBatches int64
}

// Pipeline is the resilient ingestion driver: it pages through source
// rows that have no chunks yet, sanitizes and chunks their text, embeds
// chunk batches through the degradation ladder, and persists the results
// idempotently with windowed commits.
//
// The driver owns its ChunkStore transactions; none outlives the page it
// was opened for. Killing the process at any point is safe: committed
// chunks survive, uncommitted ones are re-derived by the next run's
// pending-work query.
type Pipeline struct {
	cfg     PipelineConfig
	source  SourceStore
	chunks  ChunkStore
	ladder  *Ladder
	chunker Chunker
	logger  *slog.Logger
	limiter *rate.Limiter
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets a structured logger for progress reporting.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithPipelineChunker overrides the window chunker.
func WithPipelineChunker(c Chunker) PipelineOption {
	return func(p *Pipeline) { p.chunker = c }
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg PipelineConfig, source SourceStore, chunks ChunkStore, ladder *Ladder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		source:  source,
		chunks:  chunks,
		ladder:  ladder,
		chunker: WindowChunker{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		logger:  nopLogger,
	}
	if cfg.PaceInterval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(cfg.PaceInterval), 1)
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes one ingestion run over every configured doc type and
// returns cumulative counters. Embedding failures degrade and at worst
// drop individual chunks; persistence errors abort the run immediately
// with whatever stats were accumulated.
func (p *Pipeline) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats
	runID := NewID()
	logger := p.logger.With("run_id", runID)

	for _, docType := range p.cfg.DocTypes {
		if err := p.sweep(ctx, docType, logger, &stats); err != nil {
			return stats, err
		}
	}

	logger.Info("ingestion run finished",
		"rows", stats.RowsSeen,
		"chunks", stats.ChunksBuilt,
		"inserted", stats.ChunksInserted,
		"skipped", stats.ChunksSkipped,
		"dropped", stats.ChunksDropped,
		"batches", stats.Batches,
		"batches_with_fallback", stats.FallbackBatches)
	return stats, nil
}

// sweep pages through the pending rows of a single doc type.
func (p *Pipeline) sweep(ctx context.Context, docType string, logger *slog.Logger, stats *RunStats) (err error) {
	total, err := p.source.PendingCount(ctx, docType)
	if err != nil {
		return fmt.Errorf("pipeline: count pending: %w", err)
	}
	logger.Info("pending rows", "doc_type", docType, "rows", total)

	var tx ChunkTx
	defer func() {
		if err != nil && tx != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	var sinceCommit int64
	offset := 0
	for {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			return err
		}

		rows, perr := p.source.PendingPage(ctx, docType, offset, p.cfg.PageSize, p.cfg.OrderAsc)
		if perr != nil {
			err = fmt.Errorf("pipeline: page pending: %w", perr)
			return err
		}
		if len(rows) == 0 {
			break
		}
		stats.RowsSeen += int64(len(rows))

		items := p.buildWorkItems(rows, docType)
		stats.ChunksBuilt += int64(len(items))
		var pageInserted int64

		for start := 0; start < len(items); start += p.cfg.EmbedBatch {
			end := start + p.cfg.EmbedBatch
			if end > len(items) {
				end = len(items)
			}
			batch := items[start:end]

			passages := make([]string, len(batch))
			for i, it := range batch {
				passages[i] = p.cfg.PassagePrefix + it.Text
			}

			stats.Batches++
			results := p.ladder.EmbedBatch(ctx, passages)
			if UsedFallback(results, p.ladder.cfg.Primary) {
				stats.FallbackBatches++
			}

			inserts := make([]Chunk, 0, len(batch))
			for i, r := range results {
				if r.Dropped() {
					stats.ChunksDropped++
					continue
				}
				it := batch[i]
				inserts = append(inserts, Chunk{
					DocumentID: it.DocumentID,
					DocType:    it.DocType,
					Index:      it.Index,
					Text:       it.Text,
					Embedding:  r.Vector,
					Model:      r.Model,
					EmbeddedAt: NowUnix(),
				})
			}

			if len(inserts) > 0 {
				if tx == nil {
					tx, err = p.chunks.Begin(ctx)
					if err != nil {
						err = fmt.Errorf("pipeline: begin tx: %w", err)
						return err
					}
				}
				inserted, ierr := tx.InsertChunks(ctx, inserts)
				if ierr != nil {
					err = fmt.Errorf("pipeline: insert chunks: %w", ierr)
					return err
				}
				stats.ChunksInserted += inserted
				stats.ChunksSkipped += int64(len(inserts)) - inserted
				sinceCommit += inserted
				pageInserted += inserted
			}

			if sinceCommit >= int64(p.cfg.CommitEvery) && tx != nil {
				if cerr := tx.Commit(ctx); cerr != nil {
					tx = nil
					err = fmt.Errorf("pipeline: commit: %w", cerr)
					return err
				}
				tx = nil
				sinceCommit = 0
			}

			if p.limiter != nil {
				if werr := p.limiter.Wait(ctx); werr != nil {
					err = werr
					return err
				}
			}
		}

		// Commit at the page boundary so the documents just ingested leave
		// the pending set before it is queried again. It also guarantees
		// no transaction stays open across a pending query, which keeps
		// single-connection stores usable.
		if tx != nil {
			if cerr := tx.Commit(ctx); cerr != nil {
				tx = nil
				err = fmt.Errorf("pipeline: commit page: %w", cerr)
				return err
			}
			tx = nil
			sinceCommit = 0
		}

		// The pending set shrinks as pages commit, so the next query at
		// the same offset starts where this page left off. Only a page
		// that inserted nothing (empty text, dropped chunks, or rows
		// already fully present) leaves its rows pending; step past those
		// so the sweep always terminates.
		if pageInserted == 0 {
			offset += len(rows)
		}

		logger.Info("progress",
			"doc_type", docType,
			"rows_skipped", offset,
			"rows_total", total,
			"chunks_page", len(items),
			"inserted", stats.ChunksInserted,
			"skipped", stats.ChunksSkipped,
			"dropped", stats.ChunksDropped,
			"batches", stats.Batches,
			"batches_with_fallback", stats.FallbackBatches)
	}
	return nil
}

// buildWorkItems sanitizes and chunks every field of a page matching the
// sweep's doc type. Chunk indexes restart at 0 per (document, doc type)
// group.
func (p *Pipeline) buildWorkItems(rows []SourceRecord, docType string) []ChunkWorkItem {
	var items []ChunkWorkItem
	for _, row := range rows {
		for _, f := range row.Fields {
			if f.DocType != docType {
				continue
			}
			cleaned := Sanitize(f.Text)
			if cleaned == "" {
				continue
			}
			for idx, text := range p.chunker.Chunk(cleaned) {
				items = append(items, ChunkWorkItem{
					DocumentID: row.ID,
					DocType:    docType,
					Index:      idx,
					Text:       text,
				})
			}
		}
	}
	return items
}
