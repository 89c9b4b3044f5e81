// Command mangarag ingests manganews series text into a vector store
// and serves retrieval queries against it.
//
// Usage:
//
//	mangarag init
//	mangarag embed [-doc-type rag] [-order desc]
//	mangarag search [-top-k 12] [-top-series 5] [-max-per-series 3] <query>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manganews/mangarag"
	"github.com/manganews/mangarag/internal/config"
	"github.com/manganews/mangarag/observer"
	"github.com/manganews/mangarag/provider/ollama"
	"github.com/manganews/mangarag/store/postgres"
	"github.com/manganews/mangarag/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Load(os.Getenv("MANGARAG_CONFIG"))
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(ctx, cfg, logger)
	case "embed":
		err = runEmbed(ctx, cfg, logger, os.Args[2:])
	case "search":
		err = runSearch(ctx, cfg, logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mangarag <init|embed|search> [flags]")
}

// stores bundles the configured backend behind the ingestion and
// retrieval interfaces.
type stores struct {
	source mangarag.SourceStore
	chunks mangarag.ChunkStore
	init   func(context.Context) error
	close  func()
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("database.dsn is required for the postgres driver")
		}
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		st := postgres.New(pool,
			postgres.WithEmbeddingDimension(cfg.Database.Dimensions),
			postgres.WithLogger(logger))
		if err := st.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &stores{source: st, chunks: st, init: st.Init, close: pool.Close}, nil
	case "sqlite":
		st := sqlite.New(cfg.Database.SQLitePath, sqlite.WithLogger(logger))
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return &stores{source: st, chunks: st, init: st.Init, close: func() { st.Close() }}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// initObserver starts OTEL when enabled. The returned shutdown is a
// no-op when disabled.
func initObserver(ctx context.Context, cfg config.Config) (*observer.Instruments, func(context.Context) error, error) {
	if !cfg.Observer.Enabled {
		return nil, func(context.Context) error { return nil }, nil
	}
	return observer.Init(ctx)
}

func providerFactory(cfg config.Config, inst *observer.Instruments) mangarag.ProviderFactory {
	timeout := time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second
	return func(model string) mangarag.EmbeddingProvider {
		p := ollama.NewEmbedding(cfg.Embedding.OllamaURL, model, cfg.Database.Dimensions,
			ollama.WithTimeout(timeout))
		if inst != nil {
			return observer.WrapEmbedding(p, model, inst)
		}
		return p
	}
}

func ladderConfig(cfg config.Config) mangarag.LadderConfig {
	return mangarag.LadderConfig{
		Primary:       cfg.Embedding.Model,
		Fallbacks:     cfg.Embedding.FallbackModels,
		TruncateSteps: cfg.Embedding.TruncateSteps,
		MinTruncate:   cfg.Embedding.MinTruncate,
		MaxRetries:    cfg.Embedding.MaxRetries,
		RetrySleep:    time.Duration(cfg.Embedding.RetrySleepMS) * time.Millisecond,
	}
}

func runInit(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()
	if err := st.init(ctx); err != nil {
		return err
	}
	logger.Info("schema ready", "driver", cfg.Database.Driver)
	return nil
}

func runEmbed(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	docTypes := fs.String("doc-type", "", "comma-separated doc types to ingest (default from config)")
	order := fs.String("order", "desc", "embed longest documents first (desc) or shortest (asc)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	inst, shutdown, err := initObserver(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init observer: %w", err)
	}
	defer shutdown(context.WithoutCancel(ctx))

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	pipeCfg := mangarag.DefaultPipelineConfig()
	pipeCfg.DocTypes = cfg.Pipeline.DocTypes
	if *docTypes != "" {
		pipeCfg.DocTypes = splitList(*docTypes)
	}
	pipeCfg.PageSize = cfg.Pipeline.PageSize
	pipeCfg.EmbedBatch = cfg.Pipeline.EmbedBatch
	pipeCfg.CommitEvery = cfg.Pipeline.CommitEvery
	pipeCfg.PaceInterval = time.Duration(cfg.Pipeline.PaceMS) * time.Millisecond
	pipeCfg.ChunkSize = cfg.Chunking.Size
	pipeCfg.ChunkOverlap = cfg.Chunking.Overlap
	pipeCfg.OrderAsc = *order == "asc" || cfg.Pipeline.OrderAsc

	ladder := mangarag.NewLadder(ladderConfig(cfg), providerFactory(cfg, inst),
		mangarag.WithLadderLogger(logger))
	pipeline := mangarag.NewPipeline(pipeCfg, st.source, st.chunks, ladder,
		mangarag.WithPipelineLogger(logger))

	start := time.Now()
	stats, err := pipeline.Run(ctx)
	if inst != nil {
		inst.RecordRun(ctx, mangarag.NewID(), stats, float64(time.Since(start).Milliseconds()))
	}
	return err
}

func runSearch(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	docType := fs.String("doc-type", cfg.Search.DocType, "chunk family to search")
	topK := fs.Int("top-k", cfg.Search.TopK, "nearest chunks to fetch")
	topSeries := fs.Int("top-series", cfg.Search.TopSeries, "ranked series to return")
	maxPerSeries := fs.Int("max-per-series", cfg.Search.MaxPerSeries, "evidence chunks per series")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return fmt.Errorf("search: query is required")
	}

	inst, shutdown, err := initObserver(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init observer: %w", err)
	}
	defer shutdown(context.WithoutCancel(ctx))

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	searchCfg := mangarag.DefaultSearchConfig()
	searchCfg.DocType = *docType
	searchCfg.TopKChunks = *topK
	searchCfg.TopSeries = *topSeries
	searchCfg.MaxChunksPerSeries = *maxPerSeries

	embedding := providerFactory(cfg, inst)(cfg.Embedding.Model)
	searcher := mangarag.NewSearcher(searchCfg, embedding, st.chunks,
		mangarag.WithSearcherLogger(logger))

	start := time.Now()
	result, err := searcher.Search(ctx, query)
	if inst != nil {
		inst.RecordSearch(ctx, *docType, *topK, len(result.TopChunks), float64(time.Since(start).Milliseconds()), err)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
