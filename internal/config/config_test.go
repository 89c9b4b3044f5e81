package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Embedding.Model != "qllama/multilingual-e5-base:latest" {
		t.Errorf("Model = %q", cfg.Embedding.Model)
	}
	if len(cfg.Embedding.FallbackModels) != 2 {
		t.Errorf("FallbackModels = %v, want 2 entries", cfg.Embedding.FallbackModels)
	}
	if cfg.Pipeline.PageSize != 50 || cfg.Pipeline.EmbedBatch != 32 || cfg.Pipeline.CommitEvery != 200 {
		t.Errorf("pipeline defaults = %+v", cfg.Pipeline)
	}
	if cfg.Chunking.Size != 1200 || cfg.Chunking.Overlap != 150 {
		t.Errorf("chunking defaults = %+v", cfg.Chunking)
	}
	if cfg.Search.TopK != 12 || cfg.Search.TopSeries != 5 || cfg.Search.MaxPerSeries != 3 {
		t.Errorf("search defaults = %+v", cfg.Search)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mangarag.toml")
	data := `
[database]
driver = "sqlite"
sqlite_path = "/tmp/dev.db"

[pipeline]
page_size = 10
doc_types = ["resume", "rag"]

[chunking]
size = 800
overlap = 100
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Database.SQLitePath != "/tmp/dev.db" {
		t.Errorf("SQLitePath = %q", cfg.Database.SQLitePath)
	}
	if cfg.Pipeline.PageSize != 10 {
		t.Errorf("PageSize = %d, want 10", cfg.Pipeline.PageSize)
	}
	if len(cfg.Pipeline.DocTypes) != 2 {
		t.Errorf("DocTypes = %v", cfg.Pipeline.DocTypes)
	}
	if cfg.Chunking.Size != 800 || cfg.Chunking.Overlap != 100 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	// Untouched sections keep defaults.
	if cfg.Embedding.Model != "qllama/multilingual-e5-base:latest" {
		t.Errorf("Model = %q, want default", cfg.Embedding.Model)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MANGARAG_DSN", "postgresql://u:p@db:5432/x")
	t.Setenv("MANGARAG_EMBED_MODEL", "custom-model")
	t.Setenv("MANGARAG_PAGE_SIZE", "7")
	t.Setenv("MANGARAG_DOC_TYPES", "resume, points_forts")
	t.Setenv("MANGARAG_OBSERVER_ENABLED", "1")

	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.Database.DSN != "postgresql://u:p@db:5432/x" {
		t.Errorf("DSN = %q", cfg.Database.DSN)
	}
	if cfg.Embedding.Model != "custom-model" {
		t.Errorf("Model = %q", cfg.Embedding.Model)
	}
	if cfg.Pipeline.PageSize != 7 {
		t.Errorf("PageSize = %d, want 7", cfg.Pipeline.PageSize)
	}
	if len(cfg.Pipeline.DocTypes) != 2 || cfg.Pipeline.DocTypes[1] != "points_forts" {
		t.Errorf("DocTypes = %v", cfg.Pipeline.DocTypes)
	}
	if !cfg.Observer.Enabled {
		t.Error("Observer.Enabled = false, want true")
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mangarag.toml")
	if err := os.WriteFile(path, []byte("[embedding]\nmodel = \"file-model\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MANGARAG_EMBED_MODEL", "env-model")

	cfg := Load(path)
	if cfg.Embedding.Model != "env-model" {
		t.Errorf("Model = %q, want env-model", cfg.Embedding.Model)
	}
}

func TestEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("MANGARAG_PAGE_SIZE", "not-a-number")
	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.Pipeline.PageSize != 50 {
		t.Errorf("PageSize = %d, want default 50", cfg.Pipeline.PageSize)
	}
}
