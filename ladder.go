package mangarag

import (
	"context"
	"log/slog"
	"time"
)

// LadderConfig tunes the degradation ladder: which models to try, which
// truncation lengths to fall back through, and how many times to retry
// each (model, length) candidate before moving on.
type LadderConfig struct {
	// Primary is the model used for the whole-batch attempt and tried
	// first in per-item mode.
	Primary string

	// Fallbacks are tried in order after Primary, per item.
	Fallbacks []string

	// TruncateSteps are candidate passage lengths in runes, descending.
	// They are clamped to the item's length and deduplicated per item.
	TruncateSteps []int

	// MinTruncate drops configured steps below this floor.
	MinTruncate int

	// MaxRetries is the number of extra attempts per (model, length)
	// candidate after the first.
	MaxRetries int

	// RetrySleep is the pause between attempts on the same candidate.
	RetrySleep time.Duration
}

// DefaultLadderConfig returns the production ladder for the multilingual
// e5 model family served by Ollama.
func DefaultLadderConfig() LadderConfig {
	return LadderConfig{
		Primary: "qllama/multilingual-e5-base:latest",
		Fallbacks: []string{
			"qllama/multilingual-e5-base:q8_0",
			"qllama/multilingual-e5-base:q4_k_m",
		},
		TruncateSteps: []int{1200, 900, 700, 500, 350, 250},
		MinTruncate:   200,
		MaxRetries:    2,
		RetrySleep:    100 * time.Millisecond,
	}
}

// EmbedResult is the per-item outcome of a ladder batch. A nil Vector
// means the item exhausted every model, length, and retry and was
// dropped; Err then holds the last failure. Dropped items are reported,
// never escalated: ingestion tolerates partial coverage.
type EmbedResult struct {
	Vector []float32
	Model  string
	Err    error
}

// Dropped reports whether the item yielded no vector.
func (r EmbedResult) Dropped() bool { return r.Vector == nil }

// Ladder embeds batches of passages with degrading fallback. A whole
// batch is first tried against the primary model; if that single call
// fails, the ladder switches to a per-item pipeline that walks fallback
// models and shrinking truncation lengths with bounded retries,
// maximizing recoverable yield instead of failing the batch.
type Ladder struct {
	cfg     LadderConfig
	factory ProviderFactory
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// LadderOption configures a Ladder.
type LadderOption func(*Ladder)

// WithLadderLogger sets a structured logger for fallback and drop events.
func WithLadderLogger(l *slog.Logger) LadderOption {
	return func(ld *Ladder) { ld.logger = l }
}

// NewLadder creates a Ladder. factory builds the embedding client for
// each candidate model.
func NewLadder(cfg LadderConfig, factory ProviderFactory, opts ...LadderOption) *Ladder {
	l := &Ladder{
		cfg:     cfg,
		factory: factory,
		logger:  nopLogger,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// EmbedBatch embeds passages best-effort. The returned slice always has
// one EmbedResult per input, in input order; it never returns an error.
func (l *Ladder) EmbedBatch(ctx context.Context, passages []string) []EmbedResult {
	results := make([]EmbedResult, len(passages))
	if len(passages) == 0 {
		return results
	}

	vecs, err := l.factory(l.cfg.Primary).Embed(ctx, passages)
	if err == nil && len(vecs) == len(passages) {
		for i, v := range vecs {
			results[i] = EmbedResult{Vector: v, Model: l.cfg.Primary}
		}
		return results
	}
	if err == nil {
		err = &ErrEmbedding{Provider: l.cfg.Primary, Message: "vector count mismatch"}
	}
	l.logger.Warn("batch embed failed, falling back per item",
		"model", l.cfg.Primary,
		"batch_size", len(passages),
		"error", err)

	for i, p := range passages {
		results[i] = l.embedOne(ctx, p)
	}
	return results
}

// embedOne walks the ladder for a single passage: every candidate model,
// every truncation length, MaxRetries+1 attempts each.
func (l *Ladder) embedOne(ctx context.Context, passage string) EmbedResult {
	clean := Sanitize(passage)
	if clean == "" {
		return EmbedResult{}
	}

	runes := []rune(clean)
	steps := l.truncateSteps(len(runes))
	models := append([]string{l.cfg.Primary}, l.cfg.Fallbacks...)

	var lastErr error
	for _, model := range models {
		provider := l.factory(model)
		for _, n := range steps {
			candidate := string(runes[:n])
			for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
				if ctx.Err() != nil {
					return EmbedResult{Err: ctx.Err()}
				}
				vecs, err := provider.Embed(ctx, []string{candidate})
				if err == nil && len(vecs) == 1 {
					return EmbedResult{Vector: vecs[0], Model: model}
				}
				if err == nil {
					err = &ErrEmbedding{Provider: model, Message: "vector count mismatch"}
				}
				lastErr = err
				if attempt < l.cfg.MaxRetries {
					if serr := l.sleep(ctx, l.cfg.RetrySleep); serr != nil {
						return EmbedResult{Err: serr}
					}
				}
			}
		}
	}

	l.logger.Warn("passage dropped after exhausting ladder",
		"len", len(runes),
		"models", len(models),
		"steps", len(steps),
		"error", lastErr)
	return EmbedResult{Err: lastErr}
}

// truncateSteps derives the candidate lengths for a passage of length n
// runes: configured steps at or above the floor, clamped to n,
// deduplicated in order. A passage already shorter than the smallest
// step collapses to a single attempt at full length.
func (l *Ladder) truncateSteps(n int) []int {
	steps := make([]int, 0, len(l.cfg.TruncateSteps)+1)
	for _, s := range l.cfg.TruncateSteps {
		if s >= l.cfg.MinTruncate {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		steps = append(steps, l.cfg.MinTruncate)
	}

	for i, s := range steps {
		if s > n {
			steps[i] = n
		}
	}
	if n < steps[len(steps)-1] {
		steps = append(steps, n)
	}

	seen := make(map[int]bool, len(steps))
	out := steps[:0]
	for _, s := range steps {
		if s > 0 && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []int{n}
	}
	if n <= out[len(out)-1] {
		return []int{n}
	}
	return out
}

// UsedFallback reports whether any item in a batch result deviated from
// model: a different model was used or the item was dropped. Purely
// observational; it never changes control flow.
func UsedFallback(results []EmbedResult, model string) bool {
	for _, r := range results {
		if r.Dropped() || r.Model != model {
			return true
		}
	}
	return false
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
