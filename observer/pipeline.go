package observer

import (
	"context"

	"github.com/manganews/mangarag"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
)

// RecordRun records the outcome of one ingestion run: chunk counters
// plus a structured summary log.
func (inst *Instruments) RecordRun(ctx context.Context, runID string, stats mangarag.RunStats, durationMs float64) {
	attrs := metric.WithAttributes(AttrRunID.String(runID))
	inst.ChunksInserted.Add(ctx, stats.ChunksInserted, attrs)
	inst.ChunksSkipped.Add(ctx, stats.ChunksSkipped, attrs)
	inst.ChunksDropped.Add(ctx, stats.ChunksDropped, attrs)

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("ingestion run completed"))
	rec.AddAttributes(
		otellog.String("ingest.run_id", runID),
		otellog.Int64("ingest.rows_seen", stats.RowsSeen),
		otellog.Int64("ingest.chunks_inserted", stats.ChunksInserted),
		otellog.Int64("ingest.chunks_skipped", stats.ChunksSkipped),
		otellog.Int64("ingest.chunks_dropped", stats.ChunksDropped),
		otellog.Int64("ingest.fallback_batches", stats.FallbackBatches),
		otellog.Float64("ingest.duration_ms", durationMs),
	)
	inst.Logger.Emit(ctx, rec)
}

// RecordSearch records one retrieval request: counters, duration, and a
// structured summary log carrying the result count.
func (inst *Instruments) RecordSearch(ctx context.Context, docType string, topK, results int, durationMs float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	inst.SearchRequests.Add(ctx, 1, metric.WithAttributes(
		AttrDocType.String(docType),
		AttrStatus.String(status),
		AttrSearchResults.Int(results),
	))
	inst.SearchDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrDocType.String(docType),
		AttrSearchTopK.Int(topK),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("search completed"))
	rec.AddAttributes(
		otellog.String("search.doc_type", docType),
		otellog.Int("search.top_k", topK),
		otellog.Int("search.results", results),
		otellog.Float64("search.duration_ms", durationMs),
		otellog.String("status", status),
	)
	inst.Logger.Emit(ctx, rec)
}
