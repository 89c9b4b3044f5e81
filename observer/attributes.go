package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for ingestion and retrieval spans and metrics.
var (
	AttrEmbedModel      = attribute.Key("embed.model")
	AttrEmbedProvider   = attribute.Key("embed.provider")
	AttrEmbedTextCount  = attribute.Key("embed.text_count")
	AttrEmbedDimensions = attribute.Key("embed.dimensions")

	AttrDocType = attribute.Key("ingest.doc_type")
	AttrRunID   = attribute.Key("ingest.run_id")

	AttrSearchTopK    = attribute.Key("search.top_k")
	AttrSearchResults = attribute.Key("search.results")

	AttrStatus = attribute.Key("status")
)
