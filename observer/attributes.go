package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for the engine's observability spans and metrics.
var (
	AttrModel    = attribute.Key("memengine.model")
	AttrProvider = attribute.Key("memengine.provider")
	AttrMethod   = attribute.Key("memengine.method")

	AttrTokensInput  = attribute.Key("memengine.tokens.input")
	AttrTokensOutput = attribute.Key("memengine.tokens.output")
	AttrCostUSD      = attribute.Key("memengine.cost_usd")

	AttrSubqueryName   = attribute.Key("retriever.subquery.name")
	AttrSubqueryHits   = attribute.Key("retriever.subquery.hits")
	AttrSubqueryStatus = attribute.Key("retriever.subquery.status")

	AttrStreamChunks = attribute.Key("memengine.stream_chunks")

	AttrEmbedTextCount  = attribute.Key("memengine.embed.text_count")
	AttrEmbedDimensions = attribute.Key("memengine.embed.dimensions")

	AttrConversationID = attribute.Key("ingest.conversation_id")
	AttrTurnCount      = attribute.Key("ingest.turn_count")
	AttrCandidateCount = attribute.Key("ingest.candidate_count")
)
