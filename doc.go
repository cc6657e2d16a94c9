// Package memengine implements a hybrid temporal memory engine: durable
// claims are extracted from conversation transcripts, stored with
// bi-temporal validity (when something was true in the world versus when
// the engine learned it), and retrieved through a fusion of dense vector
// search, BM25 keyword search, and bounded graph traversal over
// supersession and relatedness edges.
//
// A minimal setup wires a Store, an ExtractionModel, an EmbeddingModel,
// and a Tokenizer:
//
//	store := sqlitestore.New("memories.db")
//	engine := memengine.New(
//		memengine.WithStore(store),
//		memengine.WithExtractionModel(myExtractionModel),
//		memengine.WithEmbeddingModel(myEmbeddingModel),
//		memengine.WithTokenizer(myTokenizer),
//	)
//	if err := engine.Init(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.ObserveTurn(conversationID, memengine.Turn{Role: "user", Text: msg})
//	...
//	summary, err := engine.IngestConversation(ctx, conversationID, turns)
//	memories, err := engine.Retrieve(ctx, "what router do I run", 10, 2000, nil)
//
// The core pipeline is exposed as independently usable components
// (Extractor, StorageService, TemporalManager, Retriever, Deduplicator,
// Ranker, BudgetManager, AccessTracker, ConversationTracker,
// TierTransitioner) for callers that want to customize the wiring instead
// of using Engine directly.
//
// Store implementations are provided for SQLite (package store/sqlite,
// brute-force cosine search plus FTS5) and Postgres (package
// store/postgres, pgvector HNSW search).
package memengine
