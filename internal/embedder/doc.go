// Package embedder generates vector embeddings for indexed functions.
//
// Three providers are available:
//
//   - local: deterministic hashed token features, no network access
//   - openai: OpenAI /v1/embeddings (OPENAI_API_KEY)
//   - jina: Jina AI /v1/embeddings (JINA_API_KEY)
//
// Usage:
//
//	emb, err := embedder.New(embedder.Config{Provider: "local"})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{"func Add(a, b int) int { return a + b }"},
//	})
//
// Embeddings are cached in an LRU keyed by the SHA-256 of the text. HTTP
// providers only send cache misses and retry transient failures (network
// errors, 429 and 5xx) with exponential backoff; other 4xx responses fail
// immediately.
//
// The provider and model name feed the checkpoint's config fingerprint, so
// switching either forces a full reindex.
package embedder
