// Package embedder turns note text and search queries into vectors.
//
// Three providers implement Embedder:
//   - Jina AI (jina-embeddings-v3, 1024 dimensions)
//   - OpenAI (text-embedding-3-small, 1536 dimensions)
//   - Local (hashed bag of words, 384 dimensions, offline)
//
// Jina and OpenAI share APIProvider, a go-openai client pointed at the
// provider's base URL. Any other OpenAI-compatible endpoint works through
// Config.BaseURL.
//
// # Provider Selection
//
//  1. If NOTESEARCH_EMBEDDING_PROVIDER is set, use it
//  2. Else if JINA_API_KEY is set, use Jina AI
//  3. Else if OPENAI_API_KEY is set, use OpenAI
//  4. Else fall back to the local provider
//
// # Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "openai", CacheSize: 10000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vectors, err := emb.EmbedBatch(ctx, []string{note1.Content, note2.Content})
//
// # Caching and Retries
//
// Vectors are cached by model and text hash in an LRU. Cached texts in
// a batch are served locally and only the rest are sent. Failed API calls are
// retried with exponential backoff; client errors other than 408 and 429 are
// not retried. All failures wrap ErrProviderFailed.
package embedder
