package corpus

import (
	"context"
	"fmt"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/pkg/embeddings"
	"github.com/aixgo-dev/datapilot/pkg/vectorstore"
)

// Retriever answers capability.RetrievalQuery against a vector store.
// Distance is cosine distance; passages beyond the threshold are dropped.
type Retriever struct {
	embedder embeddings.EmbeddingService
	store    vectorstore.VectorStore
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder embeddings.EmbeddingService, store vectorstore.VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query text and returns the nearest passages.
func (r *Retriever) Retrieve(ctx context.Context, q capability.RetrievalQuery) ([]capability.Passage, error) {
	vec, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, q.Corpus, vectorstore.SearchQuery{
		Embedding:   vec,
		TopK:        q.TopK,
		MaxDistance: q.DistanceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("search corpus %s: %w", q.Corpus, err)
	}

	passages := make([]capability.Passage, 0, len(hits))
	for _, h := range hits {
		if q.DistanceThreshold > 0 && h.Distance > q.DistanceThreshold {
			continue
		}
		meta := make(map[string]any, len(h.Document.Metadata))
		for k, v := range h.Document.Metadata {
			meta[k] = v
		}
		passages = append(passages, capability.Passage{
			ID:       h.Document.ID,
			Source:   h.Document.Metadata["source"],
			Text:     h.Document.Content,
			Distance: h.Distance,
			Metadata: meta,
		})
	}
	return passages, nil
}
