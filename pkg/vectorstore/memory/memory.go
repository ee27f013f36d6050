// Package memory is an in-process VectorStore using brute-force search.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aixgo-dev/datapilot/pkg/vectorstore"
)

const defaultMaxDocuments = 100000

// MemoryVectorStore implements an in-memory vector store for development and
// small corpora.
type MemoryVectorStore struct {
	mu           sync.RWMutex
	collections  map[string]map[string]vectorstore.Document
	maxDocuments int
}

// New creates a store capped at maxDocuments per collection. Zero selects
// the default cap.
func New(maxDocuments int) *MemoryVectorStore {
	if maxDocuments <= 0 {
		maxDocuments = defaultMaxDocuments
	}
	return &MemoryVectorStore{
		collections:  make(map[string]map[string]vectorstore.Document),
		maxDocuments: maxDocuments,
	}
}

// Upsert inserts or updates documents with embeddings.
func (m *MemoryVectorStore) Upsert(_ context.Context, collection string, documents []vectorstore.Document) error {
	if len(documents) == 0 {
		return nil
	}
	for i := range documents {
		if err := vectorstore.ValidateDocument(&documents[i]); err != nil {
			return fmt.Errorf("invalid document at index %d: %w", i, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]vectorstore.Document)
		m.collections[collection] = coll
	}

	added := 0
	for _, d := range documents {
		if _, exists := coll[d.ID]; !exists {
			added++
		}
	}
	if len(coll)+added > m.maxDocuments {
		return fmt.Errorf("collection %q would exceed %d documents", collection, m.maxDocuments)
	}

	now := time.Now().UTC()
	for _, d := range documents {
		if d.UpdatedAt.IsZero() {
			d.UpdatedAt = now
		}
		d.Embedding = append([]float32(nil), d.Embedding...)
		coll[d.ID] = d
	}
	return nil
}

// Search performs brute-force cosine search.
func (m *MemoryVectorStore) Search(ctx context.Context, collection string, query vectorstore.SearchQuery) ([]vectorstore.SearchResult, error) {
	if err := vectorstore.ValidateSearchQuery(&query); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
	}

	results := make([]vectorstore.SearchResult, 0, len(coll))
	for _, d := range coll {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dist := vectorstore.CosineDistance(query.Embedding, d.Embedding)
		if query.MaxDistance > 0 && dist > query.MaxDistance {
			continue
		}
		results = append(results, vectorstore.SearchResult{Document: d, Distance: dist})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance == results[j].Distance {
			return results[i].Document.ID < results[j].Document.ID
		}
		return results[i].Distance < results[j].Distance
	})
	if len(results) > query.TopK {
		results = results[:query.TopK]
	}
	return results, nil
}

// DeleteCollection removes a collection.
func (m *MemoryVectorStore) DeleteCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

// Count returns the number of documents in collection.
func (m *MemoryVectorStore) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// Close is a no-op.
func (m *MemoryVectorStore) Close() error { return nil }
