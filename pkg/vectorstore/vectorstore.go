// Package vectorstore stores embedded documentation chunks and answers
// nearest-neighbour queries by cosine distance.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"
)

// VectorStore is the main interface for vector database operations.
// Documents live in named collections, one per documentation corpus.
type VectorStore interface {
	// Upsert inserts or replaces documents in collection.
	Upsert(ctx context.Context, collection string, documents []Document) error

	// Search returns the nearest documents ordered by ascending distance.
	Search(ctx context.Context, collection string, query SearchQuery) ([]SearchResult, error)

	// DeleteCollection removes a collection and all its documents.
	DeleteCollection(ctx context.Context, collection string) error

	// Close closes the connection to the vector database
	Close() error
}

// Document represents a document with embeddings and metadata.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SearchQuery defines the parameters for a similarity search.
type SearchQuery struct {
	Embedding []float32

	// TopK is the number of results to return (default: 5)
	TopK int

	// MaxDistance drops results whose cosine distance exceeds it.
	// Zero disables the cut.
	MaxDistance float64
}

// SearchResult represents a single search result.
type SearchResult struct {
	Document Document

	// Distance is the cosine distance, 1 - cosine similarity. Lower is closer.
	Distance float64
}

// DefaultTopK is used when a query leaves TopK unset.
const DefaultTopK = 5

var (
	// ErrCollectionNotFound is returned when searching an unknown collection.
	ErrCollectionNotFound = errors.New("collection not found")

	documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,256}$`)
)

// ValidateDocument checks if a document is valid before storage.
func ValidateDocument(doc *Document) error {
	if !documentIDPattern.MatchString(doc.ID) {
		return fmt.Errorf("invalid document ID %q", doc.ID)
	}
	if doc.Content == "" {
		return fmt.Errorf("document content cannot be empty")
	}
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("document embedding cannot be empty")
	}
	if err := validVector(doc.Embedding); err != nil {
		return fmt.Errorf("document %s: %w", doc.ID, err)
	}
	return nil
}

// ValidateSearchQuery checks a query and applies the TopK default.
func ValidateSearchQuery(query *SearchQuery) error {
	if len(query.Embedding) == 0 {
		return fmt.Errorf("query embedding cannot be empty")
	}
	if err := validVector(query.Embedding); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if query.TopK == 0 {
		query.TopK = DefaultTopK
	}
	if query.TopK < 1 || query.TopK > 1000 {
		return fmt.Errorf("TopK must be between 1 and 1000, got %d", query.TopK)
	}
	if query.MaxDistance < 0 || query.MaxDistance > 2 {
		return fmt.Errorf("MaxDistance must be between 0 and 2, got %f", query.MaxDistance)
	}
	return nil
}

func validVector(v []float32) error {
	for i, val := range v {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("embedding contains invalid value at index %d: %f", i, val)
		}
	}
	return nil
}

// CosineDistance returns 1 - cosine similarity of a and b. Vectors of
// different length or zero magnitude are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
