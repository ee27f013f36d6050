// Package firestore implements vectorstore.VectorStore on Cloud Firestore
// vector search.
//
// Each corpus maps to a top-level Firestore collection with a prefix. A
// single-field vector index on "embedding" (COSINE) must exist for every
// collection queried; Firestore rejects FindNearest without one.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/aixgo-dev/datapilot/pkg/vectorstore"
)

const (
	fieldEmbedding = "embedding"
	fieldDistance  = "vector_distance"
)

// FirestoreVectorStore stores documents in Firestore.
type FirestoreVectorStore struct {
	client *firestore.Client
	prefix string
}

// Config contains configuration for the Firestore vector store.
type Config struct {
	ProjectID        string
	CredentialsFile  string
	CollectionPrefix string
}

// Option configures a FirestoreVectorStore.
type Option func(*Config)

// WithProjectID sets the GCP project ID.
func WithProjectID(projectID string) Option {
	return func(c *Config) {
		c.ProjectID = projectID
	}
}

// WithCredentialsFile sets the path to service account credentials.
func WithCredentialsFile(path string) Option {
	return func(c *Config) {
		c.CredentialsFile = path
	}
}

// WithCollectionPrefix namespaces the Firestore collections.
func WithCollectionPrefix(prefix string) Option {
	return func(c *Config) {
		c.CollectionPrefix = prefix
	}
}

// New creates a new FirestoreVectorStore. Without a credentials file
// Application Default Credentials are used; FIRESTORE_EMULATOR_HOST is
// honoured by the client library.
func New(ctx context.Context, opts ...Option) (*FirestoreVectorStore, error) {
	config := &Config{CollectionPrefix: "datapilot_"}
	for _, opt := range opts {
		opt(config)
	}

	if config.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var clientOpts []option.ClientOption
	if config.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, config.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreVectorStore{client: client, prefix: config.CollectionPrefix}, nil
}

type firestoreDocument struct {
	Content   string             `firestore:"content"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	Metadata  map[string]string  `firestore:"metadata,omitempty"`
	UpdatedAt time.Time          `firestore:"updated_at"`
}

func (f *FirestoreVectorStore) collection(name string) *firestore.CollectionRef {
	return f.client.Collection(f.prefix + name)
}

// Upsert writes documents with a BulkWriter and waits for every write.
func (f *FirestoreVectorStore) Upsert(ctx context.Context, collection string, documents []vectorstore.Document) error {
	if len(documents) == 0 {
		return nil
	}
	for i := range documents {
		if err := vectorstore.ValidateDocument(&documents[i]); err != nil {
			return fmt.Errorf("invalid document at index %d: %w", i, err)
		}
	}

	coll := f.collection(collection)
	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(documents))
	for _, d := range documents {
		job, err := bw.Set(coll.Doc(d.ID), toFirestore(d))
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue write for %s: %w", d.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("firestore upsert: %w", errors.Join(errs...))
	}
	return nil
}

// Search runs a FindNearest query with cosine distance.
func (f *FirestoreVectorStore) Search(ctx context.Context, collection string, query vectorstore.SearchQuery) ([]vectorstore.SearchResult, error) {
	if err := vectorstore.ValidateSearchQuery(&query); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	opts := &firestore.FindNearestOptions{DistanceResultField: fieldDistance}
	if query.MaxDistance > 0 {
		threshold := query.MaxDistance
		opts.DistanceThreshold = &threshold
	}

	vq := f.collection(collection).FindNearest(fieldEmbedding, firestore.Vector32(query.Embedding), query.TopK, firestore.DistanceMeasureCosine, opts)
	iter := vq.Documents(ctx)
	defer iter.Stop()

	var results []vectorstore.SearchResult
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate documents: %w", err)
		}

		var fd firestoreDocument
		if err := snap.DataTo(&fd); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document %s: %w", snap.Ref.ID, err)
		}
		dist, _ := snap.Data()[fieldDistance].(float64)
		results = append(results, vectorstore.SearchResult{
			Document: fromFirestore(snap.Ref.ID, fd),
			Distance: dist,
		})
	}
	return results, nil
}

// DeleteCollection deletes every document of the collection.
func (f *FirestoreVectorStore) DeleteCollection(ctx context.Context, collection string) error {
	bw := f.client.BulkWriter(ctx)
	iter := f.collection(collection).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to iterate documents: %w", err)
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return fmt.Errorf("failed to queue delete: %w", err)
		}
	}
	bw.End()
	return nil
}

// Ping reads nothing but verifies the client can reach Firestore.
func (f *FirestoreVectorStore) Ping(ctx context.Context) error {
	iter := f.client.Collections(ctx)
	_, err := iter.Next()
	if err != nil && err != iterator.Done {
		return err
	}
	return nil
}

// Close closes the Firestore client.
func (f *FirestoreVectorStore) Close() error {
	return f.client.Close()
}

func toFirestore(d vectorstore.Document) firestoreDocument {
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return firestoreDocument{
		Content:   d.Content,
		Embedding: firestore.Vector32(d.Embedding),
		Metadata:  d.Metadata,
		UpdatedAt: updated,
	}
}

func fromFirestore(id string, fd firestoreDocument) vectorstore.Document {
	return vectorstore.Document{
		ID:        id,
		Content:   fd.Content,
		Embedding: []float32(fd.Embedding),
		Metadata:  fd.Metadata,
		UpdatedAt: fd.UpdatedAt,
	}
}
