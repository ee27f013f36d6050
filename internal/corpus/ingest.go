package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aixgo-dev/datapilot/pkg/embeddings"
	"github.com/aixgo-dev/datapilot/pkg/observability"
	"github.com/aixgo-dev/datapilot/pkg/vectorstore"
)

// Extensions ingested when walking a directory.
var ingestExtensions = map[string]bool{".md": true, ".txt": true, ".rst": true, ".sql": true}

var idUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.\-]+`)

// IngestOptions tunes an Ingester.
type IngestOptions struct {
	ChunkSize int
	// ChunkOverlap of zero means DefaultChunkOverlap; negative disables overlap.
	ChunkOverlap int
	// BatchSize caps the texts sent per embedding request.
	BatchSize int
	// RequestsPerMinute limits embedding requests. Zero means 1000.
	RequestsPerMinute int
	Logger            *zap.Logger
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Files    int
	Chunks   int
	Duration time.Duration
}

// Ingester chunks documentation files, embeds the chunks and upserts them
// into a vector store collection named after the corpus.
type Ingester struct {
	embedder embeddings.EmbeddingService
	store    vectorstore.VectorStore
	limiter  *rate.Limiter
	opts     IngestOptions
	logger   *zap.Logger
}

// NewIngester creates an Ingester.
func NewIngester(embedder embeddings.EmbeddingService, store vectorstore.VectorStore, opts IngestOptions) *Ingester {
	opts.ChunkSize, opts.ChunkOverlap = chunkParams(opts.ChunkSize, opts.ChunkOverlap)
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 1000
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		embedder: embedder,
		store:    store,
		limiter:  rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60), 1),
		opts:     opts,
		logger:   logger,
	}
}

// IngestFiles ingests every path; directories are walked for documentation
// files. Chunk IDs are derived from the file path and chunk index, so
// re-ingesting a file replaces its chunks.
func (in *Ingester) IngestFiles(ctx context.Context, corpus string, paths []string) (IngestStats, error) {
	start := time.Now()
	var stats IngestStats

	files, err := expandPaths(paths)
	if err != nil {
		return stats, err
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return stats, fmt.Errorf("read %s: %w", file, err)
		}
		n, err := in.IngestText(ctx, corpus, file, string(data))
		if err != nil {
			return stats, fmt.Errorf("ingest %s: %w", file, err)
		}
		stats.Files++
		stats.Chunks += n
	}

	stats.Duration = time.Since(start)
	in.logger.Info("corpus ingested",
		zap.String("corpus", corpus),
		zap.Int("files", stats.Files),
		zap.Int("chunks", stats.Chunks),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// IngestText ingests one document and returns the number of chunks stored.
func (in *Ingester) IngestText(ctx context.Context, corpus, source, text string) (int, error) {
	chunks := Chunk(text, in.opts.ChunkSize, in.opts.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, nil
	}

	base := idUnsafe.ReplaceAllString(filepath.ToSlash(source), "_")
	now := time.Now().UTC()

	for lo := 0; lo < len(chunks); lo += in.opts.BatchSize {
		hi := min(lo+in.opts.BatchSize, len(chunks))
		if err := in.limiter.Wait(ctx); err != nil {
			return lo, err
		}
		vecs, err := in.embedder.EmbedBatch(ctx, chunks[lo:hi])
		if err != nil {
			return lo, fmt.Errorf("embed chunks: %w", err)
		}

		docs := make([]vectorstore.Document, 0, hi-lo)
		for i, vec := range vecs {
			idx := lo + i
			docs = append(docs, vectorstore.Document{
				ID:        base + ":" + strconv.Itoa(idx),
				Content:   chunks[idx],
				Embedding: vec,
				Metadata:  map[string]string{"source": source, "chunk": strconv.Itoa(idx)},
				UpdatedAt: now,
			})
		}
		if err := in.store.Upsert(ctx, corpus, docs); err != nil {
			return lo, fmt.Errorf("store chunks: %w", err)
		}
	}

	observability.RecordChunksIngested(corpus, len(chunks))
	return len(chunks), nil
}

func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && ingestExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return files, nil
}
