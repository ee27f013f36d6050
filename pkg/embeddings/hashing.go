package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const hashingDefaultDimensions = 256

// HashingEmbeddings is an offline bag-of-words embedder using the hashing
// trick. Texts sharing vocabulary get a small cosine distance.
type HashingEmbeddings struct {
	dimensions int
}

func init() {
	Register("hashing", func(_ context.Context, config Config) (EmbeddingService, error) {
		return NewHashing(config.Dimensions), nil
	})
}

// NewHashing creates a hashing embedder. Zero selects the default size.
func NewHashing(dimensions int) *HashingEmbeddings {
	if dimensions <= 0 {
		dimensions = hashingDefaultDimensions
	}
	return &HashingEmbeddings{dimensions: dimensions}
}

// Embed hashes every lowercased token into a bucket and L2-normalizes.
func (h *HashingEmbeddings) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		vec[int(f.Sum32()%uint32(h.dimensions))]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// EmbedBatch embeds each text in turn.
func (h *HashingEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the vector size.
func (h *HashingEmbeddings) Dimensions() int { return h.dimensions }

// ModelName returns "hashing".
func (h *HashingEmbeddings) ModelName() string { return "hashing" }
