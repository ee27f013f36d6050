package vectorstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"length mismatch", []float32{1}, []float32{1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineDistance(tt.a, tt.b), 1e-9)
		})
	}
}

func TestValidateSearchQuery(t *testing.T) {
	q := SearchQuery{Embedding: []float32{1}}
	assert.NoError(t, ValidateSearchQuery(&q))
	assert.Equal(t, DefaultTopK, q.TopK)

	assert.Error(t, ValidateSearchQuery(&SearchQuery{}))
	assert.Error(t, ValidateSearchQuery(&SearchQuery{Embedding: []float32{float32(math.NaN())}}))
	assert.Error(t, ValidateSearchQuery(&SearchQuery{Embedding: []float32{1}, TopK: 5000}))
	assert.Error(t, ValidateSearchQuery(&SearchQuery{Embedding: []float32{1}, MaxDistance: 3}))
}

func TestValidateDocument(t *testing.T) {
	assert.NoError(t, ValidateDocument(&Document{ID: "handbook:guide.md:0", Content: "x", Embedding: []float32{1}}))
	assert.Error(t, ValidateDocument(&Document{ID: "", Content: "x", Embedding: []float32{1}}))
	assert.Error(t, ValidateDocument(&Document{ID: "a", Embedding: []float32{1}}))
	assert.Error(t, ValidateDocument(&Document{ID: "a", Content: "x"}))
}
