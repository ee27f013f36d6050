package embeddings

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeOpenAIClient struct {
	lastReq openai.EmbeddingRequest
	err     error
}

func (f *fakeOpenAIClient) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	if f.err != nil {
		return openai.EmbeddingResponse{}, f.err
	}
	req := conv.Convert()
	f.lastReq = req
	inputs := req.Input.([]string)

	// Return out of order to exercise index sorting.
	var resp openai.EmbeddingResponse
	for i := len(inputs) - 1; i >= 0; i-- {
		resp.Data = append(resp.Data, openai.Embedding{Index: i, Embedding: []float32{float32(i), 1}})
	}
	return resp, nil
}

type fakeEmbedder struct {
	model  string
	config *genai.EmbedContentConfig
}

func (f *fakeEmbedder) EmbedContent(_ context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.model = model
	f.config = config
	resp := &genai.EmbedContentResponse{}
	for i := range contents {
		resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(i)}})
	}
	return resp, nil
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "empty provider", config: Config{}, wantErr: "provider must be specified"},
		{name: "openai missing section", config: Config{Provider: "openai"}, wantErr: "openai configuration is required"},
		{name: "openai missing key", config: Config{Provider: "openai", OpenAI: &OpenAIConfig{}}, wantErr: "api_key is required"},
		{name: "vertex without project or key", config: Config{Provider: "vertexai", VertexAI: &VertexAIConfig{}}, wantErr: "project_id or api_key"},
		{name: "unknown", config: Config{Provider: "huggingface"}, wantErr: "unsupported provider"},
		{name: "hashing", config: Config{Provider: "hashing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestListProviders(t *testing.T) {
	assert.Equal(t, []string{"hashing", "openai", "vertexai"}, ListProviders())

	svc, err := New(context.Background(), Config{Provider: "hashing", Dimensions: 32})
	require.NoError(t, err)
	assert.Equal(t, 32, svc.Dimensions())
}

func TestOpenAIEmbeddings(t *testing.T) {
	client := &fakeOpenAIClient{}
	svc, err := NewOpenAIWithClient(client, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1536, svc.Dimensions())

	out, err := svc.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []float32{0, 1}, out[0])
	assert.Equal(t, []float32{2, 1}, out[2])
	assert.Zero(t, client.lastReq.Dimensions)

	_, err = NewOpenAIWithClient(client, "text-embedding-ada-002", 256)
	assert.Error(t, err)

	large, err := NewOpenAIWithClient(client, "text-embedding-3-large", 1024)
	require.NoError(t, err)
	_, err = large.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 1024, client.lastReq.Dimensions)

	client.err = errors.New("rate limited")
	_, err = svc.Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "rate limited")
}

func TestVertexAIEmbeddings(t *testing.T) {
	fake := &fakeEmbedder{}
	svc := NewVertexAIWithEmbedder(fake, "")

	out, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0}, {1}}, out)
	assert.Equal(t, vertexDefaultModel, fake.model)
	assert.Equal(t, "RETRIEVAL_DOCUMENT", fake.config.TaskType)
}

func TestHashingEmbeddings(t *testing.T) {
	h := NewHashing(64)
	ctx := context.Background()

	a, err := h.Embed(ctx, "Revenue by region")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "revenue, by REGION!")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	empty, err := h.Embed(ctx, "")
	require.NoError(t, err)
	assert.Len(t, empty, 64)
}
