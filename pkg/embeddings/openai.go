package embeddings

import (
	"context"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"
)

// EmbeddingClient is the subset of the go-openai client used for embeddings.
type EmbeddingClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbeddings implements EmbeddingService using OpenAI's API.
type OpenAIEmbeddings struct {
	client     EmbeddingClient
	model      string
	dimensions int
	custom     bool
}

func init() {
	Register("openai", func(_ context.Context, config Config) (EmbeddingService, error) {
		return NewOpenAI(config)
	})
}

// NewOpenAI creates a new OpenAIEmbeddings instance.
func NewOpenAI(config Config) (*OpenAIEmbeddings, error) {
	if config.OpenAI == nil {
		return nil, fmt.Errorf("openai configuration is required")
	}
	if config.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientCfg := openai.DefaultConfig(config.OpenAI.APIKey)
	if config.OpenAI.BaseURL != "" {
		clientCfg.BaseURL = config.OpenAI.BaseURL
	}
	return NewOpenAIWithClient(openai.NewClientWithConfig(clientCfg), config.OpenAI.Model, config.OpenAI.Dimensions)
}

// NewOpenAIWithClient wraps an existing client.
func NewOpenAIWithClient(client EmbeddingClient, model string, dimensions int) (*OpenAIEmbeddings, error) {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	dims := openAIModelDimensions(model)
	custom := false
	if dimensions > 0 {
		if !isTextEmbedding3Model(model) {
			return nil, fmt.Errorf("custom dimensions only supported for text-embedding-3 models, got model: %s", model)
		}
		dims, custom = dimensions, true
	}

	return &OpenAIEmbeddings{client: client, model: model, dimensions: dims, custom: custom}, nil
}

// Embed generates an embedding for a single text.
func (o *OpenAIEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (o *OpenAIEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	}
	if o.custom {
		req.Dimensions = o.dimensions
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the dimension size of the embeddings.
func (o *OpenAIEmbeddings) Dimensions() int { return o.dimensions }

// ModelName returns the name of the embedding model.
func (o *OpenAIEmbeddings) ModelName() string { return o.model }

func openAIModelDimensions(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

func isTextEmbedding3Model(model string) bool {
	return model == "text-embedding-3-small" || model == "text-embedding-3-large"
}
