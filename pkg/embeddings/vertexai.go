package embeddings

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

const vertexDefaultModel = "gemini-embedding-001"

// ContentEmbedder is the EmbedContent method of genai.Models.
type ContentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// VertexAIEmbeddings generates embeddings with Gemini embedding models.
type VertexAIEmbeddings struct {
	models ContentEmbedder
	model  string
}

func init() {
	Register("vertexai", func(ctx context.Context, config Config) (EmbeddingService, error) {
		return NewVertexAI(ctx, config)
	})
}

// NewVertexAI creates the embedding client. A project id selects the Vertex
// AI backend, otherwise the Gemini API key is used.
func NewVertexAI(ctx context.Context, config Config) (*VertexAIEmbeddings, error) {
	vc := config.VertexAI
	if vc == nil {
		return nil, fmt.Errorf("vertexai configuration is required")
	}

	cc := &genai.ClientConfig{}
	if vc.ProjectID != "" {
		location := vc.Location
		if location == "" {
			location = os.Getenv("GOOGLE_CLOUD_LOCATION")
		}
		if location == "" {
			location = "us-central1"
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = vc.ProjectID
		cc.Location = location
	} else {
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = vc.APIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return NewVertexAIWithEmbedder(client.Models, vc.Model), nil
}

// NewVertexAIWithEmbedder wraps an existing embedder.
func NewVertexAIWithEmbedder(models ContentEmbedder, model string) *VertexAIEmbeddings {
	if model == "" {
		model = vertexDefaultModel
	}
	return &VertexAIEmbeddings{models: models, model: model}
}

// Embed generates an embedding for a single text.
func (v *VertexAIEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := v.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (v *VertexAIEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := v.models.EmbedContent(ctx, v.model, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, fmt.Errorf("genai embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai embed: expected %d vectors, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions returns the dimensionality of gemini-embedding-001 vectors.
func (v *VertexAIEmbeddings) Dimensions() int { return 768 }

// ModelName returns the name of the embedding model.
func (v *VertexAIEmbeddings) ModelName() string { return v.model }
