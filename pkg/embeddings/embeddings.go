// Package embeddings turns documentation text into vectors for similarity
// search over a documentation corpus.
package embeddings

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EmbeddingService is the main interface for generating text embeddings.
type EmbeddingService interface {
	// Embed generates embeddings for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimension size of the embeddings
	Dimensions() int

	// ModelName returns the name of the embedding model
	ModelName() string
}

// Config holds configuration for embedding providers.
type Config struct {
	// Provider specifies which embedding service to use
	// Supported values: "openai", "vertexai", "hashing"
	Provider string `yaml:"provider" json:"provider"`

	OpenAI   *OpenAIConfig   `yaml:"openai,omitempty" json:"openai,omitempty"`
	VertexAI *VertexAIConfig `yaml:"vertexai,omitempty" json:"vertexai,omitempty"`

	// Dimensions for the hashing provider
	Dimensions int `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
}

// OpenAIConfig contains OpenAI-specific embedding settings.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key" json:"api_key"`

	// Model specifies which OpenAI embedding model to use
	// Options: "text-embedding-3-small" (1536 dims), "text-embedding-3-large" (3072 dims)
	Model string `yaml:"model" json:"model"`

	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Dimensions allows reducing embedding dimensions (only for text-embedding-3 models)
	Dimensions int `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
}

// VertexAIConfig contains Gemini embedding settings.
type VertexAIConfig struct {
	ProjectID string `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	Location  string `yaml:"location,omitempty" json:"location,omitempty"`
	APIKey    string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Provider {
	case "":
		return fmt.Errorf("provider must be specified")
	case "openai":
		if c.OpenAI == nil {
			return fmt.Errorf("openai configuration is required when provider is 'openai'")
		}
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai api_key is required")
		}
	case "vertexai":
		if c.VertexAI == nil {
			return fmt.Errorf("vertexai configuration is required when provider is 'vertexai'")
		}
		if c.VertexAI.ProjectID == "" && c.VertexAI.APIKey == "" {
			return fmt.Errorf("vertexai needs project_id or api_key")
		}
	case "hashing":
		if c.Dimensions < 0 {
			return fmt.Errorf("dimensions must not be negative")
		}
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}
	return nil
}

// ProviderFactory is a function that creates an EmbeddingService from a Config.
type ProviderFactory func(ctx context.Context, config Config) (EmbeddingService, error)

var (
	registry = make(map[string]ProviderFactory)
	mu       sync.RWMutex
)

// Register adds a new embedding provider to the registry.
func Register(name string, factory ProviderFactory) {
	mu.Lock()
	defer mu.Unlock()

	if factory == nil {
		panic("embeddings: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("embeddings: Register called twice for provider " + name)
	}
	registry[name] = factory
}

// New creates a new EmbeddingService based on the provider specified in the config.
func New(ctx context.Context, config Config) (EmbeddingService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.RLock()
	factory, ok := registry[config.Provider]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s (available: %v)", config.Provider, ListProviders())
	}
	return factory(ctx, config)
}

// ListProviders returns the registered embedding providers, sorted.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()

	providers := make([]string, 0, len(registry))
	for name := range registry {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}
