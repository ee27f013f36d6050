package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
)

const openaiDefaultModel = openai.GPT4oMini

func init() {
	RegisterFactory("openai", func(config map[string]any) (Provider, error) {
		apiKey, _ := config["api_key"].(string)
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}

		clientCfg := openai.DefaultConfig(apiKey)
		if url, ok := config["base_url"].(string); ok && url != "" {
			clientCfg.BaseURL = url
		}
		model, _ := config["model"].(string)

		return NewOpenAIProvider(openai.NewClientWithConfig(clientCfg), model), nil
	})
}

// ChatClient is the subset of the go-openai client used by OpenAIProvider.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider implements Provider for the OpenAI chat completions API
// and compatible endpoints.
type OpenAIProvider struct {
	client ChatClient
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(client ChatClient, model string) *OpenAIProvider {
	if model == "" {
		model = openaiDefaultModel
	}
	return &OpenAIProvider{client: client, model: model}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// CreateCompletion creates a completion. Builtin tools are not supported by
// the chat completions API and are ignored.
func (p *OpenAIProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	oreq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		oreq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, p.wrapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError("openai", ErrorCodeUnknown, "no choices in response", nil)
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) wrapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return NewProviderError("openai", ErrorCodeTimeout, err.Error(), err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr := NewProviderError("openai", codeForStatus(apiErr.HTTPStatusCode), apiErr.Message, err)
		perr.StatusCode = apiErr.HTTPStatusCode
		return perr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		perr := NewProviderError("openai", codeForStatus(reqErr.HTTPStatusCode), err.Error(), err)
		perr.StatusCode = reqErr.HTTPStatusCode
		return perr
	}

	// Transport errors (connection reset, DNS) are worth retrying.
	return NewProviderError("openai", ErrorCodeServerError, err.Error(), err)
}
