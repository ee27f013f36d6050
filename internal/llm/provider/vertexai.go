package provider

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	vertexAIDefaultModel  = "gemini-2.5-flash"
	vertexAIClientTimeout = 30 * time.Second
)

func init() {
	RegisterFactory("vertexai", func(config map[string]any) (Provider, error) {
		projectID, _ := config["project_id"].(string)
		if projectID == "" {
			projectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
		}
		apiKey, _ := config["api_key"].(string)
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if projectID == "" && apiKey == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT or GOOGLE_API_KEY not set")
		}

		location, _ := config["location"].(string)
		if location == "" {
			location = os.Getenv("GOOGLE_CLOUD_LOCATION")
		}
		if location == "" {
			location = "us-central1"
		}
		model, _ := config["model"].(string)

		return NewVertexAIProvider(VertexAIConfig{
			ProjectID: projectID,
			Location:  location,
			APIKey:    apiKey,
			Model:     model,
		})
	})
}

// ContentGenerator is the subset of genai.Models used by VertexAIProvider.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// VertexAIConfig selects the backend. With a ProjectID the Vertex AI backend
// is used with Application Default Credentials; otherwise APIKey targets the
// Gemini API.
type VertexAIConfig struct {
	ProjectID string
	Location  string
	APIKey    string
	Model     string
}

// VertexAIProvider implements Provider for Gemini models using the Gen AI SDK.
// It supports the web search and code execution builtin tools.
type VertexAIProvider struct {
	models ContentGenerator
	model  string
}

// NewVertexAIProvider creates a provider backed by a new genai client.
func NewVertexAIProvider(cfg VertexAIConfig) (*VertexAIProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), vertexAIClientTimeout)
	defer cancel()

	clientCfg := &genai.ClientConfig{APIKey: cfg.APIKey}
	if cfg.ProjectID != "" {
		clientCfg = &genai.ClientConfig{
			Project:  cfg.ProjectID,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gen AI client: %w", err)
	}
	return NewVertexAIProviderWithGenerator(client.Models, cfg.Model), nil
}

// NewVertexAIProviderWithGenerator creates a provider over an existing generator.
func NewVertexAIProviderWithGenerator(models ContentGenerator, model string) *VertexAIProvider {
	if model == "" {
		model = vertexAIDefaultModel
	}
	return &VertexAIProvider{models: models, model: model}
}

// Name returns the provider name
func (p *VertexAIProvider) Name() string {
	return "vertexai"
}

// CreateCompletion creates a completion using the Gen AI SDK
func (p *VertexAIProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	config := &genai.GenerateContentConfig{}
	// 0 is a valid temperature for deterministic output.
	config.Temperature = genai.Ptr(float32(req.Temperature))
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	contents, systemInstruction := buildContents(req.Messages)
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}
	config.Tools = buildTools(req.Tools)

	resp, err := p.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, wrapGenAIError(ctx, err)
	}
	return parseResponse(resp)
}

// buildContents converts messages to Gen AI content format
func buildContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var systemInstruction *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		if m.Role == RoleSystem {
			systemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
			continue
		}

		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	return contents, systemInstruction
}

// buildTools converts builtin tools to Gen AI tools.
func buildTools(tools []BuiltinTool) []*genai.Tool {
	var out []*genai.Tool
	for _, t := range tools {
		switch t {
		case ToolWebSearch:
			out = append(out, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		case ToolCodeExecution:
			out = append(out, &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}})
		}
	}
	return out
}

// parseResponse parses the Gen AI response. Executed code and its output are
// rendered as fenced blocks; inline images become attachments.
func parseResponse(resp *genai.GenerateContentResponse) (*CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, NewProviderError("vertexai", ErrorCodeUnknown, "no candidates in response", nil)
	}

	candidate := resp.Candidates[0]
	var content strings.Builder
	var attachments []Attachment

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			switch {
			case part.Text != "":
				content.WriteString(part.Text)
			case part.ExecutableCode != nil:
				fmt.Fprintf(&content, "\n```python\n%s\n```\n", part.ExecutableCode.Code)
			case part.CodeExecutionResult != nil:
				fmt.Fprintf(&content, "\n```\n%s\n```\n", part.CodeExecutionResult.Output)
			case part.InlineData != nil:
				attachments = append(attachments, Attachment{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				})
			}
		}
	}

	finishReason := string(candidate.FinishReason)
	if finishReason == "STOP" || finishReason == "" {
		finishReason = "stop"
	}
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, NewProviderError("vertexai", ErrorCodeContentFiltered, "response blocked by safety filters", nil)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &CompletionResponse{
		Content:      strings.TrimSpace(content.String()),
		FinishReason: finishReason,
		Usage:        usage,
		Attachments:  attachments,
	}, nil
}

// wrapGenAIError converts Gen AI errors to ProviderError
func wrapGenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return NewProviderError("vertexai", ErrorCodeTimeout, err.Error(), err)
	}

	code := ErrorCodeUnknown
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "credential") || strings.Contains(errMsg, "403") || strings.Contains(errMsg, "401"):
		code = ErrorCodeAuthentication
	case strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "429") || strings.Contains(errMsg, "quota"):
		code = ErrorCodeRateLimit
	case strings.Contains(errMsg, "not found") || strings.Contains(errMsg, "404"):
		code = ErrorCodeModelNotFound
	case strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "400"):
		code = ErrorCodeInvalidRequest
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		code = ErrorCodeTimeout
	case strings.Contains(errMsg, "500") || strings.Contains(errMsg, "503") || strings.Contains(errMsg, "unavailable"):
		code = ErrorCodeServerError
	}
	return NewProviderError("vertexai", code, err.Error(), err)
}
