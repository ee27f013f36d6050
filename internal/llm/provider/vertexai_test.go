package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: string(genai.RoleModel), Parts: parts},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
			TotalTokenCount:      15,
		},
	}
}

func TestVertexAIProvider_Name(t *testing.T) {
	p := NewVertexAIProviderWithGenerator(&fakeGenerator{}, "")
	assert.Equal(t, "vertexai", p.Name())
}

func TestVertexAIProvider_CreateCompletion(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse(&genai.Part{Text: "Hello from Gemini"})}
	p := NewVertexAIProviderWithGenerator(gen, "")

	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{
		Messages: []Message{System("be terse"), User("hi"), {Role: RoleAssistant, Content: "hello"}, User("again")},
		Tools:    []BuiltinTool{ToolWebSearch},
		JSON:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello from Gemini", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, vertexAIDefaultModel, gen.model)
	require.NotNil(t, gen.config.SystemInstruction)
	assert.Equal(t, "be terse", gen.config.SystemInstruction.Parts[0].Text)
	require.Len(t, gen.contents, 3)
	assert.Equal(t, string(genai.RoleModel), gen.contents[1].Role)
	require.Len(t, gen.config.Tools, 1)
	assert.NotNil(t, gen.config.Tools[0].GoogleSearch)
	assert.Equal(t, "application/json", gen.config.ResponseMIMEType)
}

func TestVertexAIProvider_CodeExecutionParts(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse(
		&genai.Part{Text: "Growth computed."},
		&genai.Part{ExecutableCode: &genai.ExecutableCode{Code: "print(1)"}},
		&genai.Part{CodeExecutionResult: &genai.CodeExecutionResult{Output: "1"}},
		&genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{0x89}}},
	)}
	p := NewVertexAIProviderWithGenerator(gen, "gemini-test")

	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{
		Messages: []Message{User("compute")},
		Tools:    []BuiltinTool{ToolCodeExecution},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "print(1)")
	assert.Contains(t, resp.Content, "```\n1\n```")
	require.Len(t, resp.Attachments, 1)
	assert.Equal(t, "image/png", resp.Attachments[0].MIMEType)
	assert.NotNil(t, gen.config.Tools[0].CodeExecution)
	assert.Equal(t, "gemini-test", gen.model)
}

func TestVertexAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"rate limit", errors.New("Error 429, RESOURCE_EXHAUSTED"), ErrorCodeRateLimit, true},
		{"server", errors.New("Error 503 unavailable"), ErrorCodeServerError, true},
		{"auth", errors.New("Error 403 permission denied"), ErrorCodeAuthentication, false},
		{"bad request", errors.New("Error 400 invalid argument"), ErrorCodeInvalidRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewVertexAIProviderWithGenerator(&fakeGenerator{err: tt.err}, "")
			_, err := p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{User("x")}})
			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.code, perr.Code)
			assert.Equal(t, tt.retryable, perr.Retryable())
		})
	}
}

func TestVertexAIProvider_NoCandidates(t *testing.T) {
	p := NewVertexAIProviderWithGenerator(&fakeGenerator{resp: &genai.GenerateContentResponse{}}, "")
	_, err := p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{User("x")}})
	assert.Error(t, err)
}
