package provider

import (
	"context"
	"sync"
)

// MockProvider is a scripted Provider for tests and offline runs.
type MockProvider struct {
	mu        sync.Mutex
	responses []*CompletionResponse
	errors    []error
	calls     []CompletionRequest
	callIndex int

	// Fallback answers when no scripted response is left. When nil the
	// last user message is echoed back.
	Fallback func(req CompletionRequest) (*CompletionResponse, error)
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name returns the provider name
func (m *MockProvider) Name() string { return "mock" }

// AddResponse queues a response (or error) for the next call.
func (m *MockProvider) AddResponse(content string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &CompletionResponse{Content: content, FinishReason: "stop"})
	m.errors = append(m.errors, err)
}

// CreateCompletion returns the next queued response.
func (m *MockProvider) CreateCompletion(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	if m.callIndex < len(m.responses) {
		resp, err := m.responses[m.callIndex], m.errors[m.callIndex]
		m.callIndex++
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	fallback := m.Fallback
	m.mu.Unlock()

	if fallback != nil {
		return fallback(req)
	}
	var last string
	for _, msg := range req.Messages {
		if msg.Role == RoleUser {
			last = msg.Content
		}
	}
	return &CompletionResponse{Content: last, FinishReason: "stop"}, nil
}

// Calls returns the recorded requests.
func (m *MockProvider) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func init() {
	RegisterFactory("mock", func(map[string]any) (Provider, error) {
		return NewMockProvider(), nil
	})
}
