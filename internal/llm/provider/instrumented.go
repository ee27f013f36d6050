package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aixgo-dev/datapilot/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InstrumentedProvider wraps a Provider with a span and a debug log line per
// completion, including token usage.
type InstrumentedProvider struct {
	provider Provider
	logger   *zap.Logger
}

// NewInstrumentedProvider wraps a provider with tracing and logging.
func NewInstrumentedProvider(provider Provider, logger *zap.Logger) *InstrumentedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedProvider{provider: provider, logger: logger}
}

// Name returns the wrapped provider name.
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// CreateCompletion creates a completion with automatic instrumentation
func (p *InstrumentedProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	tools := make([]string, len(request.Tools))
	for i, t := range request.Tools {
		tools[i] = string(t)
	}

	ctx, span := observability.StartSpan(ctx, fmt.Sprintf("llm.%s.completion", p.provider.Name()),
		trace.WithAttributes(
			attribute.String("llm.provider", p.provider.Name()),
			attribute.String("llm.model", request.Model),
			attribute.Int("llm.messages_count", len(request.Messages)),
			attribute.StringSlice("llm.tools", tools),
			attribute.Bool("llm.json", request.JSON),
		),
	)

	start := time.Now()
	response, err := p.provider.CreateCompletion(ctx, request)
	duration := time.Since(start)

	span.SetAttributes(
		attribute.Int64("llm.duration_ms", duration.Milliseconds()),
		attribute.Bool("llm.success", err == nil),
	)
	if err != nil {
		p.logger.Debug("llm completion failed",
			zap.String("provider", p.provider.Name()),
			zap.Duration("duration", duration),
			zap.Error(err))
		observability.EndSpan(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", response.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", response.Usage.CompletionTokens),
		attribute.Int("llm.usage.total_tokens", response.Usage.TotalTokens),
		attribute.String("llm.finish_reason", response.FinishReason),
	)
	p.logger.Debug("llm completion",
		zap.String("provider", p.provider.Name()),
		zap.Duration("duration", duration),
		zap.Int("total_tokens", response.Usage.TotalTokens))
	observability.EndSpan(span, nil)
	return response, nil
}
