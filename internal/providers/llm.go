package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/internal/llm/provider"
)

// LLMCapability answers a capability request with one completion using a
// fixed instruction, optionally with a builtin tool such as web search or
// code execution.
type LLMCapability struct {
	llm         provider.Provider
	instruction string
	tools       []provider.BuiltinTool
	model       string
	temperature float64
}

// LLMOption configures an LLMCapability.
type LLMOption func(*LLMCapability)

// WithTools enables builtin tools.
func WithTools(tools ...provider.BuiltinTool) LLMOption {
	return func(c *LLMCapability) { c.tools = append(c.tools, tools...) }
}

// WithModel overrides the provider's default model.
func WithModel(model string) LLMOption {
	return func(c *LLMCapability) { c.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(c *LLMCapability) { c.temperature = t }
}

// NewLLMCapability creates an LLM-backed capability provider.
func NewLLMCapability(llm provider.Provider, instruction string, opts ...LLMOption) *LLMCapability {
	c := &LLMCapability{llm: llm, instruction: instruction}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke sends the instruction plus the request context as the system
// message and the question as the user message.
func (c *LLMCapability) Invoke(ctx context.Context, req capability.ProviderRequest) (*capability.ProviderResponse, error) {
	resp, err := c.llm.CreateCompletion(ctx, provider.CompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Tools:       c.tools,
		Messages: []provider.Message{
			provider.System(c.instruction + renderContext(req.Context)),
			provider.User(req.Question),
		},
	})
	if err != nil {
		return nil, err
	}

	out := &capability.ProviderResponse{Text: resp.Content}
	for i, a := range resp.Attachments {
		out.Artifacts = append(out.Artifacts, capability.Artifact{
			Name:     fmt.Sprintf("output-%d%s", i+1, extensionFor(a.MIMEType)),
			MIMEType: a.MIMEType,
			Content:  base64.StdEncoding.EncodeToString(a.Data),
		})
	}
	return out, nil
}

func renderContext(kv map[string]string) string {
	if len(kv) == 0 {
		return ""
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("\n\n## Context\n")
	for _, k := range keys {
		v := kv[k]
		if strings.Contains(v, "\n") {
			fmt.Fprintf(&b, "\n### %s\n%s\n", k, v)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}
	return b.String()
}

func extensionFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/svg+xml":
		return ".svg"
	case "text/csv":
		return ".csv"
	default:
		return ""
	}
}
