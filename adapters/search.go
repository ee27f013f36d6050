package adapters

import (
	"context"

	"github.com/aixgo-dev/datapilot/capability"
)

// SearchDisabledMessage is returned when web search was not enabled at startup.
const SearchDisabledMessage = "Web search is not enabled. Set capabilities.search.enabled=true to use search functionality."

// Search answers questions about current information with web search.
// A Search built without a provider reports itself as not enabled.
type Search struct {
	provider capability.Provider
}

// NewSearch creates the search adapter. p may be nil.
func NewSearch(p capability.Provider) *Search {
	return &Search{provider: p}
}

// Name returns capability.Search.
func (a *Search) Name() string { return capability.Search }

// Invoke runs the web search.
func (a *Search) Invoke(ctx context.Context, req capability.Request) (*capability.Result, error) {
	if a.provider == nil {
		return &capability.Result{Capability: a.Name(), Text: SearchDisabledMessage, Unavailable: true}, nil
	}

	resp, err := a.provider.Invoke(ctx, capability.ProviderRequest{
		Question:    req.Question,
		SharedState: req.State,
		Context:     req.Context,
	})
	if err != nil {
		return nil, upstream(a.Name(), err)
	}

	result := fromProvider(a.Name(), resp)
	req.State.Set(capability.KeySearchAgentOutput, result)
	return result, nil
}
