package adapters

import (
	"context"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/pkg/session"
)

// ML handles explicit model training, inference and management requests.
// Target warehouse and dataset identifiers come from session state so the
// user is never asked for them.
type ML struct {
	provider capability.Provider
}

// NewML creates the ML adapter.
func NewML(p capability.Provider) *ML {
	return &ML{provider: p}
}

// Name returns capability.ML.
func (a *ML) Name() string { return capability.ML }

// Invoke delegates the request with identifiers taken from state.
func (a *ML) Invoke(ctx context.Context, req capability.Request) (*capability.Result, error) {
	extra := map[string]string{capability.ContextWarehouse: session.WarehouseKind(req.State)}
	if info, ok := session.SchemaFromState(req.State); ok {
		extra[capability.ContextDataset] = info.Dataset
		extra[capability.ContextSchema] = info.Text
	}

	resp, err := a.provider.Invoke(ctx, capability.ProviderRequest{
		Question:    req.Question,
		SharedState: req.State,
		Context:     mergeContext(req.Context, extra),
	})
	if err != nil {
		return nil, upstream(a.Name(), err)
	}

	result := fromProvider(a.Name(), resp)
	req.State.Set(capability.KeyMLAgentOutput, result)
	return result, nil
}
