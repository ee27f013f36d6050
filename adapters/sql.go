package adapters

import (
	"context"

	"go.uber.org/zap"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/pkg/session"
)

// SQL delegates natural language data retrieval to the warehouse provider.
// It stores the result under db_agent_output and the structured rows under
// query_result. A result without rows clears query_result so a later
// analysis step never sees rows from an earlier query.
type SQL struct {
	provider capability.Provider
	logger   *zap.Logger
}

// NewSQL creates the SQL adapter.
func NewSQL(p capability.Provider, logger *zap.Logger) *SQL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQL{provider: p, logger: logger}
}

// Name returns capability.SQL.
func (a *SQL) Name() string { return capability.SQL }

// Invoke runs the question against the warehouse.
func (a *SQL) Invoke(ctx context.Context, req capability.Request) (*capability.Result, error) {
	kind := session.WarehouseKind(req.State)
	a.logger.Info("sql capability invoked", zap.String("use_database", kind))

	extra := map[string]string{capability.ContextWarehouse: kind}
	if info, ok := session.SchemaFromState(req.State); ok {
		extra[capability.ContextSchema] = info.Text
		extra[capability.ContextDataset] = info.Dataset
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
	req.State.Set(capability.KeyDBAgentOutput, result)
	if result.Data != nil {
		req.State.Set(capability.KeyQueryResult, result.Data)
	} else {
		req.State.Delete(capability.KeyQueryResult)
	}
	return result, nil
}
