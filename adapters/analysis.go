package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aixgo-dev/datapilot/capability"
)

// maxInlineData bounds the serialized query_result embedded in a prompt.
const maxInlineData = 64 << 10

// Analysis runs computation on data a previous SQL step put in query_result.
type Analysis struct {
	provider capability.Provider
}

// NewAnalysis creates the analysis adapter.
func NewAnalysis(p capability.Provider) *Analysis {
	return &Analysis{provider: p}
}

// Name returns capability.Analysis.
func (a *Analysis) Name() string { return capability.Analysis }

// Invoke answers the question over query_result. The sentinel question
// capability.NoAnalysis returns db_agent_output as stored, without calling
// the provider or writing state.
func (a *Analysis) Invoke(ctx context.Context, req capability.Request) (*capability.Result, error) {
	if strings.TrimSpace(req.Question) == capability.NoAnalysis {
		v, err := req.State.Require(capability.KeyDBAgentOutput)
		if err != nil {
			return nil, err
		}
		prev, ok := capability.AsResult(v)
		if !ok {
			return nil, fmt.Errorf("db_agent_output holds %T, not a result", v)
		}
		return prev, nil
	}

	data, err := req.State.Require(capability.KeyQueryResult)
	if err != nil {
		return nil, err
	}

	resp, err := a.provider.Invoke(ctx, capability.ProviderRequest{
		Question:    combinedQuestion(req.Question, data),
		SharedState: req.State,
		Context:     req.Context,
	})
	if err != nil {
		return nil, upstream(a.Name(), err)
	}

	result := fromProvider(a.Name(), resp)
	req.State.Set(capability.KeyDSAgentOutput, result)
	return result, nil
}

func combinedQuestion(question string, data any) string {
	raw, err := json.MarshalIndent(data, "", "  ")
	text := string(raw)
	if err != nil {
		text = fmt.Sprint(data)
	}
	if len(text) > maxInlineData {
		cut := maxInlineData
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "\n... (truncated)"
	}
	return fmt.Sprintf("Question to answer: %s\n\nThe data to analyze is already loaded from the previous query:\n%s\n", question, text)
}
