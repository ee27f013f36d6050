package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/internal/llm/provider"
)

func TestLLMClassifierPlan(t *testing.T) {
	llm := provider.NewMockProvider()
	llm.AddResponse("```json\n{\"steps\": [{\"capability\": \"SQL\", \"question\": \"total sales by region\"}, {\"capability\": \"analysis\", \"question\": \"growth\"},], \"reason\": \"compound\"}\n```", nil)

	plan, err := NewLLMClassifier(llm).Classify(context.Background(), "sales by region and growth", cachedContext())
	require.NoError(t, err)
	assert.Equal(t, IntentSQLAnalysis, plan.Intent)
	assert.Equal(t, "llm", plan.Classifier)
	assert.Equal(t, []string{capability.SQL, capability.Analysis}, plan.Capabilities())

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].JSON)
	assert.Contains(t, calls[0].Messages[1].Content, "CREATE TABLE orders")
}

func TestLLMClassifierFallback(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"provider error", "", errors.New("boom")},
		{"not json", "I think you want SQL", nil},
		{"speculative ml", `{"steps":[{"capability":"ml","question":"how are sales"}]}`, nil},
		{"unknown capability", `{"steps":[{"capability":"forecast","question":"q"}]}`, nil},
		{"disabled capability", `{"steps":[{"capability":"search","question":"q"}]}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := provider.NewMockProvider()
			llm.AddResponse(tt.reply, tt.err)

			plan, err := NewLLMClassifier(llm).Classify(context.Background(), "how are total sales by region", cachedContext())
			require.NoError(t, err)
			assert.Equal(t, "rules (fallback)", plan.Classifier)
			assert.Equal(t, IntentSQL, plan.Intent)
		})
	}
}

func TestLLMClassifierDirectAnswerWithoutSchema(t *testing.T) {
	llm := provider.NewMockProvider()
	llm.AddResponse(`{"steps":[],"answer":"You have tables a, b and c."}`, nil)

	plan, err := NewLLMClassifier(llm).Classify(context.Background(), "What tables are available?", TurnContext{})
	require.NoError(t, err)
	assert.Equal(t, IntentDirectAnswer, plan.Intent)
	assert.NotContains(t, plan.Answer, "a, b and c")
}

func TestLLMClassifierCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	llm := provider.NewMockProvider()
	llm.AddResponse("", context.Canceled)

	_, err := NewLLMClassifier(llm).Classify(ctx, "q", cachedContext())
	assert.ErrorIs(t, err, context.Canceled)
}
