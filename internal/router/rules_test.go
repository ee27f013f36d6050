package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/datapilot/capability"
)

func cachedContext() TurnContext {
	return TurnContext{
		Warehouse: "sqlite",
		Schema:    "CREATE TABLE orders (id INTEGER, region TEXT, amount REAL);",
		Tables:    []string{"orders", "customers"},
		Enabled:   []string{capability.Analysis, capability.Docs, capability.ML, capability.SQL},
	}
}

func TestRuleClassifier(t *testing.T) {
	tests := []struct {
		name     string
		question string
		tc       func(*TurnContext)
		intent   Intent
		steps    []Step
	}{
		{
			name:     "greeting",
			question: "Hello!",
			intent:   IntentDirectAnswer,
		},
		{
			name:     "tables from schema",
			question: "What tables are available?",
			intent:   IntentDirectAnswer,
		},
		{
			name:     "vague question",
			question: "Tell me about the data",
			intent:   IntentDirectAnswer,
		},
		{
			name:     "out of scope",
			question: "Who painted the Mona Lisa?",
			intent:   IntentDirectAnswer,
		},
		{
			name:     "sql only",
			question: "How many orders were placed in 2024?",
			intent:   IntentSQL,
			steps:    []Step{{Capability: capability.SQL, Question: "How many orders were placed in 2024?"}},
		},
		{
			name:     "table name only",
			question: "customers in Berlin",
			intent:   IntentSQL,
			steps:    []Step{{Capability: capability.SQL, Question: "customers in Berlin"}},
		},
		{
			name:     "compound split",
			question: "Show total sales by region, then compute month-over-month growth",
			intent:   IntentSQLAnalysis,
			steps: []Step{
				{Capability: capability.SQL, Question: "total sales by region"},
				{Capability: capability.Analysis, Question: "compute month-over-month growth"},
			},
		},
		{
			name:     "analysis needs data",
			question: "Plot the trend of monthly revenue",
			intent:   IntentSQLAnalysis,
			steps: []Step{
				{Capability: capability.SQL, Question: "Plot the trend of monthly revenue"},
				{Capability: capability.Analysis, Question: "Plot the trend of monthly revenue"},
			},
		},
		{
			name:     "follow-up analysis",
			question: "Now compute the correlation in that data",
			tc:       func(tc *TurnContext) { tc.HasQueryResult = true },
			intent:   IntentAnalysis,
			steps:    []Step{{Capability: capability.Analysis, Question: "Now compute the correlation in that data"}},
		},
		{
			name:     "recall last result",
			question: "Show me the last result again",
			tc:       func(tc *TurnContext) { tc.HasDBOutput = true },
			intent:   IntentAnalysis,
			steps:    []Step{{Capability: capability.Analysis, Question: capability.NoAnalysis}},
		},
		{
			name:     "explicit ml",
			question: "Train a model to predict customer churn",
			intent:   IntentML,
			steps:    []Step{{Capability: capability.ML, Question: "Train a model to predict customer churn"}},
		},
		{
			name:     "prediction without model wording is analysis",
			question: "Predict next month sales",
			intent:   IntentSQLAnalysis,
		},
		{
			name:     "web search",
			question: "Search the web for the latest BigQuery pricing",
			intent:   IntentSearch,
			steps:    []Step{{Capability: capability.Search, Question: "Search the web for the latest BigQuery pricing"}},
		},
		{
			name:     "docs with data",
			question: "What is the definition of churn, and list customers by signup month",
			intent:   IntentSQL,
			steps: []Step{
				{Capability: capability.Docs, Question: "What is the definition of churn, and list customers by signup month"},
				{Capability: capability.SQL, Question: "What is the definition of churn, and list customers by signup month"},
			},
		},
		{
			name:     "docs only",
			question: "What does net retention mean?",
			intent:   IntentDocs,
			steps:    []Step{{Capability: capability.Docs, Question: "What does net retention mean?"}},
		},
	}

	c := NewRuleClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := cachedContext()
			if tt.tc != nil {
				tt.tc(&tc)
			}
			plan, err := c.Classify(context.Background(), tt.question, tc)
			require.NoError(t, err)
			assert.Equal(t, tt.intent, plan.Intent)
			if tt.steps != nil {
				assert.Equal(t, tt.steps, plan.Steps)
			}
			if tt.intent == IntentDirectAnswer {
				assert.Empty(t, plan.Steps)
				assert.NotEmpty(t, plan.Answer)
			}
		})
	}
}

func TestDirectAnswerNamesCachedTables(t *testing.T) {
	plan, err := NewRuleClassifier().Classify(context.Background(), "What tables are available?", cachedContext())
	require.NoError(t, err)
	assert.Contains(t, plan.Answer, "orders")
	assert.Contains(t, plan.Answer, "customers")
}

func TestDirectAnswerNeverInventsSchema(t *testing.T) {
	plan, err := NewRuleClassifier().Classify(context.Background(), "What tables are available?", TurnContext{})
	require.NoError(t, err)
	assert.Equal(t, IntentDirectAnswer, plan.Intent)
	assert.Contains(t, plan.Answer, "not available")
}

func TestMentionsML(t *testing.T) {
	for q, want := range map[string]bool{
		"Train a model to predict churn":           true,
		"list my BQML models":                      true,
		"evaluate the churn model accuracy":        true,
		"use machine learning to segment buyers":   true,
		"predict next month revenue":               false,
		"total sales by region":                    false,
		"compute a linear regression":              false,
		"Show total sales by car model":            false,
		"List orders per product model":            false,
		"How many 500 ml bottles did we sell?":     false,
		"Total revenue of the training department": false,
		"fit a model on last year's orders":        true,
		"show me the ML models":                    true,
	} {
		assert.Equal(t, want, MentionsML(q), q)
	}
}

func TestMentionsTable(t *testing.T) {
	tables := []string{"orders", "order_items", "sales.refunds"}
	for q, want := range map[string]bool{
		"how big is the Orders table":       true,
		"sum quantity from order_items":     true,
		"anything in sales.refunds lately?": true,
		"what did we reorder":               false,
		"order items shipped":               false,
	} {
		assert.Equal(t, want, mentionsTable(q, tables), q)
	}
	assert.False(t, mentionsTable("orders", nil))
}

func TestRetrievalAboutModelsStaysSQL(t *testing.T) {
	c := NewRuleClassifier()
	for _, q := range []string{
		"Show total sales by car model",
		"List orders per product model",
		"How many 500 ml bottles did we sell?",
		"Total revenue of the training department",
	} {
		plan, err := c.Classify(context.Background(), q, cachedContext())
		require.NoError(t, err)
		require.NotEmpty(t, plan.Steps, q)
		assert.Equal(t, capability.SQL, plan.Steps[0].Capability, q)
		assert.NotEqual(t, IntentML, plan.Intent, q)
	}
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name     string
		question string
		steps    []Step
		tc       TurnContext
		err      error
	}{
		{"unknown", "q", []Step{{Capability: "forecast", Question: "q"}}, TurnContext{}, ErrUnknownCapability},
		{"speculative ml", "how are sales", []Step{{Capability: capability.ML, Question: "q"}}, TurnContext{}, ErrSpeculativeML},
		{"ml not alone", "train a model", []Step{{Capability: capability.SQL, Question: "q"}, {Capability: capability.ML, Question: "q"}}, TurnContext{}, ErrMLNotAlone},
		{"analysis before sql", "q", []Step{{Capability: capability.Analysis, Question: "a"}, {Capability: capability.SQL, Question: "s"}}, TurnContext{}, ErrAnalysisOrder},
		{"analysis without data", "q", []Step{{Capability: capability.Analysis, Question: "a"}}, TurnContext{}, ErrNoData},
		{"empty question", "q", []Step{{Capability: capability.SQL}}, TurnContext{}, ErrEmptyQuestion},
		{"follow-up ok", "q", []Step{{Capability: capability.Analysis, Question: "a"}}, TurnContext{HasQueryResult: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Plan{Steps: tt.steps}
			err := p.Validate(tt.question, tt.tc)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDispatchState(t *testing.T) {
	assert.Equal(t, State("Dispatch(SQL,Analysis)"), DispatchState([]string{capability.SQL, capability.Analysis}))
}
