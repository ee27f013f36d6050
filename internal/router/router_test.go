package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aixgo-dev/datapilot/adapters"
	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/internal/compose"
	"github.com/aixgo-dev/datapilot/pkg/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type introspector struct {
	calls atomic.Int32
	err   error
}

func (i *introspector) Introspect(context.Context) (*capability.WarehouseSchema, error) {
	i.calls.Add(1)
	if i.err != nil {
		return nil, i.err
	}
	return &capability.WarehouseSchema{
		Kind:    "sqlite",
		Dataset: "main",
		Tables: []capability.Table{
			{Name: "orders", Columns: []capability.Column{{Name: "region", Type: "TEXT"}, {Name: "amount", Type: "REAL"}}},
			{Name: "customers", Columns: []capability.Column{{Name: "id", Type: "INTEGER"}}},
		},
	}, nil
}

type fakeProvider struct {
	mu        sync.Mutex
	questions []string
	fn        func(req capability.ProviderRequest) (*capability.ProviderResponse, error)
}

func (p *fakeProvider) Invoke(_ context.Context, req capability.ProviderRequest) (*capability.ProviderResponse, error) {
	p.mu.Lock()
	p.questions = append(p.questions, req.Question)
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(req)
	}
	return &capability.ProviderResponse{Text: "answer to " + req.Question}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.questions)
}

type fixture struct {
	router   *Router
	sessions session.Manager
	intro    *introspector
	sql      *fakeProvider
	analysis *fakeProvider
	ml       *fakeProvider
	docs     *retriever
}

type retriever struct{ calls atomic.Int32 }

func (r *retriever) Retrieve(context.Context, capability.RetrievalQuery) ([]capability.Passage, error) {
	r.calls.Add(1)
	return []capability.Passage{{ID: "kpi:0", Source: "kpi.md", Text: "Churn is the share of customers lost.", Distance: 0.1}}, nil
}

func rowsProvider() *fakeProvider {
	return &fakeProvider{fn: func(capability.ProviderRequest) (*capability.ProviderResponse, error) {
		return &capability.ProviderResponse{
			Text: "Query returned 2 row(s).",
			Data: []map[string]any{{"region": "EU", "total": 120.0}, {"region": "US", "total": 80.0}},
		}, nil
	}}
}

func newFixture(t *testing.T, mutate func(*adapters.Config)) *fixture {
	t.Helper()
	f := &fixture{
		intro:    &introspector{},
		sql:      rowsProvider(),
		analysis: &fakeProvider{},
		ml:       &fakeProvider{},
		docs:     &retriever{},
	}
	cfg := adapters.Config{
		SQL:      f.sql,
		Analysis: f.analysis,
		ML:       f.ml,
		Docs:     &adapters.DocsConfig{Retriever: f.docs, Corpus: "handbook"},
		Policies: map[string]capability.Policy{capability.SQL: {MaxAttempts: 1}, capability.Analysis: {MaxAttempts: 1}},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	reg, err := adapters.NewRegistry(cfg)
	require.NoError(t, err)

	f.sessions = session.NewManager(session.NewMemoryBackend(0))
	t.Cleanup(func() { _ = f.sessions.Close() })

	f.router, err = New(Options{Registry: reg, StateManager: session.NewStateManager(f.intro, "sqlite", nil)})
	require.NoError(t, err)
	return f
}

func (f *fixture) session(t *testing.T) session.Session {
	t.Helper()
	s, err := f.sessions.Create(context.Background(), session.CreateOptions{UserID: "analyst"})
	require.NoError(t, err)
	return s
}

func accessSeq(records []InvocationRecord, name string, op session.AccessOp, key string) int {
	for _, r := range records {
		if r.Capability != name {
			continue
		}
		list := r.Reads
		if op == session.OpWrite {
			list = r.Writes
		}
		for _, a := range list {
			if a.Key == key {
				return a.Seq
			}
		}
	}
	return -1
}

func TestFirstTurnInitializesOnce(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)
	ctx := context.Background()

	resp, err := f.router.Handle(ctx, sess, "Hello!")
	require.NoError(t, err)
	assert.Equal(t, []State{StateInit, StateClassify, StateDirectAnswer, StateCompose, StateDone}, resp.States)

	resp, err = f.router.Handle(ctx, sess, "Hello again")
	require.NoError(t, err)
	assert.Equal(t, StateClassify, resp.States[0])
	assert.Equal(t, int32(1), f.intro.calls.Load())
}

func TestScenarioDirectAnswerFromCachedSchema(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)
	ctx := context.Background()
	require.NoError(t, session.NewStateManager(f.intro, "sqlite", nil).Initialize(ctx, sess.State()))

	resp, err := f.router.Handle(ctx, sess, "What tables are available?")
	require.NoError(t, err)
	assert.Equal(t, IntentDirectAnswer, resp.Intent)
	assert.Empty(t, resp.Records)
	assert.Equal(t, []State{StateClassify, StateDirectAnswer, StateCompose, StateDone}, resp.States)
	assert.Contains(t, resp.Markdown, "orders")
	assert.Contains(t, resp.Markdown, "customers")
	assert.Zero(t, f.sql.calls())
	assert.Equal(t, int32(1), f.intro.calls.Load())
}

func TestScenarioCompoundQuestion(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)

	resp, err := f.router.Handle(context.Background(), sess, "Show total sales by region, then compute month-over-month growth")
	require.NoError(t, err)
	assert.Equal(t, IntentSQLAnalysis, resp.Intent)
	assert.Contains(t, resp.States, DispatchState([]string{capability.SQL, capability.Analysis}))

	require.Len(t, resp.Records, 2)
	assert.Equal(t, capability.SQL, resp.Records[0].Capability)
	assert.Equal(t, "total sales by region", resp.Records[0].Question)
	assert.Equal(t, capability.Analysis, resp.Records[1].Capability)
	assert.Equal(t, "compute month-over-month growth", resp.Records[1].Question)

	write := accessSeq(resp.Records, capability.SQL, session.OpWrite, capability.KeyQueryResult)
	read := accessSeq(resp.Records, capability.Analysis, session.OpRead, capability.KeyQueryResult)
	require.Positive(t, write)
	require.Positive(t, read)
	assert.Less(t, write, read, "query_result must be written before it is read")

	require.Len(t, f.analysis.questions, 1)
	assert.Contains(t, f.analysis.questions[0], "compute month-over-month growth")
	assert.Contains(t, f.analysis.questions[0], "EU")

	explanation := resp.Markdown[strings.Index(resp.Markdown, compose.ExplanationHeading):]
	sqlAt := strings.Index(explanation, "total sales by region")
	analysisAt := strings.Index(explanation, "compute month-over-month growth")
	assert.Positive(t, sqlAt)
	assert.Greater(t, analysisAt, sqlAt)
}

func TestScenarioModelTraining(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)

	resp, err := f.router.Handle(context.Background(), sess, "Train a model to predict customer churn")
	require.NoError(t, err)
	assert.Equal(t, IntentML, resp.Intent)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, capability.ML, resp.Records[0].Capability)
	assert.Equal(t, 1, f.ml.calls())
	assert.Zero(t, f.sql.calls())
	assert.Zero(t, f.analysis.calls())
}

func TestDisabledSearchIsRecovered(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)

	resp, err := f.router.Handle(context.Background(), sess, "Search the web for the latest news about our competitors")
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.True(t, resp.Records[0].Unavailable)
	assert.Contains(t, resp.Markdown, adapters.SearchDisabledMessage)
	assert.False(t, sess.State().Has(capability.KeySearchAgentOutput))
}

func TestDisabledMLIsRecovered(t *testing.T) {
	f := newFixture(t, func(c *adapters.Config) { c.ML = nil })
	sess := f.session(t)

	resp, err := f.router.Handle(context.Background(), sess, "Train a model to predict customer churn")
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.True(t, resp.Records[0].Unavailable)
	assert.Contains(t, resp.Markdown, "Machine learning is not enabled")
}

func TestDocsRunAlongsideSQL(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)

	resp, err := f.router.Handle(context.Background(), sess, "What is the definition of churn, and list customers by signup month")
	require.NoError(t, err)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, capability.Docs, resp.Records[0].Capability)
	assert.Equal(t, capability.SQL, resp.Records[1].Capability)
	assert.Equal(t, int32(1), f.docs.calls.Load())
	assert.Empty(t, resp.Records[0].Writes)
	assert.Contains(t, resp.Markdown, "share of customers lost")
}

func TestUpstreamFailureKeepsCommittedState(t *testing.T) {
	f := newFixture(t, nil)
	f.analysis.fn = func(capability.ProviderRequest) (*capability.ProviderResponse, error) {
		return nil, capability.Permanent(errors.New("kernel died"))
	}
	sess := f.session(t)

	resp, err := f.router.Handle(context.Background(), sess, "Show total sales by region, then compute month-over-month growth")
	require.Error(t, err)
	assert.ErrorIs(t, err, capability.ErrUpstream)
	require.NotNil(t, resp)
	assert.Contains(t, resp.Markdown, "could not be completed")
	assert.True(t, sess.State().Has(capability.KeyQueryResult))
	assert.True(t, sess.State().Has(capability.KeyDBAgentOutput))
	assert.False(t, sess.State().Has(capability.KeyDSAgentOutput))

	turns, err := sess.Turns(context.Background())
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Contains(t, turns[0].Error, "kernel died")
}

func TestSQLFailureAbortsChain(t *testing.T) {
	f := newFixture(t, nil)
	f.sql.fn = func(capability.ProviderRequest) (*capability.ProviderResponse, error) {
		return nil, capability.Permanent(errors.New("permission denied"))
	}
	sess := f.session(t)

	resp, err := f.router.Handle(context.Background(), sess, "Show total sales by region, then compute month-over-month growth")
	assert.ErrorIs(t, err, capability.ErrUpstream)
	require.Len(t, resp.Records, 1)
	assert.Zero(t, f.analysis.calls())
}

func TestTextOnlySQLDoesNotReuseEarlierRows(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)
	ctx := context.Background()

	_, err := f.router.Handle(ctx, sess, "Show total sales by region")
	require.NoError(t, err)
	require.True(t, sess.State().Has(capability.KeyQueryResult))

	f.sql.fn = func(capability.ProviderRequest) (*capability.ProviderResponse, error) {
		return &capability.ProviderResponse{Text: "Orders by customer are summarized above."}, nil
	}
	_, err = f.router.Handle(ctx, sess, "Show total orders by customer, then compute month-over-month growth")
	var mse *capability.MissingStateError
	require.ErrorAs(t, err, &mse)
	assert.Equal(t, capability.KeyQueryResult, mse.Key)
	assert.Zero(t, f.analysis.calls())
	assert.False(t, sess.State().Has(capability.KeyQueryResult))
}

type fixedClassifier struct{ plan Plan }

func (c fixedClassifier) Classify(context.Context, string, TurnContext) (*Plan, error) {
	p := c.plan
	return &p, nil
}

func TestMissingStateFailsTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.router.classifier = fixedClassifier{plan: Plan{Intent: IntentAnalysis, Steps: []Step{{Capability: capability.Analysis, Question: "compute growth"}}}}
	sess := f.session(t)

	_, err := f.router.Handle(context.Background(), sess, "compute growth")
	var mse *capability.MissingStateError
	require.ErrorAs(t, err, &mse)
	assert.Equal(t, capability.KeyQueryResult, mse.Key)
	assert.Zero(t, f.analysis.calls())
}

func TestSchemaUnavailableProceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.intro.err = errors.New("connection refused")
	sess := f.session(t)
	ctx := context.Background()

	resp, err := f.router.Handle(ctx, sess, "What tables are available?")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SchemaError)
	assert.Contains(t, resp.Markdown, "not available")
	assert.NotContains(t, resp.Markdown, "orders")

	f.intro.err = nil
	resp, err = f.router.Handle(ctx, sess, "What tables are available?")
	require.NoError(t, err)
	assert.Equal(t, StateInit, resp.States[0])
	assert.Contains(t, resp.Markdown, "orders")
	assert.Equal(t, int32(2), f.intro.calls.Load())
}

func TestFollowUpAnalysisUsesStoredData(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)
	ctx := context.Background()

	_, err := f.router.Handle(ctx, sess, "Show total sales by region")
	require.NoError(t, err)

	resp, err := f.router.Handle(ctx, sess, "Now compute the percentage change in that data")
	require.NoError(t, err)
	assert.Equal(t, IntentAnalysis, resp.Intent)
	assert.Equal(t, 1, f.sql.calls())
	assert.Equal(t, 1, f.analysis.calls())
}

func TestSessionsAreIsolatedUnderConcurrency(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const n = 8
	sessions := make([]session.Session, n)
	for i := range sessions {
		sessions[i] = f.session(t)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.router.Handle(ctx, s, fmt.Sprintf("How many orders in region %d?", i))
		}()
	}
	wg.Wait()

	for i, s := range sessions {
		require.NoError(t, errs[i])
		turns, err := s.Turns(ctx)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, fmt.Sprintf("How many orders in region %d?", i), turns[0].Question)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
