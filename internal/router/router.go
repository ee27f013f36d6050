// Package router implements the intent router: it initializes session
// state, classifies each question into a plan, dispatches capabilities in
// order through the registry and composes the answer.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/internal/compose"
	"github.com/aixgo-dev/datapilot/internal/observability"
	metrics "github.com/aixgo-dev/datapilot/pkg/observability"
	"github.com/aixgo-dev/datapilot/pkg/session"
)

const defaultHistoryTurns = 5

// Registry is the capability registry as seen by the router.
type Registry interface {
	Invoke(ctx context.Context, name string, req capability.Request) (*capability.Result, error)
	EnabledNames() []string
}

// Initializer performs the one-time session initialization.
type Initializer interface {
	Initialize(ctx context.Context, st capability.StateView) error
}

// Options configures a Router.
type Options struct {
	Registry     Registry
	StateManager Initializer
	// Classifier defaults to the rule classifier.
	Classifier Classifier
	Logger     *zap.Logger
	// HistoryTurns caps the previous questions given to the classifier.
	HistoryTurns int
}

// Router routes questions to capabilities.
type Router struct {
	registry   Registry
	init       Initializer
	classifier Classifier
	logger     *zap.Logger
	history    int
}

// New creates a router.
func New(opts Options) (*Router, error) {
	if opts.Registry == nil {
		return nil, errors.New("router: registry is required")
	}
	if opts.StateManager == nil {
		return nil, errors.New("router: state manager is required")
	}
	r := &Router{
		registry:   opts.Registry,
		init:       opts.StateManager,
		classifier: opts.Classifier,
		logger:     opts.Logger,
		history:    opts.HistoryTurns,
	}
	if r.classifier == nil {
		r.classifier = NewRuleClassifier()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.history <= 0 {
		r.history = defaultHistoryTurns
	}
	return r, nil
}

// Response is the outcome of one turn.
type Response struct {
	SessionID string             `json:"session_id"`
	Markdown  string             `json:"markdown"`
	Intent    Intent             `json:"intent"`
	Plan      *Plan              `json:"plan,omitempty"`
	Records   []InvocationRecord `json:"records"`
	States    []State            `json:"states"`
	Accesses  []session.Access   `json:"accesses,omitempty"`
	// SchemaError is set when session initialization failed this turn.
	SchemaError string        `json:"schema_error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

type turn struct {
	*Response
	logger *zap.Logger
}

func (t *turn) enter(s State) {
	t.States = append(t.States, s)
	t.logger.Debug("router state", zap.String("state", string(s)))
}

// Handle runs one turn of sess. Turns of the same session are serialized.
// When a capability fails, the composed failure response is returned
// together with the error; state committed earlier in the turn is kept.
func (r *Router) Handle(ctx context.Context, sess session.Session, question string) (*Response, error) {
	end, err := sess.BeginTurn(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	ctx, span := observability.StartSpan(ctx, "router.turn")
	span.SetAttributes(observability.Attr("session.id", sess.ID()))

	start := time.Now()
	t := &turn{
		Response: &Response{SessionID: sess.ID()},
		logger:   r.logger.With(zap.String("session_id", sess.ID())),
	}

	resp, err := r.run(ctx, sess, question, t)
	resp.Duration = time.Since(start)

	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, capability.ErrMissingState):
		outcome = metrics.OutcomeMissing
	case err != nil:
		outcome = metrics.OutcomeFailed
	}
	metrics.RecordTurn(string(resp.Intent), outcome, resp.Duration)
	span.SetAttributes(
		observability.Attr("router.intent", string(resp.Intent)),
		observability.Attr("router.invocations", len(resp.Records)),
	)
	observability.EndSpan(span, err)
	return resp, err
}

func (r *Router) run(ctx context.Context, sess session.Session, question string, t *turn) (*Response, error) {
	st := sess.State()

	if !st.Has(capability.KeyAllDBSettings) {
		t.enter(StateInit)
		if err := r.init.Initialize(ctx, st); err != nil {
			if !errors.Is(err, capability.ErrSchemaUnavailable) {
				return t.Response, fmt.Errorf("initialize session: %w", err)
			}
			metrics.RecordSchemaFetchFailure()
			t.logger.Warn("session continues without schema", zap.Error(err))
			t.SchemaError = err.Error()
		}
	}

	tc := r.turnContext(ctx, sess)

	t.enter(StateClassify)
	plan, err := r.classifier.Classify(ctx, question, tc)
	if err != nil {
		return t.Response, fmt.Errorf("classify: %w", err)
	}
	t.Plan = plan
	t.Intent = plan.Intent
	t.logger.Info("question classified",
		zap.String("intent", string(plan.Intent)),
		zap.String("classifier", plan.Classifier),
		zap.Strings("capabilities", plan.Capabilities()))

	var (
		in      compose.Input
		turnErr error
	)
	if len(plan.Steps) == 0 {
		t.enter(StateDirectAnswer)
		in = compose.Input{Direct: plan.Answer, Reason: plan.Reason}
	} else {
		t.enter(DispatchState(plan.Capabilities()))
		tracker := session.NewTracker(st)
		t.Records, turnErr = r.dispatch(ctx, plan, tracker, tc)
		t.Accesses = tracker.Accesses()
		attachAccesses(t.Records, t.Accesses)
		in = compose.Input{Steps: composeSteps(t.Records), Err: turnErr}
	}

	t.enter(StateCompose)
	t.Markdown = compose.Compose(in)
	t.enter(StateDone)

	record := &session.Turn{
		Question:     question,
		Answer:       t.Markdown,
		Intent:       string(plan.Intent),
		Capabilities: plan.Capabilities(),
	}
	if turnErr != nil {
		record.Error = turnErr.Error()
		t.logger.Error("turn failed", zap.Error(turnErr))
	}
	if err := sess.AppendTurn(context.WithoutCancel(ctx), record); err != nil {
		return t.Response, errors.Join(turnErr, fmt.Errorf("record turn: %w", err))
	}
	return t.Response, turnErr
}

// dispatch runs the plan. Docs steps run concurrently with the ordered
// chain of the remaining steps; the chain stops at the first failure.
// Unavailable capabilities are recovered into their record.
func (r *Router) dispatch(ctx context.Context, plan *Plan, tracker *session.Tracker, tc TurnContext) ([]InvocationRecord, error) {
	records := make([]InvocationRecord, len(plan.Steps))
	base := map[string]string{}
	if len(tc.History) > 0 {
		base[capability.ContextHistory] = strings.Join(tc.History, "\n")
	}

	var chain []int
	g, gctx := errgroup.WithContext(ctx)
	for i, step := range plan.Steps {
		if step.Capability != capability.Docs {
			chain = append(chain, i)
			continue
		}
		g.Go(func() error {
			return r.invoke(gctx, i, step, tracker, base, &records[i])
		})
	}
	g.Go(func() error {
		for _, i := range chain {
			if err := r.invoke(gctx, i, plan.Steps[i], tracker, base, &records[i]); err != nil {
				return err
			}
		}
		return nil
	})
	err := g.Wait()

	out := records[:0]
	for _, rec := range records {
		if rec.started() {
			out = append(out, rec)
		}
	}
	return out, err
}

func (r *Router) invoke(ctx context.Context, i int, step Step, tracker *session.Tracker, base map[string]string, rec *InvocationRecord) error {
	reqCtx := make(map[string]string, len(base)+len(step.Context))
	for k, v := range base {
		reqCtx[k] = v
	}
	for k, v := range step.Context {
		reqCtx[k] = v
	}

	*rec = InvocationRecord{Step: i + 1, Capability: step.Capability, Question: step.Question}
	start := time.Now()
	res, err := r.registry.Invoke(ctx, step.Capability, capability.Request{
		Question: step.Question,
		State:    tracker.View(step.Capability),
		Context:  reqCtx,
	})
	rec.Duration = time.Since(start)
	rec.Result = res
	if res != nil && res.Unavailable {
		rec.Unavailable = true
	}

	if err == nil {
		return nil
	}
	rec.Error = err.Error()
	rec.err = err
	if errors.Is(err, capability.ErrCapabilityUnavailable) {
		rec.Unavailable = true
		r.logger.Info("capability unavailable", zap.String("capability", step.Capability), zap.Error(err))
		return nil
	}
	return err
}

func composeSteps(records []InvocationRecord) []compose.Step {
	steps := make([]compose.Step, len(records))
	for i, rec := range records {
		steps[i] = compose.Step{Capability: rec.Capability, Question: rec.Question, Result: rec.Result, Err: rec.err}
	}
	return steps
}

// turnContext builds the per-turn context block from session state.
func (r *Router) turnContext(ctx context.Context, sess session.Session) TurnContext {
	st := sess.State()
	tc := TurnContext{
		SessionID:      sess.ID(),
		Warehouse:      session.WarehouseKind(st),
		Enabled:        r.registry.EnabledNames(),
		HasQueryResult: st.Has(capability.KeyQueryResult),
		HasDBOutput:    st.Has(capability.KeyDBAgentOutput),
	}
	if info, ok := session.SchemaFromState(st); ok {
		tc.Schema = info.Text
		tc.Tables = info.Tables
	}

	turns, err := sess.Turns(ctx)
	if err != nil {
		r.logger.Warn("load history", zap.Error(err))
		return tc
	}
	if len(turns) > r.history {
		turns = turns[len(turns)-r.history:]
	}
	for _, tr := range turns {
		tc.History = append(tc.History, tr.Question)
	}
	return tc
}
