package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/aixgo-dev/datapilot/internal/llm/provider"
)

const routerInstruction = `You classify analytics questions and plan which capabilities answer them.

Capabilities:
- sql: retrieves data from the warehouse. Give it a precise data question, never SQL code.
- analysis: computes statistics, trends, forecasts or charts over the data retrieved by sql in the same turn, or over data retrieved in an earlier turn. The question "N/A" returns the last sql result unchanged.
- docs: looks up domain knowledge, KPI definitions, formulas and business rules.
- ml: trains, evaluates, lists or runs machine learning models. Use it ONLY when the user explicitly asks for model or ML work, and alone.
- search: searches the web for current information. Use it only when the user asks for web or current information.

Rules:
- Questions answerable from the schema below (tables, columns) need no capability: return no steps and put the answer in "answer".
- Greetings, vague or out-of-scope questions need no capability: describe what you can do and the available tables.
- For compound questions, split the question: the data retrieval part goes to sql, the computation part to analysis, in that order.
- Never invent tables or columns that are not in the schema.
- Use only enabled capabilities.

Reply with a single JSON object:
{"steps": [{"capability": "sql", "question": "..."}], "answer": "", "reason": "one sentence"}`

// LLMClassifier asks a language model for a JSON plan and falls back to
// another classifier when the call fails or the plan is invalid.
type LLMClassifier struct {
	llm      provider.Provider
	model    string
	fallback Classifier
	logger   *zap.Logger
}

// LLMClassifierOption configures an LLMClassifier.
type LLMClassifierOption func(*LLMClassifier)

// WithFallback replaces the rule classifier used on failure.
func WithFallback(c Classifier) LLMClassifierOption {
	return func(l *LLMClassifier) { l.fallback = c }
}

// WithClassifierModel selects the model used for classification.
func WithClassifierModel(model string) LLMClassifierOption {
	return func(l *LLMClassifier) { l.model = model }
}

// WithClassifierLogger sets the logger.
func WithClassifierLogger(logger *zap.Logger) LLMClassifierOption {
	return func(l *LLMClassifier) { l.logger = logger }
}

// NewLLMClassifier creates an LLM backed classifier.
func NewLLMClassifier(llm provider.Provider, opts ...LLMClassifierOption) *LLMClassifier {
	c := &LLMClassifier{llm: llm, fallback: NewRuleClassifier(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, question string, tc TurnContext) (*Plan, error) {
	plan, err := c.classify(ctx, question, tc)
	if err == nil {
		return plan, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c.logger.Warn("llm classification failed, using rules", zap.Error(err))
	plan, ferr := c.fallback.Classify(ctx, question, tc)
	if ferr != nil {
		return nil, fmt.Errorf("fallback classification: %w", ferr)
	}
	plan.Classifier += " (fallback)"
	return plan, nil
}

func (c *LLMClassifier) classify(ctx context.Context, question string, tc TurnContext) (*Plan, error) {
	resp, err := c.llm.CreateCompletion(ctx, provider.CompletionRequest{
		Model: c.model,
		Messages: []provider.Message{
			provider.System(routerInstruction),
			provider.User(contextBlock(tc) + "\n\nQuestion: " + question),
		},
		JSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	var plan Plan
	if err := decodePlan(resp.Content, &plan); err != nil {
		return nil, err
	}
	for _, s := range plan.Steps {
		if !tc.enabled(s.Capability) && len(tc.Enabled) > 0 {
			return nil, fmt.Errorf("plan uses disabled capability %q", s.Capability)
		}
	}
	if err := plan.Validate(question, tc); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if len(plan.Steps) == 0 && strings.TrimSpace(plan.Answer) == "" {
		plan.Answer = greetingAnswer(tc)
	}
	if len(plan.Steps) == 0 && !tc.SchemaKnown() && schemaRe.MatchString(question) {
		// The model cannot have seen a schema; do not pass its guess on.
		plan.Answer = schemaAnswer(tc, false)
	}
	plan.Classifier = "llm"
	return &plan, nil
}

// contextBlock renders the per-turn context for the classifier prompt.
func contextBlock(tc TurnContext) string {
	var b strings.Builder
	b.WriteString("## Session context\n")
	fmt.Fprintf(&b, "Enabled capabilities: %s\n", strings.Join(tc.Enabled, ", "))
	if tc.Warehouse != "" {
		fmt.Fprintf(&b, "Warehouse: %s\n", tc.Warehouse)
	}
	fmt.Fprintf(&b, "Data from a previous query available: %t\n", tc.HasQueryResult)
	if len(tc.History) > 0 {
		b.WriteString("Previous questions:\n")
		for _, h := range tc.History {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	if tc.Schema != "" {
		b.WriteString("\n## Schema\n" + tc.Schema + "\n")
	} else {
		b.WriteString("\n## Schema\nunavailable\n")
	}
	return b.String()
}

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// decodePlan extracts the JSON object from a model reply. Code fences,
// surrounding prose and trailing commas are tolerated.
func decodePlan(text string, plan *Plan) error {
	raw := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	} else if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	} else {
		return errors.New("no JSON object in classifier reply")
	}
	raw = trailingCommaRe.ReplaceAllString(raw, "$1")

	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(plan); err != nil {
		return fmt.Errorf("decode plan: %w", err)
	}
	for i := range plan.Steps {
		plan.Steps[i].Capability = strings.ToLower(strings.TrimSpace(plan.Steps[i].Capability))
	}
	return nil
}
