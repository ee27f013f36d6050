package router

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aixgo-dev/datapilot/capability"
)

// Intent is the classified purpose of a question.
type Intent string

const (
	IntentDirectAnswer Intent = "direct_answer"
	IntentSQL          Intent = "sql"
	IntentSQLAnalysis  Intent = "sql_analysis"
	IntentAnalysis     Intent = "analysis"
	IntentDocs         Intent = "docs"
	IntentML           Intent = "ml"
	IntentSearch       Intent = "search"
)

// Step is one planned capability invocation.
type Step struct {
	Capability string            `json:"capability"`
	Question   string            `json:"question"`
	Context    map[string]string `json:"context,omitempty"`
}

// Plan is the classification outcome: the capabilities to run, in order.
// Docs steps run concurrently with the rest; all other steps run in order.
type Plan struct {
	Intent Intent `json:"intent"`
	Steps  []Step `json:"steps,omitempty"`
	// Answer is the capability-free response of a direct answer plan.
	Answer string `json:"answer,omitempty"`
	// Reason is a short rationale recorded in the explanation.
	Reason string `json:"reason,omitempty"`
	// Classifier names the classifier that produced the plan.
	Classifier string `json:"classifier,omitempty"`
}

// Capabilities returns the planned capability names in order.
func (p *Plan) Capabilities() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Capability
	}
	return out
}

// Plan validation errors.
var (
	ErrUnknownCapability = errors.New("unknown capability")
	ErrSpeculativeML     = errors.New("ML requested without explicit model wording")
	ErrMLNotAlone        = errors.New("ML must be dispatched alone")
	ErrAnalysisOrder     = errors.New("analysis must follow SQL")
	ErrNoData            = errors.New("analysis planned without data in the session")
	ErrEmptyQuestion     = errors.New("step has no question")
)

var known = []string{capability.SQL, capability.Analysis, capability.ML, capability.Docs, capability.Search}

// Validate checks a plan against the routing rules and fills in its intent.
func (p *Plan) Validate(question string, tc TurnContext) error {
	var (
		sqlAt      = -1
		analysisAt = -1
		hasML      bool
	)
	for i, s := range p.Steps {
		if !slices.Contains(known, s.Capability) {
			return fmt.Errorf("%w: %q", ErrUnknownCapability, s.Capability)
		}
		if strings.TrimSpace(s.Question) == "" {
			return fmt.Errorf("%w: %s", ErrEmptyQuestion, s.Capability)
		}
		switch s.Capability {
		case capability.SQL:
			if sqlAt < 0 {
				sqlAt = i
			}
		case capability.Analysis:
			if analysisAt < 0 {
				analysisAt = i
			}
		case capability.ML:
			hasML = true
		}
	}

	if hasML {
		if !MentionsML(question) {
			return ErrSpeculativeML
		}
		if len(p.Steps) > 1 {
			return ErrMLNotAlone
		}
	}
	if analysisAt >= 0 {
		if sqlAt > analysisAt {
			return ErrAnalysisOrder
		}
		if sqlAt < 0 {
			if p.Steps[analysisAt].Question == capability.NoAnalysis && !tc.HasDBOutput {
				return ErrNoData
			}
			if p.Steps[analysisAt].Question != capability.NoAnalysis && !tc.HasQueryResult {
				return ErrNoData
			}
		}
	}

	p.Intent = intentOf(p.Steps)
	return nil
}

func intentOf(steps []Step) Intent {
	var has = map[string]bool{}
	for _, s := range steps {
		has[s.Capability] = true
	}
	switch {
	case len(steps) == 0:
		return IntentDirectAnswer
	case has[capability.ML]:
		return IntentML
	case has[capability.SQL] && has[capability.Analysis]:
		return IntentSQLAnalysis
	case has[capability.SQL]:
		return IntentSQL
	case has[capability.Analysis]:
		return IntentAnalysis
	case has[capability.Search]:
		return IntentSearch
	default:
		return IntentDocs
	}
}
