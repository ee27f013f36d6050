package router

import (
	"context"
)

// TurnContext is the per-turn context block handed to classifiers. It is
// rebuilt from session state on every turn; shared instructions are never
// modified.
type TurnContext struct {
	SessionID string
	// Warehouse is the active warehouse kind, empty before initialization.
	Warehouse string
	// Schema is the cached textual schema, empty when unavailable.
	Schema string
	Tables []string
	// Enabled lists the enabled capability names.
	Enabled []string
	// HasQueryResult reports whether query_result holds data from a
	// previous turn.
	HasQueryResult bool
	// HasDBOutput reports whether db_agent_output is present.
	HasDBOutput bool
	// History holds the last questions of the session, oldest first.
	History []string
}

// SchemaKnown reports whether schema information is available.
func (tc TurnContext) SchemaKnown() bool {
	return tc.Schema != "" || len(tc.Tables) > 0
}

func (tc TurnContext) enabled(name string) bool {
	for _, n := range tc.Enabled {
		if n == name {
			return true
		}
	}
	return false
}

// Classifier maps a question to a plan.
type Classifier interface {
	Classify(ctx context.Context, question string, tc TurnContext) (*Plan, error)
}
