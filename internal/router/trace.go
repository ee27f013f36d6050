package router

import (
	"strings"

	"github.com/aixgo-dev/datapilot/capability"
)

// State is a router state machine state.
type State string

const (
	StateInit         State = "Init"
	StateClassify     State = "ClassifyIntent"
	StateDirectAnswer State = "DirectAnswer"
	StateCompose      State = "Compose"
	StateDone         State = "Done"
)

var dispatchNames = map[string]string{
	capability.SQL:      "SQL",
	capability.Analysis: "Analysis",
	capability.ML:       "ML",
	capability.Docs:     "Docs",
	capability.Search:   "Search",
}

// DispatchState returns the Dispatch(...) state for the given capabilities.
func DispatchState(caps []string) State {
	names := make([]string, len(caps))
	for i, c := range caps {
		if n, ok := dispatchNames[c]; ok {
			names[i] = n
		} else {
			names[i] = c
		}
	}
	return State("Dispatch(" + strings.Join(names, ",") + ")")
}
