// Package capability defines the contract shared by the router and every
// capability agent that can answer part of an analytics question.
//
// A Capability is a named unit of work (SQL retrieval, data analysis, model
// training, documentation retrieval, web search) invoked with a question and
// a view of the session state:
//
//	type Capability interface {
//	    Name() string
//	    Invoke(ctx context.Context, req Request) (*Result, error)
//	}
//
// Capabilities never talk to each other directly. Data produced by one
// capability reaches the next one through the session state, using the keys
// declared in this package (KeyQueryResult, KeyDBAgentOutput, ...).
//
// # Providers
//
// The work itself is delegated to external collaborators described by the
// Provider, SchemaIntrospector and Retriever interfaces. The router treats
// their output as opaque text plus optional structured data and artifacts.
//
// # Errors
//
// Four error kinds cross this boundary:
//
//   - MissingStateError: a capability needed a state key that was not set
//   - UnavailableError: the capability was not constructed at startup
//   - UpstreamFailure: the provider failed or timed out
//   - SchemaUnavailableError: warehouse introspection failed
//
// Each one matches a sentinel with errors.Is (ErrMissingState,
// ErrCapabilityUnavailable, ErrUpstream, ErrSchemaUnavailable).
package capability
