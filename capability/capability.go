package capability

import (
	"context"
	"encoding/json"
	"time"
)

// Well-known capability names. The registry dispatches by these names.
const (
	SQL      = "sql"
	Analysis = "analysis"
	ML       = "ml"
	Docs     = "docs"
	Search   = "search"
)

// Capability is the interface that every capability adapter implements.
type Capability interface {
	// Name returns the registry name of the capability (see SQL, Analysis, ...).
	Name() string

	// Invoke answers a sub-question. Implementations may read and write the
	// session state through req.State and must honor ctx cancellation.
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Request is the generic invocation passed by the router to an adapter.
type Request struct {
	// Question is the sub-question this capability should answer.
	Question string

	// State is the session state visible to the capability.
	State StateView

	// Context carries extra key/value hints, e.g. dataset identifiers for ML.
	Context map[string]string
}

// Result is what an adapter returns to the router.
type Result struct {
	// Capability is the name of the capability that produced the result.
	Capability string `json:"capability"`

	// Text is the human readable output.
	Text string `json:"text"`

	// Data holds structured output (rows, passages) when the provider returned any.
	Data any `json:"data,omitempty"`

	// Artifacts are renderable outputs such as charts.
	Artifacts []Artifact `json:"artifacts,omitempty"`

	// Unavailable is set when the capability was disabled and Text explains why.
	Unavailable bool `json:"unavailable,omitempty"`
}

// Empty reports whether the result carries nothing worth showing.
func (r *Result) Empty() bool {
	return r == nil || (r.Text == "" && r.Data == nil && len(r.Artifacts) == 0)
}

// Artifact is a renderable output, typically a chart.
type Artifact struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	// URI points to the artifact when it is stored elsewhere.
	URI string `json:"uri,omitempty"`
	// Content holds inline content (e.g. a vega-lite spec or base64 image).
	Content string `json:"content,omitempty"`
}

// Descriptor describes a registered capability.
type Descriptor struct {
	Name       string
	Enabled    bool
	Capability Capability
}

// Policy bounds a single capability invocation.
type Policy struct {
	// Timeout is applied to every attempt.
	Timeout time.Duration
	// MaxAttempts caps the number of tries for retryable upstream failures.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
	// RatePerSecond limits outgoing calls; zero disables limiting.
	RatePerSecond float64
}

// DefaultPolicy returns the invocation policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:        60 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
	}
}

// AsResult converts a stored state value back into a *Result. Values decoded
// from a persistent backend arrive as generic maps and are re-decoded.
func AsResult(v any) (*Result, bool) {
	switch r := v.(type) {
	case *Result:
		return r, r != nil
	case Result:
		return &r, true
	case map[string]any:
		data, err := json.Marshal(r)
		if err != nil {
			return nil, false
		}
		var out Result
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, false
		}
		return &out, true
	default:
		return nil, false
	}
}
