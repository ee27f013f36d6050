package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/aixgo-dev/datapilot/capability"
)

// Retrieval defaults.
const (
	DefaultTopK              = 5
	DefaultDistanceThreshold = 0.6
)

// DocsConfig configures documentation retrieval.
type DocsConfig struct {
	Retriever         capability.Retriever
	Corpus            string
	TopK              int
	DistanceThreshold float64
}

// Docs retrieves documentation passages. Results are returned to the router
// and never written to session state.
type Docs struct {
	cfg DocsConfig
}

// NewDocs creates the docs adapter. It fails when no corpus is configured.
func NewDocs(cfg DocsConfig) (*Docs, error) {
	if cfg.Corpus == "" {
		return nil, &capability.UnavailableError{Capability: capability.Docs, Reason: "no documentation corpus configured"}
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("docs capability needs a retriever")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.DistanceThreshold <= 0 {
		cfg.DistanceThreshold = DefaultDistanceThreshold
	}
	return &Docs{cfg: cfg}, nil
}

// Name returns capability.Docs.
func (a *Docs) Name() string { return capability.Docs }

// Invoke runs a similarity search over the corpus.
func (a *Docs) Invoke(ctx context.Context, req capability.Request) (*capability.Result, error) {
	passages, err := a.cfg.Retriever.Retrieve(ctx, capability.RetrievalQuery{
		Corpus:            a.cfg.Corpus,
		Text:              req.Question,
		TopK:              a.cfg.TopK,
		DistanceThreshold: a.cfg.DistanceThreshold,
	})
	if err != nil {
		return nil, upstream(a.Name(), err)
	}

	if len(passages) == 0 {
		return &capability.Result{
			Capability: a.Name(),
			Text:       fmt.Sprintf("No relevant documentation found in corpus %s.", a.cfg.Corpus),
		}, nil
	}

	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		src := p.Source
		if src == "" {
			src = p.ID
		}
		fmt.Fprintf(&b, "[%d] %s (distance %.2f)\n%s", i+1, src, p.Distance, p.Text)
	}
	return &capability.Result{Capability: a.Name(), Text: b.String(), Data: passages}, nil
}
