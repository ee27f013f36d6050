package adapters

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/aixgo-dev/datapilot/capability"
)

// Config selects the providers backing each capability. A nil provider
// leaves the capability disabled.
type Config struct {
	SQL      capability.Provider
	Analysis capability.Provider
	ML       capability.Provider
	Search   capability.Provider
	Docs     *DocsConfig

	// Policies overrides the invocation policy per capability name.
	Policies map[string]capability.Policy

	Logger *zap.Logger
}

type entry struct {
	desc    capability.Descriptor
	invoker *invoker
}

// Registry maps capability names to adapters. It is built once at startup
// and is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *zap.Logger
}

// NewRegistry builds the registry from typed configuration. Search is always
// registered and reports itself as not enabled without a provider; other
// missing providers are registered as Disabled.
func NewRegistry(cfg Config) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{entries: make(map[string]*entry), logger: logger}
	policy := func(name string) capability.Policy {
		if p, ok := cfg.Policies[name]; ok {
			return p
		}
		return capability.DefaultPolicy()
	}

	if cfg.SQL != nil {
		r.Register(capability.Descriptor{Name: capability.SQL, Enabled: true, Capability: NewSQL(cfg.SQL, logger)}, policy(capability.SQL))
	} else {
		r.Register(disabled(capability.SQL, "no warehouse configured"), policy(capability.SQL))
	}

	if cfg.Analysis != nil {
		r.Register(capability.Descriptor{Name: capability.Analysis, Enabled: true, Capability: NewAnalysis(cfg.Analysis)}, policy(capability.Analysis))
	} else {
		r.Register(disabled(capability.Analysis, "analysis provider not configured"), policy(capability.Analysis))
	}

	if cfg.ML != nil {
		r.Register(capability.Descriptor{Name: capability.ML, Enabled: true, Capability: NewML(cfg.ML)}, policy(capability.ML))
	} else {
		r.Register(disabled(capability.ML, "set capabilities.ml.enabled=true"), policy(capability.ML))
	}

	r.Register(capability.Descriptor{Name: capability.Search, Enabled: cfg.Search != nil, Capability: NewSearch(cfg.Search)}, policy(capability.Search))

	if cfg.Docs != nil {
		docs, err := NewDocs(*cfg.Docs)
		if err != nil {
			return nil, fmt.Errorf("docs capability: %w", err)
		}
		r.Register(capability.Descriptor{Name: capability.Docs, Enabled: true, Capability: docs}, policy(capability.Docs))
	} else {
		r.Register(disabled(capability.Docs, "no documentation corpus configured"), policy(capability.Docs))
	}

	logger.Info("capability registry built", zap.Strings("enabled", r.EnabledNames()))
	return r, nil
}

func disabled(name, reason string) capability.Descriptor {
	return capability.Descriptor{Name: name, Enabled: false, Capability: NewDisabled(name, reason)}
}

// Register adds or replaces a capability.
func (r *Registry) Register(desc capability.Descriptor, policy capability.Policy) {
	if desc.Name == "" && desc.Capability != nil {
		desc.Name = desc.Capability.Name()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[desc.Name] = &entry{desc: desc, invoker: newInvoker(desc.Capability, policy, r.logger)}
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (capability.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return capability.Descriptor{}, false
	}
	return e.desc, true
}

// Names returns all registered capability names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// EnabledNames returns the enabled capability names in sorted order.
func (r *Registry) EnabledNames() []string {
	var out []string
	for _, name := range r.Names() {
		if r.Enabled(name) {
			out = append(out, name)
		}
	}
	return out
}

// Enabled reports whether name is registered and enabled.
func (r *Registry) Enabled(name string) bool {
	d, ok := r.Get(name)
	return ok && d.Enabled
}

// Invoke runs the named capability under its policy.
func (r *Registry) Invoke(ctx context.Context, name string, req capability.Request) (*capability.Result, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &capability.UnavailableError{Capability: name, Reason: "not registered"}
	}
	return e.invoker.invoke(ctx, req)
}
