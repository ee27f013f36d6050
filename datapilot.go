// Package datapilot assembles the conversational analytics service: the
// router, the capability registry, session storage, the documentation
// corpus and the ambient logging, tracing and metrics stack.
package datapilot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aixgo-dev/datapilot/adapters"
	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/internal/api"
	"github.com/aixgo-dev/datapilot/internal/corpus"
	"github.com/aixgo-dev/datapilot/internal/llm/provider"
	"github.com/aixgo-dev/datapilot/internal/logging"
	"github.com/aixgo-dev/datapilot/internal/observability"
	"github.com/aixgo-dev/datapilot/internal/providers"
	"github.com/aixgo-dev/datapilot/internal/router"
	"github.com/aixgo-dev/datapilot/pkg/config"
	"github.com/aixgo-dev/datapilot/pkg/embeddings"
	metrics "github.com/aixgo-dev/datapilot/pkg/observability"
	"github.com/aixgo-dev/datapilot/pkg/security"
	"github.com/aixgo-dev/datapilot/pkg/session"
	"github.com/aixgo-dev/datapilot/pkg/vectorstore"
	"github.com/aixgo-dev/datapilot/pkg/vectorstore/firestore"
	"github.com/aixgo-dev/datapilot/pkg/vectorstore/memory"
)

// Version is set at build time.
var Version = "dev"

type buildOptions struct {
	llm       provider.Provider
	logger    *zap.Logger
	store     vectorstore.VectorStore
	sessions  session.StorageBackend
	noTracing bool
}

// Option customizes Build.
type Option func(*buildOptions)

// WithLLM replaces the configured LLM provider.
func WithLLM(p provider.Provider) Option {
	return func(o *buildOptions) { o.llm = p }
}

// WithLogger replaces the configured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithVectorStore replaces the configured vector store.
func WithVectorStore(s vectorstore.VectorStore) Option {
	return func(o *buildOptions) { o.store = s }
}

// WithSessionBackend replaces the configured session storage.
func WithSessionBackend(b session.StorageBackend) Option {
	return func(o *buildOptions) { o.sessions = b }
}

// WithoutTracing skips tracer provider installation.
func WithoutTracing() Option {
	return func(o *buildOptions) { o.noTracing = true }
}

// System is a fully wired datapilot instance.
type System struct {
	Config    *config.Config
	Logger    *zap.Logger
	LLM       provider.Provider
	Warehouse *providers.Warehouse
	Registry  *adapters.Registry
	Sessions  session.Manager
	Router    *router.Router
	Health    *metrics.HealthChecker

	// Ingester and Scheduler are nil without a documentation corpus.
	Ingester  *corpus.Ingester
	Scheduler *corpus.Scheduler

	store   vectorstore.VectorStore
	closers []func(context.Context) error
}

// Build validates cfg and wires every component. On error, everything
// opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (s *System, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	s = &System{Config: cfg}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
			s = nil
		}
	}()

	if s.Logger = bo.logger; s.Logger == nil {
		if s.Logger, err = logging.New(cfg.Logging); err != nil {
			return s, fmt.Errorf("logging: %w", err)
		}
		s.onClose(func(context.Context) error { _ = s.Logger.Sync(); return nil })
	}

	if !bo.noTracing {
		if err = observability.Init(cfg.Tracing, s.Logger); err != nil {
			return s, fmt.Errorf("tracing: %w", err)
		}
		s.onClose(observability.Shutdown)
	}
	if cfg.Metrics.Enabled {
		metrics.InitMetrics()
	}
	s.Health = metrics.NewHealthChecker(Version)

	if err = s.buildLLM(cfg, bo.llm); err != nil {
		return s, err
	}
	if err = s.buildWarehouse(ctx, cfg); err != nil {
		return s, err
	}

	acfg := adapters.Config{
		Policies: map[string]capability.Policy{
			capability.SQL:      cfg.Capabilities.SQL.Policy(),
			capability.Analysis: cfg.Capabilities.Analysis.Policy(),
			capability.Search:   cfg.Capabilities.Search.Policy(),
			capability.ML:       cfg.Capabilities.ML.Policy(),
			capability.Docs:     cfg.Capabilities.Docs.Policy(),
		},
		Logger: s.Logger,
	}
	if err = s.buildProviders(ctx, cfg, &acfg); err != nil {
		return s, err
	}
	if err = s.buildCorpus(ctx, cfg, bo.store, &acfg); err != nil {
		return s, err
	}
	if s.Registry, err = adapters.NewRegistry(acfg); err != nil {
		return s, err
	}

	if err = s.buildSessions(cfg, bo.sessions); err != nil {
		return s, err
	}

	var introspector capability.SchemaIntrospector
	if s.Warehouse != nil {
		introspector = s.Warehouse
	}
	states := session.NewStateManager(introspector, cfg.Warehouse.Driver, s.Logger)

	var classifier router.Classifier = router.NewRuleClassifier()
	if cfg.LLM.Classifier == "llm" {
		classifier = router.NewLLMClassifier(s.LLM,
			router.WithClassifierModel(cfg.LLM.Model),
			router.WithClassifierLogger(s.Logger),
		)
	}

	s.Router, err = router.New(router.Options{
		Registry:     s.Registry,
		StateManager: states,
		Classifier:   classifier,
		Logger:       s.Logger,
	})
	if err != nil {
		return s, err
	}

	s.Logger.Info("datapilot ready",
		zap.String("version", Version),
		zap.String("llm", s.LLM.Name()),
		zap.String("warehouse", cfg.Warehouse.Driver),
		zap.String("classifier", cfg.LLM.Classifier),
		zap.Strings("capabilities", s.Registry.EnabledNames()),
	)
	return s, nil
}

func (s *System) onClose(f func(context.Context) error) {
	s.closers = append(s.closers, f)
}

func (s *System) buildLLM(cfg *config.Config, override provider.Provider) error {
	p := override
	if p == nil {
		var err error
		if p, err = provider.New(cfg.LLM.Provider, cfg.LLM.ProviderSettings()); err != nil {
			return fmt.Errorf("llm provider: %w", err)
		}
	}
	s.LLM = provider.NewInstrumentedProvider(p, s.Logger)
	return nil
}

func (s *System) buildWarehouse(ctx context.Context, cfg *config.Config) error {
	wc := cfg.Warehouse
	if wc.Driver == "" {
		return nil
	}
	wh, err := providers.OpenWarehouse(ctx, providers.WarehouseOptions{
		Driver:       wc.Driver,
		DSN:          wc.DSN,
		Dataset:      wc.Dataset,
		SampleRows:   wc.SampleRows,
		MaxRows:      wc.MaxRows,
		QueryTimeout: wc.QueryTimeout,
		Model:        cfg.Capabilities.SQL.Model,
		Logger:       s.Logger,
	}, s.LLM)
	if err != nil {
		return err
	}
	s.Warehouse = wh
	s.onClose(func(context.Context) error { return wh.Close() })
	s.Health.RegisterCheck(metrics.WarehouseCheck(wh.Ping))
	return nil
}

// buildProviders selects the provider behind each capability. Disabled
// capabilities keep a nil provider and are registered as unavailable.
func (s *System) buildProviders(ctx context.Context, cfg *config.Config, acfg *adapters.Config) error {
	caps := cfg.Capabilities
	validator := security.NewEndpointValidator(security.EndpointPolicy{
		AllowedHosts: caps.AllowedHosts,
		BlockPrivate: caps.BlockPrivate,
	})

	build := func(name string, cc config.CapabilityConfig, instruction string, stateKeys []string, tools ...provider.BuiltinTool) (capability.Provider, error) {
		if cc.Provider == "remote" {
			if err := validator.ValidateURL(ctx, cc.Endpoint); err != nil {
				return nil, fmt.Errorf("capabilities.%s.endpoint: %w", name, err)
			}
			endpoint := cc.Endpoint
			s.Health.RegisterCheck(metrics.ExternalServiceCheck(name+"_agent", func(ctx context.Context) error {
				return validator.ValidateURL(ctx, endpoint)
			}))
			return providers.NewRemote(cc.Endpoint, validator.Client(cc.Policy().Timeout), stateKeys...), nil
		}
		return providers.NewLLMCapability(s.LLM, instruction,
			providers.WithModel(cc.Model),
			providers.WithTemperature(cfg.LLM.Temperature),
			providers.WithTools(tools...),
		), nil
	}

	var err error
	if caps.SQL.Enabled {
		switch {
		case caps.SQL.Provider == "remote":
			acfg.SQL, err = build(capability.SQL, caps.SQL, "", nil)
		case s.Warehouse != nil:
			acfg.SQL = s.Warehouse
		}
		if err != nil {
			return err
		}
	}
	if caps.Analysis.Enabled {
		if acfg.Analysis, err = build(capability.Analysis, caps.Analysis, providers.AnalysisInstruction,
			[]string{capability.KeyQueryResult}, provider.ToolCodeExecution); err != nil {
			return err
		}
	}
	if caps.Search.Enabled {
		if acfg.Search, err = build(capability.Search, caps.Search, providers.SearchInstruction,
			nil, provider.ToolWebSearch); err != nil {
			return err
		}
	}
	if caps.ML.Enabled {
		if acfg.ML, err = build(capability.ML, caps.ML, providers.MLInstruction,
			[]string{capability.KeyDatabaseSettings}); err != nil {
			return err
		}
	}
	return nil
}

func (s *System) buildCorpus(ctx context.Context, cfg *config.Config, store vectorstore.VectorStore, acfg *adapters.Config) error {
	docs := cfg.Capabilities.Docs
	if !docs.Enabled || docs.Corpus == "" {
		return nil
	}
	cc := cfg.Corpus

	embedder, err := embeddings.New(ctx, cc.Embeddings)
	if err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}

	if store == nil {
		switch cc.VectorStore.Provider {
		case "firestore":
			fs, err := firestore.New(ctx,
				firestore.WithProjectID(cc.VectorStore.ProjectID),
				firestore.WithCredentialsFile(cc.VectorStore.CredentialsFile),
				firestore.WithCollectionPrefix(cc.VectorStore.CollectionPrefix),
			)
			if err != nil {
				return err
			}
			store = fs
		default:
			store = memory.New(0)
		}
		s.onClose(func(context.Context) error { return store.Close() })
	}
	s.store = store

	s.Ingester = corpus.NewIngester(embedder, store, corpus.IngestOptions{
		ChunkSize:    cc.ChunkSize,
		ChunkOverlap: cc.ChunkOverlap,
		Logger:       s.Logger,
	})
	acfg.Docs = &adapters.DocsConfig{
		Retriever:         corpus.NewRetriever(embedder, store),
		Corpus:            docs.Corpus,
		TopK:              docs.TopK,
		DistanceThreshold: docs.DistanceThreshold,
	}

	if len(cc.Sources) == 0 {
		return nil
	}
	// A fresh in-memory store starts empty.
	if _, ok := store.(*memory.MemoryVectorStore); ok {
		if _, err := s.Ingester.IngestFiles(ctx, docs.Corpus, cc.Sources); err != nil {
			return fmt.Errorf("initial ingestion: %w", err)
		}
	}
	if cc.Schedule != "" {
		s.Scheduler = corpus.NewScheduler(s.Ingester, s.Logger)
		if err := s.Scheduler.Add(cc.Schedule, docs.Corpus, cc.Sources); err != nil {
			return err
		}
		s.Scheduler.Start()
		s.onClose(s.Scheduler.Stop)
	}
	return nil
}

func (s *System) buildSessions(cfg *config.Config, backend session.StorageBackend) error {
	if backend == nil {
		switch cfg.Session.Store {
		case "redis":
			rc := cfg.Session.Redis
			if rc.SessionTTL == 0 {
				rc.SessionTTL = cfg.Session.TTL
			}
			rb, err := session.NewRedisBackend(rc)
			if err != nil {
				return fmt.Errorf("session store: %w", err)
			}
			s.Health.RegisterCheck(metrics.SessionStoreCheck(rb.Ping))
			backend = rb
		default:
			backend = session.NewMemoryBackend(cfg.Session.TTL)
		}
	}
	s.Sessions = session.NewManager(backend)
	s.onClose(func(context.Context) error { return s.Sessions.Close() })
	return nil
}

// Ask runs one turn. An empty sessionID starts a new session; the session
// ID is returned in the response.
func (s *System) Ask(ctx context.Context, sessionID, question string) (*router.Response, error) {
	var (
		sess session.Session
		err  error
	)
	if sessionID == "" {
		sess, err = s.Sessions.Create(ctx, session.CreateOptions{})
	} else {
		sess, err = s.Sessions.Get(ctx, sessionID)
		if errors.Is(err, session.ErrSessionNotFound) {
			sess, err = s.Sessions.Create(ctx, session.CreateOptions{ID: sessionID})
		}
	}
	if err != nil {
		return nil, err
	}
	return s.Router.Handle(ctx, sess, question)
}

// Ingest loads documentation paths into the configured corpus.
func (s *System) Ingest(ctx context.Context, paths []string) (corpus.IngestStats, error) {
	if s.Ingester == nil {
		return corpus.IngestStats{}, &capability.UnavailableError{
			Capability: capability.Docs,
			Reason:     "no documentation corpus configured",
		}
	}
	return s.Ingester.IngestFiles(ctx, s.Config.Capabilities.Docs.Corpus, paths)
}

// API creates the HTTP server for s.
func (s *System) API() (*api.Server, error) {
	ac := s.Config.API
	var limiter *security.RateLimiter
	if ac.RatePerSecond > 0 {
		limiter = security.NewRateLimiter(ac.RatePerSecond, ac.Burst)
	}
	return api.New(api.Options{
		Router:          s.Router,
		Sessions:        s.Sessions,
		Health:          s.Health,
		Guard:           security.NewQuestionGuard(ac.MaxQuestionBytes),
		Limiter:         limiter,
		Logger:          s.Logger,
		TurnTimeout:     ac.WriteTimeout,
		ReadTimeout:     ac.ReadTimeout,
		WriteTimeout:    ac.WriteTimeout + 30*time.Second,
		ShutdownTimeout: ac.ShutdownTimeout,
		Debug:           ac.Debug,
	})
}

// Close releases everything Build opened, in reverse order.
func (s *System) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
