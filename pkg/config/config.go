// Package config loads the datapilot YAML configuration and applies
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/internal/logging"
	"github.com/aixgo-dev/datapilot/internal/observability"
	"github.com/aixgo-dev/datapilot/pkg/embeddings"
	"github.com/aixgo-dev/datapilot/pkg/session"
)

// MaxFileSize bounds the configuration file size.
const MaxFileSize = 1 << 20

// Config represents the application configuration
type Config struct {
	Logging      logging.Config       `yaml:"logging"`
	Tracing      observability.Config `yaml:"tracing"`
	Metrics      MetricsConfig        `yaml:"metrics"`
	Session      session.Config       `yaml:"session"`
	LLM          LLMConfig            `yaml:"llm"`
	Warehouse    WarehouseConfig      `yaml:"warehouse"`
	Capabilities CapabilitiesConfig   `yaml:"capabilities"`
	Corpus       CorpusConfig         `yaml:"corpus"`
	API          APIConfig            `yaml:"api"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LLMConfig selects the language model backing classification and the
// LLM-driven capabilities.
type LLMConfig struct {
	// Provider is "openai", "vertexai" or "mock".
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	ProjectID   string  `yaml:"project_id"`
	Location    string  `yaml:"location"`
	Temperature float64 `yaml:"temperature"`
	// Classifier is "rules" or "llm".
	Classifier string `yaml:"classifier"`
}

// WarehouseConfig describes the SQL warehouse.
type WarehouseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Dataset string `yaml:"dataset"`
	// SampleRows per table included in the schema description.
	SampleRows int `yaml:"sample_rows"`
	// MaxRows caps the rows returned by one query.
	MaxRows      int           `yaml:"max_rows"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// CapabilityConfig is shared by every capability section.
type CapabilityConfig struct {
	Enabled bool `yaml:"enabled"`
	// Provider is "llm" (built-in) or "remote" (HTTP endpoint).
	Provider      string        `yaml:"provider"`
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RatePerSecond float64       `yaml:"rate_per_second"`
}

// Policy returns the invocation policy, filling unset fields from the
// default policy.
func (c CapabilityConfig) Policy() capability.Policy {
	p := capability.DefaultPolicy()
	if c.Timeout > 0 {
		p.Timeout = c.Timeout
	}
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	p.RatePerSecond = c.RatePerSecond
	return p
}

// DocsConfig configures documentation retrieval. The capability exists only
// when Corpus is set.
type DocsConfig struct {
	CapabilityConfig  `yaml:",inline"`
	Corpus            string  `yaml:"corpus"`
	TopK              int     `yaml:"top_k"`
	DistanceThreshold float64 `yaml:"distance_threshold"`
}

// CapabilitiesConfig holds one section per capability.
type CapabilitiesConfig struct {
	SQL      CapabilityConfig `yaml:"sql"`
	Analysis CapabilityConfig `yaml:"analysis"`
	Search   CapabilityConfig `yaml:"search"`
	ML       CapabilityConfig `yaml:"ml"`
	Docs     DocsConfig       `yaml:"docs"`

	// AllowedHosts restricts remote capability endpoints when non-empty.
	AllowedHosts []string `yaml:"allowed_hosts"`
	// BlockPrivate rejects remote endpoints on private networks.
	BlockPrivate bool `yaml:"block_private"`
}

// VectorStoreConfig selects the vector store.
type VectorStoreConfig struct {
	// Provider is "memory" or "firestore".
	Provider         string `yaml:"provider"`
	ProjectID        string `yaml:"project_id"`
	CredentialsFile  string `yaml:"credentials_file"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// CorpusConfig configures documentation ingestion.
type CorpusConfig struct {
	Embeddings   embeddings.Config `yaml:"embeddings"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	Sources      []string          `yaml:"sources"`
	Schedule     string            `yaml:"schedule"`
	ChunkSize    int               `yaml:"chunk_size"`
	// ChunkOverlap of -1 disables overlap.
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Addr            string        `yaml:"addr"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	Burst           int           `yaml:"burst"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxQuestionBytes bounds a question; 0 uses the guard default.
	MaxQuestionBytes int `yaml:"max_question_bytes"`
	// Debug returns redacted error details to clients.
	Debug bool `yaml:"debug"`
}

// Default returns a configuration that runs locally against an in-memory
// SQLite database with the mock LLM.
func Default() *Config {
	def := capability.DefaultPolicy()
	return &Config{
		Logging: logging.DefaultConfig(),
		Tracing: observability.Config{ServiceName: observability.DefaultServiceName, Exporter: "none"},
		Metrics: MetricsConfig{Enabled: true},
		Session: session.DefaultConfig(),
		LLM: LLMConfig{
			Provider:    "mock",
			Temperature: 0.1,
			Classifier:  "rules",
		},
		Warehouse: WarehouseConfig{
			Driver:       "sqlite",
			DSN:          "file::memory:?cache=shared",
			Dataset:      "main",
			SampleRows:   3,
			MaxRows:      1000,
			QueryTimeout: 30 * time.Second,
		},
		Capabilities: CapabilitiesConfig{
			SQL:      CapabilityConfig{Enabled: true, Provider: "llm", Timeout: def.Timeout, MaxAttempts: def.MaxAttempts},
			Analysis: CapabilityConfig{Enabled: true, Provider: "llm", Timeout: def.Timeout, MaxAttempts: def.MaxAttempts},
			Search:   CapabilityConfig{Provider: "llm", Timeout: def.Timeout, MaxAttempts: def.MaxAttempts},
			ML:       CapabilityConfig{Enabled: true, Provider: "llm", Timeout: def.Timeout, MaxAttempts: def.MaxAttempts},
			Docs: DocsConfig{
				CapabilityConfig:  CapabilityConfig{Enabled: true, Timeout: def.Timeout, MaxAttempts: def.MaxAttempts},
				TopK:              5,
				DistanceThreshold: 0.6,
			},
		},
		Corpus: CorpusConfig{
			Embeddings:   embeddings.Config{Provider: "hashing"},
			VectorStore:  VectorStoreConfig{Provider: "memory", CollectionPrefix: "datapilot_"},
			ChunkSize:    512,
			ChunkOverlap: 100,
		},
		API: APIConfig{
			Addr:            ":8080",
			RatePerSecond:   5,
			Burst:           10,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of Default and
// applies environment overrides. An empty path loads only defaults and env.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > MaxFileSize {
			return nil, fmt.Errorf("config file too large: exceeds %d bytes", MaxFileSize)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown fields.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.Logging.Level, "DATAPILOT_LOG_LEVEL")
	setString(&c.Logging.Format, "DATAPILOT_LOG_FORMAT")
	setString(&c.LLM.Provider, "DATAPILOT_LLM_PROVIDER")
	setString(&c.LLM.Model, "DATAPILOT_LLM_MODEL")
	setString(&c.LLM.Classifier, "DATAPILOT_CLASSIFIER")
	setString(&c.Warehouse.Driver, "DATAPILOT_WAREHOUSE_DRIVER")
	setString(&c.Warehouse.DSN, "DATAPILOT_WAREHOUSE_DSN", "DATABASE_URL")
	setString(&c.Warehouse.Dataset, "DATAPILOT_WAREHOUSE_DATASET")
	setString(&c.Session.Store, "DATAPILOT_SESSION_STORE")
	setString(&c.Session.Redis.Addr, "DATAPILOT_REDIS_ADDR", "REDIS_ADDR")
	setString(&c.API.Addr, "DATAPILOT_API_ADDR")
	setString(&c.Capabilities.Docs.Corpus, "DOCS_CORPUS")
	setString(&c.LLM.Location, "GOOGLE_CLOUD_LOCATION")

	switch c.LLM.Provider {
	case "openai":
		setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	case "vertexai":
		setString(&c.LLM.ProjectID, "GOOGLE_CLOUD_PROJECT")
		setString(&c.LLM.APIKey, "GOOGLE_API_KEY")
	}
	if e := c.Corpus.Embeddings.OpenAI; e != nil && e.APIKey == "" {
		e.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Corpus.VectorStore.Provider == "firestore" {
		setString(&c.Corpus.VectorStore.ProjectID, "GOOGLE_CLOUD_PROJECT")
	}

	if v := os.Getenv("ENABLE_WEB_SEARCH"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ENABLE_WEB_SEARCH %q: %w", v, err)
		}
		c.Capabilities.Search.Enabled = enabled
	}

	c.Tracing.ApplyEnv()
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	switch c.LLM.Provider {
	case "mock":
	case "openai":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key (or OPENAI_API_KEY) is required for openai"))
		}
	case "vertexai":
		if c.LLM.ProjectID == "" && c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.project_id (or GOOGLE_CLOUD_PROJECT) is required for vertexai"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	if c.LLM.Classifier != "rules" && c.LLM.Classifier != "llm" {
		errs = append(errs, fmt.Errorf("llm.classifier must be rules or llm, got %q", c.LLM.Classifier))
	}

	switch c.Warehouse.Driver {
	case "sqlite", "postgres":
		if c.Warehouse.DSN == "" {
			errs = append(errs, errors.New("warehouse.dsn is required"))
		}
	case "":
	default:
		errs = append(errs, fmt.Errorf("unknown warehouse.driver %q", c.Warehouse.Driver))
	}

	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.Redis.Addr == "" {
			errs = append(errs, errors.New("session.redis.addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session.store %q", c.Session.Store))
	}

	caps := map[string]CapabilityConfig{
		capability.SQL:      c.Capabilities.SQL,
		capability.Analysis: c.Capabilities.Analysis,
		capability.Search:   c.Capabilities.Search,
		capability.ML:       c.Capabilities.ML,
	}
	for name, cc := range caps {
		switch cc.Provider {
		case "", "llm":
		case "remote":
			if cc.Endpoint == "" {
				errs = append(errs, fmt.Errorf("capabilities.%s.endpoint is required for the remote provider", name))
			}
		default:
			errs = append(errs, fmt.Errorf("capabilities.%s.provider must be llm or remote, got %q", name, cc.Provider))
		}
		if cc.MaxAttempts < 0 || cc.Timeout < 0 || cc.RatePerSecond < 0 {
			errs = append(errs, fmt.Errorf("capabilities.%s: negative policy value", name))
		}
	}

	if d := c.Capabilities.Docs; d.Corpus != "" {
		if d.TopK < 1 {
			errs = append(errs, errors.New("capabilities.docs.top_k must be at least 1"))
		}
		if d.DistanceThreshold <= 0 || d.DistanceThreshold > 2 {
			errs = append(errs, errors.New("capabilities.docs.distance_threshold must be in (0, 2]"))
		}
		if err := c.Corpus.Embeddings.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("corpus.embeddings: %w", err))
		}
		switch c.Corpus.VectorStore.Provider {
		case "memory":
		case "firestore":
			if c.Corpus.VectorStore.ProjectID == "" {
				errs = append(errs, errors.New("corpus.vector_store.project_id is required for firestore"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown corpus.vector_store.provider %q", c.Corpus.VectorStore.Provider))
		}
	}

	if c.API.RatePerSecond < 0 || c.API.Burst < 0 || c.API.MaxQuestionBytes < 0 {
		errs = append(errs, errors.New("api rate limit must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ProviderSettings returns the generic settings map consumed by the LLM
// provider factories.
func (l LLMConfig) ProviderSettings() map[string]any {
	settings := map[string]any{"model": l.Model}
	if l.APIKey != "" {
		settings["api_key"] = l.APIKey
	}
	if l.BaseURL != "" {
		settings["base_url"] = l.BaseURL
	}
	if l.ProjectID != "" {
		settings["project_id"] = l.ProjectID
	}
	if l.Location != "" {
		settings["location"] = l.Location
	}
	return settings
}

// String renders the configuration with secrets masked.
func (c *Config) String() string {
	cp := *c
	cp.LLM.APIKey = mask(cp.LLM.APIKey)
	cp.Session.Redis.Password = mask(cp.Session.Redis.Password)
	cp.Warehouse.DSN = maskDSN(cp.Warehouse.DSN)
	data, err := yaml.Marshal(&cp)
	if err != nil {
		return err.Error()
	}
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// maskDSN hides the password of a postgres URL.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":****" + dsn[at:]
	}
	return dsn
}
