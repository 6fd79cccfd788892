package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkgerrors "docindex/pkg/errors"
)

const envPrefix = "DOCINDEX_"

// Load policies for persisted indices that fail to load at startup.
const (
	LoadPolicyAbort = "abort"
	LoadPolicySkip  = "skip"
)

// Config is the service configuration.
type Config struct {
	DataDir string `yaml:"data_dir"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	DefaultIndexType string `yaml:"default_index_type"`
	DefaultMetric    string `yaml:"default_metric"`
	DefaultNList     int    `yaml:"default_nlist"`
	DefaultNProbe    int    `yaml:"default_nprobe"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	SnippetLength  int           `yaml:"snippet_length"`
	LoadPolicy     string        `yaml:"load_policy"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Remote    RemoteConfig    `yaml:"remote"`
	Gemini    GeminiConfig    `yaml:"gemini"`
}

// EmbeddingConfig selects the default embedder and the local encoder parameters.
type EmbeddingConfig struct {
	Model        string `yaml:"model"`
	Backend      string `yaml:"backend"`
	Device       string `yaml:"device"`
	MaxSeqLength int    `yaml:"max_seq_length"`
	Pooling      string `yaml:"pooling"`
	Normalize    bool   `yaml:"normalize"`
	Dimension    int    `yaml:"dimension"`
	BatchSize    int    `yaml:"batch_size"`
	CacheSize    int    `yaml:"cache_size"`
}

// RemoteConfig configures the HTTP embedding API backend.
type RemoteConfig struct {
	APIKey     string        `yaml:"api_key"`
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// GeminiConfig configures the Gemini embedding backend.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:          "./data",
		Host:             "0.0.0.0",
		Port:             8080,
		LogLevel:         "info",
		DefaultIndexType: "flat",
		DefaultMetric:    "COSINE",
		DefaultNList:     100,
		DefaultNProbe:    10,
		RequestTimeout:   60 * time.Second,
		SnippetLength:    200,
		LoadPolicy:       LoadPolicyAbort,
		Embedding: EmbeddingConfig{
			Model:        "all-MiniLM-L6-v2",
			Backend:      "local",
			Device:       "cpu",
			MaxSeqLength: 256,
			Pooling:      "mean",
			Normalize:    true,
			Dimension:    384,
			BatchSize:    32,
			CacheSize:    1000,
		},
		Remote: RemoteConfig{
			Endpoint:   "https://api.openai.com/v1/embeddings",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
	}
}

// NewConfig returns the default configuration rooted at dir with
// environment overrides applied.
func NewConfig(dir string) (*Config, error) {
	conf := Default()
	conf.DataDir = dir
	if err := conf.ApplyEnv(); err != nil {
		return nil, err
	}
	if dir != "" {
		conf.DataDir = dir
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// FromFile reads a YAML file over the defaults. Environment overrides are
// not applied.
func FromFile(path string) (*Config, error) {
	conf := Default()
	if err := conf.loadYAML(path); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Load builds the configuration from defaults, the optional YAML file at
// path, then environment variables, and validates the result.
func Load(path string) (*Config, error) {
	conf := Default()
	if path != "" {
		if err := conf.loadYAML(path); err != nil {
			return nil, err
		}
	}
	if err := conf.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from DOCINDEX_* variables.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str(envPrefix+"DATA_DIR", &c.DataDir)
	str(envPrefix+"HOST", &c.Host)
	num(envPrefix+"PORT", &c.Port)
	str(envPrefix+"LOG_LEVEL", &c.LogLevel)
	str(envPrefix+"LOG_FILE", &c.LogFile)
	str(envPrefix+"DEFAULT_INDEX_TYPE", &c.DefaultIndexType)
	str(envPrefix+"DEFAULT_METRIC", &c.DefaultMetric)
	num(envPrefix+"DEFAULT_NLIST", &c.DefaultNList)
	num(envPrefix+"DEFAULT_NPROBE", &c.DefaultNProbe)
	dur(envPrefix+"REQUEST_TIMEOUT", &c.RequestTimeout)
	num(envPrefix+"SNIPPET_LENGTH", &c.SnippetLength)
	str(envPrefix+"LOAD_POLICY", &c.LoadPolicy)

	str(envPrefix+"EMBEDDING_MODEL", &c.Embedding.Model)
	str(envPrefix+"EMBEDDING_BACKEND", &c.Embedding.Backend)
	str(envPrefix+"EMBEDDING_DEVICE", &c.Embedding.Device)
	num(envPrefix+"MAX_SEQ_LENGTH", &c.Embedding.MaxSeqLength)
	str(envPrefix+"POOLING", &c.Embedding.Pooling)
	flag(envPrefix+"NORMALIZE", &c.Embedding.Normalize)
	num(envPrefix+"EMBEDDING_DIMENSION", &c.Embedding.Dimension)
	num(envPrefix+"BATCH_SIZE", &c.Embedding.BatchSize)
	num(envPrefix+"EMBEDDING_CACHE_SIZE", &c.Embedding.CacheSize)

	str(envPrefix+"API_KEY", &c.Remote.APIKey)
	str(envPrefix+"API_ENDPOINT", &c.Remote.Endpoint)
	dur(envPrefix+"API_TIMEOUT", &c.Remote.Timeout)
	num(envPrefix+"API_MAX_RETRIES", &c.Remote.MaxRetries)
	dur(envPrefix+"API_RETRY_DELAY", &c.Remote.RetryDelay)

	str("GEMINI_API_KEY", &c.Gemini.APIKey)
	str(envPrefix+"GEMINI_BASE_URL", &c.Gemini.BaseURL)

	return errors.Join(errs...)
}

// ParseDuration accepts Go durations ("250ms") and bare seconds ("0.25").
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{pkgerrors.ErrBadParameter}, args...)...))
	}

	if c.DataDir == "" {
		bad("data_dir is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		bad("port %d out of range", c.Port)
	}
	switch strings.ToLower(c.DefaultIndexType) {
	case "flat", "ivf_flat", "ivf-flat", "bm25":
	default:
		bad("unknown default_index_type %q", c.DefaultIndexType)
	}
	switch strings.ToUpper(c.DefaultMetric) {
	case "L2", "IP", "COSINE":
	default:
		bad("unknown default_metric %q", c.DefaultMetric)
	}
	if c.DefaultNList <= 0 {
		bad("default_nlist must be positive")
	}
	if c.DefaultNProbe <= 0 {
		bad("default_nprobe must be positive")
	}
	if c.SnippetLength < 0 {
		bad("snippet_length must not be negative")
	}
	switch c.LoadPolicy {
	case LoadPolicyAbort, LoadPolicySkip:
	default:
		bad("unknown load_policy %q", c.LoadPolicy)
	}

	e := c.Embedding
	switch e.Backend {
	case "local", "remote", "gemini", "bm25":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownBackend, e.Backend))
	}
	switch e.Pooling {
	case "mean", "cls", "max":
	default:
		bad("unknown pooling %q", e.Pooling)
	}
	if e.MaxSeqLength <= 0 {
		bad("max_seq_length must be positive")
	}
	if e.Dimension <= 0 {
		bad("embedding dimension must be positive")
	}
	if e.BatchSize <= 0 {
		bad("batch_size must be positive")
	}
	if c.Remote.MaxRetries < 0 {
		bad("max_retries must not be negative")
	}
	if e.Backend == "remote" && c.Remote.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: remote backend requires %sAPI_KEY", pkgerrors.ErrMissingCredential, envPrefix))
	}
	if e.Backend == "gemini" && c.Gemini.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: gemini backend requires GEMINI_API_KEY", pkgerrors.ErrMissingCredential))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Snapshot returns the configuration with secrets masked, for health output.
func (c *Config) Snapshot() map[string]any {
	return map[string]any{
		"data_dir":           c.DataDir,
		"host":               c.Host,
		"port":               c.Port,
		"log_level":          c.LogLevel,
		"default_index_type": c.DefaultIndexType,
		"default_metric":     c.DefaultMetric,
		"default_nlist":      c.DefaultNList,
		"default_nprobe":     c.DefaultNProbe,
		"embedding_model":    c.Embedding.Model,
		"embedding_backend":  c.Embedding.Backend,
		"device":             c.Embedding.Device,
		"max_seq_length":     c.Embedding.MaxSeqLength,
		"pooling":            c.Embedding.Pooling,
		"normalize":          c.Embedding.Normalize,
		"api_endpoint":       c.Remote.Endpoint,
		"api_key_set":        c.Remote.APIKey != "",
	}
}
