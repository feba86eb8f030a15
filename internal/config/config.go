package config

import (
	"errors"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/codeknow/internal/checkpoint"
	"github.com/dshills/codeknow/internal/embedder"
)

// Index modes
const (
	ModeFull  = "full"  // symbols, graph and embeddings
	ModeGraph = "graph" // symbols and graph only
)

// Lock backends
const (
	LockBackendFile   = "file"
	LockBackendMemory = "memory"
)

// Config is the top-level configuration struct for codeknow.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Workers        int             `mapstructure:"workers"`
	BatchSize      int             `mapstructure:"batch_size"`
	EvictEvery     int             `mapstructure:"evict_every"`
	RetryDelay     time.Duration   `mapstructure:"retry_delay"`
	LockStaleAfter time.Duration   `mapstructure:"lock_stale_after"`
	LockBackend    string          `mapstructure:"lock_backend"`
	IncludeTests   bool            `mapstructure:"include_tests"`
	Exclude        []string        `mapstructure:"exclude"`
	Embedding      EmbeddingConfig `mapstructure:"embedding"`
	Timeout        TimeoutConfig   `mapstructure:"timeout"`
	Mode           string          `mapstructure:"mode"`
	DBPath         string          `mapstructure:"db_path"`
	MetricsAddr    string          `mapstructure:"metrics_addr"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	Endpoint  string `mapstructure:"endpoint"`
	CacheSize int    `mapstructure:"cache_size"`
}

// TimeoutConfig bounds the time spent on a single file.
type TimeoutConfig struct {
	PerFile    time.Duration `mapstructure:"per_file"`
	Policy     string        `mapstructure:"policy"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Sentinel validation errors.
var (
	// ErrInvalidWorkers indicates the workers value is negative.
	ErrInvalidWorkers = errors.New("workers must be non-negative")
	// ErrInvalidBatchSize indicates the batch size is negative.
	ErrInvalidBatchSize = errors.New("batch_size must be non-negative")
	// ErrInvalidEvictEvery indicates the eviction interval is negative.
	ErrInvalidEvictEvery = errors.New("evict_every must be non-negative")
	// ErrInvalidDuration indicates a negative retry delay, stale threshold or timeout.
	ErrInvalidDuration = errors.New("durations must be non-negative")
	// ErrInvalidLockBackend indicates an unknown lock backend.
	ErrInvalidLockBackend = errors.New("lock_backend must be file or memory")
	// ErrInvalidExclude indicates a malformed exclude glob.
	ErrInvalidExclude = errors.New("exclude contains an invalid glob")
	// ErrInvalidProvider indicates an unknown embedding provider.
	ErrInvalidProvider = errors.New("embedding.provider must be none, local, openai or jina")
	// ErrInvalidTimeoutPolicy indicates an unknown timeout policy.
	ErrInvalidTimeoutPolicy = errors.New("timeout.policy must be retry, skip or fail")
	// ErrInvalidMaxRetries indicates the retry count is negative.
	ErrInvalidMaxRetries = errors.New("timeout.max_retries must be non-negative")
	// ErrInvalidMode indicates an unknown index mode.
	ErrInvalidMode = errors.New("mode must be full or graph")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	switch {
	case c.Workers < 0:
		return ErrInvalidWorkers
	case c.BatchSize < 0:
		return ErrInvalidBatchSize
	case c.EvictEvery < 0:
		return ErrInvalidEvictEvery
	case c.RetryDelay < 0, c.LockStaleAfter < 0, c.Timeout.PerFile < 0:
		return ErrInvalidDuration
	case c.Timeout.MaxRetries < 0:
		return ErrInvalidMaxRetries
	}

	switch c.LockBackend {
	case LockBackendFile, LockBackendMemory:
	default:
		return ErrInvalidLockBackend
	}

	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return ErrInvalidExclude
		}
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case "", embedder.ProviderNone, embedder.ProviderLocal, embedder.ProviderOpenAI, embedder.ProviderJina:
	default:
		return ErrInvalidProvider
	}

	switch c.Timeout.Policy {
	case "retry", "skip", "fail":
	default:
		return ErrInvalidTimeoutPolicy
	}

	switch c.Mode {
	case ModeFull, ModeGraph:
	default:
		return ErrInvalidMode
	}

	return nil
}

// EmbedderConfig returns the embedder settings. Graph mode disables
// embeddings regardless of the configured provider.
func (c *Config) EmbedderConfig() embedder.Config {
	if c.Mode == ModeGraph {
		return embedder.Config{Provider: embedder.ProviderNone}
	}
	return embedder.Config{
		Provider:  strings.ToLower(c.Embedding.Provider),
		Model:     c.Embedding.Model,
		APIKey:    c.Embedding.APIKey,
		Endpoint:  c.Embedding.Endpoint,
		CacheSize: c.Embedding.CacheSize,
	}
}

// Fingerprint returns the knobs that change extraction output. A checkpoint
// written under a different fingerprint is discarded.
func (c *Config) Fingerprint() checkpoint.ConfigFingerprint {
	ec := c.EmbedderConfig()
	provider := embedder.ProviderNone
	if ec.Enabled() {
		provider = ec.Provider
	}
	return checkpoint.ConfigFingerprint{
		Provider:      provider,
		Model:         embedder.ModelName(ec),
		Mode:          c.Mode,
		IncludeTests:  c.IncludeTests,
		TimeoutMs:     c.Timeout.PerFile.Milliseconds(),
		TimeoutPolicy: c.Timeout.Policy,
		MaxRetries:    c.Timeout.MaxRetries,
	}
}
