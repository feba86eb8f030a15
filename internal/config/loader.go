package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/codeknow/internal/embedder"
	"github.com/dshills/codeknow/internal/lock"
	"github.com/dshills/codeknow/internal/pending"
	"github.com/dshills/codeknow/internal/swarm"
)

const (
	configName = ".codeknow"
	configType = "yaml"
	envPrefix  = "CODEKNOW"
)

// Default configuration values.
const (
	DefaultWorkers        = 0 // runtime.NumCPU()
	DefaultBatchSize      = pending.DefaultBatchSize
	DefaultEvictEvery     = swarm.DefaultEvictEvery
	DefaultRetryDelay     = swarm.DefaultRetryDelay
	DefaultLockStaleAfter = lock.DefaultStaleAfter
	DefaultTimeout        = 30 * time.Second
	DefaultTimeoutPolicy  = "skip"
	DefaultMaxRetries     = 2
	DefaultDBFile         = "index.db"
)

// LoadConfig reads configuration from defaults, an optional .codeknow.yaml
// and CODEKNOW_* environment variables, in increasing precedence. When
// configPath is empty the file is searched in dir and the home directory.
func LoadConfig(configPath, dir string) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		_, statErr := os.Stat(configPath)
		if statErr != nil {
			return nil, fmt.Errorf("read config: %w", statErr)
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		if dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
	}

	readErr := v.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := v.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// Default returns the configuration LoadConfig yields with no file and no
// environment overrides.
func Default() *Config {
	return &Config{
		Workers:        DefaultWorkers,
		BatchSize:      DefaultBatchSize,
		EvictEvery:     DefaultEvictEvery,
		RetryDelay:     DefaultRetryDelay,
		LockStaleAfter: DefaultLockStaleAfter,
		LockBackend:    LockBackendFile,
		Exclude:        []string{},
		Embedding: EmbeddingConfig{
			Provider:  embedder.ProviderNone,
			CacheSize: embedder.DefaultCacheSize,
		},
		Timeout: TimeoutConfig{
			PerFile:    DefaultTimeout,
			Policy:     DefaultTimeoutPolicy,
			MaxRetries: DefaultMaxRetries,
		},
		Mode: ModeFull,
	}
}

func applyDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("workers", d.Workers)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("evict_every", d.EvictEvery)
	v.SetDefault("retry_delay", d.RetryDelay)
	v.SetDefault("lock_stale_after", d.LockStaleAfter)
	v.SetDefault("lock_backend", d.LockBackend)
	v.SetDefault("include_tests", d.IncludeTests)
	v.SetDefault("exclude", d.Exclude)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.endpoint", d.Embedding.Endpoint)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)

	v.SetDefault("timeout.per_file", d.Timeout.PerFile)
	v.SetDefault("timeout.policy", d.Timeout.Policy)
	v.SetDefault("timeout.max_retries", d.Timeout.MaxRetries)

	v.SetDefault("mode", d.Mode)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("metrics_addr", d.MetricsAddr)
}
