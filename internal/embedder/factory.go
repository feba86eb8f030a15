package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables consulted for API keys when Config.APIKey is empty
const (
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	Endpoint  string
	CacheSize int
}

// Enabled reports whether cfg selects an embedding provider at all
func (c Config) Enabled() bool {
	p := strings.ToLower(c.Provider)
	return p != "" && p != ProviderNone
}

// New creates an embedder with explicit configuration. A disabled
// configuration returns ErrNoProviderEnabled.
func New(cfg Config) (Embedder, error) {
	if !cfg.Enabled() {
		return nil, ErrNoProviderEnabled
	}

	cache := NewCache(cfg.CacheSize)

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(apiKey(cfg.APIKey, EnvJinaAPIKey), cfg.Model, cfg.Endpoint, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey(cfg.APIKey, EnvOpenAIAPIKey), cfg.Model, cfg.Endpoint, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// ModelName returns the model an embedder built from cfg would report. It
// feeds the checkpoint's config fingerprint without constructing a client.
func ModelName(cfg Config) string {
	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return orDefault(cfg.Model, DefaultJinaModel)
	case ProviderOpenAI:
		return orDefault(cfg.Model, DefaultOpenAIModel)
	case ProviderLocal:
		return DefaultLocalModel
	}
	return ""
}

func apiKey(explicit, env string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(env)
}
