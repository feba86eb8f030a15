package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/zeebo/xxh3"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
	ProviderNone   = "none"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hashed-ngrams"

	// Default endpoints
	DefaultJinaEndpoint   = "https://api.jina.ai/v1/embeddings"
	DefaultOpenAIEndpoint = "https://api.openai.com/v1/embeddings"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	MaxBatchSize = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// HTTPProvider implements Embedder against an OpenAI-compatible
// /v1/embeddings endpoint. Jina and OpenAI share the wire format.
type HTTPProvider struct {
	name       string
	apiKey     string
	model      string
	endpoint   string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(apiKey, model, endpoint string, cache *Cache) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderJina, apiKey, orDefault(model, DefaultJinaModel), orDefault(endpoint, DefaultJinaEndpoint), JinaDimension, cache)
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(apiKey, model, endpoint string, cache *Cache) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderOpenAI, apiKey, orDefault(model, DefaultOpenAIModel), orDefault(endpoint, DefaultOpenAIEndpoint), OpenAIDimension, cache)
}

func newHTTPProvider(name, apiKey, model, endpoint string, dimension int, cache *Cache) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s API key not set", ErrNoProviderEnabled, name)
	}
	return &HTTPProvider{
		name:       name,
		apiKey:     apiKey,
		model:      model,
		endpoint:   endpoint,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}, nil
}

func (h *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := h.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch embeds texts, calling the API only for cache misses
func (h *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	hashes := make([]string, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		hashes[i] = ComputeHash(text)
		if h.cache != nil {
			if emb, ok := h.cache.Get(hashes[i]); ok {
				embeddings[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = req.Texts[i]
		}

		fetched, err := retryWithBackoff(ctx, h.retry, func() ([]*Embedding, error) {
			return h.callAPI(ctx, texts)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrProviderFailed, h.name, err)
		}

		for j, i := range missing {
			emb := fetched[j]
			emb.Hash = hashes[i]
			embeddings[i] = emb
			if h.cache != nil {
				h.cache.Set(hashes[i], emb)
			}
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   h.name,
		Model:      h.model,
	}, nil
}

func (h *HTTPProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	body, err := json.Marshal(map[string]any{
		"input": texts,
		"model": h.model,
	})
	if err != nil {
		return nil, &permanentError{fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &permanentError{fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &permanentError{apiErr}
		}
		return nil, apiErr
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	embeddings := make([]*Embedding, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(texts) || embeddings[data.Index] != nil {
			return nil, fmt.Errorf("invalid embedding index %d", data.Index)
		}
		embeddings[data.Index] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  h.name,
			Model:     h.model,
		}
	}

	return embeddings, nil
}

func (h *HTTPProvider) Dimension() int {
	return h.dimension
}

func (h *HTTPProvider) Provider() string {
	return h.name
}

func (h *HTTPProvider) Model() string {
	return h.model
}

func (h *HTTPProvider) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider embeds text without a network call by hashing identifier
// tokens and their bigrams into a fixed number of buckets. Vectors are
// deterministic and unit length, so equal code yields equal embeddings.
type LocalProvider struct {
	cache *Cache
}

// NewLocalProvider creates a local embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{cache: cache}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    hashedFeatures(req.Text),
		Dimension: LocalDimension,
		Provider:  ProviderLocal,
		Model:     DefaultLocalModel,
		Hash:      hash,
	}
	if l.cache != nil {
		l.cache.Set(hash, emb)
	}
	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      DefaultLocalModel,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return LocalDimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return DefaultLocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}

func hashedFeatures(text string) []float32 {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	vector := make([]float32, LocalDimension)
	prev := ""
	for _, tok := range tokens {
		addFeature(vector, tok, 1)
		if prev != "" {
			addFeature(vector, prev+" "+tok, 0.5)
		}
		prev = tok
	}
	return NormalizeVector(vector)
}

// addFeature uses the high bit of the hash as the sign so unrelated
// features tend to cancel rather than accumulate
func addFeature(vector []float32, feature string, weight float32) {
	h := xxh3.HashString(feature)
	if h>>63 == 1 {
		weight = -weight
	}
	vector[h%uint64(len(vector))] += weight
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
