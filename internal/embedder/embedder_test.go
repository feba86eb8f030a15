package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", ComputeHash("hello world"))
	assert.Equal(t, ComputeHash("test"), ComputeHash("test"))
	assert.NotEqual(t, ComputeHash("a"), ComputeHash("b"))
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr error
	}{
		{"valid", []string{"a", "b"}, nil},
		{"empty batch", nil, ErrInvalidInput},
		{"empty text", []string{"a", ""}, ErrInvalidInput},
		{"too large", make([]string, MaxBatchSize+1), ErrBatchTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestCache(t *testing.T) {
	cache := NewCache(2)

	cache.Set("a", &Embedding{Vector: []float32{1, 2}})
	cache.Set("b", &Embedding{Vector: []float32{3}})

	got, ok := cache.Get("a")
	require.True(t, ok)
	got.Vector[0] = 99

	// Mutating a returned copy leaves the cached value alone
	again, _ := cache.Get("a")
	assert.Equal(t, float32(1), again.Vector[0])

	// "b" is least recently used and is evicted first
	cache.Set("c", &Embedding{})
	_, ok = cache.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Size())

	cache.EvictAll()
	assert.Equal(t, 0, cache.Size())
}

func TestNewCache_DefaultSize(t *testing.T) {
	cache := NewCache(0)
	for i := range 10 {
		cache.Set(string(rune('a'+i)), &Embedding{})
	}
	assert.Equal(t, 10, cache.Size())
}

func TestLocalProvider(t *testing.T) {
	cache := NewCache(10)
	p, err := NewLocalProvider(cache)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()

	a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func Add(a, b int) int { return a + b }"})
	require.NoError(t, err)
	assert.Len(t, a.Vector, LocalDimension)
	assert.Equal(t, LocalDimension, a.Dimension)
	assert.Equal(t, ProviderLocal, a.Provider)
	assert.Equal(t, 1, cache.Size())

	var norm float64
	for _, v := range a.Vector {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)

	// Deterministic across provider instances
	fresh, _ := NewLocalProvider(nil)
	b, err := fresh.GenerateEmbedding(ctx, EmbeddingRequest{Text: "func Add(a, b int) int { return a + b }"})
	require.NoError(t, err)
	assert.Equal(t, a.Vector, b.Vector)

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"alpha beta", "gamma delta"}})
	require.NoError(t, err)
	assert.Len(t, resp.Embeddings, 2)
	assert.NotEqual(t, resp.Embeddings[0].Vector, resp.Embeddings[1].Vector)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = fresh.GenerateEmbedding(canceled, EmbeddingRequest{Text: "z"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-7}

	b := EncodeVector(v)
	assert.Len(t, b, 16)

	got, err := DecodeVector(b)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
	assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
}
