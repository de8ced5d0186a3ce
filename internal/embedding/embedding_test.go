package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/config"
)

type fakeBackend struct {
	model string
	vec   []float64
	err   error
	calls atomic.Int32
}

func (f *fakeBackend) Embed(_ context.Context, _ string) ([]float64, error) {
	f.calls.Add(1)
	return f.vec, f.err
}

func (f *fakeBackend) GetModel() string { return f.model }

func TestGenerator_NoBackend(t *testing.T) {
	g := NewGenerator(nil)

	_, err := g.Embed(context.Background(), "hello")
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "", g.Model())
}

func TestGenerator_EmptyInput(t *testing.T) {
	b := &fakeBackend{model: "m1", vec: []float64{1}}
	g := NewGenerator(b)

	_, err := g.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestGenerator_TagsModel(t *testing.T) {
	b := &fakeBackend{model: "m1", vec: []float64{0.5, 0.25}}
	g := NewGenerator(b)

	emb, err := g.Embed(context.Background(), "Name: Ada")
	require.NoError(t, err)
	assert.Equal(t, "m1", emb.Model)
	assert.Equal(t, []float64{0.5, 0.25}, emb.Vector)
	assert.Equal(t, 2, emb.Dimension())
}

func TestGenerator_BackendError(t *testing.T) {
	b := &fakeBackend{model: "m1", err: errors.New("rate limited")}
	g := NewGenerator(b)

	_, err := g.Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "rate limited")
}

func TestGenerator_UsesCache(t *testing.T) {
	b := &fakeBackend{model: "m1", vec: []float64{1, 0}}
	cache := NewTieredCache(context.Background(), "", time.Minute, 10, zap.NewNop())
	g := NewGenerator(b, WithCache(cache))

	for i := 0; i < 3; i++ {
		emb, err := g.Embed(context.Background(), "same text")
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 0}, emb.Vector)
	}
	assert.Equal(t, int32(1), b.calls.Load())

	hits, misses := cache.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCacheKey_DependsOnModel(t *testing.T) {
	assert.NotEqual(t, CacheKey("a", "text"), CacheKey("b", "text"))
	assert.Equal(t, CacheKey("a", "text"), CacheKey("a", "text"))
}

func TestTieredCache_Expiry(t *testing.T) {
	cache := NewTieredCache(context.Background(), "", 10*time.Millisecond, 0, nil)
	cache.Set(context.Background(), "k", []float64{1})

	_, ok := cache.Get(context.Background(), "k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestOpenAIClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.123456789012345]}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.123456789012345}, vec, "values keep full precision")
	assert.Equal(t, "text-embedding-3-small", c.GetModel())
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "x", BaseURL: srv.URL}, nil)
	_, err := c.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "status 401")
}

func TestOllamaClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL}, nil)
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, vec)
	assert.Equal(t, "nomic-embed-text", c.GetModel())
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(config.EmbeddingConfig{Provider: "openai"}, nil)
	require.NoError(t, err)
	assert.Nil(t, b, "openai without a key is unconfigured")

	b, err = NewBackend(config.EmbeddingConfig{Provider: "openai", OpenAIAPIKey: "k", OpenAIModel: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "m", b.GetModel())

	b, err = NewBackend(config.EmbeddingConfig{Provider: "ollama", OllamaModel: "mxbai"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mxbai", b.GetModel())

	_, err = NewBackend(config.EmbeddingConfig{Provider: "anthropic"}, nil)
	assert.Error(t, err)
}
