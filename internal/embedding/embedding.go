// Package embedding turns profile descriptions into model-tagged vectors.
package embedding

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrEmptyInput is returned when asked to embed blank text.
var ErrEmptyInput = errors.New("embedding: input text is empty")

// ConfigurationError is returned when no embedding backend is configured.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "embedding: not configured: " + e.Reason
}

// Backend is a remote embedding service.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	GetModel() string
}

// Embedding is a vector tagged with the model that produced it.
type Embedding struct {
	Vector []float64
	Model  string
}

// Dimension returns the vector length.
func (e Embedding) Dimension() int { return len(e.Vector) }

// Generator validates input, consults the cache and calls the backend.
// A Generator with a nil backend fails every call with ConfigurationError.
type Generator struct {
	backend Backend
	cache   Cache
	logger  *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithCache enables the embedding cache.
func WithCache(c Cache) Option {
	return func(g *Generator) { g.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator returns a Generator over backend, which may be nil.
func NewGenerator(backend Backend, opts ...Option) *Generator {
	g := &Generator{backend: backend, logger: zap.NewNop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Model returns the configured model, or "" when no backend is set.
func (g *Generator) Model() string {
	if g == nil || g.backend == nil {
		return ""
	}
	return g.backend.GetModel()
}

// Embed returns the embedding of text.
func (g *Generator) Embed(ctx context.Context, text string) (Embedding, error) {
	if g == nil || g.backend == nil {
		return Embedding{}, &ConfigurationError{Reason: "no embedding backend"}
	}
	if strings.TrimSpace(text) == "" {
		return Embedding{}, ErrEmptyInput
	}

	model := g.backend.GetModel()
	key := CacheKey(model, text)

	if g.cache != nil {
		if vec, ok := g.cache.Get(ctx, key); ok {
			g.logger.Debug("embedding cache hit", zap.String("model", model))
			return Embedding{Vector: vec, Model: model}, nil
		}
	}

	vec, err := g.backend.Embed(ctx, text)
	if err != nil {
		return Embedding{}, fmt.Errorf("embedding with %s: %w", model, err)
	}
	if len(vec) == 0 {
		return Embedding{}, fmt.Errorf("embedding with %s: backend returned empty vector", model)
	}

	if g.cache != nil {
		g.cache.Set(ctx, key, vec)
	}
	return Embedding{Vector: vec, Model: model}, nil
}

// CacheKey builds a deterministic cache key from the model and text.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return fmt.Sprintf("emb:%x", sum[:16])
}
