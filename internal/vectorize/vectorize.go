// Package vectorize embeds contact profiles and finds each contact's
// closest counterpart.
package vectorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scrypster/introducer/internal/embedding"
	"github.com/scrypster/introducer/internal/enrichment"
	"github.com/scrypster/introducer/internal/logging"
	"github.com/scrypster/introducer/internal/profiletext"
	"github.com/scrypster/introducer/internal/similarity"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/pkg/types"
)

const (
	// DefaultThreshold is the minimum similarity for a top match.
	DefaultThreshold = 0.7
	// DefaultBatchDelay spaces batch items to respect provider rate limits.
	DefaultBatchDelay = 150 * time.Millisecond
)

// Embedder produces model-tagged embeddings. *embedding.Generator
// implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) (embedding.Embedding, error)
	Model() string
}

// Enricher is the enrichment engine as used by EnrichBatch.
type Enricher interface {
	EnrichWithOutcome(ctx context.Context, c *types.Contact) (*types.Contact, enrichment.Outcome)
}

// NeedsVectorization reports whether c must be (re)embedded with model:
// it has no vector, it was enriched after the vector was generated, or
// the vector came from a different model.
func NeedsVectorization(c *types.Contact, existing *types.VectorizedContact, model string) bool {
	if existing == nil || len(existing.Vector) == 0 {
		return true
	}
	if existing.Model != model {
		return true
	}
	return c.LastEnrichedAt != nil && c.LastEnrichedAt.After(existing.GeneratedAt)
}

// Options tunes a single VectorizeAndMatch call.
type Options struct {
	Force      bool     // Re-embed even when the vector is current
	ExcludeIDs []string // Contacts never returned as the match
}

// Result is the outcome of VectorizeAndMatch.
type Result struct {
	ContactID  string            `json:"contact_id"`
	Model      string            `json:"model"`
	Text       string            `json:"text"`
	Vector     []float64         `json:"vector"`
	Vectorized bool              `json:"vectorized"` // false when the stored vector was reused
	TopMatch   *similarity.Match `json:"top_match,omitempty"`
}

// Service vectorizes contacts and matches them.
type Service struct {
	contacts  storage.ContactStore
	vectors   storage.VectorStore
	embedder  Embedder
	enricher  Enricher
	threshold float64
	limiter   *rate.Limiter
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithThreshold sets the minimum match similarity.
func WithThreshold(th float64) Option {
	return func(s *Service) { s.threshold = th }
}

// WithBatchDelay sets the spacing between batch items. Zero disables it.
func WithBatchDelay(d time.Duration) Option {
	return func(s *Service) { s.limiter = newLimiter(d) }
}

// WithEnricher enables EnrichBatch.
func WithEnricher(e Enricher) Option {
	return func(s *Service) { s.enricher = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(contacts storage.ContactStore, vectors storage.VectorStore, embedder Embedder, opts ...Option) *Service {
	s := &Service{
		contacts:  contacts,
		vectors:   vectors,
		embedder:  embedder,
		threshold: DefaultThreshold,
		limiter:   newLimiter(DefaultBatchDelay),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newLimiter(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}

// Model returns the configured embedding model.
func (s *Service) Model() string {
	if s.embedder == nil {
		return ""
	}
	return s.embedder.Model()
}

// VectorizeAndMatch embeds c when due, stores the vector, and records the
// best match among other contacts embedded with the same model. Finding no
// match is not an error.
func (s *Service) VectorizeAndMatch(ctx context.Context, c *types.Contact, opts Options) (*Result, error) {
	if c == nil || c.ID == "" {
		return nil, fmt.Errorf("%w: contact is required", storage.ErrInvalidInput)
	}
	model := s.Model()
	if model == "" {
		return nil, &embedding.ConfigurationError{Reason: "no embedding backend"}
	}

	current, err := s.vectors.GetVector(ctx, c.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load vector: %w", err)
	}

	res := &Result{ContactID: c.ID, Model: model}
	if opts.Force || NeedsVectorization(c, current, model) {
		text := profiletext.Build(c)
		emb, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		current = &types.VectorizedContact{
			ContactID:   c.ID,
			Vector:      emb.Vector,
			Text:        text,
			Model:       emb.Model,
			Dimension:   emb.Dimension(),
			GeneratedAt: s.now().UTC(),
		}
		if err := s.vectors.UpsertVector(ctx, current); err != nil {
			return nil, fmt.Errorf("failed to store vector: %w", err)
		}
		res.Vectorized = true
		s.logger.Debug("contact vectorized", logging.Contact(c.ID), zap.String("model", emb.Model), zap.Int("dimension", emb.Dimension()))
	}
	res.Text = current.Text
	res.Vector = current.Vector

	match, err := s.topMatch(ctx, current, opts.ExcludeIDs)
	if err != nil {
		return nil, err
	}
	res.TopMatch = match

	c.Embedding = append([]float64(nil), current.Vector...)
	c.EmbeddingModel = current.Model
	c.TopMatchID, c.TopMatchScore = "", 0
	if match != nil {
		c.TopMatchID, c.TopMatchScore = match.ID, match.Score
	}

	_, err = s.contacts.PatchContact(ctx, c.ID, func(stored *types.Contact) error {
		stored.Embedding = c.Embedding
		stored.EmbeddingModel = c.EmbeddingModel
		stored.TopMatchID = c.TopMatchID
		stored.TopMatchScore = c.TopMatchScore
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to record match: %w", err)
	}
	return res, nil
}

func (s *Service) topMatch(ctx context.Context, v *types.VectorizedContact, exclude []string) (*similarity.Match, error) {
	candidates, err := s.candidates(ctx, v.Model)
	if err != nil {
		return nil, err
	}
	q := similarity.Query{
		Vector:    v.Vector,
		Threshold: s.threshold,
		Exclude:   similarity.ExcludeSet(append([]string{v.ContactID}, exclude...)...),
	}
	return similarity.TopMatch(q, candidates)
}

func (s *Service) candidates(ctx context.Context, model string) ([]similarity.Candidate, error) {
	vs, err := s.vectors.ListVectors(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("failed to list vectors: %w", err)
	}
	return toCandidates(vs), nil
}

func toCandidates(vs []*types.VectorizedContact) []similarity.Candidate {
	out := make([]similarity.Candidate, 0, len(vs))
	for _, v := range vs {
		out = append(out, similarity.Candidate{ID: v.ContactID, Vector: v.Vector})
	}
	return out
}

// RankedMatches returns the contacts most similar to contactID, best first,
// at or above the threshold. The contact must already be vectorized.
func (s *Service) RankedMatches(ctx context.Context, contactID string, limit int) ([]similarity.Match, error) {
	if limit <= 0 {
		limit = 10
	}
	v, err := s.vectors.GetVector(ctx, contactID)
	if err != nil {
		return nil, err
	}

	var candidates []similarity.Candidate
	if searcher, ok := s.vectors.(storage.VectorSearcher); ok {
		nearest, err := searcher.NearestVectors(ctx, v.Model, v.Vector, limit+1)
		if err != nil {
			return nil, fmt.Errorf("failed to search vectors: %w", err)
		}
		candidates = toCandidates(nearest)
	} else if candidates, err = s.candidates(ctx, v.Model); err != nil {
		return nil, err
	}

	q := similarity.Query{Vector: v.Vector, Threshold: s.threshold, Exclude: similarity.ExcludeSet(contactID)}
	return similarity.RankMatches(q, candidates, limit)
}
