package vectorize

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/introducer/internal/embedding"
	"github.com/scrypster/introducer/internal/enrichment"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/internal/storage/sqlite"
	"github.com/scrypster/introducer/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// keywordEmbedder maps text onto a few keyword axes so that similar
// profiles produce similar vectors.
type keywordEmbedder struct {
	mu    sync.Mutex
	model string
	calls int
}

var axes = []string{"microsoft", "google", "engineer", "chef", "restaurant"}

func (e *keywordEmbedder) Embed(_ context.Context, text string) (embedding.Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return embedding.Embedding{}, embedding.ErrEmptyInput
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	lower := strings.ToLower(text)
	vec := make([]float64, len(axes))
	for i, a := range axes {
		vec[i] = float64(strings.Count(lower, a))
	}
	return embedding.Embedding{Vector: vec, Model: e.model}, nil
}

func (e *keywordEmbedder) Model() string { return e.model }

func (e *keywordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "vec.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *sqlite.Store, contacts ...*types.Contact) {
	t.Helper()
	for _, c := range contacts {
		require.NoError(t, store.SaveContact(context.Background(), c))
	}
}

func TestNeedsVectorization(t *testing.T) {
	before := t0.Add(-time.Hour)
	after := t0.Add(time.Hour)
	vec := &types.VectorizedContact{Vector: []float64{1}, Model: "m1", GeneratedAt: t0}

	assert.True(t, NeedsVectorization(&types.Contact{}, nil, "m1"), "no vector")
	assert.True(t, NeedsVectorization(&types.Contact{}, &types.VectorizedContact{Model: "m1"}, "m1"), "empty vector")
	assert.True(t, NeedsVectorization(&types.Contact{LastEnrichedAt: &after}, vec, "m1"), "enriched after vectorization")
	assert.False(t, NeedsVectorization(&types.Contact{LastEnrichedAt: &before}, vec, "m1"), "vector is newer")
	assert.False(t, NeedsVectorization(&types.Contact{}, vec, "m1"), "never enriched")
	assert.True(t, NeedsVectorization(&types.Contact{}, vec, "m2"), "model changed")
}

func TestVectorizeAndMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emb := &keywordEmbedder{model: "kw-1"}
	svc := NewService(store, store, emb, WithClock(func() time.Time { return t0 }))

	satya := &types.Contact{ID: "satya", Name: "Satya", Company: "Microsoft", JobTitle: "Engineer", Status: types.StatusCompleted}
	bill := &types.Contact{ID: "bill", Name: "Bill", Company: "Microsoft", JobTitle: "Engineer", Status: types.StatusCompleted}
	gordon := &types.Contact{ID: "gordon", Name: "Gordon", Company: "Restaurant", JobTitle: "Chef", Status: types.StatusCompleted}
	seed(t, store, satya, bill, gordon)

	for _, c := range []*types.Contact{bill, gordon} {
		_, err := svc.VectorizeAndMatch(ctx, c, Options{})
		require.NoError(t, err)
	}

	res, err := svc.VectorizeAndMatch(ctx, satya, Options{})
	require.NoError(t, err)
	assert.True(t, res.Vectorized)
	assert.Equal(t, "kw-1", res.Model)
	assert.Contains(t, res.Text, "Company: Microsoft")
	require.NotNil(t, res.TopMatch)
	assert.Equal(t, "bill", res.TopMatch.ID)
	assert.InDelta(t, 1.0, res.TopMatch.Score, 1e-9)

	stored, err := store.GetContact(ctx, "satya")
	require.NoError(t, err)
	assert.Equal(t, "bill", stored.TopMatchID)
	assert.Equal(t, "kw-1", stored.EmbeddingModel)
	assert.Equal(t, res.Vector, stored.Embedding)
	assert.Equal(t, types.StatusCompleted, stored.Status)

	v, err := store.GetVector(ctx, "satya")
	require.NoError(t, err)
	assert.Equal(t, res.Text, v.Text)
	assert.True(t, t0.Equal(v.GeneratedAt))
}

func TestVectorizeAndMatch_ReusesCurrentVector(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emb := &keywordEmbedder{model: "kw-1"}
	now := t0
	svc := NewService(store, store, emb, WithClock(func() time.Time { return now }))

	enriched := t0.Add(-time.Hour)
	c := &types.Contact{ID: "c1", Company: "Google", LastEnrichedAt: &enriched}
	seed(t, store, c)

	_, err := svc.VectorizeAndMatch(ctx, c, Options{})
	require.NoError(t, err)

	res, err := svc.VectorizeAndMatch(ctx, c, Options{})
	require.NoError(t, err)
	assert.False(t, res.Vectorized)
	assert.Equal(t, 1, emb.Calls())

	res, err = svc.VectorizeAndMatch(ctx, c, Options{Force: true})
	require.NoError(t, err)
	assert.True(t, res.Vectorized)
	assert.Equal(t, 2, emb.Calls())

	// Enrichment after the vector was generated triggers a re-embed.
	now = t0.Add(2 * time.Hour)
	later := t0.Add(time.Hour)
	c.LastEnrichedAt = &later
	res, err = svc.VectorizeAndMatch(ctx, c, Options{})
	require.NoError(t, err)
	assert.True(t, res.Vectorized)
	assert.Equal(t, 3, emb.Calls())
}

func TestVectorizeAndMatch_IgnoresOtherModelsAndExclusions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertVector(ctx, &types.VectorizedContact{ContactID: "old", Vector: []float64{1, 0, 1}, Text: "x", Model: "kw-0"}))

	svc := NewService(store, store, &keywordEmbedder{model: "kw-1"})
	a := &types.Contact{ID: "a", Company: "Google", JobTitle: "Engineer"}
	b := &types.Contact{ID: "b", Company: "Google", JobTitle: "Engineer"}
	seed(t, store, a, b)

	_, err := svc.VectorizeAndMatch(ctx, b, Options{})
	require.NoError(t, err)

	res, err := svc.VectorizeAndMatch(ctx, a, Options{ExcludeIDs: []string{"b"}})
	require.NoError(t, err)
	assert.Nil(t, res.TopMatch, "no eligible candidate is a normal outcome")
}

func TestVectorizeAndMatch_BelowThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	svc := NewService(store, store, &keywordEmbedder{model: "kw-1"}, WithThreshold(0.9))

	chef := &types.Contact{ID: "chef", Company: "Restaurant", JobTitle: "Chef"}
	eng := &types.Contact{ID: "eng", Company: "Google", JobTitle: "Engineer"}
	seed(t, store, chef, eng)

	_, err := svc.VectorizeAndMatch(ctx, chef, Options{})
	require.NoError(t, err)
	res, err := svc.VectorizeAndMatch(ctx, eng, Options{})
	require.NoError(t, err)
	assert.Nil(t, res.TopMatch)

	stored, err := store.GetContact(ctx, "eng")
	require.NoError(t, err)
	assert.Empty(t, stored.TopMatchID)
}

func TestVectorizeAndMatch_Errors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := NewService(store, store, &keywordEmbedder{}).VectorizeAndMatch(ctx, &types.Contact{ID: "x", Company: "Google"}, Options{})
	var cfgErr *embedding.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = NewService(store, store, &keywordEmbedder{model: "kw-1"}).VectorizeAndMatch(ctx, &types.Contact{ID: "x"}, Options{})
	assert.ErrorIs(t, err, embedding.ErrEmptyInput)

	_, err = NewService(store, store, &keywordEmbedder{model: "kw-1"}).VectorizeAndMatch(ctx, nil, Options{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestRankedMatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	svc := NewService(store, store, &keywordEmbedder{model: "kw-1"}, WithThreshold(0))

	contacts := []*types.Contact{
		{ID: "q", Company: "Microsoft", JobTitle: "Engineer"},
		{ID: "same", Company: "Microsoft", JobTitle: "Engineer"},
		{ID: "half", Company: "Google", JobTitle: "Engineer"},
		{ID: "none", Company: "Restaurant", JobTitle: "Chef"},
	}
	seed(t, store, contacts...)
	for _, c := range contacts {
		_, err := svc.VectorizeAndMatch(ctx, c, Options{})
		require.NoError(t, err)
	}

	ranked, err := svc.RankedMatches(ctx, "q", 10)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "same", ranked[0].ID)
	assert.Equal(t, "half", ranked[1].ID)
	assert.Equal(t, "none", ranked[2].ID)

	limited, err := svc.RankedMatches(ctx, "q", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	_, err = svc.RankedMatches(ctx, "missing", 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVectorizeBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emb := &keywordEmbedder{model: "kw-1"}
	svc := NewService(store, store, emb, WithBatchDelay(0))

	seed(t, store,
		&types.Contact{ID: "a", Company: "Google"},
		&types.Contact{ID: "b", Company: "Microsoft"},
		&types.Contact{ID: "empty"},
	)

	res, err := svc.VectorizeBatch(ctx, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Skipped, "contacts without profile text are skipped")

	res, err = svc.VectorizeBatch(ctx, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, 3, res.Skipped)

	res, err = svc.VectorizeBatch(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestVectorizeBatch_IsThrottled(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, store, &keywordEmbedder{model: "kw-1"}, WithBatchDelay(40*time.Millisecond))
	seed(t, store,
		&types.Contact{ID: "a", Company: "Google"},
		&types.Contact{ID: "b", Company: "Google"},
		&types.Contact{ID: "c", Company: "Google"},
	)

	start := time.Now()
	_, err := svc.VectorizeBatch(context.Background(), 10, false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestVectorizeBatch_CanceledContext(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, store, &keywordEmbedder{model: "kw-1"})
	seed(t, store, &types.Contact{ID: "a", Company: "Google"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.VectorizeBatch(ctx, 10, false)
	assert.Error(t, err)
}

type fakeEnricher struct {
	outcomes map[string]enrichment.Outcome
}

func (f *fakeEnricher) EnrichWithOutcome(_ context.Context, c *types.Contact) (*types.Contact, enrichment.Outcome) {
	out := c.Clone()
	o := f.outcomes[c.ID]
	if o.Changed() {
		out.Company = "Microsoft"
	}
	return out, o
}

func TestEnrichBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	enricher := &fakeEnricher{outcomes: map[string]enrichment.Outcome{
		"a": enrichment.OutcomeEnriched,
		"b": enrichment.OutcomeFresh,
		"c": enrichment.OutcomeNotFound,
	}}
	svc := NewService(store, store, &keywordEmbedder{model: "kw-1"}, WithEnricher(enricher), WithBatchDelay(0))

	seed(t, store,
		&types.Contact{ID: "a", ProfileURL: "https://www.linkedin.com/in/a"},
		&types.Contact{ID: "b", ProfileURL: "https://www.linkedin.com/in/b"},
		&types.Contact{ID: "c", ProfileURL: "https://www.linkedin.com/in/c"},
		&types.Contact{ID: "no-url"},
	)

	res, err := svc.EnrichBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)

	v, err := store.GetVector(ctx, "a")
	require.NoError(t, err, "enriched contacts are vectorized")
	assert.Contains(t, v.Text, "Microsoft")
}

func TestEnrichBatch_RequiresEnricher(t *testing.T) {
	store := newTestStore(t)
	_, err := NewService(store, store, &keywordEmbedder{model: "kw-1"}).EnrichBatch(context.Background(), 5)
	assert.Error(t, err)
}
