package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orangelightening/exframe/internal/embed"
	"github.com/orangelightening/exframe/internal/storage/sqlite"
	"github.com/orangelightening/exframe/internal/vectorcache"
	"github.com/orangelightening/exframe/pkg/types"
)

// fixedEmbedder returns a preset query vector, or ErrUnavailable.
type fixedEmbedder struct {
	vector      []float64
	unavailable bool
}

func (e *fixedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.unavailable {
		return nil, embed.ErrUnavailable
	}
	return e.vector, nil
}

func (e *fixedEmbedder) Model() string { return "test-model" }

func newEngineStore(t *testing.T) *sqlite.PatternStore {
	t.Helper()
	s, err := sqlite.NewPatternStore(":memory:", "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngineCache(t *testing.T) *vectorcache.Cache {
	t.Helper()
	return vectorcache.New(filepath.Join(t.TempDir(), "vectors.json"), "test-model")
}

func addPattern(t *testing.T, s *sqlite.PatternStore, id, name, description string, confidence float64) {
	t.Helper()
	err := s.Add(context.Background(), &types.Pattern{
		ID:          id,
		DomainID:    "golang",
		Name:        name,
		Description: description,
		Confidence:  confidence,
	})
	require.NoError(t, err)
}

func TestWeightNormalization(t *testing.T) {
	r, err := NewRanker(newEngineStore(t), newEngineCache(t), nil, RankerConfig{
		SemanticWeight: 2,
		KeywordWeight:  2,
	})
	require.NoError(t, err)

	sem, kw := r.Weights()
	assert.InDelta(t, 0.5, sem, 1e-9)
	assert.InDelta(t, 0.5, kw, 1e-9)
	assert.InDelta(t, 1.0, sem+kw, 1e-9)

	require.NoError(t, r.AdjustWeights(3, 1))
	sem, kw = r.Weights()
	assert.InDelta(t, 0.75, sem, 1e-9)
	assert.InDelta(t, 0.25, kw, 1e-9)

	assert.Error(t, r.AdjustWeights(-1, 2))
	assert.Error(t, r.AdjustWeights(0, 0))
}

func TestSemanticOnlyRankingIgnoresKeywordCounts(t *testing.T) {
	store := newEngineStore(t)
	cache := newEngineCache(t)
	ctx := context.Background()

	// Both patterns match the query terms; the second repeats them so its
	// keyword score is far higher.
	addPattern(t, store, "golang_0001", "Worker pools", "bounded worker pool for task processing", 0.5)
	addPattern(t, store, "golang_0002", "Worker pools again",
		"worker pool worker pool worker pool task task task processing processing", 0.5)

	now := time.Now()
	cache.Set("golang_0001", []float64{0.8, 0.6}, []byte("a"), now)  // cos with {1,0} = 0.8
	cache.Set("golang_0002", []float64{0.3, 0.9539}, []byte("b"), now) // cos with {1,0} ~= 0.3

	r, err := NewRanker(store, cache, &fixedEmbedder{vector: []float64{1, 0}}, RankerConfig{
		SemanticWeight: 1.0,
		KeywordWeight:  0.0,
	})
	require.NoError(t, err)

	results, err := r.Search(ctx, "worker pool task processing", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "golang_0001", results[0].Pattern.ID,
		"pure-semantic weighting must rank by similarity regardless of keyword counts")
	assert.InDelta(t, 0.8, results[0].SemanticScore, 0.01)
}

func TestExactMatchesRankAboveEverything(t *testing.T) {
	store := newEngineStore(t)
	cache := newEngineCache(t)
	ctx := context.Background()

	addPattern(t, store, "golang_0001", "Graceful shutdown", "drain connections on SIGTERM", 0.9)
	addPattern(t, store, "golang_0002", "Connection draining", "drain connections before exit", 0.9)
	addPattern(t, store, "golang_0003", "Unrelated", "format dates with layouts", 0.2)

	r, err := NewRanker(store, cache, nil, RankerConfig{})
	require.NoError(t, err)

	results, err := r.SearchExact(ctx, "drain connections", []string{"golang_0003"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "golang_0003", results[0].Pattern.ID)
	assert.Equal(t, 1.0, results[0].Score)
	assert.True(t, results[0].Exact)
	for _, res := range results[1:] {
		assert.False(t, res.Exact)
		assert.Less(t, res.Score, 1.0)
	}
}

func TestExactMatchOrderPreserved(t *testing.T) {
	store := newEngineStore(t)
	ctx := context.Background()

	addPattern(t, store, "golang_0001", "First", "alpha content", 0.5)
	addPattern(t, store, "golang_0002", "Second", "beta content", 0.5)

	r, err := NewRanker(store, newEngineCache(t), nil, RankerConfig{})
	require.NoError(t, err)

	results, err := r.SearchExact(ctx, "content", []string{"golang_0002", "golang_0001"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "golang_0002", results[0].Pattern.ID)
	assert.Equal(t, "golang_0001", results[1].Pattern.ID)
}

func TestThresholdDropsOnlyWhenWeakOnBothAxes(t *testing.T) {
	store := newEngineStore(t)
	cache := newEngineCache(t)
	ctx := context.Background()

	addPattern(t, store, "golang_0001", "Strong keyword", "channel buffering strategies for pipelines", 0.9)
	addPattern(t, store, "golang_0002", "Strong semantic", "unrelated words entirely here", 0.1)

	now := time.Now()
	cache.Set("golang_0001", []float64{0, 1}, []byte("a"), now) // semantic 0
	cache.Set("golang_0002", []float64{1, 0}, []byte("b"), now) // semantic 1

	r, err := NewRanker(store, cache, &fixedEmbedder{vector: []float64{1, 0}}, RankerConfig{
		SemanticWeight:    0.5,
		KeywordWeight:     0.5,
		SemanticThreshold: 0.5,
		KeywordThreshold:  0.2,
	})
	require.NoError(t, err)

	results, err := r.Search(ctx, "channel buffering pipelines", 10)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, res := range results {
		ids[res.Pattern.ID] = true
	}
	// golang_0001 survives on keyword alone, golang_0002 on semantic alone.
	assert.True(t, ids["golang_0001"], "strong keyword score must survive a weak semantic score")
	assert.True(t, ids["golang_0002"], "strong semantic score must survive a weak keyword score")
}

func TestKeywordOnlyFallbackWhenEmbedderUnavailable(t *testing.T) {
	store := newEngineStore(t)
	cache := newEngineCache(t)
	ctx := context.Background()

	addPattern(t, store, "golang_0001", "Retry with backoff", "exponential backoff between retries", 0.7)
	cache.Set("golang_0001", []float64{1, 0}, []byte("a"), time.Now())

	r, err := NewRanker(store, cache, &fixedEmbedder{unavailable: true}, RankerConfig{
		SemanticWeight: 0.9,
		KeywordWeight:  0.1,
	})
	require.NoError(t, err)

	results, err := r.Search(ctx, "exponential backoff retries", 10)
	require.NoError(t, err, "an unavailable embedder must degrade, not fail the search")
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Zero(t, results[0].SemanticScore)
}
