package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orangelightening/exframe/internal/storage"
	"github.com/orangelightening/exframe/internal/storage/postgres"
	"github.com/orangelightening/exframe/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh PatternStore connected to the test database
// with an empty patterns table.
func newTestStore(t *testing.T) *postgres.PatternStore {
	t.Helper()

	store, err := postgres.NewPatternStore(postgresTestDSN(t))
	require.NoError(t, err, "NewPatternStore should succeed")

	require.NoError(t, store.TruncateForTest(context.Background()), "truncate patterns")

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// newTestPattern builds a minimal valid Pattern for use in tests.
func newTestPattern(id string) *types.Pattern {
	return &types.Pattern{
		ID:          id,
		DomainID:    "golang",
		PatternType: "error-handling",
		Name:        "Wrap errors with context",
		Problem:     "Callers cannot tell where an error came from",
		Solution:    "Wrap with fmt.Errorf and the %w verb",
		Description: "Error wrapping keeps errors.Is and errors.As working",
		Confidence:  0.5,
		OriginQuery: "how to wrap errors in go",
	}
}

func TestAdd_NilPattern(t *testing.T) {
	store := newTestStore(t)
	err := store.Add(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestAdd_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := newTestPattern("golang_0001")
	p.Tags = []string{"errors", "idioms"}
	require.NoError(t, store.Add(ctx, p))

	got, err := store.Get(ctx, "golang_0001")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, types.StatusCandidate, got.Status)
	assert.Equal(t, []string{"errors", "idioms"}, got.Tags)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestAdd_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestPattern("golang_0001")))
	err := store.Add(ctx, newTestPattern("golang_0001"))
	assert.ErrorIs(t, err, storage.ErrDuplicateID)
}

func TestUpdate_CertifiedProtected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := newTestPattern("golang_0001")
	p.Status = types.StatusCertified
	require.NoError(t, store.Add(ctx, p))

	name := "changed"
	_, err := store.Update(ctx, "golang_0001", storage.PatternUpdate{Name: &name})
	assert.ErrorIs(t, err, storage.ErrCertifiedImmutable)

	_, err = store.Update(ctx, "golang_0001", storage.PatternUpdate{Name: &name, Privileged: true})
	assert.NoError(t, err)
}

func TestSearchText_RanksAndFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newTestPattern("golang_0001")
	a.Name = "Use channels for goroutine coordination"
	a.Problem = "Goroutines need to signal completion"
	a.Solution = "Close a done channel to broadcast shutdown"
	require.NoError(t, store.Add(ctx, a))
	require.NoError(t, store.Add(ctx, newTestPattern("golang_0002")))

	matches, err := store.SearchText(ctx, storage.SearchOptions{Query: "goroutine channel shutdown"})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "golang_0001", matches[0].Pattern.ID)
	assert.Greater(t, matches[0].Relevance, 0.0)

	matches, err = store.SearchText(ctx, storage.SearchOptions{
		Query:  "wrap errors",
		Status: types.StatusCandidate,
	})
	require.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, types.StatusCandidate, m.Pattern.Status)
	}
}

func TestSearchText_EmptyQueryFallsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestPattern("golang_0001")))

	matches, err := store.SearchText(ctx, storage.SearchOptions{Query: "   "})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Zero(t, matches[0].Relevance)
}

func TestNextID_ServerSide(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestPattern("golang_0003")))

	id, err := store.NextID(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, "golang_0004", id)

	id, err = store.NextID(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, "python_0001", id)
}

func TestEmbeddings_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestPattern("golang_0001")))
	require.NoError(t, store.Add(ctx, newTestPattern("golang_0002")))

	err := store.SetEmbedding(ctx, "golang_0001", "nomic-embed-text", []float64{1, 0, 0})
	require.NoError(t, err)
	err = store.SetEmbedding(ctx, "golang_0002", "nomic-embed-text", []float64{0, 1, 0})
	require.NoError(t, err)

	matches, err := store.SearchVector(ctx, []float64{0.9, 0.1, 0}, 2)
	if err != nil {
		// Servers without pgvector report unavailability instead of an
		// empty result.
		assert.ErrorIs(t, err, storage.ErrStorageUnavailable)
		return
	}
	require.Len(t, matches, 2)
	assert.Equal(t, "golang_0001", matches[0].Pattern.ID)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)

	require.NoError(t, store.DeleteEmbedding(ctx, "golang_0001"))
	matches, err = store.SearchVector(ctx, []float64{0.9, 0.1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
