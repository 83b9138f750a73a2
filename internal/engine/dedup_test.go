package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orangelightening/exframe/pkg/types"
)

func TestSimilarityRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
		tol  float64
	}{
		{"identical", "boil the water slowly", "boil the water slowly", 1.0, 0},
		{"both empty", "", "", 1.0, 0},
		{"one empty", "something", "", 0.0, 0},
		{"disjoint", "aaaa", "bbbb", 0.0, 0},
		{"mostly shared", "heat the water to one hundred degrees",
			"heat the water to one hundred degrees c", 0.97, 0.03},
	}

	for _, tt := range tests {
		got := SimilarityRatio(tt.a, tt.b)
		assert.InDelta(t, tt.want, got, tt.tol+1e-9, tt.name)
	}
}

func TestSimilarityRatioSymmetricBounds(t *testing.T) {
	a := "configure the linter before committing"
	b := "configure the formatter before committing"

	ab := SimilarityRatio(a, b)
	ba := SimilarityRatio(b, a)
	assert.InDelta(t, ab, ba, 1e-9)
	assert.Greater(t, ab, 0.0)
	assert.Less(t, ab, 1.0)
}

func TestAuditReportsNearDuplicates(t *testing.T) {
	store := newEngineStore(t)
	ctx := context.Background()

	base := "heat water in a kettle until it reaches a rolling boil, then pour it over the grounds slowly"
	require.NoError(t, store.Add(ctx, &types.Pattern{
		ID: "cooking_0001", DomainID: "cooking", Name: "Pour over", Description: base,
	}))
	require.NoError(t, store.Add(ctx, &types.Pattern{
		ID: "cooking_0002", DomainID: "cooking", Name: "Pour over v2",
		Description: base + " and wait",
	}))
	require.NoError(t, store.Add(ctx, &types.Pattern{
		ID: "golang_0001", DomainID: "golang", Name: "Unrelated",
		Description: "use context cancellation to stop worker goroutines cleanly",
	}))

	auditor := NewDuplicateAuditor(store, 0.9)
	report, err := auditor.Audit(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scanned)
	require.Len(t, report.Issues, 1)

	issue := report.Issues[0]
	assert.Equal(t, "warning", issue.Severity)
	assert.ElementsMatch(t, []string{"cooking_0001", "cooking_0002"}, issue.PatternIDs)
	assert.Greater(t, issue.Similarity, 0.9)
	assert.NotEmpty(t, issue.ID)

	// Duplicates are a warning, never a removal: both stay stored.
	for _, id := range issue.PatternIDs {
		_, err := store.Get(ctx, id)
		assert.NoError(t, err)
	}
}

func TestCheckNewFlagsDuplicateBeforeInsert(t *testing.T) {
	store := newEngineStore(t)
	ctx := context.Background()

	desc := "wrap every outbound call in a timeout context so a slow dependency cannot hang the request"
	require.NoError(t, store.Add(ctx, &types.Pattern{
		ID: "golang_0001", DomainID: "golang", Description: desc,
	}))

	auditor := NewDuplicateAuditor(store, 0.9)

	issues, err := auditor.CheckNew(ctx, &types.Pattern{
		DomainID:    "golang",
		Description: desc + " every time",
	})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "warning", issues[0].Severity)

	issues, err = auditor.CheckNew(ctx, &types.Pattern{
		DomainID:    "golang",
		Description: "emit structured audit events for every admin action",
	})
	require.NoError(t, err)
	assert.Empty(t, issues)
}
