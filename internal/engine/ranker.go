// Package engine implements the retrieval and lifecycle layers above the
// pattern store: the hybrid ranker, the feedback/lifecycle controller, and
// the near-duplicate auditor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/orangelightening/exframe/internal/embed"
	"github.com/orangelightening/exframe/internal/storage"
	"github.com/orangelightening/exframe/internal/vectorcache"
	"github.com/orangelightening/exframe/pkg/types"
)

// RankedResult is one hybrid search result with its score breakdown.
type RankedResult struct {
	Pattern types.Pattern

	// Score is the combined hybrid score in [0.0, 1.0]. Exact matches are
	// forced to 1.0.
	Score float64

	// KeywordScore is the raw keyword relevance before normalization.
	KeywordScore float64

	// SemanticScore is the cosine similarity from the vector cache, 0 when
	// no vector is cached for the pattern.
	SemanticScore float64

	// Exact marks results promoted by SearchExact.
	Exact bool
}

// RankerConfig configures the hybrid ranker.
type RankerConfig struct {
	// SemanticWeight and KeywordWeight are non-negative and re-normalized
	// to sum to 1 before use. Defaults: 0.6 semantic, 0.4 keyword.
	SemanticWeight float64
	KeywordWeight  float64

	// SemanticThreshold and KeywordThreshold are independent minimum
	// scores. A candidate is dropped only when it is below BOTH.
	SemanticThreshold float64
	KeywordThreshold  float64
}

// Ranker merges keyword relevance from the pattern store with semantic
// similarity from the vector cache into one ranked list per query. When the
// embedder is unavailable it degrades to keyword-only ranking instead of
// failing the search.
type Ranker struct {
	store    storage.PatternStore
	cache    *vectorcache.Cache
	embedder embed.Embedder

	mu                sync.RWMutex
	semanticWeight    float64
	keywordWeight     float64
	semanticThreshold float64
	keywordThreshold  float64
}

// NewRanker creates a hybrid ranker. The embedder may be nil, which pins the
// ranker to keyword-only mode.
func NewRanker(store storage.PatternStore, cache *vectorcache.Cache, embedder embed.Embedder, config RankerConfig) (*Ranker, error) {
	if config.SemanticWeight == 0 && config.KeywordWeight == 0 {
		config.SemanticWeight = 0.6
		config.KeywordWeight = 0.4
	}

	sw, kw, err := normalizeWeights(config.SemanticWeight, config.KeywordWeight)
	if err != nil {
		return nil, err
	}

	return &Ranker{
		store:             store,
		cache:             cache,
		embedder:          embedder,
		semanticWeight:    sw,
		keywordWeight:     kw,
		semanticThreshold: config.SemanticThreshold,
		keywordThreshold:  config.KeywordThreshold,
	}, nil
}

// AdjustWeights changes the semantic/keyword blend at runtime. Weights must
// be non-negative with a positive sum; they are re-normalized to sum to 1.
func (r *Ranker) AdjustWeights(semantic, keyword float64) error {
	sw, kw, err := normalizeWeights(semantic, keyword)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.semanticWeight = sw
	r.keywordWeight = kw
	r.mu.Unlock()
	return nil
}

// Weights returns the current normalized (semantic, keyword) weights.
func (r *Ranker) Weights() (semantic, keyword float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.semanticWeight, r.keywordWeight
}

// Search runs the hybrid ranking algorithm and returns the topK results.
func (r *Ranker) Search(ctx context.Context, query string, topK int) ([]RankedResult, error) {
	ranked, err := r.rank(ctx, query, topK, nil)
	if err != nil {
		return nil, err
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// SearchExact runs Search but forces the given pattern ids to combined
// score 1.0, placed before all other results in their original relative
// order. The remaining candidates are ranked normally and appended.
func (r *Ranker) SearchExact(ctx context.Context, query string, exactIDs []string, topK int) ([]RankedResult, error) {
	exact := make(map[string]int, len(exactIDs))
	for i, id := range exactIDs {
		exact[id] = i
	}

	ranked, err := r.rank(ctx, query, topK, exact)
	if err != nil {
		return nil, err
	}

	var head, tail []RankedResult
	for _, res := range ranked {
		if res.Exact {
			head = append(head, res)
		} else {
			tail = append(tail, res)
		}
	}
	sort.SliceStable(head, func(i, j int) bool {
		return exact[head[i].Pattern.ID] < exact[head[j].Pattern.ID]
	})

	// Exact matches not surfaced by the candidate sweep are still owed a
	// top slot; fetch them directly.
	if len(head) < len(exactIDs) {
		present := make(map[string]bool, len(head))
		for _, res := range head {
			present[res.Pattern.ID] = true
		}
		var missing []RankedResult
		for _, id := range exactIDs {
			if present[id] {
				continue
			}
			p, err := r.store.Get(ctx, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return nil, err
			}
			missing = append(missing, RankedResult{Pattern: *p, Score: 1.0, Exact: true})
		}
		head = mergeExactOrder(head, missing, exact)
	}

	ranked = append(head, tail...)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// rank produces the scored candidate list, unsorted exact matches included.
func (r *Ranker) rank(ctx context.Context, query string, topK int, exact map[string]int) ([]RankedResult, error) {
	if topK < 1 {
		topK = 10
	}

	r.mu.RLock()
	semanticWeight := r.semanticWeight
	keywordWeight := r.keywordWeight
	semanticThreshold := r.semanticThreshold
	keywordThreshold := r.keywordThreshold
	r.mu.RUnlock()

	// Over-fetch so the semantic blend can promote rows keyword ranking
	// alone would cut.
	matches, err := r.store.SearchText(ctx, storage.SearchOptions{
		Query: query,
		Limit: topK * 3,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: keyword search failed: %w", err)
	}

	queryVector := r.queryVector(ctx, query)
	semanticAvailable := len(queryVector) > 0
	if !semanticAvailable {
		// Keyword-only fallback: semantic weight effectively 0.
		semanticWeight, keywordWeight = 0, 1
	}

	type candidate struct {
		pattern  types.Pattern
		keyword  float64
		semantic float64
	}
	candidates := make(map[string]*candidate, len(matches))
	for _, m := range matches {
		candidates[m.Pattern.ID] = &candidate{pattern: m.Pattern, keyword: m.Relevance}
	}

	if semanticAvailable {
		for _, m := range r.cache.Search(queryVector, topK*3, 0) {
			if c, ok := candidates[m.ID]; ok {
				c.semantic = m.Score
				continue
			}
			// Vector-only candidates: cached content ids that are not
			// pattern ids resolve to nothing and are skipped.
			p, err := r.store.Get(ctx, m.ID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("engine: candidate lookup failed: %w", err)
			}
			candidates[m.ID] = &candidate{pattern: *p, semantic: m.Score}
		}
	}

	maxKeyword := 0.0
	for _, c := range candidates {
		if c.keyword > maxKeyword {
			maxKeyword = c.keyword
		}
	}

	var ranked []RankedResult
	for id, c := range candidates {
		_, isExact := exact[id]

		// Dropped only when weak on both axes; a strong score on either
		// is enough to survive.
		if !isExact && c.keyword < keywordThreshold && c.semantic < semanticThreshold {
			continue
		}

		normalizedKeyword := 0.0
		if maxKeyword > 0 {
			normalizedKeyword = c.keyword / maxKeyword
		}
		score := c.semantic*semanticWeight + normalizedKeyword*keywordWeight
		if isExact {
			score = 1.0
		}

		ranked = append(ranked, RankedResult{
			Pattern:       c.pattern,
			Score:         score,
			KeywordScore:  c.keyword,
			SemanticScore: c.semantic,
			Exact:         isExact,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Pattern.Confidence > ranked[j].Pattern.Confidence
	})
	return ranked, nil
}

// queryVector embeds the query, returning nil when semantic scoring is
// unavailable for any reason.
func (r *Ranker) queryVector(ctx context.Context, query string) []float64 {
	if r.embedder == nil || r.cache == nil || r.cache.Count() == 0 {
		return nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		if !errors.Is(err, embed.ErrUnavailable) {
			log.Printf("engine: query embedding failed (keyword-only fallback): %v", err)
		}
		return nil
	}
	return vec
}

// mergeExactOrder interleaves two already-exact result lists back into the
// caller-supplied order.
func mergeExactOrder(a, b []RankedResult, order map[string]int) []RankedResult {
	merged := append(append([]RankedResult{}, a...), b...)
	sort.SliceStable(merged, func(i, j int) bool {
		return order[merged[i].Pattern.ID] < order[merged[j].Pattern.ID]
	})
	return merged
}

// normalizeWeights validates and re-normalizes a weight pair to sum to 1.
func normalizeWeights(semantic, keyword float64) (float64, float64, error) {
	if semantic < 0 || keyword < 0 {
		return 0, 0, fmt.Errorf("engine: weights must be non-negative, got semantic=%v keyword=%v", semantic, keyword)
	}
	sum := semantic + keyword
	if sum == 0 || math.IsNaN(sum) {
		return 0, 0, fmt.Errorf("engine: weights must have a positive sum")
	}
	return semantic / sum, keyword / sum, nil
}
