package vectorcache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/orangelightening/exframe/internal/embed"
)

// Document is one content unit to keep embedded.
type Document struct {
	ID       string
	Content  []byte
	Modified time.Time
}

// Stats summarizes one regeneration batch.
type Stats struct {
	Scanned     int
	Stale       int
	Regenerated int
	Removed     int
	Failed      int
}

// Regenerator rebuilds stale cache entries through an embedder. Embedding
// calls run on a bounded worker pool behind a rate limiter; results
// accumulate in memory and the blob is saved once at the end of the batch,
// so concurrent searches against the last-saved snapshot are never blocked.
type Regenerator struct {
	cache    *Cache
	embedder embed.Embedder
	limiter  *rate.Limiter
	workers  int
}

// RegeneratorConfig configures a Regenerator.
type RegeneratorConfig struct {
	// Workers is the embedding concurrency bound (default 4).
	Workers int

	// RequestsPerSecond throttles embedding calls (default 10).
	RequestsPerSecond float64
}

// NewRegenerator creates a Regenerator over the given cache and embedder.
func NewRegenerator(cache *Cache, embedder embed.Embedder, config RegeneratorConfig) *Regenerator {
	if config.Workers < 1 {
		config.Workers = 4
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10
	}

	return &Regenerator{
		cache:    cache,
		embedder: embedder,
		limiter:  rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		workers:  config.Workers,
	}
}

// Regenerate embeds every stale document, prunes entries for documents no
// longer present, and persists the blob once. An unavailable embedder aborts
// the remaining worklist and surfaces embed.ErrUnavailable after the partial
// results are saved, so a later run resumes where this one stopped.
func (r *Regenerator) Regenerate(ctx context.Context, docs []Document) (Stats, error) {
	stats := Stats{Scanned: len(docs)}

	contents := make(map[string][]byte, len(docs))
	modified := make(map[string]time.Time, len(docs))
	valid := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		contents[d.ID] = d.Content
		modified[d.ID] = d.Modified
		valid[d.ID] = struct{}{}
	}

	stale := r.cache.FindStale(contents)
	stats.Stale = len(stale)

	var regenerated, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, id := range stale {
		id := id
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return err
			}

			vector, err := r.embedder.Embed(gctx, string(contents[id]))
			if err != nil {
				// An unavailable backend will fail every remaining call;
				// stop the batch instead of burning through the worklist.
				if errors.Is(err, embed.ErrUnavailable) {
					return err
				}
				failed.Add(1)
				log.Printf("vectorcache: failed to embed %s: %v", id, err)
				return nil
			}

			r.cache.Set(id, vector, contents[id], modified[id])
			regenerated.Add(1)
			return nil
		})
	}

	batchErr := g.Wait()

	stats.Regenerated = int(regenerated.Load())
	stats.Failed = int(failed.Load())
	stats.Removed = r.cache.RemoveMissing(valid)

	if err := r.cache.Save(); err != nil {
		return stats, err
	}

	if batchErr != nil {
		return stats, fmt.Errorf("vectorcache: regeneration aborted: %w", batchErr)
	}
	return stats, nil
}
