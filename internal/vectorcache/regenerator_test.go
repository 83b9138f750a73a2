package vectorcache

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orangelightening/exframe/internal/embed"
)

// countingEmbedder returns a fixed vector and counts calls.
type countingEmbedder struct {
	calls atomic.Int64
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return []float64{float64(len(text)), 1}, nil
}

func (e *countingEmbedder) Model() string { return "test-model" }

func testDocs() []Document {
	now := time.Now()
	return []Document{
		{ID: "a.md", Content: []byte("alpha content"), Modified: now},
		{ID: "b.md", Content: []byte("beta content"), Modified: now},
		{ID: "c.md", Content: []byte("gamma content"), Modified: now},
	}
}

func TestRegenerateEmbedsOnlyStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.json")
	cache := New(path, "test-model")
	docs := testDocs()

	// Pre-embed one document so it is already fresh.
	cache.Set("a.md", []float64{9, 9}, docs[0].Content, docs[0].Modified)

	emb := &countingEmbedder{}
	r := NewRegenerator(cache, emb, RegeneratorConfig{Workers: 2, RequestsPerSecond: 1000})

	stats, err := r.Regenerate(context.Background(), docs)
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if stats.Scanned != 3 || stats.Stale != 2 || stats.Regenerated != 2 {
		t.Errorf("stats = %+v, want scanned 3, stale 2, regenerated 2", stats)
	}
	if got := emb.calls.Load(); got != 2 {
		t.Errorf("embedder calls = %d, want 2", got)
	}

	// Second run over unchanged content does nothing.
	stats, err = r.Regenerate(context.Background(), docs)
	if err != nil {
		t.Fatalf("second Regenerate failed: %v", err)
	}
	if stats.Stale != 0 || stats.Regenerated != 0 {
		t.Errorf("second run stats = %+v, want nothing stale", stats)
	}
}

func TestRegeneratePrunesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.json")
	cache := New(path, "test-model")
	cache.Set("deleted.md", []float64{1}, []byte("old"), time.Now())

	r := NewRegenerator(cache, &countingEmbedder{}, RegeneratorConfig{Workers: 2, RequestsPerSecond: 1000})
	stats, err := r.Regenerate(context.Background(), testDocs())
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if stats.Removed != 1 {
		t.Errorf("Removed = %d, want 1", stats.Removed)
	}

	// The blob was saved once at the end of the batch.
	reloaded := New(path, "test-model")
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.Count() != 3 {
		t.Errorf("persisted count = %d, want 3", reloaded.Count())
	}
	if _, ok := reloaded.Get("deleted.md"); ok {
		t.Error("pruned entry survived the save")
	}
}

func TestRegenerateAbortsWhenEmbedderUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.json")
	cache := New(path, "test-model")

	emb := &countingEmbedder{err: embed.ErrUnavailable}
	r := NewRegenerator(cache, emb, RegeneratorConfig{Workers: 1, RequestsPerSecond: 1000})

	stats, err := r.Regenerate(context.Background(), testDocs())
	if !errors.Is(err, embed.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if stats.Regenerated != 0 {
		t.Errorf("Regenerated = %d, want 0", stats.Regenerated)
	}
	// The batch aborts early instead of calling the dead backend for
	// every document.
	if got := emb.calls.Load(); got >= 3 {
		t.Errorf("embedder calls = %d, want fewer than the full worklist", got)
	}
}
