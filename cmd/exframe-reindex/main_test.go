package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/orangelightening/exframe/internal/storage/sqlite"
	"github.com/orangelightening/exframe/pkg/types"
)

func TestScanContentDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "guides")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	files := map[string]string{
		filepath.Join(dir, "intro.md"):     "retry with backoff",
		filepath.Join(sub, "pooling.txt"):  "connection pooling",
		filepath.Join(dir, "ignored.json"): `{"not": "text"}`,
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	docs, err := scanContentDir(dir)
	if err != nil {
		t.Fatalf("scanContentDir failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	ids := map[string]bool{}
	for _, doc := range docs {
		ids[doc.ID] = true
		if len(doc.Content) == 0 {
			t.Errorf("document %s has empty content", doc.ID)
		}
		if doc.Modified.IsZero() {
			t.Errorf("document %s has zero modified time", doc.ID)
		}
	}
	if !ids["intro.md"] || !ids["guides/pooling.txt"] {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestScanContentDirMissing(t *testing.T) {
	docs, err := scanContentDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("missing directory should not error: %v", err)
	}
	if docs != nil {
		t.Errorf("got %d documents, want none", len(docs))
	}
}

func TestCollectDocumentsFromStore(t *testing.T) {
	store, err := sqlite.NewPatternStore(":memory:", "")
	if err != nil {
		t.Fatalf("NewPatternStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, id := range []string{"golang_0001", "golang_0002"} {
		p := &types.Pattern{
			ID:          id,
			Name:        "Pattern " + id,
			DomainID:    "golang",
			Description: "worker pool sizing",
			Problem:     "unbounded goroutine growth",
			Solution:    "bounded semaphore pool",
			Confidence:  0.5,
		}
		if err := store.Add(ctx, p); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	docs, err := collectDocuments(ctx, store, "")
	if err != nil {
		t.Fatalf("collectDocuments failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	for _, doc := range docs {
		if len(doc.Content) == 0 {
			t.Errorf("pattern document %s has empty content", doc.ID)
		}
	}

	contents := staleContents(docs)
	if len(contents) != 2 {
		t.Errorf("staleContents has %d entries, want 2", len(contents))
	}
}
