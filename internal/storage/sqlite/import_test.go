package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestImportLegacyEnvelope(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.json")
	content := `{"patterns": [
		{"id": "golang_0001", "domain_id": "golang", "name": "First", "confidence": 0.6},
		{"id": "golang_0002", "domain_id": "golang", "name": "Second", "confidence": 0.4}
	]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write legacy file: %v", err)
	}

	s, err := NewPatternStore(":memory:", path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	count, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("imported count = %d, want 2", count)
	}

	got, err := s.Get(context.Background(), "golang_0001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "First" {
		t.Errorf("Name = %q, want First", got.Name)
	}
}

func TestImportLegacyBareArray(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.json")
	content := `[{"id": "py_0001", "domain_id": "py", "name": "Bare array form"}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write legacy file: %v", err)
	}

	s, err := NewPatternStore(":memory:", path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	count, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("imported count = %d, want 1", count)
	}
}

func TestImportCorruptFileBacksUpAndContinues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.json")
	if err := os.WriteFile(path, []byte(`{not json at all`), 0o644); err != nil {
		t.Fatalf("failed to write legacy file: %v", err)
	}

	s, err := NewPatternStore(":memory:", path)
	if err != nil {
		t.Fatalf("corrupt legacy file aborted startup: %v", err)
	}
	defer s.Close()

	count, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after corrupt import", count)
	}

	// The original file must be moved aside, not left in place.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt legacy file still present at original path")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("backup entries = %d, want 1", len(entries))
	}
}

func TestImportSkipsWhenStoreNotEmpty(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "store.db")
	legacyPath := filepath.Join(dir, "patterns.json")
	content := `[{"id": "golang_0009", "domain_id": "golang", "name": "Late arrival"}]`

	s, err := NewPatternStore(dbPath, "")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Add(context.Background(), testPattern("golang_0001")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := os.WriteFile(legacyPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write legacy file: %v", err)
	}

	s, err = NewPatternStore(dbPath, legacyPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	count, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (no re-import into a populated store)", count)
	}
}

func TestImportMissingFileIsNoop(t *testing.T) {
	s, err := NewPatternStore(":memory:", filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing legacy file aborted startup: %v", err)
	}
	defer s.Close()
}
