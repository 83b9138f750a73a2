// Command exframe-reindex rebuilds the embedding vector cache.
//
// It assembles the document worklist from two sources: every pattern in the
// configured store (embedded by its combined searchable text) and, when a
// content directory exists, the text files beneath it. Stale entries are
// detected by content hash, regenerated through the rate-limited embedder
// pool, and the cache blob is written once at the end of the batch so
// concurrent searches keep reading the last-saved snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/orangelightening/exframe/internal/config"
	"github.com/orangelightening/exframe/internal/embed"
	"github.com/orangelightening/exframe/internal/storage"
	"github.com/orangelightening/exframe/internal/storage/postgres"
	"github.com/orangelightening/exframe/internal/storage/sqlite"
	"github.com/orangelightening/exframe/internal/vectorcache"
)

var (
	configPath = flag.String("config", "", "Path to exframe.yaml (optional, env vars apply either way)")
	contentDir = flag.String("content-dir", "", "Content directory to scan (overrides config)")
	cachePath  = flag.String("cache", "", "Vector cache file path (overrides config)")
	workers    = flag.Int("workers", 0, "Embedding worker count (overrides config)")
	rps        = flag.Float64("rps", 0, "Embedding requests per second (overrides config)")
	dryRun     = flag.Bool("dry-run", false, "Report the stale worklist without embedding anything")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *contentDir != "" {
		cfg.Reindex.ContentDir = *contentDir
	}
	if *cachePath != "" {
		cfg.Storage.VectorCachePath = *cachePath
	}
	if *workers > 0 {
		cfg.Reindex.Workers = *workers
	}
	if *rps > 0 {
		cfg.Reindex.RequestsPerSecond = *rps
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Storage.Backend, err)
	}
	defer store.Close()

	cache := vectorcache.New(cfg.Storage.VectorCachePath, cfg.Embedding.Model)
	if err := cache.Load(); err != nil {
		log.Fatalf("Failed to load vector cache: %v", err)
	}

	embedder := embed.NewOllamaClient(embed.OllamaConfig{
		BaseURL: cfg.Embedding.OllamaURL,
		Model:   cfg.Embedding.Model,
		Timeout: time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := collectDocuments(ctx, store, cfg.Reindex.ContentDir)
	if err != nil {
		log.Fatalf("Failed to collect documents: %v", err)
	}
	log.Printf("Collected %d documents (%d cached vectors)", len(docs), cache.Count())

	if *dryRun {
		stale := cache.FindStale(staleContents(docs))
		log.Printf("Dry run: %d stale of %d documents", len(stale), len(docs))
		for _, id := range stale {
			log.Printf("  stale: %s", id)
		}
		return
	}

	if err := embedder.HealthCheck(ctx); err != nil {
		log.Fatalf("Embedding backend unavailable at %s: %v", cfg.Embedding.OllamaURL, err)
	}

	regen := vectorcache.NewRegenerator(cache, embedder, vectorcache.RegeneratorConfig{
		Workers:           cfg.Reindex.Workers,
		RequestsPerSecond: cfg.Reindex.RequestsPerSecond,
	})

	start := time.Now()
	stats, err := regen.Regenerate(ctx, docs)
	if err != nil {
		// Partial progress is already saved; a rerun resumes from there.
		log.Fatalf("Regeneration aborted after %s (regenerated %d, failed %d): %v",
			time.Since(start).Round(time.Millisecond), stats.Regenerated, stats.Failed, err)
	}

	log.Printf("Reindex complete in %s: scanned %d, stale %d, regenerated %d, removed %d, failed %d",
		time.Since(start).Round(time.Millisecond),
		stats.Scanned, stats.Stale, stats.Regenerated, stats.Removed, stats.Failed)
}

// openStore creates the configured storage backend.
func openStore(cfg *config.Config) (storage.PatternStore, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.NewPatternStore(cfg.Storage.PostgresDSN)
	default:
		return sqlite.NewPatternStore(cfg.Storage.SQLitePath, cfg.Storage.LegacyImportPath)
	}
}

// collectDocuments builds the embedding worklist: every stored pattern plus
// any text files under contentDir. A missing content directory is not an
// error; the pattern store alone is a valid worklist.
func collectDocuments(ctx context.Context, store storage.PatternStore, contentDir string) ([]vectorcache.Document, error) {
	var docs []vectorcache.Document

	opts := storage.ListOptions{Page: 1, Limit: 500}
	for {
		page, err := store.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, p := range page.Items {
			docs = append(docs, vectorcache.Document{
				ID:       p.ID,
				Content:  []byte(p.CombinedContent()),
				Modified: p.UpdatedAt,
			})
		}
		if !page.HasMore {
			break
		}
		opts.Page++
	}

	fileDocs, err := scanContentDir(contentDir)
	if err != nil {
		return nil, err
	}
	return append(docs, fileDocs...), nil
}

// scanContentDir reads .md and .txt files under dir, keyed by their
// slash-separated path relative to dir.
func scanContentDir(dir string) ([]vectorcache.Document, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var docs []vectorcache.Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		docs = append(docs, vectorcache.Document{
			ID:       filepath.ToSlash(rel),
			Content:  content,
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// staleContents projects documents into the content map FindStale expects.
func staleContents(docs []vectorcache.Document) map[string][]byte {
	contents := make(map[string][]byte, len(docs))
	for _, doc := range docs {
		contents[doc.ID] = doc.Content
	}
	return contents
}
