// Package vectorcache persists embedding vectors keyed by content identifier
// so unchanged content is never re-embedded. The cache is one JSON blob,
// bulk-loaded and bulk-saved; staleness is decided by content hash, with
// size and modification time carried as advisory signals only.
package vectorcache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is one cached embedding with its staleness metadata.
type Entry struct {
	Vector []float64 `json:"vector"`

	// Hash is a sha256 digest of the exact bytes last embedded. It is the
	// authoritative staleness signal.
	Hash string `json:"hash"`

	// Size and Modified are advisory; a size+mtime match skips hashing.
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
}

// Metadata is the persisted blob header.
type Metadata struct {
	Model         string    `json:"model"`
	GeneratedAt   time.Time `json:"generated_at"`
	DocumentCount int       `json:"document_count"`
}

// cacheFile is the on-disk layout.
type cacheFile struct {
	Metadata  Metadata         `json:"metadata"`
	Documents map[string]Entry `json:"documents"`
}

// Match is one vector search result.
type Match struct {
	ID    string
	Score float64
}

// Cache is an in-memory embedding cache backed by a single JSON file.
// Searches take a read lock, so they run concurrently with each other and
// are never blocked by a long regeneration batch (which mutates entries one
// Set at a time and persists once at the end).
type Cache struct {
	path  string
	model string

	mu        sync.RWMutex
	documents map[string]Entry
	generated time.Time
}

// New creates an empty cache that will persist to path. Call Load to pick up
// a previously saved blob.
func New(path, model string) *Cache {
	return &Cache{
		path:      path,
		model:     model,
		documents: make(map[string]Entry),
	}
}

// Load reads the persisted blob. A missing file leaves the cache empty; a
// blob generated by a different embedding model is discarded, since its
// vectors are not comparable to fresh ones.
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vectorcache: failed to read %s: %w", c.path, err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("vectorcache: failed to parse %s: %w", c.path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if f.Metadata.Model != "" && f.Metadata.Model != c.model {
		c.documents = make(map[string]Entry)
		return nil
	}

	if f.Documents == nil {
		f.Documents = make(map[string]Entry)
	}
	c.documents = f.Documents
	c.generated = f.Metadata.GeneratedAt
	return nil
}

// Save writes the full blob atomically (temp file + rename).
func (c *Cache) Save() error {
	c.mu.Lock()
	c.generated = time.Now().UTC()
	f := cacheFile{
		Metadata: Metadata{
			Model:         c.model,
			GeneratedAt:   c.generated,
			DocumentCount: len(c.documents),
		},
		Documents: c.documents,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("vectorcache: failed to marshal cache: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("vectorcache: failed to create %s: %w", dir, err)
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("vectorcache: failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("vectorcache: failed to replace %s: %w", c.path, err)
	}
	return nil
}

// HashContent returns the sha256 hex digest used for staleness checks.
func HashContent(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// IsStale reports whether the content needs re-embedding: true when no entry
// exists for the id or the cached hash differs from the current content's
// hash. Nil content means the underlying content no longer exists; that is a
// deletion candidate, not a regeneration target, so it reports false.
func (c *Cache) IsStale(id string, content []byte) bool {
	if content == nil {
		return false
	}

	c.mu.RLock()
	entry, ok := c.documents[id]
	c.mu.RUnlock()

	if !ok {
		return true
	}
	return entry.Hash != HashContent(content)
}

// IsStaleFile is the file-path form of IsStale. The stored size and mtime
// are advisory metadata only; the content hash decides staleness, so a
// same-size edit that preserves the mtime is still detected. A missing file
// reports false, like nil content.
func (c *Cache) IsStaleFile(id, path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("vectorcache: failed to stat %s: %w", path, err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("vectorcache: failed to read %s: %w", path, err)
	}
	return c.IsStale(id, content), nil
}

// FindStale returns the ids from the given content set that need
// re-embedding, sorted for deterministic worklists.
func (c *Cache) FindStale(contents map[string][]byte) []string {
	var stale []string
	for id, content := range contents {
		if c.IsStale(id, content) {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// Set stores a vector along with the content's hash, size, and the given
// modification time. An existing entry for the id is replaced in place.
func (c *Cache) Set(id string, vector []float64, content []byte, modified time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.documents[id] = Entry{
		Vector:   vector,
		Hash:     HashContent(content),
		Size:     int64(len(content)),
		Modified: unixFloat(modified),
	}
}

// Get returns the cached vector for an id.
func (c *Cache) Get(id string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.documents[id]
	if !ok {
		return nil, false
	}
	return entry.Vector, true
}

// Remove deletes a single entry. Missing is not an error.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.documents, id)
}

// RemoveMissing prunes entries whose id is not in the valid set and returns
// how many were removed. Calling it again with the same set removes nothing.
func (c *Cache) RemoveMissing(valid map[string]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id := range c.documents {
		if _, ok := valid[id]; !ok {
			delete(c.documents, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of cached entries.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.documents)
}

// Model returns the embedding model the cached vectors belong to.
func (c *Cache) Model() string {
	return c.model
}

// Search computes cosine similarity between the query vector and every
// cached vector, filters by minSimilarity, and returns the topK matches
// sorted descending by score.
func (c *Cache) Search(query []float64, topK int, minSimilarity float64) []Match {
	if len(query) == 0 || topK < 1 {
		return nil
	}

	c.mu.RLock()
	matches := make([]Match, 0, len(c.documents))
	for id, entry := range c.documents {
		score := cosineSimilarity(query, entry.Vector)
		if score < minSimilarity {
			continue
		}
		matches = append(matches, Match{ID: id, Score: score})
	}
	c.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Mismatched dimensions or zero vectors yield 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// unixFloat converts a time to fractional unix seconds, the persisted
// modification-time representation.
func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
