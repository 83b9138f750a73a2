// Package storage provides composable storage interfaces for the ExFrame
// pattern knowledge store.
//
// Two backends implement PatternStore: an embedded SQLite store (FTS5 text
// index, single-writer WAL connection) and a PostgreSQL store (tsvector text
// index, optional pgvector similarity). The backend is selected at startup
// via a configuration enum; there is no runtime plugin loading.
package storage

import (
	"context"

	"github.com/orangelightening/exframe/pkg/types"
)

// PatternStore provides durable, queryable storage of Pattern records.
//
// Implementations must keep their full-text index transactionally consistent
// with the pattern rows: a crash between a row mutation and the index update
// must not leave them disagreeing. The SQLite backend uses same-transaction
// triggers; the PostgreSQL backend uses a generated tsvector column.
//
// All mutating operations are serialized through a single writer; read
// operations run concurrently against snapshot-isolated state (SQLite WAL,
// PostgreSQL MVCC). Snapshot-isolated reads are a required engine
// capability, not an optimization.
type PatternStore interface {
	// Add inserts a new pattern. An empty ID is assigned via NextID using
	// the pattern's domain. Created/updated timestamps are stamped and the
	// text index entry is written in the same transaction.
	// Returns ErrDuplicateID if the ID already exists.
	Add(ctx context.Context, p *types.Pattern) error

	// Get returns the full pattern or ErrNotFound.
	Get(ctx context.Context, id string) (*types.Pattern, error)

	// Update merges the partial update into the existing row, re-stamps
	// updated_at, and re-syncs the text index entry. Returns ErrNotFound
	// if the ID is absent and ErrCertifiedImmutable when a non-privileged
	// update touches protected fields of a certified pattern.
	Update(ctx context.Context, id string, upd PatternUpdate) (*types.Pattern, error)

	// Delete removes the row and its text index entry together.
	// Returns ErrNotFound if the ID is absent.
	Delete(ctx context.Context, id string) error

	// SearchText tokenizes the query into significant terms, ranks matching
	// rows by index relevance, applies optional category/status filters,
	// and returns up to Limit rows with a blended relevance figure.
	// When no significant terms remain it falls back to the most recently
	// created rows.
	SearchText(ctx context.Context, opts SearchOptions) ([]TextMatch, error)

	// List returns patterns with pagination and filtering, newest first.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Pattern], error)

	// GetByCategory returns all patterns with the given pattern_type.
	GetByCategory(ctx context.Context, category string) ([]types.Pattern, error)

	// ListCategories returns the distinct pattern_type values in use.
	ListCategories(ctx context.Context) ([]string, error)

	// FindByOriginQuery returns the pattern whose origin_query matches, or
	// ErrNotFound. Used by the re-ingestion dedup guard.
	FindByOriginQuery(ctx context.Context, originQuery string) (*types.Pattern, error)

	// NextID returns the next unused ID for the domain, formatted
	// <domain>_NNNN with the max existing numeric suffix plus one.
	// IDs are never reused.
	NextID(ctx context.Context, domain string) (string, error)

	// IncrementUsage atomically increments the usage counter and stamps
	// last_used_at. Returns ErrNotFound if the ID is absent.
	IncrementUsage(ctx context.Context, id string) error

	// UpdateConfidence stores a new confidence value (clamped to [0, 1])
	// and re-stamps updated_at. Returns ErrNotFound if the ID is absent.
	UpdateConfidence(ctx context.Context, id string, confidence float64) error

	// Count returns the number of stored patterns.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// EmbeddingStore is an optional capability for backends that keep pattern
// embeddings server-side instead of in the local vector cache. The
// PostgreSQL backend implements it when the pgvector extension is present;
// the SQLite backend does not (it pairs with the vectorcache package).
type EmbeddingStore interface {
	// SetEmbedding stores or replaces the embedding for a pattern.
	SetEmbedding(ctx context.Context, patternID, model string, vector []float64) error

	// DeleteEmbedding removes a pattern's embedding. Missing is not an error.
	DeleteEmbedding(ctx context.Context, patternID string) error

	// SearchVector returns up to limit patterns ordered by cosine
	// similarity to the query vector. Backends without vector support
	// return ErrStorageUnavailable.
	SearchVector(ctx context.Context, query []float64, limit int) ([]VectorMatch, error)
}
