package storage

import (
	"errors"
	"time"

	"github.com/orangelightening/exframe/pkg/types"
)

var (
	// ErrNotFound indicates that the requested pattern was not found.
	ErrNotFound = errors.New("pattern not found")

	// ErrDuplicateID indicates that a pattern with the same ID already exists.
	// Callers decide whether to regenerate an ID and retry.
	ErrDuplicateID = errors.New("duplicate pattern id")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageUnavailable indicates an engine or connection level failure.
	// It is never swallowed into an empty result set.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrCertifiedImmutable indicates an attempt to modify a certified
	// pattern through a non-privileged path.
	ErrCertifiedImmutable = errors.New("certified pattern is immutable")
)

// Text search relevance blend: the normalized index rank contributes 70%,
// the pattern's stored confidence 30%.
const (
	TextRelevanceWeight = 0.7
	ConfidenceWeight    = 0.3
)

// TextMatch is one row returned by SearchText: the matched pattern plus its
// blended relevance figure and the raw index rank it was derived from.
type TextMatch struct {
	// Pattern is the matched record.
	Pattern types.Pattern

	// Relevance is the blended relevance in [0.0, 1.0]:
	// 0.7 * normalized index rank + 0.3 * stored confidence.
	Relevance float64

	// IndexRank is the raw full-text rank before normalization. Higher is
	// better regardless of backend (FTS5 bm25 ranks are negated on scan).
	IndexRank float64
}

// VectorMatch is one row returned by a server-side vector search.
type VectorMatch struct {
	// Pattern is the matched record.
	Pattern types.Pattern

	// Similarity is the cosine similarity to the query vector in [0.0, 1.0].
	Similarity float64
}

// SearchOptions configures SearchText.
type SearchOptions struct {
	// Query is the free-text query. Insignificant tokens (stop words,
	// tokens shorter than 3 runes) are discarded before matching.
	Query string

	// Category filters results by pattern_type. Empty means no filter.
	Category string

	// Status filters results by lifecycle status. Empty means no filter.
	Status types.PatternStatus

	// Limit is the maximum number of results (default 10, max 100).
	Limit int
}

// Normalize applies defaults and bounds to the SearchOptions.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// ListOptions provides pagination and filtering for List.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default 1).
	Page int

	// Limit is the number of items per page (default 50, max 500).
	Limit int

	// DomainID filters by domain. Empty means no filter.
	DomainID string

	// Status filters by lifecycle status. Empty means no filter.
	Status types.PatternStatus
}

// Normalize applies defaults and bounds to the ListOptions.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
}

// Offset calculates the SQL offset for the current page.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// PaginatedResult is a typed page of results.
type PaginatedResult[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
	HasMore  bool
}

// PatternUpdate carries a partial update for an existing pattern. Nil fields
// are left untouched; non-nil fields replace the stored value. Updates that
// touch content or status of a certified pattern are rejected with
// ErrCertifiedImmutable unless Privileged is set.
type PatternUpdate struct {
	Status      *types.PatternStatus
	Confidence  *float64
	Name        *string
	Problem     *string
	Solution    *string
	Description *string
	Steps       *[]string
	Conditions  *map[string]interface{}
	Tags        *[]string
	Examples    *[]string

	RelatedPatterns *[]string
	Prerequisites   *[]string
	Alternatives    *[]string
	Sources         *[]string

	ReviewedBy  *string
	ReviewedAt  *time.Time
	ReviewNotes *string
	UserRating  *float64

	Extra *map[string]interface{}

	// Privileged marks the update as coming from the lifecycle controller's
	// human-facing path, which may modify certified patterns.
	Privileged bool
}

// TouchesProtectedFields reports whether the update modifies anything a
// certified pattern protects (content or status). Confidence, review
// metadata, and usage signals remain adjustable.
func (u *PatternUpdate) TouchesProtectedFields() bool {
	return u.Status != nil || u.Name != nil || u.Problem != nil ||
		u.Solution != nil || u.Description != nil || u.Steps != nil ||
		u.Conditions != nil || u.Examples != nil
}
