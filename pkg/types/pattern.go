// Package types defines the core data model for the ExFrame pattern
// knowledge store: the Pattern record, its lifecycle status machine, and
// the feedback payload applied against it.
package types

import (
	"math"
	"time"
)

// Pattern represents one reusable problem/solution unit. Patterns are the
// atomic records of the knowledge store: they carry free-text content fed to
// the text index, provenance for dedup on re-ingestion, review metadata, and
// a feedback-driven confidence score.
type Pattern struct {
	// Core identification fields
	ID          string        `json:"id"`           // Unique identifier (format: domain_NNNN)
	DomainID    string        `json:"domain_id"`    // Logical domain/collection the pattern belongs to
	PatternType string        `json:"pattern_type"` // Category within the domain (e.g. "process", "recipe")
	Status      PatternStatus `json:"status"`       // Lifecycle status (candidate, certified, ...)
	Confidence  float64       `json:"confidence"`   // Confidence score, always clamped to [0.0, 1.0]

	// Content fields. All may be empty individually; the text index is built
	// from name, problem, solution, and description.
	Name        string `json:"name,omitempty"`
	Problem     string `json:"problem,omitempty"`
	Solution    string `json:"solution,omitempty"`
	Description string `json:"description,omitempty"`

	Steps           []string               `json:"steps,omitempty"`            // Ordered solution steps
	Conditions      map[string]interface{} `json:"conditions,omitempty"`       // Applicability conditions
	Tags            []string               `json:"tags,omitempty"`             // User-defined tags
	Examples        []string               `json:"examples,omitempty"`         // Worked examples
	RelatedPatterns []string               `json:"related_patterns,omitempty"` // IDs of related patterns
	Prerequisites   []string               `json:"prerequisites,omitempty"`    // IDs of prerequisite patterns
	Alternatives    []string               `json:"alternatives,omitempty"`     // IDs of alternative patterns
	Sources         []string               `json:"sources,omitempty"`          // Source documents or references

	// Provenance tracking
	Origin      string     `json:"origin,omitempty"`       // How the pattern came to exist ("generation", "manual", "documentation")
	OriginQuery string     `json:"origin_query,omitempty"` // Query text that produced the pattern (dedup key for re-ingestion)
	GeneratedBy string     `json:"generated_by,omitempty"` // Agent that generated the content
	GeneratedAt *time.Time `json:"generated_at,omitempty"` // When the content was generated

	// Review metadata (all nil/empty until a human acts)
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`

	// Usage signals
	UsageCount int        `json:"usage_count"`            // Monotonically increasing access counter
	LastUsedAt *time.Time `json:"last_used_at,omitempty"` // Timestamp of most recent access
	UserRating *float64   `json:"user_rating,omitempty"`  // Most recent normalized rating, if any

	// Forward-compatible extension map for rarely-used fields.
	Extra map[string]interface{} `json:"extra,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"` // Immutable after creation
	UpdatedAt time.Time `json:"updated_at"` // Bumped on every mutation
}

// CombinedContent returns the case-folded concatenation of description,
// problem, and solution. This is the text compared during near-duplicate
// detection.
func (p *Pattern) CombinedContent() string {
	return foldJoin(p.Description, p.Problem, p.Solution)
}

// ClampConfidence clamps the pattern's confidence into [0.0, 1.0].
func (p *Pattern) ClampConfidence() {
	p.Confidence = ClampScore(p.Confidence)
}

// ClampScore clamps a score into [0.0, 1.0].
func ClampScore(v float64) float64 {
	return math.Min(math.Max(v, 0.0), 1.0)
}

// Feedback represents one feedback event against a pattern. A rating adjusts
// confidence through the decay blend; an access event only bumps the usage
// counter.
type Feedback struct {
	// Rating is a 0-5 star score. Nil when the feedback carries no rating.
	Rating *float64 `json:"rating,omitempty"`

	// Accessed marks a usage event. Access events increment the usage
	// counter and never touch confidence.
	Accessed bool `json:"accessed,omitempty"`

	// Comment is optional free-text context for the feedback.
	Comment string `json:"comment,omitempty"`
}

// NormalizedRating converts the 0-5 star rating into [0.0, 1.0].
// Returns false when the feedback carries no rating.
func (f Feedback) NormalizedRating() (float64, bool) {
	if f.Rating == nil {
		return 0, false
	}
	return ClampScore(*f.Rating / 5.0), true
}
