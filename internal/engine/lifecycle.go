package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/orangelightening/exframe/internal/storage"
	"github.com/orangelightening/exframe/pkg/types"
)

// DefaultConfidenceDecay is the exponential blending constant: feedback with
// rating r moves confidence to cur*d + r*(1-d).
const DefaultConfidenceDecay = 0.95

// refusalPhrases flags generated content that is a refusal rather than a
// usable pattern. Matching is case-folded substring.
var refusalPhrases = []string{
	"i cannot help with",
	"i can't help with",
	"i'm unable to",
	"i am unable to",
	"as an ai",
	"i cannot provide",
	"outside my expertise",
	"out of scope",
}

// IngestResult reports what Ingest did with a generated pattern.
type IngestResult struct {
	// Pattern is the stored record: the new row, or the existing row when
	// re-ingestion only touched counters.
	Pattern *types.Pattern

	// Created is true when a new record was inserted.
	Created bool

	// Flagged is true when the content tripped the refusal heuristic and
	// the record was stored as flagged_for_review.
	Flagged bool

	// Warnings carries near-duplicate issues found by the pre-insert guard.
	// Duplicates never block insertion; the record is created regardless.
	Warnings []AuditIssue
}

// Lifecycle applies feedback and enforces the status state machine over
// pattern records. It is the only component allowed to modify certified
// patterns, through its explicitly privileged operations.
type Lifecycle struct {
	store   storage.PatternStore
	decay   float64
	auditor *DuplicateAuditor
}

// NewLifecycle creates a lifecycle controller. A decay outside (0, 1] falls
// back to DefaultConfidenceDecay.
func NewLifecycle(store storage.PatternStore, decay float64) *Lifecycle {
	if decay <= 0 || decay > 1 {
		decay = DefaultConfidenceDecay
	}
	return &Lifecycle{store: store, decay: decay}
}

// SetAuditor attaches the pre-insert duplicate guard. Without an auditor,
// Ingest skips near-duplicate detection.
func (l *Lifecycle) SetAuditor(a *DuplicateAuditor) {
	l.auditor = a
}

// RecordFeedback applies one feedback event. An accessed flag increments the
// usage counter; a rating blends into confidence as cur*d + r*(1-d), clamped
// to [0, 1] and rounded to three decimals. Feedback with only an accessed
// flag never touches confidence.
func (l *Lifecycle) RecordFeedback(ctx context.Context, id string, fb types.Feedback) error {
	if fb.Accessed {
		if err := l.store.IncrementUsage(ctx, id); err != nil {
			return err
		}
	}

	r, ok := fb.NormalizedRating()
	if !ok {
		return nil
	}

	p, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}

	next := p.Confidence*l.decay + r*(1-l.decay)
	next = types.ClampScore(next)
	next = math.Round(next*1000) / 1000

	return l.store.UpdateConfidence(ctx, id, next)
}

// Certify promotes a pattern to certified through the privileged path,
// recording the reviewer. Only candidate and flagged patterns can be
// certified.
func (l *Lifecycle) Certify(ctx context.Context, id, reviewer, notes string) (*types.Pattern, error) {
	p, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == types.StatusCertified {
		return p, nil
	}
	if p.Status == types.StatusRejected {
		return nil, fmt.Errorf("%w: cannot certify a rejected pattern", storage.ErrInvalidInput)
	}

	status := types.StatusCertified
	now := time.Now().UTC()
	return l.store.Update(ctx, id, storage.PatternUpdate{
		Status:      &status,
		ReviewedBy:  &reviewer,
		ReviewedAt:  &now,
		ReviewNotes: &notes,
		Privileged:  true,
	})
}

// Reject marks a pattern rejected through the privileged path. Rejection is
// the deletion-equivalent action and is allowed from any status.
func (l *Lifecycle) Reject(ctx context.Context, id, reviewer, notes string) (*types.Pattern, error) {
	status := types.StatusRejected
	now := time.Now().UTC()
	return l.store.Update(ctx, id, storage.PatternUpdate{
		Status:      &status,
		ReviewedBy:  &reviewer,
		ReviewedAt:  &now,
		ReviewNotes: &notes,
		Privileged:  true,
	})
}

// Transition applies an automated status change, enforcing the state
// machine: certified is immutable through this path and rejected is
// terminal.
func (l *Lifecycle) Transition(ctx context.Context, id string, to types.PatternStatus) (*types.Pattern, error) {
	p, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !types.IsValidStatusTransition(p.Status, to) {
		if p.Status == types.StatusCertified {
			return nil, fmt.Errorf("%w: automated transition to %s", storage.ErrCertifiedImmutable, to)
		}
		return nil, fmt.Errorf("%w: invalid transition %s -> %s", storage.ErrInvalidInput, p.Status, to)
	}

	return l.store.Update(ctx, id, storage.PatternUpdate{Status: &to})
}

// Ingest stores freshly generated content, applying the re-ingestion rules:
// a record with the same origin query is never duplicated — certified or
// not, only its usage counter moves. New content matching the refusal
// heuristic is stored flagged_for_review instead of candidate. When an
// auditor is attached, content resembling an existing pattern is still
// inserted, with the near-duplicate warnings returned on the result.
func (l *Lifecycle) Ingest(ctx context.Context, p *types.Pattern) (*IngestResult, error) {
	if p == nil {
		return nil, storage.ErrInvalidInput
	}

	if p.OriginQuery != "" {
		existing, err := l.store.FindByOriginQuery(ctx, p.OriginQuery)
		switch {
		case err == nil:
			if err := l.store.IncrementUsage(ctx, existing.ID); err != nil {
				return nil, err
			}
			refreshed, err := l.store.Get(ctx, existing.ID)
			if err != nil {
				return nil, err
			}
			return &IngestResult{Pattern: refreshed}, nil
		case errors.Is(err, storage.ErrNotFound):
			// First ingestion for this query.
		default:
			return nil, err
		}
	}

	flagged := IsRefusal(p.CombinedContent())
	if flagged {
		p.Status = types.StatusFlagged
		log.Printf("engine: content for query %q flagged as refusal", p.OriginQuery)
	} else if p.Status == "" {
		p.Status = types.StatusCandidate
	}

	var warnings []AuditIssue
	if l.auditor != nil {
		// Assign the id up front so the warnings reference the new record.
		if p.ID == "" {
			id, err := l.store.NextID(ctx, p.DomainID)
			if err != nil {
				return nil, err
			}
			p.ID = id
		}

		var err error
		warnings, err = l.auditor.CheckNew(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, issue := range warnings {
			log.Printf("engine: %s", issue.Detail)
		}
	}

	if err := l.store.Add(ctx, p); err != nil {
		return nil, err
	}
	return &IngestResult{Pattern: p, Created: true, Flagged: flagged, Warnings: warnings}, nil
}

// IsRefusal reports whether generated content matches the refusal heuristic.
func IsRefusal(content string) bool {
	folded := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(folded, phrase) {
			return true
		}
	}
	return false
}
