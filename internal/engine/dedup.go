package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orangelightening/exframe/internal/storage"
	"github.com/orangelightening/exframe/pkg/types"
)

// DefaultDuplicateThreshold is the similarity ratio above which two patterns
// are reported as near-duplicates.
const DefaultDuplicateThreshold = 0.9

// AuditIssue is one warning produced by the duplicate audit. Duplicates are
// never a blocking error; both patterns stay stored and searchable.
type AuditIssue struct {
	ID         string    `json:"id"`
	Severity   string    `json:"severity"`
	PatternIDs []string  `json:"pattern_ids"`
	Similarity float64   `json:"similarity"`
	Detail     string    `json:"detail"`
	DetectedAt time.Time `json:"detected_at"`
}

// AuditReport is the result of one full-store duplicate scan.
type AuditReport struct {
	ID        string       `json:"id"`
	StartedAt time.Time    `json:"started_at"`
	Scanned   int          `json:"scanned"`
	Issues    []AuditIssue `json:"issues"`
}

// DuplicateAuditor scans the store for near-duplicate pattern content.
type DuplicateAuditor struct {
	store     storage.PatternStore
	threshold float64
}

// NewDuplicateAuditor creates an auditor. A threshold outside (0, 1] falls
// back to DefaultDuplicateThreshold.
func NewDuplicateAuditor(store storage.PatternStore, threshold float64) *DuplicateAuditor {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDuplicateThreshold
	}
	return &DuplicateAuditor{store: store, threshold: threshold}
}

// CheckNew compares freshly generated content against every stored pattern
// and returns a warning issue per near-duplicate found. Used as a pre-insert
// guard; an empty result means no duplicates.
func (a *DuplicateAuditor) CheckNew(ctx context.Context, p *types.Pattern) ([]AuditIssue, error) {
	if p == nil {
		return nil, storage.ErrInvalidInput
	}

	content := strings.ToLower(p.CombinedContent())
	if content == "" {
		return nil, nil
	}

	var issues []AuditIssue
	page := 1
	for {
		result, err := a.store.List(ctx, storage.ListOptions{Page: page, Limit: 500})
		if err != nil {
			return nil, err
		}
		for i := range result.Items {
			other := &result.Items[i]
			if other.ID == p.ID {
				continue
			}
			ratio := SimilarityRatio(content, strings.ToLower(other.CombinedContent()))
			if ratio > a.threshold {
				issues = append(issues, a.newIssue([]string{p.ID, other.ID}, ratio))
			}
		}
		if !result.HasMore {
			break
		}
		page++
	}
	return issues, nil
}

// Audit scans every stored pattern pair and reports the near-duplicates.
func (a *DuplicateAuditor) Audit(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	var patterns []types.Pattern
	page := 1
	for {
		result, err := a.store.List(ctx, storage.ListOptions{Page: page, Limit: 500})
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, result.Items...)
		if !result.HasMore {
			break
		}
		page++
	}
	report.Scanned = len(patterns)

	contents := make([]string, len(patterns))
	for i := range patterns {
		contents[i] = strings.ToLower(patterns[i].CombinedContent())
	}

	for i := 0; i < len(patterns); i++ {
		if contents[i] == "" {
			continue
		}
		for j := i + 1; j < len(patterns); j++ {
			if contents[j] == "" {
				continue
			}
			ratio := SimilarityRatio(contents[i], contents[j])
			if ratio > a.threshold {
				report.Issues = append(report.Issues,
					a.newIssue([]string{patterns[i].ID, patterns[j].ID}, ratio))
			}
		}
	}

	sort.Slice(report.Issues, func(i, j int) bool {
		return report.Issues[i].Similarity > report.Issues[j].Similarity
	})
	return report, nil
}

func (a *DuplicateAuditor) newIssue(ids []string, ratio float64) AuditIssue {
	return AuditIssue{
		ID:         uuid.New().String(),
		Severity:   "warning",
		PatternIDs: ids,
		Similarity: ratio,
		Detail:     fmt.Sprintf("patterns %s share %.0f%% of their content", strings.Join(ids, " and "), ratio*100),
		DetectedAt: time.Now().UTC(),
	}
}

// SimilarityRatio computes a sequence similarity ratio in [0, 1] between two
// strings: 2*M/T, where M is the total length of the longest matching blocks
// and T the combined length. Equal strings score 1, disjoint strings 0.
func SimilarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	ra, rb := []rune(a), []rune(b)
	matched := matchingTotal(ra, rb)
	return 2 * float64(matched) / float64(len(ra)+len(rb))
}

// matchingTotal sums the longest matching block between the two slices and
// recurses into the unmatched regions on either side.
func matchingTotal(a, b []rune) int {
	ai, bi, size := longestMatchingBlock(a, b)
	if size == 0 {
		return 0
	}

	total := size
	total += matchingTotal(a[:ai], b[:bi])
	total += matchingTotal(a[ai+size:], b[bi+size:])
	return total
}

// longestMatchingBlock finds the longest common contiguous run, returning
// its start in each slice and its length.
func longestMatchingBlock(a, b []rune) (int, int, int) {
	bestA, bestB, bestSize := 0, 0, 0

	// lengths[j] is the length of the common suffix ending at a[i], b[j-1]
	// from the previous row.
	lengths := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		prev := 0
		for j := 0; j < len(b); j++ {
			cur := lengths[j+1]
			if a[i] == b[j] {
				lengths[j+1] = prev + 1
				if lengths[j+1] > bestSize {
					bestSize = lengths[j+1]
					bestA = i - bestSize + 1
					bestB = j - bestSize + 1
				}
			} else {
				lengths[j+1] = 0
			}
			prev = cur
		}
	}
	return bestA, bestB, bestSize
}
