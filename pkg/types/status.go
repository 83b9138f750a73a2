package types

import "strings"

// PatternStatus is the lifecycle status of a pattern.
type PatternStatus string

// Pattern lifecycle status constants.
const (
	StatusCandidate PatternStatus = "candidate"         // Default on creation; eligible for automated updates
	StatusCertified PatternStatus = "certified"         // Human-approved; immune to automated overwrite
	StatusFlagged   PatternStatus = "flagged_for_review" // Held for human review (e.g. refusal heuristic hit)
	StatusRejected  PatternStatus = "rejected"          // Deletion-equivalent terminal status
)

// ValidStatuses contains all valid pattern status values.
var ValidStatuses = []PatternStatus{
	StatusCandidate,
	StatusCertified,
	StatusFlagged,
	StatusRejected,
}

// IsValidStatus checks if the given status is a recognized pattern status.
// Empty string is valid (means "default to candidate").
func IsValidStatus(status PatternStatus) bool {
	if status == "" {
		return true
	}
	for _, s := range ValidStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// IsValidStatusTransition validates pattern status transitions for the
// automated (non-privileged) path.
//
// Automated transitions:
//
//	candidate -> candidate | flagged_for_review | rejected
//	flagged_for_review -> candidate | rejected
//	certified -> (none; certified records only change through privileged actions)
//	rejected -> (terminal)
//
// Privileged (human-facing) actions bypass this check entirely; see the
// lifecycle controller.
func IsValidStatusTransition(current, next PatternStatus) bool {
	if next == "" || !IsValidStatus(next) {
		return false
	}

	switch current {
	case "", StatusCandidate:
		return next == StatusCandidate || next == StatusFlagged || next == StatusRejected

	case StatusFlagged:
		return next == StatusCandidate || next == StatusRejected

	case StatusCertified:
		return false // only privileged actions may move a certified pattern

	case StatusRejected:
		return false // terminal

	default:
		return false
	}
}

// NormalizeStatus lower-cases a status string and applies the candidate
// default for empty input.
func NormalizeStatus(s string) PatternStatus {
	if s == "" {
		return StatusCandidate
	}
	return PatternStatus(strings.ToLower(strings.TrimSpace(s)))
}

// foldJoin concatenates the given parts lower-cased with single spaces,
// skipping empty parts.
func foldJoin(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.ToLower(p))
	}
	return b.String()
}
