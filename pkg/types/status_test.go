package types

import "testing"

func TestIsValidStatus(t *testing.T) {
	for _, s := range ValidStatuses {
		if !IsValidStatus(s) {
			t.Errorf("IsValidStatus(%q) = false", s)
		}
	}
	if !IsValidStatus("") {
		t.Error("empty status should be valid (defaults to candidate)")
	}
	if IsValidStatus("archived") {
		t.Error("unknown status should be invalid")
	}
}

func TestIsValidStatusTransition(t *testing.T) {
	tests := []struct {
		name    string
		current PatternStatus
		next    PatternStatus
		want    bool
	}{
		{"candidate to flagged", StatusCandidate, StatusFlagged, true},
		{"candidate to rejected", StatusCandidate, StatusRejected, true},
		{"candidate stays candidate", StatusCandidate, StatusCandidate, true},
		{"candidate to certified is privileged-only", StatusCandidate, StatusCertified, false},
		{"empty treated as candidate", "", StatusFlagged, true},
		{"flagged back to candidate", StatusFlagged, StatusCandidate, true},
		{"flagged to rejected", StatusFlagged, StatusRejected, true},
		{"flagged to certified is privileged-only", StatusFlagged, StatusCertified, false},
		{"certified is locked", StatusCertified, StatusCandidate, false},
		{"certified to rejected is locked", StatusCertified, StatusRejected, false},
		{"rejected is terminal", StatusRejected, StatusCandidate, false},
		{"empty target invalid", StatusCandidate, "", false},
		{"unknown target invalid", StatusCandidate, "archived", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidStatusTransition(tt.current, tt.next); got != tt.want {
				t.Errorf("IsValidStatusTransition(%q, %q) = %v, want %v",
					tt.current, tt.next, got, tt.want)
			}
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	if got := NormalizeStatus(""); got != StatusCandidate {
		t.Errorf("NormalizeStatus(\"\") = %q, want candidate", got)
	}
	if got := NormalizeStatus("  Certified "); got != StatusCertified {
		t.Errorf("NormalizeStatus = %q, want certified", got)
	}
}
