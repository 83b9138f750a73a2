package postgres

import (
	"reflect"
	"testing"
)

func TestSignificantTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"plain words", "boiling water kettle", []string{"boiling", "water", "kettle"}},
		{"case folded", "Handle ERRORS", []string{"handle", "errors"}},
		{"short tokens dropped", "go io errors in db", []string{"errors"}},
		{"stopwords dropped", "how to use the context", []string{"context"}},
		{"duplicates collapsed", "water water water", []string{"water"}},
		{"punctuation split", "retry-with-backoff", []string{"retry", "backoff"}},
		{"nothing significant", "how to go", nil},
		{"blank", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := significantTerms(tt.query)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("significantTerms(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}
