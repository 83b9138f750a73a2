package postgres

import (
	"strings"
	"unicode"
)

// queryStopwords are common query words that carry no retrieval signal,
// dropped before the query reaches plainto_tsquery.
var queryStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "how": {}, "what": {},
	"when": {}, "where": {}, "why": {}, "can": {}, "does": {}, "should": {},
	"this": {}, "that": {}, "are": {}, "was": {}, "has": {}, "have": {},
	"not": {}, "you": {}, "your": {}, "from": {}, "into": {}, "use": {},
	"using": {}, "about": {},
}

// significantTerms tokenizes a raw query: case-folded, split on non-letter,
// non-number runes, with tokens shorter than three runes, stopwords, and
// duplicates discarded. The surviving terms feed plainto_tsquery, which
// applies its own stemming and English stopword list on top.
func significantTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]struct{}, len(fields))
	var terms []string
	for _, tok := range fields {
		if len([]rune(tok)) < 3 {
			continue
		}
		if _, stop := queryStopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}
	return terms
}
