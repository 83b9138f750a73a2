package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/orangelightening/exframe/internal/storage"
)

// ftsStopwords are common query words that carry no retrieval signal. They
// are dropped before building the MATCH expression so a query like "how to
// handle errors" reduces to the terms that actually discriminate.
var ftsStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "how": {}, "what": {},
	"when": {}, "where": {}, "why": {}, "can": {}, "does": {}, "should": {},
	"this": {}, "that": {}, "are": {}, "was": {}, "has": {}, "have": {},
	"not": {}, "you": {}, "your": {}, "from": {}, "into": {}, "use": {},
	"using": {}, "about": {},
}

// SearchText runs a keyword search over the FTS index. Ranking blends the
// normalized BM25 relevance (weight 0.7) with the pattern's stored confidence
// (weight 0.3), so a well-trusted pattern outranks a marginally better text
// match. When the query contains no significant terms the most recently
// updated patterns are returned with zero relevance.
func (s *PatternStore) SearchText(ctx context.Context, opts storage.SearchOptions) ([]storage.TextMatch, error) {
	opts.Normalize()

	terms := significantTerms(opts.Query)
	if len(terms) == 0 {
		return s.recentFallback(ctx, opts)
	}

	// Each term becomes a prefix match; OR keeps recall high and BM25
	// handles precision.
	matchExpr := strings.Join(terms, " OR ")

	var filters []string
	var args []interface{}
	args = append(args, matchExpr)

	if opts.Category != "" {
		filters = append(filters, "p.pattern_type = ?")
		args = append(args, opts.Category)
	}
	if opts.Status != "" {
		filters = append(filters, "p.status = ?")
		args = append(args, string(opts.Status))
	}

	filterClause := ""
	if len(filters) > 0 {
		filterClause = " AND " + strings.Join(filters, " AND ")
	}

	// bm25() returns lower-is-better; negate so higher is better before
	// normalizing. Over-fetch past the limit so the confidence blend can
	// promote rows that BM25 alone would cut.
	query := `
		SELECT ` + prefixedColumns("p") + `, -bm25(patterns_fts) AS rank
		FROM patterns_fts f
		JOIN patterns p ON p.rowid = f.rowid
		WHERE patterns_fts MATCH ?` + filterClause + `
		ORDER BY rank DESC
		LIMIT ?`
	args = append(args, opts.Limit*3)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("text search", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.TextMatch
	maxRank := 0.0
	for rows.Next() {
		m, rank, err := scanTextMatch(rows)
		if err != nil {
			return nil, storageErr("scan text match", err)
		}
		if rank > maxRank {
			maxRank = rank
		}
		m.IndexRank = rank
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("text search rows", err)
	}

	for i := range matches {
		normalized := 0.0
		if maxRank > 0 {
			normalized = matches[i].IndexRank / maxRank
		}
		matches[i].Relevance = storage.TextRelevanceWeight*normalized +
			storage.ConfidenceWeight*matches[i].Pattern.Confidence
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Relevance != matches[j].Relevance {
			return matches[i].Relevance > matches[j].Relevance
		}
		if matches[i].Pattern.Confidence != matches[j].Pattern.Confidence {
			return matches[i].Pattern.Confidence > matches[j].Pattern.Confidence
		}
		return matches[i].Pattern.CreatedAt.After(matches[j].Pattern.CreatedAt)
	})

	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

// recentFallback returns the most recently updated patterns when the query
// has no usable terms.
func (s *PatternStore) recentFallback(ctx context.Context, opts storage.SearchOptions) ([]storage.TextMatch, error) {
	var filters []string
	var args []interface{}

	if opts.Category != "" {
		filters = append(filters, "pattern_type = ?")
		args = append(args, opts.Category)
	}
	if opts.Status != "" {
		filters = append(filters, "status = ?")
		args = append(args, string(opts.Status))
	}

	whereClause := ""
	if len(filters) > 0 {
		whereClause = " WHERE " + strings.Join(filters, " AND ")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM patterns`+whereClause+
			` ORDER BY updated_at DESC, id DESC LIMIT ?`,
		append(args, opts.Limit)...)
	if err != nil {
		return nil, storageErr("recent fallback", err)
	}
	defer func() { _ = rows.Close() }()

	patterns, err := scanPatterns(rows)
	if err != nil {
		return nil, storageErr("scan recent fallback", err)
	}

	matches := make([]storage.TextMatch, 0, len(patterns))
	for i := range patterns {
		matches = append(matches, storage.TextMatch{Pattern: patterns[i]})
	}
	return matches, nil
}

// significantTerms tokenizes a raw query into FTS5-safe prefix terms.
// Tokens are case-folded, stripped of FTS5 syntax characters, and dropped
// when shorter than three runes or present in the stopword list.
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
		if _, stop := ftsStopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		// Quote the token so it can never be parsed as an FTS5 operator,
		// and append * for prefix matching.
		terms = append(terms, fmt.Sprintf(`"%s"*`, tok))
	}
	return terms
}

// prefixedColumns qualifies patternColumns with a table alias for joins.
func prefixedColumns(alias string) string {
	cols := strings.Split(patternColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// scanTextMatch reads one search row: the pattern columns plus the rank.
func scanTextMatch(rows rowScanner) (*storage.TextMatch, float64, error) {
	// Delegating to scanPattern is not possible here because of the extra
	// rank column, so wrap the scanner to capture it.
	w := &rankCapture{inner: rows}
	p, err := scanPattern(w)
	if err != nil {
		return nil, 0, err
	}
	return &storage.TextMatch{Pattern: *p}, w.rank, nil
}

// rankCapture appends a rank destination to the delegated Scan call.
type rankCapture struct {
	inner rowScanner
	rank  float64
}

func (r *rankCapture) Scan(dest ...interface{}) error {
	return r.inner.Scan(append(dest, &r.rank)...)
}
