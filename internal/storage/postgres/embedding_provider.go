package postgres

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/orangelightening/exframe/internal/storage"
)

// SetEmbedding stores or replaces the embedding for a pattern. When pgvector
// is unavailable only the dimension/model bookkeeping row is written, so the
// embedding can be backfilled after the extension is installed.
func (s *PatternStore) SetEmbedding(ctx context.Context, patternID, model string, vector []float64) error {
	if patternID == "" {
		return fmt.Errorf("%w: pattern ID is required", storage.ErrInvalidInput)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: embedding vector is empty", storage.ErrInvalidInput)
	}

	if !s.pgvectorAvailable {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pattern_embeddings (pattern_id, dimension, model)
			VALUES ($1, $2, $3)
			ON CONFLICT (pattern_id) DO UPDATE SET
				dimension = EXCLUDED.dimension,
				model = EXCLUDED.model,
				updated_at = NOW()
		`, patternID, len(vector), model)
		if err != nil {
			return storageErr("set embedding metadata", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pattern_embeddings (pattern_id, dimension, model, embedding_vec)
		VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT (pattern_id) DO UPDATE SET
			dimension = EXCLUDED.dimension,
			model = EXCLUDED.model,
			embedding_vec = EXCLUDED.embedding_vec,
			updated_at = NOW()
	`, patternID, len(vector), model, toPgvector(vector))
	if err != nil {
		return storageErr("set embedding", err)
	}
	return nil
}

// DeleteEmbedding removes a pattern's embedding. Missing is not an error.
func (s *PatternStore) DeleteEmbedding(ctx context.Context, patternID string) error {
	if patternID == "" {
		return fmt.Errorf("%w: pattern ID is required", storage.ErrInvalidInput)
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM pattern_embeddings WHERE pattern_id = $1", patternID); err != nil {
		return storageErr("delete embedding", err)
	}
	return nil
}

// SearchVector returns up to limit patterns ordered by cosine similarity to
// the query vector. The <=> operator is cosine distance; similarity is
// 1 - distance.
func (s *PatternStore) SearchVector(ctx context.Context, query []float64, limit int) ([]storage.VectorMatch, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", storage.ErrInvalidInput)
	}
	if limit < 1 {
		limit = 10
	}
	if !s.pgvectorAvailable {
		return nil, fmt.Errorf("%w: pgvector extension not installed", storage.ErrStorageUnavailable)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedPatternColumns+`,
		       1 - (e.embedding_vec <=> $1::vector) AS similarity
		FROM patterns p
		JOIN pattern_embeddings e ON e.pattern_id = p.id
		WHERE e.embedding_vec IS NOT NULL
		ORDER BY e.embedding_vec <=> $1::vector
		LIMIT $2
	`, toPgvector(query), limit)
	if err != nil {
		return nil, storageErr("vector search", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.VectorMatch
	for rows.Next() {
		w := &rankCapture{inner: rows}
		p, err := scanPattern(w)
		if err != nil {
			return nil, storageErr("scan vector match", err)
		}
		matches = append(matches, storage.VectorMatch{Pattern: *p, Similarity: w.rank})
	}
	return matches, rows.Err()
}

// prefixedPatternColumns qualifies patternColumns with the p alias for joins.
const prefixedPatternColumns = `
	p.id, p.domain_id, p.pattern_type, p.status, p.confidence,
	p.name, p.problem, p.solution, p.description,
	p.steps, p.conditions, p.tags, p.examples,
	p.related_patterns, p.prerequisites, p.alternatives, p.sources, p.extra,
	p.origin, p.origin_query, p.generated_by, p.generated_at,
	p.reviewed_by, p.reviewed_at, p.review_notes,
	p.usage_count, p.last_used_at, p.user_rating,
	p.created_at, p.updated_at
`

// toPgvector converts a float64 slice to the pgvector wire type.
func toPgvector(v []float64) pgvector.Vector {
	f32 := make([]float32, len(v))
	for i, x := range v {
		f32[i] = float32(x)
	}
	return pgvector.NewVector(f32)
}
