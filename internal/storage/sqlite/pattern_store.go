package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/orangelightening/exframe/internal/storage"
	"github.com/orangelightening/exframe/pkg/types"
)

// PatternStore implements storage.PatternStore using SQLite.
type PatternStore struct {
	db *sql.DB
}

// Ensure *PatternStore implements storage.PatternStore at compile time.
var _ storage.PatternStore = (*PatternStore)(nil)

// NewPatternStore opens a SQLite database, configures WAL mode, and creates
// the schema. A freshly created (empty) store additionally runs the one-shot
// legacy flat-file import when legacyPath is non-empty; see import.go.
func NewPatternStore(dsn string, legacyPath string) (*PatternStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode gives readers a consistent snapshot without
	// blocking the writer; this is the snapshot-isolation capability the
	// store interface requires.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	s := &PatternStore{db: db}

	if legacyPath != "" {
		if err := s.importLegacyFile(context.Background(), legacyPath); err != nil {
			// Import failures never abort startup; the file has already been
			// backed up by importLegacyFile.
			log.Printf("sqlite: legacy import from %s failed: %v", legacyPath, err)
		}
	}

	return s, nil
}

// patternColumns is the canonical SELECT column list for the patterns table.
// It must match the scan order in scanPattern.
const patternColumns = `
	id, domain_id, pattern_type, status, confidence,
	name, problem, solution, description,
	steps, conditions, tags, examples,
	related_patterns, prerequisites, alternatives, sources, extra,
	origin, origin_query, generated_by, generated_at,
	reviewed_by, reviewed_at, review_notes,
	usage_count, last_used_at, user_rating,
	created_at, updated_at
`

// Add inserts a new pattern and its text index entry in one transaction.
func (s *PatternStore) Add(ctx context.Context, p *types.Pattern) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	if p.ID == "" {
		id, err := s.NextID(ctx, p.DomainID)
		if err != nil {
			return err
		}
		p.ID = id
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if p.Status == "" {
		p.Status = types.StatusCandidate
	}
	if !types.IsValidStatus(p.Status) {
		return fmt.Errorf("%w: invalid status %q", storage.ErrInvalidInput, p.Status)
	}
	if p.DomainID == "" {
		p.DomainID = "general"
	}
	p.ClampConfidence()

	fields, err := marshalJSONFields(p)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin add", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.DomainID, nullableString(p.PatternType), string(p.Status), p.Confidence,
		nullableString(p.Name), nullableString(p.Problem), nullableString(p.Solution), nullableString(p.Description),
		fields.steps, fields.conditions, fields.tags, fields.examples,
		fields.related, fields.prerequisites, fields.alternatives, fields.sources, fields.extra,
		nullableString(p.Origin), nullableString(p.OriginQuery), nullableString(p.GeneratedBy), nullableTime(p.GeneratedAt),
		nullableString(p.ReviewedBy), nullableTime(p.ReviewedAt), nullableString(p.ReviewNotes),
		p.UsageCount, nullableTime(p.LastUsedAt), nullableFloat(p.UserRating),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateID, p.ID)
		}
		return storageErr("insert pattern", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit add", err)
	}
	return nil
}

// Get retrieves a pattern by ID.
func (s *PatternStore) Get(ctx context.Context, id string) (*types.Pattern, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: pattern ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get pattern", err)
	}
	return p, nil
}

// Update merges the partial update into the existing row inside one
// transaction, so the FTS trigger updates roll back with the row on failure.
func (s *PatternStore) Update(ctx context.Context, id string, upd storage.PatternUpdate) (*types.Pattern, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: pattern ID is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin update", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("read pattern for update", err)
	}

	if p.Status == types.StatusCertified && !upd.Privileged && upd.TouchesProtectedFields() {
		return nil, fmt.Errorf("%w: %s", storage.ErrCertifiedImmutable, id)
	}

	applyUpdate(p, &upd)
	p.ClampConfidence()
	p.UpdatedAt = time.Now().UTC()

	fields, err := marshalJSONFields(p)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE patterns SET
			pattern_type = ?, status = ?, confidence = ?,
			name = ?, problem = ?, solution = ?, description = ?,
			steps = ?, conditions = ?, tags = ?, examples = ?,
			related_patterns = ?, prerequisites = ?, alternatives = ?, sources = ?, extra = ?,
			reviewed_by = ?, reviewed_at = ?, review_notes = ?,
			user_rating = ?, updated_at = ?
		WHERE id = ?
	`,
		nullableString(p.PatternType), string(p.Status), p.Confidence,
		nullableString(p.Name), nullableString(p.Problem), nullableString(p.Solution), nullableString(p.Description),
		fields.steps, fields.conditions, fields.tags, fields.examples,
		fields.related, fields.prerequisites, fields.alternatives, fields.sources, fields.extra,
		nullableString(p.ReviewedBy), nullableTime(p.ReviewedAt), nullableString(p.ReviewNotes),
		nullableFloat(p.UserRating), p.UpdatedAt,
		id,
	)
	if err != nil {
		return nil, storageErr("update pattern", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit update", err)
	}
	return p, nil
}

// Delete removes the row; the after-delete trigger removes the FTS entry in
// the same transaction.
func (s *PatternStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: pattern ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM patterns WHERE id = ?", id)
	if err != nil {
		return storageErr("delete pattern", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return storageErr("delete rows affected", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List retrieves patterns with pagination and filtering, newest first.
func (s *PatternStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Pattern], error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}

	if opts.DomainID != "" {
		conditions = append(conditions, "domain_id = ?")
		args = append(args, opts.DomainID)
	}
	if opts.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(opts.Status))
	}

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := `SELECT ` + patternColumns + ` FROM patterns` + whereClause +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, storageErr("list patterns", err)
	}
	defer func() { _ = rows.Close() }()

	patterns, err := scanPatterns(rows)
	if err != nil {
		return nil, storageErr("scan patterns", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patterns"+whereClause, args...).Scan(&total); err != nil {
		return nil, storageErr("count patterns", err)
	}

	return &storage.PaginatedResult[types.Pattern]{
		Items:    patterns,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(patterns) < total,
	}, nil
}

// GetByCategory returns all patterns with the given pattern_type.
func (s *PatternStore) GetByCategory(ctx context.Context, category string) ([]types.Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE pattern_type = ? ORDER BY created_at DESC`, category)
	if err != nil {
		return nil, storageErr("get by category", err)
	}
	defer func() { _ = rows.Close() }()

	return scanPatterns(rows)
}

// ListCategories returns the distinct pattern_type values in use.
func (s *PatternStore) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT pattern_type FROM patterns WHERE pattern_type IS NOT NULL AND pattern_type != '' ORDER BY pattern_type`)
	if err != nil {
		return nil, storageErr("list categories", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, storageErr("scan category", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// FindByOriginQuery returns the pattern whose origin_query matches exactly.
func (s *PatternStore) FindByOriginQuery(ctx context.Context, originQuery string) (*types.Pattern, error) {
	if originQuery == "" {
		return nil, fmt.Errorf("%w: origin query is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE origin_query = ? ORDER BY created_at LIMIT 1`, originQuery)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("find by origin query", err)
	}
	return p, nil
}

// NextID returns <domain>_NNNN, picking the max existing numeric suffix plus
// one. The scan only sees rows that currently exist, so deleting the row
// holding the max suffix makes that suffix available again; gaps below the
// max are never filled.
func (s *PatternStore) NextID(ctx context.Context, domain string) (string, error) {
	if domain == "" {
		domain = "general"
	}

	// "_" is a LIKE wildcard, so this prefix match over-selects; the
	// HasPrefix/Atoi filter below discards the false positives.
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM patterns WHERE id LIKE ?", domain+"_%")
	if err != nil {
		return "", storageErr("next id scan", err)
	}
	defer func() { _ = rows.Close() }()

	maxSuffix := 0
	prefix := domain + "_"
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", storageErr("next id scan", err)
		}
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		n, err := strconv.Atoi(id[len(prefix):])
		if err != nil {
			continue
		}
		if n > maxSuffix {
			maxSuffix = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", storageErr("next id rows", err)
	}

	return fmt.Sprintf("%s_%04d", domain, maxSuffix+1), nil
}

// IncrementUsage atomically increments usage_count and stamps last_used_at.
func (s *PatternStore) IncrementUsage(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: pattern ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE patterns SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return storageErr("increment usage", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return storageErr("increment usage rows affected", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateConfidence stores a new clamped confidence value.
func (s *PatternStore) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	if id == "" {
		return fmt.Errorf("%w: pattern ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE patterns SET confidence = ?, updated_at = ? WHERE id = ?",
		types.ClampScore(confidence), time.Now().UTC(), id)
	if err != nil {
		return storageErr("update confidence", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return storageErr("update confidence rows affected", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Count returns the number of stored patterns.
func (s *PatternStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patterns").Scan(&n); err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// Close flushes the WAL into the main database file and releases resources.
func (s *PatternStore) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}
	return s.db.Close()
}

// applyUpdate merges the non-nil update fields into the pattern.
func applyUpdate(p *types.Pattern, upd *storage.PatternUpdate) {
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.Confidence != nil {
		p.Confidence = *upd.Confidence
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Problem != nil {
		p.Problem = *upd.Problem
	}
	if upd.Solution != nil {
		p.Solution = *upd.Solution
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Steps != nil {
		p.Steps = *upd.Steps
	}
	if upd.Conditions != nil {
		p.Conditions = *upd.Conditions
	}
	if upd.Tags != nil {
		p.Tags = *upd.Tags
	}
	if upd.Examples != nil {
		p.Examples = *upd.Examples
	}
	if upd.RelatedPatterns != nil {
		p.RelatedPatterns = *upd.RelatedPatterns
	}
	if upd.Prerequisites != nil {
		p.Prerequisites = *upd.Prerequisites
	}
	if upd.Alternatives != nil {
		p.Alternatives = *upd.Alternatives
	}
	if upd.Sources != nil {
		p.Sources = *upd.Sources
	}
	if upd.ReviewedBy != nil {
		p.ReviewedBy = *upd.ReviewedBy
	}
	if upd.ReviewedAt != nil {
		t := *upd.ReviewedAt
		p.ReviewedAt = &t
	}
	if upd.ReviewNotes != nil {
		p.ReviewNotes = *upd.ReviewNotes
	}
	if upd.UserRating != nil {
		r := *upd.UserRating
		p.UserRating = &r
	}
	if upd.Extra != nil {
		p.Extra = *upd.Extra
	}
}

// jsonFields holds the serialized structured columns.
type jsonFields struct {
	steps, conditions, tags, examples             sql.NullString
	related, prerequisites, alternatives, sources sql.NullString
	extra                                         sql.NullString
}

func marshalJSONFields(p *types.Pattern) (*jsonFields, error) {
	f := &jsonFields{}
	for _, col := range []struct {
		dst *sql.NullString
		v   interface{}
	}{
		{&f.steps, emptyToNil(p.Steps)},
		{&f.conditions, mapToNil(p.Conditions)},
		{&f.tags, emptyToNil(p.Tags)},
		{&f.examples, emptyToNil(p.Examples)},
		{&f.related, emptyToNil(p.RelatedPatterns)},
		{&f.prerequisites, emptyToNil(p.Prerequisites)},
		{&f.alternatives, emptyToNil(p.Alternatives)},
		{&f.sources, emptyToNil(p.Sources)},
		{&f.extra, mapToNil(p.Extra)},
	} {
		if col.v == nil {
			continue
		}
		b, err := json.Marshal(col.v)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to marshal pattern field: %w", err)
		}
		*col.dst = sql.NullString{String: string(b), Valid: true}
	}
	return f, nil
}

func emptyToNil(s []string) interface{} {
	if len(s) == 0 {
		return nil
	}
	return s
}

func mapToNil(m map[string]interface{}) interface{} {
	if len(m) == 0 {
		return nil
	}
	return m
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPattern reads one row in patternColumns order.
func scanPattern(row rowScanner) (*types.Pattern, error) {
	var p types.Pattern
	var patternType, name, problem, solution, description sql.NullString
	var steps, conditions, tags, examples sql.NullString
	var related, prerequisites, alternatives, sources, extra sql.NullString
	var origin, originQuery, generatedBy sql.NullString
	var generatedAt, reviewedAt, lastUsedAt sql.NullTime
	var reviewedBy, reviewNotes sql.NullString
	var userRating sql.NullFloat64
	var status string

	err := row.Scan(
		&p.ID, &p.DomainID, &patternType, &status, &p.Confidence,
		&name, &problem, &solution, &description,
		&steps, &conditions, &tags, &examples,
		&related, &prerequisites, &alternatives, &sources, &extra,
		&origin, &originQuery, &generatedBy, &generatedAt,
		&reviewedBy, &reviewedAt, &reviewNotes,
		&p.UsageCount, &lastUsedAt, &userRating,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = types.PatternStatus(status)
	p.PatternType = patternType.String
	p.Name = name.String
	p.Problem = problem.String
	p.Solution = solution.String
	p.Description = description.String
	p.Origin = origin.String
	p.OriginQuery = originQuery.String
	p.GeneratedBy = generatedBy.String
	p.ReviewedBy = reviewedBy.String
	p.ReviewNotes = reviewNotes.String

	if generatedAt.Valid {
		t := generatedAt.Time
		p.GeneratedAt = &t
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		p.ReviewedAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		p.LastUsedAt = &t
	}
	if userRating.Valid {
		r := userRating.Float64
		p.UserRating = &r
	}

	for _, col := range []struct {
		src  sql.NullString
		dst  interface{}
		name string
	}{
		{steps, &p.Steps, "steps"},
		{conditions, &p.Conditions, "conditions"},
		{tags, &p.Tags, "tags"},
		{examples, &p.Examples, "examples"},
		{related, &p.RelatedPatterns, "related_patterns"},
		{prerequisites, &p.Prerequisites, "prerequisites"},
		{alternatives, &p.Alternatives, "alternatives"},
		{sources, &p.Sources, "sources"},
		{extra, &p.Extra, "extra"},
	} {
		if !col.src.Valid || col.src.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.src.String), col.dst); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", col.name, err)
		}
	}

	return &p, nil
}

// scanPatterns reads all rows returned by a query in patternColumns order.
func scanPatterns(rows *sql.Rows) ([]types.Pattern, error) {
	var patterns []types.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, *p)
	}
	return patterns, rows.Err()
}

// storageErr wraps an engine-level failure with the typed sentinel so
// callers can distinguish "store is broken" from "no results".
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: sqlite %s: %v", storage.ErrStorageUnavailable, op, err)
}

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullableString converts a string to sql.NullString; empty means NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableFloat converts a float pointer to sql.NullFloat64.
func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
