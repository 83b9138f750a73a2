// Package postgres provides a PostgreSQL implementation of the pattern store.
package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. All statements are idempotent.
const Schema = `
-- Patterns table: core pattern storage.
CREATE TABLE IF NOT EXISTS patterns (
    id TEXT PRIMARY KEY,
    domain_id TEXT NOT NULL DEFAULT 'general',
    pattern_type TEXT,
    status TEXT NOT NULL DEFAULT 'candidate',
    confidence REAL NOT NULL DEFAULT 0.5,

    -- Free-text content (indexed for search)
    name TEXT,
    problem TEXT,
    solution TEXT,
    description TEXT,

    -- Structured content
    steps JSONB,
    conditions JSONB,
    tags JSONB,
    examples JSONB,
    related_patterns JSONB,
    prerequisites JSONB,
    alternatives JSONB,
    sources JSONB,
    extra JSONB,

    -- Provenance
    origin TEXT,
    origin_query TEXT,
    generated_by TEXT,
    generated_at TIMESTAMP,

    -- Review trail
    reviewed_by TEXT,
    reviewed_at TIMESTAMP,
    review_notes TEXT,

    -- Usage signals
    usage_count INTEGER NOT NULL DEFAULT 0,
    last_used_at TIMESTAMP,
    user_rating REAL,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_patterns_status ON patterns(status);
CREATE INDEX IF NOT EXISTS idx_patterns_domain_id ON patterns(domain_id);
CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON patterns(confidence DESC);
CREATE INDEX IF NOT EXISTS idx_patterns_origin_query ON patterns(origin_query);
CREATE INDEX IF NOT EXISTS idx_patterns_pattern_type ON patterns(pattern_type);
CREATE INDEX IF NOT EXISTS idx_patterns_created_at ON patterns(created_at);

-- Embeddings table: one vector per pattern.
CREATE TABLE IF NOT EXISTS pattern_embeddings (
    pattern_id TEXT PRIMARY KEY,
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);
`

// MigrationFTS adds tsvector full-text search over the pattern content
// fields. Safe to run multiple times.
const MigrationFTS = `
-- Add tsvector column for full-text search if it doesn't already exist.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'patterns' AND column_name = 'content_tsv'
    ) THEN
        ALTER TABLE patterns ADD COLUMN content_tsv tsvector;
    END IF;
END
$$;

-- Populate the tsvector column for any existing rows.
UPDATE patterns SET content_tsv = to_tsvector('english',
    COALESCE(name, '') || ' ' || COALESCE(problem, '') || ' ' ||
    COALESCE(solution, '') || ' ' || COALESCE(description, ''))
WHERE content_tsv IS NULL;

CREATE INDEX IF NOT EXISTS idx_patterns_content_tsv ON patterns USING GIN(content_tsv);

-- Keep content_tsv in sync with the indexed columns.
CREATE OR REPLACE FUNCTION patterns_tsv_update()
RETURNS TRIGGER AS $$
BEGIN
    NEW.content_tsv := to_tsvector('english',
        COALESCE(NEW.name, '') || ' ' || COALESCE(NEW.problem, '') || ' ' ||
        COALESCE(NEW.solution, '') || ' ' || COALESCE(NEW.description, ''));
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS patterns_tsv_trigger ON patterns;
CREATE TRIGGER patterns_tsv_trigger
    BEFORE INSERT OR UPDATE OF name, problem, solution, description
    ON patterns
    FOR EACH ROW
    EXECUTE FUNCTION patterns_tsv_update();
`

// MigrationPgvector adds the vector column to pattern_embeddings. Applied
// only when the pgvector extension is available. Safe to run multiple times.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'pattern_embeddings' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE pattern_embeddings ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

-- ivfflat needs at least one row before index creation; guard with a DO block.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_pattern_embeddings_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM pattern_embeddings LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_pattern_embeddings_vec_cosine ON pattern_embeddings USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
