// Package sqlite provides the embedded SQLite implementation of the
// pattern store, including the FTS5 text index kept in sync via triggers.
package sqlite

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent (IF NOT EXISTS) so the schema can be applied
// on every open.
//
// The patterns_fts virtual table is an external-content FTS5 index over the
// four free-text columns. The after-insert/after-delete/after-update
// triggers run inside the same transaction as the row mutation, which is
// what keeps the text index and the record store atomic: a rollback undoes
// both sides together.
const Schema = `
-- Patterns table: canonical pattern records
CREATE TABLE IF NOT EXISTS patterns (
    id TEXT PRIMARY KEY,
    domain_id TEXT NOT NULL DEFAULT 'general',
    pattern_type TEXT,
    status TEXT NOT NULL DEFAULT 'candidate',
    confidence REAL NOT NULL DEFAULT 0.5,

    -- Free-text columns feeding the text index
    name TEXT,
    problem TEXT,
    solution TEXT,
    description TEXT,

    -- Structured fields serialized as JSON
    steps TEXT,
    conditions TEXT,
    tags TEXT,
    examples TEXT,
    related_patterns TEXT,
    prerequisites TEXT,
    alternatives TEXT,
    sources TEXT,
    extra TEXT,

    -- Provenance
    origin TEXT,
    origin_query TEXT,
    generated_by TEXT,
    generated_at TIMESTAMP,

    -- Review metadata
    reviewed_by TEXT,
    reviewed_at TIMESTAMP,
    review_notes TEXT,

    -- Usage signals
    usage_count INTEGER NOT NULL DEFAULT 0,
    last_used_at TIMESTAMP,
    user_rating REAL,

    -- Timestamps
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_patterns_status ON patterns(status);
CREATE INDEX IF NOT EXISTS idx_patterns_domain ON patterns(domain_id);
CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON patterns(confidence);
CREATE INDEX IF NOT EXISTS idx_patterns_origin_query ON patterns(origin_query);
CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(pattern_type);

-- Full-text search over the free-text columns
CREATE VIRTUAL TABLE IF NOT EXISTS patterns_fts USING fts5(
    name, problem, solution, description,
    content='patterns',
    content_rowid='rowid'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS patterns_ai AFTER INSERT ON patterns BEGIN
    INSERT INTO patterns_fts(rowid, name, problem, solution, description)
    VALUES (new.rowid, new.name, new.problem, new.solution, new.description);
END;

CREATE TRIGGER IF NOT EXISTS patterns_ad AFTER DELETE ON patterns BEGIN
    INSERT INTO patterns_fts(patterns_fts, rowid, name, problem, solution, description)
    VALUES ('delete', old.rowid, old.name, old.problem, old.solution, old.description);
END;

CREATE TRIGGER IF NOT EXISTS patterns_au AFTER UPDATE ON patterns BEGIN
    INSERT INTO patterns_fts(patterns_fts, rowid, name, problem, solution, description)
    VALUES ('delete', old.rowid, old.name, old.problem, old.solution, old.description);
    INSERT INTO patterns_fts(rowid, name, problem, solution, description)
    VALUES (new.rowid, new.name, new.problem, new.solution, new.description);
END;
`
