// Package postgres provides a PostgreSQL implementation of the pattern store.
// This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the patterns table (embeddings
// cascade). Defined in the postgres package for access to the unexported db
// field, exported so postgres_test can call it.
func (s *PatternStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE patterns RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate patterns: %w", err)
	}
	return nil
}
