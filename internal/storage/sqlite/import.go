package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/orangelightening/exframe/pkg/types"
)

// legacyFile is the envelope form of the flat-file export. A bare JSON array
// of patterns is also accepted.
type legacyFile struct {
	Patterns []types.Pattern `json:"patterns"`
}

// importLegacyFile migrates a flat-file JSON pattern collection into the
// store. It runs only when the store is empty, so an already-migrated
// database never re-imports. A file that fails to parse is moved aside to a
// timestamped backup and startup continues with an empty store.
func (s *PatternStore) importLegacyFile(ctx context.Context, path string) error {
	count, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite: failed to read legacy file: %w", err)
	}

	patterns, err := parseLegacyPatterns(data)
	if err != nil {
		backup := fmt.Sprintf("%s.corrupt.%s", path, time.Now().UTC().Format("20060102T150405"))
		if renameErr := os.Rename(path, backup); renameErr != nil {
			log.Printf("sqlite: could not back up corrupt legacy file %s: %v", path, renameErr)
		} else {
			log.Printf("sqlite: legacy file %s is corrupt, moved to %s: %v", path, backup, err)
		}
		return nil
	}

	imported := 0
	for i := range patterns {
		p := patterns[i]
		if err := s.Add(ctx, &p); err != nil {
			log.Printf("sqlite: skipping legacy pattern %q: %v", p.ID, err)
			continue
		}
		imported++
	}

	if imported > 0 {
		log.Printf("sqlite: imported %d legacy patterns from %s", imported, path)
	}
	return nil
}

// parseLegacyPatterns accepts either {"patterns": [...]} or a bare array.
func parseLegacyPatterns(data []byte) ([]types.Pattern, error) {
	var envelope legacyFile
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Patterns != nil {
		return envelope.Patterns, nil
	}

	var bare []types.Pattern
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("not a pattern collection: %w", err)
	}
	return bare, nil
}
