package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/recalld/internal/toolresult"
)

// The catalog is a JSON sidecar next to the vector index holding the full
// entry rows. It serves point lookups, range cleanup and access tracking,
// which the equality-only vector index cannot. Writes are atomic
// (temp file + rename).

const catalogFile = "catalog.json"

func catalogPath(dir string) string {
	return filepath.Join(dir, catalogFile)
}

// loadCatalog reads the catalog file. A missing file yields an empty
// catalog (first run).
func loadCatalog(path string) (map[string]*toolresult.Entry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*toolresult.Entry), nil
		}
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var rows []*toolresult.Entry
	if err := json.Unmarshal(content, &rows); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	catalog := make(map[string]*toolresult.Entry, len(rows))
	for _, row := range rows {
		if row == nil || row.ID == "" {
			continue
		}
		catalog[row.ID] = row
	}
	return catalog, nil
}

// persistCatalogLocked writes the catalog atomically. Caller holds s.mu.
func (s *Store) persistCatalogLocked() error {
	rows := make([]*toolresult.Entry, 0, len(s.catalog))
	for _, entry := range s.catalog {
		rows = append(rows, entry)
	}

	content, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	path := catalogPath(s.path)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}
