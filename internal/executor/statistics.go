package executor

import "github.com/serengeti-db/serengeti/internal/catalog"

// CatalogStatistics is the default query.Statistics implementation,
// deriving row counts and index presence straight from the catalog
// rather than maintaining a separate statistics store, reading live
// counters instead of a precomputed snapshot.
type CatalogStatistics struct {
	catalog *catalog.Catalog
}

// NewCatalogStatistics builds a Statistics view over cat.
func NewCatalogStatistics(cat *catalog.Catalog) *CatalogStatistics {
	return &CatalogStatistics{catalog: cat}
}

// RowCount reports the live row count for (db,table), or false if the
// table cannot be scanned — callers fall back to conservative defaults
// when statistics are absent.
func (s *CatalogStatistics) RowCount(db, table string) (int, bool) {
	rows, err := s.catalog.ScanRows(db, table)
	if err != nil {
		return 0, false
	}
	return len(rows), true
}

// HasIndex reports whether a secondary index exists on column for
// (db,table).
func (s *CatalogStatistics) HasIndex(db, table, column string) bool {
	_, ok := s.catalog.Index(db, table, column)
	return ok
}
