package replication

import "github.com/serengeti-db/serengeti/internal/catalog"

// Applier is the slice of the catalog the replication server applies
// inbound messages to. A small interface here keeps this package from
// depending on the catalog's full surface.
type Applier interface {
	EnsureDatabase(db string) error
	EnsureTable(db, table string) error
	ApplyReplicatedInsert(db, table string, row catalog.Row) error
	ApplyReplicatedUpdate(db, table string, row catalog.Row) error
	ApplyReplicatedDelete(db, table, rowID string) error
	ApplyReplicatedPlacement(db, table, rowID string, p catalog.Placement) error
}
