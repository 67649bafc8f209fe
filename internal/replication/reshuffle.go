package replication

import "github.com/serengeti-db/serengeti/internal/catalog"

// ReshuffleSource is the catalog surface the reshuffle worker needs to
// find every row a lost node held and re-place it.
type ReshuffleSource interface {
	ListDatabases() []string
	ListTables(db string) ([]string, error)
	Placements(db, table string) (map[string]catalog.Placement, error)
	Get(db, table, rowID string) (catalog.Row, bool, error)
	ApplyReplicatedPlacement(db, table, rowID string, p catalog.Placement) error
}

// Reshuffler implements cluster.ReshuffleHandler: when a node is
// evicted, every row it held primary or secondary for is re-placed.
type Reshuffler struct {
	transport *Transport
	source    ReshuffleSource
}

// NewReshuffler binds a Reshuffler to transport and source.
func NewReshuffler(transport *Transport, source ReshuffleSource) *Reshuffler {
	return &Reshuffler{transport: transport, source: source}
}

// HandleNodeLost re-places every row lost held primary or secondary
// for, sends the row to its new holder, updates the local replica map,
// and broadcasts the new placement.
func (r *Reshuffler) HandleNodeLost(lost string) {
	for _, db := range r.source.ListDatabases() {
		tables, err := r.source.ListTables(db)
		if err != nil {
			continue
		}
		for _, table := range tables {
			r.reshuffleTable(db, table, lost)
		}
	}
}

func (r *Reshuffler) reshuffleTable(db, table, lost string) {
	placements, err := r.source.Placements(db, table)
	if err != nil {
		return
	}

	for rowID, p := range placements {
		if p.Primary != lost && p.Secondary != lost {
			continue
		}

		row, found, err := r.source.Get(db, table, rowID)
		if err != nil || !found {
			continue
		}

		newPrimary, newSecondary, err := r.transport.PickPrimarySecondary()
		if err != nil {
			continue
		}
		next := catalog.Placement{Primary: newPrimary, Secondary: newSecondary}

		r.transport.SendReplicateInsert(next.Primary, db, table, row)
		if next.Secondary != "" {
			r.transport.SendReplicateInsert(next.Secondary, db, table, row)
		}

		r.source.ApplyReplicatedPlacement(db, table, rowID, next)
		r.transport.BroadcastPlacement(db, table, rowID, next)
	}
}
