package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/serengeti-db/serengeti/internal/errs"
	"github.com/serengeti-db/serengeti/internal/lsm"
	"github.com/serengeti-db/serengeti/internal/logging"
)

// ReplicationSink is the minimal surface the catalog needs from the
// replication transport to place and broadcast rows, injected at
// construction to break the catalog<->replication cycle.
type ReplicationSink interface {
	PickPrimarySecondary() (primary, secondary NodeID, err error)
	BroadcastPlacement(db, table, rowID string, p Placement)
	SendReplicateInsert(nodeID, db, table string, row Row) bool
	SendReplicateUpdate(nodeID, db, table string, row Row) bool
	SendReplicateDelete(nodeID, db, table, rowID string) bool
}

// SecondaryIndex is the pluggable interface for auxiliary index kinds.
// BTreeIndex (index.go) is its only implementation in this module: a
// FULLTEXT index is built as a BTreeIndex too, and no stub index kind
// exists.
type SecondaryIndex interface {
	Name() string
	Insert(rowID string, v Value)
	Remove(rowID string)
	Lookup(op string, v Value) []string
}

type tableEntry struct {
	meta    TableMeta
	engine  *lsm.Engine
	indexes map[string]SecondaryIndex // column name -> index

	mu         sync.RWMutex
	placements map[string]Placement
}

type databaseEntry struct {
	meta   DatabaseMeta
	tables map[string]*tableEntry
}

// Catalog is the in-memory databases/tables/replica-map view backed by
// one meta file per database and one directory per table.
type Catalog struct {
	mu        sync.RWMutex
	dataDir   string
	databases map[string]*databaseEntry
	sink      ReplicationSink
	validate  *validator.Validate
	log       *logging.Logger
}

// New opens or creates a catalog rooted at dataDir, replaying any
// `*.meta` files already on disk.
func New(dataDir string, sink ReplicationSink, log *logging.Logger) (*Catalog, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errs.IOPermanent("create data dir", err)
	}

	c := &Catalog{
		dataDir:   dataDir,
		databases: make(map[string]*databaseEntry),
		sink:      sink,
		validate:  validator.New(),
		log:       log.Component("catalog"),
	}

	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetSink attaches the replication sink after construction, breaking
// the startup cycle between the catalog and the transport it needs as
// an applier: the catalog is built first with sink nil (every sink
// call site already nil-checks), then the transport is built against
// the catalog, then wired back in with SetSink.
func (c *Catalog) SetSink(sink ReplicationSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

func (c *Catalog) reload() error {
	metaFiles, err := filepath.Glob(filepath.Join(c.dataDir, "*.meta"))
	if err != nil {
		return errs.IOTransient("glob meta files", err)
	}
	for _, mf := range metaFiles {
		data, err := os.ReadFile(mf)
		if err != nil {
			return errs.IOTransient("read meta file", err)
		}
		var dbMeta DatabaseMeta
		if err := json.Unmarshal(data, &dbMeta); err != nil {
			return errs.IOPermanent("corrupt meta file "+mf, err)
		}

		db := &databaseEntry{meta: dbMeta, tables: make(map[string]*tableEntry)}
		for _, tname := range dbMeta.Tables {
			te, err := c.openTable(dbMeta.Name, tname)
			if err != nil {
				return err
			}
			db.tables[tname] = te
		}
		c.databases[dbMeta.Name] = db
	}
	return nil
}

func (c *Catalog) dbMetaPath(name string) string {
	return filepath.Join(c.dataDir, name+".meta")
}

func (c *Catalog) tableDir(db, table string) string {
	return filepath.Join(c.dataDir, db, table)
}

func (c *Catalog) validateName(name string) error {
	if err := c.validate.Var(name, "required,max=1000"); err != nil {
		return errs.Parse("invalid name: " + err.Error())
	}
	return nil
}

// CreateDatabase creates an empty database. Fails when the name is
// empty, too long, or already exists.
func (c *Catalog) CreateDatabase(name string) error {
	if err := c.validateName(name); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.databases[name]; ok {
		return errs.CatalogConflict("database already exists: " + name)
	}

	if err := os.MkdirAll(filepath.Join(c.dataDir, name), 0o755); err != nil {
		return errs.IOPermanent("create database dir", err)
	}

	meta := DatabaseMeta{Name: name, Tables: []string{}}
	if err := writeJSONAtomic(c.dbMetaPath(name), meta); err != nil {
		return errs.IOTransient("write database meta", err)
	}

	c.databases[name] = &databaseEntry{meta: meta, tables: make(map[string]*tableEntry)}
	return nil
}

// DropDatabase removes a database and all its tables. Fails when absent.
func (c *Catalog) DropDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, ok := c.databases[name]
	if !ok {
		return errs.NotFound("database not found: " + name)
	}
	for _, te := range db.tables {
		te.engine.Close()
	}

	if err := os.RemoveAll(filepath.Join(c.dataDir, name)); err != nil {
		return errs.IOTransient("remove database dir", err)
	}
	os.Remove(c.dbMetaPath(name))
	delete(c.databases, name)
	return nil
}

// CreateTable creates table (with an optional column schema; empty
// columns means schema-less) inside db. Fails when the table exists or
// the database is absent.
func (c *Catalog) CreateTable(db, table string, columns []Column) error {
	if err := c.validateName(table); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dbEntry, ok := c.databases[db]
	if !ok {
		return errs.NotFound("database not found: " + db)
	}
	if _, exists := dbEntry.tables[table]; exists {
		return errs.CatalogConflict("table already exists: " + db + "." + table)
	}

	te, err := c.createTableLocked(db, table, columns)
	if err != nil {
		return err
	}
	dbEntry.tables[table] = te
	dbEntry.meta.Tables = append(dbEntry.meta.Tables, table)
	sort.Strings(dbEntry.meta.Tables)
	return writeJSONAtomic(c.dbMetaPath(db), dbEntry.meta)
}

func (c *Catalog) createTableLocked(db, table string, columns []Column) (*tableEntry, error) {
	dir := c.tableDir(db, table)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.IOPermanent("create table dir", err)
	}

	eng, err := lsm.Open(lsm.DefaultOptions(filepath.Join(dir, "storage.bin")))
	if err != nil {
		return nil, errs.IOTransient("open storage engine", err)
	}

	meta := TableMeta{DB: db, Name: table, Columns: columns}
	if err := writeJSONAtomic(filepath.Join(dir, "schema.json"), meta); err != nil {
		return nil, errs.IOTransient("write table schema", err)
	}

	rf := ReplicaFile{Placements: make(map[string]Placement)}
	if err := writeJSONAtomic(filepath.Join(dir, "replica.bin"), rf); err != nil {
		return nil, errs.IOTransient("write replica file", err)
	}

	return &tableEntry{
		meta:       meta,
		engine:     eng,
		indexes:    make(map[string]SecondaryIndex),
		placements: make(map[string]Placement),
	}, nil
}

func (c *Catalog) openTable(db, table string) (*tableEntry, error) {
	dir := c.tableDir(db, table)

	eng, err := lsm.Open(lsm.DefaultOptions(filepath.Join(dir, "storage.bin")))
	if err != nil {
		return nil, errs.IOTransient("open storage engine", err)
	}

	var meta TableMeta
	if data, err := os.ReadFile(filepath.Join(dir, "schema.json")); err == nil {
		json.Unmarshal(data, &meta)
	}
	meta.DB, meta.Name = db, table

	placements := make(map[string]Placement)
	if data, err := os.ReadFile(filepath.Join(dir, "replica.bin")); err == nil {
		var rf ReplicaFile
		if json.Unmarshal(data, &rf) == nil {
			placements = rf.Placements
		}
	}

	return &tableEntry{meta: meta, engine: eng, indexes: make(map[string]SecondaryIndex), placements: placements}, nil
}

// DropTable removes table's directory and updates db's meta file.
// Idempotent: returns (false, nil) when the table does not exist.
func (c *Catalog) DropTable(db, table string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dbEntry, ok := c.databases[db]
	if !ok {
		return false, nil
	}
	te, ok := dbEntry.tables[table]
	if !ok {
		return false, nil
	}
	te.engine.Close()

	if err := os.RemoveAll(c.tableDir(db, table)); err != nil {
		return false, errs.IOTransient("remove table dir", err)
	}
	delete(dbEntry.tables, table)

	filtered := dbEntry.meta.Tables[:0]
	for _, t := range dbEntry.meta.Tables {
		if t != table {
			filtered = append(filtered, t)
		}
	}
	dbEntry.meta.Tables = filtered
	return true, writeJSONAtomic(c.dbMetaPath(db), dbEntry.meta)
}

// AlterTable applies one ADD COLUMN or DROP COLUMN to table's schema
// and persists the updated schema.json. Schema-less tables (no
// declared columns) gain a schema on their first ADD COLUMN; existing
// rows are left untouched either way, since Row.Columns is a bag
// independent of the declared schema.
func (c *Catalog) AlterTable(db, table, action, column, colType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dbEntry, ok := c.databases[db]
	if !ok {
		return errs.NotFound("database not found: " + db)
	}
	te, ok := dbEntry.tables[table]
	if !ok {
		return errs.NotFound("table not found: " + db + "." + table)
	}

	switch action {
	case "ADD":
		if _, exists := te.meta.column(column); exists {
			return errs.CatalogConflict(fmt.Sprintf("column already exists: %s.%s.%s", db, table, column))
		}
		kind, ok := ParseValueKind(colType)
		if !ok {
			return errs.Parse("unknown column type: " + colType)
		}
		te.meta.Columns = append(te.meta.Columns, Column{Name: column, Type: kind})

	case "DROP":
		idx := -1
		for i, c := range te.meta.Columns {
			if c.Name == column {
				idx = i
				break
			}
		}
		if idx == -1 {
			return errs.NotFound(fmt.Sprintf("column not found: %s.%s.%s", db, table, column))
		}
		te.meta.Columns = append(te.meta.Columns[:idx], te.meta.Columns[idx+1:]...)

	default:
		return errs.Parse("unknown ALTER TABLE action: " + action)
	}

	return writeJSONAtomic(filepath.Join(c.tableDir(db, table), "schema.json"), te.meta)
}

func (c *Catalog) DatabaseExists(db string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.databases[db]
	return ok
}

func (c *Catalog) TableExists(db, table string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dbEntry, ok := c.databases[db]
	if !ok {
		return false
	}
	_, ok = dbEntry.tables[table]
	return ok
}

func (c *Catalog) ListDatabases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.databases))
	for name := range c.databases {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) ListTables(db string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dbEntry, ok := c.databases[db]
	if !ok {
		return nil, errs.NotFound("database not found: " + db)
	}
	out := append([]string(nil), dbEntry.meta.Tables...)
	sort.Strings(out)
	return out, nil
}

// TableSchema returns table's column schema, if any.
func (c *Catalog) TableSchema(db, table string) (TableMeta, error) {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return TableMeta{}, err
	}
	return te.meta, nil
}

func (c *Catalog) lookupTable(db, table string) (*tableEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dbEntry, ok := c.databases[db]
	if !ok {
		return nil, errs.NotFound("database not found: " + db)
	}
	te, ok := dbEntry.tables[table]
	if !ok {
		return nil, errs.NotFound("table not found: " + db + "." + table)
	}
	return te, nil
}

// validateRow rejects columns not present in table's schema; schema-
// less tables accept any column set.
func validateRow(meta TableMeta, columns map[string]Value) error {
	if !meta.HasSchema() {
		return nil
	}
	for name := range columns {
		if _, ok := meta.column(name); !ok {
			return errs.CatalogConflict(fmt.Sprintf("unknown column %q for table %s.%s", name, meta.DB, meta.Name))
		}
	}
	return nil
}

// Insert assigns a fresh rowId, writes the row via the LSM engine,
// assigns {primary,secondary} via the replication sink, persists the
// placement, and broadcasts it. Local write always happens before
// replication (see DESIGN.md's durability-ordering decision).
func (c *Catalog) Insert(db, table string, columns map[string]Value) (Row, error) {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return Row{}, err
	}
	if err := validateRow(te.meta, columns); err != nil {
		return Row{}, err
	}

	row := Row{RowID: uuid.NewString(), Columns: columns}
	data, err := json.Marshal(row)
	if err != nil {
		return Row{}, errs.IOPermanent("marshal row", err)
	}
	if err := te.engine.Put([]byte(row.RowID), data); err != nil {
		return Row{}, errs.IOTransient("write row", err)
	}

	c.updateIndexesLocked(te, row, true)
	c.placeRow(te, db, table, row)

	return row, nil
}

func (c *Catalog) placeRow(te *tableEntry, db, table string, row Row) {
	if c.sink == nil {
		return
	}
	primary, secondary, err := c.sink.PickPrimarySecondary()
	if err != nil {
		c.log.Warn("replica placement failed", logging.F("error", err.Error()))
		return
	}
	p := Placement{Primary: primary, Secondary: secondary}

	te.mu.Lock()
	te.placements[row.RowID] = p
	snapshot := make(map[string]Placement, len(te.placements))
	for k, v := range te.placements {
		snapshot[k] = v
	}
	te.mu.Unlock()

	c.persistReplicaFile(db, table, snapshot)
	c.sink.BroadcastPlacement(db, table, row.RowID, p)
}

func (c *Catalog) persistReplicaFile(db, table string, placements map[string]Placement) {
	path := filepath.Join(c.tableDir(db, table), "replica.bin")
	if err := writeJSONAtomic(path, ReplicaFile{Placements: placements}); err != nil {
		c.log.Warn("failed to persist replica file", logging.F("error", err.Error()))
	}
}

// Get reads a row by id.
func (c *Catalog) Get(db, table, rowID string) (Row, bool, error) {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return Row{}, false, err
	}
	data, ok := te.engine.Get([]byte(rowID))
	if !ok {
		return Row{}, false, nil
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return Row{}, false, errs.IOPermanent("corrupt row", err)
	}
	return row, true, nil
}

// Update overwrites an existing row's columns, mirroring the write to
// the local LSM engine before replicating (Open Question resolution).
func (c *Catalog) Update(db, table, rowID string, columns map[string]Value) (Row, error) {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return Row{}, err
	}
	if err := validateRow(te.meta, columns); err != nil {
		return Row{}, err
	}

	row := Row{RowID: rowID, Columns: columns}
	data, err := json.Marshal(row)
	if err != nil {
		return Row{}, errs.IOPermanent("marshal row", err)
	}
	if err := te.engine.Put([]byte(rowID), data); err != nil {
		return Row{}, errs.IOTransient("write row", err)
	}
	c.updateIndexesLocked(te, row, true)

	te.mu.RLock()
	p, ok := te.placements[rowID]
	te.mu.RUnlock()
	if ok && c.sink != nil {
		c.sink.SendReplicateUpdate(p.Primary, db, table, row)
		c.sink.SendReplicateUpdate(p.Secondary, db, table, row)
	}
	return row, nil
}

// Delete removes a row (tombstones it in the LSM engine).
func (c *Catalog) Delete(db, table, rowID string) error {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return err
	}
	if err := te.engine.Delete([]byte(rowID)); err != nil {
		return errs.IOTransient("delete row", err)
	}

	te.mu.Lock()
	p, ok := te.placements[rowID]
	delete(te.placements, rowID)
	te.mu.Unlock()

	if ok && c.sink != nil {
		c.sink.SendReplicateDelete(p.Primary, db, table, rowID)
		c.sink.SendReplicateDelete(p.Secondary, db, table, rowID)
	}
	return nil
}

func (c *Catalog) updateIndexesLocked(te *tableEntry, row Row, upsert bool) {
	for col, idx := range te.indexes {
		v, ok := row.Columns[col]
		if !ok {
			continue
		}
		if upsert {
			idx.Insert(row.RowID, v)
		} else {
			idx.Remove(row.RowID)
		}
	}
}

// CreateIndex registers idx against col; nil returns once registered.
func (c *Catalog) CreateIndex(db, table, col string, idx SecondaryIndex) error {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return err
	}
	te.indexes[col] = idx
	return nil
}

// DropIndex removes a previously registered index. Idempotent.
func (c *Catalog) DropIndex(db, table, col string) error {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return err
	}
	delete(te.indexes, col)
	return nil
}

// Index returns the index registered on col, if any.
func (c *Catalog) Index(db, table, col string) (SecondaryIndex, bool) {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return nil, false
	}
	idx, ok := te.indexes[col]
	return idx, ok
}

// IndexNames lists registered index column names on table.
func (c *Catalog) IndexNames(db, table string) ([]string, error) {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(te.indexes))
	for col := range te.indexes {
		out = append(out, col)
	}
	sort.Strings(out)
	return out, nil
}

// Engine exposes the raw LSM engine backing (db,table), for the query
// executor's SCAN operator.
func (c *Catalog) Engine(db, table string) (*lsm.Engine, error) {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return nil, err
	}
	return te.engine, nil
}

// ScanRows returns every live row in (db,table); used by SCAN when no
// index applies.
func (c *Catalog) ScanRows(db, table string) ([]Row, error) {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return nil, err
	}

	entries, err := te.engine.AllLiveEntries()
	if err != nil {
		return nil, errs.IOTransient("scan table", err)
	}

	rows := make([]Row, 0, len(entries))
	for _, data := range entries {
		var row Row
		if err := json.Unmarshal(data, &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Placements returns a snapshot of table's replica map.
func (c *Catalog) Placements(db, table string) (map[string]Placement, error) {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return nil, err
	}
	te.mu.RLock()
	defer te.mu.RUnlock()
	out := make(map[string]Placement, len(te.placements))
	for k, v := range te.placements {
		out[k] = v
	}
	return out, nil
}

// ApplyReplicatedPlacement installs a placement learned via a
// PlacementUpdate message without going through Insert.
func (c *Catalog) ApplyReplicatedPlacement(db, table, rowID string, p Placement) error {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return err
	}
	te.mu.Lock()
	te.placements[rowID] = p
	snapshot := make(map[string]Placement, len(te.placements))
	for k, v := range te.placements {
		snapshot[k] = v
	}
	te.mu.Unlock()
	c.persistReplicaFile(db, table, snapshot)
	return nil
}

// ApplyReplicatedInsert writes a row that arrived via ReplicateInsert,
// bypassing placement assignment (the sender already owns that).
func (c *Catalog) ApplyReplicatedInsert(db, table string, row Row) error {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return err
	}
	data, err := json.Marshal(row)
	if err != nil {
		return errs.IOPermanent("marshal row", err)
	}
	c.updateIndexesLocked(te, row, true)
	return te.engine.Put([]byte(row.RowID), data)
}

// ApplyReplicatedUpdate overwrites a row that arrived via
// ReplicateUpdate.
func (c *Catalog) ApplyReplicatedUpdate(db, table string, row Row) error {
	return c.ApplyReplicatedInsert(db, table, row)
}

// ApplyReplicatedDelete tombstones a row that arrived via
// ReplicateDelete.
func (c *Catalog) ApplyReplicatedDelete(db, table, rowID string) error {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return err
	}
	if err := te.engine.Delete([]byte(rowID)); err != nil {
		return errs.IOTransient("delete replicated row", err)
	}
	te.mu.Lock()
	delete(te.placements, rowID)
	te.mu.Unlock()
	return nil
}

// EnsureDatabase creates db if absent; used when applying a replicated
// write for a database this node has not yet seen locally.
func (c *Catalog) EnsureDatabase(db string) error {
	if c.DatabaseExists(db) {
		return nil
	}
	return c.CreateDatabase(db)
}

// EnsureTable creates (db,table) schema-less if absent.
func (c *Catalog) EnsureTable(db, table string) error {
	if c.TableExists(db, table) {
		return nil
	}
	return c.CreateTable(db, table, nil)
}

// SaveDatabase rewrites db's meta file, used by the persistence
// scheduler's per-database pass.
func (c *Catalog) SaveDatabase(db string) error {
	c.mu.RLock()
	dbEntry, ok := c.databases[db]
	c.mu.RUnlock()
	if !ok {
		return errs.NotFound("database not found: " + db)
	}
	return writeJSONAtomic(c.dbMetaPath(db), dbEntry.meta)
}

// SaveTable forces table's active MemTable to disk and rewrites its
// replica placement file, the per-table half of the persistence
// scheduler's pass.
func (c *Catalog) SaveTable(db, table string) error {
	te, err := c.lookupTable(db, table)
	if err != nil {
		return err
	}
	if err := te.engine.Flush(); err != nil {
		return errs.IOTransient("flush table", err)
	}

	te.mu.RLock()
	snapshot := make(map[string]Placement, len(te.placements))
	for k, v := range te.placements {
		snapshot[k] = v
	}
	te.mu.RUnlock()

	path := filepath.Join(c.tableDir(db, table), "replica.bin")
	if err := writeJSONAtomic(path, ReplicaFile{Placements: snapshot}); err != nil {
		return errs.IOTransient("write replica file", err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
