package executor

import (
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/memory"
	"github.com/serengeti-db/serengeti/internal/query"
)

func init() {
	gob.Register(catalog.Value{})
}

// sortChunkRows bounds how many rows a SortSpillManager chunk buffers
// before the next row starts a new in-memory chunk; spills are forced
// by the memory manager, not by this count.
const sortChunkRows = 5000

// rowMemorySize is a rough per-row byte estimate fed to the memory
// manager's allocation accounting; it does not need to be exact, only
// proportionate, since it only gates when a spill is forced.
func rowMemorySize(r catalog.Row) int64 {
	size := int64(len(r.RowID)) + 16
	for k, v := range r.Columns {
		size += int64(len(k)) + 8
		switch v.Kind {
		case catalog.KindString:
			size += int64(len(v.Str))
		case catalog.KindBlob:
			size += int64(len(v.Blob))
		default:
			size += 16
		}
	}
	return size
}

func toMemRow(r catalog.Row) memory.Row {
	m := make(memory.Row, len(r.Columns)+1)
	m["__rowid"] = r.RowID
	for k, v := range r.Columns {
		m[k] = v
	}
	return m
}

func fromMemRow(m memory.Row) catalog.Row {
	rowID, _ := m["__rowid"].(string)
	cols := make(map[string]catalog.Value, len(m))
	for k, v := range m {
		if k == "__rowid" {
			continue
		}
		if cv, ok := v.(catalog.Value); ok {
			cols[k] = cv
		}
	}
	return catalog.Row{RowID: rowID, Columns: cols}
}

// mergeLeftRight combines one matched pair of rows from a join: right's
// columns overlay left's on a name collision, and the row identity of
// the merged row is the left (driving) side's.
func mergeLeftRight(left, right catalog.Row) catalog.Row {
	cols := make(map[string]catalog.Value, len(left.Columns)+len(right.Columns))
	for k, v := range left.Columns {
		cols[k] = v
	}
	for k, v := range right.Columns {
		cols[k] = v
	}
	return catalog.Row{RowID: left.RowID, Columns: cols}
}

// sortRows orders rows by terms in left-to-right priority order,
// buffering through a memory.SortSpillManager registered against
// queryID so the sort spills to disk once the process-wide query
// memory pool is exhausted. With e.memMgr nil, rows are sorted
// in-process with no spill accounting.
func (e *Executor) sortRows(queryID memory.QueryID, rows []catalog.Row, terms []query.OrderTerm) ([]catalog.Row, error) {
	less := func(a, b memory.Row) bool {
		for _, t := range terms {
			av, _ := a[t.Col].(catalog.Value)
			bv, _ := b[t.Col].(catalog.Value)
			c := compareValues(av, bv)
			if c == 0 {
				continue
			}
			if t.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	}

	if e.memMgr == nil {
		out := append([]catalog.Row(nil), rows...)
		sortCatalogRows(out, terms)
		return out, nil
	}

	sm := memory.NewSortSpillManager(less, sortChunkRows, "")
	e.memMgr.RegisterSpillManager(queryID, "sort", sm)
	defer func() { _ = sm.Cleanup() }()

	for _, r := range rows {
		sm.AddRow(toMemRow(r))
		if !e.memMgr.Allocate(queryID, "sort", rowMemorySize(r)) {
			return nil, fmt.Errorf("out of memory sorting %d rows", len(rows))
		}
	}

	merged, err := sm.MergeChunks()
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Row, len(merged))
	for i, mr := range merged {
		out[i] = fromMemRow(mr)
	}
	return out, nil
}

// runHashJoin builds a hash table from the plan's chosen build side
// (the smaller estimated side, left by default) and probes it with the
// other side, spilling the build side's partitions to disk under
// memory pressure.
func (e *Executor) runHashJoin(queryID memory.QueryID, op query.QueryOperation, leftRows []catalog.Row) ([]catalog.Row, error) {
	rightRows, err := e.catalog.ScanRows(op.JoinDB, op.JoinTable)
	if err != nil {
		return nil, err
	}

	buildRows, probeRows := leftRows, rightRows
	buildCol, probeCol := op.JoinLeftCol, op.JoinRightCol
	buildIsLeft := true
	if op.BuildSide == "right" {
		buildRows, probeRows = rightRows, leftRows
		buildCol, probeCol = op.JoinRightCol, op.JoinLeftCol
		buildIsLeft = false
	}

	hj := memory.NewHashJoinSpillManager("")
	if e.memMgr != nil {
		e.memMgr.RegisterSpillManager(queryID, "hashjoin", hj)
	}
	defer func() { _ = hj.Cleanup() }()

	for _, r := range buildRows {
		key := joinKey(r, buildCol)
		hj.AddRow(key, toMemRow(r))
		if e.memMgr != nil && !e.memMgr.Allocate(queryID, "hashjoin", rowMemorySize(r)) {
			return nil, fmt.Errorf("out of memory building hash join on %s.%s", op.JoinDB, op.JoinTable)
		}
	}

	var out []catalog.Row
	for _, p := range probeRows {
		key := joinKey(p, probeCol)
		matches := hj.Partition(key)
		if matches == nil {
			if spilled, err := hj.ReadFromDisk(key); err == nil {
				matches = spilled
			}
		}
		for _, m := range matches {
			build := fromMemRow(m)
			if buildIsLeft {
				out = append(out, mergeLeftRight(build, p))
			} else {
				out = append(out, mergeLeftRight(p, build))
			}
		}
	}
	return out, nil
}

// runIndexJoin probes an existing index on the join's right-hand table
// for each row of the driving (left) side, avoiding the hash build
// entirely.
func (e *Executor) runIndexJoin(op query.QueryOperation, leftRows []catalog.Row) ([]catalog.Row, error) {
	idx, ok := e.catalog.Index(op.JoinDB, op.JoinTable, op.JoinRightCol)
	if !ok {
		return nil, fmt.Errorf("index join: no index on %s.%s(%s)", op.JoinDB, op.JoinTable, op.JoinRightCol)
	}

	var out []catalog.Row
	for _, l := range leftRows {
		v, ok := l.Columns[op.JoinLeftCol]
		if !ok {
			continue
		}
		for _, id := range idx.Lookup("=", v) {
			r, found, err := e.catalog.Get(op.JoinDB, op.JoinTable, id)
			if err != nil {
				return nil, err
			}
			if found {
				out = append(out, mergeLeftRight(l, r))
			}
		}
	}
	return out, nil
}

func joinKey(r catalog.Row, col string) string {
	return fmt.Sprint(r.Columns[col].Native())
}

// sortCatalogRows is the in-process sort path taken when no
// memory.Manager is configured.
func sortCatalogRows(rows []catalog.Row, terms []query.OrderTerm) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, t := range terms {
			c := compareValues(rows[i].Columns[t.Col], rows[j].Columns[t.Col])
			if c == 0 {
				continue
			}
			if t.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
