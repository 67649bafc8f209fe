// Package executor interprets a query.QueryPlan (or a DDL/control
// statement) against the catalog: an Execute path with panic recovery
// that refuses a statement once the caller's context is done, and an
// LRU result cache keyed by statement fingerprint.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/logging"
	"github.com/serengeti-db/serengeti/internal/memory"
	"github.com/serengeti-db/serengeti/internal/metrics"
	"github.com/serengeti-db/serengeti/internal/query"
)

// DefaultQueryTimeout is the value New stores in Executor.queryTimeout.
// Execution does not apply it: a statement is bounded only by the
// caller's context.
const DefaultQueryTimeout = 30 * time.Second

// Result is the JSON-serializable outcome of one statement.
type Result struct {
	Executed bool             `json:"executed"`
	List     []map[string]any `json:"list,omitempty"`
	Explain  string           `json:"explain,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func errResult(err error) Result {
	return Result{Executed: false, Error: err.Error()}
}

func okResult() Result { return Result{Executed: true} }

// Executor interprets statements against a catalog.Catalog.
type Executor struct {
	catalog      *catalog.Catalog
	optimizer    *query.Optimizer
	cache        *ResultCache
	metrics      *metrics.Registry
	log          *logging.Logger
	queryTimeout time.Duration
	memMgr       *memory.Manager

	optimizationEnabled bool
	cacheEnabled        bool

	tx *transaction
}

// transaction buffers write statements between BEGIN and COMMIT: local
// statement-batching only, no cross-node transactional semantics.
type transaction struct {
	pending []query.Statement
}

// New builds an Executor over cat. stats feeds the optimizer's access
// path selection; pass nil to use conservative default selectivities.
// memMgr bounds SORT and HASH_JOIN's in-memory working set, spilling to
// disk under pressure; pass nil to run those operations unbounded.
func New(cat *catalog.Catalog, stats query.Statistics, reg *metrics.Registry, log *logging.Logger, memMgr *memory.Manager) *Executor {
	return &Executor{
		catalog:             cat,
		optimizer:           query.NewOptimizer(stats),
		cache:               NewResultCache(256, reg),
		metrics:             reg,
		log:                 log,
		queryTimeout:        DefaultQueryTimeout,
		memMgr:              memMgr,
		optimizationEnabled: true,
		cacheEnabled:        true,
	}
}

// ExecuteBatch runs every statement parsed from one `/query` request in
// order, honoring BEGIN/COMMIT/ROLLBACK batching across the batch.
func (e *Executor) ExecuteBatch(ctx context.Context, stmts []query.Statement) []Result {
	results := make([]Result, 0, len(stmts))
	for _, stmt := range stmts {
		results = append(results, e.executeOne(ctx, stmt))
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, stmt query.Statement) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			if e.log != nil {
				e.log.Error("panic in query execution", logging.F("panic", r), logging.F("stack", string(debug.Stack())))
			}
			result = errResult(fmt.Errorf("query execution panicked: %v", r))
		}
	}()

	select {
	case <-ctx.Done():
		return errResult(fmt.Errorf("query cancelled: %w", ctx.Err()))
	default:
	}

	switch stmt.(type) {
	case query.BeginStmt:
		e.tx = &transaction{}
		return okResult()

	case query.CommitStmt:
		if e.tx == nil {
			return okResult()
		}
		pending := e.tx.pending
		e.tx = nil
		for _, w := range pending {
			if res := e.executeOne(ctx, w); !res.Executed {
				return res
			}
		}
		return okResult()

	case query.RollbackStmt:
		e.tx = nil
		return okResult()
	}

	if e.tx != nil {
		switch stmt.(type) {
		case query.InsertStmt, query.UpdateStmt, query.DeleteStmt:
			e.tx.pending = append(e.tx.pending, stmt)
			return okResult()
		}
	}

	return e.dispatch(ctx, stmt)
}

func (e *Executor) dispatch(ctx context.Context, stmt query.Statement) Result {
	switch s := stmt.(type) {
	case query.ShowDatabasesStmt:
		return e.execShowDatabases()
	case query.ShowTablesStmt:
		return e.execShowTables(s)
	case query.ShowIndexesStmt:
		return e.execShowIndexes(s)
	case query.CreateDatabaseStmt:
		return e.execCreateDatabase(s)
	case query.DropDatabaseStmt:
		return e.execDropDatabase(s)
	case query.CreateTableStmt:
		return e.execCreateTable(s)
	case query.DropTableStmt:
		return e.execDropTable(s)
	case query.AlterTableStmt:
		return e.execAlterTable(s)
	case query.CreateIndexStmt:
		return e.execCreateIndex(s)
	case query.DropIndexStmt:
		return e.execDropIndex(s)
	case query.InsertStmt:
		return e.execInsert(s)
	case query.SelectStmt:
		return e.execSelect(ctx, s)
	case query.UpdateStmt:
		return e.execUpdate(s)
	case query.DeleteStmt:
		return e.execDelete(s)
	case query.ControlStmt:
		return e.execControl(s)
	default:
		return errResult(fmt.Errorf("unsupported statement type %T", stmt))
	}
}

func (e *Executor) execShowDatabases() Result {
	names := e.catalog.ListDatabases()
	list := make([]map[string]any, 0, len(names))
	for _, n := range names {
		list = append(list, map[string]any{"name": n})
	}
	return Result{Executed: true, List: list}
}

func (e *Executor) execShowTables(s query.ShowTablesStmt) Result {
	names, err := e.catalog.ListTables(s.DB)
	if err != nil {
		return errResult(err)
	}
	list := make([]map[string]any, 0, len(names))
	for _, n := range names {
		list = append(list, map[string]any{"name": n})
	}
	return Result{Executed: true, List: list}
}

func (e *Executor) execShowIndexes(s query.ShowIndexesStmt) Result {
	tables := []string{s.Table}
	if s.Table == "" {
		names, err := e.catalog.ListTables(s.DB)
		if err != nil {
			return errResult(err)
		}
		tables = names
	}

	var list []map[string]any
	for _, t := range tables {
		names, err := e.catalog.IndexNames(s.DB, t)
		if err != nil {
			continue
		}
		for _, n := range names {
			list = append(list, map[string]any{"table": t, "column": n})
		}
	}
	return Result{Executed: true, List: list}
}

func (e *Executor) execCreateDatabase(s query.CreateDatabaseStmt) Result {
	if err := e.catalog.CreateDatabase(s.Name); err != nil {
		return errResult(err)
	}
	return okResult()
}

func (e *Executor) execDropDatabase(s query.DropDatabaseStmt) Result {
	if err := e.catalog.DropDatabase(s.Name); err != nil {
		return errResult(err)
	}
	return okResult()
}

func (e *Executor) execCreateTable(s query.CreateTableStmt) Result {
	cols := make([]catalog.Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		kind, _ := catalog.ParseValueKind(c.Type)
		cols = append(cols, catalog.Column{Name: c.Name, Type: kind})
	}
	if err := e.catalog.CreateTable(s.DB, s.Table, cols); err != nil {
		return errResult(err)
	}
	return okResult()
}

func (e *Executor) execDropTable(s query.DropTableStmt) Result {
	if _, err := e.catalog.DropTable(s.DB, s.Table); err != nil {
		return errResult(err)
	}
	e.cache.InvalidateTable(s.DB, s.Table)
	return okResult()
}

func (e *Executor) execAlterTable(s query.AlterTableStmt) Result {
	action := "DROP"
	if s.Add {
		action = "ADD"
	}
	if err := e.catalog.AlterTable(s.DB, s.Table, action, s.Column.Name, s.Column.Type); err != nil {
		return errResult(err)
	}
	e.cache.InvalidateTable(s.DB, s.Table)
	return okResult()
}

func (e *Executor) execCreateIndex(s query.CreateIndexStmt) Result {
	for _, col := range s.Columns {
		idx := catalog.NewBTreeIndex(col)
		rows, err := e.catalog.ScanRows(s.DB, s.Table)
		if err != nil {
			return errResult(err)
		}
		for _, r := range rows {
			if v, ok := r.Columns[col]; ok {
				idx.Insert(r.RowID, v)
			}
		}
		if err := e.catalog.CreateIndex(s.DB, s.Table, col, idx); err != nil {
			return errResult(err)
		}
	}
	return okResult()
}

func (e *Executor) execDropIndex(s query.DropIndexStmt) Result {
	for _, col := range s.Columns {
		if err := e.catalog.DropIndex(s.DB, s.Table, col); err != nil {
			return errResult(err)
		}
	}
	return okResult()
}

func (e *Executor) execInsert(s query.InsertStmt) Result {
	var inserted []map[string]any
	for _, values := range s.Rows {
		cols := make(map[string]catalog.Value, len(s.Columns))
		for i, name := range s.Columns {
			v, err := resolveValue(catalog.Row{}, values[i])
			if err != nil {
				return errResult(err)
			}
			cols[name] = v
		}
		row, err := e.catalog.Insert(s.DB, s.Table, cols)
		if err != nil {
			return errResult(err)
		}
		inserted = append(inserted, rowToMap(row))
	}
	e.cache.InvalidateTable(s.DB, s.Table)
	return Result{Executed: true, List: inserted}
}

func (e *Executor) execUpdate(s query.UpdateStmt) Result {
	rows, err := e.catalog.ScanRows(s.DB, s.Table)
	if err != nil {
		return errResult(err)
	}

	var updated []map[string]any
	for _, row := range rows {
		if s.Where != nil {
			ok, err := evalExpr(row, s.Where)
			if err != nil {
				return errResult(err)
			}
			if !ok {
				continue
			}
		}

		cols := make(map[string]catalog.Value, len(row.Columns)+len(s.Set))
		for k, v := range row.Columns {
			cols[k] = v
		}
		for _, assign := range s.Set {
			v, err := resolveValue(row, assign.Value)
			if err != nil {
				return errResult(err)
			}
			cols[assign.Col] = v
		}

		newRow, err := e.catalog.Update(s.DB, s.Table, row.RowID, cols)
		if err != nil {
			return errResult(err)
		}
		updated = append(updated, rowToMap(newRow))
	}
	e.cache.InvalidateTable(s.DB, s.Table)
	return Result{Executed: true, List: updated}
}

func (e *Executor) execDelete(s query.DeleteStmt) Result {
	rows, err := e.catalog.ScanRows(s.DB, s.Table)
	if err != nil {
		return errResult(err)
	}

	count := int64(0)
	for _, row := range rows {
		if s.Where != nil {
			ok, err := evalExpr(row, s.Where)
			if err != nil {
				return errResult(err)
			}
			if !ok {
				continue
			}
		}
		if err := e.catalog.Delete(s.DB, s.Table, row.RowID); err != nil {
			return errResult(err)
		}
		count++
	}
	e.cache.InvalidateTable(s.DB, s.Table)
	return Result{Executed: true, List: []map[string]any{{"deleted": count}}}
}

func (e *Executor) execControl(s query.ControlStmt) Result {
	switch s.Domain {
	case "optimization":
		switch s.Action {
		case "enable":
			e.optimizationEnabled = true
		case "disable":
			e.optimizationEnabled = false
		case "status":
			return Result{Executed: true, List: []map[string]any{{"enabled": e.optimizationEnabled}}}
		case "level":
			return okResult() // optimization level is accepted but unused; single-pass planner has no levels
		}
		return okResult()

	case "cache":
		switch s.Action {
		case "enable":
			e.cacheEnabled = true
		case "disable":
			e.cacheEnabled = false
		case "clear":
			e.cache.Clear()
		case "stats":
			hits, misses, evictions, size := e.cache.Stats()
			return Result{Executed: true, List: []map[string]any{{
				"hits": hits, "misses": misses, "evictions": evictions, "size": size,
			}}}
		}
		return okResult()

	case "statistics":
		if s.Action == "collect" {
			return okResult() // statistics collection hook; Statistics Manager populates lazily on query
		}
		return okResult()

	case "delete":
		if s.Action == "everything" {
			for _, db := range e.catalog.ListDatabases() {
				if err := e.catalog.DropDatabase(db); err != nil {
					return errResult(err)
				}
			}
			e.cache.Clear()
			return okResult()
		}
		return errResult(fmt.Errorf("unsupported delete control action %q", s.Action))

	default:
		return errResult(fmt.Errorf("unsupported control domain %q", s.Domain))
	}
}

func rowToMap(row catalog.Row) map[string]any {
	out := make(map[string]any, len(row.Columns)+1)
	out["rowId"] = row.RowID
	for k, v := range row.Columns {
		out[k] = v.Native()
	}
	return out
}
