package executor

import (
	"context"
	"testing"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/memory"
	"github.com/serengeti-db/serengeti/internal/query"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	cat, err := catalog.New(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	memMgr := memory.New(64<<20, 0.7, nil)
	return New(cat, NewCatalogStatistics(cat), nil, nil, memMgr)
}

func mustParse(t *testing.T, sql string) query.Statement {
	t.Helper()
	stmts, err := query.Parse(sql)
	if err != nil {
		t.Fatalf("Parse(%q): %v", sql, err)
	}
	return stmts[0]
}

func exec1(t *testing.T, e *Executor, sql string) Result {
	t.Helper()
	results := e.ExecuteBatch(context.Background(), []query.Statement{mustParse(t, sql)})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	return results[0]
}

func TestExecutorCreateInsertSelect(t *testing.T) {
	e := newTestExecutor(t)

	if r := exec1(t, e, "CREATE DATABASE d"); !r.Executed {
		t.Fatalf("CREATE DATABASE failed: %s", r.Error)
	}
	if r := exec1(t, e, "CREATE TABLE d.t (id INT, name STRING)"); !r.Executed {
		t.Fatalf("CREATE TABLE failed: %s", r.Error)
	}
	if r := exec1(t, e, "INSERT INTO d.t (id, name) VALUES (1, 'alice')"); !r.Executed {
		t.Fatalf("INSERT failed: %s", r.Error)
	}

	r := exec1(t, e, "SELECT * FROM d.t")
	if !r.Executed || len(r.List) != 1 {
		t.Fatalf("unexpected SELECT result: %+v", r)
	}
	if r.List[0]["name"] != "alice" {
		t.Errorf("expected name=alice, got %+v", r.List[0])
	}
}

func TestExecutorUpdateAndDelete(t *testing.T) {
	e := newTestExecutor(t)
	exec1(t, e, "CREATE DATABASE d")
	exec1(t, e, "CREATE TABLE d.t (id INT, name STRING)")
	exec1(t, e, "INSERT INTO d.t (id, name) VALUES (1, 'alice'), (2, 'bob')")

	r := exec1(t, e, "UPDATE d.t SET name = 'carol' WHERE id = 1")
	if !r.Executed || len(r.List) != 1 {
		t.Fatalf("unexpected UPDATE result: %+v", r)
	}

	sel := exec1(t, e, "SELECT * FROM d.t WHERE id = 1")
	if len(sel.List) != 1 || sel.List[0]["name"] != "carol" {
		t.Fatalf("expected name=carol after update, got %+v", sel.List)
	}

	del := exec1(t, e, "DELETE FROM d.t WHERE id = 2")
	if !del.Executed || del.List[0]["deleted"] != int64(1) {
		t.Fatalf("unexpected DELETE result: %+v", del)
	}
}

func TestExecutorSelectAggregate(t *testing.T) {
	e := newTestExecutor(t)
	exec1(t, e, "CREATE DATABASE d")
	exec1(t, e, "CREATE TABLE d.t (id INT)")
	exec1(t, e, "INSERT INTO d.t (id) VALUES (1), (2), (3)")

	r := exec1(t, e, "SELECT COUNT(*) FROM d.t")
	if !r.Executed || len(r.List) != 1 {
		t.Fatalf("unexpected aggregate result: %+v", r)
	}
	if r.List[0]["COUNT(*)"] != int64(3) {
		t.Errorf("expected COUNT(*)=3, got %+v", r.List[0])
	}
}

func TestExecutorAlterTableAddColumn(t *testing.T) {
	e := newTestExecutor(t)
	exec1(t, e, "CREATE DATABASE d")
	exec1(t, e, "CREATE TABLE d.t (id INT)")

	if r := exec1(t, e, "ALTER TABLE d.t ADD COLUMN name STRING"); !r.Executed {
		t.Fatalf("ALTER TABLE ADD failed: %s", r.Error)
	}
	if r := exec1(t, e, "INSERT INTO d.t (id, name) VALUES (1, 'x')"); !r.Executed {
		t.Fatalf("INSERT after ALTER failed: %s", r.Error)
	}
}

func TestExecutorTransactionBatching(t *testing.T) {
	e := newTestExecutor(t)
	exec1(t, e, "CREATE DATABASE d")
	exec1(t, e, "CREATE TABLE d.t (id INT)")

	stmts := []query.Statement{
		mustParse(t, "BEGIN"),
		mustParse(t, "INSERT INTO d.t (id) VALUES (1)"),
		mustParse(t, "INSERT INTO d.t (id) VALUES (2)"),
		mustParse(t, "COMMIT"),
	}
	results := e.ExecuteBatch(context.Background(), stmts)
	for i, r := range results {
		if !r.Executed {
			t.Fatalf("statement %d failed: %s", i, r.Error)
		}
	}

	sel := exec1(t, e, "SELECT * FROM d.t")
	if len(sel.List) != 2 {
		t.Fatalf("expected 2 rows committed, got %d", len(sel.List))
	}
}

func TestExecutorRollbackDiscardsPendingWrites(t *testing.T) {
	e := newTestExecutor(t)
	exec1(t, e, "CREATE DATABASE d")
	exec1(t, e, "CREATE TABLE d.t (id INT)")

	stmts := []query.Statement{
		mustParse(t, "BEGIN"),
		mustParse(t, "INSERT INTO d.t (id) VALUES (1)"),
		mustParse(t, "ROLLBACK"),
	}
	e.ExecuteBatch(context.Background(), stmts)

	sel := exec1(t, e, "SELECT * FROM d.t")
	if len(sel.List) != 0 {
		t.Fatalf("expected 0 rows after rollback, got %d", len(sel.List))
	}
}

func TestExecutorUnknownTableErrors(t *testing.T) {
	e := newTestExecutor(t)
	r := exec1(t, e, "SELECT * FROM nope.nope")
	if r.Executed {
		t.Fatal("expected error selecting from unknown table")
	}
	if r.Error == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestExecutorControlCacheStats(t *testing.T) {
	e := newTestExecutor(t)
	r := exec1(t, e, "CACHE STATS")
	if !r.Executed || len(r.List) != 1 {
		t.Fatalf("unexpected CACHE STATS result: %+v", r)
	}
	if _, ok := r.List[0]["hits"]; !ok {
		t.Errorf("expected hits field, got %+v", r.List[0])
	}
}

func TestExecutorControlOptimizationDisable(t *testing.T) {
	e := newTestExecutor(t)
	exec1(t, e, "CREATE DATABASE d")
	exec1(t, e, "CREATE TABLE d.t (id INT)")
	exec1(t, e, "INSERT INTO d.t (id) VALUES (1)")

	if r := exec1(t, e, "OPTIMIZATION DISABLE"); !r.Executed {
		t.Fatalf("OPTIMIZATION DISABLE failed: %s", r.Error)
	}
	status := exec1(t, e, "OPTIMIZATION STATUS")
	if status.List[0]["enabled"] != false {
		t.Errorf("expected optimization disabled, got %+v", status.List[0])
	}

	r := exec1(t, e, "SELECT * FROM d.t")
	if !r.Executed || len(r.List) != 1 {
		t.Fatalf("expected select to still work with optimization disabled: %+v", r)
	}
}
