package catalog

import (
	"testing"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := New(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cat
}

func TestCreateDatabaseAndTable(t *testing.T) {
	cat := newTestCatalog(t)

	if err := cat.CreateDatabase("d"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := cat.CreateDatabase("d"); err == nil {
		t.Fatal("expected conflict creating duplicate database")
	}

	if err := cat.CreateTable("d", "t", nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	tables, err := cat.ListTables("d")
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "t" {
		t.Fatalf("expected [t], got %v", tables)
	}
}

func TestInsertGetUpdateDelete(t *testing.T) {
	cat := newTestCatalog(t)
	if err := cat.CreateDatabase("d"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := cat.CreateTable("d", "t", nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	row, err := cat.Insert("d", "t", map[string]Value{"name": StringValue("alice")})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if row.RowID == "" {
		t.Fatal("expected a generated rowId")
	}

	got, ok, err := cat.Get("d", "t", row.RowID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Columns["name"].Str != "alice" {
		t.Errorf("expected name=alice, got %+v", got.Columns)
	}

	updated, err := cat.Update("d", "t", row.RowID, map[string]Value{"name": StringValue("bob")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Columns["name"].Str != "bob" {
		t.Errorf("expected name=bob after update, got %+v", updated.Columns)
	}

	if err := cat.Delete("d", "t", row.RowID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := cat.Get("d", "t", row.RowID); err != nil || ok {
		t.Fatalf("expected row gone after delete, ok=%v err=%v", ok, err)
	}
}

func TestAlterTableAddAndDropColumn(t *testing.T) {
	cat := newTestCatalog(t)
	if err := cat.CreateDatabase("d"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := cat.CreateTable("d", "t", []Column{{Name: "id", Type: KindInt}}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	if err := cat.AlterTable("d", "t", "ADD", "age", "INT"); err != nil {
		t.Fatalf("AlterTable ADD: %v", err)
	}
	schema, err := cat.TableSchema("d", "t")
	if err != nil {
		t.Fatalf("TableSchema: %v", err)
	}
	if _, ok := schema.column("age"); !ok {
		t.Fatal("expected age column after ADD")
	}

	if err := cat.AlterTable("d", "t", "ADD", "age", "INT"); err == nil {
		t.Fatal("expected conflict re-adding existing column")
	}

	if err := cat.AlterTable("d", "t", "DROP", "age", ""); err != nil {
		t.Fatalf("AlterTable DROP: %v", err)
	}
	schema, err = cat.TableSchema("d", "t")
	if err != nil {
		t.Fatalf("TableSchema: %v", err)
	}
	if _, ok := schema.column("age"); ok {
		t.Fatal("expected age column removed after DROP")
	}

	if err := cat.AlterTable("d", "t", "DROP", "missing", ""); err == nil {
		t.Fatal("expected not-found dropping missing column")
	}
}

func TestAlterTableUnknownDatabaseOrTable(t *testing.T) {
	cat := newTestCatalog(t)
	if err := cat.AlterTable("nope", "t", "ADD", "c", "INT"); err == nil {
		t.Fatal("expected error for unknown database")
	}
	if err := cat.CreateDatabase("d"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := cat.AlterTable("d", "nope", "ADD", "c", "INT"); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestValueFromJSON(t *testing.T) {
	cases := []struct {
		in   any
		kind ValueKind
	}{
		{"hello", KindString},
		{float64(42), KindInt},
		{float64(4.5), KindFloat},
		{true, KindBool},
		{nil, KindNull},
	}
	for _, c := range cases {
		v := ValueFromJSON(c.in)
		if v.Kind != c.kind {
			t.Errorf("ValueFromJSON(%v): expected kind %v, got %v", c.in, c.kind, v.Kind)
		}
	}
}
