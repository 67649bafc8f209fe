package query

import "testing"

func parseOne(t *testing.T, sql string) Statement {
	t.Helper()
	tokens, err := NewLexer(sql).Tokenize()
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", sql, err)
	}
	stmt, err := NewParser(tokens).ParseOne()
	if err != nil {
		t.Fatalf("ParseOne(%q): %v", sql, err)
	}
	return stmt
}

func TestParseShowStatements(t *testing.T) {
	if _, ok := parseOne(t, "SHOW DATABASES").(ShowDatabasesStmt); !ok {
		t.Error("expected ShowDatabasesStmt")
	}
	tbls := parseOne(t, "SHOW TABLES IN d").(ShowTablesStmt)
	if tbls.DB != "d" {
		t.Errorf("expected DB=d, got %+v", tbls)
	}
	idx := parseOne(t, "SHOW INDEXES ON d.t").(ShowIndexesStmt)
	if idx.DB != "d" || idx.Table != "t" {
		t.Errorf("expected d.t, got %+v", idx)
	}
}

func TestParseCreateDatabaseAndTable(t *testing.T) {
	db := parseOne(t, "CREATE DATABASE d").(CreateDatabaseStmt)
	if db.Name != "d" {
		t.Errorf("expected Name=d, got %+v", db)
	}

	tbl := parseOne(t, "CREATE TABLE d.t (id INT, name STRING)").(CreateTableStmt)
	if tbl.DB != "d" || tbl.Table != "t" || len(tbl.Columns) != 2 {
		t.Fatalf("unexpected CreateTableStmt: %+v", tbl)
	}
	if tbl.Columns[0].Name != "id" || tbl.Columns[0].Type != "INT" {
		t.Errorf("unexpected first column: %+v", tbl.Columns[0])
	}

	bare := parseOne(t, "CREATE TABLE d.t2").(CreateTableStmt)
	if len(bare.Columns) != 0 {
		t.Errorf("expected no columns for schemaless table, got %+v", bare.Columns)
	}
}

func TestParseCreateAndDropIndex(t *testing.T) {
	idx := parseOne(t, "CREATE INDEX ON d.t (name)").(CreateIndexStmt)
	if idx.Fulltext || len(idx.Columns) != 1 || idx.Columns[0] != "name" {
		t.Errorf("unexpected CreateIndexStmt: %+v", idx)
	}
	ft := parseOne(t, "CREATE FULLTEXT INDEX ON d.t (body)").(CreateIndexStmt)
	if !ft.Fulltext {
		t.Errorf("expected fulltext flag set: %+v", ft)
	}
	drop := parseOne(t, "DROP INDEX ON d.t (name)").(DropIndexStmt)
	if drop.DB != "d" || drop.Table != "t" {
		t.Errorf("unexpected DropIndexStmt: %+v", drop)
	}
}

func TestParseDropDatabaseAndTable(t *testing.T) {
	db := parseOne(t, "DROP DATABASE d").(DropDatabaseStmt)
	if db.Name != "d" {
		t.Errorf("unexpected DropDatabaseStmt: %+v", db)
	}
	tbl := parseOne(t, "DROP TABLE d.t").(DropTableStmt)
	if tbl.DB != "d" || tbl.Table != "t" {
		t.Errorf("unexpected DropTableStmt: %+v", tbl)
	}
}

func TestParseAlterTableAddAndDrop(t *testing.T) {
	add := parseOne(t, "ALTER TABLE d.t ADD COLUMN age INT").(AlterTableStmt)
	if !add.Add || add.Column.Name != "age" || add.Column.Type != "INT" {
		t.Errorf("unexpected AlterTableStmt: %+v", add)
	}
	drop := parseOne(t, "ALTER TABLE d.t DROP COLUMN age").(AlterTableStmt)
	if drop.Add || drop.Column.Name != "age" {
		t.Errorf("unexpected AlterTableStmt: %+v", drop)
	}
}

func TestParseInsert(t *testing.T) {
	stmt := parseOne(t, "INSERT INTO d.t (id, name) VALUES (1, 'alice'), (2, 'bob')").(InsertStmt)
	if stmt.DB != "d" || stmt.Table != "t" || len(stmt.Columns) != 2 || len(stmt.Rows) != 2 {
		t.Fatalf("unexpected InsertStmt: %+v", stmt)
	}
	if len(stmt.Rows[0]) != 2 {
		t.Errorf("expected 2 values in first row, got %+v", stmt.Rows[0])
	}
}

func TestParseInsertColumnCountMismatch(t *testing.T) {
	tokens, err := NewLexer("INSERT INTO d.t (id) VALUES (1, 2)").Tokenize()
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if _, err := NewParser(tokens).ParseOne(); err == nil {
		t.Fatal("expected column/value count mismatch error")
	}
}

func TestParseSelectFull(t *testing.T) {
	stmt := parseOne(t, "SELECT DISTINCT name, age FROM d.t WHERE age >= 18 ORDER BY name DESC LIMIT 10 OFFSET 5").(SelectStmt)
	if !stmt.Distinct {
		t.Error("expected Distinct")
	}
	if len(stmt.Columns) != 2 || stmt.Columns[0] != "name" || stmt.Columns[1] != "age" {
		t.Errorf("unexpected Columns: %+v", stmt.Columns)
	}
	where, ok := stmt.Where.(BinaryExpr)
	if !ok || where.Op != ">=" {
		t.Errorf("unexpected Where: %+v", stmt.Where)
	}
	if len(stmt.OrderBy) != 1 || stmt.OrderBy[0].Col != "name" || !stmt.OrderBy[0].Desc {
		t.Errorf("unexpected OrderBy: %+v", stmt.OrderBy)
	}
	if !stmt.HasLimit || stmt.Limit != 10 || stmt.Offset != 5 {
		t.Errorf("unexpected Limit/Offset: %+v", stmt)
	}
}

func TestParseSelectStarAndAggregate(t *testing.T) {
	star := parseOne(t, "SELECT * FROM d.t").(SelectStmt)
	if star.Columns != nil {
		t.Errorf("expected nil Columns for SELECT *, got %+v", star.Columns)
	}
	agg := parseOne(t, "SELECT COUNT(*) FROM d.t").(SelectStmt)
	if len(agg.Columns) != 1 || agg.Columns[0] != "COUNT(*)" {
		t.Errorf("expected canonical COUNT(*) column, got %+v", agg.Columns)
	}
}

func TestParseUpdate(t *testing.T) {
	stmt := parseOne(t, "UPDATE d.t SET name = 'bob', age = 30 WHERE id = 1").(UpdateStmt)
	if stmt.DB != "d" || stmt.Table != "t" || len(stmt.Set) != 2 {
		t.Fatalf("unexpected UpdateStmt: %+v", stmt)
	}
	if stmt.Set[0].Col != "name" {
		t.Errorf("unexpected first assignment: %+v", stmt.Set[0])
	}
	if stmt.Where == nil {
		t.Error("expected Where clause")
	}
}

func TestParseDelete(t *testing.T) {
	stmt := parseOne(t, "DELETE FROM d.t WHERE id = 1").(DeleteStmt)
	if stmt.DB != "d" || stmt.Table != "t" || stmt.Where == nil {
		t.Fatalf("unexpected DeleteStmt: %+v", stmt)
	}

	bare := parseOne(t, "DELETE d.t").(DeleteStmt)
	if bare.DB != "d" || bare.Table != "t" {
		t.Fatalf("expected FROM to be optional, got %+v", bare)
	}

	everything := parseOne(t, "DELETE EVERYTHING").(ControlStmt)
	if everything.Domain != "delete" || everything.Action != "everything" {
		t.Fatalf("unexpected ControlStmt: %+v", everything)
	}
}

func TestParseTransactionControl(t *testing.T) {
	if _, ok := parseOne(t, "BEGIN").(BeginStmt); !ok {
		t.Error("expected BeginStmt")
	}
	if _, ok := parseOne(t, "COMMIT").(CommitStmt); !ok {
		t.Error("expected CommitStmt")
	}
	if _, ok := parseOne(t, "ROLLBACK").(RollbackStmt); !ok {
		t.Error("expected RollbackStmt")
	}
}

func TestParseControlStatements(t *testing.T) {
	en := parseOne(t, "OPTIMIZATION ENABLE").(ControlStmt)
	if en.Domain != "optimization" || en.Action != "enable" {
		t.Errorf("unexpected ControlStmt: %+v", en)
	}
	lvl := parseOne(t, "OPTIMIZATION LEVEL 2").(ControlStmt)
	if lvl.Action != "level" || lvl.Level != 2 {
		t.Errorf("unexpected ControlStmt: %+v", lvl)
	}
	clr := parseOne(t, "CACHE CLEAR").(ControlStmt)
	if clr.Domain != "cache" || clr.Action != "clear" {
		t.Errorf("unexpected ControlStmt: %+v", clr)
	}
	collect := parseOne(t, "STATISTICS COLLECT").(ControlStmt)
	if collect.Action != "collect" {
		t.Errorf("unexpected ControlStmt: %+v", collect)
	}
}

func TestParseQualifiedNameRequiresDot(t *testing.T) {
	tokens, err := NewLexer("SELECT * FROM t").Tokenize()
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if _, err := NewParser(tokens).ParseOne(); err == nil {
		t.Fatal("expected error for bare table name without db qualifier")
	}
}

func TestParseUnknownStatementErrors(t *testing.T) {
	tokens, err := NewLexer("FROBNICATE d.t").Tokenize()
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if _, err := NewParser(tokens).ParseOne(); err == nil {
		t.Fatal("expected error for unrecognized statement keyword")
	}
}

func TestParseMultiStatementBatch(t *testing.T) {
	stmts, err := Parse("SHOW DATABASES; CREATE DATABASE d;")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
}
