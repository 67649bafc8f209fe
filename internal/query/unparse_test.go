package query

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var identGen = gen.OneConstOf("a", "b", "c", "id", "name", "val", "total", "qty")

// parseOneSelect lexes and parses sql as a single statement, failing the
// property on any lex/parse error rather than treating it as a skip —
// Unparse's output must always be valid input to the same grammar.
func parseOneSelect(t *testing.T, sql string) SelectStmt {
	t.Helper()
	tokens, err := NewLexer(sql).Tokenize()
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", sql, err)
	}
	stmt, err := NewParser(tokens).ParseOne()
	if err != nil {
		t.Fatalf("ParseOne(%q): %v", sql, err)
	}
	sel, ok := stmt.(SelectStmt)
	if !ok {
		t.Fatalf("ParseOne(%q) returned %T, want SelectStmt", sql, stmt)
	}
	return sel
}

// TestParseUnparseIdentity checks that Unparse(stmt) always reparses
// back to a statement equal to the one Unparse started from — the
// property a SQL pretty-printer must hold for EXPLAIN and query-log
// replay to be trustworthy.
func TestParseUnparseIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("SelectStmt survives an Unparse/parse round trip", prop.ForAll(
		func(db, table, whereCol string, threshold float64, desc bool, hasLimit bool, limit int) bool {
			stmt := SelectStmt{
				DB:    db,
				Table: table,
				Where: BinaryExpr{
					Op:   ">",
					Left: ColumnRef{Name: whereCol},
					Right: Literal{Kind: "number", Num: threshold},
				},
				OrderBy:  []OrderTerm{{Col: whereCol, Desc: desc}},
				HasLimit: hasLimit,
				Limit:    limit,
			}
			if hasLimit && limit < 0 {
				limit = -limit
				stmt.Limit = limit
			}
			if !hasLimit {
				// no LIMIT clause is rendered, so no limit value can reparse
				stmt.Limit = 0
			}

			sql := Unparse(stmt)
			reparsed := parseOneSelect(t, sql)

			if !reflect.DeepEqual(stmt, reparsed) {
				t.Logf("round trip mismatch:\n  sql:      %s\n  original: %+v\n  reparsed: %+v", sql, stmt, reparsed)
				return false
			}

			// Unparsing the reparsed statement must be a fixed point: a
			// canonical AST has exactly one canonical rendering.
			return Unparse(reparsed) == sql
		},
		identGen,
		identGen,
		identGen,
		gen.Float64Range(-1000, 1000),
		gen.Bool(),
		gen.Bool(),
		gen.IntRange(0, 10000),
	))

	properties.Property("JOIN clause survives an Unparse/parse round trip", prop.ForAll(
		func(db, table, joinDB, joinTable, leftCol, rightCol string) bool {
			stmt := SelectStmt{
				DB:    db,
				Table: table,
				Join:  &JoinClause{DB: joinDB, Table: joinTable, LeftCol: leftCol, RightCol: rightCol},
			}

			sql := Unparse(stmt)
			reparsed := parseOneSelect(t, sql)

			return reflect.DeepEqual(stmt, reparsed) && Unparse(reparsed) == sql
		},
		identGen,
		identGen,
		identGen,
		identGen,
		identGen,
		identGen,
	))

	properties.TestingRun(t)
}
