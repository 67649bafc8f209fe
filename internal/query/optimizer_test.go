package query

import "testing"

type fakeStats struct {
	rows    map[string]int
	indexed map[string]bool
}

func (f fakeStats) RowCount(db, table string) (int, bool) {
	n, ok := f.rows[db+"."+table]
	return n, ok
}

func (f fakeStats) HasIndex(db, table, column string) bool {
	return f.indexed[db+"."+table+"."+column]
}

func TestPlanAccessPath_FullScanNoWhere(t *testing.T) {
	stats := fakeStats{rows: map[string]int{"d.t": 500}}
	opt := NewOptimizer(stats)

	plan := opt.Plan(SelectStmt{DB: "d", Table: "t"})

	if len(plan) != 1 || plan[0].Kind != OpScan {
		t.Fatalf("expected single SCAN step, got %+v", plan)
	}
	if plan[0].EstimatedRows != 500 {
		t.Errorf("expected EstimatedRows 500, got %d", plan[0].EstimatedRows)
	}
}

func TestPlanAccessPath_IndexLookupAppliesEqualitySelectivity(t *testing.T) {
	stats := fakeStats{
		rows:    map[string]int{"d.t": 1000},
		indexed: map[string]bool{"d.t.id": true},
	}
	opt := NewOptimizer(stats)

	where := BinaryExpr{Op: "=", Left: ColumnRef{Name: "id"}, Right: Literal{Kind: "number", Num: 42}}
	plan := opt.Plan(SelectStmt{DB: "d", Table: "t", Where: where})

	if len(plan) != 1 || plan[0].Kind != OpIndexLookup {
		t.Fatalf("expected single INDEX_LOOKUP step, got %+v", plan)
	}
	if want := int(1000 * 0.3); plan[0].EstimatedRows != want {
		t.Errorf("expected EstimatedRows %d, got %d", want, plan[0].EstimatedRows)
	}
}

func TestPlanAccessPath_FilterWithoutStatsHasZeroEstimate(t *testing.T) {
	opt := NewOptimizer(nil)

	where := BinaryExpr{Op: ">", Left: ColumnRef{Name: "age"}, Right: Literal{Kind: "number", Num: 18}}
	plan := opt.Plan(SelectStmt{DB: "d", Table: "t", Where: where})

	if len(plan) != 2 || plan[0].Kind != OpScan || plan[1].Kind != OpFilter {
		t.Fatalf("expected SCAN -> FILTER, got %+v", plan)
	}
	if plan[1].EstimatedRows != 0 {
		t.Errorf("expected zero estimate without Statistics, got %d", plan[1].EstimatedRows)
	}
}

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("SELECT * FROM d.t WHERE name = 'a;b'; SHOW DATABASES;")
	want := []string{"SELECT * FROM d.t WHERE name = 'a;b'", "SHOW DATABASES"}
	if len(got) != len(want) {
		t.Fatalf("expected %d statements, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
