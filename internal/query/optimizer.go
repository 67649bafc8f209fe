package query

import "strings"

// OpKind names one step of a QueryPlan.
type OpKind string

const (
	OpScan            OpKind = "SCAN"
	OpIndexLookup     OpKind = "INDEX_LOOKUP"
	OpFilter          OpKind = "FILTER"
	OpIndexJoin       OpKind = "INDEX_JOIN"
	OpHashJoin        OpKind = "HASH_JOIN"
	OpSort            OpKind = "SORT"
	OpLimit           OpKind = "LIMIT"
	OpProject         OpKind = "PROJECT"
	OpHashAggregate   OpKind = "HASH_AGGREGATE"
	OpScalarAggregate OpKind = "SCALAR_AGGREGATE"
)

// QueryOperation is one step of a linear QueryPlan, interpreted in
// order by the executor.
type QueryOperation struct {
	Kind OpKind

	DB    string
	Table string

	// INDEX_LOOKUP
	Column string
	Op     string
	Value  Expr

	// FILTER
	Predicate Expr

	// SORT
	OrderBy []OrderTerm

	// LIMIT
	Limit    int
	HasLimit bool
	Offset   int

	// PROJECT
	Columns []string

	// HASH_AGGREGATE / SCALAR_AGGREGATE
	GroupBy []string

	// INDEX_JOIN / HASH_JOIN: the right-hand side of the join and the
	// equi-join key on each side. BuildSide names which side the
	// executor should build its hash table from ("left" or "right"),
	// chosen from row-count estimates with the left (driving) side the
	// default when no estimate beats it.
	JoinDB       string
	JoinTable    string
	JoinLeftCol  string
	JoinRightCol string
	BuildSide    string

	// EstimatedRows is the Statistics-derived row estimate for this step's
	// output, 0 when no Statistics was available to produce one. Carried
	// for EXPLAIN output only; no plan decision currently branches on it
	// beyond the access-path choice that produced it.
	EstimatedRows int
}

// QueryPlan is the sequential list of operations the executor runs.
type QueryPlan []QueryOperation

// Statistics supplies cardinality and selectivity estimates to the
// optimizer. Absent an implementation, the optimizer falls back to
// conservative defaults.
type Statistics interface {
	RowCount(db, table string) (int, bool)
	HasIndex(db, table, column string) bool
}

// defaultSelectivity is 0.3 for equality, 0.33 for range comparisons,
// used whenever the Statistics Manager has nothing better to offer.
func defaultSelectivity(op string) float64 {
	switch op {
	case "=":
		return 0.3
	default:
		return 0.33
	}
}

// Optimizer lowers a parsed SelectStmt into a QueryPlan through a
// multi-pass pipeline: index selection, filter decomposition, join
// access-path selection, then sort/limit/project.
type Optimizer struct {
	stats Statistics
}

// NewOptimizer builds an Optimizer. stats may be nil, in which case
// every access path decision uses the conservative defaults.
func NewOptimizer(stats Statistics) *Optimizer {
	return &Optimizer{stats: stats}
}

// Plan lowers stmt into a QueryPlan.
func (o *Optimizer) Plan(stmt SelectStmt) QueryPlan {
	var plan QueryPlan

	plan = append(plan, o.planAccessPath(stmt)...)
	plan = append(plan, o.planJoin(stmt)...)
	plan = append(plan, o.planAggregate(stmt)...)
	plan = append(plan, o.planSortLimitProject(stmt)...)

	return plan
}

// planJoin implements the optimizer's join access-path selection: an
// equi-join prefers INDEX_JOIN when the joined table carries an index
// on the join key, otherwise falls back to HASH_JOIN with the smaller
// estimated side chosen as the build side.
func (o *Optimizer) planJoin(stmt SelectStmt) QueryPlan {
	if stmt.Join == nil {
		return nil
	}
	j := stmt.Join

	op := QueryOperation{
		DB: stmt.DB, Table: stmt.Table,
		JoinDB: j.DB, JoinTable: j.Table,
		JoinLeftCol: j.LeftCol, JoinRightCol: j.RightCol,
	}

	if o.stats != nil && o.stats.HasIndex(j.DB, j.Table, j.RightCol) {
		op.Kind = OpIndexJoin
		return QueryPlan{op}
	}

	op.Kind = OpHashJoin
	op.BuildSide = "left"
	if o.stats != nil {
		leftRows, leftOK := o.stats.RowCount(stmt.DB, stmt.Table)
		rightRows, rightOK := o.stats.RowCount(j.DB, j.Table)
		if leftOK && rightOK && rightRows < leftRows {
			op.BuildSide = "right"
		}
	}
	return QueryPlan{op}
}

// planAccessPath chooses INDEX_LOOKUP over SCAN when an equality/range
// predicate on an indexed column is available, then emits FILTER for
// whatever predicate remains after AND-decomposition (OR is left
// unoptimized).
func (o *Optimizer) planAccessPath(stmt SelectStmt) QueryPlan {
	baseRows, haveRowCount := 0, false
	if o.stats != nil {
		baseRows, haveRowCount = o.stats.RowCount(stmt.DB, stmt.Table)
	}

	if stmt.Where == nil {
		op := QueryOperation{Kind: OpScan, DB: stmt.DB, Table: stmt.Table}
		if haveRowCount {
			op.EstimatedRows = baseRows
		}
		return QueryPlan{op}
	}

	conjuncts := decomposeAnd(stmt.Where)

	for i, c := range conjuncts {
		bin, ok := c.(BinaryExpr)
		if !ok {
			continue
		}
		col, ok := indexableColumn(bin)
		if !ok {
			continue
		}
		if o.stats == nil || !o.stats.HasIndex(stmt.DB, stmt.Table, col) {
			continue
		}

		lookup := QueryOperation{
			Kind:   OpIndexLookup,
			DB:     stmt.DB,
			Table:  stmt.Table,
			Column: col,
			Op:     bin.Op,
			Value:  rhsOf(bin, col),
		}
		if haveRowCount {
			lookup.EstimatedRows = int(float64(baseRows) * defaultSelectivity(bin.Op))
		}
		plan := QueryPlan{lookup}

		residual := append(append([]Expr{}, conjuncts[:i]...), conjuncts[i+1:]...)
		if len(residual) > 0 {
			filter := QueryOperation{Kind: OpFilter, Predicate: reassembleAnd(residual)}
			filter.EstimatedRows = lookup.EstimatedRows
			for _, r := range residual {
				if rb, ok := r.(BinaryExpr); ok {
					filter.EstimatedRows = int(float64(filter.EstimatedRows) * defaultSelectivity(rb.Op))
				}
			}
			plan = append(plan, filter)
		}
		return plan
	}

	scan := QueryOperation{Kind: OpScan, DB: stmt.DB, Table: stmt.Table}
	if haveRowCount {
		scan.EstimatedRows = baseRows
	}
	plan := QueryPlan{scan}

	filter := QueryOperation{Kind: OpFilter, Predicate: stmt.Where}
	if haveRowCount {
		est := baseRows
		for _, c := range conjuncts {
			if bin, ok := c.(BinaryExpr); ok {
				est = int(float64(est) * defaultSelectivity(bin.Op))
			}
		}
		filter.EstimatedRows = est
	}
	plan = append(plan, filter)
	return plan
}

// decomposeAnd flattens a chain of AND-joined expressions into its
// conjuncts; OR subtrees are kept intact as a single conjunct since
// OR predicates are left unoptimized.
func decomposeAnd(e Expr) []Expr {
	if logical, ok := e.(LogicalExpr); ok && logical.Op == "AND" {
		return append(decomposeAnd(logical.Left), decomposeAnd(logical.Right)...)
	}
	return []Expr{e}
}

func reassembleAnd(conjuncts []Expr) Expr {
	result := conjuncts[0]
	for _, c := range conjuncts[1:] {
		result = LogicalExpr{Op: "AND", Left: result, Right: c}
	}
	return result
}

// indexableColumn reports the column name of an equality/range
// BinaryExpr with a ColumnRef on one side and a Literal on the other.
func indexableColumn(bin BinaryExpr) (string, bool) {
	switch bin.Op {
	case "=", "<", "<=", ">", ">=":
	default:
		return "", false
	}
	if col, ok := bin.Left.(ColumnRef); ok {
		if _, ok := bin.Right.(Literal); ok {
			return col.Name, true
		}
	}
	if col, ok := bin.Right.(ColumnRef); ok {
		if _, ok := bin.Left.(Literal); ok {
			return col.Name, true
		}
	}
	return "", false
}

func rhsOf(bin BinaryExpr, col string) Expr {
	if ref, ok := bin.Left.(ColumnRef); ok && ref.Name == col {
		return bin.Right
	}
	return bin.Left
}

// planAggregate lowers GROUP BY to HASH_AGGREGATE, and a bare
// aggregate function in the column list to SCALAR_AGGREGATE.
func (o *Optimizer) planAggregate(stmt SelectStmt) QueryPlan {
	if len(stmt.GroupBy) > 0 {
		return QueryPlan{{Kind: OpHashAggregate, GroupBy: stmt.GroupBy, Columns: stmt.Columns}}
	}
	if hasAggregateFunc(stmt.Columns) {
		return QueryPlan{{Kind: OpScalarAggregate, Columns: stmt.Columns}}
	}
	return nil
}

func hasAggregateFunc(cols []string) bool {
	for _, c := range cols {
		upper := strings.ToUpper(c)
		for _, fn := range []string{"COUNT(", "SUM(", "AVG(", "MIN(", "MAX("} {
			if strings.HasPrefix(upper, fn) {
				return true
			}
		}
	}
	return false
}

// planSortLimitProject emits SORT/LIMIT only when present in the
// statement, then PROJECT to shape the final output columns.
func (o *Optimizer) planSortLimitProject(stmt SelectStmt) QueryPlan {
	var plan QueryPlan

	if len(stmt.OrderBy) > 0 {
		plan = append(plan, QueryOperation{Kind: OpSort, OrderBy: stmt.OrderBy})
	}

	if stmt.HasLimit {
		plan = append(plan, QueryOperation{Kind: OpLimit, Limit: stmt.Limit, HasLimit: true, Offset: stmt.Offset})
	}

	if len(stmt.Columns) > 0 {
		plan = append(plan, QueryOperation{Kind: OpProject, Columns: stmt.Columns})
	}

	return plan
}
