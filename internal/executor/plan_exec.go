package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/memory"
	"github.com/serengeti-db/serengeti/internal/query"
)

// execSelect builds and runs a QueryPlan for stmt, integrating the
// result cache: a fingerprint over the normalized AST, returning the
// cached rows on a hit.
func (e *Executor) execSelect(ctx context.Context, stmt query.SelectStmt) Result {
	var cacheKey string
	if e.cacheEnabled {
		cacheKey = Fingerprint(stmt)
		if rows, ok := e.cache.Get(cacheKey); ok {
			return Result{
				Executed: true,
				List:     rowsToMaps(rows, stmt.Columns),
				Explain:  "{cache: hit}",
			}
		}
	}

	plan := e.planFor(stmt)

	rows, err := e.runPlan(ctx, plan)
	if err != nil {
		return errResult(err)
	}

	if e.cacheEnabled {
		e.cache.Put(cacheKey, stmt.DB, stmt.Table, rows)
	}

	return Result{
		Executed: true,
		List:     rowsToMaps(rows, stmt.Columns),
		Explain:  explainPlan(plan),
	}
}

// planFor builds the optimized plan, or a naive scan+filter+aggregate
// +sort/limit/project plan when `optimization disable` is in effect.
func (e *Executor) planFor(stmt query.SelectStmt) query.QueryPlan {
	if e.optimizationEnabled {
		return e.optimizer.Plan(stmt)
	}
	var plan query.QueryPlan
	plan = append(plan, query.QueryOperation{Kind: query.OpScan, DB: stmt.DB, Table: stmt.Table})
	if stmt.Where != nil {
		plan = append(plan, query.QueryOperation{Kind: query.OpFilter, Predicate: stmt.Where})
	}
	if stmt.Join != nil {
		plan = append(plan, query.QueryOperation{
			Kind: query.OpHashJoin, DB: stmt.DB, Table: stmt.Table,
			JoinDB: stmt.Join.DB, JoinTable: stmt.Join.Table,
			JoinLeftCol: stmt.Join.LeftCol, JoinRightCol: stmt.Join.RightCol,
			BuildSide: "left",
		})
	}
	if len(stmt.GroupBy) > 0 {
		plan = append(plan, query.QueryOperation{Kind: query.OpHashAggregate, GroupBy: stmt.GroupBy, Columns: stmt.Columns})
	} else if hasAggregateColumn(stmt.Columns) {
		plan = append(plan, query.QueryOperation{Kind: query.OpScalarAggregate, Columns: stmt.Columns})
	}
	if len(stmt.OrderBy) > 0 {
		plan = append(plan, query.QueryOperation{Kind: query.OpSort, OrderBy: stmt.OrderBy})
	}
	if stmt.HasLimit {
		plan = append(plan, query.QueryOperation{Kind: query.OpLimit, Limit: stmt.Limit, HasLimit: true, Offset: stmt.Offset})
	}
	if len(stmt.Columns) > 0 {
		plan = append(plan, query.QueryOperation{Kind: query.OpProject, Columns: stmt.Columns})
	}
	return plan
}

// runPlan interprets plan's operations in order over a catalog.Row
// stream. Any operation error terminates the plan; partial results are
// never returned.
func (e *Executor) runPlan(ctx context.Context, plan query.QueryPlan) ([]catalog.Row, error) {
	var rows []catalog.Row

	var queryID memory.QueryID
	if e.memMgr != nil {
		queryID = e.memMgr.CreateQueryContext()
		defer e.memMgr.ReleaseQueryContext(queryID)
	}

	for _, op := range plan {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("query cancelled: %w", ctx.Err())
		default:
		}

		var err error
		switch op.Kind {
		case query.OpScan:
			rows, err = e.catalog.ScanRows(op.DB, op.Table)

		case query.OpIndexLookup:
			rows, err = e.runIndexLookup(op)

		case query.OpFilter:
			rows, err = filterRows(rows, op.Predicate)

		case query.OpSort:
			rows, err = e.sortRows(queryID, rows, op.OrderBy)

		case query.OpLimit:
			rows = limitRows(rows, op.Limit, op.Offset, op.HasLimit)

		case query.OpHashAggregate:
			rows = hashAggregate(rows, op.GroupBy, op.Columns)

		case query.OpScalarAggregate:
			rows = scalarAggregate(rows, op.Columns)

		case query.OpProject:
			// shaping happens at the response boundary (rowsToMaps); PROJECT
			// is a no-op over the internal Row stream.

		case query.OpIndexJoin:
			rows, err = e.runIndexJoin(op, rows)

		case query.OpHashJoin:
			rows, err = e.runHashJoin(queryID, op, rows)

		default:
			return nil, fmt.Errorf("unknown plan operation %q", op.Kind)
		}
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (e *Executor) runIndexLookup(op query.QueryOperation) ([]catalog.Row, error) {
	idx, ok := e.catalog.Index(op.DB, op.Table, op.Column)
	if !ok {
		// Index absent at execution time (e.g. dropped after planning): fall
		// back to SCAN.
		return e.catalog.ScanRows(op.DB, op.Table)
	}

	val, err := resolveValue(catalog.Row{}, op.Value)
	if err != nil {
		return nil, err
	}

	rowIDs := idx.Lookup(op.Op, val)
	rows := make([]catalog.Row, 0, len(rowIDs))
	for _, id := range rowIDs {
		row, found, err := e.catalog.Get(op.DB, op.Table, id)
		if err != nil {
			return nil, err
		}
		if found {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func filterRows(rows []catalog.Row, pred query.Expr) ([]catalog.Row, error) {
	out := rows[:0]
	for _, r := range rows {
		ok, err := evalExpr(r, pred)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func limitRows(rows []catalog.Row, n, offset int, hasLimit bool) []catalog.Row {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if !hasLimit || n < 0 {
		return rows
	}
	if n > len(rows) {
		n = len(rows)
	}
	return rows[:n]
}

func hasAggregateColumn(cols []string) bool {
	for _, c := range cols {
		if _, _, ok := isAggregateCall(c); ok {
			return true
		}
	}
	return false
}

func isAggregateCall(col string) (string, string, bool) {
	upper := strings.ToUpper(col)
	for _, fn := range []string{"COUNT", "SUM", "AVG", "MIN", "MAX"} {
		prefix := fn + "("
		if strings.HasPrefix(upper, prefix) && strings.HasSuffix(col, ")") {
			arg := col[len(prefix) : len(col)-1]
			return fn, arg, true
		}
	}
	return "", "", false
}

// scalarAggregate reduces rows to a single aggregate row, supporting
// COUNT/SUM/AVG/MIN/MAX.
func scalarAggregate(rows []catalog.Row, cols []string) []catalog.Row {
	result := catalog.Row{Columns: map[string]catalog.Value{}}
	for _, c := range cols {
		fn, arg, ok := isAggregateCall(c)
		if !ok {
			continue
		}
		result.Columns[c] = aggregate(rows, fn, arg)
	}
	return []catalog.Row{result}
}

// hashAggregate groups rows by groupCols and applies cols' aggregate
// functions within each group.
func hashAggregate(rows []catalog.Row, groupCols, cols []string) []catalog.Row {
	groups := make(map[string][]catalog.Row)
	var order []string
	for _, r := range rows {
		key := groupKey(r, groupCols)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	out := make([]catalog.Row, 0, len(order))
	for _, key := range order {
		members := groups[key]
		result := catalog.Row{Columns: map[string]catalog.Value{}}
		for _, gc := range groupCols {
			result.Columns[gc] = members[0].Columns[gc]
		}
		for _, c := range cols {
			if fn, arg, ok := isAggregateCall(c); ok {
				result.Columns[c] = aggregate(members, fn, arg)
			}
		}
		out = append(out, result)
	}
	return out
}

func groupKey(row catalog.Row, groupCols []string) string {
	var b strings.Builder
	for _, c := range groupCols {
		fmt.Fprintf(&b, "%v|", row.Columns[c].Native())
	}
	return b.String()
}

func aggregate(rows []catalog.Row, fn, arg string) catalog.Value {
	switch fn {
	case "COUNT":
		if arg == "*" {
			return catalog.IntValue(int64(len(rows)))
		}
		count := int64(0)
		for _, r := range rows {
			if v, ok := r.Columns[arg]; ok && v.Kind != catalog.KindNull {
				count++
			}
		}
		return catalog.IntValue(count)

	case "SUM":
		sum := 0.0
		for _, r := range rows {
			sum += numberOf(r.Columns[arg])
		}
		return catalog.FloatValue(sum)

	case "AVG":
		if len(rows) == 0 {
			return catalog.FloatValue(0)
		}
		sum := 0.0
		for _, r := range rows {
			sum += numberOf(r.Columns[arg])
		}
		return catalog.FloatValue(sum / float64(len(rows)))

	case "MIN":
		if len(rows) == 0 {
			return catalog.NullValue()
		}
		min := rows[0].Columns[arg]
		for _, r := range rows[1:] {
			if compareValues(r.Columns[arg], min) < 0 {
				min = r.Columns[arg]
			}
		}
		return min

	case "MAX":
		if len(rows) == 0 {
			return catalog.NullValue()
		}
		max := rows[0].Columns[arg]
		for _, r := range rows[1:] {
			if compareValues(r.Columns[arg], max) > 0 {
				max = r.Columns[arg]
			}
		}
		return max

	default:
		return catalog.NullValue()
	}
}

// rowsToMaps shapes the final row stream into JSON-friendly maps,
// implementing PROJECT's column selection (empty/nil cols means "*").
func rowsToMaps(rows []catalog.Row, cols []string) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		if len(cols) == 0 {
			out = append(out, rowToMap(r))
			continue
		}
		m := make(map[string]any, len(cols))
		for _, c := range cols {
			if v, ok := r.Columns[c]; ok {
				m[c] = v.Native()
			} else {
				m[c] = nil
			}
		}
		out = append(out, m)
	}
	return out
}

func explainPlan(plan query.QueryPlan) string {
	var b strings.Builder
	for i, op := range plan {
		if i > 0 {
			b.WriteString(" -> ")
		}
		b.WriteString(string(op.Kind))
		if op.EstimatedRows > 0 {
			fmt.Fprintf(&b, "(~%d rows)", op.EstimatedRows)
		}
	}
	return b.String()
}
