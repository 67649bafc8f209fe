package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Unparse renders stmt back into SQL-ish source text parseable by
// Parse/ParseOne. It is not a pretty-printer: the output favors a
// canonical, unambiguous form (explicit parens around every binary
// operand) over matching whatever spacing the original query used.
// Its only consumer today is the parse-unparse round-trip property
// test, but EXPLAIN or a query-log replay tool could reuse it.
func Unparse(stmt Statement) string {
	switch s := stmt.(type) {
	case SelectStmt:
		return unparseSelect(s)
	default:
		return fmt.Sprintf("<unsupported statement %T>", stmt)
	}
}

func unparseSelect(s SelectStmt) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.Distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.Columns) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(s.Columns, ", "))
	}
	fmt.Fprintf(&b, " FROM %s.%s", s.DB, s.Table)

	if s.Join != nil {
		fmt.Fprintf(&b, " JOIN %s.%s ON %s = %s", s.Join.DB, s.Join.Table, s.Join.LeftCol, s.Join.RightCol)
	}
	if s.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(unparseExpr(s.Where))
	}
	if len(s.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(s.GroupBy, ", "))
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		terms := make([]string, len(s.OrderBy))
		for i, t := range s.OrderBy {
			if t.Desc {
				terms[i] = t.Col + " DESC"
			} else {
				terms[i] = t.Col + " ASC"
			}
		}
		b.WriteString(strings.Join(terms, ", "))
	}
	if s.HasLimit {
		fmt.Fprintf(&b, " LIMIT %d", s.Limit)
		if s.Offset != 0 {
			fmt.Fprintf(&b, " OFFSET %d", s.Offset)
		}
	}
	return b.String()
}

func unparseExpr(e Expr) string {
	switch v := e.(type) {
	case ColumnRef:
		return v.Name
	case Literal:
		return unparseLiteral(v)
	case BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", unparseExpr(v.Left), v.Op, unparseExpr(v.Right))
	case LogicalExpr:
		return fmt.Sprintf("(%s %s %s)", unparseExpr(v.Left), v.Op, unparseExpr(v.Right))
	case NotExpr:
		return fmt.Sprintf("NOT (%s)", unparseExpr(v.Inner))
	case InExpr:
		vals := make([]string, len(v.Values))
		for i, val := range v.Values {
			vals[i] = unparseExpr(val)
		}
		return fmt.Sprintf("%s IN (%s)", unparseExpr(v.Col), strings.Join(vals, ", "))
	case BetweenExpr:
		return fmt.Sprintf("%s BETWEEN %s AND %s", unparseExpr(v.Col), unparseExpr(v.Low), unparseExpr(v.High))
	default:
		return fmt.Sprintf("<unsupported expr %T>", e)
	}
}

func unparseLiteral(l Literal) string {
	switch l.Kind {
	case "string":
		return "'" + strings.ReplaceAll(l.Str, "'", "''") + "'"
	case "number":
		return strconv.FormatFloat(l.Num, 'f', -1, 64)
	case "bool":
		if l.Bool {
			return "TRUE"
		}
		return "FALSE"
	case "null":
		return "NULL"
	default:
		return "NULL"
	}
}
