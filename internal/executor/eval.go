package executor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/query"
)

// evalExpr evaluates expr against row, implementing every WHERE-clause
// operator the grammar supports: =, !=/<>, <, <=, >, >=, LIKE,
// CONTAINS, REGEX, FUZZY, IN (...), BETWEEN a AND b, plus AND/OR/NOT.
func evalExpr(row catalog.Row, expr query.Expr) (bool, error) {
	switch e := expr.(type) {
	case query.LogicalExpr:
		left, err := evalExpr(row, e.Left)
		if err != nil {
			return false, err
		}
		if e.Op == "AND" && !left {
			return false, nil
		}
		if e.Op == "OR" && left {
			return true, nil
		}
		return evalExpr(row, e.Right)

	case query.NotExpr:
		inner, err := evalExpr(row, e.Inner)
		if err != nil {
			return false, err
		}
		return !inner, nil

	case query.BinaryExpr:
		return evalBinary(row, e)

	case query.InExpr:
		left, err := resolveValue(row, e.Col)
		if err != nil {
			return false, err
		}
		for _, v := range e.Values {
			right, err := resolveValue(row, v)
			if err != nil {
				return false, err
			}
			if valuesEqual(left, right) {
				return true, nil
			}
		}
		return false, nil

	case query.BetweenExpr:
		v, err := resolveValue(row, e.Col)
		if err != nil {
			return false, err
		}
		lo, err := resolveValue(row, e.Low)
		if err != nil {
			return false, err
		}
		hi, err := resolveValue(row, e.High)
		if err != nil {
			return false, err
		}
		return compareValues(v, lo) >= 0 && compareValues(v, hi) <= 0, nil

	default:
		return false, fmt.Errorf("cannot evaluate expression %T as a predicate", expr)
	}
}

func evalBinary(row catalog.Row, e query.BinaryExpr) (bool, error) {
	left, err := resolveValue(row, e.Left)
	if err != nil {
		return false, err
	}
	right, err := resolveValue(row, e.Right)
	if err != nil {
		return false, err
	}

	switch e.Op {
	case "=":
		return valuesEqual(left, right), nil
	case "!=", "<>":
		return !valuesEqual(left, right), nil
	case "<":
		return compareValues(left, right) < 0, nil
	case "<=":
		return compareValues(left, right) <= 0, nil
	case ">":
		return compareValues(left, right) > 0, nil
	case ">=":
		return compareValues(left, right) >= 0, nil
	case "LIKE":
		return likeMatch(stringOf(left), stringOf(right)), nil
	case "CONTAINS":
		return strings.Contains(stringOf(left), stringOf(right)), nil
	case "REGEX":
		re, err := regexp.Compile(stringOf(right))
		if err != nil {
			return false, fmt.Errorf("invalid REGEX pattern %q: %w", stringOf(right), err)
		}
		return re.MatchString(stringOf(left)), nil
	case "FUZZY":
		matches := fuzzy.Find(stringOf(right), []string{stringOf(left)})
		return len(matches) > 0, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", e.Op)
	}
}

// resolveValue turns a query.Expr leaf (ColumnRef or Literal) into a
// catalog.Value, looking up ColumnRef against row.
func resolveValue(row catalog.Row, expr query.Expr) (catalog.Value, error) {
	switch e := expr.(type) {
	case query.ColumnRef:
		v, ok := row.Columns[e.Name]
		if !ok {
			return catalog.NullValue(), nil
		}
		return v, nil
	case query.Literal:
		switch e.Kind {
		case "string":
			return catalog.StringValue(e.Str), nil
		case "number":
			return catalog.FloatValue(e.Num), nil
		case "bool":
			return catalog.BoolValue(e.Bool), nil
		case "null":
			return catalog.NullValue(), nil
		default:
			return catalog.NullValue(), fmt.Errorf("unknown literal kind %q", e.Kind)
		}
	default:
		return catalog.NullValue(), fmt.Errorf("expression %T is not a scalar", expr)
	}
}

func stringOf(v catalog.Value) string {
	switch v.Kind {
	case catalog.KindString:
		return v.Str
	default:
		return fmt.Sprintf("%v", v.Native())
	}
}

func valuesEqual(a, b catalog.Value) bool {
	if a.Kind == catalog.KindNull || b.Kind == catalog.KindNull {
		return a.Kind == b.Kind
	}
	if isNumeric(a) && isNumeric(b) {
		return numberOf(a) == numberOf(b)
	}
	return a.Native() == b.Native()
}

// compareValues returns -1/0/1 comparing a to b, treating both sides
// as numbers when possible and falling back to string comparison.
func compareValues(a, b catalog.Value) int {
	if isNumeric(a) && isNumeric(b) {
		na, nb := numberOf(a), numberOf(b)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(stringOf(a), stringOf(b))
}

func isNumeric(v catalog.Value) bool {
	return v.Kind == catalog.KindInt || v.Kind == catalog.KindFloat
}

func numberOf(v catalog.Value) float64 {
	if v.Kind == catalog.KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// likeMatch implements SQL LIKE's `%`/`_` wildcards via an anchored
// regex translation.
func likeMatch(s, pattern string) bool {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	re, err := regexp.Compile("(?is)" + b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
