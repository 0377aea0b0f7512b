package csql

import (
	"regexp"
	"strconv"
	"time"

	"github.com/dimagi/casesearch/internal/csql/parser"
	"github.com/dimagi/casesearch/internal/query"
)

// compileLeaf compiles `property op value` where the left side is a plain
// Step (relational comparisons are routed elsewhere by the dispatcher).
func (sc *SearchContext) compileLeaf(expr *parser.BinaryExpr) (query.Filter, error) {
	step, ok := expr.Left.(*parser.Step)
	if !ok {
		return nil, syntaxErrf(expr, "the left side of %q must be a case property", expr.Op)
	}
	switch expr.Right.(type) {
	case *parser.Step, *parser.BinaryExpr:
		return nil, newErrf(ErrSelfReference, expr,
			"the right side of %q must be a value, not a case property", expr.Op)
	}

	val, err := sc.evalValue(expr.Right)
	if err != nil {
		return nil, err
	}

	if sp, ok := sc.specials.Lookup(step.Name); ok {
		return sc.compileSpecial(expr, sp, val)
	}
	return sc.compileProperty(expr, step.Name, val)
}

// compileSpecial compiles a comparison against a metadata pseudo-property.
func (sc *SearchContext) compileSpecial(expr *parser.BinaryExpr, sp SpecialProperty, val any) (query.Filter, error) {
	if sp.IsDocID {
		id, ok := val.(string)
		if !ok {
			id = formatValue(val)
		}
		switch expr.Op {
		case "=":
			return query.IDs{Values: []string{id}}, nil
		case "!=":
			return query.Not(query.IDs{Values: []string{id}}), nil
		default:
			return nil, syntaxErrf(expr, "range comparisons are not supported for %s", sp.Key)
		}
	}

	if sp.IsDatetime {
		return sc.compileDatetimeSpecial(expr, sp, val)
	}

	stored := any(formatValue(val))
	if sp.MapValue != nil {
		s, ok := val.(string)
		if !ok {
			s = formatValue(val)
		}
		mapped, err := sp.MapValue(s)
		if err != nil {
			return nil, err
		}
		stored = mapped
	}

	switch expr.Op {
	case "=":
		return query.Term{Field: sp.Field, Value: stored}, nil
	case "!=":
		return query.Not(query.Term{Field: sp.Field, Value: stored}), nil
	case ">", ">=", "<", "<=":
		return rangeFilter(sp.Field, expr.Op, stored), nil
	default:
		return nil, unknownOperator(expr)
	}
}

// compileDatetimeSpecial compiles a comparison against a datetime metadata
// field. A date-only value is widened to the UTC window covering that
// calendar day in the domain timezone; a full datetime compares directly.
func (sc *SearchContext) compileDatetimeSpecial(expr *parser.BinaryExpr, sp SpecialProperty, val any) (query.Filter, error) {
	switch v := val.(type) {
	case dateValue:
		return sc.widenedDateFilter(expr, sp.Field, v)
	case datetimeValue:
		switch expr.Op {
		case "=":
			return query.Term{Field: sp.Field, Value: v.String()}, nil
		case "!=":
			return query.Not(query.Term{Field: sp.Field, Value: v.String()}), nil
		case ">", ">=", "<", "<=":
			return rangeFilter(sp.Field, expr.Op, v.String()), nil
		default:
			return nil, unknownOperator(expr)
		}
	case string:
		if dateRe.MatchString(v) {
			d, err := coerceDate(expr, v)
			if err != nil {
				return nil, err
			}
			return sc.widenedDateFilter(expr, sp.Field, d)
		}
		dt, err := coerceDateTime(expr, v)
		if err != nil {
			return nil, err
		}
		return sc.compileDatetimeSpecial(expr, sp, dt)
	default:
		return nil, coercionErrf(expr, "%s requires a date or datetime value", sp.Key)
	}
}

// widenedDateFilter maps a date-only comparison onto a UTC datetime field.
// The calendar day d spans [midnight(d), midnight(d+1)) in the domain
// timezone; both bounds are converted to UTC instants.
func (sc *SearchContext) widenedDateFilter(expr *parser.BinaryExpr, field string, d dateValue) (query.Filter, error) {
	start := sc.localMidnight(d.t)
	end := sc.localMidnight(d.t.AddDate(0, 0, 1))

	eq := func() query.Filter {
		return query.Range{Field: field, Gte: start, Lt: end}
	}
	switch expr.Op {
	case "=":
		return eq(), nil
	case "!=":
		return query.Not(eq()), nil
	case "<":
		return query.Range{Field: field, Lt: start}, nil
	case "<=":
		return query.Range{Field: field, Lt: end}, nil
	case ">":
		return query.Range{Field: field, Gte: end}, nil
	case ">=":
		return query.Range{Field: field, Gte: start}, nil
	default:
		return nil, unknownOperator(expr)
	}
}

// localMidnight returns the UTC instant of midnight of the given calendar
// day in the domain timezone, formatted for the index.
func (sc *SearchContext) localMidnight(day time.Time) string {
	y, m, d := day.Date()
	return datetimeValue{time.Date(y, m, d, 0, 0, 0, 0, sc.tz).UTC()}.String()
}

// compileProperty compiles a comparison against a dynamic case property.
func (sc *SearchContext) compileProperty(expr *parser.BinaryExpr, name string, val any) (query.Filter, error) {
	switch expr.Op {
	case "=", "!=":
		f, err := sc.propertyEquals(expr, name, val)
		if err != nil {
			return nil, err
		}
		if expr.Op == "!=" {
			return query.Not(f), nil
		}
		return f, nil
	case ">", ">=", "<", "<=":
		return sc.propertyRange(expr, name, val)
	default:
		return nil, unknownOperator(expr)
	}
}

func (sc *SearchContext) propertyEquals(expr *parser.BinaryExpr, name string, val any) (query.Filter, error) {
	if s, ok := val.(string); ok {
		if s == "" {
			return query.PropertyMissing(name), nil
		}
		if sc.multiValued {
			if values, ok := parseQuotedList(s); ok {
				return query.PropertyTerms(name, values), nil
			}
		}
	}
	text := formatValue(val)
	if sc.fuzzy {
		return query.PropertyFuzzy(name, text), nil
	}
	return query.PropertyExact(name, text), nil
}

// propertyRange compiles an inequality on a dynamic property. Dynamic
// property values are indexed as strings with typed numeric and date
// sub-fields, so the comparison value must coerce to one of those.
func (sc *SearchContext) propertyRange(expr *parser.BinaryExpr, name string, val any) (query.Filter, error) {
	switch v := val.(type) {
	case int64:
		return query.PropertyRange(name, boundedRange(query.PropertyValueNumeric, expr.Op, v)), nil
	case float64:
		return query.PropertyRange(name, boundedRange(query.PropertyValueNumeric, expr.Op, v)), nil
	case dateValue:
		return query.PropertyRange(name, boundedRange(query.PropertyValueDate, expr.Op, v.String())), nil
	case datetimeValue:
		return query.PropertyRange(name, boundedRange(query.PropertyValueDate, expr.Op, v.String())), nil
	case string:
		if dateRe.MatchString(v) {
			return query.PropertyRange(name, boundedRange(query.PropertyValueDate, expr.Op, v)), nil
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return query.PropertyRange(name, boundedRange(query.PropertyValueNumeric, expr.Op, f)), nil
		}
		return nil, coercionErrf(expr, "range comparison values must be numeric or a quoted date")
	default:
		return nil, coercionErrf(expr, "range comparison values must be numeric or a quoted date")
	}
}

func boundedRange(field, op string, v any) query.Range {
	r := query.Range{Field: field}
	switch op {
	case ">":
		r.Gt = v
	case ">=":
		r.Gte = v
	case "<":
		r.Lt = v
	case "<=":
		r.Lte = v
	}
	return r
}

func rangeFilter(field, op string, v any) query.Filter {
	return boundedRange(field, op, v)
}

var quotedItemRe = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)

// parseQuotedList recognizes a bracketed list of quoted strings, the form
// multi-select values take when the multi-valued flag is on:
// ['a', 'b'] or ["a", "b"].
func parseQuotedList(s string) ([]string, bool) {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, false
	}
	matches := quotedItemRe.FindAllStringSubmatch(s[1:len(s)-1], -1)
	if len(matches) == 0 {
		return nil, false
	}
	values := make([]string, 0, len(matches))
	for _, m := range matches {
		if m[1] != "" || m[0][0] == '\'' {
			values = append(values, m[1])
		} else {
			values = append(values, m[2])
		}
	}
	return values, true
}
