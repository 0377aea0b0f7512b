package csql

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/dimagi/casesearch/internal/csql/parser"
)

// Typed values produced by the coercion layer. Distinguishing date-only
// values from instants matters downstream: date-only comparisons against
// datetime fields are widened by the domain timezone offset.
type dateValue struct{ t time.Time }    // midnight UTC of the calendar day
type datetimeValue struct{ t time.Time } // instant, normalized to UTC

func (d dateValue) String() string { return d.t.Format("2006-01-02") }

func (d datetimeValue) String() string {
	if d.t.Nanosecond() != 0 {
		return d.t.Format("2006-01-02T15:04:05.000Z07:00")
	}
	return d.t.Format("2006-01-02T15:04:05Z07:00")
}

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// evalValue resolves a comparison's right-hand side to a typed value:
// string, int64, float64, dateValue, or datetimeValue.
func (sc *SearchContext) evalValue(node parser.Node) (any, error) {
	switch n := node.(type) {
	case *parser.Literal:
		switch n.Kind {
		case parser.StringLit:
			return n.Str, nil
		case parser.IntLit:
			return n.Int, nil
		default:
			return n.Float, nil
		}
	case *parser.UnaryExpr:
		inner, err := sc.evalValue(n.Operand)
		if err != nil {
			return nil, err
		}
		switch v := inner.(type) {
		case int64:
			return -v, nil
		case float64:
			return -v, nil
		default:
			return nil, coercionErrf(node, "unary minus requires a numeric value")
		}
	case *parser.FuncCall:
		return sc.evalValueFunc(n)
	default:
		return nil, syntaxErrf(node, "expected a literal or function value")
	}
}

// valueFunctionNames is the set of functions usable in value position.
var valueFunctionNames = []string{
	"date", "datetime", "today", "now", "date-add", "datetime-add", "double",
}

func (sc *SearchContext) evalValueFunc(call *parser.FuncCall) (any, error) {
	switch call.Name {
	case "today":
		if err := checkArity(call, 0); err != nil {
			return nil, err
		}
		y, m, d := sc.now().In(sc.tz).Date()
		return dateValue{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}, nil

	case "now":
		if err := checkArity(call, 0); err != nil {
			return nil, err
		}
		return datetimeValue{sc.now().UTC()}, nil

	case "date":
		if err := checkArity(call, 1); err != nil {
			return nil, err
		}
		v, err := sc.evalValue(call.Args[0])
		if err != nil {
			return nil, err
		}
		return coerceDate(call, v)

	case "datetime":
		if err := checkArity(call, 1); err != nil {
			return nil, err
		}
		v, err := sc.evalValue(call.Args[0])
		if err != nil {
			return nil, err
		}
		return coerceDateTime(call, v)

	case "date-add", "datetime-add":
		return sc.evalAdd(call)

	case "double":
		if err := checkArity(call, 1); err != nil {
			return nil, err
		}
		v, err := sc.evalValue(call.Args[0])
		if err != nil {
			return nil, err
		}
		return coerceDouble(call, v)

	default:
		if _, ok := queryFunctions[call.Name]; ok {
			return nil, syntaxErrf(call, "%s() cannot be used as a comparison value", call.Name)
		}
		return nil, newErrf(ErrUnknownFunction, call,
			"unknown function %q; valid value functions are %v", call.Name, valueFunctionNames)
	}
}

func (sc *SearchContext) evalAdd(call *parser.FuncCall) (any, error) {
	if err := checkArity(call, 3); err != nil {
		return nil, err
	}
	base, err := sc.evalValue(call.Args[0])
	if err != nil {
		return nil, err
	}
	unitV, err := sc.evalValue(call.Args[1])
	if err != nil {
		return nil, err
	}
	unit, ok := unitV.(string)
	if !ok {
		return nil, coercionErrf(call, "%s() unit must be a string", call.Name)
	}
	qtyV, err := sc.evalValue(call.Args[2])
	if err != nil {
		return nil, err
	}
	qty, err := coerceQuantity(call, qtyV)
	if err != nil {
		return nil, err
	}

	if call.Name == "date-add" {
		d, err := coerceDate(call, base)
		if err != nil {
			return nil, err
		}
		t, err := addToTime(call, d.t, unit, qty)
		if err != nil {
			return nil, err
		}
		y, m, day := t.UTC().Date()
		return dateValue{time.Date(y, m, day, 0, 0, 0, 0, time.UTC)}, nil
	}

	dt, err := coerceDateTime(call, base)
	if err != nil {
		return nil, err
	}
	t, err := addToTime(call, dt.t, unit, qty)
	if err != nil {
		return nil, err
	}
	return datetimeValue{t.UTC()}, nil
}

// addToTime applies calendar-aware addition. Years and months require an
// integer quantity and clamp to the last valid day of the target month;
// every other unit accepts fractional quantities.
func addToTime(node parser.Node, t time.Time, unit string, qty float64) (time.Time, error) {
	switch unit {
	case "years", "months":
		if qty != math.Trunc(qty) {
			return time.Time{}, coercionErrf(node,
				"%s quantity must be a whole number, got %v", unit, qty)
		}
		months := int(qty)
		if unit == "years" {
			months *= 12
		}
		return addMonthsClamped(t, months), nil
	case "weeks":
		return t.Add(time.Duration(qty * 7 * 24 * float64(time.Hour))), nil
	case "days":
		return t.Add(time.Duration(qty * 24 * float64(time.Hour))), nil
	case "hours":
		return t.Add(time.Duration(qty * float64(time.Hour))), nil
	case "minutes":
		return t.Add(time.Duration(qty * float64(time.Minute))), nil
	case "seconds":
		return t.Add(time.Duration(qty * float64(time.Second))), nil
	default:
		return time.Time{}, coercionErrf(node,
			"unknown unit %q; valid units are seconds, minutes, hours, days, weeks, months, years", unit)
	}
}

// addMonthsClamped shifts t by the given number of months, clamping the
// day to the last valid day of the target month instead of rolling over
// (2020-02-29 plus one year is 2021-02-28, not 2021-03-01).
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + months
	y += total / 12
	total %= 12
	if total < 0 {
		total += 12
		y--
	}
	month := time.Month(total + 1)
	if last := daysInMonth(y, month); d > last {
		d = last
	}
	h, min, sec := t.Clock()
	return time.Date(y, month, d, h, min, sec, t.Nanosecond(), t.Location())
}

func daysInMonth(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// coerceDate accepts an integer (days since epoch), a YYYY-MM-DD string,
// or a date value.
func coerceDate(node parser.Node, v any) (dateValue, error) {
	switch x := v.(type) {
	case dateValue:
		return x, nil
	case int64:
		return dateValue{epoch.AddDate(0, 0, int(x))}, nil
	case float64:
		if x != math.Trunc(x) {
			return dateValue{}, coercionErrf(node, "%v is not a valid date", x)
		}
		return dateValue{epoch.AddDate(0, 0, int(x))}, nil
	case string:
		if !dateRe.MatchString(x) {
			return dateValue{}, coercionErrf(node, "%q is not a valid date", x)
		}
		t, err := time.Parse("2006-01-02", x)
		if err != nil {
			return dateValue{}, coercionErrf(node, "%q is not a valid date", x)
		}
		return dateValue{t}, nil
	default:
		return dateValue{}, coercionErrf(node, "%v is not a valid date", v)
	}
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceDateTime accepts fractional days since epoch, an ISO-8601 string,
// or a date/datetime value. The result is always UTC.
func coerceDateTime(node parser.Node, v any) (datetimeValue, error) {
	switch x := v.(type) {
	case datetimeValue:
		return x, nil
	case dateValue:
		return datetimeValue{x.t}, nil
	case int64:
		return datetimeValue{epoch.AddDate(0, 0, int(x))}, nil
	case float64:
		ms := math.Round(x * 24 * 60 * 60 * 1000)
		return datetimeValue{epoch.Add(time.Duration(ms) * time.Millisecond)}, nil
	case string:
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return datetimeValue{t.UTC()}, nil
			}
		}
		return datetimeValue{}, coercionErrf(node, "%q is not a valid datetime", x)
	default:
		return datetimeValue{}, coercionErrf(node, "%v is not a valid datetime", v)
	}
}

// coerceDouble converts a value to floating-point days since epoch for
// dates and datetimes, or the parsed number for numeric input.
func coerceDouble(node parser.Node, v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case dateValue:
		return x.t.Sub(epoch).Hours() / 24, nil
	case datetimeValue:
		return x.t.Sub(epoch).Hours() / 24, nil
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f, nil
		}
		if dateRe.MatchString(x) {
			d, err := coerceDate(node, x)
			if err != nil {
				return 0, err
			}
			return d.t.Sub(epoch).Hours() / 24, nil
		}
		if dt, err := coerceDateTime(node, x); err == nil {
			return dt.t.Sub(epoch).Hours() / 24, nil
		}
		return 0, coercionErrf(node, "cannot convert %q to a number", x)
	default:
		return 0, coercionErrf(node, "cannot convert %v to a number", v)
	}
}

// coerceQuantity accepts int, float, or numeric string quantities.
func coerceQuantity(node parser.Node, v any) (float64, error) {
	switch x := v.(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, coercionErrf(node, "%q is not a valid quantity", x)
		}
		return f, nil
	default:
		return 0, coercionErrf(node, "%v is not a valid quantity", v)
	}
}

func checkArity(call *parser.FuncCall, want int) error {
	if len(call.Args) != want {
		return syntaxErrf(call, "%s() expects %d argument(s), got %d",
			call.Name, want, len(call.Args))
	}
	return nil
}

// formatValue renders a typed value for use in a query.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case dateValue:
		return x.String()
	case datetimeValue:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
