package csql

import (
	"strings"
	"testing"
	"time"

	"github.com/dimagi/casesearch/internal/csql/parser"
)

func testContext(opts ...Option) *SearchContext {
	return NewSearchContext([]string{"test-domain"}, nil, opts...)
}

func frozenClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func mustEval(t *testing.T, sc *SearchContext, expr string) any {
	t.Helper()
	node, err := parser.Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", expr, err)
	}
	v, err := sc.evalValue(node)
	if err != nil {
		t.Fatalf("evalValue(%q) failed: %v", expr, err)
	}
	return v
}

func expectEvalError(t *testing.T, sc *SearchContext, expr, wantSubstr string) {
	t.Helper()
	node, err := parser.Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", expr, err)
	}
	_, err = sc.evalValue(node)
	if err == nil {
		t.Fatalf("evalValue(%q): expected error containing %q, got nil", expr, wantSubstr)
	}
	if !strings.Contains(err.Error(), wantSubstr) {
		t.Fatalf("evalValue(%q): expected error containing %q, got %q", expr, wantSubstr, err.Error())
	}
}

// --- date() ---

func TestDateFromEpochDays(t *testing.T) {
	sc := testContext()
	tests := []struct {
		expr string
		want string
	}{
		{"date(0)", "1970-01-01"},
		{"date(15)", "1970-01-16"},
		{"date(-1)", "1969-12-31"},
		{"date('2020-02-29')", "2020-02-29"},
	}
	for _, tt := range tests {
		v := mustEval(t, sc, tt.expr)
		d, ok := v.(dateValue)
		if !ok {
			t.Fatalf("%s: expected dateValue, got %T", tt.expr, v)
		}
		if d.String() != tt.want {
			t.Errorf("%s = %s, want %s", tt.expr, d, tt.want)
		}
	}
}

func TestDateRejectsBadInput(t *testing.T) {
	sc := testContext()
	expectEvalError(t, sc, "date('banana')", "not a valid date")
	expectEvalError(t, sc, "date('2020-1-1')", "not a valid date")
	expectEvalError(t, sc, "date(1.5)", "not a valid date")
}

func TestDateIsIdempotent(t *testing.T) {
	sc := testContext()
	v := mustEval(t, sc, "date(date(15))")
	if v.(dateValue).String() != "1970-01-16" {
		t.Fatalf("date(date(15)) = %v", v)
	}
}

// --- datetime() ---

func TestDatetimeFromFractionalDays(t *testing.T) {
	sc := testContext()
	v := mustEval(t, sc, "datetime(20041.614995)")
	dt := v.(datetimeValue)
	if got := dt.String(); got != "2024-11-14T14:45:35.568Z" {
		t.Fatalf("datetime(20041.614995) = %s", got)
	}
}

func TestDatetimeFromString(t *testing.T) {
	sc := testContext()
	v := mustEval(t, sc, "datetime('2023-05-16T13:01:51Z')")
	dt := v.(datetimeValue)
	want := time.Date(2023, 5, 16, 13, 1, 51, 0, time.UTC)
	if !dt.t.Equal(want) {
		t.Fatalf("got %v, want %v", dt.t, want)
	}
}

func TestDatetimeNormalizesToUTC(t *testing.T) {
	sc := testContext()
	v := mustEval(t, sc, "datetime('2023-05-16T13:01:51+05:00')")
	dt := v.(datetimeValue)
	if got := dt.String(); got != "2023-05-16T08:01:51Z" {
		t.Fatalf("got %s", got)
	}
}

// --- today() / now() ---

func TestTodayUsesDomainTimezone(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatal(err)
	}
	// 23:30 UTC is already the next day in Seoul.
	sc := testContext(
		frozenClock(time.Date(2021, 8, 2, 23, 30, 0, 0, time.UTC)),
		WithTimezone(seoul),
	)
	v := mustEval(t, sc, "today()")
	if got := v.(dateValue).String(); got != "2021-08-03" {
		t.Fatalf("today() = %s, want 2021-08-03", got)
	}

	utc := testContext(frozenClock(time.Date(2021, 8, 2, 23, 30, 0, 0, time.UTC)))
	if got := mustEval(t, utc, "today()").(dateValue).String(); got != "2021-08-02" {
		t.Fatalf("today() = %s, want 2021-08-02", got)
	}
}

func TestNowKeepsInstant(t *testing.T) {
	sc := testContext(frozenClock(time.Date(2023, 5, 16, 13, 1, 51, 0, time.UTC)))
	v := mustEval(t, sc, "now()")
	if got := v.(datetimeValue).String(); got != "2023-05-16T13:01:51Z" {
		t.Fatalf("now() = %s", got)
	}
}

// --- date-add / datetime-add ---

func TestDateAddDays(t *testing.T) {
	sc := testContext()
	tests := []struct {
		expr string
		want string
	}{
		{"date-add('2020-01-01', 'days', 30)", "2020-01-31"},
		{"date-add('2020-01-01', 'days', -1)", "2019-12-31"},
		{"date-add('2020-01-01', 'weeks', 2)", "2020-01-15"},
		{"date-add('2020-01-01', 'weeks', 1.5)", "2020-01-11"},
		{"date-add('2020-01-01', 'years', 1)", "2021-01-01"},
	}
	for _, tt := range tests {
		v := mustEval(t, sc, tt.expr)
		if got := v.(dateValue).String(); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.expr, got, tt.want)
		}
	}
}

func TestDateAddClampsMonthEnds(t *testing.T) {
	sc := testContext()
	tests := []struct {
		expr string
		want string
	}{
		{"date-add('2020-02-29', 'years', 1)", "2021-02-28"},
		{"date-add('2020-04-30', 'months', -2)", "2020-02-29"},
		{"date-add('2020-01-31', 'months', 1)", "2020-02-29"},
		{"date-add('2019-01-31', 'months', 1)", "2019-02-28"},
		{"date-add('2020-03-31', 'months', -1)", "2020-02-29"},
	}
	for _, tt := range tests {
		v := mustEval(t, sc, tt.expr)
		if got := v.(dateValue).String(); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.expr, got, tt.want)
		}
	}
}

func TestDateAddRejectsFractionalMonths(t *testing.T) {
	sc := testContext()
	expectEvalError(t, sc, "date-add('2020-01-01', 'months', 1.5)", "whole number")
	expectEvalError(t, sc, "date-add('2020-01-01', 'years', 0.5)", "whole number")
}

func TestDateAddRejectsUnknownUnit(t *testing.T) {
	sc := testContext()
	expectEvalError(t, sc, "date-add('2020-01-01', 'fortnights', 1)", "unknown unit")
}

func TestDatetimeAddWeeks(t *testing.T) {
	sc := testContext(frozenClock(time.Date(2023, 5, 16, 13, 1, 51, 0, time.UTC)))
	v := mustEval(t, sc, "datetime-add(now(), 'weeks', -2)")
	if got := v.(datetimeValue).String(); got != "2023-05-02T13:01:51Z" {
		t.Fatalf("got %s", got)
	}
}

func TestDatetimeAddHours(t *testing.T) {
	sc := testContext()
	v := mustEval(t, sc, "datetime-add('2020-01-01T00:00:00Z', 'hours', 36)")
	if got := v.(datetimeValue).String(); got != "2020-01-02T12:00:00Z" {
		t.Fatalf("got %s", got)
	}
}

// --- double() ---

func TestDouble(t *testing.T) {
	sc := testContext()
	tests := []struct {
		expr string
		want float64
	}{
		{"double(3)", 3},
		{"double('2.5')", 2.5},
		{"double('1970-01-16')", 15},
		{"double(date(15))", 15},
	}
	for _, tt := range tests {
		v := mustEval(t, sc, tt.expr)
		if got := v.(float64); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestDoubleRejectsText(t *testing.T) {
	sc := testContext()
	expectEvalError(t, sc, "double('banana')", "cannot convert")
}

// --- value function misuse ---

func TestQueryFunctionInValuePosition(t *testing.T) {
	sc := testContext()
	expectEvalError(t, sc, "match-all()", "cannot be used as a comparison value")
}

func TestUnknownValueFunction(t *testing.T) {
	sc := testContext()
	expectEvalError(t, sc, "tomorrow()", "unknown function")
}

// --- fuzzy date candidates ---

func TestFuzzyDateCandidates(t *testing.T) {
	d := time.Date(2012, 2, 12, 0, 0, 0, 0, time.UTC)
	got := fuzzyDateCandidates(d)

	contains := func(s string) bool {
		for _, c := range got {
			if c == s {
				return true
			}
		}
		return false
	}
	for _, want := range []string{"2012-02-12", "2012-12-02", "2021-02-12", "2012-02-21"} {
		if !contains(want) {
			t.Errorf("candidates missing %s: %v", want, got)
		}
	}
	// Month 21 does not exist.
	if contains("2012-21-02") {
		t.Errorf("candidates include invalid date: %v", got)
	}
	// Deterministic: sorted, no duplicates.
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("candidates not sorted/deduped: %v", got)
		}
	}
}
