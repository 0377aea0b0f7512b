package csql

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dimagi/casesearch/internal/query"
)

func mustCompile(t *testing.T, sc *SearchContext, expr string) query.Filter {
	t.Helper()
	f, err := sc.Compile(context.Background(), expr)
	if err != nil {
		t.Fatalf("Compile(%q) failed: %v", expr, err)
	}
	return f
}

func expectCompileError(t *testing.T, sc *SearchContext, expr string, kind ErrorKind, wantSubstr string) {
	t.Helper()
	_, err := sc.Compile(context.Background(), expr)
	if err == nil {
		t.Fatalf("Compile(%q): expected error containing %q, got nil", expr, wantSubstr)
	}
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("Compile(%q): expected *QueryError, got %T: %v", expr, err, err)
	}
	if qerr.Kind != kind {
		t.Fatalf("Compile(%q): expected kind %v, got %v (%v)", expr, kind, qerr.Kind, qerr)
	}
	if !strings.Contains(err.Error(), wantSubstr) {
		t.Fatalf("Compile(%q): expected error containing %q, got %q", expr, wantSubstr, err.Error())
	}
}

func assertFilter(t *testing.T, got, want query.Filter) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filter mismatch:\n got  %#v\n want %#v", got, want)
	}
}

// --- Equality ---

func TestCompileExactEquality(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "name = 'Bob'"),
		query.PropertyExact("name", "Bob"))
}

func TestCompileNumericEquality(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "age = 5"),
		query.PropertyExact("age", "5"))
}

func TestCompileInequality(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "color != 'red'"),
		query.Not(query.PropertyExact("color", "red")))
}

func TestCompileEmptyStringMeansMissing(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "middle_name = ''"),
		query.PropertyMissing("middle_name"))
}

func TestCompileFuzzyEquality(t *testing.T) {
	sc := testContext(WithFuzzy(true))
	assertFilter(t, mustCompile(t, sc, "name = 'Bob'"),
		query.PropertyFuzzy("name", "Bob"))
}

func TestCompileMultiValuedEquality(t *testing.T) {
	sc := testContext(WithMultiValued(true))
	assertFilter(t, mustCompile(t, sc, "color = '[\\'red\\', \\'blue\\']'"),
		query.PropertyTerms("color", []string{"red", "blue"}))
}

// --- Ranges ---

func TestCompileNumericRange(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "age > 5"),
		query.PropertyRange("age", query.Range{Field: query.PropertyValueNumeric, Gt: int64(5)}))
	assertFilter(t, mustCompile(t, sc, "age <= 2.5"),
		query.PropertyRange("age", query.Range{Field: query.PropertyValueNumeric, Lte: 2.5}))
}

func TestCompileDateRange(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "dob < '2020-03-01'"),
		query.PropertyRange("dob", query.Range{Field: query.PropertyValueDate, Lt: "2020-03-01"}))
}

func TestCompileRangeAgainstToday(t *testing.T) {
	sc := testContext(frozenClock(time.Date(2021, 8, 2, 12, 0, 0, 0, time.UTC)))
	assertFilter(t, mustCompile(t, sc, "next_visit > today()"),
		query.PropertyRange("next_visit", query.Range{Field: query.PropertyValueDate, Gt: "2021-08-02"}))
}

func TestCompileRangeRejectsText(t *testing.T) {
	sc := testContext()
	expectCompileError(t, sc, "age < 'banana'", ErrCoercion, "numeric or a quoted date")
}

// --- Self reference ---

func TestCompileRejectsPropertyOnRightSide(t *testing.T) {
	sc := testContext()
	expectCompileError(t, sc, "name = other_name", ErrSelfReference, "must be a value")
}

// --- Special properties ---

func TestCompileCaseID(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "@case_id = 'abc123'"),
		query.IDs{Values: []string{"abc123"}})
	assertFilter(t, mustCompile(t, sc, "@case_id != 'abc123'"),
		query.Not(query.IDs{Values: []string{"abc123"}}))
}

func TestCompileCaseIDRejectsRanges(t *testing.T) {
	sc := testContext()
	expectCompileError(t, sc, "@case_id > 'abc'", ErrSyntax, "not supported")
}

func TestCompileStatus(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "@status = 'open'"),
		query.Term{Field: "closed", Value: false})
	assertFilter(t, mustCompile(t, sc, "@status = 'closed'"),
		query.Term{Field: "closed", Value: true})
}

func TestCompileStatusRejectsOtherValues(t *testing.T) {
	sc := testContext()
	expectCompileError(t, sc, "@status = 'pending'", ErrCoercion, "open")
}

func TestCompileCaseType(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "@case_type = 'patient'"),
		query.Term{Field: "type.exact", Value: "patient"})
}

func TestCompileCaseName(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "case_name = 'Bob'"),
		query.Term{Field: "name.exact", Value: "Bob"})
}

// --- Datetime metadata widening ---

func TestDateComparisonWidensToDomainTimezone(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatal(err)
	}
	sc := testContext(WithTimezone(seoul))

	// Seoul is UTC+9: local midnight of 2023-06-04 is 15:00 UTC the day
	// before.
	assertFilter(t, mustCompile(t, sc, "last_modified < '2023-06-04'"),
		query.Range{Field: "modified_on", Lt: "2023-06-03T15:00:00Z"})

	assertFilter(t, mustCompile(t, sc, "last_modified >= '2023-06-04'"),
		query.Range{Field: "modified_on", Gte: "2023-06-03T15:00:00Z"})

	assertFilter(t, mustCompile(t, sc, "last_modified > '2023-06-04'"),
		query.Range{Field: "modified_on", Gte: "2023-06-04T15:00:00Z"})

	assertFilter(t, mustCompile(t, sc, "last_modified <= '2023-06-04'"),
		query.Range{Field: "modified_on", Lt: "2023-06-04T15:00:00Z"})
}

func TestDateEqualityBecomesDayWindow(t *testing.T) {
	sc := testContext()
	want := query.Range{
		Field: "modified_on",
		Gte:   "2023-06-04T00:00:00Z",
		Lt:    "2023-06-05T00:00:00Z",
	}
	assertFilter(t, mustCompile(t, sc, "last_modified = '2023-06-04'"), want)
	assertFilter(t, mustCompile(t, sc, "last_modified != '2023-06-04'"), query.Not(want))
}

func TestDatetimeComparisonIsNotWidened(t *testing.T) {
	sc := testContext(frozenClock(time.Date(2023, 5, 16, 13, 1, 51, 0, time.UTC)))
	assertFilter(t, mustCompile(t, sc, "last_modified < datetime-add(now(), 'weeks', -2)"),
		query.Range{Field: "modified_on", Lt: "2023-05-02T13:01:51Z"})
}

func TestDateOpenedRange(t *testing.T) {
	sc := testContext()
	assertFilter(t, mustCompile(t, sc, "date_opened >= '2023-01-01'"),
		query.Range{Field: "opened_on", Gte: "2023-01-01T00:00:00Z"})
}
