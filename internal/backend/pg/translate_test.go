package pg

import (
	"reflect"
	"strings"
	"testing"

	"github.com/dimagi/casesearch/internal/query"
)

func toSQL(t *testing.T, f query.Filter) (string, []any) {
	t.Helper()
	cond, err := Translate(f)
	if err != nil {
		t.Fatalf("Translate(%#v) failed: %v", f, err)
	}
	sql, args, err := cond.ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}
	return sql, args
}

func expectSQL(t *testing.T, f query.Filter, wantSubstrs []string, wantArgs []any) {
	t.Helper()
	sql, args := toSQL(t, f)
	for _, want := range wantSubstrs {
		if !strings.Contains(sql, want) {
			t.Errorf("sql %q missing %q", sql, want)
		}
	}
	if wantArgs != nil && !reflect.DeepEqual(args, wantArgs) {
		t.Errorf("args %#v, want %#v", args, wantArgs)
	}
}

func TestTranslateTermColumn(t *testing.T) {
	expectSQL(t, query.Term{Field: "type.exact", Value: "patient"},
		[]string{`case_type = ?`}, []any{"patient"})
}

func TestTranslateTermUnknownField(t *testing.T) {
	if _, err := Translate(query.Term{Field: "mystery", Value: "x"}); err == nil {
		t.Fatal("expected error for unmapped field")
	}
}

func TestTranslateIDs(t *testing.T) {
	sql, args := toSQL(t, query.IDs{Values: []string{"c1", "c2"}})
	if !strings.Contains(sql, "case_id IN") {
		t.Fatalf("sql %q", sql)
	}
	if len(args) != 2 {
		t.Fatalf("args %#v", args)
	}
}

func TestTranslateRange(t *testing.T) {
	expectSQL(t, query.Range{Field: "modified_on", Gte: "2023-06-03T15:00:00Z"},
		[]string{`modified_on >= ?`}, []any{"2023-06-03T15:00:00Z"})
}

func TestTranslateNestedProperty(t *testing.T) {
	sql, args := toSQL(t, query.PropertyExact("name", "Bob"))
	for _, want := range []string{
		`jsonb_array_elements(case_properties)`,
		`_cp->>'key' = ?`,
		`_cp->>'value' = ?`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("sql %q missing %q", sql, want)
		}
	}
	if !reflect.DeepEqual(args, []any{"name", "Bob"}) {
		t.Fatalf("args %#v", args)
	}
}

func TestTranslateNestedIndex(t *testing.T) {
	sql, args := toSQL(t, query.Index("parent", []string{"g1"}))
	for _, want := range []string{
		`jsonb_array_elements(indices)`,
		`_ix->>'identifier' = ?`,
		`_ix->>'referenced_id'`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("sql %q missing %q", sql, want)
		}
	}
	if len(args) != 2 {
		t.Fatalf("args %#v", args)
	}
}

func TestTranslateNumericPropertyRange(t *testing.T) {
	sql, _ := toSQL(t, query.PropertyRange("age", query.Range{
		Field: query.PropertyValueNumeric,
		Gt:    int64(5),
	}))
	if !strings.Contains(sql, `(_cp->>'value')::numeric > ?`) {
		t.Fatalf("sql %q", sql)
	}
}

func TestTranslateNot(t *testing.T) {
	sql, _ := toSQL(t, query.Not(query.Term{Field: "owner_id", Value: "o1"}))
	if !strings.Contains(sql, `NOT (owner_id = ?)`) {
		t.Fatalf("sql %q", sql)
	}
}

func TestTranslateShould(t *testing.T) {
	sql, _ := toSQL(t, query.Bool{Should: []query.Filter{
		query.Term{Field: "owner_id", Value: "o1"},
		query.Term{Field: "owner_id", Value: "o2"},
	}})
	if !strings.Contains(sql, " OR ") {
		t.Fatalf("sql %q", sql)
	}
}

func TestTranslateTrivial(t *testing.T) {
	expectSQL(t, query.MatchAll{}, []string{"TRUE"}, nil)
	expectSQL(t, query.MatchNone{}, []string{"FALSE"}, nil)
}

func TestTranslateRejectsAnalyzedText(t *testing.T) {
	if _, err := Translate(query.PropertyFuzzy("name", "Bob")); err == nil {
		t.Fatal("expected fuzzy match to be rejected")
	}
	if _, err := Translate(query.PropertyGeoDistance("home", 1, 2, "30mi")); err == nil {
		t.Fatal("expected geo distance to be rejected")
	}
}
