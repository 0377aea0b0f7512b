package csql

import (
	"reflect"
	"strings"
	"testing"

	"github.com/dimagi/casesearch/internal/query"
)

func mustParseSorts(t *testing.T, sc *SearchContext, directives ...string) []query.Sort {
	t.Helper()
	sorts, err := sc.ParseSortProperties(directives)
	if err != nil {
		t.Fatalf("ParseSortProperties(%v) failed: %v", directives, err)
	}
	return sorts
}

func TestParseSortProperties(t *testing.T) {
	sc := testContext()
	got := mustParseSorts(t, sc, "name,-date_of_birth:date")
	want := []query.Sort{
		query.PropertySort{Property: "name", Field: query.PropertyValueExact},
		query.PropertySort{Property: "date_of_birth", Field: query.PropertyValueDate, Desc: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestParseSortNumericSubField(t *testing.T) {
	sc := testContext()
	got := mustParseSorts(t, sc, "age:numeric")
	want := []query.Sort{
		query.PropertySort{Property: "age", Field: query.PropertyValueNumeric},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestParseSortMetadataFields(t *testing.T) {
	sc := testContext()
	got := mustParseSorts(t, sc, "-@owner_id", "@status")
	want := []query.Sort{
		query.FieldSort{Field: "owner_id", Desc: true},
		query.FieldSort{Field: "closed"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestParseSortErrors(t *testing.T) {
	sc := testContext()
	cases := []struct {
		directive string
		want      string
	}{
		{"name,,other", "empty sort property"},
		{"", "empty sort property"},
		{"dob:fancy", `unknown sort type "fancy"`},
	}
	for _, tc := range cases {
		_, err := sc.ParseSortProperties([]string{tc.directive})
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("ParseSortProperties(%q): expected error including %q, got %v",
				tc.directive, tc.want, err)
		}
	}
}
