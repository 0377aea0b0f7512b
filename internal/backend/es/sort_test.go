package es

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/dimagi/casesearch/internal/query"
)

func sortSource(t *testing.T, s query.Sort) string {
	t.Helper()
	sorter, err := TranslateSort(s)
	if err != nil {
		t.Fatalf("TranslateSort(%#v) failed: %v", s, err)
	}
	src, err := sorter.Source()
	if err != nil {
		t.Fatalf("Source failed: %v", err)
	}
	b, err := json.Marshal(src)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return string(b)
}

func TestTranslateFieldSort(t *testing.T) {
	got := sortSource(t, query.FieldSort{Field: "owner_id"})
	for _, want := range []string{`"owner_id"`, `"order":"asc"`, `"missing":"_first"`} {
		if !strings.Contains(got, want) {
			t.Errorf("sort %s missing %s", got, want)
		}
	}
}

func TestTranslatePropertySort(t *testing.T) {
	got := sortSource(t, query.PropertySort{
		Property: "date_of_birth",
		Field:    query.PropertyValueDate,
		Desc:     true,
	})
	for _, want := range []string{
		`"case_properties.value.date"`,
		`"order":"desc"`,
		`"missing":"_last"`,
		`"path":"case_properties"`,
		`"case_properties.key.exact":"date_of_birth"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("sort %s missing %s", got, want)
		}
	}
}
