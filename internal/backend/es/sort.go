package es

import (
	"fmt"

	"github.com/olivere/elastic/v7"

	"github.com/dimagi/casesearch/internal/query"
)

// TranslateSort converts a sort clause into an Elasticsearch sorter.
// Ascending sorts put documents missing the field first, descending sorts
// put them last.
func TranslateSort(s query.Sort) (elastic.Sorter, error) {
	switch s := s.(type) {
	case query.FieldSort:
		return orderedFieldSort(elastic.NewFieldSort(s.Field), s.Desc), nil

	case query.PropertySort:
		nested := elastic.NewNestedSort(query.CasePropertiesPath).
			Filter(elastic.NewTermQuery(query.PropertyKeyField, s.Property))
		return orderedFieldSort(elastic.NewFieldSort(s.Field).Nested(nested), s.Desc), nil

	default:
		return nil, fmt.Errorf("unknown sort type %T", s)
	}
}

func orderedFieldSort(fs *elastic.FieldSort, desc bool) *elastic.FieldSort {
	if desc {
		return fs.Desc().Missing("_last")
	}
	return fs.Asc().Missing("_first")
}
