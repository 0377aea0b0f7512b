package csql

import (
	"fmt"
	"strings"

	"github.com/dimagi/casesearch/internal/query"
)

// CriteriaSort is the reserved criteria key carrying custom sort
// directives. It contributes sort clauses, not filters, so the criteria
// normalizer skips it.
const CriteriaSort = "commcare_sort"

var sortValueFields = map[string]string{
	"":        query.PropertyValueExact,
	"exact":   query.PropertyValueExact,
	"date":    query.PropertyValueDate,
	"numeric": query.PropertyValueNumeric,
}

// ParseSortProperties parses sort directives of the form
// "name,-date_of_birth:date": comma-separated properties, a "-" prefix
// for descending order, and an optional ":date" or ":numeric" suffix
// selecting the typed sub-field. Metadata properties with a dedicated
// sort field order on the document field directly; everything else sorts
// through the nested property value.
func (sc *SearchContext) ParseSortProperties(directives []string) ([]query.Sort, error) {
	var sorts []query.Sort
	for _, directive := range directives {
		for _, tok := range strings.Split(directive, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				return nil, &QueryError{
					Kind:     ErrSyntax,
					Message:  "empty sort property",
					Fragment: directive,
				}
			}
			desc := strings.HasPrefix(tok, "-")
			tok = strings.TrimPrefix(tok, "-")
			name, typ := tok, ""
			if i := strings.IndexByte(tok, ':'); i >= 0 {
				name, typ = tok[:i], tok[i+1:]
			}
			field, ok := sortValueFields[typ]
			if !ok {
				return nil, &QueryError{
					Kind:     ErrSyntax,
					Message:  fmt.Sprintf("unknown sort type %q", typ),
					Fragment: tok,
				}
			}
			if sp, ok := sc.specials.Lookup(name); ok && sp.SortField != "" {
				sorts = append(sorts, query.FieldSort{Field: sp.SortField, Desc: desc})
				continue
			}
			sorts = append(sorts, query.PropertySort{Property: name, Field: field, Desc: desc})
		}
	}
	return sorts, nil
}
