// Package pg translates storage-agnostic filters into SQL over a JSONB
// case table and implements the case index against Postgres. Analyzed
// text features (fuzzy, phonetic, geo) are only available on the search
// cluster and are rejected here.
package pg

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/dimagi/casesearch/internal/query"
)

// caseColumns maps index document fields to columns of the cases table.
var caseColumns = map[string]string{
	"_id":           "case_id",
	"domain.exact":  "domain",
	"type.exact":    "case_type",
	"name.exact":    "name",
	"external_id":   "external_id",
	"owner_id":      "owner_id",
	"closed":        "closed",
	"opened_on":     "opened_on",
	"modified_on":   "modified_on",
	"closed_on":     "closed_on",
}

// propertyExprs maps nested case-property fields to expressions over one
// element of the case_properties JSONB array.
var propertyExprs = map[string]string{
	query.PropertyKeyField:     `_cp->>'key'`,
	query.PropertyValueExact:   `_cp->>'value'`,
	query.PropertyValueNumeric: `(_cp->>'value')::numeric`,
	query.PropertyValueDate:    `(_cp->>'value')::timestamptz`,
}

// indexExprs maps nested index fields to expressions over one element of
// the indices JSONB array.
var indexExprs = map[string]string{
	query.IndexIdentifierField:   `_ix->>'identifier'`,
	query.IndexReferencedIDField: `coalesce(_ix->>'referenced_id', '')`,
}

// resolver maps a document field name to a SQL expression in the current
// scope (top-level row or one JSONB array element).
type resolver func(field string) (string, error)

func topLevel(field string) (string, error) {
	col, ok := caseColumns[field]
	if !ok {
		return "", fmt.Errorf("field %q has no SQL column", field)
	}
	return col, nil
}

func inProperties(field string) (string, error) {
	expr, ok := propertyExprs[field]
	if !ok {
		return "", fmt.Errorf("case property field %q is not supported by the SQL backend", field)
	}
	return expr, nil
}

func inIndices(field string) (string, error) {
	expr, ok := indexExprs[field]
	if !ok {
		return "", fmt.Errorf("index field %q is not supported by the SQL backend", field)
	}
	return expr, nil
}

// Translate converts a Filter into a squirrel expression over the cases
// table.
func Translate(f query.Filter) (sq.Sqlizer, error) {
	return translate(f, topLevel)
}

func translate(f query.Filter, resolve resolver) (sq.Sqlizer, error) {
	switch f := f.(type) {
	case query.MatchAll:
		return sq.Expr(`TRUE`), nil

	case query.MatchNone:
		return sq.Expr(`FALSE`), nil

	case query.Term:
		col, err := resolve(f.Field)
		if err != nil {
			return nil, err
		}
		return sq.Expr(col+` = ?`, f.Value), nil

	case query.Terms:
		col, err := resolve(f.Field)
		if err != nil {
			return nil, err
		}
		return sq.Expr(col+` = ANY(?)`, f.Values), nil

	case query.IDs:
		return sq.Eq{"case_id": f.Values}, nil

	case query.Range:
		return rangeToSQL(f, resolve)

	case query.Prefix:
		col, err := resolve(f.Field)
		if err != nil {
			return nil, err
		}
		return sq.Expr(col+` LIKE ? || '%'`, f.Value), nil

	case query.Exists:
		col, err := resolve(f.Field)
		if err != nil {
			return nil, err
		}
		return sq.Expr(col + ` IS NOT NULL`), nil

	case query.Nested:
		return nestedToSQL(f)

	case query.Bool:
		return boolToSQL(f, resolve)

	case query.Match:
		return nil, fmt.Errorf("analyzed text matching is not supported by the SQL backend")

	case query.GeoDistance:
		return nil, fmt.Errorf("geo distance matching is not supported by the SQL backend")

	default:
		return nil, fmt.Errorf("unknown filter type %T", f)
	}
}

func rangeToSQL(f query.Range, resolve resolver) (sq.Sqlizer, error) {
	col, err := resolve(f.Field)
	if err != nil {
		return nil, err
	}
	var conds sq.And
	if f.Gt != nil {
		conds = append(conds, sq.Expr(col+` > ?`, f.Gt))
	}
	if f.Gte != nil {
		conds = append(conds, sq.Expr(col+` >= ?`, f.Gte))
	}
	if f.Lt != nil {
		conds = append(conds, sq.Expr(col+` < ?`, f.Lt))
	}
	if f.Lte != nil {
		conds = append(conds, sq.Expr(col+` <= ?`, f.Lte))
	}
	if len(conds) == 0 {
		return sq.Expr(`TRUE`), nil
	}
	return conds, nil
}

// nestedToSQL rewrites a nested array query as an EXISTS over the
// unnested JSONB elements.
func nestedToSQL(f query.Nested) (sq.Sqlizer, error) {
	var source, alias string
	var resolve resolver
	switch f.Path {
	case query.CasePropertiesPath:
		source, alias, resolve = "case_properties", "_cp", inProperties
	case query.IndicesPath:
		source, alias, resolve = "indices", "_ix", inIndices
	default:
		return nil, fmt.Errorf("unknown nested path %q", f.Path)
	}

	inner, err := translate(f.Query, resolve)
	if err != nil {
		return nil, err
	}
	innerSQL, args, err := inner.ToSql()
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf(`EXISTS (SELECT 1 FROM jsonb_array_elements(%s) AS %s WHERE %s)`,
		source, alias, innerSQL)
	return sq.Expr(expr, args...), nil
}

func boolToSQL(f query.Bool, resolve resolver) (sq.Sqlizer, error) {
	var conds sq.And
	for _, sub := range append(append([]query.Filter{}, f.Filter...), f.Must...) {
		c, err := translate(sub, resolve)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	for _, sub := range f.MustNot {
		c, err := translate(sub, resolve)
		if err != nil {
			return nil, err
		}
		conds = append(conds, notSqlizer{c})
	}
	if len(f.Should) > 0 {
		var should sq.Or
		for _, sub := range f.Should {
			c, err := translate(sub, resolve)
			if err != nil {
				return nil, err
			}
			should = append(should, c)
		}
		conds = append(conds, should)
	}
	if len(conds) == 0 {
		return sq.Expr(`TRUE`), nil
	}
	return conds, nil
}

// notSqlizer negates a squirrel expression; squirrel has no NOT
// combinator of its own.
type notSqlizer struct {
	inner sq.Sqlizer
}

func (n notSqlizer) ToSql() (string, []any, error) {
	sql, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	if !strings.HasPrefix(sql, "(") {
		sql = "(" + sql + ")"
	}
	return "NOT " + sql, args, nil
}
