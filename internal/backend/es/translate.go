// Package es translates storage-agnostic filters into Elasticsearch
// queries and implements the case index against a live cluster.
package es

import (
	"fmt"

	"github.com/olivere/elastic/v7"

	"github.com/dimagi/casesearch/internal/query"
)

// Translate converts a Filter into an Elasticsearch query.
func Translate(f query.Filter) (elastic.Query, error) {
	switch f := f.(type) {
	case query.MatchAll:
		return elastic.NewMatchAllQuery(), nil

	case query.MatchNone:
		return elastic.NewMatchNoneQuery(), nil

	case query.Term:
		return elastic.NewTermQuery(f.Field, f.Value), nil

	case query.Terms:
		values := make([]interface{}, len(f.Values))
		for i, v := range f.Values {
			values[i] = v
		}
		return elastic.NewTermsQuery(f.Field, values...), nil

	case query.IDs:
		return elastic.NewIdsQuery().Ids(f.Values...), nil

	case query.Range:
		r := elastic.NewRangeQuery(f.Field)
		if f.Gt != nil {
			r = r.Gt(f.Gt)
		}
		if f.Gte != nil {
			r = r.Gte(f.Gte)
		}
		if f.Lt != nil {
			r = r.Lt(f.Lt)
		}
		if f.Lte != nil {
			r = r.Lte(f.Lte)
		}
		return r, nil

	case query.Match:
		m := elastic.NewMatchQuery(f.Field, f.Text)
		if f.OperatorAnd {
			m = m.Operator("and")
		}
		if f.Fuzzy {
			m = m.Fuzziness("AUTO")
		}
		return m, nil

	case query.Prefix:
		return elastic.NewPrefixQuery(f.Field, f.Value), nil

	case query.Exists:
		return elastic.NewExistsQuery(f.Field), nil

	case query.Nested:
		inner, err := Translate(f.Query)
		if err != nil {
			return nil, err
		}
		return elastic.NewNestedQuery(f.Path, inner), nil

	case query.GeoDistance:
		return elastic.NewGeoDistanceQuery(f.Field).
			Lat(f.Lat).
			Lon(f.Lon).
			Distance(f.Distance), nil

	case query.Bool:
		b := elastic.NewBoolQuery()
		for _, sub := range f.Filter {
			q, err := Translate(sub)
			if err != nil {
				return nil, err
			}
			b = b.Filter(q)
		}
		for _, sub := range f.Must {
			q, err := Translate(sub)
			if err != nil {
				return nil, err
			}
			b = b.Must(q)
		}
		for _, sub := range f.MustNot {
			q, err := Translate(sub)
			if err != nil {
				return nil, err
			}
			b = b.MustNot(q)
		}
		for _, sub := range f.Should {
			q, err := Translate(sub)
			if err != nil {
				return nil, err
			}
			b = b.Should(q)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown filter type %T", f)
	}
}
