package es

import (
	"context"
	"fmt"
	"io"

	"github.com/olivere/elastic/v7"

	"github.com/dimagi/casesearch/internal/query"
)

const (
	// DomainField scopes every query to the requesting domains.
	DomainField = "domain.exact"

	defaultScrollSize = 10_000
	defaultBucketSize = 65_536
)

// Searcher runs case-index queries against an Elasticsearch cluster. It
// implements csql.CaseIndex.
type Searcher struct {
	client     *elastic.Client
	index      string
	scrollSize int
	bucketSize int
}

// NewSearcher wraps an Elasticsearch client for the given case index.
func NewSearcher(client *elastic.Client, index string) *Searcher {
	return &Searcher{
		client:     client,
		index:      index,
		scrollSize: defaultScrollSize,
		bucketSize: defaultBucketSize,
	}
}

// scopedQuery frames a filter with the domain restriction.
func (s *Searcher) scopedQuery(domains []string, f query.Filter) (elastic.Query, error) {
	inner, err := Translate(f)
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(domains))
	for i, d := range domains {
		values[i] = d
	}
	return elastic.NewBoolQuery().
		Filter(elastic.NewTermsQuery(DomainField, values...)).
		Filter(inner), nil
}

// Count returns the number of cases matching the filter.
func (s *Searcher) Count(ctx context.Context, domains []string, f query.Filter) (int64, error) {
	q, err := s.scopedQuery(domains, f)
	if err != nil {
		return 0, err
	}
	n, err := s.client.Count(s.index).Query(q).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("count cases: %w", err)
	}
	return n, nil
}

// ScrollIDs returns the ids of every case matching the filter, fetched in
// scroll batches without document sources.
func (s *Searcher) ScrollIDs(ctx context.Context, domains []string, f query.Filter) ([]string, error) {
	q, err := s.scopedQuery(domains, f)
	if err != nil {
		return nil, err
	}

	scroll := s.client.Scroll(s.index).
		Query(q).
		Size(s.scrollSize).
		FetchSource(false)
	defer scroll.Clear(context.Background())

	var ids []string
	for {
		res, err := scroll.Do(ctx)
		if err == io.EOF {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("scroll case ids: %w", err)
		}
		for _, hit := range res.Hits.Hits {
			ids = append(ids, hit.Id)
		}
	}
}

// RelatedCounts buckets the cases matching the filter by the referenced id
// of their index with the given identifier, returning matching-child
// counts per parent id.
func (s *Searcher) RelatedCounts(ctx context.Context, domains []string, identifier string, f query.Filter) (map[string]int64, error) {
	q, err := s.scopedQuery(domains, f)
	if err != nil {
		return nil, err
	}

	// Soft-deleted indices keep their identifier with a blank
	// referenced_id and must not produce buckets.
	indexFilter := elastic.NewBoolQuery().
		Filter(elastic.NewTermQuery(query.IndexIdentifierField, identifier)).
		MustNot(elastic.NewTermQuery(query.IndexReferencedIDField, ""))

	agg := elastic.NewNestedAggregation().
		Path(query.IndicesPath).
		SubAggregation("matching", elastic.NewFilterAggregation().
			Filter(indexFilter).
			SubAggregation("referenced", elastic.NewTermsAggregation().
				Field(query.IndexReferencedIDField).
				Size(s.bucketSize)))

	res, err := s.client.Search(s.index).
		Query(q).
		Aggregation("indices", agg).
		Size(0).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate related cases: %w", err)
	}

	nested, ok := res.Aggregations.Nested("indices")
	if !ok {
		return nil, fmt.Errorf("aggregate related cases: missing indices aggregation")
	}
	filtered, ok := nested.Filter("matching")
	if !ok {
		return nil, fmt.Errorf("aggregate related cases: missing matching aggregation")
	}
	buckets, ok := filtered.Terms("referenced")
	if !ok {
		return nil, fmt.Errorf("aggregate related cases: missing referenced aggregation")
	}

	counts := make(map[string]int64, len(buckets.Buckets))
	for _, b := range buckets.Buckets {
		key, ok := b.Key.(string)
		if !ok {
			continue
		}
		counts[key] = b.DocCount
	}
	return counts, nil
}
