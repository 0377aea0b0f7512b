// Package search is the domain-aware entry point: it resolves per-domain
// configuration (enablement, timezone, fuzzy properties, ignore patterns)
// and drives the CSQL compiler.
package search

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/dimagi/casesearch/internal/config"
	"github.com/dimagi/casesearch/internal/csql"
	"github.com/dimagi/casesearch/internal/query"
)

// Service compiles case-search requests against one case index.
type Service struct {
	cfg   config.Config
	log   *zap.Logger
	index csql.CaseIndex
}

// New builds a search service over the given case index.
func New(cfg config.Config, log *zap.Logger, index csql.CaseIndex) *Service {
	return &Service{cfg: cfg, log: log, index: index}
}

// Request is one case-search request: either a criteria dictionary, raw
// CSQL expressions under the _xpath_query key, or both. Searches are
// restricted to open cases unless IncludeClosed is set.
type Request struct {
	Domains       []string
	CaseTypes     []string
	Criteria      map[string][]string
	IncludeClosed bool
}

// Compile turns a request into a backend filter. The first domain's
// configuration governs timezone and fuzzy behavior; cross-domain data
// registry searches share the primary domain's settings.
func (s *Service) Compile(ctx context.Context, req Request) (query.Filter, error) {
	if len(req.Domains) == 0 {
		return nil, fmt.Errorf("no search domain given")
	}
	dc, ok := s.cfg.Domains[req.Domains[0]]
	if ok && !dc.Enabled {
		return nil, fmt.Errorf("case search is not enabled for domain %s", req.Domains[0])
	}

	sc := csql.NewSearchContext(req.Domains, s.index,
		csql.WithTimezone(dc.Timezone()),
		csql.WithMaxRelatedCases(s.maxRelated()),
		csql.WithLogger(s.log),
	)

	opts := csql.CriteriaOptions{
		CaseTypes:      req.CaseTypes,
		IsFuzzy:        dc.IsFuzzy,
		IgnorePatterns: compilePatterns(dc.IgnorePatterns),
	}

	f, err := sc.CompileCriteria(ctx, req.Criteria, opts)
	if err != nil {
		s.log.Info("case search compile failed",
			zap.String("domain", req.Domains[0]),
			zap.Error(err),
		)
		return nil, err
	}

	return s.frame(req, f), nil
}

// CompileCSQL compiles a raw CSQL expression for the domain.
func (s *Service) CompileCSQL(ctx context.Context, req Request, expr string) (query.Filter, error) {
	if len(req.Domains) == 0 {
		return nil, fmt.Errorf("no search domain given")
	}
	dc := s.cfg.Domains[req.Domains[0]]

	sc := csql.NewSearchContext(req.Domains, s.index,
		csql.WithTimezone(dc.Timezone()),
		csql.WithMaxRelatedCases(s.maxRelated()),
		csql.WithLogger(s.log),
	)
	f, err := sc.Compile(ctx, expr)
	if err != nil {
		return nil, err
	}
	return s.frame(req, f), nil
}

// Sorts parses the request's custom sort directives (the "commcare_sort"
// criteria key) into backend sort clauses.
func (s *Service) Sorts(req Request) ([]query.Sort, error) {
	directives := req.Criteria[csql.CriteriaSort]
	if len(directives) == 0 {
		return nil, nil
	}
	sc := csql.NewSearchContext(req.Domains, s.index)
	return sc.ParseSortProperties(directives)
}

// frame wraps a compiled filter in the standard search restrictions: the
// requested case types, and open cases only unless the request opts out.
func (s *Service) frame(req Request, f query.Filter) query.Filter {
	var clauses []query.Filter
	if len(req.CaseTypes) > 0 {
		clauses = append(clauses, query.Terms{Field: "type.exact", Values: req.CaseTypes})
	}
	if !req.IncludeClosed {
		clauses = append(clauses, query.Term{Field: "closed", Value: false})
	}
	clauses = append(clauses, f)
	return query.And(clauses...)
}

func (s *Service) maxRelated() int {
	if s.cfg.Search.MaxRelatedCases > 0 {
		return s.cfg.Search.MaxRelatedCases
	}
	return csql.DefaultMaxRelatedCases
}

// compilePatterns converts configured ignore patterns to their compiled
// form; invalid regexes were rejected at config load.
func compilePatterns(patterns []config.IgnorePattern) []csql.IgnorePattern {
	out := make([]csql.IgnorePattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			continue
		}
		out = append(out, csql.IgnorePattern{
			CaseType: p.CaseType,
			Property: p.CaseProperty,
			Regex:    re,
		})
	}
	return out
}
