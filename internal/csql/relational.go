package csql

import (
	"fmt"
	"sort"
	"time"

	"github.com/dimagi/casesearch/internal/csql/parser"
	"github.com/dimagi/casesearch/internal/metrics"
	"github.com/dimagi/casesearch/internal/query"
)

// The search index has no join support, so case relationships are resolved
// by repeated queries against the index itself: obtain a candidate id set,
// then walk the index graph hop by hop (ancestors), or bucket-aggregate
// child counts per parent (subcases). Every intermediate set is capped.

// subCaseQuery is the normalized form of a subcase predicate. After
// normalization op is always ">" or "="; the other four comparison
// operators are rewritten algebraically, with inversion applied as a NOT
// over the final parent id set.
type subCaseQuery struct {
	identifier string
	filter     parser.Node // nil compiles as match-all
	op         string      // ">" or "="
	count      int
	invert     bool
}

// normalizeSubcase rewrites `subcase-count(...) op n` into the canonical
// two-operator form. The index can answer "count > N" and "count = N"
// directly; everything else is one of those plus inversion.
func normalizeSubcase(op string, n int) (canonOp string, count int, invert bool, err error) {
	switch op {
	case ">":
		return ">", n, false, nil
	case ">=":
		return ">", n - 1, false, nil
	case "<":
		return ">", n - 1, true, nil
	case "<=":
		return ">", n, true, nil
	case "=":
		if n > 0 {
			return "=", n, false, nil
		}
		return ">", 0, true, nil
	case "!=":
		if n > 0 {
			return "=", n, true, nil
		}
		return ">", 0, false, nil
	default:
		return "", 0, false, fmt.Errorf("unsupported subcase operator %q", op)
	}
}

// compileAncestorExists resolves the explicit ancestor-exists(path, filter)
// form. The implicit path form (a/b/prop = value) is rewritten into this
// shape by the dispatcher.
func (sc *SearchContext) compileAncestorExists(call *parser.FuncCall) (query.Filter, error) {
	if err := checkArity(call, 2); err != nil {
		return nil, err
	}
	identifiers, err := pathIdentifiers(call.Args[0])
	if err != nil {
		return nil, err
	}
	return sc.resolveAncestors(call, identifiers, call.Args[1])
}

// pathIdentifiers flattens a left-associated "/" chain into its ordered
// relationship identifiers as written (outermost first).
func pathIdentifiers(node parser.Node) ([]string, error) {
	switch n := node.(type) {
	case *parser.Step:
		return []string{n.Name}, nil
	case *parser.BinaryExpr:
		if n.Op != "/" {
			return nil, syntaxErrf(node, "expected a relationship path like parent/host")
		}
		left, err := pathIdentifiers(n.Left)
		if err != nil {
			return nil, err
		}
		right, ok := n.Right.(*parser.Step)
		if !ok {
			return nil, syntaxErrf(node, "expected a relationship path like parent/host")
		}
		return append(left, right.Name), nil
	default:
		return nil, syntaxErrf(node, "expected a relationship path like parent/host")
	}
}

// resolveAncestors walks the index graph from the ancestor filter back to
// the searched cases. identifiers are outermost first: for parent/host the
// filter applies to the host cases, then the host hop is resolved, and the
// final filter selects cases whose parent index points at the result.
func (sc *SearchContext) resolveAncestors(origin parser.Node, identifiers []string, filter parser.Node) (query.Filter, error) {
	if err := rejectSubcasePredicates(filter); err != nil {
		return nil, err
	}

	ids, err := sc.candidateIDs(origin, filter)
	if err != nil {
		return nil, err
	}

	for i := len(identifiers) - 1; i >= 1; i-- {
		if len(ids) == 0 {
			return query.MatchNone{}, nil
		}
		ids, err = sc.scrollIDs(origin, "ancestor hop "+identifiers[i],
			query.Index(identifiers[i], ids))
		if err != nil {
			return nil, err
		}
	}

	if len(ids) == 0 {
		return query.MatchNone{}, nil
	}
	return query.Index(identifiers[0], ids), nil
}

// candidateIDs resolves the ancestor filter to a set of case ids. A filter
// that is literally `@case_id = value` yields its ids without touching the
// backend.
func (sc *SearchContext) candidateIDs(origin, filter parser.Node) ([]string, error) {
	if ids, ok := sc.caseIDShortCircuit(filter); ok {
		return ids, nil
	}
	f, err := sc.compileNode(filter)
	if err != nil {
		return nil, err
	}
	return sc.scrollIDs(origin, "ancestor filter", f)
}

// caseIDShortCircuit recognizes `@case_id = 'v'`, including the
// multi-valued list form when the flag is on.
func (sc *SearchContext) caseIDShortCircuit(filter parser.Node) ([]string, bool) {
	cmp, ok := filter.(*parser.BinaryExpr)
	if !ok || cmp.Op != "=" {
		return nil, false
	}
	step, ok := cmp.Left.(*parser.Step)
	if !ok {
		return nil, false
	}
	sp, ok := sc.specials.Lookup(step.Name)
	if !ok || !sp.IsDocID {
		return nil, false
	}
	lit, ok := cmp.Right.(*parser.Literal)
	if !ok || lit.Kind != parser.StringLit {
		return nil, false
	}
	if sc.multiValued {
		if values, ok := parseQuotedList(lit.Str); ok {
			return values, true
		}
	}
	return []string{lit.Str}, true
}

// rejectSubcasePredicates walks the boolean spine of an ancestor filter
// and rejects embedded subcase predicates: a subcase aggregation cannot be
// scoped to an ancestor's children.
func rejectSubcasePredicates(node parser.Node) error {
	switch n := node.(type) {
	case *parser.BinaryExpr:
		if n.Op == "and" || n.Op == "or" {
			if err := rejectSubcasePredicates(n.Left); err != nil {
				return err
			}
			return rejectSubcasePredicates(n.Right)
		}
		if call, ok := n.Left.(*parser.FuncCall); ok && call.Name == "subcase-count" {
			return newErrf(ErrCombination, node,
				"subcase-count cannot be used inside an ancestor filter")
		}
	case *parser.FuncCall:
		if n.Name == "subcase-exists" || n.Name == "subcase-count" {
			return newErrf(ErrCombination, node,
				"%s cannot be used inside an ancestor filter", n.Name)
		}
	}
	return nil
}

// scrollIDs runs a capped id scroll, recording the sub-query in the trace.
func (sc *SearchContext) scrollIDs(origin parser.Node, detail string, f query.Filter) ([]string, error) {
	start := time.Now()
	total, err := sc.index.Count(sc.ctx, sc.domains, f)
	if err != nil {
		return nil, fmt.Errorf("count related cases: %w", err)
	}
	if total > int64(sc.maxRelated) {
		metrics.CardinalityAbort()
		return nil, tooManyRelatedCases(origin)
	}
	ids, err := sc.index.ScrollIDs(sc.ctx, sc.domains, f)
	if err != nil {
		return nil, fmt.Errorf("scroll related case ids: %w", err)
	}
	sc.recordSubQuery("scroll_ids", detail, len(ids), time.Since(start))
	return ids, nil
}

// compileSubcaseExists handles subcase-exists(identifier[, filter]).
func (sc *SearchContext) compileSubcaseExists(call *parser.FuncCall) (query.Filter, error) {
	if len(call.Args) != 1 && len(call.Args) != 2 {
		return nil, syntaxErrf(call, "subcase-exists() expects 1 or 2 arguments, got %d", len(call.Args))
	}
	identifier, err := argProperty(call, 0)
	if err != nil {
		return nil, err
	}
	q := subCaseQuery{identifier: identifier, op: ">", count: 0}
	if len(call.Args) == 2 {
		q.filter = call.Args[1]
	}
	return sc.compileSubcase(call, q)
}

// compileSubcaseCount handles `subcase-count(identifier[, filter]) op n`.
// The dispatcher passes the whole comparison.
func (sc *SearchContext) compileSubcaseCount(cmp *parser.BinaryExpr) (query.Filter, error) {
	call := cmp.Left.(*parser.FuncCall)
	if len(call.Args) != 1 && len(call.Args) != 2 {
		return nil, syntaxErrf(call, "subcase-count() expects 1 or 2 arguments, got %d", len(call.Args))
	}
	identifier, err := argProperty(call, 0)
	if err != nil {
		return nil, err
	}

	v, err := sc.evalValue(cmp.Right)
	if err != nil {
		return nil, err
	}
	n, ok := v.(int64)
	if !ok {
		return nil, coercionErrf(cmp, "subcase-count comparisons require a whole number")
	}

	op, count, invert, err := normalizeSubcase(cmp.Op, int(n))
	if err != nil {
		return nil, unknownOperator(cmp)
	}
	q := subCaseQuery{identifier: identifier, op: op, count: count, invert: invert}
	if len(call.Args) == 2 {
		q.filter = call.Args[1]
	}
	return sc.compileSubcase(cmp, q)
}

// compileSubcase resolves a normalized subcase predicate: aggregate
// matching children per parent id, apply the canonical op to each bucket,
// and emit the parent id set (or its negation).
func (sc *SearchContext) compileSubcase(origin parser.Node, q subCaseQuery) (query.Filter, error) {
	childFilter := query.Filter(query.MatchAll{})
	if q.filter != nil {
		var err error
		childFilter, err = sc.compileNode(q.filter)
		if err != nil {
			return nil, err
		}
	}
	combined := query.And(childFilter, query.NonEmptyIndex(q.identifier))

	start := time.Now()
	total, err := sc.index.Count(sc.ctx, sc.domains, combined)
	if err != nil {
		return nil, fmt.Errorf("count subcases: %w", err)
	}
	if total > int64(sc.maxRelated) {
		metrics.CardinalityAbort()
		return nil, tooManyRelatedCases(origin)
	}

	counts, err := sc.index.RelatedCounts(sc.ctx, sc.domains, q.identifier, combined)
	if err != nil {
		return nil, fmt.Errorf("aggregate subcase counts: %w", err)
	}
	sc.recordSubQuery("related_counts", "subcase "+q.identifier, len(counts), time.Since(start))

	var parentIDs []string
	for id, c := range counts {
		switch q.op {
		case ">":
			// count <= 0 admits every bucketed parent without a
			// per-bucket check.
			if q.count <= 0 || c > int64(q.count) {
				parentIDs = append(parentIDs, id)
			}
		case "=":
			if c == int64(q.count) {
				parentIDs = append(parentIDs, id)
			}
		}
	}
	sort.Strings(parentIDs)

	if q.invert {
		if len(parentIDs) == 0 {
			// NOT IN an empty set matches everything; emit the primitive
			// rather than negating an empty id query.
			return query.MatchAll{}, nil
		}
		return query.Not(query.IDs{Values: parentIDs}), nil
	}
	if len(parentIDs) == 0 {
		return query.MatchNone{}, nil
	}
	return query.IDs{Values: parentIDs}, nil
}
