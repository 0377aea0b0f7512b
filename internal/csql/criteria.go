package csql

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dimagi/casesearch/internal/query"
)

// Reserved criteria keys handled outside the generic property path.
const (
	CriteriaOwnerID          = "owner_id"
	CriteriaBlacklistedOwner = "commcare_blacklisted_owner_ids"
	CriteriaXPathQuery       = "_xpath_query"
	criteriaIndexPrefix      = "indices."
)

const rangeValuePrefix = "__range__"

var rangeValueRe = regexp.MustCompile(`^__range__(\d{4}-\d{2}-\d{2})__(\d{4}-\d{2}-\d{2})$`)

// IgnorePattern strips matching substrings from an incoming criteria value
// before the query is built (stripping punctuation from phone numbers and
// the like). CaseType and Property scope the pattern; an empty CaseType
// applies to all case types.
type IgnorePattern struct {
	CaseType string
	Property string
	Regex    *regexp.Regexp
}

// CriteriaOptions carries the per-request configuration the normalizer
// consumes: the case types being searched, which properties default to
// fuzzy matching, and the value-stripping patterns. IsFuzzy is supplied
// by the domain configuration; nil means no property is fuzzy.
type CriteriaOptions struct {
	CaseTypes      []string
	IsFuzzy        func(caseTypes []string, property string) bool
	IgnorePatterns []IgnorePattern
}

func (o CriteriaOptions) isFuzzy(property string) bool {
	return o.IsFuzzy != nil && o.IsFuzzy(o.CaseTypes, property)
}

func (o CriteriaOptions) strip(property, value string) string {
	for _, pat := range o.IgnorePatterns {
		if pat.Property != property {
			continue
		}
		if pat.CaseType != "" && !containsString(o.CaseTypes, pat.CaseType) {
			continue
		}
		value = pat.Regex.ReplaceAllString(value, "")
	}
	return value
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// CompileCriteria turns the flat criteria dictionary of the simple request
// form into a backend filter, without routing simple equality through the
// grammar parser. Values are either a single string or a list of strings.
// Keys are processed in sorted order so the output is deterministic.
func (sc *SearchContext) CompileCriteria(ctx context.Context, criteria map[string][]string, opts CriteriaOptions) (query.Filter, error) {
	sc.ctx = ctx
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var filters []query.Filter
	for _, key := range keys {
		if key == CriteriaSort {
			continue
		}
		values := criteria[key]
		if len(values) == 0 {
			continue
		}
		f, err := sc.compileCriterion(key, values, opts)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		return query.MatchAll{}, nil
	}
	return query.And(filters...), nil
}

func (sc *SearchContext) compileCriterion(key string, values []string, opts CriteriaOptions) (query.Filter, error) {
	switch {
	case key == CriteriaBlacklistedOwner:
		single, err := singleValue(key, values)
		if err != nil {
			return nil, err
		}
		return query.Not(query.Terms{Field: "owner_id", Values: strings.Fields(single)}), nil

	case key == CriteriaOwnerID:
		single, err := singleValue(key, values)
		if err != nil {
			return nil, err
		}
		return query.Terms{Field: "owner_id", Values: strings.Fields(single)}, nil

	case key == CriteriaXPathQuery:
		var filters []query.Filter
		for _, expr := range values {
			if strings.TrimSpace(expr) == "" {
				continue
			}
			f, err := sc.Compile(sc.ctx, expr)
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		}
		if len(filters) == 0 {
			return query.MatchAll{}, nil
		}
		return query.And(filters...), nil

	case strings.HasPrefix(key, criteriaIndexPrefix):
		identifier := strings.TrimPrefix(key, criteriaIndexPrefix)
		return query.Index(identifier, values), nil

	case strings.Contains(key, "/"):
		single, err := singleValue(key, values)
		if err != nil {
			return nil, err
		}
		expr := fmt.Sprintf("%s = '%s'", key, strings.ReplaceAll(single, "'", "\\'"))
		return sc.Compile(sc.ctx, expr)

	default:
		return sc.compilePropertyCriterion(key, values, opts)
	}
}

func singleValue(key string, values []string) (string, error) {
	if len(values) > 1 {
		return "", &QueryError{
			Kind:     ErrSyntax,
			Message:  fmt.Sprintf("%s does not accept multiple values", key),
			Fragment: key,
		}
	}
	return values[0], nil
}

func (sc *SearchContext) compilePropertyCriterion(key string, values []string, opts CriteriaOptions) (query.Filter, error) {
	stripped := make([]string, 0, len(values))
	for _, v := range values {
		stripped = append(stripped, opts.strip(key, v))
	}
	values = stripped

	if len(values) == 1 && strings.HasPrefix(values[0], rangeValuePrefix) {
		return sc.compileRangeCriterion(key, values[0])
	}
	if strings.Contains(strings.Join(values, ""), rangeValuePrefix) && len(values) > 1 {
		return nil, &QueryError{
			Kind:     ErrSyntax,
			Message:  fmt.Sprintf("%s: a date range cannot be combined with other values", key),
			Fragment: key,
		}
	}

	fuzzy := opts.isFuzzy(key)
	sp, isSpecial := sc.specials.Lookup(key)

	if len(values) > 1 {
		if isSpecial {
			return query.Terms{Field: sp.Field, Values: values}, nil
		}
		if fuzzy {
			filters := make([]query.Filter, 0, len(values))
			for _, v := range values {
				filters = append(filters, query.PropertyFuzzy(key, v))
			}
			return query.Or(filters...), nil
		}
		return query.PropertyTerms(key, values), nil
	}

	value := values[0]
	if isSpecial {
		stored := any(value)
		if sp.MapValue != nil {
			mapped, err := sp.MapValue(value)
			if err != nil {
				return nil, err
			}
			stored = mapped
		}
		if sp.IsDocID {
			return query.IDs{Values: []string{value}}, nil
		}
		return query.Term{Field: sp.Field, Value: stored}, nil
	}
	if value == "" {
		return query.PropertyMissing(key), nil
	}
	if fuzzy {
		return query.PropertyFuzzy(key, value), nil
	}
	return query.PropertyExact(key, value), nil
}

// compileRangeCriterion parses the fixed __range__start__end encoding into
// an inclusive date range.
func (sc *SearchContext) compileRangeCriterion(key, value string) (query.Filter, error) {
	m := rangeValueRe.FindStringSubmatch(value)
	if m == nil {
		return nil, &QueryError{
			Kind:     ErrCoercion,
			Message:  fmt.Sprintf("%s: %q is not a valid date range", key, value),
			Fragment: value,
		}
	}
	start, end := m[1], m[2]
	if _, err := coerceDate(nil, start); err != nil {
		return nil, &QueryError{
			Kind: ErrCoercion, Message: fmt.Sprintf("%s: %q is not a valid date range", key, value), Fragment: value,
		}
	}
	if _, err := coerceDate(nil, end); err != nil {
		return nil, &QueryError{
			Kind: ErrCoercion, Message: fmt.Sprintf("%s: %q is not a valid date range", key, value), Fragment: value,
		}
	}

	if sp, ok := sc.specials.Lookup(key); ok {
		return query.Range{Field: sp.Field, Gte: start, Lte: end}, nil
	}
	return query.PropertyRange(key, query.Range{
		Field: query.PropertyValueDate,
		Gte:   start,
		Lte:   end,
	}), nil
}
