package csql

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dimagi/casesearch/internal/csql/parser"
	"github.com/dimagi/casesearch/internal/query"
)

// funcDef describes a query function: its arity and compile hook. The
// registry drives both dispatch and the error message listing valid names.
type funcDef struct {
	name  string
	arity int
	build func(sc *SearchContext, call *parser.FuncCall) (query.Filter, error)
}

var queryFunctions map[string]funcDef

func init() {
	defs := []funcDef{
		{"selected", 2, compileSelected},
		{"selected-any", 2, compileSelectedAny},
		{"selected-all", 2, compileSelectedAll},
		{"starts-with", 2, compileStartsWith},
		{"not", 1, compileNot},
		{"match-all", 0, compileMatchAll},
		{"match-none", 0, compileMatchNone},
		{"within-distance", 4, compileWithinDistance},
		{"fuzzy-match", 2, compileFuzzyMatch},
		{"phonetic-match", 2, compilePhoneticMatch},
		{"fuzzy-date", 2, compileFuzzyDate},
	}
	queryFunctions = make(map[string]funcDef, len(defs))
	for _, d := range defs {
		queryFunctions[d.name] = d
	}
}

// relationalFunctions are dispatched separately but still count as valid
// names for error reporting.
var relationalFunctions = []string{"ancestor-exists", "subcase-exists", "subcase-count"}

func validFunctionNames() []string {
	names := make([]string, 0, len(queryFunctions)+len(relationalFunctions))
	for name := range queryFunctions {
		names = append(names, name)
	}
	names = append(names, relationalFunctions...)
	sort.Strings(names)
	return names
}

func unknownFunction(call *parser.FuncCall) error {
	return newErrf(ErrUnknownFunction, call,
		"unknown function %q; valid functions are %s",
		call.Name, strings.Join(validFunctionNames(), ", "))
}

// compileFunction compiles a registered query function call.
func (sc *SearchContext) compileFunction(call *parser.FuncCall) (query.Filter, error) {
	def, ok := queryFunctions[call.Name]
	if !ok {
		return nil, unknownFunction(call)
	}
	if err := checkArity(call, def.arity); err != nil {
		return nil, err
	}
	return def.build(sc, call)
}

// argProperty extracts argument i as a case property name. Both a bare
// step and a quoted string are accepted.
func argProperty(call *parser.FuncCall, i int) (string, error) {
	switch a := call.Args[i].(type) {
	case *parser.Step:
		return a.Name, nil
	case *parser.Literal:
		if a.Kind == parser.StringLit {
			return a.Str, nil
		}
	}
	return "", syntaxErrf(call, "%s() argument %d must be a case property name", call.Name, i+1)
}

// argString evaluates argument i to a string value.
func argString(sc *SearchContext, call *parser.FuncCall, i int) (string, error) {
	v, err := sc.evalValue(call.Args[i])
	if err != nil {
		return "", err
	}
	return formatValue(v), nil
}

func compileSelected(sc *SearchContext, call *parser.FuncCall) (query.Filter, error) {
	prop, err := argProperty(call, 0)
	if err != nil {
		return nil, err
	}
	value, err := argString(sc, call, 1)
	if err != nil {
		return nil, err
	}
	if len(strings.Fields(value)) > 1 {
		return query.PropertyMatch(prop, value, false, sc.fuzzy), nil
	}
	if sc.fuzzy {
		return query.PropertyFuzzy(prop, value), nil
	}
	return query.PropertyExact(prop, value), nil
}

func compileSelectedAny(sc *SearchContext, call *parser.FuncCall) (query.Filter, error) {
	prop, err := argProperty(call, 0)
	if err != nil {
		return nil, err
	}
	value, err := argString(sc, call, 1)
	if err != nil {
		return nil, err
	}
	return query.PropertyMatch(prop, value, false, true), nil
}

func compileSelectedAll(sc *SearchContext, call *parser.FuncCall) (query.Filter, error) {
	prop, err := argProperty(call, 0)
	if err != nil {
		return nil, err
	}
	value, err := argString(sc, call, 1)
	if err != nil {
		return nil, err
	}
	return query.PropertyMatch(prop, value, true, sc.fuzzy), nil
}

func compileStartsWith(sc *SearchContext, call *parser.FuncCall) (query.Filter, error) {
	prop, err := argProperty(call, 0)
	if err != nil {
		return nil, err
	}
	prefix, err := argString(sc, call, 1)
	if err != nil {
		return nil, err
	}
	return query.PropertyPrefix(prop, prefix), nil
}

func compileNot(sc *SearchContext, call *parser.FuncCall) (query.Filter, error) {
	inner, err := sc.compileNode(call.Args[0])
	if err != nil {
		return nil, err
	}
	return query.Not(inner), nil
}

func compileMatchAll(*SearchContext, *parser.FuncCall) (query.Filter, error) {
	return query.MatchAll{}, nil
}

func compileMatchNone(*SearchContext, *parser.FuncCall) (query.Filter, error) {
	return query.MatchNone{}, nil
}

// distanceUnits maps user-facing unit names to backend unit suffixes.
var distanceUnits = map[string]string{
	"miles":      "mi",
	"kilometers": "km",
	"meters":     "m",
	"feet":       "ft",
	"yards":      "yd",
}

func compileWithinDistance(sc *SearchContext, call *parser.FuncCall) (query.Filter, error) {
	prop, err := argProperty(call, 0)
	if err != nil {
		return nil, err
	}

	coords, ok := call.Args[1].(*parser.Literal)
	if !ok || coords.Kind != parser.StringLit {
		return nil, syntaxErrf(call,
			"within-distance() argument 2 must be a quoted \"lat lon\" coordinate pair")
	}
	parts := strings.Fields(coords.Str)
	if len(parts) < 2 {
		return nil, coercionErrf(call,
			"within-distance() argument 2 must contain a latitude and a longitude")
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, coercionErrf(call,
			"within-distance() argument 2: %q is not a valid latitude", parts[0])
	}
	lon, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, coercionErrf(call,
			"within-distance() argument 2: %q is not a valid longitude", parts[1])
	}

	radiusV, err := sc.evalValue(call.Args[2])
	if err != nil {
		return nil, err
	}
	radius, err := coerceQuantity(call, radiusV)
	if err != nil {
		return nil, coercionErrf(call, "within-distance() argument 3 must be numeric")
	}

	unitStep, ok := call.Args[3].(*parser.Step)
	if !ok {
		return nil, syntaxErrf(call, "within-distance() argument 4 must be a unit name")
	}
	suffix, ok := distanceUnits[unitStep.Name]
	if !ok {
		units := make([]string, 0, len(distanceUnits))
		for u := range distanceUnits {
			units = append(units, u)
		}
		sort.Strings(units)
		return nil, syntaxErrf(call,
			"within-distance() argument 4: unknown unit %q; valid units are %s",
			unitStep.Name, strings.Join(units, ", "))
	}

	distance := strconv.FormatFloat(radius, 'f', -1, 64) + suffix
	return query.PropertyGeoDistance(prop, lat, lon, distance), nil
}

func compileFuzzyMatch(sc *SearchContext, call *parser.FuncCall) (query.Filter, error) {
	prop, err := argProperty(call, 0)
	if err != nil {
		return nil, err
	}
	value, err := argString(sc, call, 1)
	if err != nil {
		return nil, err
	}
	return query.PropertyFuzzy(prop, value), nil
}

func compilePhoneticMatch(sc *SearchContext, call *parser.FuncCall) (query.Filter, error) {
	prop, err := argProperty(call, 0)
	if err != nil {
		return nil, err
	}
	value, err := argString(sc, call, 1)
	if err != nil {
		return nil, err
	}
	return query.PropertyPhonetic(prop, value), nil
}

// compileFuzzyDate broadens a date equality to the deterministic set of
// plausible mistyped variants of the date.
func compileFuzzyDate(sc *SearchContext, call *parser.FuncCall) (query.Filter, error) {
	prop, err := argProperty(call, 0)
	if err != nil {
		return nil, err
	}
	v, err := sc.evalValue(call.Args[1])
	if err != nil {
		return nil, err
	}
	d, err := coerceDate(call, v)
	if err != nil {
		return nil, err
	}
	return query.PropertyTerms(prop, fuzzyDateCandidates(d.t)), nil
}
