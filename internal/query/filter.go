// Package query defines the storage-agnostic filter tree produced by the
// CSQL compiler. It captures what a query means, not how a particular
// search backend executes it; the backends under internal/backend translate
// it into Elasticsearch or SQL form.
package query

// Filter is a composable boolean query fragment.
type Filter interface {
	filter() // marker method
}

// MatchAll matches every document.
type MatchAll struct{}

// MatchNone matches no document. Emitted instead of an empty terms clause,
// whose semantics differ across backends.
type MatchNone struct{}

// Term is an exact match on a single field value.
type Term struct {
	Field string
	Value any
}

// Terms matches documents whose field equals any of Values.
type Terms struct {
	Field  string
	Values []string
}

// IDs matches documents by document id.
type IDs struct {
	Values []string
}

// Range is a bounded comparison. Nil bounds are open.
type Range struct {
	Field string
	Gt    any
	Gte   any
	Lt    any
	Lte   any
}

// Match is an analyzed text match. OperatorAnd requires all terms;
// Fuzzy enables edit-distance matching.
type Match struct {
	Field       string
	Text        string
	OperatorAnd bool
	Fuzzy       bool
}

// Prefix matches field values starting with Value.
type Prefix struct {
	Field string
	Value string
}

// Exists matches documents where the field is present.
type Exists struct {
	Field string
}

// Nested matches elements of an array-of-objects field at Path.
type Nested struct {
	Path  string
	Query Filter
}

// GeoDistance matches documents within Distance of a point.
type GeoDistance struct {
	Field    string
	Lat      float64
	Lon      float64
	Distance string // e.g. "5mi", "2km"
}

// Bool combines sub-filters. Filter and Must clauses are AND'd, MustNot is
// negated, Should requires at least one match when present.
type Bool struct {
	Filter  []Filter
	Must    []Filter
	MustNot []Filter
	Should  []Filter
}

func (MatchAll) filter()    {}
func (MatchNone) filter()   {}
func (Term) filter()        {}
func (Terms) filter()       {}
func (IDs) filter()         {}
func (Range) filter()       {}
func (Match) filter()       {}
func (Prefix) filter()      {}
func (Exists) filter()      {}
func (Nested) filter()      {}
func (GeoDistance) filter() {}
func (Bool) filter()        {}

// And combines filters conjunctively.
func And(fs ...Filter) Filter {
	if len(fs) == 1 {
		return fs[0]
	}
	return Bool{Filter: fs}
}

// Or combines filters disjunctively.
func Or(fs ...Filter) Filter {
	if len(fs) == 1 {
		return fs[0]
	}
	return Bool{Should: fs}
}

// Not negates a filter.
func Not(f Filter) Filter {
	return Bool{MustNot: []Filter{f}}
}
