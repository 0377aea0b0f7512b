package csql

// SpecialProperty maps a user-facing pseudo-property to its underlying
// document field. A few of these derive their value rather than storing it
// (`@status` is backed by the boolean `closed` field).
type SpecialProperty struct {
	Key   string // user-facing name, e.g. "@status"
	Field string // underlying document field, e.g. "closed"
	// SortField, when set, makes sort directives order on the document
	// field directly instead of through the nested property value.
	SortField  string
	Default    string // value to assume when the field is absent
	IsDatetime bool   // field stores a UTC datetime; date-only comparisons widen
	IsDocID    bool   // field is the document id
	// MapValue converts the user's literal to the stored representation.
	// Nil means the literal is used as-is.
	MapValue func(string) (any, error)
}

// SpecialRegistry holds the special-property descriptors for one
// deployment. Constructed once and injected via the SearchContext, so test
// suites can substitute alternates.
type SpecialRegistry struct {
	byKey map[string]SpecialProperty
}

// Lookup returns the descriptor for a property name, if it is special.
func (r *SpecialRegistry) Lookup(name string) (SpecialProperty, bool) {
	sp, ok := r.byKey[name]
	return sp, ok
}

// NewSpecialRegistry builds a registry from the given descriptors.
func NewSpecialRegistry(props ...SpecialProperty) *SpecialRegistry {
	byKey := make(map[string]SpecialProperty, len(props))
	for _, sp := range props {
		byKey[sp.Key] = sp
	}
	return &SpecialRegistry{byKey: byKey}
}

// DefaultSpecials returns the standard case-search special properties.
func DefaultSpecials() *SpecialRegistry {
	return NewSpecialRegistry(
		SpecialProperty{Key: "@case_id", Field: "_id", SortField: "_id", IsDocID: true},
		SpecialProperty{Key: "@case_type", Field: "type.exact", SortField: "type.exact"},
		SpecialProperty{Key: "@owner_id", Field: "owner_id", SortField: "owner_id"},
		SpecialProperty{Key: "@status", Field: "closed", SortField: "closed", Default: "open", MapValue: statusValue},
		// name and the date metadata are flattened into case_properties at
		// index time, so sort directives reach them through the nested
		// value like any dynamic property.
		SpecialProperty{Key: "name", Field: "name.exact"},
		SpecialProperty{Key: "case_name", Field: "name.exact"},
		SpecialProperty{Key: "external_id", Field: "external_id", Default: ""},
		SpecialProperty{Key: "date_opened", Field: "opened_on", IsDatetime: true},
		SpecialProperty{Key: "last_modified", Field: "modified_on", IsDatetime: true},
		SpecialProperty{Key: "closed_on", Field: "closed_on", IsDatetime: true},
	)
}

// statusValue derives the stored `closed` boolean from the user-facing
// open/closed status.
func statusValue(v string) (any, error) {
	switch v {
	case "open":
		return false, nil
	case "closed":
		return true, nil
	default:
		return nil, &QueryError{
			Kind:     ErrCoercion,
			Message:  `@status must be "open" or "closed"`,
			Fragment: v,
		}
	}
}
