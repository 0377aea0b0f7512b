package query

// Document field names for the case search index. Case properties and case
// indices are arrays of objects and are queried through nested filters.
const (
	CasePropertiesPath = "case_properties"
	IndicesPath        = "indices"

	PropertyKeyField      = "case_properties.key.exact"
	PropertyValueExact    = "case_properties.value.exact"
	PropertyValueNumeric  = "case_properties.value.numeric"
	PropertyValueDate     = "case_properties.value.date"
	PropertyValuePhonetic = "case_properties.value.phonetic"
	PropertyGeoPointField = "case_properties.geopoint_value"

	IndexIdentifierField   = "indices.identifier"
	IndexReferencedIDField = "indices.referenced_id"
)

// propertyNested wraps a key filter and a value filter into the canonical
// nested case-property shape.
func propertyNested(key string, value Filter) Filter {
	return Nested{
		Path: CasePropertiesPath,
		Query: Bool{
			Filter: []Filter{Bool{Filter: []Filter{
				Term{Field: PropertyKeyField, Value: key},
				value,
			}}},
			Must: []Filter{MatchAll{}},
		},
	}
}

// Property matches a case property by key with an arbitrary value filter.
func Property(key string, value Filter) Filter {
	return propertyNested(key, value)
}

// PropertyExact matches a case property equal to value.
func PropertyExact(key, value string) Filter {
	return propertyNested(key, Term{Field: PropertyValueExact, Value: value})
}

// PropertyTerms matches a case property equal to any of values.
func PropertyTerms(key string, values []string) Filter {
	return propertyNested(key, Terms{Field: PropertyValueExact, Values: values})
}

// PropertyFuzzy matches a case property either exactly or within edit
// distance of value.
func PropertyFuzzy(key, value string) Filter {
	return propertyNested(key, Bool{Should: []Filter{
		Term{Field: PropertyValueExact, Value: value},
		Match{Field: PropertyValueExact, Text: value, Fuzzy: true},
	}})
}

// PropertyMatch matches an analyzed case-property value. and_ requires all
// terms; fuzzy enables edit-distance matching per term.
func PropertyMatch(key, text string, and, fuzzy bool) Filter {
	return propertyNested(key, Match{
		Field:       PropertyValueExact,
		Text:        text,
		OperatorAnd: and,
		Fuzzy:       fuzzy,
	})
}

// PropertyPhonetic matches a case property by phonetic similarity.
func PropertyPhonetic(key, value string) Filter {
	return propertyNested(key, Match{Field: PropertyValuePhonetic, Text: value})
}

// PropertyPrefix matches a case property starting with prefix.
func PropertyPrefix(key, prefix string) Filter {
	return propertyNested(key, Prefix{Field: PropertyValueExact, Value: prefix})
}

// PropertyRange matches a case property within the given bounds on the
// typed sub-field (PropertyValueNumeric or PropertyValueDate).
func PropertyRange(key string, r Range) Filter {
	return propertyNested(key, r)
}

// PropertyGeoDistance matches a case property geopoint within distance of
// the given coordinates.
func PropertyGeoDistance(key string, lat, lon float64, distance string) Filter {
	return propertyNested(key, GeoDistance{
		Field:    PropertyGeoPointField,
		Lat:      lat,
		Lon:      lon,
		Distance: distance,
	})
}

// PropertyMissing matches cases where the property is absent or stored as
// the empty string.
func PropertyMissing(key string) Filter {
	return Bool{Should: []Filter{
		Not(Nested{
			Path: CasePropertiesPath,
			Query: Bool{Filter: []Filter{
				Term{Field: PropertyKeyField, Value: key},
			}},
		}),
		PropertyExact(key, ""),
	}}
}

// Index matches cases holding an index with the given identifier pointing
// at any of the referenced case ids.
func Index(identifier string, referencedIDs []string) Filter {
	return Nested{
		Path: IndicesPath,
		Query: Bool{
			Filter: []Filter{Bool{Filter: []Filter{
				Terms{Field: IndexReferencedIDField, Values: referencedIDs},
				Term{Field: IndexIdentifierField, Value: identifier},
			}}},
			Must: []Filter{MatchAll{}},
		},
	}
}

// NonEmptyIndex matches cases holding an index with the given identifier
// whose referenced_id is set. Soft-deleted indices keep their identifier
// but have a blank referenced_id.
func NonEmptyIndex(identifier string) Filter {
	return Nested{
		Path: IndicesPath,
		Query: Bool{Filter: []Filter{
			Term{Field: IndexIdentifierField, Value: identifier},
			Not(Term{Field: IndexReferencedIDField, Value: ""}),
		}},
	}
}
