package query

// Sort orders search results. Sort clauses ride alongside the Filter tree
// and are translated by the backends.
type Sort interface {
	sort() // marker method
}

// FieldSort orders by a top-level document field.
type FieldSort struct {
	Field string
	Desc  bool
}

// PropertySort orders by a dynamic case property value. Field selects the
// typed sub-field to compare on (PropertyValueExact, PropertyValueDate or
// PropertyValueNumeric).
type PropertySort struct {
	Property string
	Field    string
	Desc     bool
}

func (FieldSort) sort()    {}
func (PropertySort) sort() {}
