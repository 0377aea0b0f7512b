package csql

import (
	"context"

	"github.com/dimagi/casesearch/internal/query"
)

// CaseIndex abstracts the search-backend round trips the relational
// resolver needs during compilation. This separates "translate AST to
// filters" from "fetch runtime data", and enables unit testing the
// compiler without a cluster. Implementations live under internal/backend.
type CaseIndex interface {
	// Count returns how many cases in the given domains match f.
	Count(ctx context.Context, domains []string, f query.Filter) (int64, error)

	// ScrollIDs returns the ids of every case in the given domains
	// matching f.
	ScrollIDs(ctx context.Context, domains []string, f query.Filter) ([]string, error)

	// RelatedCounts buckets cases matching f by the referenced_id of
	// their index with the given identifier, returning per-parent counts
	// of matching children. Indices with a blank referenced_id are
	// excluded.
	RelatedCounts(ctx context.Context, domains []string, identifier string, f query.Filter) (map[string]int64, error)
}
