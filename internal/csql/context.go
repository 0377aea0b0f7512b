package csql

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dimagi/casesearch/internal/metrics"
)

// DefaultMaxRelatedCases caps the size of any intermediate candidate or
// aggregation set produced by the relational resolver. Exceeding it aborts
// the whole compile rather than truncating, since a partial result would
// be silently wrong.
const DefaultMaxRelatedCases = 250_000

// SearchContext carries per-compilation state. It is created once per
// top-level compile call and passed through every recursive call.
// Everything is immutable except the profiler, which is append-only and
// single-writer.
type SearchContext struct {
	domains     []string
	tz          *time.Location
	fuzzy       bool
	multiValued bool
	now         func() time.Time
	index       CaseIndex
	specials    *SpecialRegistry
	maxRelated  int
	profiler    *Profiler
	log         *zap.Logger

	// Set by Compile for the duration of one compilation. The compiler is
	// single-threaded, so plain fields suffice.
	ctx   context.Context
	depth int
}

// Option configures a SearchContext.
type Option func(*SearchContext)

// WithTimezone sets the domain's default timezone, used by today()/now()
// and date-only comparisons against datetime fields. Defaults to UTC.
func WithTimezone(loc *time.Location) Option {
	return func(sc *SearchContext) { sc.tz = loc }
}

// WithFuzzy sets the default fuzzy-matching flag for equality comparisons.
func WithFuzzy(fuzzy bool) Option {
	return func(sc *SearchContext) { sc.fuzzy = fuzzy }
}

// WithMultiValued treats quoted-list string literals ("['a', 'b']") in
// equality comparisons as multi-term matches instead of verbatim values.
func WithMultiValued(mv bool) Option {
	return func(sc *SearchContext) { sc.multiValued = mv }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(sc *SearchContext) { sc.now = now }
}

// WithSpecials substitutes an alternate special-property registry.
func WithSpecials(reg *SpecialRegistry) Option {
	return func(sc *SearchContext) { sc.specials = reg }
}

// WithMaxRelatedCases overrides the related-case cardinality cap.
func WithMaxRelatedCases(n int) Option {
	return func(sc *SearchContext) { sc.maxRelated = n }
}

// WithLogger attaches a logger; sub-queries are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(sc *SearchContext) { sc.log = l }
}

// NewSearchContext creates the per-compilation state for the given search
// domains. Multiple domains occur for cross-domain data registry search.
func NewSearchContext(domains []string, index CaseIndex, opts ...Option) *SearchContext {
	sc := &SearchContext{
		domains:    domains,
		tz:         time.UTC,
		now:        time.Now,
		index:      index,
		specials:   DefaultSpecials(),
		maxRelated: DefaultMaxRelatedCases,
		profiler:   newProfiler(),
		log:        zap.NewNop(),
		ctx:        context.Background(),
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Trace returns the sub-queries issued so far during this compilation.
func (sc *SearchContext) Trace() []TraceEntry {
	return sc.profiler.entries
}

func (sc *SearchContext) recordSubQuery(op, detail string, hits int, d time.Duration) {
	sc.profiler.record(op, detail, hits, d)
	metrics.ObserveSubQuery(op, d)
	sc.log.Debug("case search sub-query",
		zap.String("trace_id", sc.profiler.id),
		zap.String("op", op),
		zap.String("detail", detail),
		zap.Int("hits", hits),
		zap.Duration("duration", d),
	)
}

// TraceEntry records one backend sub-query issued while resolving
// relational predicates.
type TraceEntry struct {
	Op       string // "count", "scroll_ids", "related_counts"
	Detail   string
	Hits     int
	Duration time.Duration
}

// Profiler collects the sub-query trace for one compilation. Append-only,
// written only by the compiling goroutine.
type Profiler struct {
	id      string
	entries []TraceEntry
}

func newProfiler() *Profiler {
	return &Profiler{id: uuid.NewString()}
}

func (p *Profiler) record(op, detail string, hits int, d time.Duration) {
	p.entries = append(p.entries, TraceEntry{Op: op, Detail: detail, Hits: hits, Duration: d})
}
