package pg

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dimagi/casesearch/internal/query"
)

const casesTable = "cases"

// Store runs case-index queries against the Postgres case table. It
// implements csql.CaseIndex for deployments without a search cluster.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scopedConditions(domains []string, f query.Filter) (sq.Sqlizer, error) {
	cond, err := Translate(f)
	if err != nil {
		return nil, err
	}
	return sq.And{
		sq.Expr(`domain = ANY(?)`, domains),
		cond,
	}, nil
}

// Count returns the number of cases matching the filter.
func (s *Store) Count(ctx context.Context, domains []string, f query.Filter) (int64, error) {
	cond, err := scopedConditions(domains, f)
	if err != nil {
		return 0, err
	}
	sql, args, err := sq.Select(`count(*)`).
		From(casesTable).
		Where(cond).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var n int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cases: %w", err)
	}
	return n, nil
}

// ScrollIDs returns the ids of every case matching the filter.
func (s *Store) ScrollIDs(ctx context.Context, domains []string, f query.Filter) ([]string, error) {
	cond, err := scopedConditions(domains, f)
	if err != nil {
		return nil, err
	}
	sql, args, err := sq.Select(`case_id`).
		From(casesTable).
		Where(cond).
		OrderBy(`case_id`).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build id query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select case ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan case id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RelatedCounts unnests the indices of matching cases and counts, per
// referenced parent id, the children holding an index with the given
// identifier. Blank referenced ids mark soft-deleted indices and are
// skipped.
func (s *Store) RelatedCounts(ctx context.Context, domains []string, identifier string, f query.Filter) (map[string]int64, error) {
	cond, err := scopedConditions(domains, f)
	if err != nil {
		return nil, err
	}
	sql, args, err := sq.Select(`_ix->>'referenced_id'`, `count(*)`).
		From(casesTable + `, jsonb_array_elements(indices) AS _ix`).
		Where(cond).
		Where(sq.Expr(`_ix->>'identifier' = ?`, identifier)).
		Where(sq.Expr(`coalesce(_ix->>'referenced_id', '') != ''`)).
		GroupBy(`_ix->>'referenced_id'`).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build related count query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("count related cases: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan related count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
