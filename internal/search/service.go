package search

import (
	"context"

	"github.com/Doitordead/Intel-irris/internal/logging"
)

// Service is the facade that tries the search index first and falls back to
// SQL.
type Service struct {
	index Index
	sql   *SQLSearcher
}

// NewService creates a search service. index may be nil if no search engine
// is configured.
func NewService(index Index, sql *SQLSearcher) *Service {
	return &Service{index: index, sql: sql}
}

// Search tries the index if healthy, otherwise falls back to SQL.
func (s *Service) Search(ctx context.Context, q Query) Response {
	log := logging.FromContext(ctx)
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Warn().Err(err).Msg("search: index error, falling back to sql")
	}

	results, total, err := s.sql.Search(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("search: sql error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Reindex reloads every record from the database into the index. It is a
// no-op without a healthy index.
func (s *Service) Reindex(ctx context.Context) error {
	if s.index == nil || !s.index.Healthy() {
		return nil
	}
	trees, domains, err := s.sql.LoadRecords(ctx)
	if err != nil {
		return err
	}
	if err := s.index.Replace(ctx, trees, domains); err != nil {
		return err
	}
	logging.FromContext(ctx).Debug().
		Int("trees", len(trees)).
		Int("domains", len(domains)).
		Msg("search: index replaced")
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
