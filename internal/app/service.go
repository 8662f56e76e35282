package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Doitordead/Intel-irris/internal/importer"
	"github.com/Doitordead/Intel-irris/internal/runstate"
	"github.com/Doitordead/Intel-irris/internal/search"
	"github.com/Doitordead/Intel-irris/internal/source"
)

// Importer runs one import of a fetched snapshot.
type Importer interface {
	Import(ctx context.Context, snap source.Snapshot, opts importer.Options) (runstate.Summary, error)
}

// Runs reads recorded import runs.
type Runs interface {
	LastRun(ctx context.Context) (runstate.Summary, error)
	Recent(ctx context.Context, n int) ([]runstate.Summary, error)
	Ping(ctx context.Context) error
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Importer Importer
	Source   source.Source
	Runs     Runs
	Search   Searcher
	Store    Pinger
	Encoding string
}

type Service struct {
	importer Importer
	source   source.Source
	runs     Runs
	search   Searcher
	store    Pinger
	encoding string
}

func NewService(d Deps) *Service {
	return &Service{
		importer: d.Importer,
		source:   d.Source,
		runs:     d.Runs,
		search:   d.Search,
		store:    d.Store,
		encoding: d.Encoding,
	}
}

// Ping checks the database and the run state backend.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.runs != nil {
		checks["runstate"] = s.runs.Ping(ctx)
	}
	return checks
}

// RunImport fetches the configured source and imports it. A run that
// fails validation is returned together with its summary.
func (s *Service) RunImport(ctx context.Context, dryRun bool) (runstate.Summary, error) {
	if s.source == nil {
		return runstate.Summary{}, domainError(http.StatusServiceUnavailable, "SOURCE_UNAVAILABLE", "No import source configured", nil)
	}
	snap, err := s.source.Fetch(ctx)
	if err != nil {
		de := domainError(http.StatusBadGateway, "SOURCE_FAILED", "Fetching the import source failed", nil)
		de.Err = err
		return runstate.Summary{}, de
	}
	summary, err := s.importer.Import(ctx, snap, importer.Options{DryRun: dryRun, Encoding: s.encoding})
	if err != nil {
		return summary, fmt.Errorf("import %s: %w", snap.Origin, err)
	}
	return summary, nil
}

func (s *Service) LastRun(ctx context.Context) (runstate.Summary, error) {
	if s.runs == nil {
		return runstate.Summary{}, runstate.ErrNoRun
	}
	return s.runs.LastRun(ctx)
}

func (s *Service) RecentRuns(ctx context.Context, n int) ([]runstate.Summary, error) {
	if s.runs == nil {
		return []runstate.Summary{}, nil
	}
	return s.runs.Recent(ctx, n)
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, errors.New("search is not configured")
	}
	return s.search.Search(ctx, q), nil
}
