package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Doitordead/Intel-irris/internal/config"
	"github.com/Doitordead/Intel-irris/internal/gitrepo"
	"github.com/Doitordead/Intel-irris/internal/governance"
	"github.com/Doitordead/Intel-irris/internal/importer"
	"github.com/Doitordead/Intel-irris/internal/logging"
	"github.com/Doitordead/Intel-irris/internal/metrics"
	"github.com/Doitordead/Intel-irris/internal/runstate"
	"github.com/Doitordead/Intel-irris/internal/search"
	"github.com/Doitordead/Intel-irris/internal/source"
	"github.com/Doitordead/Intel-irris/internal/store"
)

// runState is satisfied by both the in-process and the redis backend.
type runState interface {
	Acquire(ctx context.Context, ttl time.Duration) (runstate.Release, error)
	SaveRun(ctx context.Context, s runstate.Summary) error
	LastRun(ctx context.Context) (runstate.Summary, error)
	Recent(ctx context.Context, n int) ([]runstate.Summary, error)
	Ping(ctx context.Context) error
	Close() error
}

// deps is the wired object graph of one process.
type deps struct {
	db       *sql.DB
	store    *store.SQLStore
	runs     runState
	search   *search.Service
	metrics  *metrics.Recorder
	importer *importer.Importer
	source   source.Source

	closers []func() error
}

func wire(ctx context.Context, cfg config.Config) (_ *deps, err error) {
	log := logging.FromContext(ctx)
	d := &deps{}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	rules := governance.DefaultRules()
	if cfg.RulesPath != "" {
		if rules, err = governance.LoadRules(cfg.RulesPath); err != nil {
			return nil, err
		}
	}

	dialect, err := store.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	d.db, err = store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	d.closers = append(d.closers, d.db.Close)
	if err := store.ApplyMigrations(ctx, d.db, dialect); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	d.store = store.NewSQLStore(d.db, dialect)

	if cfg.RedisURL != "" {
		log.Info().Msg("using redis for the import lock and run history")
		rs, err := runstate.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		d.runs = rs
	} else {
		d.runs = runstate.NewMemory()
	}
	d.closers = append(d.closers, d.runs.Close)

	var index search.Index
	if cfg.MeiliURL != "" {
		m := search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		d.closers = append(d.closers, func() error { m.Close(); return nil })
		index = m
	}
	d.search = search.NewService(index, search.NewSQLSearcher(d.db, dialect))
	d.metrics = metrics.New()

	d.source, err = buildSource(cfg.Source)
	if err != nil {
		return nil, err
	}

	d.importer = importer.New(d.store, rules,
		importer.WithLocker(d.runs, cfg.LockTTL),
		importer.WithRecorder(d.runs),
		importer.WithIndexer(d.search),
		importer.WithObserver(d.metrics),
	)
	return d, nil
}

// Close releases everything wire opened, last opened first.
func (d *deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}

func buildSource(cfg config.Source) (source.Source, error) {
	switch cfg.Kind {
	case config.SourceFile:
		return source.Files{Domains: cfg.Domains, Trees: cfg.Trees}, nil
	case config.SourceGit:
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return nil, fmt.Errorf("create repos dir: %w", err)
		}
		var opts []gitrepo.Option
		if cfg.GitToken != "" {
			user := cfg.GitUsername
			if user == "" {
				user = "git"
			}
			opts = append(opts, gitrepo.WithBasicAuth(user, cfg.GitToken))
		}
		return source.Git{
			Repos:   gitrepo.New(cfg.ReposDir, opts...),
			URL:     cfg.GitURL,
			Ref:     cfg.GitRef,
			Domains: cfg.Domains,
			Trees:   cfg.Trees,
		}, nil
	case config.SourceObject:
		obj, err := source.NewObject(source.ObjectConfig{
			Endpoint:        cfg.ObjectEndpoint,
			Region:          cfg.ObjectRegion,
			Bucket:          cfg.ObjectBucket,
			AccessKeyID:     cfg.ObjectAccessKey,
			SecretAccessKey: cfg.ObjectSecretKey,
			UseSSL:          cfg.ObjectUseSSL,
			DomainsKey:      cfg.Domains,
			TreesKey:        cfg.Trees,
		})
		if err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
