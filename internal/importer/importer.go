// Package importer runs one governance import: decode, parse, build the
// identity cache, transform and reconcile inside a single transaction, then
// record the outcome.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Doitordead/Intel-irris/internal/blocks"
	"github.com/Doitordead/Intel-irris/internal/governance"
	"github.com/Doitordead/Intel-irris/internal/identity"
	"github.com/Doitordead/Intel-irris/internal/logging"
	"github.com/Doitordead/Intel-irris/internal/reconcile"
	"github.com/Doitordead/Intel-irris/internal/runstate"
	"github.com/Doitordead/Intel-irris/internal/source"
)

// ErrRunInProgress is returned when another run holds the process mutex or
// the shared lock.
var ErrRunInProgress = errors.New("import run in progress")

// errDryRun aborts the transaction of a dry run after the work is done.
var errDryRun = errors.New("dry run")

// TxRunner opens the transaction every run executes in.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, st reconcile.Store) error) error
}

type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (runstate.Release, error)
}

type Recorder interface {
	SaveRun(ctx context.Context, s runstate.Summary) error
}

type Indexer interface {
	Reindex(ctx context.Context) error
}

type Observer interface {
	ObserveRun(s runstate.Summary)
}

// Options control a single run.
type Options struct {
	DryRun bool
	// Encoding of the raw exports; empty means UTF-8.
	Encoding string
}

type Importer struct {
	store TxRunner
	rules governance.Rules

	locker   Locker
	lockTTL  time.Duration
	recorder Recorder
	indexer  Indexer
	observer Observer

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

type Option func(*Importer)

// WithLocker guards runs across processes. ttl bounds how long a crashed
// holder keeps others out.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(im *Importer) {
		im.locker = l
		im.lockTTL = ttl
	}
}

func WithRecorder(r Recorder) Option { return func(im *Importer) { im.recorder = r } }

func WithIndexer(ix Indexer) Option { return func(im *Importer) { im.indexer = ix } }

func WithObserver(o Observer) Option { return func(im *Importer) { im.observer = o } }

func New(st TxRunner, rules governance.Rules, opts ...Option) *Importer {
	im := &Importer{
		store:   st,
		rules:   rules,
		lockTTL: 10 * time.Minute,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import decodes the snapshot with opts.Encoding and runs it.
func (im *Importer) Import(ctx context.Context, snap source.Snapshot, opts Options) (runstate.Summary, error) {
	return im.run(ctx, snap.Revision, snap.Origin, opts, func() (string, string, error) {
		domains, err := blocks.Decode(snap.Domains, opts.Encoding)
		if err != nil {
			return "", "", fmt.Errorf("decode domains: %w", err)
		}
		trees, err := blocks.Decode(snap.Trees, opts.Encoding)
		if err != nil {
			return "", "", fmt.Errorf("decode trees: %w", err)
		}
		return domains, trees, nil
	})
}

// ImportText runs already decoded exports. opts.Encoding is ignored.
func (im *Importer) ImportText(ctx context.Context, domains, trees string, opts Options) (runstate.Summary, error) {
	return im.run(ctx, source.Digest([]byte(domains), []byte(trees)), "text", opts, func() (string, string, error) {
		return domains, trees, nil
	})
}

func (im *Importer) run(ctx context.Context, revision, origin string, opts Options, load func() (string, string, error)) (runstate.Summary, error) {
	if !im.mu.TryLock() {
		return runstate.Summary{}, ErrRunInProgress
	}
	defer im.mu.Unlock()

	if im.locker != nil {
		release, err := im.locker.Acquire(ctx, im.lockTTL)
		if errors.Is(err, runstate.ErrLocked) {
			return runstate.Summary{}, ErrRunInProgress
		}
		if err != nil {
			return runstate.Summary{}, fmt.Errorf("acquire import lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logging.FromContext(ctx).Warn().Err(err).Msg("release import lock")
			}
		}()
	}

	summary := runstate.Summary{
		ID:        im.newID(),
		Revision:  revision,
		Origin:    origin,
		DryRun:    opts.DryRun,
		StartedAt: im.now().UTC(),
	}
	ctx = logging.WithFields(ctx, map[string]string{"run_id": summary.ID, "revision": revision})
	log := logging.FromContext(ctx)
	log.Info().Str("origin", origin).Bool("dry_run", opts.DryRun).Msg("import started")

	stats, err := im.execute(ctx, opts, load)
	summary.FinishedAt = im.now().UTC()
	summary.Tables = stats.Tables
	summary.Relations = stats.Relations
	switch {
	case err != nil:
		summary.Status = runstate.StatusFailed
		summary.Error = err.Error()
		log.Error().Err(err).Dur("duration", summary.Duration()).Msg("import failed")
	case opts.DryRun:
		summary.Status = runstate.StatusDryRun
		log.Info().Dur("duration", summary.Duration()).Msg("import dry run finished")
	default:
		summary.Status = runstate.StatusSucceeded
		log.Info().Dur("duration", summary.Duration()).Bool("changed", stats.Changed()).Msg("import committed")
	}

	im.finish(context.WithoutCancel(ctx), summary)
	return summary, err
}

func (im *Importer) execute(ctx context.Context, opts Options, load func() (string, string, error)) (reconcile.Stats, error) {
	var stats reconcile.Stats

	domainText, treeText, err := load()
	if err != nil {
		return stats, err
	}
	fields := im.rules.FieldMap()
	parseOpts := im.rules.ParseOptions()
	domainBlocks, err := blocks.ParseAll(domainText, im.rules.DomainMarker, fields, parseOpts...)
	if err != nil {
		return stats, fmt.Errorf("parse domains: %w", err)
	}
	treeBlocks, err := blocks.ParseAll(treeText, im.rules.TreeMarker, fields, parseOpts...)
	if err != nil {
		return stats, fmt.Errorf("parse trees: %w", err)
	}
	cache := identity.Build(im.rules.RoleFields(), domainBlocks, treeBlocks)
	snap, err := governance.Transform(domainBlocks, treeBlocks, cache, im.rules)
	if err != nil {
		return stats, fmt.Errorf("transform: %w", err)
	}
	logging.FromContext(ctx).Debug().
		Int("domain_blocks", len(domainBlocks)).
		Int("tree_blocks", len(treeBlocks)).
		Int("users", len(snap.Users)).
		Msg("snapshot built")

	err = im.store.RunInTx(ctx, func(ctx context.Context, st reconcile.Store) error {
		r := reconcile.New(governance.Schema(), st)
		_, applyErr := snap.Apply(ctx, r)
		stats = r.Stats()
		if applyErr != nil {
			return applyErr
		}
		if opts.DryRun {
			return errDryRun
		}
		return nil
	})
	if errors.Is(err, errDryRun) && opts.DryRun {
		return stats, nil
	}
	return stats, err
}

// finish records the run. Failures here are logged only: the data is
// already committed or rolled back.
func (im *Importer) finish(ctx context.Context, summary runstate.Summary) {
	log := logging.FromContext(ctx)
	if im.observer != nil {
		im.observer.ObserveRun(summary)
	}
	if im.recorder != nil {
		if err := im.recorder.SaveRun(ctx, summary); err != nil {
			log.Warn().Err(err).Msg("save run summary")
		}
	}
	if im.indexer != nil && summary.Status == runstate.StatusSucceeded {
		if err := im.indexer.Reindex(ctx); err != nil {
			log.Warn().Err(err).Msg("reindex search")
		}
	}
}
