package importer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Doitordead/Intel-irris/internal/blocks"
	"github.com/Doitordead/Intel-irris/internal/governance"
	"github.com/Doitordead/Intel-irris/internal/reconcile"
	"github.com/Doitordead/Intel-irris/internal/runstate"
	"github.com/Doitordead/Intel-irris/internal/source"
	"github.com/Doitordead/Intel-irris/internal/store"
	"github.com/Doitordead/Intel-irris/internal/store/memory"
)

const domainsText = `D: Base
M: Alice <alice@intel.com>

D: Graphics
R: Bob <bob@samsung.com>
`

const treesText = `T: base/core
D: Base
L: MIT
M: Alice <alice@intel.com>

T: graphics/mesa
D: Graphics
`

type countingIndexer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingIndexer) Reindex(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

type observerFunc func(runstate.Summary)

func (f observerFunc) ObserveRun(s runstate.Summary) { f(s) }

func rules() governance.Rules {
	r := governance.DefaultRules()
	r.RegisterLicenses = true
	return r
}

func snapshot(domains, trees string) source.Snapshot {
	return source.Snapshot{
		Domains:  []byte(domains),
		Trees:    []byte(trees),
		Revision: source.Digest([]byte(domains), []byte(trees)),
		Origin:   "test",
	}
}

func rowCount(t *testing.T, st reconcile.Store, table string) int {
	t.Helper()
	tbl, ok := governance.Schema().Table(table)
	require.True(t, ok)
	rows, err := st.FindAll(context.Background(), tbl)
	require.NoError(t, err)
	return len(rows)
}

func TestImportCommitsAndRecords(t *testing.T) {
	st := memory.New(governance.Schema())
	runs := runstate.NewMemory()
	idx := &countingIndexer{}
	var observed []runstate.Status
	im := New(st, rules(),
		WithRecorder(runs),
		WithIndexer(idx),
		WithObserver(observerFunc(func(s runstate.Summary) { observed = append(observed, s.Status) })),
	)
	ctx := context.Background()

	summary, err := im.Import(ctx, snapshot(domainsText, treesText), Options{})
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusSucceeded, summary.Status)
	assert.NotEmpty(t, summary.ID)
	assert.Equal(t, "test", summary.Origin)
	assert.Equal(t, 3, summary.Tables[governance.TableDomains].Inserted)
	assert.Equal(t, 2, summary.Tables[governance.TableGitTrees].Inserted)
	assert.Equal(t, 1, summary.Relations[governance.RelGitTreeLicenses].Added)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
	assert.Equal(t, 2, rowCount(t, st, governance.TableGitTrees))

	last, err := runs.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, summary.ID, last.ID)
	assert.Equal(t, 1, idx.calls)

	again, err := im.Import(ctx, snapshot(domainsText, treesText), Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Tables[governance.TableDomains].Inserted)
	assert.Equal(t, 3, again.Tables[governance.TableDomains].Unchanged)
	assert.NotEqual(t, summary.ID, again.ID)
	assert.Equal(t, 2, idx.calls)
	assert.Equal(t, []runstate.Status{runstate.StatusSucceeded, runstate.StatusSucceeded}, observed)
}

func TestDryRunLeavesStoreUntouched(t *testing.T) {
	st := memory.New(governance.Schema())
	runs := runstate.NewMemory()
	idx := &countingIndexer{}
	im := New(st, rules(), WithRecorder(runs), WithIndexer(idx))

	summary, err := im.Import(context.Background(), snapshot(domainsText, treesText), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusDryRun, summary.Status)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 2, summary.Tables[governance.TableGitTrees].Inserted, "dry run still reports the changes")

	assert.Zero(t, rowCount(t, st, governance.TableGitTrees))
	assert.Zero(t, rowCount(t, st, governance.TableUsers))
	assert.Zero(t, idx.calls, "dry runs are not indexed")

	last, err := runs.LastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusDryRun, last.Status)
}

func TestFailedRunRollsBackAndIsRecorded(t *testing.T) {
	st := memory.New(governance.Schema())
	runs := runstate.NewMemory()
	idx := &countingIndexer{}
	im := New(st, rules(), WithRecorder(runs), WithIndexer(idx))
	ctx := context.Background()

	_, err := im.Import(ctx, snapshot(domainsText, treesText), Options{})
	require.NoError(t, err)

	strict := New(st, governance.DefaultRules(), WithRecorder(runs), WithIndexer(idx))
	summary, err := strict.Import(ctx, snapshot("D: Base\n", "T: base/core\nD: Base\nL: GPL-2.0\n"), Options{})
	require.ErrorIs(t, err, reconcile.ErrDanglingReference)
	assert.Equal(t, runstate.StatusFailed, summary.Status)
	assert.Contains(t, summary.Error, "GPL-2.0")

	assert.Equal(t, 2, rowCount(t, st, governance.TableGitTrees), "previous state survives")
	assert.Equal(t, 1, idx.calls)
	last, err := runs.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusFailed, last.Status)
}

func TestImportDecodeError(t *testing.T) {
	st := memory.New(governance.Schema())
	runs := runstate.NewMemory()
	im := New(st, rules(), WithRecorder(runs))

	summary, err := im.Import(context.Background(), source.Snapshot{
		Domains: []byte("D: Caf\xe9\n"),
		Trees:   []byte(""),
	}, Options{})
	require.ErrorIs(t, err, blocks.ErrDecode)
	assert.Equal(t, runstate.StatusFailed, summary.Status)

	summary, err = im.Import(context.Background(), source.Snapshot{
		Domains: []byte("D: Caf\xe9\n"),
		Trees:   []byte("T: cafe/tree\nD: Caf\xe9\n"),
	}, Options{Encoding: "latin1"})
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusSucceeded, summary.Status)
	assert.Equal(t, 1, summary.Tables[governance.TableGitTrees].Inserted)
}

func TestImportParseError(t *testing.T) {
	im := New(memory.New(governance.Schema()), rules())
	summary, err := im.ImportText(context.Background(), "D: Base\nZZ: nope\n", "", Options{})
	require.ErrorIs(t, err, blocks.ErrUnknownField)
	assert.Equal(t, runstate.StatusFailed, summary.Status)
	assert.Equal(t, "text", summary.Origin)
	assert.Len(t, summary.Revision, 16)
}

func TestImportRespectsSharedLock(t *testing.T) {
	locks := runstate.NewMemory()
	im := New(memory.New(governance.Schema()), rules(), WithLocker(locks, time.Minute))
	ctx := context.Background()

	release, err := locks.Acquire(ctx, time.Minute)
	require.NoError(t, err)

	_, err = im.ImportText(ctx, domainsText, treesText, Options{})
	require.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, release(ctx))
	summary, err := im.ImportText(ctx, domainsText, treesText, Options{})
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusSucceeded, summary.Status)

	release, err = locks.Acquire(ctx, time.Minute)
	require.NoError(t, err, "the importer gives the lock back")
	require.NoError(t, release(ctx))
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context, time.Duration) (runstate.Release, error) {
	return nil, errors.New("redis down")
}

func TestImportLockErrorFailsRun(t *testing.T) {
	im := New(memory.New(governance.Schema()), rules(), WithLocker(failingLocker{}, time.Minute))
	_, err := im.ImportText(context.Background(), domainsText, treesText, Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunInProgress)
	assert.Contains(t, err.Error(), "redis down")
}

type blockingStore struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) RunInTx(ctx context.Context, fn func(context.Context, reconcile.Store) error) error {
	close(b.entered)
	<-b.release
	return nil
}

func TestImportRejectsConcurrentRun(t *testing.T) {
	st := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	im := New(st, rules())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := im.ImportText(ctx, domainsText, treesText, Options{})
		done <- err
	}()
	<-st.entered

	_, err := im.ImportText(ctx, domainsText, treesText, Options{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(st.release)
	require.NoError(t, <-done)
}

func TestPostRunFailuresAreNotFatal(t *testing.T) {
	idx := &countingIndexer{err: errors.New("meili down")}
	im := New(memory.New(governance.Schema()), rules(), WithIndexer(idx))
	summary, err := im.ImportText(context.Background(), domainsText, treesText, Options{})
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusSucceeded, summary.Status)
	assert.Equal(t, 1, idx.calls)
}

func TestImportSQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, store.DialectSQLite, filepath.Join(t.TempDir(), "iris.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.ApplyMigrations(ctx, db, store.DialectSQLite))
	st := store.NewSQLStore(db, store.DialectSQLite)
	im := New(st, rules())

	_, err = im.ImportText(ctx, domainsText, treesText, Options{DryRun: true})
	require.NoError(t, err)
	var trees int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM git_trees`).Scan(&trees))
	assert.Zero(t, trees)

	first, err := im.ImportText(ctx, domainsText, treesText, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Tables[governance.TableGitTrees].Inserted)

	second, err := im.ImportText(ctx, "D: Base\nM: Alice <alice@intel.com>\n", "T: base/core\nD: Base\nL: MIT\n", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Tables[governance.TableGitTrees].Deleted)
	assert.Equal(t, 1, second.Tables[governance.TableDomains].Deleted)

	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM git_trees`).Scan(&trees))
	assert.Equal(t, 1, trees)
	var users int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&users))
	assert.Equal(t, 2, users, "users are never deleted")
}
