package search

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Doitordead/Intel-irris/internal/blocks"
	"github.com/Doitordead/Intel-irris/internal/governance"
	"github.com/Doitordead/Intel-irris/internal/identity"
	"github.com/Doitordead/Intel-irris/internal/reconcile"
	"github.com/Doitordead/Intel-irris/internal/store"
)

const seedDomains = `D: Base
M: Alice <alice@intel.com>

D: Graphics
D: Graphics / Wayland
N: Graphics

D: 100%_Done
`

const seedTrees = `T: base/core
D: Base
L: MIT
L: Apache-2.0
M: Alice <alice@intel.com>
R: Bob <bob@samsung.com>

T: graphics/weston
D: Graphics / Wayland
R: Alice <alice@intel.com>

T: graphics/mesa
D: Graphics
`

func seed(t *testing.T) *SQLSearcher {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.DialectSQLite, filepath.Join(t.TempDir(), "iris.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.ApplyMigrations(ctx, db, store.DialectSQLite))

	rules := governance.DefaultRules()
	rules.RegisterLicenses = true
	fm := rules.FieldMap()
	d, err := blocks.ParseAll(seedDomains, rules.DomainMarker, fm)
	require.NoError(t, err)
	tr, err := blocks.ParseAll(seedTrees, rules.TreeMarker, fm)
	require.NoError(t, err)
	snap, err := governance.Transform(d, tr, identity.Build(rules.RoleFields(), d, tr), rules)
	require.NoError(t, err)

	require.NoError(t, store.NewSQLStore(db, store.DialectSQLite).RunInTx(ctx, func(ctx context.Context, st reconcile.Store) error {
		_, err := snap.Apply(ctx, reconcile.New(governance.Schema(), st))
		return err
	}))
	return NewSQLSearcher(db, store.DialectSQLite)
}

func titles(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = string(r.Type) + ":" + r.Title
	}
	return out
}

func TestSQLSearch(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	results, total, err := s.Search(ctx, Query{Text: "GRAPHICS"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"domain:Graphics", "tree:graphics/mesa", "tree:graphics/weston"}, titles(results))
	assert.Equal(t, "Graphics / Wayland", results[2].Snippet)
	assert.Regexp(t, `^tree-\d+$`, results[2].ID)

	results, total, err = s.Search(ctx, Query{Text: "wayland", FilterType: ResultTree})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "graphics/weston", results[0].Title)

	results, _, err = s.Search(ctx, Query{Text: "e", FilterType: ResultDomain, FilterDomain: "Base"})
	require.NoError(t, err)
	assert.Equal(t, []string{"domain:Base"}, titles(results))

	results, total, err = s.Search(ctx, Query{Text: "graphics", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"tree:graphics/mesa"}, titles(results))

	results, total, err = s.Search(ctx, Query{Text: "  "})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, results)
}

func TestSQLSearchEscapesWildcards(t *testing.T) {
	s := seed(t)
	results, _, err := s.Search(context.Background(), Query{Text: "%_", FilterType: ResultDomain})
	require.NoError(t, err)
	assert.Equal(t, []string{"domain:100%_Done"}, titles(results))
}

func TestLoadRecords(t *testing.T) {
	s := seed(t)
	trees, domains, err := s.LoadRecords(context.Background())
	require.NoError(t, err)

	require.Len(t, trees, 3)
	assert.Equal(t, "base/core", trees[0].Path)
	assert.Equal(t, "Uncategorized", trees[0].Subdomain)
	assert.Equal(t, []string{"Apache-2.0", "MIT"}, trees[0].Licenses)
	assert.Equal(t, []string{"alice@intel.com", "bob@samsung.com"}, trees[0].People)
	assert.Equal(t, []string{}, trees[2].Licenses)

	names := map[string][]string{}
	for _, d := range domains {
		names[d.Name] = d.Subdomains
	}
	assert.Equal(t, []string{"Uncategorized", "Wayland"}, names["Graphics"])
	assert.Contains(t, names, "Uncategorized")
}

type stubIndex struct {
	healthy  bool
	err      error
	results  []Result
	replaced [][]TreeRecord
}

func (s *stubIndex) Healthy() bool { return s.healthy }

func (s *stubIndex) Search(context.Context, Query) ([]Result, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.results, len(s.results), nil
}

func (s *stubIndex) Replace(_ context.Context, trees []TreeRecord, _ []DomainRecord) error {
	s.replaced = append(s.replaced, trees)
	return s.err
}

func TestServicePrefersHealthyIndex(t *testing.T) {
	sql := seed(t)
	idx := &stubIndex{healthy: true, results: []Result{{Type: ResultTree, ID: "tree-99", Title: "from-index"}}}
	svc := NewService(idx, sql)

	resp := svc.Search(context.Background(), Query{Text: "graphics"})
	assert.Equal(t, []string{"tree:from-index"}, titles(resp.Results))
	assert.Equal(t, "graphics", resp.Query)

	idx.err = errors.New("boom")
	resp = svc.Search(context.Background(), Query{Text: "graphics"})
	assert.Equal(t, 3, resp.Total, "falls back to sql on index error")

	idx.err = nil
	idx.healthy = false
	resp = svc.Search(context.Background(), Query{Text: "graphics"})
	assert.Equal(t, 3, resp.Total, "falls back to sql when unhealthy")

	resp = NewService(nil, sql).Search(context.Background(), Query{Text: "nothing-matches"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestServiceReindex(t *testing.T) {
	sql := seed(t)
	idx := &stubIndex{healthy: true}
	svc := NewService(idx, sql)

	require.NoError(t, svc.Reindex(context.Background()))
	require.Len(t, idx.replaced, 1)
	assert.Len(t, idx.replaced[0], 3)

	idx.healthy = false
	require.NoError(t, svc.Reindex(context.Background()))
	assert.Len(t, idx.replaced, 1, "unhealthy index is skipped")

	idx.healthy = true
	idx.err = errors.New("down")
	assert.Error(t, svc.Reindex(context.Background()))

	assert.NoError(t, NewService(nil, sql).Reindex(context.Background()))
}

func TestHitToResult(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}
	hit := meili.Hit{
		"id":         raw("tree-4"),
		"path":       raw("graphics/weston"),
		"domain":     raw("Graphics"),
		"subdomain":  raw("Wayland"),
		"_formatted": raw(map[string]any{"path": "<mark>graphics</mark>/weston", "licenses": []string{"MIT"}}),
	}
	r := hitToResult(hit, ResultTree)
	assert.Equal(t, Result{
		Type:      ResultTree,
		ID:        "tree-4",
		Title:     "<mark>graphics</mark>/weston",
		Snippet:   "Graphics / Wayland",
		Domain:    "Graphics",
		Subdomain: "Wayland",
	}, r)

	d := hitToResult(meili.Hit{"id": raw("domain-1"), "name": raw("Base")}, ResultDomain)
	assert.Equal(t, "Base", d.Title)
	assert.Equal(t, "Base", d.Domain)

	assert.Equal(t, ResultTree, indexToResultType(idxTrees))
	assert.Equal(t, ResultType(""), indexToResultType("other"))
}

func TestParseResultType(t *testing.T) {
	for _, in := range []string{"", "tree", "domain"} {
		got, ok := ParseResultType(in)
		assert.True(t, ok, in)
		assert.Equal(t, ResultType(in), got)
	}
	_, ok := ParseResultType("thread")
	assert.False(t, ok)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_a\\b`, escapeLike(`100%_a\b`))
}
