package source

import (
	"context"
	"fmt"

	"github.com/Doitordead/Intel-irris/internal/gitrepo"
)

// Git reads the exports from a governance repository at Ref (branch, tag or
// commit; empty means the default branch). The commit hash is the revision.
type Git struct {
	Repos   *gitrepo.Service
	URL     string
	Ref     string
	Domains string
	Trees   string
}

func (g Git) Fetch(ctx context.Context) (Snapshot, error) {
	if g.Repos == nil {
		return Snapshot{}, fmt.Errorf("git source: no repository service")
	}
	files, commit, err := g.Repos.ReadFiles(ctx, g.URL, g.Ref, g.Domains, g.Trees)
	if err != nil {
		return Snapshot{}, fmt.Errorf("git source %s: %w", g.URL, err)
	}
	return Snapshot{
		Domains:  files[g.Domains],
		Trees:    files[g.Trees],
		Revision: commit.Hash,
		Origin:   "git:" + g.URL,
	}, nil
}
