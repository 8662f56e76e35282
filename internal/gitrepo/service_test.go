package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type upstream struct {
	t    *testing.T
	dir  string
	repo *git.Repository
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available for local transport")
	}
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	return &upstream{t: t, dir: dir, repo: repo}
}

func (u *upstream) commit(message string, files map[string]string) plumbing.Hash {
	u.t.Helper()
	worktree, err := u.repo.Worktree()
	if err != nil {
		u.t.Fatalf("Worktree() error = %v", err)
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(u.dir, name), []byte(body), 0o644); err != nil {
			u.t.Fatalf("write %s: %v", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			u.t.Fatalf("Add(%s) error = %v", name, err)
		}
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "Governance Bot", Email: "bot@example.org", When: time.Now()},
	})
	if err != nil {
		u.t.Fatalf("Commit() error = %v", err)
	}
	return hash
}

func TestReadFilesFollowsUpstream(t *testing.T) {
	up := newUpstream(t)
	first := up.commit("initial export", map[string]string{
		"domains.txt": "D: Base\n",
		"trees.txt":   "T: base/core\nD: Base\n",
	})

	svc := New(t.TempDir())
	ctx := context.Background()

	files, commit, err := svc.ReadFiles(ctx, up.dir, "", "domains.txt", "trees.txt")
	if err != nil {
		t.Fatalf("ReadFiles() error = %v", err)
	}
	if commit.Hash != first.String() {
		t.Fatalf("commit = %s, want %s", commit.Hash, first)
	}
	if got := string(files["domains.txt"]); got != "D: Base\n" {
		t.Fatalf("domains.txt = %q", got)
	}
	if commit.Message != "initial export" || commit.Author != "Governance Bot" {
		t.Fatalf("unexpected commit metadata: %+v", commit)
	}

	second := up.commit("add graphics", map[string]string{"domains.txt": "D: Base\n\nD: Graphics\n"})
	files, commit, err = svc.ReadFiles(ctx, up.dir, "", "domains.txt")
	if err != nil {
		t.Fatalf("ReadFiles() after upstream commit error = %v", err)
	}
	if commit.Hash != second.String() {
		t.Fatalf("commit after fetch = %s, want %s", commit.Hash, second)
	}
	if !strings.Contains(string(files["domains.txt"]), "Graphics") {
		t.Fatalf("fetch did not pick up new content: %q", files["domains.txt"])
	}

	old, commit, err := svc.ReadFiles(ctx, up.dir, first.String(), "domains.txt")
	if err != nil {
		t.Fatalf("ReadFiles(hash) error = %v", err)
	}
	if commit.Hash != first.String() || string(old["domains.txt"]) != "D: Base\n" {
		t.Fatalf("ReadFiles(hash) returned %s %q", commit.Hash, old["domains.txt"])
	}

	history, err := svc.History(ctx, up.dir, "", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != second.String() {
		t.Fatalf("unexpected history: %+v", history)
	}
	if limited, _ := svc.History(ctx, up.dir, "", 1); len(limited) != 1 {
		t.Fatalf("History(limit=1) returned %d commits", len(limited))
	}
}

func TestReadFilesAtTagAndBranch(t *testing.T) {
	up := newUpstream(t)
	tagged := up.commit("release", map[string]string{"domains.txt": "D: Released\n"})
	if _, err := up.repo.CreateTag("v1", tagged, &git.CreateTagOptions{
		Tagger:  &object.Signature{Name: "Governance Bot", Email: "bot@example.org", When: time.Now()},
		Message: "v1",
	}); err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}
	if err := up.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("staging"), tagged)); err != nil {
		t.Fatalf("create staging branch: %v", err)
	}
	up.commit("work in progress", map[string]string{"domains.txt": "D: Draft\n"})

	svc := New(t.TempDir())
	ctx := context.Background()

	for _, rev := range []string{"v1", "staging"} {
		files, commit, err := svc.ReadFiles(ctx, up.dir, rev, "domains.txt")
		if err != nil {
			t.Fatalf("ReadFiles(%s) error = %v", rev, err)
		}
		if commit.Hash != tagged.String() || string(files["domains.txt"]) != "D: Released\n" {
			t.Fatalf("ReadFiles(%s) = %s %q", rev, commit.ShortHash(), files["domains.txt"])
		}
	}

	if _, _, err := svc.ReadFiles(ctx, up.dir, "no-such-branch", "domains.txt"); err == nil {
		t.Fatal("expected error for unknown revision")
	}
	if _, _, err := svc.ReadFiles(ctx, up.dir, "", "missing.txt"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConcurrentReadFilesSameRemote(t *testing.T) {
	up := newUpstream(t)
	up.commit("initial export", map[string]string{"domains.txt": "D: Base\n"})
	svc := New(t.TempDir())

	const readers = 6
	var wg sync.WaitGroup
	errCh := make(chan error, readers)
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.ReadFiles(context.Background(), up.dir, "", "domains.txt"); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("ReadFiles() concurrent error = %v", err)
	}
}

func TestRepoPathIsStablePerRemote(t *testing.T) {
	svc := New("/cache")
	a := svc.repoPath("https://git.example.org/governance/meta.git")
	b := svc.repoPath("https://git.example.org/governance/meta.git")
	c := svc.repoPath("https://git.example.org/other/meta.git")
	if a != b {
		t.Fatalf("repoPath not stable: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("different remotes share a mirror: %s", a)
	}
	if !strings.HasPrefix(filepath.Base(a), "meta-") {
		t.Fatalf("unexpected mirror name %s", a)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"meta":        "meta",
		"my repo.x":   "my-repo-x",
		"???":         "repo",
		"gov_meta-v2": "gov_meta-v2",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Fatalf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
