// Package gitrepo keeps local mirrors of governance repositories and reads
// export files out of them at a given revision.
package gitrepo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Commit describes the revision files were read from.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// ShortHash returns the abbreviated commit hash.
func (c Commit) ShortHash() string {
	if len(c.Hash) > 7 {
		return c.Hash[:7]
	}
	return c.Hash
}

type Option func(*Service)

// WithBasicAuth authenticates HTTP(S) remotes. Tokens go in password.
func WithBasicAuth(username, password string) Option {
	return func(s *Service) {
		if password == "" {
			return
		}
		if username == "" {
			username = "git"
		}
		s.auth = &githttp.BasicAuth{Username: username, Password: password}
	}
}

// Service mirrors remotes as bare repositories under baseDir. Calls for the
// same remote are serialized.
type Service struct {
	baseDir string
	auth    transport.AuthMethod
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string, opts ...Option) *Service {
	s := &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var fetchRefSpecs = []config.RefSpec{
	"+refs/heads/*:refs/remotes/origin/*",
	"+refs/tags/*:refs/tags/*",
}

// Sync clones url on first use and fetches it afterwards.
func (s *Service) Sync(ctx context.Context, url string) error {
	lock := s.repoLock(url)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.sync(ctx, url)
	return err
}

// ReadFiles syncs url, resolves rev and returns the contents of names at
// that commit. An empty rev means the remote's default branch.
func (s *Service) ReadFiles(ctx context.Context, url, rev string, names ...string) (map[string][]byte, Commit, error) {
	lock := s.repoLock(url)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.sync(ctx, url)
	if err != nil {
		return nil, Commit{}, err
	}
	hash, err := resolveRevision(repo, rev)
	if err != nil {
		return nil, Commit{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return nil, Commit{}, fmt.Errorf("load commit object: %w", err)
	}

	files := make(map[string][]byte, len(names))
	for _, name := range names {
		data, err := readFileFromCommit(commitObj, name)
		if err != nil {
			return nil, Commit{}, err
		}
		files[name] = data
	}
	return files, toCommit(commitObj), nil
}

// History lists commits reachable from rev, newest first.
func (s *Service) History(ctx context.Context, url, rev string, limit int) ([]Commit, error) {
	lock := s.repoLock(url)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(url)
	if err != nil {
		return nil, err
	}
	hash, err := resolveRevision(repo, rev)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0, max(limit, 0))
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) sync(ctx context.Context, url string) (*git.Repository, error) {
	repoPath := s.repoPath(url)
	if _, err := os.Stat(repoPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create mirror dir: %w", err)
		}
		repo, err := git.PlainCloneContext(ctx, repoPath, true, &git.CloneOptions{
			URL:  url,
			Auth: s.auth,
			Tags: git.AllTags,
		})
		if err != nil {
			_ = os.RemoveAll(repoPath)
			return nil, fmt.Errorf("clone %s: %w", url, err)
		}
		// A fresh bare clone only tracks the default branch under refs/heads.
		if err := fetch(ctx, repo, s.auth); err != nil {
			return nil, err
		}
		return repo, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat mirror path: %w", err)
	}

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	if err := fetch(ctx, repo, s.auth); err != nil {
		return nil, err
	}
	return repo, nil
}

func fetch(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   fetchRefSpecs,
		Auth:       auth,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

func (s *Service) open(url string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(url))
	if err != nil {
		return nil, fmt.Errorf("open mirror of %s: %w", url, err)
	}
	return repo, nil
}

func (s *Service) repoPath(url string) string {
	sum := sha256.Sum256([]byte(url))
	base := strings.TrimSuffix(path.Base(strings.TrimRight(url, "/")), ".git")
	return filepath.Join(s.baseDir, sanitizeName(base)+"-"+hex.EncodeToString(sum[:6])+".git")
}

func (s *Service) repoLock(url string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[url]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[url] = lock
	return lock
}

// resolveRevision prefers remote-tracking branches over the stale local
// branch a bare clone creates, then tags, then anything git can parse.
func resolveRevision(repo *git.Repository, rev string) (plumbing.Hash, error) {
	if rev == "" {
		head, err := repo.Reference(plumbing.HEAD, false)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", err)
		}
		if head.Type() == plumbing.SymbolicReference {
			rev = head.Target().Short()
		} else {
			return head.Hash(), nil
		}
	}

	candidates := []plumbing.ReferenceName{
		plumbing.NewRemoteReferenceName(git.DefaultRemoteName, rev),
		plumbing.NewTagReferenceName(rev),
		plumbing.NewBranchReferenceName(rev),
	}
	for _, name := range candidates {
		ref, err := repo.Reference(name, true)
		if err != nil {
			continue
		}
		if name.IsTag() {
			if tag, err := repo.TagObject(ref.Hash()); err == nil {
				commitObj, err := tag.Commit()
				if err != nil {
					return plumbing.ZeroHash, fmt.Errorf("peel tag %s: %w", rev, err)
				}
				return commitObj.Hash, nil
			}
		}
		return ref.Hash(), nil
	}

	resolved, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve revision %s: %w", rev, err)
	}
	return *resolved, nil
}

func readFileFromCommit(commitObj *object.Commit, name string) ([]byte, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit %s: %w", name, commitObj.Hash.String()[:7], err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s reader: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:    commitObj.Hash.String(),
		Message: strings.TrimSpace(commitObj.Message),
		Author:  commitObj.Author.Name,
		When:    commitObj.Author.When,
	}
}

func sanitizeName(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '.' {
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "repo"
	}
	return string(out)
}
