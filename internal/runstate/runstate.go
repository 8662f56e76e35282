// Package runstate keeps the cross-process import lock and the record of
// recent import runs.
package runstate

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Doitordead/Intel-irris/internal/reconcile"
)

var (
	// ErrLocked is returned by Acquire while another holder owns the lock.
	ErrLocked = errors.New("import lock held")
	// ErrNoRun is returned by LastRun before any run was recorded.
	ErrNoRun = errors.New("no import run recorded")
)

// Status is the outcome of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDryRun    Status = "dry_run"
)

// Summary describes one import run.
type Summary struct {
	ID         string                             `json:"id"`
	Revision   string                             `json:"revision,omitempty"`
	Origin     string                             `json:"origin,omitempty"`
	Status     Status                             `json:"status"`
	DryRun     bool                               `json:"dry_run"`
	StartedAt  time.Time                          `json:"started_at"`
	FinishedAt time.Time                          `json:"finished_at"`
	Tables     map[string]reconcile.TableStats    `json:"tables,omitempty"`
	Relations  map[string]reconcile.RelationStats `json:"relations,omitempty"`
	Error      string                             `json:"error,omitempty"`
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Release gives a lock back.
type Release func(ctx context.Context) error

// historyLimit bounds the number of runs Recent can return.
const historyLimit = 20

// Memory is an in-process Store for single-instance deployments and tests.
type Memory struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	runs    []Summary
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, ttl time.Duration) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && m.now().Before(m.expires) {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	m.token = token
	m.expires = m.now().Add(ttl)
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.token == token {
			m.token = ""
		}
		return nil
	}, nil
}

func (m *Memory) SaveRun(_ context.Context, s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = slices.Insert(m.runs, 0, s)
	if len(m.runs) > historyLimit {
		m.runs = m.runs[:historyLimit]
	}
	return nil
}

func (m *Memory) LastRun(_ context.Context) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return Summary{}, ErrNoRun
	}
	return m.runs[0], nil
}

func (m *Memory) Recent(_ context.Context, n int) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n = min(max(n, 0), len(m.runs))
	return slices.Clone(m.runs[:n]), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
