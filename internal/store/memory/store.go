// Package memory is an in-process reconcile.Store with the same referential
// rules as the SQL schema: entity references restrict deletes, relation rows
// cascade with either side.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/Doitordead/Intel-irris/internal/reconcile"
)

var (
	// ErrForeignKey is returned when a write would break a reference.
	ErrForeignKey = errors.New("foreign key violation")
	// ErrUnique is returned for duplicate natural keys or edges.
	ErrUnique = errors.New("unique violation")
	// ErrNotFound is returned for unknown tables and ids.
	ErrNotFound = errors.New("not found")
)

type state struct {
	nextID int64
	rows   map[string]map[int64]reconcile.Row
	edges  map[string]map[reconcile.Edge]struct{}
}

func (s state) clone() state {
	out := state{
		nextID: s.nextID,
		rows:   make(map[string]map[int64]reconcile.Row, len(s.rows)),
		edges:  make(map[string]map[reconcile.Edge]struct{}, len(s.edges)),
	}
	for t, rows := range s.rows {
		cp := make(map[int64]reconcile.Row, len(rows))
		for id, row := range rows {
			cp[id] = copyRow(row)
		}
		out.rows[t] = cp
	}
	for r, edges := range s.edges {
		out.edges[r] = maps.Clone(edges)
	}
	return out
}

// Store keeps rows in maps guarded by a mutex. RunInTx serialises
// transactions and restores a snapshot when the callback fails.
type Store struct {
	schema *reconcile.Schema
	txMu   sync.Mutex
	mu     sync.Mutex
	st     state
}

// New returns an empty store for schema.
func New(schema *reconcile.Schema) *Store {
	s := &Store{schema: schema, st: state{rows: map[string]map[int64]reconcile.Row{}, edges: map[string]map[reconcile.Edge]struct{}{}}}
	for _, t := range schema.Tables() {
		s.st.rows[t.Name] = map[int64]reconcile.Row{}
	}
	for _, r := range schema.Relations() {
		s.st.edges[r.Name] = map[reconcile.Edge]struct{}{}
	}
	return s
}

// RunInTx runs fn against the store. Any error restores the state from
// before the call.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, st reconcile.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// FindAll returns rows ordered by id.
func (s *Store) FindAll(_ context.Context, table reconcile.Table) ([]reconcile.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.st.rows[table.Name]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", table.Name, ErrNotFound)
	}
	out := make([]reconcile.Row, 0, len(rows))
	for _, id := range slices.Sorted(maps.Keys(rows)) {
		out = append(out, copyRow(rows[id]))
	}
	return out, nil
}

func (s *Store) FindByKey(_ context.Context, table reconcile.Table, key reconcile.Row) (reconcile.Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range slices.Sorted(maps.Keys(s.st.rows[table.Name])) {
		row := s.st.rows[table.Name][id]
		if sameKey(table, row, key) {
			return copyRow(row), true, nil
		}
	}
	return reconcile.Row{}, false, nil
}

func (s *Store) Insert(_ context.Context, table reconcile.Table, row reconcile.Row) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.st.rows[table.Name]
	if !ok {
		return 0, fmt.Errorf("table %s: %w", table.Name, ErrNotFound)
	}
	if err := s.checkRefs(table, row); err != nil {
		return 0, err
	}
	for _, other := range rows {
		if sameKey(table, other, row) {
			return 0, fmt.Errorf("%s: duplicate key: %w", table.Name, ErrUnique)
		}
	}
	s.st.nextID++
	stored := copyRow(row)
	stored.ID = s.st.nextID
	rows[stored.ID] = stored
	return stored.ID, nil
}

func (s *Store) Update(_ context.Context, table reconcile.Table, id int64, changes reconcile.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.st.rows[table.Name][id]
	if !ok {
		return fmt.Errorf("%s id %d: %w", table.Name, id, ErrNotFound)
	}
	if err := s.checkRefs(table, changes); err != nil {
		return err
	}
	updated := copyRow(row)
	maps.Copy(updated.Values, changes.Values)
	maps.Copy(updated.Refs, changes.Refs)
	for otherID, other := range s.st.rows[table.Name] {
		if otherID != id && sameKey(table, other, updated) {
			return fmt.Errorf("%s: duplicate key: %w", table.Name, ErrUnique)
		}
	}
	s.st.rows[table.Name][id] = updated
	return nil
}

// Delete removes rows, failing if any row of another table still
// references one of them. Relation rows touching them are removed.
func (s *Store) Delete(_ context.Context, table reconcile.Table, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doomed := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		doomed[id] = struct{}{}
	}
	for _, child := range s.schema.Referencing(table.Name) {
		for _, col := range child.Columns {
			if col.References != table.Name {
				continue
			}
			for _, row := range s.st.rows[child.Name] {
				if _, hit := doomed[row.Refs[col.Name]]; hit {
					return fmt.Errorf("delete %s id %d: referenced by %s id %d: %w",
						table.Name, row.Refs[col.Name], child.Name, row.ID, ErrForeignKey)
				}
			}
		}
	}
	for _, rel := range s.schema.Relations() {
		for e := range s.st.edges[rel.Name] {
			_, left := doomed[e.Left]
			_, right := doomed[e.Right]
			if (rel.Left == table.Name && left) || (rel.Right == table.Name && right) {
				delete(s.st.edges[rel.Name], e)
			}
		}
	}
	for id := range doomed {
		delete(s.st.rows[table.Name], id)
	}
	return nil
}

func (s *Store) Edges(_ context.Context, rel reconcile.Relation, leftIDs []int64) ([]reconcile.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reconcile.Edge
	for e := range s.st.edges[rel.Name] {
		if slices.Contains(leftIDs, e.Left) {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

func (s *Store) InsertEdges(_ context.Context, rel reconcile.Relation, edges []reconcile.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.st.edges[rel.Name]
	if !ok {
		return fmt.Errorf("relation %s: %w", rel.Name, ErrNotFound)
	}
	for _, e := range edges {
		if _, ok := s.st.rows[rel.Left][e.Left]; !ok {
			return fmt.Errorf("%s: %s id %d: %w", rel.Name, rel.Left, e.Left, ErrForeignKey)
		}
		if _, ok := s.st.rows[rel.Right][e.Right]; !ok {
			return fmt.Errorf("%s: %s id %d: %w", rel.Name, rel.Right, e.Right, ErrForeignKey)
		}
		if _, dup := set[e]; dup {
			return fmt.Errorf("%s: duplicate edge %d-%d: %w", rel.Name, e.Left, e.Right, ErrUnique)
		}
		set[e] = struct{}{}
	}
	return nil
}

func (s *Store) DeleteEdges(_ context.Context, rel reconcile.Relation, edges []reconcile.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		delete(s.st.edges[rel.Name], e)
	}
	return nil
}

// AllEdges returns every edge of relation, for inspection in tests.
func (s *Store) AllEdges(relation string) []reconcile.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Keys(s.st.edges[relation]))
	sortEdges(out)
	return out
}

func (s *Store) checkRefs(table reconcile.Table, row reconcile.Row) error {
	for col, id := range row.Refs {
		c, ok := table.Column(col)
		if !ok || c.References == "" {
			return fmt.Errorf("%s: %q is not a reference column", table.Name, col)
		}
		if _, ok := s.st.rows[c.References][id]; !ok {
			return fmt.Errorf("%s.%s: %s id %d: %w", table.Name, col, c.References, id, ErrForeignKey)
		}
	}
	return nil
}

func sameKey(table reconcile.Table, a, b reconcile.Row) bool {
	for _, col := range table.Key {
		if c, _ := table.Column(col); c.References != "" {
			if a.Refs[col] != b.Refs[col] {
				return false
			}
			continue
		}
		if a.Values[col] != b.Values[col] {
			return false
		}
	}
	return true
}

func copyRow(r reconcile.Row) reconcile.Row {
	out := reconcile.Row{ID: r.ID, Values: maps.Clone(r.Values), Refs: maps.Clone(r.Refs)}
	if out.Values == nil {
		out.Values = map[string]string{}
	}
	if out.Refs == nil {
		out.Refs = map[string]int64{}
	}
	return out
}

func sortEdges(edges []reconcile.Edge) {
	slices.SortFunc(edges, func(a, b reconcile.Edge) int {
		if c := cmp.Compare(a.Left, b.Left); c != 0 {
			return c
		}
		return cmp.Compare(a.Right, b.Right)
	})
}
