// Package reconcile brings persisted tables in line with a desired snapshot.
//
// Entities are matched to stored rows by natural key. Inserts and updates are
// applied as each table is synced; deletions are returned as PendingDeletion
// values so the caller can run them children-first once every referencing
// table has been reconciled. Many-to-many relations are reconciled separately
// with SyncRelation.
package reconcile

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/Doitordead/Intel-irris/internal/logging"
)

// Reconciler runs one reconciliation pass against a Store. It keeps the
// key-to-id lookups of the tables synced so far and must not be shared
// between runs or goroutines.
type Reconciler struct {
	schema *Schema
	store  Store

	synced  map[string]map[string]int64
	lookups map[string]map[string]int64
	stats   Stats
}

// New returns a Reconciler for one run.
func New(schema *Schema, store Store) *Reconciler {
	return &Reconciler{
		schema:  schema,
		store:   store,
		synced:  make(map[string]map[string]int64),
		lookups: make(map[string]map[string]int64),
		stats:   newStats(),
	}
}

// Schema returns the schema the reconciler works against.
func (r *Reconciler) Schema() *Schema { return r.schema }

// Stats returns the counters accumulated so far.
func (r *Reconciler) Stats() Stats { return r.stats.clone() }

// Synced reports whether table has been synced in this run.
func (r *Reconciler) Synced(table string) bool {
	_, ok := r.synced[table]
	return ok
}

// PendingDeletion is the deferred delete work for one table: the rows that
// exist in the store but not in the desired set.
type PendingDeletion struct {
	Table string
	// Keys are the canonical natural keys of the rows, aligned with IDs.
	Keys []string
	IDs  []int64
}

// Empty reports whether there is nothing to delete.
func (p PendingDeletion) Empty() bool { return len(p.IDs) == 0 }

type desiredRow struct {
	key    string
	row    Row
	fields []string
}

// SyncEntities reconciles table against desired. Rows whose natural key is
// desired are inserted or updated immediately; rows that are no longer
// desired are returned as a PendingDeletion. Duplicate keys in desired are
// merged, later fields winning. References resolve against tables synced
// earlier in this run, or through Store.FindByKey for tables this run does
// not sync.
func (r *Reconciler) SyncEntities(ctx context.Context, tableName string, desired []Entity) (PendingDeletion, error) {
	table, ok := r.schema.Table(tableName)
	if !ok {
		return PendingDeletion{}, &SchemaError{Table: tableName, Reason: "unknown table"}
	}
	if r.Synced(tableName) {
		return PendingDeletion{}, &EntityError{Table: tableName, Reason: "table already synced in this run"}
	}
	logger := logging.FromContext(ctx).With().Str("table", tableName).Logger()

	want := make(map[string]*desiredRow, len(desired))
	var order []string
	for _, ent := range desired {
		keyRow, err := r.resolveKey(ctx, tableName, table, ent.Key)
		if err != nil {
			return PendingDeletion{}, err
		}
		key := canonical(table, keyRow)
		d, seen := want[key]
		if !seen {
			d = &desiredRow{key: key, row: keyRow}
			want[key] = d
			order = append(order, key)
		}
		for _, f := range ent.Fields {
			if err := r.setField(ctx, tableName, table, d, f); err != nil {
				return PendingDeletion{}, err
			}
		}
	}

	existing, err := r.store.FindAll(ctx, table)
	if err != nil {
		return PendingDeletion{}, fmt.Errorf("load %s: %w", tableName, err)
	}
	persisted := make(map[string]Row, len(existing))
	var pending PendingDeletion
	pending.Table = tableName
	for _, row := range existing {
		key := canonical(table, row)
		if _, dup := persisted[key]; dup {
			pending.Keys = append(pending.Keys, key)
			pending.IDs = append(pending.IDs, row.ID)
			continue
		}
		persisted[key] = row
	}

	ids := make(map[string]int64, len(order))
	counts := TableStats{}
	for _, key := range order {
		d := want[key]
		if row, found := persisted[key]; found {
			changes := diff(table, row, d)
			if changes != nil {
				if err := r.store.Update(ctx, table, row.ID, *changes); err != nil {
					return PendingDeletion{}, fmt.Errorf("update %s %s: %w", tableName, key, err)
				}
				counts.Updated++
			} else {
				counts.Unchanged++
			}
			ids[key] = row.ID
			continue
		}
		id, err := r.store.Insert(ctx, table, d.row)
		if err != nil {
			return PendingDeletion{}, fmt.Errorf("insert %s %s: %w", tableName, key, err)
		}
		ids[key] = id
		counts.Inserted++
	}

	for key, row := range persisted {
		if _, keep := want[key]; keep {
			continue
		}
		pending.Keys = append(pending.Keys, key)
		pending.IDs = append(pending.IDs, row.ID)
	}
	sortPending(&pending)

	r.synced[tableName] = ids
	delete(r.lookups, tableName)
	r.stats.addTable(tableName, counts)
	logger.Debug().
		Int("inserted", counts.Inserted).
		Int("updated", counts.Updated).
		Int("unchanged", counts.Unchanged).
		Int("pendingDeletes", len(pending.IDs)).
		Msg("synced entities")
	return pending, nil
}

// Delete executes one pending deletion.
func (r *Reconciler) Delete(ctx context.Context, p PendingDeletion) error {
	if p.Empty() {
		return nil
	}
	table, ok := r.schema.Table(p.Table)
	if !ok {
		return &SchemaError{Table: p.Table, Reason: "unknown table"}
	}
	if err := r.store.Delete(ctx, table, p.IDs); err != nil {
		return fmt.Errorf("delete from %s: %w", p.Table, err)
	}
	r.stats.addTable(p.Table, TableStats{Deleted: len(p.IDs)})
	logging.FromContext(ctx).Debug().Str("table", p.Table).Int("deleted", len(p.IDs)).Msg("deleted rows")
	return nil
}

// SyncRelation reconciles the edges of relation against pairs. Only edges
// whose left row belongs to this run's scope are considered: the left rows
// synced in this run, or the left rows named by pairs when the left table
// was not synced. Missing edges are inserted and extra edges removed at once.
func (r *Reconciler) SyncRelation(ctx context.Context, relationName string, pairs []Pair) error {
	rel, ok := r.schema.Relation(relationName)
	if !ok {
		return &SchemaError{Table: relationName, Reason: "unknown relation"}
	}
	left, _ := r.schema.Table(rel.Left)
	right, _ := r.schema.Table(rel.Right)

	want := make(map[Edge]struct{}, len(pairs))
	var order []Edge
	scope := make(map[int64]struct{})
	for _, p := range pairs {
		l, err := r.resolveID(ctx, relationName, left, p.Left)
		if err != nil {
			return err
		}
		rt, err := r.resolveID(ctx, relationName, right, p.Right)
		if err != nil {
			return err
		}
		e := Edge{Left: l, Right: rt}
		scope[l] = struct{}{}
		if _, dup := want[e]; dup {
			continue
		}
		want[e] = struct{}{}
		order = append(order, e)
	}
	if ids, synced := r.synced[rel.Left]; synced {
		for _, id := range ids {
			scope[id] = struct{}{}
		}
	}
	leftIDs := slices.Sorted(maps.Keys(scope))

	var existing []Edge
	if len(leftIDs) > 0 {
		var err error
		existing, err = r.store.Edges(ctx, rel, leftIDs)
		if err != nil {
			return fmt.Errorf("load %s: %w", relationName, err)
		}
	}
	have := make(map[Edge]struct{}, len(existing))
	var extra []Edge
	for _, e := range existing {
		if _, inScope := scope[e.Left]; !inScope {
			continue
		}
		have[e] = struct{}{}
		if _, keep := want[e]; !keep {
			extra = append(extra, e)
		}
	}
	var missing []Edge
	for _, e := range order {
		if _, found := have[e]; !found {
			missing = append(missing, e)
		}
	}

	if len(missing) > 0 {
		if err := r.store.InsertEdges(ctx, rel, missing); err != nil {
			return fmt.Errorf("insert %s: %w", relationName, err)
		}
	}
	if len(extra) > 0 {
		if err := r.store.DeleteEdges(ctx, rel, extra); err != nil {
			return fmt.Errorf("delete %s: %w", relationName, err)
		}
	}
	counts := RelationStats{Added: len(missing), Removed: len(extra), Kept: len(order) - len(missing)}
	r.stats.addRelation(relationName, counts)
	logging.FromContext(ctx).Debug().
		Str("relation", relationName).
		Int("added", counts.Added).
		Int("removed", counts.Removed).
		Int("kept", counts.Kept).
		Msg("synced relation")
	return nil
}

// resolveKey checks key against table and resolves its references, returning
// a row holding only the key columns.
func (r *Reconciler) resolveKey(ctx context.Context, from string, table Table, key Key) (Row, error) {
	row := newRow()
	seen := make(map[string]bool, len(key))
	for _, p := range key {
		if !table.IsKey(p.Column) {
			return Row{}, &EntityError{Table: table.Name, Reason: fmt.Sprintf("%q is not a key column", p.Column)}
		}
		if seen[p.Column] {
			return Row{}, &EntityError{Table: table.Name, Reason: fmt.Sprintf("key column %q given twice", p.Column)}
		}
		seen[p.Column] = true
		if err := r.setPart(ctx, from, table, row, p); err != nil {
			return Row{}, err
		}
	}
	if len(seen) != len(table.Key) {
		return Row{}, &EntityError{Table: table.Name, Reason: fmt.Sprintf("key %s does not cover %v", key, table.Key)}
	}
	return row, nil
}

func (r *Reconciler) setField(ctx context.Context, from string, table Table, d *desiredRow, p Part) error {
	if table.IsKey(p.Column) {
		return &EntityError{Table: table.Name, Reason: fmt.Sprintf("key column %q listed as a field", p.Column)}
	}
	if err := r.setPart(ctx, from, table, d.row, p); err != nil {
		return err
	}
	if !slices.Contains(d.fields, p.Column) {
		d.fields = append(d.fields, p.Column)
	}
	return nil
}

func (r *Reconciler) setPart(ctx context.Context, from string, table Table, row Row, p Part) error {
	col, ok := table.Column(p.Column)
	if !ok {
		return &EntityError{Table: table.Name, Reason: fmt.Sprintf("unknown column %q", p.Column)}
	}
	if col.References == "" {
		if p.Ref != nil {
			return &EntityError{Table: table.Name, Reason: fmt.Sprintf("column %q is not a reference", p.Column)}
		}
		row.Values[p.Column] = p.Value
		return nil
	}
	if p.Ref == nil || p.Ref.Table != col.References {
		return &EntityError{Table: table.Name, Reason: fmt.Sprintf("column %q must reference %s", p.Column, col.References)}
	}
	parent, _ := r.schema.Table(col.References)
	id, err := r.resolveID(ctx, from, parent, p.Ref.Key)
	if err != nil {
		return err
	}
	row.Refs[p.Column] = id
	return nil
}

// resolveID finds the id of the row of table identified by key.
func (r *Reconciler) resolveID(ctx context.Context, from string, table Table, key Key) (int64, error) {
	keyRow, err := r.resolveKey(ctx, from, table, key)
	if err != nil {
		return 0, err
	}
	canon := canonical(table, keyRow)
	if ids, synced := r.synced[table.Name]; synced {
		if id, found := ids[canon]; found {
			return id, nil
		}
		return 0, &DanglingReferenceError{From: from, Table: table.Name, Key: key}
	}

	cache := r.lookups[table.Name]
	if id, found := cache[canon]; found {
		return id, nil
	}
	row, found, err := r.store.FindByKey(ctx, table, keyRow)
	if err != nil {
		return 0, fmt.Errorf("find %s%s: %w", table.Name, key, err)
	}
	if !found {
		return 0, &DanglingReferenceError{From: from, Table: table.Name, Key: key}
	}
	if cache == nil {
		cache = make(map[string]int64)
		r.lookups[table.Name] = cache
	}
	cache[canon] = row.ID
	return row.ID, nil
}

// diff returns the desired fields that differ from row, or nil.
func diff(table Table, row Row, d *desiredRow) *Row {
	var changes *Row
	for _, name := range d.fields {
		col, _ := table.Column(name)
		if col.References != "" {
			want := d.row.Refs[name]
			if have, ok := row.Refs[name]; ok && have == want {
				continue
			}
			if changes == nil {
				c := newRow()
				changes = &c
			}
			changes.Refs[name] = want
			continue
		}
		want := d.row.Values[name]
		if have, ok := row.Values[name]; ok && have == want {
			continue
		}
		if changes == nil {
			c := newRow()
			changes = &c
		}
		changes.Values[name] = want
	}
	return changes
}

func sortPending(p *PendingDeletion) {
	idx := make([]int, len(p.IDs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int { return cmp.Compare(p.IDs[a], p.IDs[b]) })
	ids := make([]int64, len(idx))
	keys := make([]string, len(idx))
	for i, j := range idx {
		ids[i] = p.IDs[j]
		keys[i] = p.Keys[j]
	}
	p.IDs, p.Keys = ids, keys
}
