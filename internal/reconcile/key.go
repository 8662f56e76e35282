package reconcile

import (
	"context"
	"strconv"
	"strings"
)

// Part is one named column value of a key or entity. Ref is set for
// reference columns and names the parent row by its own natural key.
type Part struct {
	Column string
	Value  string
	Ref    *Ref
}

// Ref names a row of Table by its natural key.
type Ref struct {
	Table string
	Key   Key
}

// Key is a natural key, possibly nesting parent keys through Refs:
//
//	reconcile.Key{
//		reconcile.Val("name", "Wayland"),
//		reconcile.RefTo("domain_id", "domains", reconcile.Val("name", "Graphics")),
//	}
type Key []Part

// Val returns a scalar part.
func Val(column, value string) Part {
	return Part{Column: column, Value: value}
}

// RefTo returns a part referencing the row of table identified by key.
func RefTo(column, table string, key ...Part) Part {
	return Part{Column: column, Ref: &Ref{Table: table, Key: Key(key)}}
}

// String renders the key with nested references, e.g.
// (name="Wayland", domain_id=domains(name="Graphics")).
func (k Key) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range k {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Column)
		b.WriteByte('=')
		if p.Ref != nil {
			b.WriteString(p.Ref.Table)
			b.WriteString(p.Ref.Key.String())
			continue
		}
		b.WriteString(strconv.Quote(p.Value))
	}
	b.WriteByte(')')
	return b.String()
}

// Entity is one desired row. Fields hold the non-key columns the caller
// wants set; columns not listed are never touched.
type Entity struct {
	Key    Key
	Fields []Part
}

// Pair is one desired edge of a relation.
type Pair struct {
	Left  Key
	Right Key
}

// Row is a persisted row. Values holds scalar columns, Refs holds reference
// columns as parent row ids. NULL columns are absent.
type Row struct {
	ID     int64
	Values map[string]string
	Refs   map[string]int64
}

// Edge is one persisted relation row.
type Edge struct {
	Left  int64
	Right int64
}

// Store is the persistence collaborator. Implementations are expected to
// run inside one transaction per import run.
type Store interface {
	// FindAll returns every row of table.
	FindAll(ctx context.Context, table Table) ([]Row, error)
	// FindByKey returns the row whose natural key columns equal key's.
	FindByKey(ctx context.Context, table Table, key Row) (Row, bool, error)
	// Insert stores row and returns its id.
	Insert(ctx context.Context, table Table, row Row) (int64, error)
	// Update sets the columns present in changes on row id.
	Update(ctx context.Context, table Table, id int64, changes Row) error
	// Delete removes rows by id.
	Delete(ctx context.Context, table Table, ids []int64) error
	// Edges returns the relation rows whose left side is in leftIDs.
	Edges(ctx context.Context, rel Relation, leftIDs []int64) ([]Edge, error)
	// InsertEdges adds relation rows.
	InsertEdges(ctx context.Context, rel Relation, edges []Edge) error
	// DeleteEdges removes relation rows.
	DeleteEdges(ctx context.Context, rel Relation, edges []Edge) error
}

// canonical renders the resolved key columns of row in table key order.
// Reference columns render as their id so two rows with the same resolved
// parents compare equal.
func canonical(t Table, row Row) string {
	var b strings.Builder
	for i, col := range t.Key {
		if i > 0 {
			b.WriteByte(',')
		}
		if c, _ := t.Column(col); c.References != "" {
			b.WriteByte('#')
			b.WriteString(strconv.FormatInt(row.Refs[col], 10))
			continue
		}
		b.WriteString(strconv.Quote(row.Values[col]))
	}
	return b.String()
}

func newRow() Row {
	return Row{Values: map[string]string{}, Refs: map[string]int64{}}
}
