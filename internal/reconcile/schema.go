package reconcile

import (
	"fmt"
	"slices"
)

// Column is one column of an entity table. A column with References set
// holds the id of a row in that table.
type Column struct {
	Name       string
	References string
}

// Table declares an entity table: its columns and the ordered subset of
// them that forms the natural key.
type Table struct {
	Name    string
	Key     []string
	Columns []Column
}

// Column returns the declared column called name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// IsKey reports whether name is part of the natural key.
func (t Table) IsKey(name string) bool {
	return slices.Contains(t.Key, name)
}

// Relation declares a many-to-many join table between two entity tables.
// Left is the owning side: edge reconciliation is scoped to left rows.
type Relation struct {
	Name        string
	Left        string
	Right       string
	LeftColumn  string
	RightColumn string
}

// Schema is a validated set of tables and relations. Tables may only
// reference tables declared before them.
type Schema struct {
	tables    []Table
	relations []Relation
	tableIdx  map[string]int
	relIdx    map[string]int
}

// NewSchema validates the declarations.
func NewSchema(tables []Table, relations []Relation) (*Schema, error) {
	s := &Schema{
		tableIdx: make(map[string]int, len(tables)),
		relIdx:   make(map[string]int, len(relations)),
	}
	for _, t := range tables {
		if err := s.addTable(t); err != nil {
			return nil, err
		}
	}
	for _, r := range relations {
		if err := s.addRelation(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error, for static declarations.
func MustSchema(tables []Table, relations []Relation) *Schema {
	s, err := NewSchema(tables, relations)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) addTable(t Table) error {
	if t.Name == "" {
		return &SchemaError{Reason: "table name is required"}
	}
	if _, dup := s.tableIdx[t.Name]; dup {
		return &SchemaError{Table: t.Name, Reason: "declared twice"}
	}
	if len(t.Key) == 0 {
		return &SchemaError{Table: t.Name, Reason: "natural key is empty"}
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" || c.Name == "id" {
			return &SchemaError{Table: t.Name, Reason: fmt.Sprintf("invalid column name %q", c.Name)}
		}
		if seen[c.Name] {
			return &SchemaError{Table: t.Name, Reason: fmt.Sprintf("column %q declared twice", c.Name)}
		}
		seen[c.Name] = true
		if c.References != "" {
			if _, ok := s.tableIdx[c.References]; !ok {
				return &SchemaError{Table: t.Name, Reason: fmt.Sprintf("column %q references undeclared table %q", c.Name, c.References)}
			}
		}
	}
	for _, k := range t.Key {
		if !seen[k] {
			return &SchemaError{Table: t.Name, Reason: fmt.Sprintf("key column %q is not declared", k)}
		}
	}
	s.tableIdx[t.Name] = len(s.tables)
	s.tables = append(s.tables, t)
	return nil
}

func (s *Schema) addRelation(r Relation) error {
	if r.Name == "" {
		return &SchemaError{Reason: "relation name is required"}
	}
	if _, dup := s.relIdx[r.Name]; dup {
		return &SchemaError{Table: r.Name, Reason: "declared twice"}
	}
	if _, dup := s.tableIdx[r.Name]; dup {
		return &SchemaError{Table: r.Name, Reason: "relation name collides with a table"}
	}
	for _, side := range []string{r.Left, r.Right} {
		if _, ok := s.tableIdx[side]; !ok {
			return &SchemaError{Table: r.Name, Reason: fmt.Sprintf("relation side %q is not declared", side)}
		}
	}
	if r.LeftColumn == "" || r.RightColumn == "" || r.LeftColumn == r.RightColumn {
		return &SchemaError{Table: r.Name, Reason: "relation needs two distinct column names"}
	}
	s.relIdx[r.Name] = len(s.relations)
	s.relations = append(s.relations, r)
	return nil
}

// Table returns the table declared as name.
func (s *Schema) Table(name string) (Table, bool) {
	i, ok := s.tableIdx[name]
	if !ok {
		return Table{}, false
	}
	return s.tables[i], true
}

// Tables returns every table in declaration order, parents first.
func (s *Schema) Tables() []Table {
	return slices.Clone(s.tables)
}

// Relation returns the relation declared as name.
func (s *Schema) Relation(name string) (Relation, bool) {
	i, ok := s.relIdx[name]
	if !ok {
		return Relation{}, false
	}
	return s.relations[i], true
}

// Relations returns every relation in declaration order.
func (s *Schema) Relations() []Relation {
	return slices.Clone(s.relations)
}

// Referencing returns the tables with a column referencing table.
func (s *Schema) Referencing(table string) []Table {
	var out []Table
	for _, t := range s.tables {
		for _, c := range t.Columns {
			if c.References == table {
				out = append(out, t)
				break
			}
		}
	}
	return out
}
