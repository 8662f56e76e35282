package reconcile

import "maps"

// TableStats counts the row operations applied to one table.
type TableStats struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
}

// RelationStats counts the edge operations applied to one relation.
type RelationStats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Kept    int `json:"kept"`
}

// Stats summarises one reconciliation run.
type Stats struct {
	Tables    map[string]TableStats    `json:"tables"`
	Relations map[string]RelationStats `json:"relations"`
}

func newStats() Stats {
	return Stats{
		Tables:    make(map[string]TableStats),
		Relations: make(map[string]RelationStats),
	}
}

func (s *Stats) addTable(name string, d TableStats) {
	cur := s.Tables[name]
	cur.Inserted += d.Inserted
	cur.Updated += d.Updated
	cur.Unchanged += d.Unchanged
	cur.Deleted += d.Deleted
	s.Tables[name] = cur
}

func (s *Stats) addRelation(name string, d RelationStats) {
	cur := s.Relations[name]
	cur.Added += d.Added
	cur.Removed += d.Removed
	cur.Kept += d.Kept
	s.Relations[name] = cur
}

func (s Stats) clone() Stats {
	return Stats{Tables: maps.Clone(s.Tables), Relations: maps.Clone(s.Relations)}
}

// Changed reports whether the run wrote anything.
func (s Stats) Changed() bool {
	for _, t := range s.Tables {
		if t.Inserted+t.Updated+t.Deleted > 0 {
			return true
		}
	}
	for _, r := range s.Relations {
		if r.Added+r.Removed > 0 {
			return true
		}
	}
	return false
}
