package schema

import "time"

// Table describes one table discovered in the live database
type Table struct {
	Name      string `json:"name"`
	Owner     string `json:"owner,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// Column describes one column of a live table
type Column struct {
	Name         string  `json:"name"`
	DataType     string  `json:"data_type"`
	Nullable     bool    `json:"nullable"`
	DefaultValue *string `json:"default_value,omitempty"`
	MaxLength    *int    `json:"max_length,omitempty"`
	Precision    *int    `json:"precision,omitempty"`
}

// Constraint describes a table constraint (primary key, foreign key, unique, check)
type Constraint struct {
	Name             string   `json:"name"`
	Type             string   `json:"type"` // PRIMARY KEY, FOREIGN KEY, UNIQUE, CHECK
	Columns          []string `json:"columns"`
	ReferencedTable  string   `json:"referenced_table,omitempty"`
	ReferencedColumn string   `json:"referenced_column,omitempty"`
	UpdateRule       string   `json:"update_rule,omitempty"`
	DeleteRule       string   `json:"delete_rule,omitempty"`
}

// Index describes a database index
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Primary bool     `json:"primary"`
}

// Routine describes a stored function or procedure
type Routine struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"` // FUNCTION or PROCEDURE
	ReturnType string `json:"return_type,omitempty"`
}

// Trigger describes a trigger and the table it fires on
type Trigger struct {
	Name      string `json:"name"`
	Table     string `json:"table"`
	Event     string `json:"event"`
	Timing    string `json:"timing"`
	Statement string `json:"statement,omitempty"`
}

// Snapshot is a point-in-time structural view of the live database. It is
// immutable once captured; each scan produces a fresh one.
type Snapshot struct {
	Tables      []Table                 `json:"tables"`
	Columns     map[string][]Column     `json:"columns"`
	Constraints map[string][]Constraint `json:"constraints"`
	Indexes     map[string][]Index      `json:"indexes"`
	Routines    []Routine               `json:"routines"`
	Triggers    []Trigger               `json:"triggers"`
	CapturedAt  time.Time               `json:"captured_at"`
}

// HasTable reports whether a table exists in the snapshot.
func (s *Snapshot) HasTable(name string) bool {
	for _, t := range s.Tables {
		if t.Name == name {
			return true
		}
	}
	return false
}

// ColumnOf returns the named column of a table, if present.
func (s *Snapshot) ColumnOf(table, column string) (Column, bool) {
	for _, c := range s.Columns[table] {
		if c.Name == column {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKeyOf returns the table's primary key constraint, if any.
func (s *Snapshot) PrimaryKeyOf(table string) (Constraint, bool) {
	for _, c := range s.Constraints[table] {
		if c.Type == "PRIMARY KEY" {
			return c, true
		}
	}
	return Constraint{}, false
}

// HasPrimaryKey reports whether the table has a primary key, visible either
// as a PRIMARY KEY constraint or as a primary index. The two introspection
// queries can degrade independently, so either signal counts.
func (s *Snapshot) HasPrimaryKey(table string) bool {
	if _, ok := s.PrimaryKeyOf(table); ok {
		return true
	}
	for _, idx := range s.Indexes[table] {
		if idx.Primary {
			return true
		}
	}
	return false
}

// IndexedColumns returns the set of columns covered as the leading column of
// any index on the table.
func (s *Snapshot) IndexedColumns(table string) map[string]bool {
	covered := make(map[string]bool)
	for _, idx := range s.Indexes[table] {
		if len(idx.Columns) > 0 {
			covered[idx.Columns[0]] = true
		}
	}
	return covered
}
