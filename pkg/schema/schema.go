// Package schema maintains a typed catalog of the tables served by the
// gateway. Descriptors are discovered once by introspecting PostgreSQL
// metadata and cached for the process lifetime; a NOTIFY on the reload
// channel (PostgREST convention) triggers a re-read. All downstream code
// reasons over these fixed descriptor structs, never over raw metadata.
package schema

import "strings"

// ColType is the semantic type of a column as seen at the JSON boundary.
type ColType int

const (
	ColInteger ColType = iota
	ColText
	ColBool
	ColReal
)

func (t ColType) String() string {
	switch t {
	case ColInteger:
		return "integer"
	case ColText:
		return "text"
	case ColBool:
		return "boolean"
	case ColReal:
		return "real"
	default:
		return "unknown"
	}
}

type Column struct {
	Name       string  `json:"name"`
	Type       ColType `json:"type"`
	Nullable   bool    `json:"nullable"`
	PrimaryKey bool    `json:"primary_key"`
	// HasDefault is true for serial/identity/defaulted columns, which may be
	// omitted on insert.
	HasDefault bool `json:"has_default"`
}

type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// Column returns the named column descriptor.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// RelationEnd is one side of a many-to-many association: the join-table
// foreign-key column and the base-table primary-key column it references.
type RelationEnd struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Refers string `json:"refers"`
}

// Relation describes a many-to-many association mediated by a join table
// holding exactly two foreign keys.
type Relation struct {
	JoinTable string      `json:"join_table"`
	Left      RelationEnd `json:"left"`
	Right     RelationEnd `json:"right"`
}

// colTypeOf maps an information_schema data_type to a semantic type.
// Unrecognized types are served as text.
func colTypeOf(dataType string) ColType {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint", "int2", "int4", "int8":
		return ColInteger
	case "boolean", "bool":
		return ColBool
	case "real", "double precision", "numeric", "float4", "float8":
		return ColReal
	default:
		return ColText
	}
}

// detectRelations finds join tables: a table whose columns are exactly two
// foreign-key columns, each referencing the primary key of a distinct table
// present in the catalog. Returns relations keyed by base-table name and by
// join-table name.
func detectRelations(tables map[string]Table) (map[string][]Relation, map[string]Relation) {
	byBase := make(map[string][]Relation)
	byJoin := make(map[string]Relation)

	for _, t := range tables {
		if len(t.Columns) != 2 || len(t.ForeignKeys) != 2 {
			continue
		}

		ends := make([]RelationEnd, 0, 2)
		for _, col := range t.Columns {
			fk, ok := foreignKeyFor(t, col.Name)
			if !ok {
				break
			}
			ref, ok := tables[fk.ReferencedTable]
			if !ok {
				break
			}
			refCol, ok := ref.Column(fk.ReferencedColumn)
			if !ok || !refCol.PrimaryKey {
				break
			}
			ends = append(ends, RelationEnd{
				Table:  fk.ReferencedTable,
				Column: col.Name,
				Refers: fk.ReferencedColumn,
			})
		}
		if len(ends) != 2 || ends[0].Table == ends[1].Table {
			continue
		}

		rel := Relation{JoinTable: t.Name, Left: ends[0], Right: ends[1]}
		byJoin[t.Name] = rel
		byBase[ends[0].Table] = append(byBase[ends[0].Table], rel)
		byBase[ends[1].Table] = append(byBase[ends[1].Table], rel)
	}

	return byBase, byJoin
}

func foreignKeyFor(t Table, column string) (ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column {
			return fk, true
		}
	}
	return ForeignKey{}, false
}
