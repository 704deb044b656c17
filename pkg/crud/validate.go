package crud

import (
	"github.com/framewell/dbsvc/pkg/dberr"
	"github.com/framewell/dbsvc/pkg/filter"
	"github.com/framewell/dbsvc/pkg/schema"
)

// ValidateRow checks that a row mapping references only known columns and,
// when requireKeys is set, that every required key column is present.
// For base tables the required keys are the primary-key columns without a
// store-side default; for association rows they are both foreign-key
// columns.
func ValidateRow(table schema.Table, row map[string]any, requireKeys []string) error {
	for name := range row {
		if _, ok := table.Column(name); !ok {
			return dberr.New(dberr.InvalidColumn, "table %q has no column %q", table.Name, name)
		}
	}
	for _, key := range requireKeys {
		if _, ok := row[key]; !ok {
			return dberr.New(dberr.MissingPrimaryKey, "table %q requires column %q", table.Name, key)
		}
	}
	return nil
}

// requiredKeys lists the primary-key columns a caller must supply on insert.
// Columns the store generates itself (serial, identity, defaulted) are
// exempt.
func requiredKeys(table schema.Table) []string {
	keys := make([]string, 0, len(table.PrimaryKeys))
	for _, name := range table.PrimaryKeys {
		col, ok := table.Column(name)
		if ok && !col.HasDefault {
			keys = append(keys, name)
		}
	}
	return keys
}

// ValidateValues checks an update's value mapping: it must be non-empty and
// reference only known columns.
func ValidateValues(table schema.Table, values map[string]any) error {
	if len(values) == 0 {
		return dberr.New(dberr.EmptyValues, "update on table %q requires at least one value", table.Name)
	}
	return ValidateRow(table, values, nil)
}

// ValidateFilter walks a parsed filter spec and confirms every referenced
// column exists on the table, so compilation never sees an unknown column.
func ValidateFilter(table schema.Table, spec *filter.Spec) error {
	if spec.Empty() {
		return nil
	}
	for _, group := range spec.Groups {
		for _, clause := range group.Clauses {
			if _, ok := table.Column(clause.Column); !ok {
				return dberr.New(dberr.InvalidFilterColumn, "table %q has no column %q", table.Name, clause.Column)
			}
		}
	}
	for _, sub := range spec.Or {
		if err := ValidateFilter(table, sub); err != nil {
			return err
		}
	}
	return nil
}

// validateProjection checks requested read columns against the table.
func validateProjection(table schema.Table, columns []string) error {
	for _, name := range columns {
		if _, ok := table.Column(name); !ok {
			return dberr.New(dberr.InvalidColumn, "table %q has no column %q", table.Name, name)
		}
	}
	return nil
}
