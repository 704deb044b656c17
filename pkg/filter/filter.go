// Package filter translates declarative JSON filter specifications into
// parameterized SQL predicates. A spec has the shape
//
//	{"eq": {"id": 1}, "in": {"name": ["a", "b"]}, "or": [{...}, {...}]}
//
// Comparison groups and the columns within them combine with AND; entries
// under "or" combine with OR. Values never reach the SQL text: every literal
// becomes a positional bound argument.
package filter

import (
	"sort"

	"github.com/framewell/dbsvc/pkg/dberr"
)

// Op is the closed set of supported comparison operators. Adding one means
// extending the switches in sql() and accepts(), checked at compile time.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpIn
	OpNotIn
	OpLike
	OpNotLike
	OpLt
	OpLe
	OpGt
	OpGe
)

var opNames = map[string]Op{
	"eq":     OpEq,
	"ne":     OpNe,
	"in":     OpIn,
	"not_in": OpNotIn,
	"like":   OpLike,
	"unlike": OpNotLike,
	"lt":     OpLt,
	"le":     OpLe,
	"gt":     OpGt,
	"ge":     OpGe,
}

// orKey combines sub-specs disjunctively and is not a comparison operator.
const orKey = "or"

func (op Op) String() string {
	for name, o := range opNames {
		if o == op {
			return name
		}
	}
	return "unknown"
}

// membership reports whether the operator takes a sequence of values.
func (op Op) membership() bool {
	return op == OpIn || op == OpNotIn
}

// sql returns the SQL comparison token for the operator.
func (op Op) sql() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpNotLike:
		return "NOT LIKE"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		panic("filter: unknown operator")
	}
}

// Clause is a single column comparison. Value holds []any for membership
// operators and a scalar otherwise.
type Clause struct {
	Column string
	Value  any
}

// Group is one comparison operator applied to one or more columns,
// combined conjunctively.
type Group struct {
	Op      Op
	Clauses []Clause
}

// Spec is the parsed predicate tree. An empty Spec matches all rows.
type Spec struct {
	Groups []Group
	Or     []*Spec
}

// Empty reports whether the spec places no restriction.
func (s *Spec) Empty() bool {
	return s == nil || (len(s.Groups) == 0 && len(s.Or) == 0)
}

// Parse validates the raw JSON form of a filter spec and builds the
// predicate tree. Column existence and value types are checked later at
// compile time against a table descriptor.
//
// Groups are ordered by operator and clauses by column name: JSON object
// order is not observable here, and all terms are conjunctive so ordering
// carries no meaning.
func Parse(raw map[string]any) (*Spec, error) {
	spec := &Spec{}
	if len(raw) == 0 {
		return spec, nil
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		// orKey sorts after all comparison groups
		oi, iok := opNames[keys[i]]
		oj, jok := opNames[keys[j]]
		if iok && jok {
			return oi < oj
		}
		return iok
	})

	for _, key := range keys {
		value := raw[key]
		if key == orKey {
			subs, ok := value.([]any)
			if !ok {
				return nil, dberr.New(dberr.InvalidFilter, "'or' requires a list of filters, got %T", value)
			}
			for _, sub := range subs {
				subRaw, ok := sub.(map[string]any)
				if !ok {
					return nil, dberr.New(dberr.InvalidFilter, "'or' entries must be filter objects, got %T", sub)
				}
				subSpec, err := Parse(subRaw)
				if err != nil {
					return nil, err
				}
				spec.Or = append(spec.Or, subSpec)
			}
			continue
		}

		op, ok := opNames[key]
		if !ok {
			return nil, dberr.New(dberr.InvalidFilter, "%q is not a valid comparison method", key)
		}
		colValues, ok := value.(map[string]any)
		if !ok {
			return nil, dberr.New(dberr.InvalidFilter, "%q requires an object of column/value pairs, got %T", key, value)
		}

		group := Group{Op: op}
		cols := make([]string, 0, len(colValues))
		for col := range colValues {
			cols = append(cols, col)
		}
		sort.Strings(cols)

		for _, col := range cols {
			val := colValues[col]
			if op.membership() {
				if _, ok := val.([]any); !ok {
					return nil, dberr.New(dberr.InvalidFilter, "%q requires a list of values for column %q, got %T", key, col, val)
				}
			} else {
				switch val.(type) {
				case []any, map[string]any:
					return nil, dberr.New(dberr.InvalidFilter, "%q got unexpected type %T for column %q", key, val, col)
				}
			}
			group.Clauses = append(group.Clauses, Clause{Column: col, Value: val})
		}
		spec.Groups = append(spec.Groups, group)
	}
	return spec, nil
}
