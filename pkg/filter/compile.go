package filter

import (
	"fmt"
	"strings"

	"github.com/framewell/dbsvc/pkg/dberr"
	"github.com/framewell/dbsvc/pkg/rowcodec"
	"github.com/framewell/dbsvc/pkg/schema"
)

// Fragment is a compiled predicate: parameterized SQL free of embedded
// literals, plus the bound argument list. An empty SQL means no WHERE
// restriction.
type Fragment struct {
	SQL  string
	Args []any
}

// Compile lowers a spec for one table into a fragment. Placeholders are
// numbered from argOffset+1 so the fragment can follow earlier statement
// arguments (eg an UPDATE's SET list). Each column is validated against the
// descriptor and each value against the column's semantic type.
func Compile(table schema.Table, spec *Spec, argOffset int) (Fragment, error) {
	return CompileQualified(table, spec, argOffset, "")
}

// CompileQualified is Compile with every column reference prefixed by the
// given table qualifier, for predicates embedded in joined statements.
func CompileQualified(table schema.Table, spec *Spec, argOffset int, qualifier string) (Fragment, error) {
	if spec.Empty() {
		return Fragment{}, nil
	}
	c := &compiler{table: table, argOffset: argOffset, qualifier: qualifier}
	sql, err := c.spec(spec)
	if err != nil {
		return Fragment{}, err
	}
	return Fragment{SQL: sql, Args: c.args}, nil
}

type compiler struct {
	table     schema.Table
	argOffset int
	qualifier string
	args      []any
}

func (c *compiler) placeholder(value any) string {
	c.args = append(c.args, value)
	return fmt.Sprintf("$%d", c.argOffset+len(c.args))
}

func (c *compiler) spec(spec *Spec) (string, error) {
	if spec.Empty() {
		// Only reachable inside an "or" list; restricts nothing.
		return "TRUE", nil
	}

	conjuncts := make([]string, 0, len(spec.Groups)+1)
	for _, group := range spec.Groups {
		for _, clause := range group.Clauses {
			term, err := c.clause(group.Op, clause)
			if err != nil {
				return "", err
			}
			conjuncts = append(conjuncts, term)
		}
	}

	if len(spec.Or) > 0 {
		disjuncts := make([]string, 0, len(spec.Or))
		for _, sub := range spec.Or {
			term, err := c.spec(sub)
			if err != nil {
				return "", err
			}
			disjuncts = append(disjuncts, "("+term+")")
		}
		conjuncts = append(conjuncts, "("+strings.Join(disjuncts, " OR ")+")")
	}

	return strings.Join(conjuncts, " AND "), nil
}

func (c *compiler) clause(op Op, clause Clause) (string, error) {
	col, ok := c.table.Column(clause.Column)
	if !ok {
		return "", dberr.New(dberr.InvalidFilterColumn, "table %q has no column %q", c.table.Name, clause.Column)
	}

	quoted := fmt.Sprintf("%q", col.Name)
	if c.qualifier != "" {
		quoted = fmt.Sprintf("%q.%q", c.qualifier, col.Name)
	}

	if op.membership() {
		values := clause.Value.([]any) // guaranteed by Parse
		if len(values) == 0 {
			// An empty set: nothing is a member, everything is a non-member.
			if op == OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholders := make([]string, 0, len(values))
		for _, v := range values {
			coerced, err := rowcodec.Coerce(v, col)
			if err != nil {
				return "", dberr.Wrap(dberr.FilterTypeMismatch, err, "comparison %q on column %q", op, clause.Column)
			}
			placeholders = append(placeholders, c.placeholder(coerced))
		}
		return fmt.Sprintf("%s %s (%s)", quoted, op.sql(), strings.Join(placeholders, ", ")), nil
	}

	if clause.Value == nil {
		switch op {
		case OpEq:
			return quoted + " IS NULL", nil
		case OpNe:
			return quoted + " IS NOT NULL", nil
		default:
			return "", dberr.New(dberr.FilterTypeMismatch, "comparison %q does not accept null for column %q", op, clause.Column)
		}
	}

	value := clause.Value
	if op == OpLike || op == OpNotLike {
		// Pattern comparisons take a string regardless of column type.
		s, ok := value.(string)
		if !ok {
			return "", dberr.New(dberr.FilterTypeMismatch, "comparison %q expects a string pattern for column %q, got %T", op, clause.Column, value)
		}
		return fmt.Sprintf("%s::text %s %s", quoted, op.sql(), c.placeholder(s)), nil
	}

	coerced, err := rowcodec.Coerce(value, col)
	if err != nil {
		return "", dberr.Wrap(dberr.FilterTypeMismatch, err, "comparison %q on column %q", op, clause.Column)
	}
	return fmt.Sprintf("%s %s %s", quoted, op.sql(), c.placeholder(coerced)), nil
}
