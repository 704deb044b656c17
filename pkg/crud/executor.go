// Package crud builds and executes statements against catalog-described
// tables. Every request is validated against the schema catalog before any
// SQL is compiled, and compiled before any store access happens; multi-row
// writes run inside a single transaction.
package crud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/framewell/dbsvc/pkg/dberr"
	"github.com/framewell/dbsvc/pkg/filter"
	"github.com/framewell/dbsvc/pkg/rowcodec"
	"github.com/framewell/dbsvc/pkg/schema"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// statement builders run standalone or inside a batch transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Executor runs CRUD operations for one catalog and pool. It holds no
// per-request state and is safe for concurrent use.
type Executor struct {
	pool    *pgxpool.Pool
	catalog *schema.Catalog
	logger  *zap.Logger
}

func New(pool *pgxpool.Pool, catalog *schema.Catalog, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{pool: pool, catalog: catalog, logger: logger}
}

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// ReadOptions carries the optional read modifiers: column projection,
// ordering, and pagination. The zero value reads all columns unordered.
type ReadOptions struct {
	Columns []string
	Order   []Order
	Limit   int
	Offset  int
}

// Create inserts the given rows into the table, all in one transaction.
// For association tables both foreign-key columns are required per row;
// for base tables every primary-key column without a store-side default is
// required. Returns the number of rows inserted.
func (e *Executor) Create(ctx context.Context, tableName string, rows []map[string]any) (int64, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	count, err := e.create(ctx, tx, tableName, rows)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storeErr(err)
	}
	return count, nil
}

func (e *Executor) create(ctx context.Context, q querier, tableName string, rows []map[string]any) (int64, error) {
	table, err := e.catalog.Describe(tableName)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, dberr.New(dberr.EmptyValues, "create on table %q requires at least one row", tableName)
	}

	keys := requiredKeys(table)
	if rel, ok := e.catalog.Relation(tableName); ok {
		keys = []string{rel.Left.Column, rel.Right.Column}
	}
	encoded := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if err := ValidateRow(table, row, keys); err != nil {
			return 0, err
		}
		enc, err := rowcodec.EncodeRow(row, table)
		if err != nil {
			return 0, dberr.Wrap(dberr.ValueTypeMismatch, err, "create on table %q", tableName)
		}
		encoded = append(encoded, enc)
	}

	return insertRows(ctx, q, table, encoded)
}

func insertRows(ctx context.Context, q querier, table schema.Table, rows []map[string]any) (int64, error) {
	var count int64
	for _, row := range rows {
		cols := sortedColumns(row)
		quoted := make([]string, 0, len(cols))
		placeholders := make([]string, 0, len(cols))
		args := make([]any, 0, len(cols))
		for i, name := range cols {
			quoted = append(quoted, fmt.Sprintf("%q", name))
			placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
			args = append(args, row[name])
		}
		sql := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
			table.Name, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

		tag, err := q.Exec(ctx, sql, args...)
		if err != nil {
			return 0, storeErr(err)
		}
		count += tag.RowsAffected()
	}
	return count, nil
}

// Read selects rows matching the filter. Reading an association table joins
// both base tables through it and labels columns "Table.column". Zero
// matches is not an error: the result is an empty sequence.
func (e *Executor) Read(ctx context.Context, tableName string, spec *filter.Spec, opts ReadOptions) ([]map[string]any, error) {
	table, err := e.catalog.Describe(tableName)
	if err != nil {
		return nil, err
	}
	if err := ValidateFilter(table, spec); err != nil {
		return nil, err
	}
	if rel, ok := e.catalog.Relation(tableName); ok {
		return e.readRelation(ctx, rel, table, spec, opts)
	}

	if err := validateProjection(table, opts.Columns); err != nil {
		return nil, err
	}
	frag, err := filter.Compile(table, spec, 0)
	if err != nil {
		return nil, err
	}

	var query strings.Builder
	query.WriteString("SELECT ")
	if len(opts.Columns) > 0 {
		quoted := make([]string, 0, len(opts.Columns))
		for _, name := range opts.Columns {
			quoted = append(quoted, fmt.Sprintf("%q", name))
		}
		query.WriteString(strings.Join(quoted, ", "))
	} else {
		query.WriteString("*")
	}
	fmt.Fprintf(&query, " FROM %q", table.Name)

	args := frag.Args
	if frag.SQL != "" {
		query.WriteString(" WHERE ")
		query.WriteString(frag.SQL)
	}
	if err := appendOrderBy(&query, table, opts.Order, ""); err != nil {
		return nil, err
	}
	args = appendPagination(&query, args, opts)

	return e.queryRows(ctx, query.String(), args)
}

func (e *Executor) readRelation(ctx context.Context, rel schema.Relation, joinTable schema.Table, spec *filter.Spec, opts ReadOptions) ([]map[string]any, error) {
	if len(opts.Columns) > 0 || len(opts.Order) > 0 {
		return nil, dberr.New(dberr.UnsupportedOperation, "projection and ordering are not supported on relation %q", rel.JoinTable)
	}
	left, err := e.catalog.Describe(rel.Left.Table)
	if err != nil {
		return nil, err
	}
	right, err := e.catalog.Describe(rel.Right.Table)
	if err != nil {
		return nil, err
	}
	// Filter columns name the join table's foreign keys; qualify them so
	// they never collide with base-table columns.
	frag, err := filter.CompileQualified(joinTable, spec, 0, rel.JoinTable)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(left.Columns)+len(right.Columns))
	for _, col := range left.Columns {
		labels = append(labels, fmt.Sprintf("%q.%q AS %q", left.Name, col.Name, left.Name+"."+col.Name))
	}
	for _, col := range right.Columns {
		labels = append(labels, fmt.Sprintf("%q.%q AS %q", right.Name, col.Name, right.Name+"."+col.Name))
	}

	var query strings.Builder
	fmt.Fprintf(&query, "SELECT %s FROM %q", strings.Join(labels, ", "), rel.JoinTable)
	fmt.Fprintf(&query, " JOIN %q ON %q.%q = %q.%q",
		left.Name, rel.JoinTable, rel.Left.Column, left.Name, rel.Left.Refers)
	fmt.Fprintf(&query, " JOIN %q ON %q.%q = %q.%q",
		right.Name, rel.JoinTable, rel.Right.Column, right.Name, rel.Right.Refers)

	args := frag.Args
	if frag.SQL != "" {
		query.WriteString(" WHERE ")
		query.WriteString(frag.SQL)
	}
	args = appendPagination(&query, args, opts)

	return e.queryRows(ctx, query.String(), args)
}

// Update overwrites the given columns on every row matching the filter and
// returns the affected count. An empty filter updates the whole table;
// that is the documented contract, not an accident. Associations carry no
// mutable attributes, so updating one is rejected.
func (e *Executor) Update(ctx context.Context, tableName string, spec *filter.Spec, values map[string]any) (int64, error) {
	return e.update(ctx, e.pool, tableName, spec, values)
}

func (e *Executor) update(ctx context.Context, q querier, tableName string, spec *filter.Spec, values map[string]any) (int64, error) {
	table, err := e.catalog.Describe(tableName)
	if err != nil {
		return 0, err
	}
	if _, ok := e.catalog.Relation(tableName); ok {
		return 0, dberr.New(dberr.UnsupportedOperation, "relation %q rows cannot be updated, only created or deleted", tableName)
	}
	if err := ValidateValues(table, values); err != nil {
		return 0, err
	}
	if err := ValidateFilter(table, spec); err != nil {
		return 0, err
	}
	encoded, err := rowcodec.EncodeRow(values, table)
	if err != nil {
		return 0, dberr.Wrap(dberr.ValueTypeMismatch, err, "update on table %q", tableName)
	}

	cols := sortedColumns(encoded)
	setClauses := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, name := range cols {
		setClauses = append(setClauses, fmt.Sprintf("%q = $%d", name, i+1))
		args = append(args, encoded[name])
	}

	frag, err := filter.Compile(table, spec, len(args))
	if err != nil {
		return 0, err
	}
	args = append(args, frag.Args...)

	sql := fmt.Sprintf("UPDATE %q SET %s", table.Name, strings.Join(setClauses, ", "))
	if frag.SQL != "" {
		sql += " WHERE " + frag.SQL
	}

	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, storeErr(err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes every row matching the filter and returns the affected
// count. An empty filter deletes all rows of the table; callers own that
// hazard. Deleting from an association table removes only the association
// rows, never the related base rows.
func (e *Executor) Delete(ctx context.Context, tableName string, spec *filter.Spec) (int64, error) {
	return e.delete(ctx, e.pool, tableName, spec)
}

func (e *Executor) delete(ctx context.Context, q querier, tableName string, spec *filter.Spec) (int64, error) {
	table, err := e.catalog.Describe(tableName)
	if err != nil {
		return 0, err
	}
	if err := ValidateFilter(table, spec); err != nil {
		return 0, err
	}
	frag, err := filter.Compile(table, spec, 0)
	if err != nil {
		return 0, err
	}

	sql := fmt.Sprintf("DELETE FROM %q", table.Name)
	if frag.SQL != "" {
		sql += " WHERE " + frag.SQL
	}

	tag, err := q.Exec(ctx, sql, frag.Args...)
	if err != nil {
		return 0, storeErr(err)
	}
	return tag.RowsAffected(), nil
}

func (e *Executor) queryRows(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	e.logger.Debug("executing query", zap.String("sql", sql))
	rows, err := e.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	result, err := rowcodec.DecodeRows(rows)
	if err != nil {
		return nil, storeErr(err)
	}
	return result, nil
}

func appendOrderBy(query *strings.Builder, table schema.Table, order []Order, qualifier string) error {
	if len(order) == 0 {
		return nil
	}
	terms := make([]string, 0, len(order))
	for _, o := range order {
		if _, ok := table.Column(o.Column); !ok {
			return dberr.New(dberr.InvalidColumn, "table %q has no column %q", table.Name, o.Column)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		if qualifier != "" {
			terms = append(terms, fmt.Sprintf("%q.%q %s", qualifier, o.Column, dir))
		} else {
			terms = append(terms, fmt.Sprintf("%q %s", o.Column, dir))
		}
	}
	query.WriteString(" ORDER BY ")
	query.WriteString(strings.Join(terms, ", "))
	return nil
}

func appendPagination(query *strings.Builder, args []any, opts ReadOptions) []any {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(query, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(query, " OFFSET $%d", len(args))
	}
	return args
}

func sortedColumns(row map[string]any) []string {
	cols := make([]string, 0, len(row))
	for name := range row {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}

// storeErr maps driver errors onto the gateway taxonomy. Unique-constraint
// violations become duplicate_key; connection-class failures become
// store_unavailable; everything else is surfaced as-is.
func storeErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return dberr.Wrap(dberr.DuplicateKey, err, "duplicate key value")
		case strings.HasPrefix(pgErr.Code, "08"):
			return dberr.Wrap(dberr.StoreUnavailable, err, "store connection failure")
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Failures without a SQLSTATE are dial or socket level problems.
	return dberr.Wrap(dberr.StoreUnavailable, err, "store unavailable")
}
