package schema

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/framewell/dbsvc/pkg/dberr"
)

const (
	// Reload follows PostgREST's notification convention:
	// NOTIFY dbsvc, 'reload schema'
	reloadChannel = "dbsvc"
	reloadPayload = "reload schema"
)

// Catalog caches table and relation descriptors for one PostgreSQL schema.
// It is safe for concurrent readers; reloads swap the maps under a lock.
type Catalog struct {
	pool       *pgxpool.Pool
	conn       *pgx.Conn // dedicated LISTEN connection
	schemaName string
	logger     *zap.Logger

	mu        sync.RWMutex
	tables    map[string]Table
	relations map[string][]Relation
	joins     map[string]Relation

	cancel context.CancelFunc
}

// NewCatalog builds a catalog over the given pool for one schema
// ("public" if empty). Call Init before serving requests.
func NewCatalog(pool *pgxpool.Pool, schemaName string, logger *zap.Logger) *Catalog {
	if schemaName == "" {
		schemaName = "public"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		pool:       pool,
		schemaName: schemaName,
		logger:     logger,
		tables:     make(map[string]Table),
	}
}

// Init performs the initial discovery and starts listening for reload
// notifications on a dedicated connection.
func (c *Catalog) Init(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.Reload(ctx); err != nil {
		cancel()
		return fmt.Errorf("initial load: %w", err)
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("pool.Acquire: %w", err)
	}
	c.conn = conn.Hijack()

	if _, err := c.conn.Exec(ctx, "LISTEN "+reloadChannel); err != nil {
		cancel()
		return fmt.Errorf("listen: %w", err)
	}

	go c.handleNotifications(ctx)
	return nil
}

func (c *Catalog) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.Close(context.Background())
	}
}

func (c *Catalog) handleNotifications(ctx context.Context) {
	for {
		notification, err := c.conn.WaitForNotification(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				c.logger.Warn("schema notification error", zap.Error(err))
				continue
			}
		}
		if notification.Payload == reloadPayload {
			if err := c.Reload(ctx); err != nil {
				c.logger.Error("schema reload failed", zap.Error(err))
			}
		}
	}
}

// Reload re-introspects the store and swaps in fresh descriptors.
func (c *Catalog) Reload(ctx context.Context) error {
	tables, err := loadTables(ctx, c.pool, c.schemaName)
	if err != nil {
		return err
	}
	relations, joins := detectRelations(tables)

	c.mu.Lock()
	c.tables = tables
	c.relations = relations
	c.joins = joins
	c.mu.Unlock()

	c.logger.Info("schema catalog loaded",
		zap.String("schema", c.schemaName),
		zap.Int("tables", len(tables)),
		zap.Int("relations", len(joins)))
	return nil
}

// Describe returns the descriptor for the named table.
func (c *Catalog) Describe(table string) (Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[table]
	if !ok {
		return Table{}, dberr.New(dberr.UnknownTable, "no table exists called %s", table)
	}
	return t, nil
}

// Relations lists the many-to-many associations involving the named base
// table.
func (c *Catalog) Relations(table string) []Relation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.relations[table]
}

// Relation reports whether the named table is a many-to-many join table and
// returns its descriptor.
func (c *Catalog) Relation(joinTable string) (Relation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rel, ok := c.joins[joinTable]
	return rel, ok
}

// Snapshot returns a copy of all table descriptors.
func (c *Catalog) Snapshot() map[string]Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]Table, len(c.tables))
	maps.Copy(snap, c.tables)
	return snap
}

func loadTables(ctx context.Context, pool *pgxpool.Pool, schemaName string) (map[string]Table, error) {
	rows, err := pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make(map[string]Table, len(names))
	for _, name := range names {
		t := Table{Name: name}

		cols, pkeys, err := queryColumns(ctx, pool, schemaName, name)
		if err != nil {
			return nil, fmt.Errorf("query columns %s.%s: %w", schemaName, name, err)
		}
		t.Columns = cols
		t.PrimaryKeys = pkeys

		fkeys, err := queryForeignKeys(ctx, pool, schemaName, name)
		if err != nil {
			return nil, fmt.Errorf("query foreign keys %s.%s: %w", schemaName, name, err)
		}
		t.ForeignKeys = fkeys

		tables[name] = t
	}
	return tables, nil
}

func queryColumns(ctx context.Context, pool *pgxpool.Pool, schemaName, table string) ([]Column, []string, error) {
	rows, err := pool.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			c.column_default IS NOT NULL OR c.is_identity = 'YES',
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schemaName, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var cols []Column
	var pkeys []string
	for rows.Next() {
		var col Column
		var dataType string
		if err := rows.Scan(&col.Name, &dataType, &col.Nullable, &col.HasDefault, &col.PrimaryKey); err != nil {
			return nil, nil, err
		}
		col.Type = colTypeOf(dataType)
		cols = append(cols, col)
		if col.PrimaryKey {
			pkeys = append(pkeys, col.Name)
		}
	}
	return cols, pkeys, rows.Err()
}

func queryForeignKeys(ctx context.Context, pool *pgxpool.Pool, schemaName, table string) ([]ForeignKey, error) {
	rows, err := pool.Query(ctx, `
		SELECT
			kcu.column_name,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2`, schemaName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fkeys []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, err
		}
		fkeys = append(fkeys, fk)
	}
	return fkeys, rows.Err()
}
