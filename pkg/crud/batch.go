package crud

import (
	"context"

	"github.com/framewell/dbsvc/pkg/dberr"
	"github.com/framewell/dbsvc/pkg/filter"
)

// Operation is the request kind derived from the HTTP verb.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Command is one step of a batch: a single CUD operation with its
// already-parsed payload.
type Command struct {
	Op     Operation
	Table  string
	Rows   []map[string]any // create
	Values map[string]any   // update
	Filter *filter.Spec     // update, delete
}

// Batch executes multiple create/update/delete commands in one transaction:
// either every command succeeds or no change is made. Read commands are
// rejected; a read has no place in an atomic write set. Returns the
// affected-row count of each command in order.
func (e *Executor) Batch(ctx context.Context, cmds []Command) ([]int64, error) {
	if len(cmds) == 0 {
		return nil, dberr.New(dberr.EmptyValues, "batch requires at least one command")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	results := make([]int64, 0, len(cmds))
	for _, cmd := range cmds {
		var count int64
		switch cmd.Op {
		case OpCreate:
			count, err = e.create(ctx, tx, cmd.Table, cmd.Rows)
		case OpUpdate:
			count, err = e.update(ctx, tx, cmd.Table, cmd.Filter, cmd.Values)
		case OpDelete:
			count, err = e.delete(ctx, tx, cmd.Table, cmd.Filter)
		case OpRead:
			err = dberr.New(dberr.UnsupportedOperation, "read commands are not supported in a batch")
		default:
			err = dberr.New(dberr.UnsupportedOperation, "unknown batch command %q", cmd.Op)
		}
		if err != nil {
			return nil, err
		}
		results = append(results, count)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr(err)
	}
	return results, nil
}
