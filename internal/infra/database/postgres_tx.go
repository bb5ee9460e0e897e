package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"partner_sync/internal/reconcile"
)

const defaultSyncTxTimeout = 2 * time.Minute

type postgresSyncTx struct {
	db      *sql.DB
	spec    TableSpec
	scope   tableScope
	timeout time.Duration
}

// RunInTx commits when fn returns nil and rolls back otherwise. Without a caller
// deadline the transaction is bounded by the registry timeout.
func (t *postgresSyncTx) RunInTx(ctx context.Context, fn func(store reconcile.Store) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultSyncTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", t.spec.Name, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&postgresSyncStore{tx: tx, spec: t.spec, scope: t.scope}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", t.spec.Name, err)
	}
	return nil
}
