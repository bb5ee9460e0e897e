// Package reconciletest provides an in-memory reconcile.Store for tests.
package reconciletest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"partner_sync/internal/reconcile"
)

// ErrDuplicateKey is returned by MemoryTable when a created row reuses an existing key.
var ErrDuplicateKey = errors.New("duplicate key")

// MemoryTable is an in-memory reconcile.Transactor. Transactions work on a private
// copy and replay their writes on commit; row locks are shared between transactions
// so skip-locked behaviour can be exercised without a database.
type MemoryTable struct {
	mu       sync.Mutex
	keyField string
	rows     map[string]reconcile.Entity
	nextID   int64
	nextTx   int64
	locks    map[string]int64
	failures map[string]error
}

// NewMemoryTable returns an empty table whose natural key column is keyField.
func NewMemoryTable(keyField string) *MemoryTable {
	return &MemoryTable{
		keyField: keyField,
		rows:     make(map[string]reconcile.Entity),
		locks:    make(map[string]int64),
		failures: make(map[string]error),
	}
}

// Seed inserts rows directly, assigning IDs to rows that have none.
func (t *MemoryTable) Seed(entities ...reconcile.Entity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entities {
		e = e.Clone()
		if e.Values == nil {
			e.Values = map[string]any{}
		}
		if e.ID == 0 {
			t.nextID++
			e.ID = t.nextID
		} else if e.ID > t.nextID {
			t.nextID = e.ID
		}
		e.Values[t.keyField] = e.Key
		t.rows[e.Key] = e
	}
}

// Rows returns every committed row, sorted by key.
func (t *MemoryTable) Rows() []reconcile.Entity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedRows(t.rows, nil)
}

// Get returns the committed row for key.
func (t *MemoryTable) Get(key string) (reconcile.Entity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.rows[key]
	return e.Clone(), ok
}

// Hold locks keys on behalf of another run until release is called.
func (t *MemoryTable) Hold(keys ...string) (release func()) {
	t.mu.Lock()
	t.nextTx++
	owner := t.nextTx
	for _, k := range keys {
		if _, taken := t.locks[k]; !taken {
			t.locks[k] = owner
		}
	}
	t.mu.Unlock()
	return func() { t.release(owner) }
}

// FailOn makes the next transactional operation named op ("list", "lock", "create",
// "update", "delete" or "commit") fail with err.
func (t *MemoryTable) FailOn(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[op] = err
}

func (t *MemoryTable) KeyField() string { return t.keyField }

// List reads committed rows outside any transaction.
func (t *MemoryTable) List(ctx context.Context, fields []string) ([]reconcile.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedRows(t.rows, fields), nil
}

func (t *MemoryTable) RunInTx(ctx context.Context, fn func(store reconcile.Store) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	t.mu.Lock()
	t.nextTx++
	tx := &memoryTx{table: t, id: t.nextTx, rows: cloneRows(t.rows)}
	t.mu.Unlock()
	defer t.release(tx.id)

	if err := fn(tx); err != nil {
		return err
	}
	return t.commit(tx)
}

func (t *MemoryTable) commit(tx *memoryTx) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.takeFailure("commit"); err != nil {
		return err
	}
	next := cloneRows(t.rows)
	for _, op := range tx.journal {
		if err := op(next); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	t.rows = next
	return nil
}

func (t *MemoryTable) release(owner int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, o := range t.locks {
		if o == owner {
			delete(t.locks, k)
		}
	}
}

// takeFailure must be called with mu held.
func (t *MemoryTable) takeFailure(op string) error {
	err, ok := t.failures[op]
	if !ok {
		return nil
	}
	delete(t.failures, op)
	return err
}

type memoryTx struct {
	table   *MemoryTable
	id      int64
	rows    map[string]reconcile.Entity
	journal []func(rows map[string]reconcile.Entity) error
}

func (tx *memoryTx) KeyField() string { return tx.table.keyField }

func (tx *memoryTx) fail(op string) error {
	tx.table.mu.Lock()
	defer tx.table.mu.Unlock()
	return tx.table.takeFailure(op)
}

func (tx *memoryTx) List(ctx context.Context, fields []string) ([]reconcile.Entity, error) {
	if err := tx.fail("list"); err != nil {
		return nil, err
	}
	return sortedRows(tx.rows, fields), ctx.Err()
}

func (tx *memoryTx) LockForUpdate(ctx context.Context, fields []string) ([]reconcile.Entity, error) {
	if err := tx.fail("lock"); err != nil {
		return nil, err
	}
	t := tx.table
	t.mu.Lock()
	defer t.mu.Unlock()

	locked := make(map[string]reconcile.Entity, len(tx.rows))
	for k, e := range tx.rows {
		if owner, taken := t.locks[k]; taken && owner != tx.id {
			continue
		}
		t.locks[k] = tx.id
		locked[k] = e
	}
	return sortedRows(locked, fields), ctx.Err()
}

func (tx *memoryTx) BulkCreate(_ context.Context, entities []reconcile.Entity) error {
	if err := tx.fail("create"); err != nil {
		return err
	}
	created := make([]reconcile.Entity, 0, len(entities))
	for _, e := range entities {
		if _, exists := tx.rows[e.Key]; exists {
			return fmt.Errorf("%w: %s=%s", ErrDuplicateKey, tx.table.keyField, e.Key)
		}
		e = e.Clone()
		if e.Values == nil {
			e.Values = map[string]any{}
		}
		e.Values[tx.table.keyField] = e.Key
		tx.table.mu.Lock()
		tx.table.nextID++
		e.ID = tx.table.nextID
		tx.table.mu.Unlock()
		tx.rows[e.Key] = e
		created = append(created, e)
	}
	tx.journal = append(tx.journal, func(rows map[string]reconcile.Entity) error {
		for _, e := range created {
			if _, exists := rows[e.Key]; exists {
				return fmt.Errorf("%w: %s=%s", ErrDuplicateKey, tx.table.keyField, e.Key)
			}
			rows[e.Key] = e.Clone()
		}
		return nil
	})
	return nil
}

func (tx *memoryTx) BulkUpdate(_ context.Context, entities []reconcile.Entity, fields []string) error {
	if err := tx.fail("update"); err != nil {
		return err
	}
	if err := reconcile.CheckUpdateFields(fields, tx.table.keyField); err != nil {
		return err
	}
	apply := func(rows map[string]reconcile.Entity) error {
		byID := make(map[int64]string, len(rows))
		for k, e := range rows {
			byID[e.ID] = k
		}
		for _, e := range entities {
			key, ok := byID[e.ID]
			if !ok {
				return fmt.Errorf("update %s: no row with id %d", tx.table.keyField, e.ID)
			}
			row := rows[key].Clone()
			for _, f := range fields {
				row.Values[f] = e.Values[f]
			}
			rows[key] = row
		}
		return nil
	}
	if err := apply(tx.rows); err != nil {
		return err
	}
	tx.journal = append(tx.journal, apply)
	return nil
}

func (tx *memoryTx) BulkDeleteByKeys(_ context.Context, keys []string) error {
	if err := tx.fail("delete"); err != nil {
		return err
	}
	keys = append([]string(nil), keys...)
	apply := func(rows map[string]reconcile.Entity) error {
		for _, k := range keys {
			delete(rows, k)
		}
		return nil
	}
	_ = apply(tx.rows)
	tx.journal = append(tx.journal, apply)
	return nil
}

func cloneRows(rows map[string]reconcile.Entity) map[string]reconcile.Entity {
	out := make(map[string]reconcile.Entity, len(rows))
	for k, e := range rows {
		out[k] = e.Clone()
	}
	return out
}

// sortedRows clones rows sorted by key; fields == nil projects no value.
func sortedRows(rows map[string]reconcile.Entity, fields []string) []reconcile.Entity {
	keys := make([]string, 0, len(rows))
	for k := range maps.Keys(rows) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]reconcile.Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, rows[k].Project(fields))
	}
	return out
}
