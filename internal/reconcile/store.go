package reconcile

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStorage wraps every storage failure of a sync run. The run's transaction is
	// rolled back, so the same sync can simply be retried.
	ErrStorage = errors.New("storage error")
	// ErrProtectedField is returned when an update field set names a key column.
	ErrProtectedField = errors.New("protected field in update set")
)

// Lister reads the local collection projected on fields. Every returned Entity has ID and Key set.
type Lister interface {
	List(ctx context.Context, fields []string) ([]Entity, error)
}

// Store is the storage port of one local table, bound to its natural key column
// and to the scope of rows a sync run owns.
type Store interface {
	Lister

	// KeyField is the natural key column matched against partner keys.
	KeyField() string
	BulkCreate(ctx context.Context, entities []Entity) error
	// BulkUpdate writes fields of entities matched by ID.
	BulkUpdate(ctx context.Context, entities []Entity, fields []string) error
	BulkDeleteByKeys(ctx context.Context, keys []string) error
	// LockForUpdate locks the scoped rows without waiting, skipping rows already
	// locked by another transaction, and returns the rows it locked.
	LockForUpdate(ctx context.Context, fields []string) ([]Entity, error)
}

// Transactor runs fn in a transaction: committed when fn returns nil, rolled back otherwise.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// CheckUpdateFields rejects update sets containing the primary key or a protected column.
func CheckUpdateFields(fields []string, protected ...string) error {
	for _, f := range fields {
		if f == IDField {
			return fmt.Errorf("%w: %s", ErrProtectedField, f)
		}
		for _, p := range protected {
			if f == p {
				return fmt.Errorf("%w: %s", ErrProtectedField, f)
			}
		}
	}
	return nil
}
