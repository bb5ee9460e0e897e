package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Reconciler runs a complete sync of one local table: lock, diff and apply in a
// single transaction.
type Reconciler struct {
	Tx      Transactor
	Differ  Differ
	Applier Applier
	Logger  logrus.FieldLogger
}

// Run reconciles the scoped local rows with source.
//
// Rows are locked with skip-locked semantics before they are compared. Keys whose
// rows are held by another in-flight run are left out of this run entirely, on both
// sides, and picked up by the next one. Any storage error rolls back everything.
func (r Reconciler) Run(ctx context.Context, source []Record) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = r.Applier.logger()
	}

	var result Result
	err := r.Tx.RunInTx(ctx, func(store Store) error {
		all, err := store.List(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: list %s: %w", ErrStorage, r.Differ.Label, err)
		}
		locked, err := store.LockForUpdate(ctx, r.Differ.LocalFields())
		if err != nil {
			return fmt.Errorf("%w: lock %s: %w", ErrStorage, r.Differ.Label, err)
		}

		held := heldKeys(all, locked)
		if len(held) > 0 {
			logger.WithFields(logrus.Fields{"label": r.Differ.Label, "count": len(held)}).
				Warn("rows locked by another sync run, leaving them for the next run")
			source = withoutKeys(source, r.Differ.SourceKey, held)
		}

		res, err := r.Applier.Apply(ctx, store, r.Differ.Compute(source, locked))
		if err != nil {
			return err
		}
		res.Held = len(held)
		result = res
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrStorage) && !errors.Is(err, ErrNoUpdateFields) && !errors.Is(err, ErrProtectedField) {
			err = fmt.Errorf("%w: %w", ErrStorage, err)
		}
		return Result{Label: r.Applier.Label, DryRun: r.Applier.DryRun}, err
	}
	return result, nil
}

func heldKeys(all, locked []Entity) map[string]struct{} {
	mine := make(map[string]struct{}, len(locked))
	for _, e := range locked {
		mine[e.Key] = struct{}{}
	}
	held := make(map[string]struct{})
	for _, e := range all {
		if _, ok := mine[e.Key]; !ok {
			held[e.Key] = struct{}{}
		}
	}
	return held
}

func withoutKeys(source []Record, keyField string, keys map[string]struct{}) []Record {
	out := make([]Record, 0, len(source))
	for _, r := range source {
		if _, skip := keys[r.Key(keyField)]; skip {
			continue
		}
		out = append(out, r)
	}
	return out
}
