package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/sirupsen/logrus"
)

// ErrNoUpdateFields is returned when a diff has editions but the applier has no field to update.
var ErrNoUpdateFields = errors.New("no update fields configured")

// MappingError reports a partner record that cannot be turned into a local row.
// The record is skipped; the rest of the run proceeds.
type MappingError struct {
	Key string
	Err error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping record key=%s: %v", e.Key, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// Mapper builds the local row for a partner record, derived fields included.
// ID and Key are set by the applier.
type Mapper func(Record) (Entity, error)

// Applier turns a diff stream into create, update and delete batches.
type Applier struct {
	Label string
	Map   Mapper
	// UpdateFields restricts what an edition rewrites. Key columns are rejected.
	UpdateFields []string
	// Delete enables physical deletion of rows the partner no longer sends. Callers
	// whose rows are referenced by data the partner does not own leave it off; the
	// would-be deletions are then only counted in Result.Ignored.
	Delete bool
	// DryRun computes and logs the batches without writing.
	DryRun bool
	Logger logrus.FieldLogger
}

// Result counts what a run did, or would do in dry-run mode.
type Result struct {
	Label   string
	Created int
	Updated int
	Deleted int
	// Ignored counts deletions not executed because deletion is disabled.
	Ignored int
	// Skipped counts partner records dropped on a MappingError.
	Skipped int
	// Held counts keys left alone because another run holds their rows.
	Held   int
	DryRun bool
}

// Changed reports whether the run wrote, or would write, anything.
func (r Result) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

// Fields renders the result for structured logs.
func (r Result) Fields() logrus.Fields {
	return logrus.Fields{
		"label":   r.Label,
		"created": r.Created,
		"updated": r.Updated,
		"deleted": r.Deleted,
		"ignored": r.Ignored,
		"skipped": r.Skipped,
		"held":    r.Held,
		"dry_run": r.DryRun,
	}
}

func (r Result) String() string {
	return fmt.Sprintf("label=%s created=%d updated=%d deleted=%d", r.Label, r.Created, r.Updated, r.Deleted)
}

type batches struct {
	create []Entity
	update []Entity
	delete []string
}

// Apply consumes items once and writes the batches through store. It does not open
// a transaction; run it through a Transactor (see Reconciler) for all-or-nothing writes.
func (a Applier) Apply(ctx context.Context, store Store, items iter.Seq[Item]) (Result, error) {
	logger := a.logger()
	result := Result{Label: a.Label, DryRun: a.DryRun}

	if err := CheckUpdateFields(a.UpdateFields, store.KeyField()); err != nil {
		return result, err
	}

	b, skipped := a.plan(items, logger)
	result.Skipped = skipped

	if len(b.update) > 0 && len(a.UpdateFields) == 0 {
		return result, fmt.Errorf("%s: %w", a.Label, ErrNoUpdateFields)
	}

	result.Created = len(b.create)
	result.Updated = len(b.update)
	if a.Delete {
		result.Deleted = len(b.delete)
	} else {
		result.Ignored = len(b.delete)
	}

	if a.DryRun {
		logger.WithFields(result.Fields()).Info("dry run, nothing written")
		return result, nil
	}

	if len(b.create) > 0 {
		if err := store.BulkCreate(ctx, b.create); err != nil {
			return Result{Label: a.Label}, fmt.Errorf("%w: create %s: %w", ErrStorage, a.Label, err)
		}
	}
	if len(b.update) > 0 {
		if err := store.BulkUpdate(ctx, b.update, a.UpdateFields); err != nil {
			return Result{Label: a.Label}, fmt.Errorf("%w: update %s: %w", ErrStorage, a.Label, err)
		}
	}
	if len(b.delete) > 0 {
		if a.Delete {
			if err := store.BulkDeleteByKeys(ctx, b.delete); err != nil {
				return Result{Label: a.Label}, fmt.Errorf("%w: delete %s: %w", ErrStorage, a.Label, err)
			}
		} else {
			logger.WithFields(logrus.Fields{"label": a.Label, "count": len(b.delete)}).
				Info("deletion disabled, keeping rows removed by partner")
		}
	}

	logger.WithFields(result.Fields()).Info("sync applied")
	return result, nil
}

func (a Applier) plan(items iter.Seq[Item], logger logrus.FieldLogger) (batches, int) {
	var b batches
	skipped := 0
	// One edition item is emitted per changed field; the row is updated once.
	edited := make(map[string]struct{})

	for item := range items {
		switch item.Kind {
		case KindSummary:
			logger.WithFields(logrus.Fields{"label": a.Label, "category": item.Category, "count": item.Count}).Info(item.Label)
		case KindAddition:
			logger.Debug(item.Label)
			e, err := a.mapItem(item)
			if err != nil {
				skipped++
				a.logMappingError(logger, err)
				continue
			}
			b.create = append(b.create, e)
		case KindEdition:
			logger.Debug(item.Label)
			if _, done := edited[item.Key]; done {
				continue
			}
			edited[item.Key] = struct{}{}
			e, err := a.mapItem(item)
			if err != nil {
				skipped++
				a.logMappingError(logger, err)
				continue
			}
			if item.Local != nil {
				e.ID = item.Local.ID
			}
			b.update = append(b.update, e)
		case KindDeletion:
			logger.Debug(item.Label)
			b.delete = append(b.delete, item.Key)
		}
	}
	return b, skipped
}

func (a Applier) mapItem(item Item) (Entity, error) {
	if item.Raw == nil {
		return Entity{}, &MappingError{Key: item.Key, Err: errors.New("item has no partner record")}
	}
	e, err := a.Map(*item.Raw)
	if err != nil {
		var me *MappingError
		if errors.As(err, &me) {
			return Entity{}, err
		}
		return Entity{}, &MappingError{Key: item.Key, Err: err}
	}
	e.Key = item.Key
	if e.Values == nil {
		e.Values = map[string]any{}
	}
	return e, nil
}

func (a Applier) logMappingError(logger logrus.FieldLogger, err error) {
	var me *MappingError
	key := ""
	if errors.As(err, &me) {
		key = me.Key
	}
	logger.WithFields(logrus.Fields{"label": a.Label, "key": key}).WithError(err).Warn("skipping unmappable partner record")
}

func (a Applier) logger() logrus.FieldLogger {
	if a.Logger != nil {
		return a.Logger
	}
	return Differ{}.logger()
}
