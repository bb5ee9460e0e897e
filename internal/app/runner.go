package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"partner_sync/internal/reconcile"
)

// Job names, as used in logs and metrics.
const (
	JobReferential = "referential"
	JobGEIQ        = "geiq"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeDryRun  = "dry_run"
	OutcomeFailure = "failure"
)

// TableProvider opens the transactional store of a local table, restricted to scope.
// A nil scope means the whole table.
type TableProvider interface {
	Transactor(table string, scope map[string]any) (reconcile.Transactor, error)
}

// MetricsRecorder receives the outcome of every run.
type MetricsRecorder interface {
	ObserveResult(job string, res reconcile.Result)
	ObserveRun(job, outcome string, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveResult(string, reconcile.Result) {}
func (nopMetrics) ObserveRun(string, string, time.Duration) {}

// Options are shared by the sync services.
type Options struct {
	// WetRun writes to the database. Runs are dry by default.
	WetRun  bool
	Logger  logrus.FieldLogger
	Metrics MetricsRecorder
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// runner wraps one job execution with its run id, timing and metrics.
type runner struct {
	job  string
	opts Options
}

func (r runner) run(ctx context.Context, fn func(ctx context.Context, logger logrus.FieldLogger) ([]reconcile.Result, error)) ([]reconcile.Result, error) {
	logger := r.opts.Logger.WithFields(logrus.Fields{
		"job":     r.job,
		"run_id":  uuid.NewString(),
		"wet_run": r.opts.WetRun,
	})
	start := r.opts.Now()
	logger.Info("sync started")

	results, err := fn(ctx, logger)
	for _, res := range results {
		r.opts.Metrics.ObserveResult(r.job, res)
	}

	elapsed := r.opts.Now().Sub(start)
	outcome := OutcomeSuccess
	switch {
	case err != nil:
		outcome = OutcomeFailure
	case !r.opts.WetRun:
		outcome = OutcomeDryRun
	}
	r.opts.Metrics.ObserveRun(r.job, outcome, elapsed)

	if err != nil {
		logger.WithError(err).WithField("elapsed", elapsed).Error("sync failed")
		return results, err
	}
	logger.WithFields(logrus.Fields{"elapsed": elapsed, "tables": len(results)}).Info("sync finished")
	return results, nil
}

// reconcile runs one table sync inside its own transaction.
func (r runner) reconcile(ctx context.Context, logger logrus.FieldLogger, tables TableProvider, scope map[string]any,
	differ reconcile.Differ, applier reconcile.Applier, source []reconcile.Record) (reconcile.Result, error) {
	tx, err := tables.Transactor(differ.Label, scope)
	if err != nil {
		return reconcile.Result{Label: differ.Label}, err
	}
	logger = logger.WithField("table", differ.Label)
	differ.Logger = logger
	applier.Logger = logger
	applier.DryRun = !r.opts.WetRun

	return reconcile.Reconciler{Tx: tx, Differ: differ, Applier: applier, Logger: logger}.Run(ctx, source)
}

// localKeys reads the natural keys already stored in a table.
func localKeys(ctx context.Context, tables TableProvider, table string, scope map[string]any) (map[string]struct{}, error) {
	tx, err := tables.Transactor(table, scope)
	if err != nil {
		return nil, err
	}
	keys := map[string]struct{}{}
	err = tx.RunInTx(ctx, func(store reconcile.Store) error {
		rows, err := store.List(ctx, nil)
		if err != nil {
			return err
		}
		for _, row := range rows {
			keys[row.Key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s keys: %w", table, err)
	}
	return keys, nil
}

// union adds the keys of from into into.
func union(into, from map[string]struct{}) map[string]struct{} {
	for k := range from {
		into[k] = struct{}{}
	}
	return into
}
