package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"partner_sync/internal/domain/referential"
	"partner_sync/internal/reconcile"
)

// ReferentialSync refreshes the job referential: ROME codes, then their appellations.
// Rows are never deleted, since local job descriptions point at them.
type ReferentialSync struct {
	source referential.Source
	tables TableProvider
	runner runner
}

func NewReferentialSync(source referential.Source, tables TableProvider, opts Options) *ReferentialSync {
	return &ReferentialSync{
		source: source,
		tables: tables,
		runner: runner{job: JobReferential, opts: opts.withDefaults()},
	}
}

// Run fetches both collections before writing anything, so a partner outage never
// leaves the referential half synced.
func (s *ReferentialSync) Run(ctx context.Context) ([]reconcile.Result, error) {
	return s.runner.run(ctx, func(ctx context.Context, logger logrus.FieldLogger) ([]reconcile.Result, error) {
		romes, err := s.source.RomeCodes(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch ROME codes: %w", err)
		}
		appellations, err := s.source.Appellations(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch appellations: %w", err)
		}

		romeRes, err := s.runner.reconcile(ctx, logger, s.tables, nil, referential.RomeDiffer(), reconcile.Applier{
			Label:        referential.TableRome,
			Map:          referential.MapRome,
			UpdateFields: []string{referential.ColumnName},
		}, romes)
		if err != nil {
			return nil, err
		}

		// Dry runs leave jobs_rome untouched, hence the partner codes on top of the stored ones.
		stored, err := localKeys(ctx, s.tables, referential.TableRome, nil)
		if err != nil {
			return []reconcile.Result{romeRes}, err
		}
		known := union(referential.Codes(romes), stored)

		appRes, err := s.runner.reconcile(ctx, logger, s.tables, nil, referential.AppellationDiffer(), reconcile.Applier{
			Label:        referential.TableAppellation,
			Map:          referential.AppellationMapper(known),
			UpdateFields: []string{referential.ColumnName, referential.ColumnRomeCode},
		}, appellations)
		if err != nil {
			return []reconcile.Result{romeRes}, err
		}
		return []reconcile.Result{romeRes, appRes}, nil
	})
}
