package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"partner_sync/internal/domain/geiq"
	"partner_sync/internal/eligibility"
	"partner_sync/internal/reconcile"
)

// GeiqSync copies the employees, contracts and pre-qualifications of an assessment
// and computes the employees' support days and eligibility.
type GeiqSync struct {
	source geiq.Source
	tables TableProvider
	scorer *eligibility.Scorer
	runner runner
}

func NewGeiqSync(source geiq.Source, tables TableProvider, rules *eligibility.RuleTable, opts Options) *GeiqSync {
	opts = opts.withDefaults()
	return &GeiqSync{
		source: source,
		tables: tables,
		scorer: eligibility.NewScorer(rules, opts.Logger.WithField("job", JobGEIQ)),
		runner: runner{job: JobGEIQ, opts: opts},
	}
}

// Run syncs employees first so that contracts and pre-qualifications only reference
// known employees. Only contracts are deleted when the partner drops them.
func (s *GeiqSync) Run(ctx context.Context, a geiq.Assessment) ([]reconcile.Result, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return s.runner.run(ctx, func(ctx context.Context, logger logrus.FieldLogger) ([]reconcile.Result, error) {
		logger = logger.WithFields(logrus.Fields{"assessment_id": a.ID, "campaign_year": a.CampaignYear})

		employees, err := s.source.Employees(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("fetch employees: %w", err)
		}
		contractRecords, err := s.source.Contracts(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("fetch contracts: %w", err)
		}
		prequalRecords, err := s.source.Prequalifications(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("fetch pre-qualifications: %w", err)
		}

		contracts, invalid := geiq.ParseContracts(contractRecords)
		logInvalid(logger, geiq.TableContract, invalid)
		prequals, invalid := geiq.ParsePrequalifications(prequalRecords)
		logInvalid(logger, geiq.TablePrequalification, invalid)

		aggregates := geiq.Aggregates(a, employees, contracts, prequals, s.scorer)
		employeeTable := geiq.EmployeeTable(aggregates)

		results := make([]reconcile.Result, 0, 3)
		res, err := s.reconcileTable(ctx, logger, a, employeeTable, false, employees)
		if err != nil {
			return results, err
		}
		results = append(results, res)

		// Employees the mapper rejected have no row unless an earlier run stored one.
		stored, err := localKeys(ctx, s.tables, geiq.TableEmployee, a.Scope())
		if err != nil {
			return results, err
		}
		ids := union(employeeTable.Mappable(employees), stored)

		steps := []struct {
			table  geiq.Table
			delete bool
			source []reconcile.Record
		}{
			{geiq.ContractTable(a, ids, aggregates), true, contractRecords},
			{geiq.PrequalificationTable(ids), false, prequalRecords},
		}
		for _, step := range steps {
			res, err := s.reconcileTable(ctx, logger, a, step.table, step.delete, step.source)
			if err != nil {
				return results, err
			}
			results = append(results, res)
		}
		return results, nil
	})
}

func (s *GeiqSync) reconcileTable(ctx context.Context, logger logrus.FieldLogger, a geiq.Assessment,
	table geiq.Table, deleteRows bool, source []reconcile.Record) (reconcile.Result, error) {
	return s.runner.reconcile(ctx, logger, s.tables, a.Scope(), table.Differ(), reconcile.Applier{
		Label:        table.Name,
		Map:          table.Mapper(),
		UpdateFields: table.Columns,
		Delete:       deleteRows,
	}, source)
}

// Invalid records stay in the collection: the mapper rejects them again, which keeps
// their existing rows from being deleted.
func logInvalid(logger logrus.FieldLogger, table string, errs []error) {
	for _, err := range errs {
		logger.WithFields(logrus.Fields{"table": table, "invalid_period": geiq.IsInvalidPeriod(err)}).WithError(err).
			Warn("record left out of support days")
	}
}
