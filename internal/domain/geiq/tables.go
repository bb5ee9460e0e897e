package geiq

import (
	"partner_sync/internal/reconcile"
)

// Table binds a local table to the way partner records are turned into its rows.
// Its differ compares exactly the values its mapper stores, so a second run over
// unchanged data is a no-op.
type Table struct {
	Name    string
	Columns []string
	values  func(reconcile.Record) (map[string]any, error)
}

// Differ compares every mapped column.
func (t Table) Differ() reconcile.Differ {
	compare := make([]reconcile.Comparison, 0, len(t.Columns))
	for _, col := range t.Columns {
		compare = append(compare, reconcile.Derived(t.column(col), col))
	}
	return reconcile.Differ{Label: t.Name, SourceKey: FieldID, Compare: compare}
}

func (t Table) Mapper() reconcile.Mapper {
	return func(r reconcile.Record) (reconcile.Entity, error) {
		values, err := t.values(r)
		if err != nil {
			return reconcile.Entity{}, err
		}
		return reconcile.Entity{Values: values}, nil
	}
}

// Mappable returns the keys of the records the table's mapper accepts.
func (t Table) Mappable(records []reconcile.Record) map[string]struct{} {
	keys := make(map[string]struct{}, len(records))
	for _, r := range records {
		k := r.Key(FieldID)
		if k == "" {
			continue
		}
		if _, err := t.values(r); err != nil {
			continue
		}
		keys[k] = struct{}{}
	}
	return keys
}

// column marks records the table cannot map, so they reach the mapper and are
// reported there.
func (t Table) column(col string) func(reconcile.Record) any {
	return func(r reconcile.Record) any {
		values, err := t.values(r)
		if err != nil {
			return reconcile.Unmappable{Err: err}
		}
		return values[col]
	}
}

// EmployeeTable maps employees with their aggregates. Employees missing from
// aggregates get zero support days and an empty tally.
func EmployeeTable(aggregates map[string]Aggregate) Table {
	return Table{
		Name: TableEmployee,
		Columns: []string{
			ColumnLastName, ColumnFirstName, ColumnBirthdate, ColumnStatuses, ColumnOtherData,
			ColumnSupportDays, ColumnAnnex1, ColumnAnnex2Level1, ColumnAnnex2Level2, ColumnAllowanceAmount,
		},
		values: func(r reconcile.Record) (map[string]any, error) {
			lastName, err := r.String(FieldLastName)
			if err != nil {
				return nil, err
			}
			firstName, err := r.OptionalString(FieldFirstName)
			if err != nil {
				return nil, err
			}
			statuses, err := r.Strings(FieldPriorityStatuses)
			if err != nil {
				return nil, err
			}
			if statuses == nil {
				statuses = []string{}
			}
			var birthdate any
			if d, ok, err := r.OptionalDate(FieldBirthdate); err != nil {
				return nil, err
			} else if ok {
				birthdate = d
			}
			agg := aggregates[r.Key(FieldID)]
			return map[string]any{
				ColumnLastName:        lastName,
				ColumnFirstName:       firstName,
				ColumnBirthdate:       birthdate,
				ColumnStatuses:        statuses,
				ColumnOtherData:       r.Residual(FieldID, FieldLastName, FieldFirstName, FieldBirthdate, FieldPriorityStatuses),
				ColumnSupportDays:     agg.SupportDays,
				ColumnAnnex1:          agg.Eligibility.Annex1,
				ColumnAnnex2Level1:    agg.Eligibility.Annex2Level1,
				ColumnAnnex2Level2:    agg.Eligibility.Annex2Level2,
				ColumnAllowanceAmount: agg.Eligibility.Allowance,
			}, nil
		},
	}
}

// ContractTable maps contracts of known employees. A contract requests the allowance
// when it overlaps the campaign year and its employee is entitled to one.
func ContractTable(a Assessment, employees map[string]struct{}, aggregates map[string]Aggregate) Table {
	return Table{
		Name: TableContract,
		Columns: []string{
			ColumnEmployeeLabelID, ColumnStartAt, ColumnPlannedEndAt, ColumnEndAt,
			ColumnWeeklyHours, ColumnAllowanceRequested, ColumnOtherData,
		},
		values: func(r reconcile.Record) (map[string]any, error) {
			c, err := ParseContract(r)
			if err != nil {
				return nil, err
			}
			if _, ok := employees[c.EmployeeID]; !ok {
				return nil, unknownEmployee(c.EmployeeID)
			}
			var end, hours any
			if !c.End.IsZero() {
				end = c.End
			}
			if r.Has(FieldWeeklyHours) {
				h, err := r.Float(FieldWeeklyHours)
				if err != nil {
					return nil, err
				}
				hours = h
			}
			p, _ := c.Period()
			return map[string]any{
				ColumnEmployeeLabelID:    c.EmployeeID,
				ColumnStartAt:            c.Start,
				ColumnPlannedEndAt:       c.PlannedEnd,
				ColumnEndAt:              end,
				ColumnWeeklyHours:        hours,
				ColumnAllowanceRequested: overlapsYear(p, a.CampaignYear) && aggregates[c.EmployeeID].Eligibility.Allowance > 0,
				ColumnOtherData: r.Residual(FieldID, FieldEmployeeID, FieldStartDate,
					FieldPlannedEndDate, FieldEndDate, FieldWeeklyHours),
			}, nil
		},
	}
}

func PrequalificationTable(employees map[string]struct{}) Table {
	return Table{
		Name:    TablePrequalification,
		Columns: []string{ColumnEmployeeLabelID, ColumnStartAt, ColumnEndAt, ColumnOtherData},
		values: func(r reconcile.Record) (map[string]any, error) {
			q, err := ParsePrequalification(r)
			if err != nil {
				return nil, err
			}
			if _, ok := employees[q.EmployeeID]; !ok {
				return nil, unknownEmployee(q.EmployeeID)
			}
			return map[string]any{
				ColumnEmployeeLabelID: q.EmployeeID,
				ColumnStartAt:         q.Start,
				ColumnEndAt:           q.End,
				ColumnOtherData:       r.Residual(FieldID, FieldEmployeeID, FieldStartDate, FieldEndDate),
			}, nil
		},
	}
}
