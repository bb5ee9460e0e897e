package geiq

import (
	"partner_sync/internal/eligibility"
	"partner_sync/internal/interval"
	"partner_sync/internal/reconcile"
)

// Aggregate holds the funding figures computed for one employee.
type Aggregate struct {
	SupportDays int
	Eligibility eligibility.Tally
}

// Aggregates computes, per employee label id, the days of the campaign year covered
// by the union of the employee's contracts and pre-qualifications, then scores the
// employee's priority statuses. Employees whose statuses cannot be read are left out.
func Aggregates(a Assessment, employees []reconcile.Record, contracts []Contract, prequals []Prequalification, scorer *eligibility.Scorer) map[string]Aggregate {
	periods := make(map[string][]interval.Period)
	for _, c := range contracts {
		if p, err := c.Period(); err == nil {
			periods[c.EmployeeID] = append(periods[c.EmployeeID], p)
		}
	}
	for _, q := range prequals {
		if p, err := q.Period(); err == nil {
			periods[q.EmployeeID] = append(periods[q.EmployeeID], p)
		}
	}

	out := make(map[string]Aggregate, len(employees))
	for _, r := range employees {
		key := r.Key(FieldID)
		if key == "" {
			continue
		}
		statuses, err := r.Strings(FieldPriorityStatuses)
		if err != nil {
			continue
		}
		days, err := interval.TotalDaysInYear(periods[key], a.CampaignYear)
		if err != nil {
			continue
		}
		out[key] = Aggregate{SupportDays: days, Eligibility: scorer.Score(statuses, days)}
	}
	return out
}
