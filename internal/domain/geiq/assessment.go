// Package geiq maps GEIQ employee, contract and pre-qualification data from the
// partner label API onto assessment tables, and computes the per-employee funding
// aggregates (support days and eligibility).
package geiq

import (
	"context"
	"fmt"

	"partner_sync/internal/reconcile"
)

// Local tables.
const (
	TableEmployee         = "geiq_employee"
	TableContract         = "geiq_employee_contract"
	TablePrequalification = "geiq_employee_prequalification"
)

// ScopeColumn ties every synced row to its assessment.
const ScopeColumn = "assessment_id"

// Assessment is the funding request a sync run feeds: one campaign year for a set
// of GEIQ antennas.
type Assessment struct {
	ID           int64
	CampaignYear int
	AntennaIDs   []int
}

func (a Assessment) Validate() error {
	if a.ID <= 0 {
		return fmt.Errorf("assessment id must be positive, got %d", a.ID)
	}
	if a.CampaignYear < 2000 || a.CampaignYear > 9999 {
		return fmt.Errorf("invalid campaign year %d", a.CampaignYear)
	}
	if len(a.AntennaIDs) == 0 {
		return fmt.Errorf("assessment %d has no antenna", a.ID)
	}
	return nil
}

// Scope restricts local tables to the assessment's rows.
func (a Assessment) Scope() map[string]any {
	return map[string]any{ScopeColumn: a.ID}
}

// Source fetches the GEIQ collections of an assessment from the label API.
type Source interface {
	Employees(ctx context.Context, a Assessment) ([]reconcile.Record, error)
	Contracts(ctx context.Context, a Assessment) ([]reconcile.Record, error)
	Prequalifications(ctx context.Context, a Assessment) ([]reconcile.Record, error)
}
