package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partner_sync/internal/domain/geiq"
	"partner_sync/internal/domain/referential"
	"partner_sync/internal/eligibility"
	"partner_sync/internal/reconcile"
	"partner_sync/internal/reconcile/reconciletest"
)

type memoryTables struct {
	tables map[string]*reconciletest.MemoryTable
}

func newMemoryTables() *memoryTables {
	return &memoryTables{tables: map[string]*reconciletest.MemoryTable{
		referential.TableRome:        reconciletest.NewMemoryTable(referential.ColumnCode),
		referential.TableAppellation: reconciletest.NewMemoryTable(referential.ColumnCode),
		geiq.TableEmployee:           reconciletest.NewMemoryTable(geiq.ColumnLabelID),
		geiq.TableContract:           reconciletest.NewMemoryTable(geiq.ColumnLabelID),
		geiq.TablePrequalification:   reconciletest.NewMemoryTable(geiq.ColumnLabelID),
	}}
}

func (m *memoryTables) Transactor(table string, _ map[string]any) (reconcile.Transactor, error) {
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %s", table)
	}
	return t, nil
}

func (m *memoryTables) keys(table string) []string {
	var keys []string
	for _, e := range m.tables[table].Rows() {
		keys = append(keys, e.Key)
	}
	return keys
}

type fakeReferential struct {
	romes, appellations []reconcile.Record
	err                 error
}

func (f *fakeReferential) RomeCodes(context.Context) ([]reconcile.Record, error) {
	return f.romes, nil
}

func (f *fakeReferential) Appellations(context.Context) ([]reconcile.Record, error) {
	return f.appellations, f.err
}

type fakeGeiq struct {
	employees, contracts, prequals []reconcile.Record
}

func (f *fakeGeiq) Employees(context.Context, geiq.Assessment) ([]reconcile.Record, error) {
	return f.employees, nil
}

func (f *fakeGeiq) Contracts(context.Context, geiq.Assessment) ([]reconcile.Record, error) {
	return f.contracts, nil
}

func (f *fakeGeiq) Prequalifications(context.Context, geiq.Assessment) ([]reconcile.Record, error) {
	return f.prequals, nil
}

type recordedRun struct {
	job, outcome string
	elapsed      time.Duration
}

type fakeMetrics struct {
	mu      sync.Mutex
	runs    []recordedRun
	results []reconcile.Result
}

func (f *fakeMetrics) ObserveResult(_ string, res reconcile.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
}

func (f *fakeMetrics) ObserveRun(job, outcome string, elapsed time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, recordedRun{job, outcome, elapsed})
}

// tickingClock advances one second per call.
func tickingClock() func() time.Time {
	now := time.Date(2024, time.June, 1, 3, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func rec(fields map[string]any) reconcile.Record { return reconcile.NewRecord(fields) }

func referentialSource() *fakeReferential {
	return &fakeReferential{
		romes: []reconcile.Record{
			rec(map[string]any{"code": "A1101", "libelle": "Conduite d'engins agricoles"}),
			rec(map[string]any{"code": "K2204", "libelle": " Nettoyage de locaux "}),
		},
		appellations: []reconcile.Record{
			rec(map[string]any{"code": "11987", "libelle": "Tractoriste", "code_rome": "A1101"}),
			rec(map[string]any{"code": "19850", "libelle": "Agent d'entretien", "code_rome": "K2204"}),
			rec(map[string]any{"code": "99999", "libelle": "Orphelin", "code_rome": "Z9999"}),
		},
	}
}

func TestReferentialSyncIsDryByDefault(t *testing.T) {
	tables := newMemoryTables()
	metrics := &fakeMetrics{}
	svc := NewReferentialSync(referentialSource(), tables, Options{Metrics: metrics, Now: tickingClock()})

	results, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].DryRun)
	assert.Equal(t, 2, results[0].Created)
	assert.Equal(t, 2, results[1].Created)
	assert.Equal(t, 1, results[1].Skipped)
	assert.Empty(t, tables.tables[referential.TableRome].Rows())

	require.Len(t, metrics.runs, 1)
	assert.Equal(t, recordedRun{JobReferential, OutcomeDryRun, time.Second}, metrics.runs[0])
	assert.Len(t, metrics.results, 2)
}

func TestReferentialSyncWetRun(t *testing.T) {
	tables := newMemoryTables()
	tables.tables[referential.TableRome].Seed(reconcile.Entity{Key: "Z0000", Values: map[string]any{"name": "Retired"}})
	svc := NewReferentialSync(referentialSource(), tables, Options{WetRun: true})

	results, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.Result{Label: referential.TableRome, Created: 2, Ignored: 1}, results[0])
	assert.Equal(t, []string{"A1101", "K2204", "Z0000"}, tables.keys(referential.TableRome))
	assert.Equal(t, []string{"11987", "19850"}, tables.keys(referential.TableAppellation))

	row, ok := tables.tables[referential.TableRome].Get("K2204")
	require.True(t, ok)
	assert.Equal(t, "Nettoyage de locaux", row.Values["name"])

	again, err := svc.Run(context.Background())
	require.NoError(t, err)
	for _, res := range again {
		assert.False(t, res.Changed(), "rerun must be a no-op, got %s", res)
	}
}

func TestReferentialSyncWritesNothingWhenAFetchFails(t *testing.T) {
	tables := newMemoryTables()
	src := referentialSource()
	src.err = errors.New("partner down")
	metrics := &fakeMetrics{}
	logger, hook := logtest.NewNullLogger()
	svc := NewReferentialSync(src, tables, Options{WetRun: true, Metrics: metrics, Logger: logger})

	_, err := svc.Run(context.Background())
	require.ErrorContains(t, err, "fetch appellations")
	assert.Empty(t, tables.tables[referential.TableRome].Rows())
	assert.Equal(t, OutcomeFailure, metrics.runs[0].outcome)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, JobReferential, hook.LastEntry().Data["job"])
	assert.NotEmpty(t, hook.LastEntry().Data["run_id"])
}

func TestReferentialSyncSkipsAppellationsOfRejectedRomeCodes(t *testing.T) {
	tables := newMemoryTables()
	tables.tables[referential.TableRome].Seed(reconcile.Entity{Key: "M1607", Values: map[string]any{"name": "Secrétariat"}})
	src := &fakeReferential{
		romes: []reconcile.Record{
			rec(map[string]any{"code": "A1101", "libelle": "Conduite d'engins agricoles"}),
			rec(map[string]any{"code": "B1801", "libelle": "  "}),
		},
		appellations: []reconcile.Record{
			rec(map[string]any{"code": "11987", "libelle": "Tractoriste", "code_rome": "A1101"}),
			rec(map[string]any{"code": "12001", "libelle": "Encadreur", "code_rome": "B1801"}),
			rec(map[string]any{"code": "38004", "libelle": "Secrétaire", "code_rome": "M1607"}),
		},
	}
	svc := NewReferentialSync(src, tables, Options{WetRun: true})

	results, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, reconcile.Result{Label: referential.TableRome, Created: 1, Skipped: 1, Ignored: 1}, results[0])
	assert.Equal(t, reconcile.Result{Label: referential.TableAppellation, Created: 2, Skipped: 1}, results[1])
	assert.Equal(t, []string{"A1101", "M1607"}, tables.keys(referential.TableRome))
	assert.Equal(t, []string{"11987", "38004"}, tables.keys(referential.TableAppellation))
}

func geiqSource() *fakeGeiq {
	return &fakeGeiq{
		employees: []reconcile.Record{
			rec(map[string]any{"id": float64(1), "nom": "Martin", "prenom": "Léa", "statuts_prioritaires": []any{"RSA"}}),
			rec(map[string]any{"id": float64(2), "nom": "Durand", "statuts_prioritaires": []any{"Jeune -26 ans"}}),
		},
		contracts: []reconcile.Record{
			rec(map[string]any{"id": float64(10), "salarie_id": float64(1), "date_debut": "2024-01-01",
				"date_fin_prevue": "2024-12-31", "date_fin": "2024-03-31"}),
			rec(map[string]any{"id": float64(11), "salarie_id": float64(2), "date_debut": "2024-05-01",
				"date_fin_prevue": "2024-04-01"}),
		},
		prequals: []reconcile.Record{
			rec(map[string]any{"id": float64(20), "salarie_id": float64(2), "date_debut": "2024-02-01", "date_fin": "2024-02-29"}),
		},
	}
}

func TestGeiqSync(t *testing.T) {
	tables := newMemoryTables()
	tables.tables[geiq.TableContract].Seed(
		reconcile.Entity{Key: "9", Values: map[string]any{geiq.ColumnEmployeeLabelID: "1"}},
		reconcile.Entity{Key: "11", Values: map[string]any{geiq.ColumnEmployeeLabelID: "2"}},
	)
	tables.tables[geiq.TableEmployee].Seed(reconcile.Entity{Key: "3", Values: map[string]any{geiq.ColumnLastName: "Gone"}})
	a := geiq.Assessment{ID: 4, CampaignYear: 2024, AntennaIDs: []int{1}}
	svc := NewGeiqSync(geiqSource(), tables, eligibility.DefaultRules(), Options{WetRun: true})

	results, err := svc.Run(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, reconcile.Result{Label: geiq.TableEmployee, Created: 2, Ignored: 1}, results[0])
	// Contract 11 has an invalid period: skipped, and kept rather than deleted.
	assert.Equal(t, reconcile.Result{Label: geiq.TableContract, Created: 1, Deleted: 1, Skipped: 1}, results[1])
	assert.Equal(t, []string{"10", "11"}, tables.keys(geiq.TableContract))
	assert.Equal(t, []string{"1", "2", "3"}, tables.keys(geiq.TableEmployee))

	martin, _ := tables.tables[geiq.TableEmployee].Get("1")
	assert.Equal(t, 91, martin.Values[geiq.ColumnSupportDays])
	assert.Equal(t, 1400, martin.Values[geiq.ColumnAllowanceAmount])
	durand, _ := tables.tables[geiq.TableEmployee].Get("2")
	assert.Equal(t, 29, durand.Values[geiq.ColumnSupportDays])
	assert.Equal(t, 814, durand.Values[geiq.ColumnAllowanceAmount])

	contract, _ := tables.tables[geiq.TableContract].Get("10")
	assert.Equal(t, true, contract.Values[geiq.ColumnAllowanceRequested])

	again, err := svc.Run(context.Background(), a)
	require.NoError(t, err)
	for _, res := range again {
		assert.False(t, res.Changed(), "rerun must be a no-op, got %s", res)
	}
}

func TestGeiqSyncSkipsContractsOfRejectedEmployees(t *testing.T) {
	tables := newMemoryTables()
	tables.tables[geiq.TableEmployee].Seed(reconcile.Entity{Key: "5", Values: map[string]any{geiq.ColumnLastName: "Petit"}})
	src := geiqSource()
	src.employees = append(src.employees,
		rec(map[string]any{"id": float64(4), "prenom": "Sans nom"}),
		rec(map[string]any{"id": float64(5), "prenom": "Renommé"}),
	)
	src.contracts = append(src.contracts,
		rec(map[string]any{"id": float64(12), "salarie_id": float64(4), "date_debut": "2024-01-01", "date_fin_prevue": "2024-06-30"}),
		rec(map[string]any{"id": float64(13), "salarie_id": float64(5), "date_debut": "2024-01-01", "date_fin_prevue": "2024-06-30"}),
	)
	a := geiq.Assessment{ID: 4, CampaignYear: 2024, AntennaIDs: []int{1}}
	svc := NewGeiqSync(src, tables, eligibility.DefaultRules(), Options{WetRun: true})

	results, err := svc.Run(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 2, results[0].Skipped)
	assert.Equal(t, reconcile.Result{Label: geiq.TableContract, Created: 2, Skipped: 2}, results[1])
	assert.Equal(t, []string{"10", "13"}, tables.keys(geiq.TableContract))
}

func TestGeiqSyncRejectsInvalidAssessment(t *testing.T) {
	svc := NewGeiqSync(geiqSource(), newMemoryTables(), eligibility.DefaultRules(), Options{})

	_, err := svc.Run(context.Background(), geiq.Assessment{ID: 1, CampaignYear: 2024})
	assert.ErrorContains(t, err, "no antenna")
}
