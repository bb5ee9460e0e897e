package database

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"partner_sync/internal/domain/geiq"
	"partner_sync/internal/domain/referential"
	"partner_sync/internal/reconcile"
)

// TableSpec describes a synced table. Every synced table has an id primary key
// and an updated_at timestamp.
type TableSpec struct {
	Name        string
	KeyColumn   string
	Columns     []string
	JSONColumns []string
	// ScopeColumn, when set, must be given a value by every transaction on the table.
	ScopeColumn string
}

func (s TableSpec) known(col string) bool {
	return col == s.KeyColumn || col == s.ScopeColumn || slices.Contains(s.Columns, col)
}

func (s TableSpec) isJSON(col string) bool {
	return slices.Contains(s.JSONColumns, col)
}

// SyncedTables lists the tables the sync jobs write.
var SyncedTables = []TableSpec{
	{
		Name:      referential.TableRome,
		KeyColumn: referential.ColumnCode,
		Columns:   []string{referential.ColumnName},
	},
	{
		Name:      referential.TableAppellation,
		KeyColumn: referential.ColumnCode,
		Columns:   []string{referential.ColumnName, referential.ColumnRomeCode},
	},
	{
		Name:        geiq.TableEmployee,
		KeyColumn:   geiq.ColumnLabelID,
		Columns:     geiq.EmployeeTable(nil).Columns,
		JSONColumns: []string{geiq.ColumnStatuses, geiq.ColumnOtherData},
		ScopeColumn: geiq.ScopeColumn,
	},
	{
		Name:        geiq.TableContract,
		KeyColumn:   geiq.ColumnLabelID,
		Columns:     geiq.ContractTable(geiq.Assessment{}, nil, nil).Columns,
		JSONColumns: []string{geiq.ColumnOtherData},
		ScopeColumn: geiq.ScopeColumn,
	},
	{
		Name:        geiq.TablePrequalification,
		KeyColumn:   geiq.ColumnLabelID,
		Columns:     geiq.PrequalificationTable(nil).Columns,
		JSONColumns: []string{geiq.ColumnOtherData},
		ScopeColumn: geiq.ScopeColumn,
	},
}

// Registry hands out transactors for the synced tables.
type Registry struct {
	db        *sql.DB
	specs     map[string]TableSpec
	txTimeout time.Duration
}

func NewRegistry(db *sql.DB, txTimeout time.Duration, specs ...TableSpec) *Registry {
	if len(specs) == 0 {
		specs = SyncedTables
	}
	r := &Registry{db: db, specs: make(map[string]TableSpec, len(specs)), txTimeout: txTimeout}
	for _, s := range specs {
		r.specs[s.Name] = s
	}
	return r
}

// Transactor binds table to scope. A scoped table needs exactly its scope column.
func (r *Registry) Transactor(table string, scope map[string]any) (reconcile.Transactor, error) {
	spec, ok := r.specs[table]
	if !ok {
		return nil, fmt.Errorf("unknown synced table %q", table)
	}
	sc, err := bindScope(spec, scope)
	if err != nil {
		return nil, err
	}
	return &postgresSyncTx{db: r.db, spec: spec, scope: sc, timeout: r.txTimeout}, nil
}

type tableScope struct {
	column string
	value  any
}

func bindScope(spec TableSpec, scope map[string]any) (tableScope, error) {
	if spec.ScopeColumn == "" {
		if len(scope) > 0 {
			return tableScope{}, fmt.Errorf("table %s is not scoped", spec.Name)
		}
		return tableScope{}, nil
	}
	value, ok := scope[spec.ScopeColumn]
	if !ok || len(scope) != 1 {
		return tableScope{}, fmt.Errorf("table %s must be scoped by %s only", spec.Name, spec.ScopeColumn)
	}
	return tableScope{column: spec.ScopeColumn, value: value}, nil
}
