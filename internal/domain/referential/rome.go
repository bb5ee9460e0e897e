// Package referential maps the partner job referential (ROME codes and their
// appellations) onto the local jobs tables.
package referential

import (
	"context"
	"fmt"
	"strings"

	"partner_sync/internal/reconcile"
)

// Local tables.
const (
	TableRome        = "jobs_rome"
	TableAppellation = "jobs_appellation"
)

// Partner fields.
const (
	FieldCode     = "code"
	FieldLabel    = "libelle"
	FieldRomeCode = "code_rome"
)

// Local columns.
const (
	ColumnCode     = "code"
	ColumnName     = "name"
	ColumnRomeCode = "rome_code"
)

// Source fetches the referential collections from the partner.
type Source interface {
	RomeCodes(ctx context.Context) ([]reconcile.Record, error)
	Appellations(ctx context.Context) ([]reconcile.Record, error)
}

// RomeDiffer compares ROME codes on their label.
func RomeDiffer() reconcile.Differ {
	return reconcile.Differ{
		Label:     TableRome,
		SourceKey: FieldCode,
		Compare:   []reconcile.Comparison{reconcile.Derived(trimmedLabel, ColumnName)},
	}
}

func MapRome(r reconcile.Record) (reconcile.Entity, error) {
	name, err := label(r)
	if err != nil {
		return reconcile.Entity{}, err
	}
	return reconcile.Entity{Values: map[string]any{ColumnName: name}}, nil
}

// AppellationDiffer compares appellations on label and parent ROME code.
func AppellationDiffer() reconcile.Differ {
	return reconcile.Differ{
		Label:     TableAppellation,
		SourceKey: FieldCode,
		Compare: []reconcile.Comparison{
			reconcile.Derived(trimmedLabel, ColumnName),
			reconcile.Field(FieldRomeCode, ColumnRomeCode),
		},
	}
}

// AppellationMapper rejects appellations whose ROME code is not in knownRome.
func AppellationMapper(knownRome map[string]struct{}) reconcile.Mapper {
	return func(r reconcile.Record) (reconcile.Entity, error) {
		name, err := label(r)
		if err != nil {
			return reconcile.Entity{}, err
		}
		rome, err := r.String(FieldRomeCode)
		if err != nil {
			return reconcile.Entity{}, err
		}
		if _, ok := knownRome[rome]; !ok {
			return reconcile.Entity{}, fmt.Errorf("unknown ROME code %q", rome)
		}
		return reconcile.Entity{Values: map[string]any{ColumnName: name, ColumnRomeCode: rome}}, nil
	}
}

// Codes returns the keys of the ROME records MapRome accepts. Rejected codes
// never reach jobs_rome, so appellations must not point at them.
func Codes(records []reconcile.Record) map[string]struct{} {
	codes := make(map[string]struct{}, len(records))
	for _, r := range records {
		k := r.Key(FieldCode)
		if k == "" {
			continue
		}
		if _, err := MapRome(r); err != nil {
			continue
		}
		codes[k] = struct{}{}
	}
	return codes
}

func label(r reconcile.Record) (string, error) {
	name, err := r.String(FieldLabel)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: %s is blank", reconcile.ErrMissingField, FieldLabel)
	}
	return name, nil
}

// trimmedLabel is what MapRome stores, so an unchanged label never shows up as an edition.
func trimmedLabel(r reconcile.Record) any {
	name, _ := r.OptionalString(FieldLabel)
	return strings.TrimSpace(name)
}
