package geiq

import (
	"errors"
	"fmt"
	"time"

	"partner_sync/internal/interval"
	"partner_sync/internal/reconcile"
)

// Contract is the typed view of a partner contract record.
type Contract struct {
	LabelID    string
	EmployeeID string
	Start      time.Time
	PlannedEnd time.Time
	// End is zero while the contract is running.
	End time.Time
}

// Period covers the contract from its start to its actual end, or to its planned end while running.
func (c Contract) Period() (interval.Period, error) {
	end := c.PlannedEnd
	if !c.End.IsZero() {
		end = c.End
	}
	return interval.NewPeriod(c.Start, end)
}

func ParseContract(r reconcile.Record) (Contract, error) {
	c := Contract{LabelID: r.Key(FieldID)}
	var err error
	if c.EmployeeID, err = r.String(FieldEmployeeID); err != nil {
		return Contract{}, err
	}
	if c.Start, err = r.Date(FieldStartDate); err != nil {
		return Contract{}, err
	}
	if c.PlannedEnd, err = r.Date(FieldPlannedEndDate); err != nil {
		return Contract{}, err
	}
	if end, ok, err := r.OptionalDate(FieldEndDate); err != nil {
		return Contract{}, err
	} else if ok {
		c.End = end
	}
	if _, err := c.Period(); err != nil {
		return Contract{}, err
	}
	return c, nil
}

// Prequalification is the typed view of a partner pre-qualification record.
type Prequalification struct {
	LabelID    string
	EmployeeID string
	Start      time.Time
	End        time.Time
}

func (p Prequalification) Period() (interval.Period, error) {
	return interval.NewPeriod(p.Start, p.End)
}

func ParsePrequalification(r reconcile.Record) (Prequalification, error) {
	p := Prequalification{LabelID: r.Key(FieldID)}
	var err error
	if p.EmployeeID, err = r.String(FieldEmployeeID); err != nil {
		return Prequalification{}, err
	}
	if p.Start, err = r.Date(FieldStartDate); err != nil {
		return Prequalification{}, err
	}
	if p.End, err = r.Date(FieldEndDate); err != nil {
		return Prequalification{}, err
	}
	if _, err := p.Period(); err != nil {
		return Prequalification{}, err
	}
	return p, nil
}

// ParseContracts keeps the valid contracts. Each invalid record comes back as a
// *reconcile.MappingError carrying its key.
func ParseContracts(records []reconcile.Record) ([]Contract, []error) {
	var (
		out  []Contract
		errs []error
	)
	for _, r := range records {
		c, err := ParseContract(r)
		if err != nil {
			errs = append(errs, &reconcile.MappingError{Key: r.Key(FieldID), Err: err})
			continue
		}
		out = append(out, c)
	}
	return out, errs
}

// ParsePrequalifications is ParseContracts for pre-qualification records.
func ParsePrequalifications(records []reconcile.Record) ([]Prequalification, []error) {
	var (
		out  []Prequalification
		errs []error
	)
	for _, r := range records {
		p, err := ParsePrequalification(r)
		if err != nil {
			errs = append(errs, &reconcile.MappingError{Key: r.Key(FieldID), Err: err})
			continue
		}
		out = append(out, p)
	}
	return out, errs
}

// IsInvalidPeriod reports whether err comes from a record whose end precedes its start.
func IsInvalidPeriod(err error) bool {
	return errors.Is(err, interval.ErrInvalidPeriod)
}

func overlapsYear(p interval.Period, year int) bool {
	return p.Overlaps(interval.YearBounds(year))
}

func unknownEmployee(id string) error {
	return fmt.Errorf("unknown employee %s", id)
}
