package reconcile

import (
	"maps"
)

// IDField is the primary key column. It is never part of an update field set.
const IDField = "id"

// Entity is a local row addressed by the same natural key as its partner Record.
// Values holds the projected columns, including fields derived at mapping time.
type Entity struct {
	ID     int64
	Key    string
	Values map[string]any
}

// Value returns a column value, nil when it was not projected.
func (e Entity) Value(field string) any {
	return e.Values[field]
}

// Clone returns a copy whose Values map can be modified independently.
func (e Entity) Clone() Entity {
	return Entity{ID: e.ID, Key: e.Key, Values: maps.Clone(e.Values)}
}

// Project returns a copy restricted to fields.
func (e Entity) Project(fields []string) Entity {
	out := Entity{ID: e.ID, Key: e.Key, Values: make(map[string]any, len(fields))}
	for _, f := range fields {
		if v, ok := e.Values[f]; ok {
			out.Values[f] = v
		}
	}
	return out
}
