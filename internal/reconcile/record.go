// Package reconcile keeps local tables in line with collections fetched from partner systems.
//
// A sync run diffs a freshly fetched collection of Records against the local Entities
// sharing the same natural key, then applies the resulting creations, updates and
// deletions in one transaction while holding skip-locked row locks.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingField is returned by Record accessors when a field is absent or null.
	ErrMissingField = errors.New("missing field")
	// ErrFieldType is returned by Record accessors when a field holds an unexpected type.
	ErrFieldType = errors.New("unexpected field type")
)

// Record is one item of a partner collection. It is immutable: accessors never
// expose the underlying map.
type Record struct {
	fields map[string]any
}

// NewRecord copies fields into a new Record.
func NewRecord(fields map[string]any) Record {
	return Record{fields: maps.Clone(fields)}
}

// Get returns the raw value of a field.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Has reports whether the field is present and not null.
func (r Record) Has(name string) bool {
	v, ok := r.fields[name]
	return ok && v != nil
}

// Fields returns a copy of every field.
func (r Record) Fields() map[string]any {
	return maps.Clone(r.fields)
}

// Key returns the string form of the key field, or "" when the record has none.
func (r Record) Key(field string) string {
	k, err := r.String(field)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(k)
}

// String reads a text field. Integral numbers are accepted since partner ids often come as JSON numbers.
func (r Record) String(name string) (string, error) {
	v, err := r.required(name)
	if err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		}
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	}
	return "", fieldTypeError(name, "string", v)
}

// OptionalString returns "" when the field is absent or null.
func (r Record) OptionalString(name string) (string, error) {
	if !r.Has(name) {
		return "", nil
	}
	return r.String(name)
}

// Int reads an integer field from a JSON number or a numeric string.
func (r Record) Int(name string) (int64, error) {
	v, err := r.required(name)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x == math.Trunc(x) {
			return int64(x), nil
		}
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, fieldTypeError(name, "integer", v)
}

// Float reads a decimal field from a JSON number or a numeric string.
func (r Record) Float(name string) (float64, error) {
	v, err := r.required(name)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f, nil
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(x, ",", ".")), 64); err == nil {
			return f, nil
		}
	}
	return 0, fieldTypeError(name, "number", v)
}

// Date reads a civil date. Accepted forms are YYYY-MM-DD and RFC 3339 timestamps,
// of which only the date part is kept.
func (r Record) Date(name string) (time.Time, error) {
	v, err := r.required(name)
	if err != nil {
		return time.Time{}, err
	}
	switch x := v.(type) {
	case time.Time:
		return civilDate(x), nil
	case string:
		s := strings.TrimSpace(x)
		if len(s) >= len(time.DateOnly) {
			if t, err := time.Parse(time.DateOnly, s[:len(time.DateOnly)]); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, fieldTypeError(name, "date", v)
}

// OptionalDate returns ok=false when the field is absent or null.
func (r Record) OptionalDate(name string) (t time.Time, ok bool, err error) {
	if !r.Has(name) {
		return time.Time{}, false, nil
	}
	t, err = r.Date(name)
	return t, err == nil, err
}

// Strings reads a list of strings. An absent field yields an empty list.
func (r Record) Strings(name string) ([]string, error) {
	if !r.Has(name) {
		return nil, nil
	}
	switch x := r.fields[name].(type) {
	case []string:
		return append([]string(nil), x...), nil
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fieldTypeError(name, "list of strings", r.fields[name])
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fieldTypeError(name, "list of strings", r.fields[name])
}

// Residual returns every field not listed in mapped. It holds whatever the partner
// sends beyond the columns we model, and is stored as a JSON document.
func (r Record) Residual(mapped ...string) map[string]any {
	skip := make(map[string]struct{}, len(mapped))
	for _, m := range mapped {
		skip[m] = struct{}{}
	}
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		if _, ok := skip[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// FieldNames returns the record's field names in sorted order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.fields))
	for k := range r.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r Record) required(name string) (any, error) {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return v, nil
}

func fieldTypeError(name, want string, got any) error {
	return fmt.Errorf("%w: %s is %T, want %s", ErrFieldType, name, got, want)
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
