package reconcile

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sort"

	"github.com/sirupsen/logrus"
)

// Comparison pairs a partner value with the local column it is stored in.
type Comparison struct {
	Local  string
	Source string
	// Value computes the partner value from the whole record. It takes precedence over Source.
	Value func(Record) any
}

// Field compares a partner field with a local column as is.
func Field(source, local string) Comparison {
	return Comparison{Source: source, Local: local}
}

// Derived compares a value computed from the record, for example its residual
// fields, with a local column.
func Derived(fn func(Record) any, local string) Comparison {
	return Comparison{Value: fn, Local: local}
}

// Unmappable is returned by a Derived value function when the record cannot be
// mapped. The key then yields a single edition so the applier reports the record.
type Unmappable struct {
	Err error
}

func (c Comparison) sourceValue(r Record) any {
	if c.Value != nil {
		return c.Value(r)
	}
	v, _ := r.Get(c.Source)
	return v
}

// Differ classifies the keys of a partner collection against the local rows.
type Differ struct {
	Label     string
	SourceKey string
	Compare   []Comparison
	Logger    logrus.FieldLogger
}

// LocalFields returns the local columns the comparisons read.
func (d Differ) LocalFields() []string {
	fields := make([]string, 0, len(d.Compare))
	seen := make(map[string]struct{}, len(d.Compare))
	for _, c := range d.Compare {
		if _, ok := seen[c.Local]; ok {
			continue
		}
		seen[c.Local] = struct{}{}
		fields = append(fields, c.Local)
	}
	return fields
}

// Diff reads the local rows through lister and returns the diff stream.
// Errors from lister are returned as is.
func (d Differ) Diff(ctx context.Context, source []Record, lister Lister) (iter.Seq[Item], error) {
	local, err := lister.List(ctx, d.LocalFields())
	if err != nil {
		return nil, err
	}
	return d.Compute(source, local), nil
}

// Compute returns a lazy diff stream. It yields, in order: three summaries (common,
// added, removed), editions, additions and deletions, each group by ascending key.
//
// A common key yields one edition per differing comparison, or exactly one edition
// when Compare is empty. Records without a key are skipped; when several records
// share a key the last one wins.
func (d Differ) Compute(source []Record, local []Entity) iter.Seq[Item] {
	return func(yield func(Item) bool) {
		logger := d.logger()

		sourceByKey := make(map[string]Record, len(source))
		for i, r := range source {
			key := r.Key(d.SourceKey)
			if key == "" {
				logger.WithFields(logrus.Fields{"label": d.Label, "index": i}).Warn("skipping partner record without key")
				continue
			}
			sourceByKey[key] = r
		}
		localByKey := make(map[string]Entity, len(local))
		for _, e := range local {
			localByKey[e.Key] = e
		}

		common, added, removed := Partition(keysOf(sourceByKey), keysOf(localByKey))

		summaries := []Item{
			{Kind: KindSummary, Category: CategoryCommon, Count: len(common),
				Label: fmt.Sprintf("count=%d label=%s had the same key in collection and local rows", len(common), d.Label)},
			{Kind: KindSummary, Category: CategoryAdded, Count: len(added),
				Label: fmt.Sprintf("count=%d label=%s added by collection", len(added), d.Label)},
			{Kind: KindSummary, Category: CategoryRemoved, Count: len(removed),
				Label: fmt.Sprintf("count=%d label=%s removed by collection", len(removed), d.Label)},
		}
		for _, s := range summaries {
			if !yield(s) {
				return
			}
		}

		for _, key := range common {
			raw, loc := sourceByKey[key], localByKey[key]
			if len(d.Compare) == 0 {
				if !yield(Item{Kind: KindEdition, Key: key, Raw: &raw, Local: &loc,
					Label: fmt.Sprintf("REFRESHED %s key=%s", d.Label, key)}) {
					return
				}
				continue
			}
			for _, c := range d.Compare {
				sv, lv := c.sourceValue(raw), loc.Value(c.Local)
				if u, ok := sv.(Unmappable); ok {
					if !yield(Item{Kind: KindEdition, Key: key, Field: c.Local, Raw: &raw, Local: &loc,
						Label: fmt.Sprintf("UNMAPPABLE %s key=%s: %v", d.Label, key, u.Err)}) {
						return
					}
					break
				}
				if Equal(sv, lv) {
					continue
				}
				if !yield(Item{Kind: KindEdition, Key: key, Field: c.Local, Raw: &raw, Local: &loc,
					Label: fmt.Sprintf("CHANGED %s.%s of key=%s from %s to %s", d.Label, c.Local, key, describe(lv), describe(sv))}) {
					return
				}
			}
		}

		for _, key := range added {
			raw := sourceByKey[key]
			if !yield(Item{Kind: KindAddition, Key: key, Raw: &raw,
				Label: fmt.Sprintf("ADDED %s key=%s", d.Label, key)}) {
				return
			}
		}

		for _, key := range removed {
			loc := localByKey[key]
			if !yield(Item{Kind: KindDeletion, Key: key, Local: &loc,
				Label: fmt.Sprintf("REMOVED %s key=%s", d.Label, key)}) {
				return
			}
		}
	}
}

func (d Differ) logger() logrus.FieldLogger {
	if d.Logger != nil {
		return d.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Partition splits two key sets into keys on both sides, keys only in source and
// keys only in local. The three results are disjoint, sorted, and cover every key.
func Partition(sourceKeys, localKeys []string) (common, added, removed []string) {
	src := toSet(sourceKeys)
	loc := toSet(localKeys)
	for k := range src {
		if _, ok := loc[k]; ok {
			common = append(common, k)
		} else {
			added = append(added, k)
		}
	}
	for k := range loc {
		if _, ok := src[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(common)
	sort.Strings(added)
	sort.Strings(removed)
	return common, added, removed
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
