package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(fields map[string]any) Record { return NewRecord(fields) }

func ent(id int64, key string, values map[string]any) Entity {
	return Entity{ID: id, Key: key, Values: values}
}

func collect(t *testing.T, d Differ, source []Record, local []Entity) []Item {
	t.Helper()
	return slices.Collect(d.Compute(source, local))
}

func kinds(items []Item) []Kind {
	out := make([]Kind, len(items))
	for i, it := range items {
		out[i] = it.Kind
	}
	return out
}

func TestComputeClassifiesKeys(t *testing.T) {
	d := Differ{
		Label:     "rome",
		SourceKey: "code",
		Compare:   []Comparison{Field("libelle", "name")},
	}
	source := []Record{
		rec(map[string]any{"code": "C", "libelle": "Cuisine"}),
		rec(map[string]any{"code": "A", "libelle": "Agriculture v2"}),
		rec(map[string]any{"code": "B", "libelle": "Bâtiment"}),
	}
	local := []Entity{
		ent(1, "A", map[string]any{"name": "Agriculture"}),
		ent(2, "B", map[string]any{"name": "Bâtiment"}),
		ent(3, "Z", map[string]any{"name": "Zoologie"}),
	}

	items := collect(t, d, source, local)

	require.Equal(t, []Kind{KindSummary, KindSummary, KindSummary, KindEdition, KindAddition, KindDeletion}, kinds(items))
	assert.Equal(t, CategoryCommon, items[0].Category)
	assert.Equal(t, 2, items[0].Count)
	assert.Equal(t, "count=2 label=rome had the same key in collection and local rows", items[0].Label)
	assert.Equal(t, 1, items[1].Count)
	assert.Equal(t, 1, items[2].Count)

	edition := items[3]
	assert.Equal(t, "A", edition.Key)
	assert.Equal(t, "name", edition.Field)
	assert.Equal(t, int64(1), edition.Local.ID)
	assert.Equal(t, `CHANGED rome.name of key=A from "Agriculture" to "Agriculture v2"`, edition.Label)
	v, _ := edition.Raw.Get("libelle")
	assert.Equal(t, "Agriculture v2", v)

	assert.Equal(t, "C", items[4].Key)
	assert.NotNil(t, items[4].Raw)
	assert.Equal(t, "Z", items[5].Key)
	assert.Equal(t, int64(3), items[5].Local.ID)
	for _, s := range items[:3] {
		assert.Empty(t, s.Key)
	}
}

func TestComputeOneEditionPerChangedField(t *testing.T) {
	d := Differ{
		Label:     "employee",
		SourceKey: "id",
		Compare: []Comparison{
			Field("nom", "last_name"),
			Field("prenom", "first_name"),
			Field("age", "age"),
		},
	}
	source := []Record{rec(map[string]any{"id": float64(7), "nom": "Martin", "prenom": "Léa", "age": float64(31)})}
	local := []Entity{ent(10, "7", map[string]any{"last_name": "Martin", "first_name": "Lea", "age": int64(30)})}

	items := collect(t, d, source, local)

	editions := filterKind(items, KindEdition)
	require.Len(t, editions, 2)
	assert.Equal(t, "first_name", editions[0].Field)
	assert.Equal(t, "age", editions[1].Field)
	assert.Equal(t, "7", editions[0].Key)
}

func TestComputeWithoutComparisonsRefreshesEveryCommonKey(t *testing.T) {
	d := Differ{Label: "code", SourceKey: "code"}
	source := []Record{rec(map[string]any{"code": "B"}), rec(map[string]any{"code": "A"})}
	local := []Entity{ent(1, "A", nil), ent(2, "B", nil)}

	editions := filterKind(collect(t, d, source, local), KindEdition)

	require.Len(t, editions, 2)
	assert.Equal(t, "A", editions[0].Key)
	assert.Equal(t, "B", editions[1].Key)
}

func TestComputeDerivedComparison(t *testing.T) {
	d := Differ{
		Label:     "employee",
		SourceKey: "id",
		Compare: []Comparison{
			Derived(func(r Record) any { return r.Residual("id") }, "other_data"),
		},
	}
	source := []Record{
		rec(map[string]any{"id": "1", "extra": "x", "n": float64(2)}),
		rec(map[string]any{"id": "2", "extra": "changed"}),
	}
	local := []Entity{
		ent(1, "1", map[string]any{"other_data": map[string]any{"n": float64(2), "extra": "x"}}),
		ent(2, "2", map[string]any{"other_data": map[string]any{"extra": "y"}}),
	}

	editions := filterKind(collect(t, d, source, local), KindEdition)

	require.Len(t, editions, 1)
	assert.Equal(t, "2", editions[0].Key)
}

func TestComputeReportsUnmappableRecordOnce(t *testing.T) {
	unmappable := func(r Record) any {
		if _, ok := r.Get("nom"); !ok {
			return Unmappable{Err: errors.New("nom is missing")}
		}
		return r.Key("nom")
	}
	d := Differ{
		Label:     "employee",
		SourceKey: "id",
		Compare:   []Comparison{Derived(unmappable, "last_name"), Derived(unmappable, "first_name")},
	}
	source := []Record{rec(map[string]any{"id": "3", "prenom": "Léa"})}
	local := []Entity{ent(1, "3", map[string]any{"last_name": "Martin", "first_name": "Léa"})}

	editions := filterKind(collect(t, d, source, local), KindEdition)

	require.Len(t, editions, 1)
	assert.Equal(t, "3", editions[0].Key)
	assert.Equal(t, "UNMAPPABLE employee key=3: nom is missing", editions[0].Label)
	assert.NotContains(t, editions[0].Label, "\x00")
}

func TestComputeSkipsRecordsWithoutKeyAndKeepsLastDuplicate(t *testing.T) {
	d := Differ{Label: "code", SourceKey: "code", Compare: []Comparison{Field("name", "name")}}
	source := []Record{
		rec(map[string]any{"name": "orphan"}),
		rec(map[string]any{"code": "A", "name": "first"}),
		rec(map[string]any{"code": "A", "name": "second"}),
	}

	items := collect(t, d, source, nil)

	additions := filterKind(items, KindAddition)
	require.Len(t, additions, 1)
	name, _ := additions[0].Raw.Get("name")
	assert.Equal(t, "second", name)
}

func TestComputeIsLazy(t *testing.T) {
	d := Differ{Label: "code", SourceKey: "code"}
	source := []Record{rec(map[string]any{"code": "A"}), rec(map[string]any{"code": "B"})}

	var seen []Item
	for item := range d.Compute(source, nil) {
		seen = append(seen, item)
		if item.Kind == KindAddition {
			break
		}
	}
	assert.Len(t, seen, 4)
}

type failingLister struct{ err error }

func (f failingLister) List(context.Context, []string) ([]Entity, error) { return nil, f.err }

func TestDiffPropagatesListerError(t *testing.T) {
	boom := errors.New("relation does not exist")
	_, err := Differ{SourceKey: "code"}.Diff(context.Background(), nil, failingLister{err: boom})
	assert.Same(t, boom, err)
}

func TestPartitionProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 100; round++ {
		universe := rng.IntN(40)
		var src, loc []string
		for i := 0; i < universe; i++ {
			k := fmt.Sprintf("k%02d", i)
			switch rng.IntN(3) {
			case 0:
				src = append(src, k)
			case 1:
				loc = append(loc, k)
			default:
				src, loc = append(src, k), append(loc, k)
			}
		}

		common, added, removed := Partition(src, loc)

		seen := map[string]int{}
		for _, group := range [][]string{common, added, removed} {
			assert.True(t, slices.IsSorted(group))
			for _, k := range group {
				seen[k]++
			}
		}
		require.Len(t, seen, universe, "every key lands in a subset")
		for k, n := range seen {
			require.Equal(t, 1, n, "key %s appears in more than one subset", k)
		}
	}
}

func filterKind(items []Item, kind Kind) []Item {
	var out []Item
	for _, it := range items {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}
