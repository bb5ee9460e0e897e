package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordIsImmutable(t *testing.T) {
	fields := map[string]any{"code": "A"}
	r := NewRecord(fields)
	fields["code"] = "B"

	out := r.Fields()
	out["code"] = "C"

	assert.Equal(t, "A", r.Key("code"))
}

func TestRecordAccessors(t *testing.T) {
	r := NewRecord(map[string]any{
		"id":       float64(42),
		"id_str":   " 17 ",
		"name":     "Léa",
		"hours":    "35,5",
		"start":    "2024-03-01",
		"ts":       "2024-03-01T10:11:12+01:00",
		"statuses": []any{"RSA", "TH"},
		"nothing":  nil,
		"bad_date": "01/03/2024",
		"frac":     1.5,
	})

	id, err := r.Int("id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	n, err := r.Int("id_str")
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	s, err := r.String("id")
	require.NoError(t, err)
	assert.Equal(t, "42", s)

	h, err := r.Float("hours")
	require.NoError(t, err)
	assert.InDelta(t, 35.5, h, 1e-9)

	d, err := r.Date("start")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), d)

	ts, err := r.Date("ts")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), ts)

	tags, err := r.Strings("statuses")
	require.NoError(t, err)
	assert.Equal(t, []string{"RSA", "TH"}, tags)

	none, err := r.Strings("absent")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = r.String("nothing")
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = r.Date("bad_date")
	assert.ErrorIs(t, err, ErrFieldType)
	_, err = r.Int("frac")
	assert.ErrorIs(t, err, ErrFieldType)
	_, err = r.Strings("name")
	assert.ErrorIs(t, err, ErrFieldType)

	_, ok, err := r.OptionalDate("nothing")
	require.NoError(t, err)
	assert.False(t, ok)

	opt, err := r.OptionalString("absent")
	require.NoError(t, err)
	assert.Empty(t, opt)

	assert.Equal(t, "", r.Key("nothing"))
	assert.True(t, r.Has("name"))
	assert.False(t, r.Has("nothing"))
}

func TestRecordResidual(t *testing.T) {
	r := NewRecord(map[string]any{"id": 1, "nom": "Martin", "qpv": true, "commune": "Lyon"})

	assert.Equal(t, map[string]any{"qpv": true, "commune": "Lyon"}, r.Residual("id", "nom"))
	assert.Equal(t, []string{"commune", "id", "nom", "qpv"}, r.FieldNames())
}

func TestEqual(t *testing.T) {
	day := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)

	assert.True(t, Equal(float64(3), int64(3)))
	assert.True(t, Equal(json.Number("3"), 3))
	assert.True(t, Equal("2024-01-02", day))
	assert.True(t, Equal(nil, nil))
	assert.True(t, Equal(map[string]any{"b": 1, "a": "x"}, map[string]any{"a": "x", "b": float64(1)}))
	assert.True(t, Equal([]string{"RSA"}, []any{"RSA"}))
	assert.True(t, Equal([]byte("abc"), "abc"))

	assert.False(t, Equal(nil, ""))
	assert.False(t, Equal(1.5, 1))
	assert.False(t, Equal(true, false))
	assert.False(t, Equal(day, day.Add(time.Hour)))
}
