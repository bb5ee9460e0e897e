package reconcile

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

const nullValue = "\x00null"

// Equal compares a partner value with a local column value by their canonical form.
// A JSON float and an integer column holding the same number are equal, and so are
// a YYYY-MM-DD string and a DATE column. Null only equals null.
func Equal(a, b any) bool {
	return canonical(a) == canonical(b)
}

func canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return nullValue
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return formatFloat(f)
		}
		return x.String()
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nullValue
		}
		return canonical(*x)
	}
	// Documents: encoding/json sorts map keys, which makes the encoding stable.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// describe renders a value for log labels.
func describe(v any) string {
	if v == nil {
		return "<null>"
	}
	return fmt.Sprintf("%q", canonical(v))
}
