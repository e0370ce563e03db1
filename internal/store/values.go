package store

import (
	"encoding/json"
	"math"
	"time"
)

// Numbers come back as int64 from memstore and float64 from JSON-backed
// stores, so readers go through these helpers.

func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return int64(n), true
	case float64:
		return int64(math.Round(n)), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(math.Round(f)), true
		}
		return i, true
	default:
		return 0, false
	}
}

func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		i, ok := ToInt64(v)
		return float64(i), ok
	}
}

func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f Fields) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

func (f Fields) Int64(key string) int64 {
	n, _ := ToInt64(f[key])
	return n
}

// Time decodes a Unix-millisecond field. Absent or null yields the zero
// time.
func (f Fields) Time(key string) time.Time {
	ms, ok := ToInt64(f[key])
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// TimePtr is Time with nil for absent or null.
func (f Fields) TimePtr(key string) *time.Time {
	if _, ok := ToInt64(f[key]); !ok {
		return nil
	}
	t := f.Time(key)
	return &t
}

// Millis encodes t for storage.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// MillisOrNil encodes an optional instant; nil clears the field.
func MillisOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
