package content

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Params is an opaque key-value payload.
//
// Values may come from Go callers (int, time.Time, []int) or from decoded JSON
// (float64, string, []any), so the typed getters accept both shapes.
type Params map[string]any

// Clone copies p along with nested maps and the slice shapes JSON and Go
// callers produce. Other values are shared.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	cp := make(Params, len(p))
	for k, v := range p {
		cp[k] = cloneValue(v)
	}
	return cp
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Params:
		return x.Clone()
	case map[string]any:
		return map[string]any(Params(x).Clone())
	case []any:
		out := make([]any, len(x))
		for i, it := range x {
			out[i] = cloneValue(it)
		}
		return out
	case []string:
		return slices.Clone(x)
	case []int:
		return slices.Clone(x)
	case []int64:
		return slices.Clone(x)
	case []float64:
		return slices.Clone(x)
	default:
		return v
	}
}

func (p Params) Has(key string) bool {
	if p == nil {
		return false
	}
	v, ok := p[key]
	return ok && v != nil
}

// String returns the value as a trimmed string. Non-string scalars are formatted.
func (p Params) String(key string) (string, bool) {
	if !p.Has(key) {
		return "", false
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// StringOr returns the string value or def when missing/empty.
func (p Params) StringOr(key, def string) string {
	if s, ok := p.String(key); ok && s != "" {
		return s
	}
	return def
}

// Int returns an integral value. ok is false when the key is absent.
func (p Params) Int(key string) (n int, ok bool, err error) {
	if !p.Has(key) {
		return 0, false, nil
	}
	n, err = toInt(p[key])
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// IntOr returns the integral value or def when missing or malformed.
func (p Params) IntOr(key string, def int) int {
	n, ok, err := p.Int(key)
	if !ok || err != nil {
		return def
	}
	return n
}

// Ints returns a list of integers. A single scalar is treated as a one-item list.
func (p Params) Ints(key string) ([]int, bool, error) {
	if !p.Has(key) {
		return nil, false, nil
	}
	var raw []any
	switch v := p[key].(type) {
	case []int:
		return append([]int(nil), v...), true, nil
	case []any:
		raw = v
	case []float64:
		for _, f := range v {
			raw = append(raw, f)
		}
	case []string:
		for _, s := range v {
			raw = append(raw, s)
		}
	default:
		raw = []any{v}
	}
	out := make([]int, 0, len(raw))
	for _, it := range raw {
		n, err := toInt(it)
		if err != nil {
			return nil, true, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, n)
	}
	return out, true, nil
}

// Time returns a timestamp stored as time.Time, RFC3339 string or unix seconds.
// Strings without a zone are read in the local zone.
func (p Params) Time(key string) (time.Time, bool, error) {
	return p.TimeIn(key, time.Local)
}

// TimeIn is Time with zone-less strings read in loc.
func (p Params) TimeIn(key string, loc *time.Location) (time.Time, bool, error) {
	if loc == nil {
		loc = time.Local
	}
	if !p.Has(key) {
		return time.Time{}, false, nil
	}
	switch v := p[key].(type) {
	case time.Time:
		return v, true, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, false, nil
		}
		return *v, true, nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04"} {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, true, nil
			}
		}
		return time.Time{}, true, fmt.Errorf("%s: invalid datetime %q", key, v)
	default:
		n, err := toInt(v)
		if err != nil {
			return time.Time{}, true, fmt.Errorf("%s: %w", key, err)
		}
		return time.Unix(int64(n), 0), true, nil
	}
}

// Strings returns a list of strings. A single string is treated as a one-item list.
func (p Params) Strings(key string) []string {
	if !p.Has(key) {
		return nil
	}
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			out = append(out, fmt.Sprint(it))
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{strings.TrimSpace(v)}
	default:
		return []string{fmt.Sprint(v)}
	}
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int8:
		return int(x), nil
	case int16:
		return int(x), nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case uint:
		return int(x), nil
	case uint8:
		return int(x), nil
	case uint16:
		return int(x), nil
	case uint32:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", x.String())
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

func floatToInt(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return int(f), nil
}
