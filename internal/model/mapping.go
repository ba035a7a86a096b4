package model

import (
	"bytes"
	"encoding/json"
	"maps"
	"math"
	"slices"
	"time"
)

// Readers for the map form. Absent keys and explicit nulls read as the zero
// value; a present value of the wrong type is a ValidationError naming field.
// Numbers are accepted in the shapes produced by encoding/json (float64,
// json.Number) and yaml.v3 (int) as well as native Go integers.

func readString(m map[string]any, key, field string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid(field, "expected string, got %T", v)
	}
	return s, nil
}

func readStrings(m map[string]any, key, field string) ([]string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	var out []string
	switch list := v.(type) {
	case []string:
		out = slices.Clone(list)
	case []any:
		out = make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, invalid(field, "element %d: expected string, got %T", i, item)
			}
			out = append(out, s)
		}
	default:
		return nil, invalid(field, "expected list of strings, got %T", v)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func readInt(m map[string]any, key, field string, def int) (int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, invalid(field, "expected integer, got %v", v)
	}
	return n, nil
}

func readOptInt(m map[string]any, key, field string) (*int, error) {
	if v, ok := m[key]; !ok || v == nil {
		return nil, nil
	}
	n, err := readInt(m, key, field, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func readBool(m map[string]any, key, field string, def bool) (bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalid(field, "expected boolean, got %T", v)
	}
	return b, nil
}

func readFloat(m map[string]any, key, field string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, invalid(field, "expected number, got %q", n)
		}
		return f, nil
	}
	if i, ok := toInt(v); ok {
		return float64(i), nil
	}
	return 0, invalid(field, "expected number, got %T", v)
}

func readTime(m map[string]any, key, field string) (time.Time, error) {
	return TimeValue(m[key], field)
}

// TimeValue converts a decoded timestamp (RFC 3339 string or time.Time) to
// UTC. Nil and "" yield the zero time.
func TimeValue(v any, field string) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, invalid(field, "expected ISO-8601 timestamp with offset, got %q", t)
		}
		return parsed.UTC(), nil
	}
	return time.Time{}, invalid(field, "expected timestamp, got %T", v)
}

func readMap(m map[string]any, key, field string) (map[string]any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil, invalid(field, "expected object, got %T", v)
	}
	if len(sub) == 0 {
		return nil, nil
	}
	return maps.Clone(sub), nil
}

// readObject is readMap for nested typed objects, where an empty object is
// still an object.
func readObject(m map[string]any, key, field string) (map[string]any, bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false, nil
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil, false, invalid(field, "expected object, got %T", v)
	}
	return sub, true, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case float32:
		f := float64(n)
		if f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

func putStrings(m map[string]any, key string, vals []string) {
	if len(vals) > 0 {
		m[key] = slices.Clone(vals)
	}
}

func putString(m map[string]any, key, val string) {
	if val != "" {
		m[key] = val
	}
}

func putMap(m map[string]any, key string, val map[string]any) {
	if len(val) > 0 {
		m[key] = maps.Clone(val)
	}
}

func putTime(m map[string]any, key string, t time.Time) {
	if !t.IsZero() {
		m[key] = FormatTime(t)
	}
}

// FormatTime renders t as RFC 3339 in UTC, the wire form of every timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func nilIfEmptyMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

// DecodeMap decodes a JSON object preserving numbers as json.Number so
// integers survive intact.
func DecodeMap(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, invalid("body", "expected JSON object")
	}
	return m, nil
}
