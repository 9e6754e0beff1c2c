package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Decode parses a raw JSON payload into a generic map. Webhook bodies are
// validated as JSON objects at ingestion, but processing tolerates anything.
func Decode(raw []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// Lookup walks dotted paths into a decoded payload and returns the first
// value found. Providers move fields around across API versions; handlers
// list every plausible location rather than failing on the first miss.
func Lookup(m map[string]any, paths ...string) (any, bool) {
	for _, p := range paths {
		cur := any(m)
		found := true
		for _, seg := range strings.Split(p, ".") {
			obj, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			cur, ok = obj[seg]
			if !ok {
				found = false
				break
			}
		}
		if found {
			return cur, true
		}
	}
	return nil, false
}

// String extracts a string-ish value at any of the paths. Numbers are
// rendered without an exponent so numeric provider IDs survive.
func String(m map[string]any, paths ...string) string {
	v, ok := Lookup(m, paths...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Int extracts an integer-ish value at any of the paths.
func Int(m map[string]any, paths ...string) (int, bool) {
	v, ok := Lookup(m, paths...)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Time extracts a timestamp at any of the paths. Accepts RFC3339 strings and
// unix-seconds numbers, the two shapes the provider is known to emit.
func Time(m map[string]any, paths ...string) (time.Time, bool) {
	v, ok := Lookup(m, paths...)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	case float64:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(t), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// MustJSON marshals a sanitized payload for storage; sanitized values are
// always marshalable, so failures collapse to an empty object.
func MustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf(`{"_marshal_error":%q}`, err.Error()))
	}
	return b
}
