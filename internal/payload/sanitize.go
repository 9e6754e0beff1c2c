package payload

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Limits bounds the output of Sanitize. Values come from SanitizerConfig;
// zero fields fall back to the defaults below.
type Limits struct {
	MaxTextLen  int
	MaxArrayLen int
	MaxMapKeys  int
	MaxDepth    int
}

const (
	defaultMaxTextLen  = 500
	defaultMaxArrayLen = 10
	defaultMaxMapKeys  = 20
	defaultMaxDepth    = 5
)

func (l Limits) withDefaults() Limits {
	out := l
	if out.MaxTextLen <= 0 {
		out.MaxTextLen = defaultMaxTextLen
	}
	if out.MaxArrayLen <= 0 {
		out.MaxArrayLen = defaultMaxArrayLen
	}
	if out.MaxMapKeys <= 0 {
		out.MaxMapKeys = defaultMaxMapKeys
	}
	if out.MaxDepth <= 0 {
		out.MaxDepth = defaultMaxDepth
	}
	return out
}

// Markers inserted in place of removed or truncated content.
const (
	markerTruncated = "…[truncated]"
	markerBlob      = "[binary omitted]"
	markerDepth     = "[max depth exceeded]"
)

// Sanitize produces a bounded copy of a decoded JSON payload for storage in
// an entity's debug column. The raw event row keeps the unmodified payload;
// this copy exists so a 10MB webhook body never lands in a hot table.
//
// Deterministic and total: never errors, never loops on deeply nested input.
// - strings past MaxTextLen are truncated with a marker
// - strings that look like embedded base64 audio/binary are dropped
// - arrays are capped at MaxArrayLen items plus a truncation marker
// - maps past MaxMapKeys are sampled (first keys in sorted order) with a
//   total-key-count note
// - nesting past MaxDepth is replaced with a marker
func Sanitize(v any, limits Limits) any {
	return sanitizeValue(v, limits.withDefaults(), 0)
}

func sanitizeValue(v any, l Limits, depth int) any {
	if depth >= l.MaxDepth {
		return markerDepth
	}
	switch t := v.(type) {
	case string:
		return sanitizeString(t, l)
	case map[string]any:
		return sanitizeMap(t, l, depth)
	case []any:
		return sanitizeArray(t, l, depth)
	default:
		// numbers, bools, nil pass through untouched
		return v
	}
}

func sanitizeString(s string, l Limits) string {
	if looksLikeBlob(s) {
		return markerBlob
	}
	if len(s) > l.MaxTextLen {
		// Back the cut off to a rune boundary so the truncated copy stays
		// valid UTF-8 and survives JSON re-encoding unmangled.
		cut := l.MaxTextLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + markerTruncated
	}
	return s
}

func sanitizeMap(m map[string]any, l Limits, depth int) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, min(len(keys), l.MaxMapKeys)+1)
	if len(keys) > l.MaxMapKeys {
		// Sample a stable prefix and record how much was dropped.
		sample := l.MaxMapKeys / 4
		if sample < 1 {
			sample = 1
		}
		for _, k := range keys[:sample] {
			out[k] = sanitizeValue(m[k], l, depth+1)
		}
		out["_omitted"] = fmt.Sprintf("map with %d keys, sampled %d", len(keys), sample)
		return out
	}
	for _, k := range keys {
		out[k] = sanitizeValue(m[k], l, depth+1)
	}
	return out
}

func sanitizeArray(a []any, l Limits, depth int) []any {
	n := len(a)
	if n <= l.MaxArrayLen {
		out := make([]any, n)
		for i, v := range a {
			out[i] = sanitizeValue(v, l, depth+1)
		}
		return out
	}
	out := make([]any, 0, l.MaxArrayLen+1)
	for _, v := range a[:l.MaxArrayLen] {
		out = append(out, sanitizeValue(v, l, depth+1))
	}
	out = append(out, fmt.Sprintf("%s %d more items", markerTruncated, n-l.MaxArrayLen))
	return out
}

// looksLikeBlob flags strings that are probably embedded binary: data URIs
// and long runs of valid base64.
func looksLikeBlob(s string) bool {
	if strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,") {
		return true
	}
	if len(s) < 1024 {
		return false
	}
	probe := s
	if len(probe) > 4096 {
		probe = probe[:4096]
	}
	probe = strings.TrimRight(probe, "=")
	if _, err := base64.RawStdEncoding.DecodeString(probe[:len(probe)-len(probe)%4]); err == nil {
		return true
	}
	return false
}
