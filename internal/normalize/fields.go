package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/habitfeed/internal/gateway"
)

// Defensive accessors over raw records. Every accessor takes a list of
// synonym keys, returns the first usable value and never panics on a type
// mismatch; the zero value stands in for anything missing or malformed.

func firstString(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func firstInt(rec map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				return int(v), true
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n), true
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func intOr(rec map[string]any, def int, keys ...string) int {
	if n, ok := firstInt(rec, keys...); ok {
		return n
	}
	return def
}

func firstBool(rec map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		case float64:
			return v != 0
		case int:
			return v != 0
		}
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func firstTime(rec map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case time.Time:
			return v
		case string:
			s := strings.TrimSpace(v)
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t
				}
			}
		case float64:
			return unixTime(int64(v))
		case int64:
			return unixTime(v)
		case int:
			return unixTime(int64(v))
		}
	}
	return time.Time{}
}

// unixTime accepts both second and millisecond epochs.
func unixTime(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func firstMap(rec map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case map[string]any:
			return v
		case gateway.Record:
			return v
		}
	}
	return nil
}

func firstList(rec map[string]any, keys ...string) ([]any, bool) {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case []any:
			return v, true
		case []map[string]any:
			out := make([]any, len(v))
			for i, m := range v {
				out[i] = m
			}
			return out, true
		case string:
			var decoded []any
			if err := json.Unmarshal([]byte(v), &decoded); err == nil {
				return decoded, true
			}
		}
	}
	return nil, false
}

func stringList(rec map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case []string:
			return append([]string(nil), v...)
		case []any:
			out := make([]string, 0, len(v))
			for _, x := range v {
				if s, ok := x.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			return out
		case string:
			if v != "" {
				return []string{v}
			}
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case gateway.Record:
		return m
	}
	return nil
}

// decodeSub decodes an embedded sub-payload that may arrive either as an
// object or as a JSON-encoded string. It reports false for anything that does
// not decode cleanly into dst.
func decodeSub(rec map[string]any, dst any, keys ...string) bool {
	for _, k := range keys {
		var raw []byte
		switch v := rec[k].(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			raw = []byte(v)
		case map[string]any, gateway.Record:
			b, err := json.Marshal(v)
			if err != nil {
				return false
			}
			raw = b
		default:
			return false
		}
		return json.Unmarshal(raw, dst) == nil
	}
	return false
}
