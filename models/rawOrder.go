package models

import (
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
)

// RawOrderDocument is an untyped order document from the upstream ordering
// surface. Field names drift between app versions, so access goes through
// prioritized key chains instead of a fixed struct. Never assume a narrower
// schema here without revalidating against real samples.
type RawOrderDocument map[string]interface{}

func RawFromDocument(doc ledger.Document) RawOrderDocument {
	return RawOrderDocument(doc)
}

// FirstString returns the first non-empty string found under the given keys.
func (r RawOrderDocument) FirstString(keys ...string) string {
	for _, key := range keys {
		if v, ok := r[key]; ok {
			if s, ok := v.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// FirstValue returns the first value present under the given keys, for
// numeric fallback chains that should see the raw value, whatever its type.
func (r RawOrderDocument) FirstValue(keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := r[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// Sub returns a nested object under the first of the given keys, or nil.
func (r RawOrderDocument) Sub(keys ...string) RawOrderDocument {
	for _, key := range keys {
		switch v := r[key].(type) {
		case map[string]interface{}:
			return RawOrderDocument(v)
		case RawOrderDocument:
			return v
		case ledger.Document:
			return RawOrderDocument(v)
		}
	}
	return nil
}

// List returns the first list of objects found under the given keys.
// Non-object list entries are skipped.
func (r RawOrderDocument) List(keys ...string) []RawOrderDocument {
	for _, key := range keys {
		items, ok := r[key].([]interface{})
		if !ok {
			// Items may round-trip through typed slices when the document was
			// produced by our own write path.
			if typed, tok := r[key].([]map[string]interface{}); tok {
				out := make([]RawOrderDocument, 0, len(typed))
				for _, it := range typed {
					out = append(out, RawOrderDocument(it))
				}
				return out
			}
			continue
		}
		out := make([]RawOrderDocument, 0, len(items))
		for _, it := range items {
			if obj, ok := it.(map[string]interface{}); ok {
				out = append(out, RawOrderDocument(obj))
			}
		}
		return out
	}
	return nil
}

// HasList reports whether any of the given keys holds a list at all, even an
// empty one. The normalizer synthesizes a default line item only when the
// upstream document carried no cart list whatsoever.
func (r RawOrderDocument) HasList(keys ...string) bool {
	for _, key := range keys {
		switch r[key].(type) {
		case []interface{}, []map[string]interface{}:
			return true
		}
	}
	return false
}

// FirstTime parses the first timestamp found under the given keys. Accepted
// shapes: time.Time, RFC3339 strings, "2006-01-02 15:04:05", bare dates, and
// unix seconds/milliseconds numbers.
func (r RawOrderDocument) FirstTime(keys ...string) (time.Time, bool) {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		if t, ok := parseTimeValue(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseTimeValue(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return time.Time{}, false
		}
		return val, true
	case *time.Time:
		if val == nil || val.IsZero() {
			return time.Time{}, false
		}
		return *val, true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	case float64:
		return timeFromUnix(int64(val))
	case int64:
		return timeFromUnix(val)
	case int:
		return timeFromUnix(int64(val))
	default:
		return time.Time{}, false
	}
}

func timeFromUnix(n int64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	// Upstream mixes seconds and milliseconds epochs.
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}
