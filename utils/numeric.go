package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseNumeric coerces a loosely-typed value into a decimal.
// Upstream order documents carry quantities and amounts as numbers,
// user-formatted strings ("20,000", "MMK 1,500", "12 liters"), or garbage.
// Anything unparseable yields zero; this function never panics.
func ParseNumeric(v interface{}) decimal.Decimal {
	switch val := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return val
	case *decimal.Decimal:
		if val == nil {
			return decimal.Zero
		}
		return *val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(val)
	case float32:
		return ParseNumeric(float64(val))
	case int:
		return decimal.NewFromInt(int64(val))
	case int32:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case uint:
		return decimal.NewFromInt(int64(val))
	case uint32:
		return decimal.NewFromInt(int64(val))
	case uint64:
		return decimal.NewFromInt(int64(val))
	case json.Number:
		return parseNumericString(val.String())
	case string:
		return parseNumericString(val)
	case fmt.Stringer:
		return parseNumericString(val.String())
	default:
		// objects, lists, booleans: not numeric
		return decimal.Zero
	}
}

// parseNumericString keeps digits, '.', and a '-' immediately preceding the
// first kept character, so currency symbols, thousand separators and unit
// suffixes all fall away without a prefixed sign ("MMK -20,000") getting lost,
// while dashes elsewhere in the string do not flip the sign.
func parseNumericString(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	neg := false
	kept := false
	prev := rune(0)
	var b strings.Builder
	b.Grow(len(s) + 1)
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			if !kept && prev == '-' {
				neg = true
			}
			kept = true
			b.WriteRune(r)
		}
		prev = r
	}
	clean := b.String()
	if clean == "" {
		return decimal.Zero
	}
	if neg {
		clean = "-" + clean
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FirstPositive evaluates candidates left-to-right through ParseNumeric and
// returns the first strictly positive result, else zero. The candidate order
// encodes field-priority policy against upstream schema drift, so callers
// must not reorder their argument lists casually.
func FirstPositive(candidates ...interface{}) decimal.Decimal {
	for _, c := range candidates {
		if d := ParseNumeric(c); d.IsPositive() {
			return d
		}
	}
	return decimal.Zero
}
