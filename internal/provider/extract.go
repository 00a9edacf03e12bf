package provider

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ExtractPrice normalizes a price value from various feed formats into the
// decimal string the normalizer parses.
//
// Feeds return bare numbers, quoted strings ("$12.99") or nested objects
// like {"amount": 12.99, "currency": "USD"}. Returns ok=false if no price
// can be found.
func ExtractPrice(val any) (string, bool) {
	if val == nil {
		return "", false
	}

	switch v := val.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case json.Number:
		return v.String(), true
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case map[string]any:
		for _, key := range []string{"amount", "value", "price", "market", "low"} {
			if inner, exists := v[key]; exists && inner != nil {
				return ExtractPrice(inner)
			}
		}
		return "", false
	default:
		return "", false
	}
}

// FirstPrice returns the first extractable, non-zero price among vals.
func FirstPrice(vals ...any) (string, bool) {
	for _, v := range vals {
		if p, ok := ExtractPrice(v); ok && p != "0" {
			return p, true
		}
	}
	return "", false
}
