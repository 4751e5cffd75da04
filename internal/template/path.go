// Package template implements the {{path}} binding language used in page
// trees and data-source field mappings. Resolution is a pure function: the
// same inputs always produce the same output, and no failure escapes as an
// error — missing or mistyped paths resolve to the empty string.
package template

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a parsed path: either a field name or an array
// index.
type Segment struct {
	Field   string
	Index   int
	IsIndex bool
}

// ParsePath splits a dotted/bracketed path expression into segments.
// Supported forms: `a.b`, `a[0]`, `a['key.with.dots']`, `a["key"]`.
// Malformed expressions yield a nil segment list (which resolves to empty).
func ParsePath(expr string) []Segment {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	var segs []Segment
	i := 0
	for i < len(expr) {
		switch expr[i] {
		case '.':
			i++
		case '[':
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return nil
			}
			inner := expr[i+1 : i+end]
			i += end + 1
			if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') {
				quote := inner[0]
				if inner[len(inner)-1] != quote {
					return nil
				}
				segs = append(segs, Segment{Field: inner[1 : len(inner)-1]})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil || n < 0 {
				return nil
			}
			segs = append(segs, Segment{Index: n, IsIndex: true})
		default:
			j := i
			for j < len(expr) && expr[j] != '.' && expr[j] != '[' {
				j++
			}
			segs = append(segs, Segment{Field: expr[i:j]})
			i = j
		}
	}
	return segs
}

// Navigate walks value along segs. Any miss — nil value, absent key, index
// out of range, or a scalar where a container is needed — returns nil.
func Navigate(value any, segs []Segment) any {
	for _, seg := range segs {
		if value == nil {
			return nil
		}
		if seg.IsIndex {
			arr, ok := value.([]any)
			if !ok || seg.Index >= len(arr) {
				return nil
			}
			value = arr[seg.Index]
			continue
		}
		m, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		value, ok = m[seg.Field]
		if !ok {
			return nil
		}
	}
	return value
}

// NavigatePath is Navigate over a textual path expression.
func NavigatePath(value any, expr string) any {
	if strings.TrimSpace(expr) == "" {
		return value
	}
	return Navigate(value, ParsePath(expr))
}

// Stringify renders a resolved value for substitution into a string.
// Numbers drop a trailing ".0" so whole floats print as integers.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}
