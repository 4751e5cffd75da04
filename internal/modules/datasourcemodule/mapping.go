package datasourcemodule

import (
	"strconv"
	"strings"

	"github.com/fabrica-io/fabrica/internal/pagetree"
	"github.com/fabrica-io/fabrica/internal/template"
)

// ApplyMapping projects raw source data through field mappings: each target
// field is extracted by path, passed through its transform, and replaced by
// the fallback when the path misses. An empty mapping passes raw through.
func ApplyMapping(raw any, mapping map[string]pagetree.FieldMapping) any {
	if len(mapping) == 0 {
		return raw
	}
	out := make(map[string]any, len(mapping))
	for field, fm := range mapping {
		value := template.NavigatePath(raw, fm.Path)
		if value == nil {
			out[field] = fm.Fallback
			continue
		}
		out[field] = applyTransform(value, fm.Transform)
	}
	return out
}

// applyTransform converts one extracted value. Unknown transform names are
// a no-op so a typo degrades to raw data instead of breaking the page.
func applyTransform(value any, transform string) any {
	switch transform {
	case "uppercase":
		if s, ok := value.(string); ok {
			return strings.ToUpper(s)
		}
	case "lowercase":
		if s, ok := value.(string); ok {
			return strings.ToLower(s)
		}
	case "trim":
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s)
		}
	case "number":
		return toNumber(value)
	case "integer":
		if n, ok := toNumber(value).(float64); ok {
			return float64(int64(n))
		}
	case "boolean":
		return toBoolean(value)
	case "string":
		return template.Stringify(value)
	}
	return value
}

func toNumber(value any) any {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return n
		}
	case bool:
		if v {
			return float64(1)
		}
		return float64(0)
	}
	return value
}

func toBoolean(value any) any {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no", "":
			return false
		}
	case float64:
		return v != 0
	}
	return value
}
