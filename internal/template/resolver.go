package template

import (
	"regexp"
	"strings"
)

// DataContext carries the bindings available to template expressions.
type DataContext struct {
	// Item and Index are the per-element bindings inside a repeater clone.
	Item  any
	Index int

	// DataSources maps data-source keys to their fetched values.
	DataSources map[string]any

	// SharedData is the ambient page-level mapping.
	SharedData map[string]any

	// ItemAlias and IndexAlias override the default "item"/"index" root
	// identifiers (a repeater's iteratorConfig may rename them).
	ItemAlias  string
	IndexAlias string
}

func (c *DataContext) itemAlias() string {
	if c.ItemAlias != "" {
		return c.ItemAlias
	}
	return "item"
}

func (c *DataContext) indexAlias() string {
	if c.IndexAlias != "" {
		return c.IndexAlias
	}
	return "index"
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolve evaluates a single path expression against the context, following
// the root-identifier precedence: item alias, index alias, named data
// source, then first non-nil of dataSources/sharedData/item.
func (c *DataContext) Resolve(expr string) any {
	segs := ParsePath(expr)
	if len(segs) == 0 {
		return nil
	}
	root := segs[0]

	if !root.IsIndex {
		switch root.Field {
		case c.itemAlias():
			return Navigate(c.Item, segs[1:])
		case c.indexAlias():
			if len(segs) > 1 {
				return nil
			}
			return c.Index
		}
		if c.DataSources != nil {
			if v, ok := c.DataSources[root.Field]; ok {
				return Navigate(v, segs[1:])
			}
		}
	}

	if v := Navigate(asValue(c.DataSources), segs); v != nil {
		return v
	}
	if v := Navigate(asValue(c.SharedData), segs); v != nil {
		return v
	}
	return Navigate(c.Item, segs)
}

// asValue widens a typed map to any without allocating when nil.
func asValue(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// ResolveString substitutes every {{...}} token in s. Strings without
// tokens pass through untouched, which makes resolution idempotent on
// literal strings.
func (c *DataContext) ResolveString(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		if len(m) != 2 {
			return ""
		}
		return Stringify(c.Resolve(m[1]))
	})
}

// ResolveValue recursively applies ResolveString across a props value:
// strings are substituted, slices element-wise, maps per entry; other
// scalars pass through.
func (c *DataContext) ResolveValue(v any) any {
	switch val := v.(type) {
	case string:
		return c.ResolveString(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = c.ResolveValue(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = c.ResolveValue(elem)
		}
		return out
	default:
		return v
	}
}

// ResolveProps resolves a whole props mapping.
func (c *DataContext) ResolveProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = c.ResolveValue(v)
	}
	return out
}
