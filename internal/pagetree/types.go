// Package pagetree defines the component-instance tree persisted inside
// page versions, plus the operations the host performs on it: validation,
// sibling ordering, slot routing and repeater expansion.
package pagetree

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DataSourceType selects how a data source is fetched.
type DataSourceType string

const (
	SourceAPI     DataSourceType = "API"
	SourceStatic  DataSourceType = "STATIC"
	SourceContext DataSourceType = "CONTEXT"
)

// FieldMapping derives one target field from a raw source value.
type FieldMapping struct {
	Path      string `json:"path"`
	Transform string `json:"transform,omitempty"`
	Fallback  any    `json:"fallback,omitempty"`
}

// DataSourceConfig is the declarative description of one data source,
// attached to a page (keyed mapping) or to a single instance.
type DataSourceConfig struct {
	Type       DataSourceType          `json:"type"`
	Endpoint   string                  `json:"endpoint,omitempty"`
	Method     string                  `json:"method,omitempty"` // GET (default) or POST
	Headers    map[string]string       `json:"headers,omitempty"`
	StaticData any                     `json:"staticData,omitempty"`
	ContextKey string                  `json:"contextKey,omitempty"`
	Mapping    map[string]FieldMapping `json:"fieldMapping,omitempty"`
	CacheKey   string                  `json:"cacheKey,omitempty"`
	CacheTTLMs int64                   `json:"cacheTtlMs,omitempty"`
}

// Validate enforces the per-type required fields.
func (c *DataSourceConfig) Validate() error {
	switch c.Type {
	case SourceAPI:
		if c.Endpoint == "" {
			return fmt.Errorf("API data source requires an endpoint")
		}
	case SourceContext:
		if c.ContextKey == "" {
			return fmt.Errorf("CONTEXT data source requires a contextKey")
		}
	case SourceStatic:
	default:
		return fmt.Errorf("unknown data source type %q", c.Type)
	}
	if c.Method != "" && c.Method != "GET" && c.Method != "POST" {
		return fmt.Errorf("unsupported data source method %q", c.Method)
	}
	return nil
}

// IteratorConfig configures a repeater instance.
type IteratorConfig struct {
	DataPath   string `json:"dataPath,omitempty"`
	ItemAlias  string `json:"itemAlias,omitempty"`  // default "item"
	IndexAlias string `json:"indexAlias,omitempty"` // default "index"
	KeyPath    string `json:"keyPath,omitempty"`
}

// EventBinding is persisted opaquely; the host never interprets it.
type EventBinding struct {
	EventType       string `json:"eventType"`
	Action          string `json:"action,omitempty"`
	CustomCode      string `json:"customCode,omitempty"`
	PreventDefault  bool   `json:"preventDefault,omitempty"`
	StopPropagation bool   `json:"stopPropagation,omitempty"`
	PreviewOnly     bool   `json:"previewOnly,omitempty"`
}

// ComponentInstance is one node of a page tree.
type ComponentInstance struct {
	InstanceID   string  `json:"instanceId"`
	PluginID     string  `json:"pluginId"`
	ComponentID  string  `json:"componentId"`
	ParentID     *string `json:"parentId,omitempty"`
	DisplayOrder int     `json:"displayOrder"`

	Position string `json:"position,omitempty"`
	Size     string `json:"size,omitempty"`
	Slot     string `json:"slot,omitempty"`

	Props  map[string]any    `json:"props,omitempty"`
	Styles map[string]string `json:"styles,omitempty"`

	Children []*ComponentInstance `json:"children,omitempty"`

	DataSource *DataSourceConfig `json:"dataSource,omitempty"`
	Iterator   *IteratorConfig   `json:"iteratorConfig,omitempty"`
	Events     []EventBinding    `json:"events,omitempty"`
}

// ComponentKey identifies the component type an instance references.
func (ci *ComponentInstance) ComponentKey() string {
	return ci.PluginID + "/" + ci.ComponentID
}

// Tree is the persisted page definition: the root-level instances plus an
// ambient shared-data mapping.
type Tree struct {
	Components []*ComponentInstance `json:"components"`
	SharedData map[string]any       `json:"sharedData,omitempty"`
}

// Parse decodes a persisted page definition. A bare JSON array of instances
// is accepted for compatibility with editor exports.
func Parse(raw []byte) (*Tree, error) {
	var tree Tree
	if err := json.Unmarshal(raw, &tree); err == nil && tree.Components != nil {
		return &tree, nil
	}
	var list []*ComponentInstance
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("invalid page definition: %w", err)
	}
	return &Tree{Components: list}, nil
}

// Serialize encodes the tree to its persisted JSON form.
func (t *Tree) Serialize() ([]byte, error) {
	return json.Marshal(t)
}

// Walk visits every instance depth-first.
func (t *Tree) Walk(visit func(*ComponentInstance)) {
	var walk func(nodes []*ComponentInstance)
	walk = func(nodes []*ComponentInstance) {
		for _, n := range nodes {
			visit(n)
			walk(n.Children)
		}
	}
	walk(t.Components)
}

// References returns the distinct component keys the tree uses.
func (t *Tree) References() []string {
	seen := make(map[string]bool)
	var keys []string
	t.Walk(func(ci *ComponentInstance) {
		k := ci.ComponentKey()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	})
	sort.Strings(keys)
	return keys
}

// SortSiblings orders every sibling group by (displayOrder, instanceId).
func (t *Tree) SortSiblings() {
	var sortLevel func(nodes []*ComponentInstance)
	sortLevel = func(nodes []*ComponentInstance) {
		sort.SliceStable(nodes, func(i, j int) bool {
			if nodes[i].DisplayOrder != nodes[j].DisplayOrder {
				return nodes[i].DisplayOrder < nodes[j].DisplayOrder
			}
			return nodes[i].InstanceID < nodes[j].InstanceID
		})
		for _, n := range nodes {
			sortLevel(n.Children)
		}
	}
	sortLevel(t.Components)
}
