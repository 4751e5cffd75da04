// Package plugins is the published API surface for Fabrica packages.
// Everything a plugin author needs — manifest types, the entry contract,
// and the per-plugin context — lives here. The host exposes exactly this
// package inside each isolation domain; host internals are not visible.
package plugins

import "fmt"

// Category classifies a component for the editor palette.
type Category string

const (
	CategoryUI     Category = "ui"
	CategoryLayout Category = "layout"
	CategoryForm   Category = "form"
	CategoryWidget Category = "widget"
	CategoryNavbar Category = "navbar"
	CategoryData   Category = "data"
)

// Categories is the fixed set of valid component categories.
var Categories = []Category{
	CategoryUI, CategoryLayout, CategoryForm,
	CategoryWidget, CategoryNavbar, CategoryData,
}

// ValidCategory reports whether c is one of the fixed categories.
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// PropType enumerates the configurable prop editor types.
type PropType string

const (
	PropString   PropType = "STRING"
	PropNumber   PropType = "NUMBER"
	PropBoolean  PropType = "BOOLEAN"
	PropSelect   PropType = "SELECT"
	PropColor    PropType = "COLOR"
	PropURL      PropType = "URL"
	PropImage    PropType = "IMAGE"
	PropRichText PropType = "RICH_TEXT"
	PropJSON     PropType = "JSON"
)

// StyleType enumerates the configurable style editor types.
type StyleType string

const (
	StyleSize    StyleType = "SIZE"
	StyleColor   StyleType = "COLOR"
	StyleSelect  StyleType = "SELECT"
	StyleNumber  StyleType = "NUMBER"
	StyleShadow  StyleType = "SHADOW"
	StyleBorder  StyleType = "BORDER"
	StyleSpacing StyleType = "SPACING"
)

// PropDefinition describes one editable prop of a component.
type PropDefinition struct {
	Name         string   `json:"name"`
	Type         PropType `json:"type"`
	Label        string   `json:"label"`
	DefaultValue any      `json:"defaultValue,omitempty"`
	Required     bool     `json:"required,omitempty"`
	Options      []string `json:"options,omitempty"` // required iff Type == SELECT
	HelpText     string   `json:"helpText,omitempty"`
}

// StyleDefinition describes one editable style property.
type StyleDefinition struct {
	Property     string    `json:"property"`
	Type         StyleType `json:"type"`
	Label        string    `json:"label"`
	DefaultValue string    `json:"defaultValue,omitempty"`
	AllowedUnits []string  `json:"allowedUnits,omitempty"`
	Category     string    `json:"category,omitempty"`
}

// SizeConstraints bounds how an instance may be resized on the canvas.
// All dimension values are CSS length strings.
type SizeConstraints struct {
	Resizable           bool   `json:"resizable"`
	DefaultWidth        string `json:"defaultWidth,omitempty"`
	DefaultHeight       string `json:"defaultHeight,omitempty"`
	MinWidth            string `json:"minWidth,omitempty"`
	MaxWidth            string `json:"maxWidth,omitempty"`
	MinHeight           string `json:"minHeight,omitempty"`
	MaxHeight           string `json:"maxHeight,omitempty"`
	WidthLocked         bool   `json:"widthLocked,omitempty"`
	HeightLocked        bool   `json:"heightLocked,omitempty"`
	MaintainAspectRatio bool   `json:"maintainAspectRatio,omitempty"`
}

// Capabilities declares what the renderer may do with instances of the
// component.
type Capabilities struct {
	CanHaveChildren          bool `json:"canHaveChildren"`
	IsContainer              bool `json:"isContainer"`
	HasDataSource            bool `json:"hasDataSource"`
	Iterator                 bool `json:"iterator"`
	AutoHeight               bool `json:"autoHeight"`
	IsResizable              bool `json:"isResizable"`
	SupportsTemplateBindings bool `json:"supportsTemplateBindings"`
}

// Manifest is the immutable description of one component type contributed
// by a plugin. (PluginID, ComponentID) is globally unique.
type Manifest struct {
	PluginID      string   `json:"pluginId"`
	PluginVersion string   `json:"pluginVersion"`
	ComponentID   string   `json:"componentId"`
	DisplayName   string   `json:"displayName"`
	Category      Category `json:"category"`
	Icon          string   `json:"icon,omitempty"`
	Description   string   `json:"description,omitempty"`

	DefaultProps  map[string]any    `json:"defaultProps,omitempty"`
	DefaultStyles map[string]string `json:"defaultStyles,omitempty"`

	ConfigurableProps  []PropDefinition  `json:"configurableProps,omitempty"`
	ConfigurableStyles []StyleDefinition `json:"configurableStyles,omitempty"`

	SizeConstraints SizeConstraints `json:"sizeConstraints"`
	Capabilities    Capabilities    `json:"capabilities"`

	// AllowedChildTypes restricts child categories; nil means any.
	AllowedChildTypes []Category `json:"allowedChildTypes,omitempty"`

	// ReactComponentPath points at the renderer bundle inside the package.
	// The host treats it as an opaque string.
	ReactComponentPath string `json:"reactComponentPath,omitempty"`
}

// Key returns the global identity of the manifest.
func (m *Manifest) Key() string {
	return m.PluginID + "/" + m.ComponentID
}

// Validate checks the structural invariants a manifest must satisfy before
// it can be registered.
func (m *Manifest) Validate() error {
	if m.PluginID == "" {
		return fmt.Errorf("manifest missing pluginId")
	}
	if m.ComponentID == "" {
		return fmt.Errorf("manifest %s missing componentId", m.PluginID)
	}
	if m.DisplayName == "" {
		return fmt.Errorf("manifest %s missing displayName", m.Key())
	}
	if !ValidCategory(m.Category) {
		return fmt.Errorf("manifest %s has unknown category %q", m.Key(), m.Category)
	}
	for _, p := range m.ConfigurableProps {
		if p.Type == PropSelect && len(p.Options) == 0 {
			return fmt.Errorf("manifest %s: SELECT prop %q requires options", m.Key(), p.Name)
		}
	}
	for _, c := range m.AllowedChildTypes {
		if !ValidCategory(c) {
			return fmt.Errorf("manifest %s: unknown child category %q", m.Key(), c)
		}
	}
	return nil
}
