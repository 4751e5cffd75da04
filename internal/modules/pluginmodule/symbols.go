package pluginmodule

import (
	"reflect"

	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// hostSymbols is the only non-stdlib import surface exposed inside an
// isolation domain. Plugin source imports
// "github.com/fabrica-io/fabrica/pkg/plugins" and sees exactly these
// symbols; host internals never leak in.
var hostSymbols = map[string]map[string]reflect.Value{
	"github.com/fabrica-io/fabrica/pkg/plugins/plugins": {
		// manifest types
		"Manifest":        reflect.ValueOf((*plugins.Manifest)(nil)),
		"PropDefinition":  reflect.ValueOf((*plugins.PropDefinition)(nil)),
		"StyleDefinition": reflect.ValueOf((*plugins.StyleDefinition)(nil)),
		"SizeConstraints": reflect.ValueOf((*plugins.SizeConstraints)(nil)),
		"Capabilities":    reflect.ValueOf((*plugins.Capabilities)(nil)),
		"Category":        reflect.ValueOf((*plugins.Category)(nil)),
		"PropType":        reflect.ValueOf((*plugins.PropType)(nil)),
		"StyleType":       reflect.ValueOf((*plugins.StyleType)(nil)),

		// category constants
		"CategoryUI":     reflect.ValueOf(plugins.CategoryUI),
		"CategoryLayout": reflect.ValueOf(plugins.CategoryLayout),
		"CategoryForm":   reflect.ValueOf(plugins.CategoryForm),
		"CategoryWidget": reflect.ValueOf(plugins.CategoryWidget),
		"CategoryNavbar": reflect.ValueOf(plugins.CategoryNavbar),
		"CategoryData":   reflect.ValueOf(plugins.CategoryData),
		"Categories":     reflect.ValueOf(plugins.Categories),
		"ValidCategory":  reflect.ValueOf(plugins.ValidCategory),

		// prop editor types
		"PropString":   reflect.ValueOf(plugins.PropString),
		"PropNumber":   reflect.ValueOf(plugins.PropNumber),
		"PropBoolean":  reflect.ValueOf(plugins.PropBoolean),
		"PropSelect":   reflect.ValueOf(plugins.PropSelect),
		"PropColor":    reflect.ValueOf(plugins.PropColor),
		"PropURL":      reflect.ValueOf(plugins.PropURL),
		"PropImage":    reflect.ValueOf(plugins.PropImage),
		"PropRichText": reflect.ValueOf(plugins.PropRichText),
		"PropJSON":     reflect.ValueOf(plugins.PropJSON),

		// style editor types
		"StyleSize":    reflect.ValueOf(plugins.StyleSize),
		"StyleColor":   reflect.ValueOf(plugins.StyleColor),
		"StyleSelect":  reflect.ValueOf(plugins.StyleSelect),
		"StyleNumber":  reflect.ValueOf(plugins.StyleNumber),
		"StyleShadow":  reflect.ValueOf(plugins.StyleShadow),
		"StyleBorder":  reflect.ValueOf(plugins.StyleBorder),
		"StyleSpacing": reflect.ValueOf(plugins.StyleSpacing),

		// entry contract
		"Entry":         reflect.ValueOf((*plugins.Entry)(nil)),
		"Hooks":         reflect.ValueOf((*plugins.Hooks)(nil)),
		"PluginContext": reflect.ValueOf((*plugins.PluginContext)(nil)),
		"Logger":        reflect.ValueOf((*plugins.Logger)(nil)),
	},
}
