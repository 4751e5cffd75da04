package pagetree

import (
	"fmt"

	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// ManifestLookup resolves a component key to its active manifest, or nil
// when the component is unknown or inactive.
type ManifestLookup func(pluginID, componentID string) *plugins.Manifest

// Issue is one validation finding. Fatal issues reject a save; non-fatal
// issues surface as render warnings.
type Issue struct {
	InstanceID string `json:"instanceId,omitempty"`
	Component  string `json:"component,omitempty"`
	Message    string `json:"message"`
	Fatal      bool   `json:"fatal"`
}

func (i Issue) String() string {
	if i.InstanceID != "" {
		return fmt.Sprintf("%s (%s): %s", i.InstanceID, i.Component, i.Message)
	}
	return i.Message
}

// Validate checks the structural invariants of the tree: instance IDs are
// present and unique, parentId references match the actual nesting, and
// nesting respects canHaveChildren and allowedChildTypes. Component
// references that the lookup cannot resolve, and iterator configs on
// components not declaring the iterator capability, are reported as
// non-fatal so a page can still be saved while a plugin is deactivated.
func (t *Tree) Validate(lookup ManifestLookup) []Issue {
	var issues []Issue
	seen := make(map[string]string)

	var walk func(node *ComponentInstance, parent *ComponentInstance)
	walk = func(node *ComponentInstance, parent *ComponentInstance) {
		key := node.ComponentKey()

		if node.InstanceID == "" {
			issues = append(issues, Issue{Component: key, Message: "instance is missing instanceId", Fatal: true})
		} else if prev, dup := seen[node.InstanceID]; dup {
			issues = append(issues, Issue{
				InstanceID: node.InstanceID,
				Component:  key,
				Message:    fmt.Sprintf("duplicate instanceId (also used by %s)", prev),
				Fatal:      true,
			})
		} else {
			seen[node.InstanceID] = key
		}

		if node.PluginID == "" || node.ComponentID == "" {
			issues = append(issues, Issue{InstanceID: node.InstanceID, Message: "instance is missing pluginId or componentId", Fatal: true})
		}

		switch {
		case parent == nil:
			if node.ParentID != nil && *node.ParentID != "" {
				issues = append(issues, Issue{
					InstanceID: node.InstanceID,
					Component:  key,
					Message:    fmt.Sprintf("root instance declares parentId %q", *node.ParentID),
					Fatal:      true,
				})
			}
		case node.ParentID == nil || *node.ParentID != parent.InstanceID:
			issues = append(issues, Issue{
				InstanceID: node.InstanceID,
				Component:  key,
				Message:    fmt.Sprintf("parentId does not match enclosing instance %q", parent.InstanceID),
				Fatal:      true,
			})
		}

		if node.DataSource != nil {
			if err := node.DataSource.Validate(); err != nil {
				issues = append(issues, Issue{InstanceID: node.InstanceID, Component: key, Message: err.Error(), Fatal: true})
			}
		}

		var manifest *plugins.Manifest
		if lookup != nil {
			manifest = lookup(node.PluginID, node.ComponentID)
			if manifest == nil {
				issues = append(issues, Issue{
					InstanceID: node.InstanceID,
					Component:  key,
					Message:    "component is not registered or not active",
				})
			}
		}

		if manifest != nil {
			if len(node.Children) > 0 && !manifest.Capabilities.CanHaveChildren {
				issues = append(issues, Issue{
					InstanceID: node.InstanceID,
					Component:  key,
					Message:    "component does not accept children",
					Fatal:      true,
				})
			}
			// Advisory only: any component may carry an iteratorConfig,
			// the capability just tells the editor which ones expect it.
			if node.Iterator != nil && !manifest.Capabilities.Iterator {
				issues = append(issues, Issue{
					InstanceID: node.InstanceID,
					Component:  key,
					Message:    "iteratorConfig set on a component without the iterator capability",
				})
			}
			if len(manifest.AllowedChildTypes) > 0 && lookup != nil {
				for _, child := range node.Children {
					cm := lookup(child.PluginID, child.ComponentID)
					if cm == nil {
						continue
					}
					if !categoryAllowed(cm.Category, manifest.AllowedChildTypes) {
						issues = append(issues, Issue{
							InstanceID: child.InstanceID,
							Component:  child.ComponentKey(),
							Message:    fmt.Sprintf("category %q not allowed inside %s", cm.Category, key),
							Fatal:      true,
						})
					}
				}
			}
		}

		for _, child := range node.Children {
			walk(child, node)
		}
	}

	for _, root := range t.Components {
		walk(root, nil)
	}
	return issues
}

func categoryAllowed(cat plugins.Category, allowed []plugins.Category) bool {
	for _, a := range allowed {
		if a == cat {
			return true
		}
	}
	return false
}

// FatalIssues filters a finding list down to the save-rejecting ones.
func FatalIssues(issues []Issue) []Issue {
	var fatal []Issue
	for _, i := range issues {
		if i.Fatal {
			fatal = append(fatal, i)
		}
	}
	return fatal
}
