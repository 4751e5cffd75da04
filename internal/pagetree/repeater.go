package pagetree

import (
	"strconv"

	"github.com/fabrica-io/fabrica/internal/template"
)

func (it *IteratorConfig) itemAlias() string {
	if it != nil && it.ItemAlias != "" {
		return it.ItemAlias
	}
	return "item"
}

func (it *IteratorConfig) indexAlias() string {
	if it != nil && it.IndexAlias != "" {
		return it.IndexAlias
	}
	return "index"
}

// ExpandRepeater materializes a repeater instance against its source value:
// the child templates are cloned once per array element with props and
// styles resolved under the per-element binding. A nil, non-array or empty
// source yields no clones. The repeater node itself is returned with its
// children replaced by the expanded clones.
func ExpandRepeater(node *ComponentInstance, source any, base *template.DataContext) *ComponentInstance {
	out := cloneShallow(node)
	out.Iterator = nil

	items, ok := source.([]any)
	if !ok || len(items) == 0 {
		out.Children = nil
		return out
	}

	for idx, item := range items {
		ctx := template.DataContext{
			Item:       item,
			Index:      idx,
			ItemAlias:  node.Iterator.itemAlias(),
			IndexAlias: node.Iterator.indexAlias(),
		}
		if base != nil {
			ctx.DataSources = base.DataSources
			ctx.SharedData = base.SharedData
		}
		key := cloneKey(node, item, idx)
		for _, child := range node.Children {
			out.Children = append(out.Children, cloneResolved(child, &ctx, out.InstanceID, key))
		}
	}
	return out
}

// cloneKey derives the stable suffix for one element's clones: the value at
// keyPath when configured and resolvable, the element index otherwise.
func cloneKey(node *ComponentInstance, item any, idx int) string {
	if node.Iterator != nil && node.Iterator.KeyPath != "" {
		if v := template.NavigatePath(item, node.Iterator.KeyPath); v != nil {
			return template.Stringify(v)
		}
	}
	return strconv.Itoa(idx)
}

// cloneResolved deep-copies a child template with every binding resolved
// under ctx. Clone instance IDs are suffixed with the element key so each
// clone stays uniquely addressable.
func cloneResolved(node *ComponentInstance, ctx *template.DataContext, parentID, key string) *ComponentInstance {
	out := cloneShallow(node)
	out.InstanceID = node.InstanceID + ":" + key
	out.ParentID = &parentID
	out.Props = ctx.ResolveProps(node.Props)
	if node.Styles != nil {
		styles := make(map[string]string, len(node.Styles))
		for k, v := range node.Styles {
			styles[k] = ctx.ResolveString(v)
		}
		out.Styles = styles
	}
	for _, child := range node.Children {
		out.Children = append(out.Children, cloneResolved(child, ctx, out.InstanceID, key))
	}
	return out
}

func cloneShallow(node *ComponentInstance) *ComponentInstance {
	out := *node
	out.Children = nil
	if node.ParentID != nil {
		pid := *node.ParentID
		out.ParentID = &pid
	}
	return &out
}
