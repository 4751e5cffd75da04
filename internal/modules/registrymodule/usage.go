package registrymodule

import (
	"context"
	"strings"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/pagetree"
)

// PageRef identifies a page referencing a component, with enough context
// for the editor to prompt before a destructive action.
type PageRef struct {
	PageID   string `json:"pageId"`
	PageName string `json:"pageName"`
	SiteID   string `json:"siteId"`
}

// PagesUsing returns the pages any of whose versions reference the
// component key. Historical versions count too: while a version exists it
// can be restored, so its components stay in use. A cheap LIKE prefilter
// narrows the candidate rows before the trees are parsed.
func (r *Registry) PagesUsing(ctx context.Context, key string) ([]PageRef, error) {
	pluginID, _, _ := strings.Cut(key, "/")

	var rows []database.PageVersion
	err := r.db.WithContext(ctx).
		Where("page_definition LIKE ?", `%"`+pluginID+`"%`).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, row := range rows {
		if seen[row.PageID] {
			continue
		}
		tree, err := pagetree.Parse([]byte(row.PageDefinition))
		if err != nil {
			r.logger.Warn("unparseable page definition during usage scan", "page", row.PageID, "error", err)
			continue
		}
		for _, ref := range tree.References() {
			if ref == key {
				seen[row.PageID] = true
				ids = append(ids, row.PageID)
				break
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var pages []database.Page
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&pages).Error; err != nil {
		return nil, err
	}
	out := make([]PageRef, 0, len(pages))
	for _, p := range pages {
		out = append(out, PageRef{PageID: p.ID, PageName: p.PageName, SiteID: p.SiteID})
	}
	return out, nil
}
