package pagemodule

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/events"
	"github.com/fabrica-io/fabrica/internal/pagetree"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL slug: lowercase, non-alphanumerics collapse to
// single hyphens, leading and trailing hyphens trimmed.
func Slugify(name string) string {
	slug := strings.ToLower(name)
	slug = nonSlugChars.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "page"
	}
	return slug
}

// PageInput carries the writable page fields.
type PageInput struct {
	PageName     string  `json:"pageName" binding:"required"`
	Slug         string  `json:"slug"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Path         string  `json:"path"`
	LayoutID     string  `json:"layoutId"`
	ParentPageID *string `json:"parentPageId"`
	DisplayOrder int     `json:"displayOrder"`

	// DataSources maps source keys to their configs.
	DataSources map[string]pagetree.DataSourceConfig `json:"dataSources"`
}

// CreatePage inserts a page under a site. Slugs are derived from the name
// when absent and deduplicated within the site with a numeric suffix.
func (s *Store) CreatePage(ctx context.Context, siteID string, in PageInput) (*database.Page, error) {
	if _, err := s.GetSite(ctx, siteID); err != nil {
		return nil, err
	}

	slug := in.Slug
	if slug == "" {
		slug = Slugify(in.PageName)
	}
	slug, err := s.uniquePageSlug(ctx, siteID, slug, "")
	if err != nil {
		return nil, err
	}

	ds, err := encodeDataSources(in.DataSources)
	if err != nil {
		return nil, err
	}

	page := database.Page{
		ID:           uuid.NewString(),
		SiteID:       siteID,
		Slug:         slug,
		PageName:     in.PageName,
		Title:        in.Title,
		Description:  in.Description,
		Path:         in.Path,
		DataSources:  ds,
		LayoutID:     in.LayoutID,
		ParentPageID: in.ParentPageID,
		DisplayOrder: in.DisplayOrder,
	}
	if err := s.db.WithContext(ctx).Create(&page).Error; err != nil {
		return nil, err
	}
	s.publish(events.EventPageCreated, page.ID, "page created")
	return &page, nil
}

// uniquePageSlug appends -1, -2, ... until the slug is free within the
// site. excludeID skips the page being updated.
func (s *Store) uniquePageSlug(ctx context.Context, siteID, base, excludeID string) (string, error) {
	slug := base
	for n := 1; ; n++ {
		q := s.db.WithContext(ctx).Model(&database.Page{}).
			Where("site_id = ? AND slug = ?", siteID, slug)
		if excludeID != "" {
			q = q.Where("id <> ?", excludeID)
		}
		var count int64
		if err := q.Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}

// GetPage fetches a page by ID.
func (s *Store) GetPage(ctx context.Context, id string) (*database.Page, error) {
	var page database.Page
	err := s.db.WithContext(ctx).First(&page, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// GetPageBySlug fetches a page within a site.
func (s *Store) GetPageBySlug(ctx context.Context, siteID, slug string) (*database.Page, error) {
	var page database.Page
	err := s.db.WithContext(ctx).First(&page, "site_id = ? AND slug = ?", siteID, slug).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// ListPages returns a site's pages in display order.
func (s *Store) ListPages(ctx context.Context, siteID string) ([]database.Page, error) {
	var pages []database.Page
	err := s.db.WithContext(ctx).
		Where("site_id = ?", siteID).
		Order("display_order, page_name").
		Find(&pages).Error
	return pages, err
}

// UpdatePage patches page metadata and data-source configs.
func (s *Store) UpdatePage(ctx context.Context, id string, in PageInput) (*database.Page, error) {
	page, err := s.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.PageName != "" {
		updates["page_name"] = in.PageName
	}
	if in.Slug != "" && in.Slug != page.Slug {
		slug, err := s.uniquePageSlug(ctx, page.SiteID, Slugify(in.Slug), id)
		if err != nil {
			return nil, err
		}
		updates["slug"] = slug
	}
	if in.Title != "" {
		updates["title"] = in.Title
	}
	if in.Description != "" {
		updates["description"] = in.Description
	}
	if in.Path != "" {
		updates["path"] = in.Path
	}
	if in.LayoutID != "" {
		updates["layout_id"] = in.LayoutID
	}
	if in.DataSources != nil {
		ds, err := encodeDataSources(in.DataSources)
		if err != nil {
			return nil, err
		}
		updates["data_sources"] = ds
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(page).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.GetPage(ctx, id)
}

// ReorderPages rewrites display_order for a site's pages to match the
// given ID order. IDs outside the site are rejected; pages not listed keep
// their order value.
func (s *Store) ReorderPages(ctx context.Context, siteID string, pageIDs []string) error {
	if _, err := s.GetSite(ctx, siteID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, id := range pageIDs {
			res := tx.Model(&database.Page{}).
				Where("id = ? AND site_id = ?", id, siteID).
				Update("display_order", i)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("page %s: %w", id, ErrNotFound)
			}
		}
		return nil
	})
}

// DeletePage removes a page; versions cascade.
func (s *Store) DeletePage(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&database.Page{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.publish(events.EventPageDeleted, id, "page deleted")
	return nil
}

// DataSourceConfigs loads and decodes the data-source mapping of a page.
func (s *Store) DataSourceConfigs(ctx context.Context, pageID string) (map[string]pagetree.DataSourceConfig, error) {
	page, err := s.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return PageDataSources(page)
}

// PageDataSources decodes the page's data-source mapping. Every config is
// validated on write, so decode failures here mean external tampering.
func PageDataSources(page *database.Page) (map[string]pagetree.DataSourceConfig, error) {
	if page.DataSources == "" {
		return map[string]pagetree.DataSourceConfig{}, nil
	}
	var out map[string]pagetree.DataSourceConfig
	if err := json.Unmarshal([]byte(page.DataSources), &out); err != nil {
		return nil, fmt.Errorf("decoding data sources of page %s: %w", page.ID, err)
	}
	return out, nil
}

func encodeDataSources(configs map[string]pagetree.DataSourceConfig) (string, error) {
	if len(configs) == 0 {
		return "", nil
	}
	for key, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return "", fmt.Errorf("data source %q: %w", key, err)
		}
	}
	raw, err := json.Marshal(configs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
