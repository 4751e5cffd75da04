// Package pagemodule owns sites, pages, and the append-only page version
// store.
package pagemodule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/events"
)

// ErrNotFound reports a missing site, page, or version.
var ErrNotFound = fmt.Errorf("not found")

// ErrSlugTaken rejects a site slug already in use.
var ErrSlugTaken = fmt.Errorf("slug already in use")

// SiteInput carries the writable site fields.
type SiteInput struct {
	SiteName    string `json:"siteName" binding:"required"`
	SiteSlug    string `json:"siteSlug"`
	SiteMode    string `json:"siteMode"`
	OwnerUserID string `json:"ownerUserId"`
	DomainName  string `json:"domainName"`
	FaviconURL  string `json:"faviconUrl"`
}

// CreateSite inserts a site; the slug is derived from the name when not
// given.
func (s *Store) CreateSite(ctx context.Context, in SiteInput) (*database.Site, error) {
	slug := in.SiteSlug
	if slug == "" {
		slug = Slugify(in.SiteName)
	}
	site := database.Site{
		ID:          uuid.NewString(),
		SiteName:    in.SiteName,
		SiteSlug:    slug,
		SiteMode:    in.SiteMode,
		OwnerUserID: in.OwnerUserID,
		DomainName:  in.DomainName,
		FaviconURL:  in.FaviconURL,
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&database.Site{}).Where("site_slug = ?", slug).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrSlugTaken
	}
	if err := s.db.WithContext(ctx).Create(&site).Error; err != nil {
		return nil, err
	}
	return &site, nil
}

// GetSite fetches a site by ID.
func (s *Store) GetSite(ctx context.Context, id string) (*database.Site, error) {
	var site database.Site
	err := s.db.WithContext(ctx).First(&site, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// GetSiteBySlug fetches a site by its slug; the public render path uses it.
func (s *Store) GetSiteBySlug(ctx context.Context, slug string) (*database.Site, error) {
	var site database.Site
	err := s.db.WithContext(ctx).First(&site, "site_slug = ?", slug).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// ListSites returns every site, newest first.
func (s *Store) ListSites(ctx context.Context) ([]database.Site, error) {
	var sites []database.Site
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&sites).Error
	return sites, err
}

// UpdateSite patches the writable fields of a site.
func (s *Store) UpdateSite(ctx context.Context, id string, in SiteInput) (*database.Site, error) {
	site, err := s.GetSite(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.SiteName != "" {
		updates["site_name"] = in.SiteName
	}
	if in.SiteSlug != "" && in.SiteSlug != site.SiteSlug {
		var count int64
		if err := s.db.WithContext(ctx).Model(&database.Site{}).
			Where("site_slug = ? AND id <> ?", in.SiteSlug, id).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrSlugTaken
		}
		updates["site_slug"] = in.SiteSlug
	}
	if in.SiteMode != "" {
		updates["site_mode"] = in.SiteMode
	}
	if in.DomainName != "" {
		updates["domain_name"] = in.DomainName
	}
	if in.FaviconURL != "" {
		updates["favicon_url"] = in.FaviconURL
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(site).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.GetSite(ctx, id)
}

// DeleteSite removes a site; pages and versions cascade.
func (s *Store) DeleteSite(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&database.Site{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSitePublished flips the published flag.
func (s *Store) SetSitePublished(ctx context.Context, id string, published bool) (*database.Site, error) {
	site, err := s.GetSite(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{"published": published}
	if published {
		now := time.Now()
		updates["published_at"] = &now
	}
	if err := s.db.WithContext(ctx).Model(site).Updates(updates).Error; err != nil {
		return nil, err
	}
	t := events.EventSitePublished
	if !published {
		t = events.EventSiteUnpublished
	}
	s.publish(t, site.SiteSlug, "site publication changed")
	return s.GetSite(ctx, id)
}
