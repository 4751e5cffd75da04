package database

import "time"

// Site groups pages under one published site. Deleting a site cascades to
// its pages (and through them, page versions).
type Site struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	SiteName    string     `gorm:"not null" json:"siteName"`
	SiteSlug    string     `gorm:"uniqueIndex;not null" json:"siteSlug"`
	SiteMode    string     `json:"siteMode"`
	OwnerUserID string     `gorm:"index" json:"ownerUserId"`
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	DomainName  string     `json:"domainName,omitempty"`
	FaviconURL  string     `json:"faviconUrl,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Pages []Page `gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE" json:"-"`
}

// Page is page metadata only; the component tree lives in PageVersion.
// (SiteID, Slug) is unique.
type Page struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	SiteID       string     `gorm:"index:idx_pages_site_slug,unique;not null" json:"siteId"`
	Slug         string     `gorm:"index:idx_pages_site_slug,unique;not null" json:"slug"`
	PageName     string     `gorm:"not null" json:"pageName"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Path         string     `json:"path"`
	DataSources  string     `gorm:"type:text" json:"dataSources"` // JSON: key -> DataSourceConfig
	LayoutID     string     `json:"layoutId,omitempty"`
	ParentPageID *string    `json:"parentPageId,omitempty"`
	DisplayOrder int        `json:"displayOrder"`
	Published    bool       `json:"published"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`

	Versions []PageVersion `gorm:"foreignKey:PageID;constraint:OnDelete:CASCADE" json:"-"`
}

// PageVersion is an append-only snapshot of a page's component tree.
// VersionNumber strictly increases per page; at most one row per page has
// IsActive set.
type PageVersion struct {
	ID                string    `gorm:"primaryKey" json:"id"`
	PageID            string    `gorm:"index:idx_versions_page_number,unique;not null" json:"pageId"`
	VersionNumber     int       `gorm:"index:idx_versions_page_number,unique;not null" json:"versionNumber"`
	PageDefinition    string    `gorm:"type:text;not null" json:"pageDefinition"` // JSON tree
	ChangeDescription string    `json:"changeDescription"`
	CreatedByUserID   string    `json:"createdByUserId"`
	CreatedAt         time.Time `json:"createdAt"`
	IsActive          bool      `gorm:"index" json:"isActive"`
}

// ComponentRegistration is the persistent projection of a component
// manifest. (PluginID, ComponentID) is unique; rows outlive the plugin
// archive on disk and are only deleted when no page references them.
type ComponentRegistration struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PluginID        string    `gorm:"index:idx_registry_key,unique;not null" json:"pluginId"`
	ComponentID     string    `gorm:"index:idx_registry_key,unique;not null" json:"componentId"`
	ComponentName   string    `json:"componentName"`
	Category        string    `gorm:"index" json:"category"`
	Icon            string    `json:"icon,omitempty"`
	Manifest        string    `gorm:"type:text;not null" json:"-"` // serialized manifest blob
	ReactBundlePath string    `json:"reactBundlePath,omitempty"`
	IsActive        bool      `gorm:"index" json:"isActive"`
	RegisteredAt    time.Time `json:"registeredAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// PluginRecord mirrors lifecycle state so the admin plugin list survives
// restarts.
type PluginRecord struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	PluginID     string     `gorm:"uniqueIndex;not null" json:"pluginId"`
	Name         string     `json:"name"`
	Version      string     `json:"version"`
	Status       string     `gorm:"index" json:"status"` // discovered, loaded, active, inactive, uninstalled, error
	Description  string     `json:"description"`
	InstallPath  string     `json:"installPath"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	InstalledAt  time.Time  `json:"installedAt"`
	EnabledAt    *time.Time `json:"enabledAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// EventLog persists bus events for the admin activity feed.
type EventLog struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"index" json:"type"`
	Source    string    `gorm:"index" json:"source"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Data      string    `gorm:"type:text" json:"data,omitempty"` // JSON payload
	Priority  int       `json:"priority"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}
