// Package registrymodule maintains the component registry: the persistent
// catalog of every component type plugins have contributed, with per
// component activation that gates what pages may use.
package registrymodule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/events"
	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// ErrComponentInUse rejects unregistration while pages still reference the
// component.
type ErrComponentInUse struct {
	Key   string
	Pages []PageRef
}

func (e *ErrComponentInUse) Error() string {
	return fmt.Sprintf("component %s is referenced by %d page(s)", e.Key, len(e.Pages))
}

// ErrNotRegistered reports an unknown component key.
var ErrNotRegistered = fmt.Errorf("component is not registered")

// Registry is the store behind the component catalog.
type Registry struct {
	db     *gorm.DB
	bus    events.Bus
	logger hclog.Logger
}

// NewRegistry creates a registry over db.
func NewRegistry(db *gorm.DB, bus events.Bus, logger hclog.Logger) *Registry {
	return &Registry{db: db, bus: bus, logger: logger.Named("registry")}
}

// Register upserts one manifest and activates the component: registering
// is the plugin's declaration that the component is servable. Re-register
// refreshes the stored manifest and reactivates.
func (r *Registry) Register(ctx context.Context, manifest plugins.Manifest, bundleDir string) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.upsert(tx, manifest, bundleDir)
	})
}

// RegisterBatch upserts all manifests of one plugin atomically: either the
// whole contribution lands or none of it does.
func (r *Registry) RegisterBatch(ctx context.Context, manifests []plugins.Manifest, bundleDir string) error {
	for i := range manifests {
		if err := manifests[i].Validate(); err != nil {
			return err
		}
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range manifests {
			if err := r.upsert(tx, manifests[i], bundleDir); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range manifests {
		r.publish(events.EventComponentRegistered, manifests[i].Key(), "component registered")
	}
	return nil
}

func (r *Registry) upsert(tx *gorm.DB, manifest plugins.Manifest, bundleDir string) error {
	blob, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("serializing manifest %s: %w", manifest.Key(), err)
	}

	bundlePath := ""
	if manifest.ReactComponentPath != "" {
		bundlePath = bundleDir + "/" + manifest.ReactComponentPath
	}

	var existing database.ComponentRegistration
	err = tx.Where("plugin_id = ? AND component_id = ?", manifest.PluginID, manifest.ComponentID).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		row := database.ComponentRegistration{
			PluginID:        manifest.PluginID,
			ComponentID:     manifest.ComponentID,
			ComponentName:   manifest.DisplayName,
			Category:        string(manifest.Category),
			Icon:            manifest.Icon,
			Manifest:        string(blob),
			ReactBundlePath: bundlePath,
			IsActive:        true,
			RegisteredAt:    time.Now(),
		}
		return tx.Create(&row).Error
	}
	if err != nil {
		return err
	}

	return tx.Model(&existing).Updates(map[string]any{
		"component_name":    manifest.DisplayName,
		"category":          string(manifest.Category),
		"icon":              manifest.Icon,
		"manifest":          string(blob),
		"react_bundle_path": bundlePath,
		"is_active":         true,
	}).Error
}

// Get returns one registration row.
func (r *Registry) Get(ctx context.Context, pluginID, componentID string) (*database.ComponentRegistration, error) {
	var row database.ComponentRegistration
	err := r.db.WithContext(ctx).
		Where("plugin_id = ? AND component_id = ?", pluginID, componentID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetManifest decodes the stored manifest of one component.
func (r *Registry) GetManifest(ctx context.Context, pluginID, componentID string) (*plugins.Manifest, error) {
	row, err := r.Get(ctx, pluginID, componentID)
	if err != nil {
		return nil, err
	}
	return decodeManifest(row)
}

// ActiveManifest returns the manifest only when the registration is
// active; the render path and tree validation use this lookup.
func (r *Registry) ActiveManifest(ctx context.Context, pluginID, componentID string) *plugins.Manifest {
	row, err := r.Get(ctx, pluginID, componentID)
	if err != nil || !row.IsActive {
		return nil
	}
	m, err := decodeManifest(row)
	if err != nil {
		r.logger.Warn("stored manifest is unreadable", "component", pluginID+"/"+componentID, "error", err)
		return nil
	}
	return m
}

// ListOptions filter List.
type ListOptions struct {
	OnlyActive bool
	Category   string
	PluginID   string
}

// List returns registrations matching the options, ordered by key.
func (r *Registry) List(ctx context.Context, opts ListOptions) ([]database.ComponentRegistration, error) {
	q := r.db.WithContext(ctx).Model(&database.ComponentRegistration{})
	if opts.OnlyActive {
		q = q.Where("is_active = ?", true)
	}
	if opts.Category != "" {
		q = q.Where("category = ?", opts.Category)
	}
	if opts.PluginID != "" {
		q = q.Where("plugin_id = ?", opts.PluginID)
	}
	var rows []database.ComponentRegistration
	err := q.Order("plugin_id, component_id").Find(&rows).Error
	return rows, err
}

// SetComponentActive flips activation of one component.
func (r *Registry) SetComponentActive(ctx context.Context, pluginID, componentID string, active bool) error {
	res := r.db.WithContext(ctx).Model(&database.ComponentRegistration{}).
		Where("plugin_id = ? AND component_id = ?", pluginID, componentID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotRegistered
	}
	t := events.EventComponentActivated
	if !active {
		t = events.EventComponentDeactivated
	}
	r.publish(t, pluginID+"/"+componentID, "component activation changed")
	return nil
}

// SetPluginActive flips activation of every component a plugin contributed.
// Called by the plugin lifecycle on activate/deactivate.
func (r *Registry) SetPluginActive(ctx context.Context, pluginID string, active bool) error {
	return r.db.WithContext(ctx).Model(&database.ComponentRegistration{}).
		Where("plugin_id = ?", pluginID).
		Update("is_active", active).Error
}

// Unregister removes one component unless an active page version still
// references it, in which case ErrComponentInUse lists the pages.
func (r *Registry) Unregister(ctx context.Context, pluginID, componentID string) error {
	key := pluginID + "/" + componentID
	pages, err := r.PagesUsing(ctx, key)
	if err != nil {
		return err
	}
	if len(pages) > 0 {
		return &ErrComponentInUse{Key: key, Pages: pages}
	}
	res := r.db.WithContext(ctx).
		Where("plugin_id = ? AND component_id = ?", pluginID, componentID).
		Delete(&database.ComponentRegistration{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotRegistered
	}
	r.publish(events.EventComponentUnregistered, key, "component unregistered")
	return nil
}

// UnregisterPlugin handles a plugin uninstall: components no page uses are
// deleted, referenced ones are kept but deactivated so existing pages keep
// rendering placeholders instead of losing their definitions.
func (r *Registry) UnregisterPlugin(ctx context.Context, pluginID string) error {
	rows, err := r.List(ctx, ListOptions{PluginID: pluginID})
	if err != nil {
		return err
	}
	for _, row := range rows {
		key := row.PluginID + "/" + row.ComponentID
		pages, err := r.PagesUsing(ctx, key)
		if err != nil {
			return err
		}
		if len(pages) > 0 {
			if err := r.db.WithContext(ctx).Model(&database.ComponentRegistration{}).
				Where("id = ?", row.ID).Update("is_active", false).Error; err != nil {
				return err
			}
			r.logger.Info("keeping registration of referenced component", "component", key, "pages", len(pages))
			continue
		}
		if err := r.db.WithContext(ctx).Delete(&database.ComponentRegistration{}, row.ID).Error; err != nil {
			return err
		}
		r.publish(events.EventComponentUnregistered, key, "component unregistered")
	}
	return nil
}

func (r *Registry) publish(t events.EventType, key, title string) {
	if r.bus == nil {
		return
	}
	r.bus.PublishAsync(events.New(t, "registrymodule", title, key).WithData(map[string]any{"component": key}))
}

func decodeManifest(row *database.ComponentRegistration) (*plugins.Manifest, error) {
	var m plugins.Manifest
	if err := json.Unmarshal([]byte(row.Manifest), &m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s/%s: %w", row.PluginID, row.ComponentID, err)
	}
	return &m, nil
}
