package registrymodule

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// RegisterRoutes mounts the palette and admin registry endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	public := router.Group("/api/components")
	{
		public.GET("", m.listActive)
		public.GET("/category/:category", m.listActive)
		public.GET("/:pluginId/:componentId", m.getComponent)
		public.GET("/:pluginId/:componentId/manifest", m.getManifest)
	}
	admin := router.Group("/api/admin/components")
	{
		admin.GET("", m.listAll)
		admin.POST("/register", m.registerManifest)
		admin.PATCH("/:pluginId/:componentId/activate", m.setActive(true))
		admin.PATCH("/:pluginId/:componentId/deactivate", m.setActive(false))
		admin.DELETE("/:pluginId/:componentId", m.unregister)
	}
}

// paletteEntry is the editor-facing projection of a registration.
type paletteEntry struct {
	PluginID    string          `json:"pluginId"`
	ComponentID string          `json:"componentId"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Icon        string          `json:"icon,omitempty"`
	BundlePath  string          `json:"bundlePath,omitempty"`
	IsActive    bool            `json:"isActive"`
	Manifest    json.RawMessage `json:"manifest"`
}

func toPalette(row database.ComponentRegistration) paletteEntry {
	return paletteEntry{
		PluginID:    row.PluginID,
		ComponentID: row.ComponentID,
		Name:        row.ComponentName,
		Category:    row.Category,
		Icon:        row.Icon,
		BundlePath:  row.ReactBundlePath,
		IsActive:    row.IsActive,
		Manifest:    json.RawMessage(row.Manifest),
	}
}

func (m *Module) listActive(c *gin.Context) {
	category := c.Param("category")
	if category == "" {
		category = c.Query("category")
	}
	rows, err := m.registry.List(c.Request.Context(), ListOptions{
		OnlyActive: true,
		Category:   category,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]paletteEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPalette(row))
	}
	c.JSON(http.StatusOK, gin.H{"components": out, "total": len(out)})
}

func (m *Module) listAll(c *gin.Context) {
	rows, err := m.registry.List(c.Request.Context(), ListOptions{
		OnlyActive: c.Query("active") == "true",
		Category:   c.Query("category"),
		PluginID:   c.Query("plugin"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]paletteEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPalette(row))
	}
	c.JSON(http.StatusOK, gin.H{"components": out, "total": len(out)})
}

func (m *Module) getComponent(c *gin.Context) {
	row, err := m.registry.Get(c.Request.Context(), c.Param("pluginId"), c.Param("componentId"))
	if err != nil {
		if errors.Is(err, ErrNotRegistered) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toPalette(*row))
}

func (m *Module) getManifest(c *gin.Context) {
	manifest, err := m.registry.GetManifest(c.Request.Context(), c.Param("pluginId"), c.Param("componentId"))
	if err != nil {
		if errors.Is(err, ErrNotRegistered) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, manifest)
}

func (m *Module) registerManifest(c *gin.Context) {
	var manifest plugins.Manifest
	if err := c.ShouldBindJSON(&manifest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid manifest payload: " + err.Error()})
		return
	}
	if err := m.registry.Register(c.Request.Context(), manifest, ""); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	row, err := m.registry.Get(c.Request.Context(), manifest.PluginID, manifest.ComponentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toPalette(*row))
}

func (m *Module) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		pluginID, componentID := c.Param("pluginId"), c.Param("componentId")
		err := m.registry.SetComponentActive(c.Request.Context(), pluginID, componentID, active)
		if err != nil {
			if errors.Is(err, ErrNotRegistered) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !active {
			// Deactivation keeps pages referencing the component; surface
			// them so the editor can flag placeholders.
			pages, err := m.registry.PagesUsing(c.Request.Context(), pluginID+"/"+componentID)
			if err != nil {
				pages = nil
			}
			c.JSON(http.StatusOK, gin.H{"isActive": false, "affectedPages": pages})
			return
		}
		row, err := m.registry.Get(c.Request.Context(), pluginID, componentID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, toPalette(*row))
	}
}

func (m *Module) unregister(c *gin.Context) {
	err := m.registry.Unregister(c.Request.Context(), c.Param("pluginId"), c.Param("componentId"))
	if err != nil {
		var inUse *ErrComponentInUse
		switch {
		case errors.As(err, &inUse):
			c.JSON(http.StatusBadRequest, gin.H{"error": inUse.Error(), "affectedPages": inUse.Pages})
		case errors.Is(err, ErrNotRegistered):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.Status(http.StatusNoContent)
}
