package pluginmodule

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the admin plugin endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	admin := router.Group("/api/admin/plugins")
	{
		admin.GET("", m.listPlugins)
		admin.POST("/upload", m.uploadPlugin)
		admin.POST("/:id/activate", m.activatePlugin)
		admin.POST("/:id/deactivate", m.deactivatePlugin)
		admin.POST("/:id/reload", m.reloadPlugin)
		admin.DELETE("/:id", m.uninstallPlugin)
	}
	// Component archives upload through the components surface too; the
	// archive carries the plugin that contributes them.
	router.POST("/api/admin/components/upload", m.uploadPlugin)
}

type pluginInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	State       string   `json:"state"`
	Error       string   `json:"error,omitempty"`
	Components  int      `json:"components"`
	Resources   []string `json:"resources,omitempty"`
}

func toInfo(e LifecycleEntry) pluginInfo {
	d := e.Metadata.Descriptor
	return pluginInfo{
		ID:          d.ID,
		Name:        d.Name,
		Version:     d.Version,
		Type:        d.Type,
		Description: d.Description,
		State:       string(e.State),
		Error:       e.Error,
		Components:  len(e.Manifests),
		Resources:   e.Metadata.Resources,
	}
}

func (m *Module) listPlugins(c *gin.Context) {
	entries := m.manager.List()
	out := make([]pluginInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, toInfo(e))
	}
	c.JSON(http.StatusOK, gin.H{"plugins": out, "total": len(out)})
}

func (m *Module) uploadPlugin(c *gin.Context) {
	file, err := c.FormFile("plugin")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing plugin archive upload"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded archive"})
		return
	}
	defer f.Close()

	entry, err := m.manager.Install(c.Request.Context(), f, file.Size)
	if err != nil {
		// A rejected upload is the caller's problem regardless of which
		// stage refused it.
		var lerr *LifecycleError
		if errors.As(err, &lerr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": lerr.Error(), "kind": string(lerr.Kind), "plugin": lerr.Plugin})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toInfo(*entry))
}

func (m *Module) activatePlugin(c *gin.Context) {
	if err := m.manager.Activate(c.Request.Context(), c.Param("id")); err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (m *Module) deactivatePlugin(c *gin.Context) {
	if err := m.manager.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "inactive"})
}

func (m *Module) reloadPlugin(c *gin.Context) {
	if err := m.manager.Reload(c.Request.Context(), c.Param("id")); err != nil {
		respondLifecycleError(c, err)
		return
	}
	entry, err := m.manager.Get(c.Param("id"))
	if err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInfo(*entry))
}

func (m *Module) uninstallPlugin(c *gin.Context) {
	if err := m.manager.Uninstall(c.Request.Context(), c.Param("id")); err != nil {
		respondLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "uninstalled"})
}

// respondLifecycleError maps error kinds onto HTTP statuses.
func respondLifecycleError(c *gin.Context, err error) {
	var lerr *LifecycleError
	if !errors.As(err, &lerr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch lerr.Kind {
	case KindNotFound:
		status = http.StatusNotFound
	case KindInvalidTransition:
		status = http.StatusConflict
	case KindMalformedPackage, KindSchemaViolation, KindUnsupportedType:
		status = http.StatusBadRequest
	case KindLoadFailed, KindActivateFailed, KindIsolationInitFailed:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": lerr.Error(), "kind": string(lerr.Kind), "plugin": lerr.Plugin})
}
