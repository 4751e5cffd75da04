package pagemodule

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts site, page, and version endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	sites := router.Group("/api/sites")
	{
		sites.POST("", m.createSite)
		sites.GET("", m.listSites)
		sites.GET("/:siteId", m.getSite)
		sites.PUT("/:siteId", m.updateSite)
		sites.DELETE("/:siteId", m.deleteSite)
		sites.POST("/:siteId/publish", m.setPublished(true))
		sites.POST("/:siteId/unpublish", m.setPublished(false))

		sites.POST("/:siteId/pages", m.createPage)
		sites.GET("/:siteId/pages", m.listPages)
		sites.POST("/:siteId/pages/reorder", m.reorderPages)
	}

	pages := router.Group("/api/pages")
	{
		pages.GET("/:pageId", m.getPage)
		pages.PUT("/:pageId", m.updatePage)
		pages.DELETE("/:pageId", m.deletePage)

		pages.POST("/:pageId/versions", m.saveVersion)
		pages.GET("/:pageId/versions", m.history)
		pages.GET("/:pageId/versions/active", m.activeVersion)
		pages.GET("/:pageId/versions/:number", m.getVersion)
		pages.POST("/:pageId/versions/:number/restore", m.restoreVersion)
		pages.DELETE("/:pageId/versions/:number", m.deleteVersion)
	}
}

func respondStoreError(c *gin.Context, err error) {
	var invalid *ErrInvalidTree
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrSlugTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrActiveVersion):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &invalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": invalid.Error(), "issues": invalid.Issues})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (m *Module) createSite(c *gin.Context) {
	var in SiteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	site, err := m.store.CreateSite(c.Request.Context(), in)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, site)
}

func (m *Module) listSites(c *gin.Context) {
	sites, err := m.store.ListSites(c.Request.Context())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sites": sites, "total": len(sites)})
}

func (m *Module) getSite(c *gin.Context) {
	site, err := m.store.GetSite(c.Request.Context(), c.Param("siteId"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, site)
}

func (m *Module) updateSite(c *gin.Context) {
	var in SiteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	site, err := m.store.UpdateSite(c.Request.Context(), c.Param("siteId"), in)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, site)
}

func (m *Module) deleteSite(c *gin.Context) {
	if err := m.store.DeleteSite(c.Request.Context(), c.Param("siteId")); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (m *Module) setPublished(published bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		site, err := m.store.SetSitePublished(c.Request.Context(), c.Param("siteId"), published)
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, site)
	}
}

func (m *Module) createPage(c *gin.Context) {
	var in PageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := m.store.CreatePage(c.Request.Context(), c.Param("siteId"), in)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, page)
}

func (m *Module) listPages(c *gin.Context) {
	pages, err := m.store.ListPages(c.Request.Context(), c.Param("siteId"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages, "total": len(pages)})
}

type reorderInput struct {
	PageIDs []string `json:"pageIds" binding:"required"`
}

func (m *Module) reorderPages(c *gin.Context) {
	var in reorderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := m.store.ReorderPages(c.Request.Context(), c.Param("siteId"), in.PageIDs); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reordered"})
}

func (m *Module) getPage(c *gin.Context) {
	page, err := m.store.GetPage(c.Request.Context(), c.Param("pageId"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (m *Module) updatePage(c *gin.Context) {
	var in PageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := m.store.UpdatePage(c.Request.Context(), c.Param("pageId"), in)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (m *Module) deletePage(c *gin.Context) {
	if err := m.store.DeletePage(c.Request.Context(), c.Param("pageId")); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type saveVersionInput struct {
	PageDefinition    json.RawMessage `json:"pageDefinition" binding:"required"`
	ChangeDescription string          `json:"changeDescription"`
	UserID            string          `json:"userId"`
}

func (m *Module) saveVersion(c *gin.Context) {
	var in saveVersionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	version, err := m.store.SaveVersion(c.Request.Context(), c.Param("pageId"),
		in.PageDefinition, in.ChangeDescription, in.UserID)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

func (m *Module) history(c *gin.Context) {
	versions, err := m.store.History(c.Request.Context(), c.Param("pageId"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions, "total": len(versions)})
}

func (m *Module) activeVersion(c *gin.Context) {
	version, err := m.store.ActiveVersion(c.Request.Context(), c.Param("pageId"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

func versionNumber(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version number"})
		return 0, false
	}
	return n, true
}

func (m *Module) getVersion(c *gin.Context) {
	n, ok := versionNumber(c)
	if !ok {
		return
	}
	version, err := m.store.GetVersion(c.Request.Context(), c.Param("pageId"), n)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

func (m *Module) restoreVersion(c *gin.Context) {
	n, ok := versionNumber(c)
	if !ok {
		return
	}
	version, err := m.store.RestoreVersion(c.Request.Context(), c.Param("pageId"), n)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

func (m *Module) deleteVersion(c *gin.Context) {
	n, ok := versionNumber(c)
	if !ok {
		return
	}
	if err := m.store.DeleteVersion(c.Request.Context(), c.Param("pageId"), n); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
