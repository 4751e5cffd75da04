package datasourcemodule

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fabrica-io/fabrica/internal/modules/pagemodule"
	"github.com/fabrica-io/fabrica/internal/pagetree"
)

// RegisterRoutes mounts the data endpoints. The page-scoped GET routes
// serve rendering clients; the POST routes under /api/data take an
// explicit context body.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	pages := router.Group("/api/pages")
	{
		pages.GET("/:pageId/data", m.fetchPageData)
		pages.GET("/:pageId/data/batch", m.fetchPageData)
		pages.GET("/:pageId/data/:key", m.fetchPageKey)
		pages.POST("/data/validate", m.probe)
	}
	data := router.Group("/api/data")
	{
		data.POST("/pages/:pageId", m.fetchPageData)
		data.POST("/pages/:pageId/:key", m.fetchPageKey)
		data.POST("/batch", m.fetchBatch)
		data.POST("/test", m.probe)
	}
	admin := router.Group("/api/admin/data")
	{
		admin.DELETE("/cache", m.clearCache)
		admin.DELETE("/cache/:key", m.clearCacheKey)
	}
}

type fetchInput struct {
	// Context backs CONTEXT sources (user, query params, ambient values).
	Context map[string]any `json:"context"`
}

// requestContext builds the per-request parameter map: query string
// parameters first, the JSON body context on top. The keys selector is
// routing, not data, and stays out.
func requestContext(c *gin.Context, body map[string]any) map[string]any {
	out := make(map[string]any)
	for k, vs := range c.Request.URL.Query() {
		if k == "keys" || len(vs) == 0 {
			continue
		}
		out[k] = vs[0]
	}
	for k, v := range body {
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Result is the outcome envelope of probe and single-source calls. The
// HTTP status is always 200; success or failure travels in the body.
type Result struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
}

func toResult(value any, err error) Result {
	if err == nil {
		return Result{Success: true, StatusCode: http.StatusOK, Data: value}
	}
	res := Result{Success: false, StatusCode: http.StatusBadGateway, Message: err.Error()}
	var serr *StatusError
	if errors.As(err, &serr) {
		res.StatusCode = serr.Code
	}
	return res
}

// pageMeta is the page header carried by the aggregated data payload.
type pageMeta struct {
	PageID      string `json:"pageId"`
	PageName    string `json:"pageName"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path,omitempty"`
}

type pageData struct {
	Data        map[string]any    `json:"data"`
	Errors      map[string]string `json:"errors,omitempty"`
	PageMeta    pageMeta          `json:"pageMeta"`
	FetchTimeMs int64             `json:"fetchTimeMs"`
}

func (m *Module) fetchPageData(c *gin.Context) {
	var in fetchInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	page, err := m.pages.GetPage(c.Request.Context(), c.Param("pageId"))
	if err != nil {
		if errors.Is(err, pagemodule.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	configs, err := m.pages.DataSourceConfigs(c.Request.Context(), page.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if keys := c.Query("keys"); keys != "" {
		subset := make(map[string]pagetree.DataSourceConfig)
		for _, key := range strings.Split(keys, ",") {
			key = strings.TrimSpace(key)
			if cfg, ok := configs[key]; ok {
				subset[key] = cfg
			}
		}
		configs = subset
	}

	start := time.Now()
	result := m.engine.FetchAll(c.Request.Context(), configs, requestContext(c, in.Context))
	c.JSON(http.StatusOK, pageData{
		Data:        result.Data,
		Errors:      result.Errors,
		FetchTimeMs: time.Since(start).Milliseconds(),
		PageMeta: pageMeta{
			PageID:      page.ID,
			PageName:    page.PageName,
			Title:       page.Title,
			Description: page.Description,
			Path:        page.Path,
		},
	})
}

// fetchPageKey resolves a single configured source for a page.
func (m *Module) fetchPageKey(c *gin.Context) {
	var in fetchInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	configs, err := m.pages.DataSourceConfigs(c.Request.Context(), c.Param("pageId"))
	if err != nil {
		if errors.Is(err, pagemodule.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	key := c.Param("key")
	cfg, ok := configs[key]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data source named " + key})
		return
	}
	value, err := m.engine.Fetch(c.Request.Context(), key, cfg, requestContext(c, in.Context))
	if err != nil {
		c.JSON(http.StatusOK, toResult(nil, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "data": value})
}

type batchInput struct {
	Sources map[string]pagetree.DataSourceConfig `json:"sources" binding:"required"`
	Context map[string]any                       `json:"context"`
}

func (m *Module) fetchBatch(c *gin.Context) {
	var in batchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m.engine.FetchAll(c.Request.Context(), in.Sources, in.Context))
}

type probeInput struct {
	Source  pagetree.DataSourceConfig `json:"source" binding:"required"`
	Context map[string]any            `json:"context"`
}

func (m *Module) probe(c *gin.Context) {
	var in probeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	value, err := m.engine.Probe(c.Request.Context(), in.Source, in.Context)
	c.JSON(http.StatusOK, toResult(value, err))
}

func (m *Module) clearCache(c *gin.Context) {
	m.engine.Invalidate()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (m *Module) clearCacheKey(c *gin.Context) {
	m.engine.InvalidateKey(c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "key": c.Param("key")})
}
