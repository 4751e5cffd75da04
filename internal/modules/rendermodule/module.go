package rendermodule

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/modules/pagemodule"
)

// ModuleID identifies the render module.
const ModuleID = "system.render"

// Module wraps the orchestrator for the module manager.
type Module struct {
	pages        PageSource
	fetcher      DataFetcher
	manifests    ManifestSource
	logger       hclog.Logger
	orchestrator *Orchestrator
}

// NewModule creates the render module; dependencies come from the server
// wiring.
func NewModule(pages PageSource, fetcher DataFetcher, manifests ManifestSource, logger hclog.Logger) *Module {
	return &Module{pages: pages, fetcher: fetcher, manifests: manifests, logger: logger}
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return "Render Orchestrator" }
func (m *Module) Core() bool   { return true }

func (m *Module) Migrate(db *gorm.DB) error { return nil }

func (m *Module) Init(ctx context.Context) error {
	m.orchestrator = NewOrchestrator(m.pages, m.fetcher, m.manifests, m.logger)
	return nil
}

// RegisterRoutes mounts the render endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	router.POST("/api/render/pages/:pageId", m.renderPage)
	router.GET("/api/render/pages/:pageId", m.renderPage)
	router.GET("/api/render/sites/:siteSlug/pages/:pageSlug", m.renderBySlug)
}

type renderInput struct {
	Context map[string]any `json:"context"`
}

// renderContext builds the per-request parameter map: query string
// parameters first, the JSON body context on top. The resolve flag is
// routing, not data, and stays out.
func renderContext(c *gin.Context, body map[string]any) map[string]any {
	out := make(map[string]any)
	for k, vs := range c.Request.URL.Query() {
		if k == "resolve" || len(vs) == 0 {
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

func (m *Module) renderPage(c *gin.Context) {
	var in renderInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	result, err := m.orchestrator.Render(c.Request.Context(), c.Param("pageId"),
		renderContext(c, in.Context), c.Query("resolve") == "1")
	if err != nil {
		respondRenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (m *Module) renderBySlug(c *gin.Context) {
	result, err := m.orchestrator.RenderBySlug(c.Request.Context(),
		c.Param("siteSlug"), c.Param("pageSlug"), renderContext(c, nil), c.Query("resolve") == "1")
	if err != nil {
		respondRenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func respondRenderError(c *gin.Context, err error) {
	if errors.Is(err, pagemodule.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
