// Package server wires the HTTP surface: module construction, route
// mounting, and graceful lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/fabrica-io/fabrica/internal/config"
	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/events"
	"github.com/fabrica-io/fabrica/internal/logger"
	"github.com/fabrica-io/fabrica/internal/modules/datasourcemodule"
	"github.com/fabrica-io/fabrica/internal/modules/modulemanager"
	"github.com/fabrica-io/fabrica/internal/modules/pagemodule"
	"github.com/fabrica-io/fabrica/internal/modules/pluginmodule"
	"github.com/fabrica-io/fabrica/internal/modules/registrymodule"
	"github.com/fabrica-io/fabrica/internal/modules/rendermodule"
	"github.com/fabrica-io/fabrica/internal/pagetree"
	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// Server is the running application.
type Server struct {
	cfg     *config.Config
	logger  hclog.Logger
	engine  *gin.Engine
	http    *http.Server
	bus     events.Bus
	manager *modulemanager.Manager
	plugins *pluginmodule.Module
	data    *datasourcemodule.Module
	started time.Time
}

// registryProxy defers registry resolution until after module init, so the
// plugin module can be constructed before the registry exists.
type registryProxy struct {
	module *registrymodule.Module
}

func (p *registryProxy) RegisterBatch(ctx context.Context, manifests []plugins.Manifest, bundleDir string) error {
	return p.module.Registry().RegisterBatch(ctx, manifests, bundleDir)
}

func (p *registryProxy) SetPluginActive(ctx context.Context, pluginID string, active bool) error {
	return p.module.Registry().SetPluginActive(ctx, pluginID, active)
}

func (p *registryProxy) UnregisterPlugin(ctx context.Context, pluginID string) error {
	return p.module.Registry().UnregisterPlugin(ctx, pluginID)
}

func (p *registryProxy) ActiveManifest(ctx context.Context, pluginID, componentID string) *plugins.Manifest {
	return p.module.Registry().ActiveManifest(ctx, pluginID, componentID)
}

// pagesProxy defers page store resolution the same way. It carries the
// full read surface so both the data-source engine and the render
// orchestrator can share it.
type pagesProxy struct {
	module *pagemodule.Module
}

func (p *pagesProxy) GetPage(ctx context.Context, id string) (*database.Page, error) {
	return p.module.GetStore().GetPage(ctx, id)
}

func (p *pagesProxy) GetSiteBySlug(ctx context.Context, slug string) (*database.Site, error) {
	return p.module.GetStore().GetSiteBySlug(ctx, slug)
}

func (p *pagesProxy) GetPageBySlug(ctx context.Context, siteID, slug string) (*database.Page, error) {
	return p.module.GetStore().GetPageBySlug(ctx, siteID, slug)
}

func (p *pagesProxy) ActiveVersion(ctx context.Context, pageID string) (*database.PageVersion, error) {
	return p.module.GetStore().ActiveVersion(ctx, pageID)
}

func (p *pagesProxy) LatestVersion(ctx context.Context, pageID string) (*database.PageVersion, error) {
	return p.module.GetStore().LatestVersion(ctx, pageID)
}

func (p *pagesProxy) DataSourceConfigs(ctx context.Context, pageID string) (map[string]pagetree.DataSourceConfig, error) {
	return p.module.GetStore().DataSourceConfigs(ctx, pageID)
}

// fetcherProxy defers engine resolution for the render module.
type fetcherProxy struct {
	module *datasourcemodule.Module
}

func (p *fetcherProxy) FetchAll(ctx context.Context, configs map[string]pagetree.DataSourceConfig, requestContext map[string]any) datasourcemodule.FetchResult {
	return p.module.Engine().FetchAll(ctx, configs, requestContext)
}

// New builds the server and initializes every module.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	log := logger.Named("server")

	bus := events.NewBus(events.DefaultConfig(), logger.Named("events"), events.NewDatabaseStorage(database.GetDB()))
	if err := bus.Start(ctx); err != nil {
		return nil, err
	}

	manager := modulemanager.NewManager(logger.Named("modules"), database.GetDB())

	registryMod := registrymodule.NewModule(bus, logger.Named("registry"))
	registry := &registryProxy{module: registryMod}
	pageMod := pagemodule.NewModule(registry, bus, logger.Named("pages"))
	pages := &pagesProxy{module: pageMod}
	pluginMod := pluginmodule.NewModule(&cfg.Plugins, registry, bus, logger.Named("plugins"))
	dataMod := datasourcemodule.NewModule(&cfg.DataSource, pages, logger.Named("datasource"))

	renderMod := rendermodule.NewModule(pages, &fetcherProxy{module: dataMod}, registry, logger.Named("render"))

	// Registration order is initialization order: stores first, then the
	// plugin host (its discovery registers components), then the modules
	// that read from everything.
	for _, mod := range []modulemanager.Module{registryMod, pageMod, pluginMod, dataMod, renderMod} {
		if err := manager.Register(mod); err != nil {
			return nil, err
		}
	}
	if err := manager.LoadAll(ctx); err != nil {
		return nil, err
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))
	if cfg.Server.EnableCORS {
		engine.Use(corsMiddleware())
	}

	s := &Server{
		cfg:     cfg,
		logger:  log,
		engine:  engine,
		bus:     bus,
		manager: manager,
		plugins: pluginMod,
		data:    dataMod,
		started: time.Now(),
	}
	s.registerSystemRoutes()
	manager.RegisterRoutes(engine)
	return s, nil
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go s.pruneEventLog(ctx)

	s.bus.PublishAsync(events.New(events.EventSystemStarted, "system", "server started", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops HTTP, the modules, and the bus.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.bus.PublishAsync(events.New(events.EventSystemStopped, "system", "server stopping", ""))

	var firstErr error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := s.manager.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.bus.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	s.logger.Info("server stopped")
	return firstErr
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

const eventRetention = 30 * 24 * time.Hour

// pruneEventLog drops persisted events past the retention window, once at
// startup and then hourly.
func (s *Server) pruneEventLog(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if err := events.PruneBefore(database.GetDB(), time.Now().Add(-eventRetention)); err != nil {
			s.logger.Warn("event log prune failed", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func requestLogger(log hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
