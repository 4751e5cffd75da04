package pluginmodule

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/config"
	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/events"
)

// ModuleID identifies the plugin lifecycle module.
const ModuleID = "system.plugins"

// Module drives plugin discovery and lifecycle for the host.
type Module struct {
	cfg      *config.PluginConfig
	logger   hclog.Logger
	bus      events.Bus
	registry ComponentRegistry

	manager  *LifecycleManager
	reloader *HotReloader
}

// NewModule creates the plugin module. The registry dependency is injected
// by the server during wiring.
func NewModule(cfg *config.PluginConfig, registry ComponentRegistry, bus events.Bus, logger hclog.Logger) *Module {
	return &Module{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		registry: registry,
	}
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return "Plugin Lifecycle" }
func (m *Module) Core() bool   { return true }

func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.PluginRecord{})
}

// Init discovers and loads every package in the plugin directory and, if
// configured, starts the hot reload watcher.
func (m *Module) Init(ctx context.Context) error {
	reader := NewPackageReader(m.cfg.Directory, m.logger)
	m.manager = NewLifecycleManager(reader, m.registry, m.bus, database.GetDB(), m.logger)
	m.manager.SetValidation(m.cfg.Validation)

	if err := m.manager.DiscoverAndLoadAll(ctx); err != nil {
		return fmt.Errorf("plugin discovery: %w", err)
	}

	if m.cfg.HotReload {
		m.reloader = NewHotReloader(m.manager, m.cfg.HotReloadInterval, m.logger)
		if err := m.reloader.Start(ctx); err != nil {
			m.logger.Error("hot reload unavailable", "error", err)
		}
	}
	return nil
}

// Shutdown stops the watcher; loaded domains are dropped with the process.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.reloader != nil {
		m.reloader.Stop()
	}
	return nil
}

// Manager exposes the lifecycle manager to the server wiring and tests.
func (m *Module) Manager() *LifecycleManager { return m.manager }
