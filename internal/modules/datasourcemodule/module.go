package datasourcemodule

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/config"
	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/pagetree"
)

// ModuleID identifies the data-source module.
const ModuleID = "system.datasources"

// PageConfigs supplies page metadata and the per-page data-source mapping;
// the page store implements it.
type PageConfigs interface {
	GetPage(ctx context.Context, id string) (*database.Page, error)
	DataSourceConfigs(ctx context.Context, pageID string) (map[string]pagetree.DataSourceConfig, error)
}

// Module wraps the engine for the module manager.
type Module struct {
	cfg    *config.DataSourceConfig
	pages  PageConfigs
	logger hclog.Logger
	engine *Engine
}

// NewModule creates the data-source module.
func NewModule(cfg *config.DataSourceConfig, pages PageConfigs, logger hclog.Logger) *Module {
	return &Module{cfg: cfg, pages: pages, logger: logger}
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return "Data Sources" }
func (m *Module) Core() bool   { return true }

func (m *Module) Migrate(db *gorm.DB) error { return nil }

func (m *Module) Init(ctx context.Context) error {
	m.engine = NewEngine(m.cfg, nil, m.logger)
	return nil
}

// Engine exposes the engine for wiring; nil before Init.
func (m *Module) Engine() *Engine { return m.engine }
