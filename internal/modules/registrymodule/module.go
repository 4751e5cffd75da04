package registrymodule

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/events"
)

// ModuleID identifies the component registry module.
const ModuleID = "system.registry"

// Module wraps the registry for the module manager.
type Module struct {
	bus      events.Bus
	logger   hclog.Logger
	registry *Registry
}

// NewModule creates the registry module.
func NewModule(bus events.Bus, logger hclog.Logger) *Module {
	return &Module{bus: bus, logger: logger}
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return "Component Registry" }
func (m *Module) Core() bool   { return true }

func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.ComponentRegistration{})
}

func (m *Module) Init(ctx context.Context) error {
	m.registry = NewRegistry(database.GetDB(), m.bus, m.logger)
	return nil
}

// Registry exposes the registry for wiring; nil before Init.
func (m *Module) Registry() *Registry { return m.registry }
