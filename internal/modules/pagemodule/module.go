package pagemodule

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/events"
	"github.com/fabrica-io/fabrica/internal/pagetree"
	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// ModuleID identifies the page module.
const ModuleID = "system.pages"

// ManifestSource is what the version store needs from the registry: the
// manifest of an active component, nil otherwise.
type ManifestSource interface {
	ActiveManifest(ctx context.Context, pluginID, componentID string) *plugins.Manifest
}

// Store implements site, page, and version persistence.
type Store struct {
	db        *gorm.DB
	bus       events.Bus
	manifests ManifestSource
	logger    hclog.Logger
}

// NewStore creates the store. manifests may be nil, which skips component
// existence checks during tree validation (structural checks still run).
func NewStore(db *gorm.DB, manifests ManifestSource, bus events.Bus, logger hclog.Logger) *Store {
	return &Store{db: db, bus: bus, manifests: manifests, logger: logger.Named("pages")}
}

func (s *Store) lookup() pagetree.ManifestLookup {
	if s.manifests == nil {
		return nil
	}
	return func(pluginID, componentID string) *plugins.Manifest {
		return s.manifests.ActiveManifest(context.Background(), pluginID, componentID)
	}
}

func (s *Store) publish(t events.EventType, id, title string) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(events.New(t, "pagemodule", title, id).WithData(map[string]any{"id": id}))
}

// Module wraps the store for the module manager.
type Module struct {
	bus       events.Bus
	logger    hclog.Logger
	manifests ManifestSource
	store     *Store
}

// NewModule creates the page module; the manifest source is injected by
// the server wiring.
func NewModule(manifests ManifestSource, bus events.Bus, logger hclog.Logger) *Module {
	return &Module{bus: bus, logger: logger, manifests: manifests}
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return "Pages & Versions" }
func (m *Module) Core() bool   { return true }

func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.Site{}, &database.Page{}, &database.PageVersion{})
}

func (m *Module) Init(ctx context.Context) error {
	m.store = NewStore(database.GetDB(), m.manifests, m.bus, m.logger)
	return nil
}

// Store exposes the store for wiring; nil before Init.
func (m *Module) GetStore() *Store { return m.store }
