// Package modulemanager wires the host's functional modules together:
// registration, migration, initialization order, and route mounting.
package modulemanager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// Module is one functional unit of the host (plugin lifecycle, registry,
// pages, data sources, rendering, events).
type Module interface {
	ID() string
	Name() string
	Core() bool
	Migrate(db *gorm.DB) error
	Init(ctx context.Context) error
}

// RouteRegistrar is implemented by modules that mount HTTP routes.
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// Shutdowner is implemented by modules that hold background resources.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Manager owns the registered modules and drives their lifecycle.
type Manager struct {
	mu      sync.RWMutex
	modules map[string]Module
	order   []string // registration order; initialization follows it
	logger  hclog.Logger
	db      *gorm.DB
	started bool
}

// NewManager creates an empty module manager.
func NewManager(logger hclog.Logger, db *gorm.DB) *Manager {
	return &Manager{
		modules: make(map[string]Module),
		logger:  logger.Named("modulemanager"),
		db:      db,
	}
}

// Register adds a module. Registration order determines initialization
// order, so callers register dependencies first.
func (m *Manager) Register(mod Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("cannot register module %s after startup", mod.ID())
	}
	if _, exists := m.modules[mod.ID()]; exists {
		return fmt.Errorf("module %s already registered", mod.ID())
	}
	m.modules[mod.ID()] = mod
	m.order = append(m.order, mod.ID())
	m.logger.Debug("module registered", "id", mod.ID(), "name", mod.Name(), "core", mod.Core())
	return nil
}

// Get returns a registered module by ID.
func (m *Manager) Get(id string) (Module, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mod, ok := m.modules[id]
	return mod, ok
}

// List returns the registered modules sorted by ID.
func (m *Manager) List() []Module {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Module, 0, len(m.modules))
	for _, mod := range m.modules {
		out = append(out, mod)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// LoadAll migrates and initializes every module in registration order.
// A core module failing aborts startup; a non-core failure is logged and
// skipped.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	m.started = true
	m.mu.Unlock()

	for _, id := range order {
		m.mu.RLock()
		mod := m.modules[id]
		m.mu.RUnlock()

		if err := mod.Migrate(m.db); err != nil {
			if mod.Core() {
				return fmt.Errorf("migrating module %s: %w", id, err)
			}
			m.logger.Error("module migration failed, skipping", "id", id, "error", err)
			continue
		}
		if err := mod.Init(ctx); err != nil {
			if mod.Core() {
				return fmt.Errorf("initializing module %s: %w", id, err)
			}
			m.logger.Error("module init failed, skipping", "id", id, "error", err)
			continue
		}
		m.logger.Info("module loaded", "id", id, "name", mod.Name())
	}
	return nil
}

// RegisterRoutes mounts routes for every module that exposes them, in
// registration order.
func (m *Manager) RegisterRoutes(router *gin.Engine) {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, id := range order {
		m.mu.RLock()
		mod := m.modules[id]
		m.mu.RUnlock()
		if rr, ok := mod.(RouteRegistrar); ok {
			rr.RegisterRoutes(router)
			m.logger.Debug("module routes registered", "id", id)
		}
	}
}

// Shutdown stops modules in reverse registration order.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		m.mu.RLock()
		mod := m.modules[order[i]]
		m.mu.RUnlock()
		if s, ok := mod.(Shutdowner); ok {
			if err := s.Shutdown(ctx); err != nil {
				m.logger.Error("module shutdown failed", "id", order[i], "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}
