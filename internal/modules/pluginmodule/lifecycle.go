package pluginmodule

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/events"
	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// ComponentRegistry is the slice of the registry the lifecycle manager
// drives: registration on load, activation flips on state changes, removal
// on uninstall.
type ComponentRegistry interface {
	RegisterBatch(ctx context.Context, manifests []plugins.Manifest, bundleDir string) error
	SetPluginActive(ctx context.Context, pluginID string, active bool) error
	UnregisterPlugin(ctx context.Context, pluginID string) error
}

// LifecycleManager owns every known plugin and serializes its transitions.
type LifecycleManager struct {
	reader   *PackageReader
	registry ComponentRegistry
	bus      events.Bus
	db       *gorm.DB
	logger   hclog.Logger

	validate bool

	mu      sync.RWMutex
	entries map[string]*LifecycleEntry
	domains map[string]*IsolationDomain
	locks   map[string]*sync.Mutex
}

// NewLifecycleManager wires the manager. registry and bus may be nil in
// tests.
func NewLifecycleManager(reader *PackageReader, registry ComponentRegistry, bus events.Bus, db *gorm.DB, logger hclog.Logger) *LifecycleManager {
	return &LifecycleManager{
		reader:   reader,
		registry: registry,
		bus:      bus,
		db:       db,
		logger:   logger.Named("plugin-lifecycle"),
		validate: true,
		entries:  make(map[string]*LifecycleEntry),
		domains:  make(map[string]*IsolationDomain),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetValidation toggles manifest validation during load. On by default;
// development hosts iterating on manifests can switch it off through the
// plugins.validation setting.
func (m *LifecycleManager) SetValidation(enabled bool) { m.validate = enabled }

// pluginLock returns the per-plugin mutex, creating it on first use.
// Transitions for different plugins run concurrently; transitions for the
// same plugin serialize.
func (m *LifecycleManager) pluginLock(pluginID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[pluginID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[pluginID] = l
	}
	return l
}

// DiscoverAndLoadAll scans the plugin directory and drives every valid
// package to active. Plugins with a persisted record restore their
// recorded state instead, so a deliberately deactivated plugin stays
// inactive across restarts. One failing plugin never blocks the others.
func (m *LifecycleManager) DiscoverAndLoadAll(ctx context.Context) error {
	found, err := m.reader.Discover()
	if err != nil {
		return err
	}

	records := m.loadRecords()

	for i := range found {
		meta := found[i]
		id := meta.Descriptor.ID

		// Re-discovery (hot reload) must not disturb plugins that are
		// already loaded; only fresh or previously failed packages go
		// through a load.
		if existing, _ := m.get(id); existing != nil && existing.State != StateError {
			continue
		}

		m.mu.Lock()
		m.entries[id] = &LifecycleEntry{Metadata: meta, State: StateDiscovered, ChangedAt: time.Now()}
		m.mu.Unlock()
		m.publish(events.EventPluginDiscovered, id, "plugin discovered", meta.Descriptor.Version)

		if err := m.Load(ctx, id); err != nil {
			m.logger.Error("plugin failed to load", "plugin", id, "error", err)
			continue
		}
		if rec, ok := records[id]; ok && rec.Status != string(StateActive) {
			m.logger.Debug("plugin restored inactive", "plugin", id, "status", rec.Status)
			continue
		}
		if err := m.Activate(ctx, id); err != nil {
			m.logger.Error("plugin failed to activate", "plugin", id, "error", err)
		}
	}
	return nil
}

// Load runs the package through its isolation domain: source evaluation,
// constructor call, manifest validation, onLoad hook, and registration of
// the contributed components. Any failure tears the domain
// down and leaves the plugin in the error state.
func (m *LifecycleManager) Load(ctx context.Context, pluginID string) error {
	lock := m.pluginLock(pluginID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := m.get(pluginID)
	if err != nil {
		return err
	}
	if !CanTransition(entry.State, StateLoaded) {
		return lifecycleErr(KindInvalidTransition, pluginID, fmt.Errorf("cannot load from state %s", entry.State))
	}

	domain, err := NewIsolationDomain(pluginID)
	if err != nil {
		m.fail(pluginID, err)
		return err
	}
	if err := domain.LoadPackage(&entry.Metadata); err != nil {
		m.fail(pluginID, err)
		return err
	}

	loaded := domain.Entry()
	for i := range loaded.Manifests {
		man := &loaded.Manifests[i]
		if man.PluginID == "" {
			man.PluginID = pluginID
		}
		if man.PluginVersion == "" {
			man.PluginVersion = entry.Metadata.Descriptor.Version
		}
		if man.PluginID != pluginID {
			err := lifecycleErr(KindLoadFailed, pluginID, fmt.Errorf("manifest %s claims foreign plugin id %q", man.ComponentID, man.PluginID))
			m.fail(pluginID, err)
			return err
		}
		if m.validate {
			if err := man.Validate(); err != nil {
				werr := lifecycleErr(KindLoadFailed, pluginID, err)
				m.fail(pluginID, werr)
				return werr
			}
		}
	}

	pctx := m.pluginContext(entry)
	if err := os.MkdirAll(pctx.DataDir, 0o755); err != nil {
		werr := lifecycleErr(KindLoadFailed, pluginID, fmt.Errorf("creating plugin data dir: %w", err))
		m.fail(pluginID, werr)
		return werr
	}
	if err := domain.CallHook(loaded.Hooks.OnLoad, pctx); err != nil {
		werr := lifecycleErr(KindLoadFailed, pluginID, fmt.Errorf("onLoad hook: %w", err))
		m.fail(pluginID, werr)
		return werr
	}

	if m.registry != nil && len(loaded.Manifests) > 0 {
		if err := m.registry.RegisterBatch(ctx, loaded.Manifests, entry.Metadata.Path); err != nil {
			werr := lifecycleErr(KindLoadFailed, pluginID, fmt.Errorf("registering components: %w", err))
			m.fail(pluginID, werr)
			return werr
		}
	}

	m.mu.Lock()
	m.domains[pluginID] = domain
	entry.State = StateLoaded
	entry.Error = ""
	entry.Manifests = loaded.Manifests
	entry.LoadedAt = time.Now()
	entry.ChangedAt = time.Now()
	m.mu.Unlock()

	m.syncRecord(entry)
	m.publish(events.EventPluginLoaded, pluginID, "plugin loaded", fmt.Sprintf("%d components", len(loaded.Manifests)))
	return nil
}

// Activate moves a loaded or inactive plugin to active: the onActivate
// hook runs first, and only on success do the plugin's components become
// visible to pages. A failing hook leaves the previous state untouched.
func (m *LifecycleManager) Activate(ctx context.Context, pluginID string) error {
	lock := m.pluginLock(pluginID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := m.get(pluginID)
	if err != nil {
		return err
	}
	if !CanTransition(entry.State, StateActive) {
		return lifecycleErr(KindInvalidTransition, pluginID, fmt.Errorf("cannot activate from state %s", entry.State))
	}

	domain := m.domain(pluginID)
	if domain == nil {
		return lifecycleErr(KindInvalidTransition, pluginID, fmt.Errorf("plugin has no loaded isolation domain"))
	}
	if err := domain.CallHook(domain.Entry().Hooks.OnActivate, m.pluginContext(entry)); err != nil {
		werr := lifecycleErr(KindActivateFailed, pluginID, fmt.Errorf("onActivate hook: %w", err))
		m.mu.Lock()
		entry.Error = werr.Error()
		m.mu.Unlock()
		m.publish(events.EventPluginError, pluginID, "plugin activation failed", werr.Error())
		return werr
	}

	if m.registry != nil {
		if err := m.registry.SetPluginActive(ctx, pluginID, true); err != nil {
			return lifecycleErr(KindActivateFailed, pluginID, err)
		}
	}

	m.setState(entry, StateActive)
	m.publish(events.EventPluginActivated, pluginID, "plugin activated", "")
	return nil
}

// Deactivate moves an active plugin to inactive. The onDeactivate hook is
// best effort: a failure is logged but never blocks deactivation.
func (m *LifecycleManager) Deactivate(ctx context.Context, pluginID string) error {
	lock := m.pluginLock(pluginID)
	lock.Lock()
	defer lock.Unlock()
	return m.deactivateLocked(ctx, pluginID)
}

func (m *LifecycleManager) deactivateLocked(ctx context.Context, pluginID string) error {
	entry, err := m.get(pluginID)
	if err != nil {
		return err
	}
	if !CanTransition(entry.State, StateInactive) {
		return lifecycleErr(KindInvalidTransition, pluginID, fmt.Errorf("cannot deactivate from state %s", entry.State))
	}

	if domain := m.domain(pluginID); domain != nil {
		if err := domain.CallHook(domain.Entry().Hooks.OnDeactivate, m.pluginContext(entry)); err != nil {
			m.logger.Warn("onDeactivate hook failed", "plugin", pluginID, "error", err)
		}
	}
	if m.registry != nil {
		if err := m.registry.SetPluginActive(ctx, pluginID, false); err != nil {
			return lifecycleErr(KindActivateFailed, pluginID, err)
		}
	}

	m.setState(entry, StateInactive)
	m.publish(events.EventPluginDeactivated, pluginID, "plugin deactivated", "")
	return nil
}

// Uninstall removes a plugin entirely: active plugins are deactivated
// first, the onUninstall hook runs best effort, components are
// unregistered, the package directory is deleted, and the isolation domain
// is dropped.
func (m *LifecycleManager) Uninstall(ctx context.Context, pluginID string) error {
	lock := m.pluginLock(pluginID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := m.get(pluginID)
	if err != nil {
		return err
	}

	if entry.State == StateActive {
		if err := m.deactivateLocked(ctx, pluginID); err != nil {
			return err
		}
	}
	if !CanTransition(entry.State, StateUninstalled) {
		return lifecycleErr(KindInvalidTransition, pluginID, fmt.Errorf("cannot uninstall from state %s", entry.State))
	}

	if domain := m.domain(pluginID); domain != nil {
		if err := domain.CallHook(domain.Entry().Hooks.OnUninstall, m.pluginContext(entry)); err != nil {
			m.logger.Warn("onUninstall hook failed", "plugin", pluginID, "error", err)
		}
	}
	if m.registry != nil {
		if err := m.registry.UnregisterPlugin(ctx, pluginID); err != nil {
			return lifecycleErr(KindLoadFailed, pluginID, fmt.Errorf("unregistering components: %w", err))
		}
	}
	if err := m.reader.Remove(pluginID); err != nil {
		m.logger.Warn("failed to remove package files", "plugin", pluginID, "error", err)
	}

	m.mu.Lock()
	delete(m.domains, pluginID)
	delete(m.entries, pluginID)
	m.mu.Unlock()

	if m.db != nil {
		m.db.Where("plugin_id = ?", pluginID).Delete(&database.PluginRecord{})
	}
	m.publish(events.EventPluginUninstalled, pluginID, "plugin uninstalled", "")
	return nil
}

// Install unpacks an uploaded archive, loads it, and activates it. A
// package replacing an already-known plugin goes through a full reload. A
// fresh package that fails to load or activate is deleted again so a bad
// upload leaves no trace.
func (m *LifecycleManager) Install(ctx context.Context, archive io.ReaderAt, size int64) (*LifecycleEntry, error) {
	meta, err := m.reader.Install(archive, size)
	if err != nil {
		return nil, err
	}
	id := meta.Descriptor.ID

	fresh := false
	if entry, _ := m.get(id); entry != nil {
		if err := m.Reload(ctx, id); err != nil {
			return nil, err
		}
	} else {
		fresh = true
		m.mu.Lock()
		m.entries[id] = &LifecycleEntry{Metadata: *meta, State: StateDiscovered, ChangedAt: time.Now()}
		m.mu.Unlock()
		m.publish(events.EventPluginDiscovered, id, "plugin discovered", meta.Descriptor.Version)
		if err := m.Load(ctx, id); err != nil {
			m.discardInstall(id)
			return nil, err
		}
	}
	if err := m.Activate(ctx, id); err != nil {
		if fresh {
			m.discardInstall(id)
		}
		return nil, err
	}
	entry, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// discardInstall undoes a failed fresh install: the unpacked package is
// deleted along with any partial in-memory and persisted state.
func (m *LifecycleManager) discardInstall(pluginID string) {
	if err := m.reader.Remove(pluginID); err != nil {
		m.logger.Warn("failed to remove rejected package", "plugin", pluginID, "error", err)
	}
	m.mu.Lock()
	delete(m.domains, pluginID)
	delete(m.entries, pluginID)
	m.mu.Unlock()
	if m.db != nil {
		m.db.Where("plugin_id = ?", pluginID).Delete(&database.PluginRecord{})
	}
}

// Reload runs a full cycle on a plugin whose package changed on disk:
// deactivate if active, drop the domain, re-read the package, load, and
// restore the previous activation.
func (m *LifecycleManager) Reload(ctx context.Context, pluginID string) error {
	lock := m.pluginLock(pluginID)
	lock.Lock()

	entry, err := m.get(pluginID)
	if err != nil {
		lock.Unlock()
		return err
	}
	wasActive := entry.State == StateActive
	if wasActive {
		if err := m.deactivateLocked(ctx, pluginID); err != nil {
			lock.Unlock()
			return err
		}
	}

	meta, err := m.reader.ReadPackage(entry.Metadata.Path)
	if err != nil {
		m.fail(pluginID, err)
		lock.Unlock()
		return err
	}

	m.mu.Lock()
	delete(m.domains, pluginID)
	entry.Metadata = *meta
	entry.State = StateDiscovered
	entry.ChangedAt = time.Now()
	m.mu.Unlock()
	lock.Unlock()

	if err := m.Load(ctx, pluginID); err != nil {
		return err
	}
	if wasActive {
		return m.Activate(ctx, pluginID)
	}
	return nil
}

// Get returns a copy of one plugin's entry.
func (m *LifecycleManager) Get(pluginID string) (*LifecycleEntry, error) {
	entry, err := m.get(pluginID)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *entry
	return &cp, nil
}

// List returns all known plugins sorted by ID.
func (m *LifecycleManager) List() []LifecycleEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LifecycleEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.Descriptor.ID < out[j].Metadata.Descriptor.ID
	})
	return out
}

func (m *LifecycleManager) get(pluginID string) (*LifecycleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[pluginID]
	if !ok {
		return nil, lifecycleErr(KindNotFound, pluginID, fmt.Errorf("unknown plugin"))
	}
	return entry, nil
}

func (m *LifecycleManager) domain(pluginID string) *IsolationDomain {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.domains[pluginID]
}

func (m *LifecycleManager) setState(entry *LifecycleEntry, state PluginState) {
	m.mu.Lock()
	entry.State = state
	entry.Error = ""
	entry.ChangedAt = time.Now()
	m.mu.Unlock()
	m.syncRecord(entry)
}

func (m *LifecycleManager) fail(pluginID string, cause error) {
	m.mu.Lock()
	entry, ok := m.entries[pluginID]
	if ok {
		entry.State = StateError
		entry.Error = cause.Error()
		entry.ChangedAt = time.Now()
	}
	delete(m.domains, pluginID)
	m.mu.Unlock()
	if ok {
		m.syncRecord(entry)
	}
	m.publish(events.EventPluginError, pluginID, "plugin error", cause.Error())
}

func (m *LifecycleManager) pluginContext(entry *LifecycleEntry) *plugins.PluginContext {
	desc := entry.Metadata.Descriptor
	cfg := make(map[string]any, len(desc.Settings))
	for k, v := range desc.Settings {
		cfg[k] = v
	}
	// Builtins have no package directory and no data dir.
	dataDir := ""
	if entry.Metadata.Path != "" {
		dataDir = filepath.Join(entry.Metadata.Path, "data")
	}
	return &plugins.PluginContext{
		PluginID: desc.ID,
		Version:  desc.Version,
		DataDir:  dataDir,
		Config:   cfg,
		Log:      &hclogAdapter{log: m.logger.Named("plugin." + desc.ID)},
	}
}

func (m *LifecycleManager) publish(t events.EventType, pluginID, title, message string) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(events.New(t, "pluginmodule", title, message).WithData(map[string]any{"pluginId": pluginID}))
}

func (m *LifecycleManager) loadRecords() map[string]database.PluginRecord {
	out := make(map[string]database.PluginRecord)
	if m.db == nil {
		return out
	}
	var rows []database.PluginRecord
	if err := m.db.Find(&rows).Error; err != nil {
		m.logger.Warn("failed to load plugin records", "error", err)
		return out
	}
	for _, r := range rows {
		out[r.PluginID] = r
	}
	return out
}

// syncRecord mirrors the in-memory state into plugin_records so it
// survives restarts.
func (m *LifecycleManager) syncRecord(entry *LifecycleEntry) {
	if m.db == nil {
		return
	}
	m.mu.RLock()
	desc := entry.Metadata.Descriptor
	path := entry.Metadata.Path
	state := entry.State
	errMsg := entry.Error
	m.mu.RUnlock()

	var rec database.PluginRecord
	err := m.db.Where("plugin_id = ?", desc.ID).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		rec = database.PluginRecord{
			PluginID:    desc.ID,
			Name:        desc.Name,
			Version:     desc.Version,
			Status:      string(state),
			Description: desc.Description,
			InstallPath: path,
			InstalledAt: time.Now(),
		}
		if state == StateActive {
			now := time.Now()
			rec.EnabledAt = &now
		}
		rec.ErrorMessage = errMsg
		if err := m.db.Create(&rec).Error; err != nil {
			m.logger.Warn("failed to create plugin record", "plugin", desc.ID, "error", err)
		}
		return
	}
	if err != nil {
		m.logger.Warn("failed to read plugin record", "plugin", desc.ID, "error", err)
		return
	}

	updates := map[string]any{
		"name":          desc.Name,
		"version":       desc.Version,
		"status":        string(state),
		"error_message": errMsg,
	}
	if state == StateActive && rec.EnabledAt == nil {
		updates["enabled_at"] = time.Now()
	}
	if err := m.db.Model(&database.PluginRecord{}).Where("plugin_id = ?", desc.ID).Updates(updates).Error; err != nil {
		m.logger.Warn("failed to update plugin record", "plugin", desc.ID, "error", err)
	}
}

// hclogAdapter exposes the host logger through the plugin-facing Logger
// interface.
type hclogAdapter struct {
	log hclog.Logger
}

func (a *hclogAdapter) Debug(msg string, args ...any) { a.log.Debug(fmt.Sprintf(msg, args...)) }
func (a *hclogAdapter) Info(msg string, args ...any)  { a.log.Info(fmt.Sprintf(msg, args...)) }
func (a *hclogAdapter) Warn(msg string, args ...any)  { a.log.Warn(fmt.Sprintf(msg, args...)) }
func (a *hclogAdapter) Error(msg string, args ...any) { a.log.Error(fmt.Sprintf(msg, args...)) }
