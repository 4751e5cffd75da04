package pluginmodule

import (
	"context"
	"fmt"
	"time"

	"github.com/fabrica-io/fabrica/internal/events"
	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// RegisterBuiltin installs a host-side plugin: one compiled into the server
// binary instead of shipped as a package. Its components come from the
// ComponentPublisher, and when the value also implements
// LifecycleParticipant its methods serve as the lifecycle hooks. Builtins
// run through the same state machine as packaged plugins and end up active.
func (m *LifecycleManager) RegisterBuiltin(ctx context.Context, id, version string, p plugins.ComponentPublisher) error {
	if !pluginIDPattern.MatchString(id) {
		return lifecycleErr(KindSchemaViolation, id, fmt.Errorf("invalid plugin id %q", id))
	}
	if _, err := m.get(id); err == nil {
		return lifecycleErr(KindInvalidTransition, id, fmt.Errorf("plugin id already in use"))
	}

	manifests := p.ComponentManifests()
	for i := range manifests {
		man := &manifests[i]
		if man.PluginID == "" {
			man.PluginID = id
		}
		if man.PluginVersion == "" {
			man.PluginVersion = version
		}
		if man.PluginID != id {
			return lifecycleErr(KindLoadFailed, id, fmt.Errorf("manifest %s claims foreign plugin id %q", man.ComponentID, man.PluginID))
		}
		if m.validate {
			if err := man.Validate(); err != nil {
				return lifecycleErr(KindLoadFailed, id, err)
			}
		}
	}

	var hooks plugins.Hooks
	if lp, ok := p.(plugins.LifecycleParticipant); ok {
		hooks = plugins.Hooks{
			OnLoad:       lp.OnLoad,
			OnActivate:   lp.OnActivate,
			OnDeactivate: lp.OnDeactivate,
			OnUninstall:  lp.OnUninstall,
		}
	}

	entry := &LifecycleEntry{
		Metadata: PackageMetadata{Descriptor: Descriptor{
			ID:      id,
			Name:    id,
			Version: version,
			Type:    "component",
		}},
		State:     StateDiscovered,
		ChangedAt: time.Now(),
	}
	// Builtins run in-process; the domain only carries the entry and keeps
	// hook panics confined the same way it does for interpreted packages.
	domain := &IsolationDomain{
		pluginID: id,
		entry:    &plugins.Entry{Manifests: manifests, Hooks: hooks},
	}

	if err := domain.CallHook(hooks.OnLoad, m.pluginContext(entry)); err != nil {
		return lifecycleErr(KindLoadFailed, id, fmt.Errorf("onLoad hook: %w", err))
	}
	if m.registry != nil && len(manifests) > 0 {
		if err := m.registry.RegisterBatch(ctx, manifests, ""); err != nil {
			return lifecycleErr(KindLoadFailed, id, fmt.Errorf("registering components: %w", err))
		}
	}

	m.mu.Lock()
	m.entries[id] = entry
	m.domains[id] = domain
	entry.State = StateLoaded
	entry.Manifests = manifests
	entry.LoadedAt = time.Now()
	entry.ChangedAt = time.Now()
	m.mu.Unlock()

	m.syncRecord(entry)
	m.publish(events.EventPluginLoaded, id, "plugin loaded", fmt.Sprintf("%d components", len(manifests)))
	return m.Activate(ctx, id)
}
