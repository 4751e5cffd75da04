package pluginmodule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrica-io/fabrica/pkg/plugins"
)

const testDescriptor = `
plugin: {
	id:      "hello-cards"
	name:    "Hello Cards"
	version: "1.0.0"
	type:    "component"
	main:    "New"
}
`

const testSource = `
package main

import "github.com/fabrica-io/fabrica/pkg/plugins"

func New() plugins.Entry {
	return plugins.Entry{
		Manifests: []plugins.Manifest{{
			ComponentID: "card",
			DisplayName: "Card",
			Category:    plugins.CategoryUI,
		}},
	}
}
`

const panickySource = `
package main

import "github.com/fabrica-io/fabrica/pkg/plugins"

func New() plugins.Entry {
	return plugins.Entry{
		Manifests: []plugins.Manifest{{
			ComponentID: "boom",
			DisplayName: "Boom",
			Category:    plugins.CategoryUI,
		}},
		Hooks: plugins.Hooks{
			OnActivate: func(ctx *plugins.PluginContext) error {
				panic("activation exploded")
			},
		},
	}
}
`

// fakeRegistry records the calls the lifecycle manager makes.
type fakeRegistry struct {
	mu           sync.Mutex
	registered   []plugins.Manifest
	activeStates map[string]bool
	unregistered []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{activeStates: make(map[string]bool)}
}

func (f *fakeRegistry) RegisterBatch(ctx context.Context, manifests []plugins.Manifest, bundleDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, manifests...)
	return nil
}

func (f *fakeRegistry) SetPluginActive(ctx context.Context, pluginID string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeStates[pluginID] = active
	return nil
}

func (f *fakeRegistry) UnregisterPlugin(ctx context.Context, pluginID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, pluginID)
	return nil
}

func writePackage(t *testing.T, dir, id, descriptor, source string) string {
	t.Helper()
	pkg := filepath.Join(dir, id)
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, DescriptorFile), []byte(descriptor), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "plugin.go"), []byte(source), 0o644))
	return pkg
}

func newTestManager(t *testing.T, dir string, registry ComponentRegistry) *LifecycleManager {
	t.Helper()
	logger := hclog.NewNullLogger()
	reader := NewPackageReader(dir, logger)
	return NewLifecycleManager(reader, registry, nil, nil, logger)
}

func TestDiscoverLoadActivate(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "hello-cards", testDescriptor, testSource)
	registry := newFakeRegistry()
	mgr := newTestManager(t, dir, registry)

	require.NoError(t, mgr.DiscoverAndLoadAll(context.Background()))

	entry, err := mgr.Get("hello-cards")
	require.NoError(t, err)
	assert.Equal(t, StateActive, entry.State, "a fresh package is driven straight to active")
	require.Len(t, entry.Manifests, 1)
	assert.Equal(t, "hello-cards", entry.Manifests[0].PluginID, "plugin id is stamped onto manifests")
	assert.Equal(t, "1.0.0", entry.Manifests[0].PluginVersion)
	require.Len(t, registry.registered, 1)
	assert.True(t, registry.activeStates["hello-cards"])
}

func TestLoadCreatesDataDir(t *testing.T) {
	dir := t.TempDir()
	pkg := writePackage(t, dir, "hello-cards", testDescriptor, testSource)
	mgr := newTestManager(t, dir, newFakeRegistry())

	require.NoError(t, mgr.DiscoverAndLoadAll(context.Background()))

	info, err := os.Stat(filepath.Join(pkg, "data"))
	require.NoError(t, err, "data dir exists before onLoad runs")
	assert.True(t, info.IsDir())
}

const incompleteManifestSource = `
package main

import "github.com/fabrica-io/fabrica/pkg/plugins"

func New() plugins.Entry {
	return plugins.Entry{
		Manifests: []plugins.Manifest{{
			ComponentID: "card",
			Category:    plugins.CategoryUI,
		}},
	}
}
`

func TestValidationToggle(t *testing.T) {
	// With validation on (the default) a manifest without a display name
	// fails the load.
	dir := t.TempDir()
	writePackage(t, dir, "hello-cards", testDescriptor, incompleteManifestSource)
	mgr := newTestManager(t, dir, newFakeRegistry())
	require.NoError(t, mgr.DiscoverAndLoadAll(context.Background()))
	entry, err := mgr.Get("hello-cards")
	require.NoError(t, err)
	assert.Equal(t, StateError, entry.State)

	// With validation off the same package loads and activates.
	dir = t.TempDir()
	writePackage(t, dir, "hello-cards", testDescriptor, incompleteManifestSource)
	mgr = newTestManager(t, dir, newFakeRegistry())
	mgr.SetValidation(false)
	require.NoError(t, mgr.DiscoverAndLoadAll(context.Background()))
	entry, err = mgr.Get("hello-cards")
	require.NoError(t, err)
	assert.Equal(t, StateActive, entry.State)
}

func TestActivateHookFailureKeepsState(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "hello-cards", testDescriptor, panickySource)
	registry := newFakeRegistry()
	mgr := newTestManager(t, dir, registry)

	require.NoError(t, mgr.DiscoverAndLoadAll(context.Background()))

	entry, getErr := mgr.Get("hello-cards")
	require.NoError(t, getErr)
	assert.Equal(t, StateLoaded, entry.State, "failed activation leaves the plugin loaded")
	assert.False(t, registry.activeStates["hello-cards"], "plugin-level activation never happened")

	// An explicit retry surfaces the hook error.
	err := mgr.Activate(context.Background(), "hello-cards")
	require.Error(t, err)
	var lerr *LifecycleError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindActivateFailed, lerr.Kind)
}

func TestInvalidTransitions(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "hello-cards", testDescriptor, testSource)
	mgr := newTestManager(t, dir, newFakeRegistry())
	require.NoError(t, mgr.DiscoverAndLoadAll(context.Background()))

	// Activating an already active plugin is rejected.
	err := mgr.Activate(context.Background(), "hello-cards")
	var lerr *LifecycleError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindInvalidTransition, lerr.Kind)

	// So is deactivating twice.
	require.NoError(t, mgr.Deactivate(context.Background(), "hello-cards"))
	err = mgr.Deactivate(context.Background(), "hello-cards")
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindInvalidTransition, lerr.Kind)

	// Unknown plugins report not found.
	err = mgr.Activate(context.Background(), "no-such-plugin")
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindNotFound, lerr.Kind)
}

func TestDeactivateAndUninstall(t *testing.T) {
	dir := t.TempDir()
	pkg := writePackage(t, dir, "hello-cards", testDescriptor, testSource)
	registry := newFakeRegistry()
	mgr := newTestManager(t, dir, registry)

	require.NoError(t, mgr.DiscoverAndLoadAll(context.Background()))
	require.NoError(t, mgr.Deactivate(context.Background(), "hello-cards"))
	assert.False(t, registry.activeStates["hello-cards"])

	require.NoError(t, mgr.Uninstall(context.Background(), "hello-cards"))
	assert.Equal(t, []string{"hello-cards"}, registry.unregistered)
	_, err := mgr.Get("hello-cards")
	require.Error(t, err)
	_, statErr := os.Stat(pkg)
	assert.True(t, os.IsNotExist(statErr), "package directory is removed")
}

func TestUninstallActivePluginDeactivatesFirst(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "hello-cards", testDescriptor, testSource)
	registry := newFakeRegistry()
	mgr := newTestManager(t, dir, registry)

	require.NoError(t, mgr.DiscoverAndLoadAll(context.Background()))
	require.NoError(t, mgr.Uninstall(context.Background(), "hello-cards"))
	assert.False(t, registry.activeStates["hello-cards"])
	assert.Equal(t, []string{"hello-cards"}, registry.unregistered)
}

func TestBadPackageDoesNotBlockOthers(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "hello-cards", testDescriptor, testSource)

	// A package with a broken descriptor sits alongside.
	broken := filepath.Join(dir, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, DescriptorFile), []byte("{{{"), 0o644))

	mgr := newTestManager(t, dir, newFakeRegistry())
	require.NoError(t, mgr.DiscoverAndLoadAll(context.Background()))

	entries := mgr.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello-cards", entries[0].Metadata.Descriptor.ID)
}

func TestReloadPicksUpNewSource(t *testing.T) {
	dir := t.TempDir()
	pkg := writePackage(t, dir, "hello-cards", testDescriptor, testSource)
	registry := newFakeRegistry()
	mgr := newTestManager(t, dir, registry)

	require.NoError(t, mgr.DiscoverAndLoadAll(context.Background()))

	updated := `
package main

import "github.com/fabrica-io/fabrica/pkg/plugins"

func New() plugins.Entry {
	return plugins.Entry{
		Manifests: []plugins.Manifest{
			{ComponentID: "card", DisplayName: "Card", Category: plugins.CategoryUI},
			{ComponentID: "list", DisplayName: "List", Category: plugins.CategoryUI},
		},
	}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "plugin.go"), []byte(updated), 0o644))

	require.NoError(t, mgr.Reload(context.Background(), "hello-cards"))
	entry, err := mgr.Get("hello-cards")
	require.NoError(t, err)
	assert.Equal(t, StateActive, entry.State, "previously active plugin is reactivated")
	assert.Len(t, entry.Manifests, 2)
}

func TestInstallActivatesPlugin(t *testing.T) {
	dir := t.TempDir()
	registry := newFakeRegistry()
	mgr := newTestManager(t, dir, registry)

	archive := buildArchive(t, map[string]string{
		DescriptorFile: testDescriptor,
		"plugin.go":    testSource,
	})
	entry, err := mgr.Install(context.Background(), archive, archive.Size())
	require.NoError(t, err)
	assert.Equal(t, StateActive, entry.State)
	assert.True(t, registry.activeStates["hello-cards"])
}

func TestInstallRejectedPackageIsRemoved(t *testing.T) {
	dir := t.TempDir()
	mgr := newTestManager(t, dir, newFakeRegistry())

	archive := buildArchive(t, map[string]string{
		DescriptorFile: testDescriptor,
		"plugin.go":    panickySource,
	})
	_, err := mgr.Install(context.Background(), archive, archive.Size())
	require.Error(t, err)

	_, err = mgr.Get("hello-cards")
	require.Error(t, err, "rejected install leaves no entry behind")
	_, statErr := os.Stat(filepath.Join(dir, "hello-cards"))
	assert.True(t, os.IsNotExist(statErr), "rejected package is deleted")
}
