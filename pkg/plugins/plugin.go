package plugins

// Entry is what a package's constructor returns to the host. The descriptor's
// `main` field names the constructor symbol; the host resolves it inside the
// package's isolation domain and calls it exactly once per load.
type Entry struct {
	// Manifests lists every component the package contributes. A
	// single-component package returns a one-element slice.
	Manifests []Manifest

	// Hooks are the optional lifecycle callbacks. Nil hooks are skipped.
	Hooks Hooks
}

// Hooks carries the four lifecycle callbacks. Each receives the per-plugin
// context and reports failure through its error return; the host decides the
// resulting state transition.
type Hooks struct {
	OnLoad       func(*PluginContext) error
	OnActivate   func(*PluginContext) error
	OnDeactivate func(*PluginContext) error
	OnUninstall  func(*PluginContext) error
}

// ComponentPublisher is implemented by host-side (built-in) plugins that
// contribute component manifests without going through an isolation domain.
type ComponentPublisher interface {
	ComponentManifests() []Manifest
}

// LifecycleParticipant is optionally implemented by host-side plugins that
// want lifecycle callbacks. All methods are best-effort on the shutdown path.
type LifecycleParticipant interface {
	OnLoad(*PluginContext) error
	OnActivate(*PluginContext) error
	OnDeactivate(*PluginContext) error
	OnUninstall(*PluginContext) error
}
