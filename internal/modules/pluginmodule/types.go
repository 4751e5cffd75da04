// Package pluginmodule implements package discovery, descriptor parsing,
// isolated loading, and the plugin lifecycle state machine.
package pluginmodule

import (
	"fmt"
	"time"

	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// PluginState is one of the lifecycle states a plugin moves through.
type PluginState string

const (
	StateDiscovered  PluginState = "discovered"
	StateLoaded      PluginState = "loaded"
	StateActive      PluginState = "active"
	StateInactive    PluginState = "inactive"
	StateUninstalled PluginState = "uninstalled"
	StateError       PluginState = "error"
)

// transitions maps each state to the states it may move to. The error
// state is reachable from anywhere and recoverable only through a full
// load cycle.
var transitions = map[PluginState][]PluginState{
	StateDiscovered: {StateLoaded, StateError},
	StateLoaded:     {StateActive, StateUninstalled, StateError},
	StateActive:     {StateInactive, StateError},
	StateInactive:   {StateActive, StateUninstalled, StateError},
	StateError:      {StateLoaded, StateUninstalled},
}

// CanTransition reports whether from may move directly to to.
func CanTransition(from, to PluginState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Descriptor is the parsed plugin.cue content of a package.
type Descriptor struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Type        string            `json:"type"`
	Main        string            `json:"main"`
	Description string            `json:"description,omitempty"`
	Author      string            `json:"author,omitempty"`
	Website     string            `json:"website,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
}

// PackageMetadata describes one discovered package on disk.
type PackageMetadata struct {
	Descriptor Descriptor
	Path       string // directory the package was unpacked into
	Archive    bool   // true when installed from a .fplug archive
	Resources  []string
}

// LifecycleEntry is the in-memory record for one known plugin.
type LifecycleEntry struct {
	Metadata  PackageMetadata
	State     PluginState
	Error     string
	Manifests []plugins.Manifest
	LoadedAt  time.Time
	ChangedAt time.Time
}

// Error kinds distinguish why a package was rejected or a transition
// failed; the HTTP layer maps them to status codes.
type ErrorKind string

const (
	KindMalformedPackage    ErrorKind = "malformed_package"
	KindSchemaViolation     ErrorKind = "schema_violation"
	KindUnsupportedType     ErrorKind = "unsupported_type"
	KindIsolationInitFailed ErrorKind = "isolation_init_failed"
	KindLoadFailed          ErrorKind = "load_failed"
	KindActivateFailed      ErrorKind = "activate_failed"
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindNotFound            ErrorKind = "not_found"
)

// LifecycleError carries the kind and plugin alongside the cause.
type LifecycleError struct {
	Kind   ErrorKind
	Plugin string
	Err    error
}

func (e *LifecycleError) Error() string {
	if e.Plugin != "" {
		return fmt.Sprintf("%s: plugin %s: %v", e.Kind, e.Plugin, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

func lifecycleErr(kind ErrorKind, plugin string, err error) *LifecycleError {
	return &LifecycleError{Kind: kind, Plugin: plugin, Err: err}
}
