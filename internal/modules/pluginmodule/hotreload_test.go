package pluginmodule

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

const lateDescriptor = `
plugin: {
	id:      "late-cards"
	name:    "Late Cards"
	version: "1.0.0"
	type:    "component"
	main:    "New"
}
`

// A package already on disk when the watcher starts produces no fsnotify
// events; only the periodic rescan can pick it up.
func TestPeriodicRescanPicksUpPackage(t *testing.T) {
	dir := t.TempDir()
	registry := newFakeRegistry()
	mgr := newTestManager(t, dir, registry)
	writePackage(t, dir, "late-cards", lateDescriptor, testSource)

	h := NewHotReloader(mgr, 20*time.Millisecond, hclog.NewNullLogger())
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop()

	require.Eventually(t, func() bool {
		entry, err := mgr.Get("late-cards")
		return err == nil && entry.State == StateActive
	}, 2*time.Second, 10*time.Millisecond, "rescan drives the package to active")
}
