package pluginmodule

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// debounceWindow coalesces the burst of filesystem events an editor or
// copy produces into a single reload.
const debounceWindow = 500 * time.Millisecond

// HotReloader watches the plugin directory and reloads plugins whose
// packages change on disk. Deleting a package does not uninstall the
// plugin; removal stays an explicit admin operation.
type HotReloader struct {
	manager *LifecycleManager
	rescan  time.Duration
	logger  hclog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewHotReloader creates a reloader bound to the manager's plugin
// directory. rescan is the interval for the periodic full scan that
// catches changes fsnotify misses, such as writes deeper inside a package
// or packages on network mounts; zero disables it.
func NewHotReloader(manager *LifecycleManager, rescan time.Duration, logger hclog.Logger) *HotReloader {
	return &HotReloader{
		manager: manager,
		rescan:  rescan,
		logger:  logger.Named("hot-reload"),
		timers:  make(map[string]*time.Timer),
	}
}

// Start begins watching. It returns immediately; watching stops when Stop
// is called.
func (h *HotReloader) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := h.manager.reader.Dir()
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	// Watch the unpacked package directories too; fsnotify is not
	// recursive.
	for _, entry := range h.manager.List() {
		if err := watcher.Add(entry.Metadata.Path); err != nil {
			h.logger.Warn("cannot watch package directory", "plugin", entry.Metadata.Descriptor.ID, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.watcher = watcher
	h.cancel = cancel
	h.mu.Unlock()

	go h.loop(ctx, watcher, dir)
	h.logger.Info("hot reload watching", "dir", dir)
	return nil
}

// Stop ends watching and drops pending debounce timers.
func (h *HotReloader) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	if h.watcher != nil {
		h.watcher.Close()
		h.watcher = nil
	}
	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
}

func (h *HotReloader) loop(ctx context.Context, watcher *fsnotify.Watcher, dir string) {
	var rescan <-chan time.Time
	if h.rescan > 0 {
		ticker := time.NewTicker(h.rescan)
		defer ticker.Stop()
		rescan = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-rescan:
			if err := h.manager.DiscoverAndLoadAll(ctx); err != nil {
				h.logger.Warn("periodic rescan failed", "error", err)
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			h.handle(ctx, watcher, dir, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("watcher error", "error", err)
		}
	}
}

func (h *HotReloader) handle(ctx context.Context, watcher *fsnotify.Watcher, dir string, event fsnotify.Event) {
	rel, err := filepath.Rel(dir, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	top := strings.Split(filepath.ToSlash(rel), "/")[0]
	if strings.HasPrefix(top, ".") {
		return // staging dirs and editor droppings
	}

	// A brand-new package directory: start watching it and treat the event
	// as a change so the package gets picked up.
	if event.Op&fsnotify.Create != 0 && rel == top {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				h.logger.Warn("cannot watch new package directory", "dir", top, "error", err)
			}
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	pluginID := strings.TrimSuffix(top, ArchiveExt)
	h.debounce(pluginID, func() { h.reload(ctx, pluginID) })
}

func (h *HotReloader) debounce(pluginID string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.timers[pluginID]; ok {
		t.Stop()
	}
	h.timers[pluginID] = time.AfterFunc(debounceWindow, func() {
		h.mu.Lock()
		delete(h.timers, pluginID)
		h.mu.Unlock()
		fn()
	})
}

func (h *HotReloader) reload(ctx context.Context, pluginID string) {
	if _, err := h.manager.Get(pluginID); err != nil {
		// Unknown plugin: a fresh package appeared, run discovery for it.
		if err := h.manager.DiscoverAndLoadAll(ctx); err != nil {
			h.logger.Error("discovery after package change failed", "error", err)
		}
		return
	}
	h.logger.Info("package changed, reloading", "plugin", pluginID)
	if err := h.manager.Reload(ctx, pluginID); err != nil {
		h.logger.Error("hot reload failed", "plugin", pluginID, "error", err)
	}
}
