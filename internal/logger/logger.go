// Package logger centralizes hclog construction so every module logs with
// the same level and format.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.Mutex
	root hclog.Logger
)

// Setup configures the root logger. Level is one of trace/debug/info/warn/
// error; format "json" switches to JSON output. Call once at startup.
func Setup(level, format string) {
	mu.Lock()
	defer mu.Unlock()
	root = hclog.New(&hclog.LoggerOptions{
		Name:       "fabrica",
		Level:      hclog.LevelFromString(level),
		JSONFormat: strings.EqualFold(format, "json"),
		Output:     os.Stderr,
	})
}

// Named returns a child logger for a subsystem, e.g. logger.Named("plugin").
func Named(name string) hclog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = hclog.New(&hclog.LoggerOptions{
			Name:  "fabrica",
			Level: hclog.Info,
		})
	}
	return root.Named(name)
}
