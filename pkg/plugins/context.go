package plugins

// Logger is the logging surface handed to plugins. The host backs it with
// its structured logger; plugins never see the concrete implementation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PluginContext is passed to every lifecycle hook.
type PluginContext struct {
	// PluginID and Version identify the package the hook belongs to.
	PluginID string
	Version  string

	// DataDir is a private directory the plugin may use for its own state.
	// It is created before onLoad and removed with the package on
	// uninstall. Empty for host-side builtins.
	DataDir string

	// Config holds the settings block from the package descriptor, if any.
	Config map[string]any

	// Log is a logger named after the plugin.
	Log Logger
}

// ConfigString returns a string setting with a fallback default.
func (c *PluginContext) ConfigString(key, def string) string {
	if v, ok := c.Config[key].(string); ok {
		return v
	}
	return def
}

// ConfigBool returns a boolean setting with a fallback default.
func (c *PluginContext) ConfigBool(key string, def bool) bool {
	if v, ok := c.Config[key].(bool); ok {
		return v
	}
	return def
}
