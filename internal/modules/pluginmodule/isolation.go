package pluginmodule

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// IsolationDomain runs one plugin's code in a dedicated interpreter. A
// crash inside plugin code is confined to the domain: every call into the
// interpreter is wrapped so panics surface as errors. Teardown is dropping
// the domain; nothing of the interpreter outlives it.
type IsolationDomain struct {
	pluginID    string
	interpreter *interp.Interpreter
	entry       *plugins.Entry
}

// NewIsolationDomain creates a fresh interpreter with the stdlib and the
// published host API loaded.
func NewIsolationDomain(pluginID string) (*IsolationDomain, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, lifecycleErr(KindIsolationInitFailed, pluginID, fmt.Errorf("loading stdlib symbols: %w", err))
	}
	if err := i.Use(hostSymbols); err != nil {
		return nil, lifecycleErr(KindIsolationInitFailed, pluginID, fmt.Errorf("loading host symbols: %w", err))
	}
	return &IsolationDomain{pluginID: pluginID, interpreter: i}, nil
}

// LoadPackage evaluates every Go source file in the package directory and
// calls the constructor named by the descriptor's main field. The
// constructor must be niladic and return plugins.Entry.
func (d *IsolationDomain) LoadPackage(meta *PackageMetadata) error {
	sources := goSources(meta)
	if len(sources) == 0 {
		return lifecycleErr(KindMalformedPackage, d.pluginID, fmt.Errorf("package contains no Go source files"))
	}

	for _, rel := range sources {
		src, err := os.ReadFile(filepath.Join(meta.Path, rel))
		if err != nil {
			return lifecycleErr(KindLoadFailed, d.pluginID, fmt.Errorf("reading %s: %w", rel, err))
		}
		if err := d.safeEval(string(src)); err != nil {
			return lifecycleErr(KindLoadFailed, d.pluginID, fmt.Errorf("evaluating %s: %w", rel, err))
		}
	}

	entry, err := d.callConstructor(meta.Descriptor.Main)
	if err != nil {
		return err
	}
	d.entry = entry
	return nil
}

// Entry returns the loaded entry, nil before LoadPackage succeeds.
func (d *IsolationDomain) Entry() *plugins.Entry { return d.entry }

// CallHook invokes one lifecycle hook, absorbing panics from plugin code.
func (d *IsolationDomain) CallHook(hook func(*plugins.PluginContext) error, pctx *plugins.PluginContext) (err error) {
	if hook == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin hook panicked: %v", r)
		}
	}()
	return hook(pctx)
}

func (d *IsolationDomain) safeEval(src string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreter panicked: %v", r)
		}
	}()
	_, err = d.interpreter.Eval(src)
	return err
}

func (d *IsolationDomain) callConstructor(symbol string) (entry *plugins.Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			entry = nil
			err = lifecycleErr(KindLoadFailed, d.pluginID, fmt.Errorf("constructor %s panicked: %v", symbol, r))
		}
	}()

	v, evalErr := d.interpreter.Eval(symbol)
	if evalErr != nil && !strings.Contains(symbol, ".") {
		// Unqualified symbols live under the package scope.
		v, evalErr = d.interpreter.Eval("main." + symbol)
	}
	if evalErr != nil {
		return nil, lifecycleErr(KindLoadFailed, d.pluginID, fmt.Errorf("entry symbol %q not found: %w", symbol, evalErr))
	}

	fn, ok := v.Interface().(func() plugins.Entry)
	if !ok {
		return nil, lifecycleErr(KindLoadFailed, d.pluginID, fmt.Errorf("entry symbol %q is not func() plugins.Entry", symbol))
	}
	e := fn()
	return &e, nil
}

// goSources filters the package resources to interpretable Go files.
// Test files and anything under a directory starting with "." or "_" are
// skipped.
func goSources(meta *PackageMetadata) []string {
	var out []string
	for _, res := range meta.Resources {
		if !strings.HasSuffix(res, ".go") || strings.HasSuffix(res, "_test.go") {
			continue
		}
		skip := false
		for _, part := range strings.Split(res, "/") {
			if strings.HasPrefix(part, ".") || strings.HasPrefix(part, "_") {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, res)
		}
	}
	return out
}
