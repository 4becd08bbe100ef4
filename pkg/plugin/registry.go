package plugin

import (
	"fmt"
	"plugin"
	"sort"
	"sync"

	"github.com/meltworks/melt/pkg/manifest"
)

type extractorEntry struct {
	impl         Extractor
	capabilities []string
}

type loaderEntry struct {
	impl         Loader
	capabilities []string
}

// Registry maps plugin names to loaded implementations and their
// declared capability sets. It is owned by the orchestrator instance
// and safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]extractorEntry
	loaders    map[string]loaderEntry
	installer  *Installer
}

// NewRegistry returns an empty registry. Plugins that are neither
// registered nor resolvable through the installer fail resolution.
func NewRegistry(installer *Installer) *Registry {
	return &Registry{
		extractors: map[string]extractorEntry{},
		loaders:    map[string]loaderEntry{},
		installer:  installer,
	}
}

// RegisterExtractor adds an extractor under the given name, replacing
// any existing registration.
func (r *Registry) RegisterExtractor(name string, e Extractor, capabilities ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[name] = extractorEntry{impl: e, capabilities: capabilities}
}

// RegisterLoader adds a loader under the given name, replacing any
// existing registration.
func (r *Registry) RegisterLoader(name string, l Loader, capabilities ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[name] = loaderEntry{impl: l, capabilities: capabilities}
}

// Capabilities returns the declared capability set for a registered
// plugin of either kind.
func (r *Registry) Capabilities(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.extractors[name]; ok {
		return e.capabilities
	}
	if l, ok := r.loaders[name]; ok {
		return l.capabilities
	}
	return nil
}

// IsBuiltin reports whether the name has a registered implementation,
// as opposed to needing installer resolution.
func (r *Registry) IsBuiltin(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.extractors[name]; ok {
		return true
	}
	_, ok := r.loaders[name]
	return ok
}

// Names returns all registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.extractors)+len(r.loaders))
	for n := range r.extractors {
		names = append(names, n)
	}
	for n := range r.loaders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolveExtractor returns the implementation for an extractor
// declaration: a registered (built-in or Go-plugin) implementation
// first, otherwise a subprocess plugin resolved from the declaration's
// package locator.
func (r *Registry) ResolveExtractor(decl *manifest.Plugin) (Extractor, error) {
	r.mu.RLock()
	entry, ok := r.extractors[decl.Name]
	r.mu.RUnlock()
	if ok {
		return entry.impl, nil
	}

	if decl.PipURL == "" || r.installer == nil {
		return nil, &ResolutionError{Plugin: decl.Name}
	}
	path, err := r.installer.Resolve(decl.Name, decl.PipURL)
	if err != nil {
		return nil, &ResolutionError{Plugin: decl.Name, Locator: decl.PipURL, Err: err}
	}
	return NewExecExtractor(decl.Name, path), nil
}

// ResolveLoader is ResolveExtractor for the loader group.
func (r *Registry) ResolveLoader(decl *manifest.Plugin) (Loader, error) {
	r.mu.RLock()
	entry, ok := r.loaders[decl.Name]
	r.mu.RUnlock()
	if ok {
		return entry.impl, nil
	}

	if decl.PipURL == "" || r.installer == nil {
		return nil, &ResolutionError{Plugin: decl.Name}
	}
	path, err := r.installer.Resolve(decl.Name, decl.PipURL)
	if err != nil {
		return nil, &ResolutionError{Plugin: decl.Name, Locator: decl.PipURL, Err: err}
	}
	return NewExecLoader(decl.Name, path), nil
}

// LoadGoPlugin loads a compiled Go plugin and registers the Extractor
// or Loader symbol it exports under the given name.
//
//	go build -buildmode=plugin -o tap-custom.so ./...
func (r *Registry) LoadGoPlugin(path, name string) error {
	plug, err := plugin.Open(path)
	if err != nil {
		return &ResolutionError{Plugin: name, Locator: path, Err: err}
	}

	if symbol, err := plug.Lookup("Extractor"); err == nil {
		ext, ok := symbol.(*Extractor)
		if !ok {
			return &ResolutionError{Plugin: name, Locator: path, Err: fmt.Errorf("Extractor symbol has type %T", symbol)}
		}
		r.RegisterExtractor(name, *ext)
		return nil
	}

	symbol, err := plug.Lookup("Loader")
	if err != nil {
		return &ResolutionError{Plugin: name, Locator: path, Err: fmt.Errorf("plugin exports neither Extractor nor Loader")}
	}
	loader, ok := symbol.(*Loader)
	if !ok {
		return &ResolutionError{Plugin: name, Locator: path, Err: fmt.Errorf("Loader symbol has type %T", symbol)}
	}
	r.RegisterLoader(name, *loader)
	return nil
}
