// Package plugin defines the extractor and loader contracts the
// orchestrator invokes, a registry of loaded implementations, and the
// machinery for resolving external plugins: pip-style package locators
// installed into per-plugin environments and driven as subprocesses,
// plus Go plugins loaded with the standard plugin package.
package plugin
