// Package manifest parses and validates the pipeline manifest: the
// declarative file wiring one or more extractors and loaders together
// with their settings schemas, config values and stream selection rules.
//
// The manifest is immutable at runtime; it is parsed and validated once
// per invocation. All validation failures are fatal and carry the
// offending plugin/setting key path.
package manifest
