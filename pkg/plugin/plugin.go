package plugin

import (
	"context"
	"fmt"

	"github.com/meltworks/melt/pkg/selection"
	"github.com/meltworks/melt/pkg/singer"
)

// An Extractor reads from a source system and emits a record stream
// plus a schema catalog.
type Extractor interface {
	// Connect initializes the extractor with its resolved config map.
	Connect(config map[string]any) error

	// Discover enumerates the streams and schemas the source exposes.
	Discover(ctx context.Context) (*singer.Catalog, error)

	// Extract emits SCHEMA, RECORD and STATE messages for the selected
	// streams, resuming from the given state. The returned channel is
	// closed when extraction finishes; a subsequent Err call reports
	// how it ended.
	Extract(ctx context.Context, selected selection.Set, state *singer.State) (<-chan singer.Message, error)

	// Err returns the terminal extraction error, if any, once the
	// message channel has been closed.
	Err() error

	Disconnect() error
}

// A Loader writes a record stream to a destination.
type Loader interface {
	// Connect initializes the loader with its resolved config map.
	Connect(config map[string]any) error

	// Load consumes messages until the channel closes or the context
	// is canceled, then flushes. Loaders may ignore SCHEMA and STATE
	// messages.
	Load(ctx context.Context, messages <-chan singer.Message) error

	Disconnect() error
}

// Kind distinguishes the two plugin groups.
type Kind string

const (
	KindExtractor Kind = "extractor"
	KindLoader    Kind = "loader"
)

// ResolutionError reports a plugin whose package locator could not be
// installed or resolved to an implementation.
type ResolutionError struct {
	Plugin  string
	Locator string
	Err     error
}

func (e *ResolutionError) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("plugin %q: no implementation registered and no package locator declared", e.Plugin)
	}
	return fmt.Sprintf("plugin %q: cannot resolve %q: %v", e.Plugin, e.Locator, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// RuntimeError attributes a discovery or run failure to a specific
// plugin instance and operation, wrapping the plugin's own error.
type RuntimeError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("plugin %q: %s: %v", e.Plugin, e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
