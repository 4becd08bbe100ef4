package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/meltworks/melt/pkg/manifest"
	"github.com/meltworks/melt/pkg/selection"
	"github.com/meltworks/melt/pkg/singer"
)

type fakeExtractor struct{}

func (f *fakeExtractor) Connect(map[string]any) error { return nil }
func (f *fakeExtractor) Discover(context.Context) (*singer.Catalog, error) {
	return &singer.Catalog{}, nil
}
func (f *fakeExtractor) Extract(context.Context, selection.Set, *singer.State) (<-chan singer.Message, error) {
	ch := make(chan singer.Message)
	close(ch)
	return ch, nil
}
func (f *fakeExtractor) Err() error        { return nil }
func (f *fakeExtractor) Disconnect() error { return nil }

type fakeLoader struct{}

func (f *fakeLoader) Connect(map[string]any) error                      { return nil }
func (f *fakeLoader) Load(context.Context, <-chan singer.Message) error { return nil }
func (f *fakeLoader) Disconnect() error                                 { return nil }

func TestRegistryResolveRegistered(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterExtractor("tap-gitlab", &fakeExtractor{}, "catalog", "discover", "state")
	r.RegisterLoader("target-jsonl", &fakeLoader{})

	ext, err := r.ResolveExtractor(&manifest.Plugin{Name: "tap-gitlab"})
	if err != nil {
		t.Fatalf("resolve extractor: %v", err)
	}
	if ext == nil {
		t.Fatal("nil extractor")
	}

	loader, err := r.ResolveLoader(&manifest.Plugin{Name: "target-jsonl"})
	if err != nil {
		t.Fatalf("resolve loader: %v", err)
	}
	if loader == nil {
		t.Fatal("nil loader")
	}

	caps := r.Capabilities("tap-gitlab")
	if len(caps) != 3 {
		t.Errorf("capabilities = %v, want 3 entries", caps)
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.ResolveExtractor(&manifest.Plugin{Name: "tap-zendesk"})
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("err = %v, want ResolutionError", err)
	}
	if resErr.Plugin != "tap-zendesk" {
		t.Errorf("plugin = %q", resErr.Plugin)
	}
}

func TestRegistryLocatorFallback(t *testing.T) {
	// A locator pointing at nothing resolvable must surface a
	// ResolutionError naming the locator.
	r := NewRegistry(NewInstaller(t.TempDir()))
	r.installer.Python = "definitely-not-a-python"

	_, err := r.ResolveLoader(&manifest.Plugin{Name: "target-jsonl", PipURL: "target-jsonl"})
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("err = %v, want ResolutionError", err)
	}
	if resErr.Locator != "target-jsonl" {
		t.Errorf("locator = %q", resErr.Locator)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterLoader("target-sqlite", &fakeLoader{})
	r.RegisterExtractor("tap-gitlab", &fakeExtractor{})
	r.RegisterLoader("target-jsonl", &fakeLoader{})

	names := r.Names()
	want := []string{"tap-gitlab", "target-jsonl", "target-sqlite"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
