package elt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meltworks/melt/pkg/singer"
)

func TestStateStoreRoundTrip(t *testing.T) {
	store := NewStateStore(t.TempDir())

	state := &singer.State{Bookmarks: map[string]json.RawMessage{
		"commits": json.RawMessage(`{"since":"2022-03-01T00:00:00Z"}`),
	}}
	if err := store.Save("tap-gitlab", state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load("tap-gitlab")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded.Bookmarks["commits"]) != `{"since":"2022-03-01T00:00:00Z"}` {
		t.Errorf("bookmark = %s", loaded.Bookmarks["commits"])
	}
}

func TestStateStoreMissingIsNil(t *testing.T) {
	store := NewStateStore(t.TempDir())
	state, err := store.Load("tap-gitlab")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state != nil {
		t.Errorf("state = %+v, want nil", state)
	}
}

func TestStateStoreSaveNilIsNoop(t *testing.T) {
	store := NewStateStore(t.TempDir())
	if err := store.Save("tap-gitlab", nil); err != nil {
		t.Fatalf("save nil: %v", err)
	}
	state, err := store.Load("tap-gitlab")
	if err != nil || state != nil {
		t.Errorf("state = %+v, err = %v", state, err)
	}
}

func TestStateStoreKeepsBookmarkBytesVerbatim(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	// The bookmark is opaque extractor data; the store must not
	// pretty-print it on the way to disk.
	bookmark := `{"since":"2022-03-01T00:00:00Z","page":3}`
	state := &singer.State{Bookmarks: map[string]json.RawMessage{
		"commits": json.RawMessage(bookmark),
	}}
	if err := store.Save("tap-gitlab", state); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "tap-gitlab.json"))
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if !strings.Contains(string(data), bookmark) {
		t.Errorf("state file reformatted the bookmark:\n%s", data)
	}

	loaded, err := store.Load("tap-gitlab")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded.Bookmarks["commits"]) != bookmark {
		t.Errorf("bookmark = %s, want %s", loaded.Bookmarks["commits"], bookmark)
	}
}

func TestStateStoreOverwrite(t *testing.T) {
	store := NewStateStore(t.TempDir())

	for _, since := range []string{"2022-03-01", "2022-04-01"} {
		state := &singer.State{Bookmarks: map[string]json.RawMessage{
			"commits": json.RawMessage(`{"since":"` + since + `"}`),
		}}
		if err := store.Save("tap-gitlab", state); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	loaded, err := store.Load("tap-gitlab")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded.Bookmarks["commits"]) != `{"since":"2022-04-01"}` {
		t.Errorf("bookmark = %s", loaded.Bookmarks["commits"])
	}
}
