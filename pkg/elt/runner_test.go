package elt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/meltworks/melt/pkg/manifest"
	"github.com/meltworks/melt/pkg/plugin"
	"github.com/meltworks/melt/pkg/selection"
	"github.com/meltworks/melt/pkg/singer"
)

const runnerManifest = `
version: 1
project_id: demo-project
plugins:
  extractors:
    - name: tap-gitlab
      settings:
        - name: projects
      config:
        projects: meltano/demo-project meltano/meltano
      select:
        - '*.*'
        - '!jobs'
  loaders:
    - name: target-jsonl
    - name: target-sqlite
`

type stubExtractor struct {
	catalog       *singer.Catalog
	messages      []singer.Message
	discoverCalls int
	receivedState *singer.State
	extractErr    error
}

func (s *stubExtractor) Connect(map[string]any) error { return nil }

func (s *stubExtractor) Discover(context.Context) (*singer.Catalog, error) {
	s.discoverCalls++
	return s.catalog, nil
}

func (s *stubExtractor) Extract(ctx context.Context, selected selection.Set, state *singer.State) (<-chan singer.Message, error) {
	s.receivedState = state
	out := make(chan singer.Message, len(s.messages))
	for _, m := range s.messages {
		out <- m
	}
	close(out)
	return out, nil
}

func (s *stubExtractor) Err() error        { return s.extractErr }
func (s *stubExtractor) Disconnect() error { return nil }

type stubLoader struct {
	mu      sync.Mutex
	records []singer.Record
	flushed bool
	failOn  int // fail after consuming this many records, 0 = never
}

func (s *stubLoader) Connect(map[string]any) error { return nil }

func (s *stubLoader) Load(ctx context.Context, messages <-chan singer.Message) error {
	n := 0
	for msg := range messages {
		if msg.Type != singer.TypeRecord {
			continue
		}
		n++
		if s.failOn > 0 && n > s.failOn {
			return errors.New("disk full")
		}
		s.mu.Lock()
		s.records = append(s.records, *msg.Record)
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.flushed = true
	s.mu.Unlock()
	return nil
}

// flushedClean reports that Load drained its channel to the end and
// returned without error.
func (s *stubLoader) flushedClean() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushed
}

func (s *stubLoader) Disconnect() error { return nil }

func (s *stubLoader) recorded() []singer.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]singer.Record(nil), s.records...)
}

func gitlabCatalog() *singer.Catalog {
	stream := func(name string, fields ...string) singer.Stream {
		props := map[string]any{}
		for _, f := range fields {
			props[f] = map[string]any{"type": "string"}
		}
		return singer.Stream{Name: name, Schema: map[string]any{"type": "object", "properties": props}}
	}
	return &singer.Catalog{Streams: []singer.Stream{
		stream("projects", "id", "name"),
		stream("commits", "id", "message"),
		stream("jobs", "id", "status"),
	}}
}

func newTestRunner(t *testing.T, ext plugin.Extractor, jsonl, sqlite plugin.Loader) *Runner {
	t.Helper()

	m, err := manifest.Parse([]byte(runnerManifest))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}

	reg := plugin.NewRegistry(nil)
	reg.RegisterExtractor("tap-gitlab", ext)
	reg.RegisterLoader("target-jsonl", jsonl)
	reg.RegisterLoader("target-sqlite", sqlite)

	return &Runner{
		Manifest: m,
		Registry: reg,
		States:   NewStateStore(t.TempDir()),
		Logger:   zap.NewNop(),
	}
}

func TestRunFansOutToAllLoaders(t *testing.T) {
	ext := &stubExtractor{
		catalog: gitlabCatalog(),
		messages: []singer.Message{
			singer.NewSchema("projects", map[string]any{"type": "object"}),
			singer.NewRecord("projects", map[string]any{"id": "1", "name": "demo-project"}),
			singer.NewRecord("commits", map[string]any{"id": "abc", "message": "init"}),
		},
	}
	jsonl := &stubLoader{}
	sqlite := &stubLoader{}

	runner := newTestRunner(t, ext, jsonl, sqlite)
	result, err := runner.Run(context.Background(), "tap-gitlab", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if ext.discoverCalls != 1 {
		t.Errorf("discover called %d times, want 1", ext.discoverCalls)
	}
	if result.ExtractedRecords != 2 {
		t.Errorf("extracted %d records, want 2", result.ExtractedRecords)
	}
	if len(jsonl.recorded()) != 2 || len(sqlite.recorded()) != 2 {
		t.Errorf("loaders received %d/%d records, want 2/2", len(jsonl.recorded()), len(sqlite.recorded()))
	}
	if result.Failed() {
		t.Errorf("unexpected loader errors: %v", result.LoaderErrors)
	}
}

func TestRunDropsUnselectedStreams(t *testing.T) {
	ext := &stubExtractor{
		catalog: gitlabCatalog(),
		messages: []singer.Message{
			singer.NewRecord("projects", map[string]any{"id": "1"}),
			// jobs is excluded by the manifest's select rules; a
			// misbehaving extractor may emit it anyway.
			singer.NewRecord("jobs", map[string]any{"id": "9", "status": "failed"}),
		},
	}
	jsonl := &stubLoader{}
	sqlite := &stubLoader{}

	runner := newTestRunner(t, ext, jsonl, sqlite)
	if _, err := runner.Run(context.Background(), "tap-gitlab", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, rec := range jsonl.recorded() {
		if rec.Stream == "jobs" {
			t.Errorf("jobs record reached loader: %+v", rec)
		}
	}
	if len(jsonl.recorded()) != 1 {
		t.Errorf("loader received %d records, want 1", len(jsonl.recorded()))
	}
}

func TestRunLoaderFailureIsIsolated(t *testing.T) {
	ext := &stubExtractor{
		catalog: gitlabCatalog(),
		messages: []singer.Message{
			singer.NewRecord("projects", map[string]any{"id": "1"}),
			singer.NewRecord("projects", map[string]any{"id": "2"}),
			singer.NewRecord("projects", map[string]any{"id": "3"}),
		},
	}
	jsonl := &stubLoader{failOn: 1}
	sqlite := &stubLoader{}

	runner := newTestRunner(t, ext, jsonl, sqlite)
	result, err := runner.Run(context.Background(), "tap-gitlab", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !result.Failed() {
		t.Fatal("expected target-jsonl to be reported failed")
	}
	var runtimeErr *plugin.RuntimeError
	if !errors.As(result.LoaderErrors["target-jsonl"], &runtimeErr) {
		t.Errorf("target-jsonl error = %v, want RuntimeError", result.LoaderErrors["target-jsonl"])
	}
	if len(sqlite.recorded()) != 3 {
		t.Errorf("target-sqlite received %d records, want all 3", len(sqlite.recorded()))
	}
}

func TestRunPersistsState(t *testing.T) {
	checkpoint := &singer.State{
		Bookmarks: map[string]json.RawMessage{"projects": json.RawMessage(`{"since":"2022-03-01"}`)},
	}
	ext := &stubExtractor{
		catalog: gitlabCatalog(),
		messages: []singer.Message{
			singer.NewRecord("projects", map[string]any{"id": "1"}),
			singer.NewState(checkpoint),
		},
	}

	runner := newTestRunner(t, ext, &stubLoader{}, &stubLoader{})
	if _, err := runner.Run(context.Background(), "tap-gitlab", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	saved, err := runner.States.Load("tap-gitlab")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if saved == nil || string(saved.Bookmarks["projects"]) != `{"since":"2022-03-01"}` {
		t.Errorf("saved state = %+v", saved)
	}

	// A second run must hand the checkpoint back to the extractor.
	if _, err := runner.Run(context.Background(), "tap-gitlab", nil); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if ext.receivedState == nil {
		t.Fatal("extractor did not receive persisted state")
	}
}

func TestRunExtractorFailureIsFatal(t *testing.T) {
	ext := &stubExtractor{
		catalog:    gitlabCatalog(),
		messages:   []singer.Message{singer.NewRecord("projects", map[string]any{"id": "1"})},
		extractErr: errors.New("401 unauthorized"),
	}

	runner := newTestRunner(t, ext, &stubLoader{}, &stubLoader{})
	_, err := runner.Run(context.Background(), "tap-gitlab", nil)

	var runtimeErr *plugin.RuntimeError
	if !errors.As(err, &runtimeErr) {
		t.Fatalf("err = %v, want RuntimeError", err)
	}
	if runtimeErr.Plugin != "tap-gitlab" || runtimeErr.Op != "extract" {
		t.Errorf("error attribution = %s/%s", runtimeErr.Plugin, runtimeErr.Op)
	}
}

// endlessExtractor emits records until its context is canceled,
// standing in for a source with no natural end.
type endlessExtractor struct {
	stubExtractor
}

func (e *endlessExtractor) Extract(ctx context.Context, _ selection.Set, _ *singer.State) (<-chan singer.Message, error) {
	out := make(chan singer.Message)
	go func() {
		defer close(out)
		for i := 0; ; i++ {
			select {
			case out <- singer.NewRecord("projects", map[string]any{"id": i}):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func TestRunCancellationLetsLoadersFlush(t *testing.T) {
	ext := &endlessExtractor{stubExtractor{catalog: gitlabCatalog()}}
	jsonl := &stubLoader{}
	sqlite := &stubLoader{}
	runner := newTestRunner(t, ext, jsonl, sqlite)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	var result *Result
	var err error
	go func() {
		defer close(done)
		result, err = runner.Run(ctx, "tap-gitlab", nil)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Failed() {
		t.Errorf("loaders reported failed after cancellation: %v", result.LoaderErrors)
	}
	if !jsonl.flushedClean() || !sqlite.flushedClean() {
		t.Error("loaders did not drain and flush after cancellation")
	}
	if len(jsonl.recorded()) == 0 {
		t.Error("no records delivered before cancellation")
	}
}

func TestRunUnknownExtractor(t *testing.T) {
	runner := newTestRunner(t, &stubExtractor{catalog: gitlabCatalog()}, &stubLoader{}, &stubLoader{})
	if _, err := runner.Run(context.Background(), "tap-zendesk", nil); err == nil {
		t.Fatal("expected error for undeclared extractor")
	}
}

func TestRunFieldSelectionStripsFields(t *testing.T) {
	m, err := manifest.Parse([]byte(`
version: 1
plugins:
  extractors:
    - name: tap-gitlab
      select:
        - 'commits.*'
        - '!commits.message'
  loaders:
    - name: target-jsonl
`))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}

	ext := &stubExtractor{
		catalog: gitlabCatalog(),
		messages: []singer.Message{
			singer.NewRecord("commits", map[string]any{"id": "abc", "message": "secret"}),
		},
	}
	jsonl := &stubLoader{}

	reg := plugin.NewRegistry(nil)
	reg.RegisterExtractor("tap-gitlab", ext)
	reg.RegisterLoader("target-jsonl", jsonl)

	runner := &Runner{Manifest: m, Registry: reg, States: NewStateStore(t.TempDir()), Logger: zap.NewNop()}
	if _, err := runner.Run(context.Background(), "tap-gitlab", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	recs := jsonl.recorded()
	if len(recs) != 1 {
		t.Fatalf("loader received %d records, want 1", len(recs))
	}
	if _, ok := recs[0].Data["message"]; ok {
		t.Error("excluded field delivered to loader")
	}
	if recs[0].Data["id"] != "abc" {
		t.Errorf("record data = %v", recs[0].Data)
	}
}
