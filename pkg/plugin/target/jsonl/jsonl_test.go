package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meltworks/melt/pkg/singer"
)

func load(t *testing.T, target *Target, messages ...singer.Message) {
	t.Helper()
	ch := make(chan singer.Message, len(messages))
	for _, m := range messages {
		ch <- m
	}
	close(ch)
	if err := target.Load(context.Background(), ch); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := target.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}

func TestLoadWritesOneFilePerStream(t *testing.T) {
	dir := t.TempDir()
	target := New()
	if err := target.Connect(map[string]any{"destination_path": dir}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	load(t, target,
		singer.NewSchema("projects", map[string]any{"type": "object"}),
		singer.NewRecord("projects", map[string]any{"id": 1, "name": "demo-project"}),
		singer.NewRecord("commits", map[string]any{"id": "abc"}),
		singer.NewRecord("projects", map[string]any{"id": 2, "name": "meltano"}),
	)

	data, err := os.ReadFile(filepath.Join(dir, "projects.jsonl"))
	if err != nil {
		t.Fatalf("read projects.jsonl: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("projects.jsonl has %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"demo-project"`) {
		t.Errorf("first line = %s", lines[0])
	}

	if _, err := os.Stat(filepath.Join(dir, "commits.jsonl")); err != nil {
		t.Errorf("commits.jsonl missing: %v", err)
	}
}

func TestLoadTimestampedFiles(t *testing.T) {
	dir := t.TempDir()
	target := New()
	err := target.Connect(map[string]any{
		"destination_path":  dir,
		"do_timestamp_file": true,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	load(t, target, singer.NewRecord("jobs", map[string]any{"id": 7}))

	matches, err := filepath.Glob(filepath.Join(dir, "jobs-*.jsonl"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("timestamped file matches = %v, err = %v", matches, err)
	}
}

func TestLoadAppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	for range 2 {
		target := New()
		if err := target.Connect(map[string]any{"destination_path": dir}); err != nil {
			t.Fatalf("connect: %v", err)
		}
		load(t, target, singer.NewRecord("projects", map[string]any{"id": 1}))
	}

	data, err := os.ReadFile(filepath.Join(dir, "projects.jsonl"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Errorf("file has %d lines after two runs, want 2", got)
	}
}
