package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meltworks/melt/pkg/singer"
)

func TestLoadCreatesTablePerStream(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "output.db")
	target := New()
	if err := target.Connect(map[string]any{"database": dbPath, "batch_size": 2}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ch := make(chan singer.Message, 5)
	ch <- singer.NewSchema("projects", map[string]any{"type": "object"})
	ch <- singer.NewRecord("projects", map[string]any{"id": 1, "name": "demo-project"})
	ch <- singer.NewRecord("projects", map[string]any{"id": 2, "name": "meltano"})
	ch <- singer.NewRecord("commits", map[string]any{"id": "abc"})
	close(ch)

	if err := target.Load(context.Background(), ch); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := target.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM projects`).Scan(&count); err != nil {
		t.Fatalf("count projects: %v", err)
	}
	if count != 2 {
		t.Errorf("projects rows = %d, want 2", count)
	}

	var record string
	if err := db.QueryRow(`SELECT record FROM commits`).Scan(&record); err != nil {
		t.Fatalf("read commits: %v", err)
	}
	if !strings.Contains(record, `"abc"`) {
		t.Errorf("commits record = %s", record)
	}
}

func TestTableName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"projects", "projects"},
		{"merge_request_commits", "merge_request_commits"},
		{"weird-stream.name", "weird_stream_name"},
	}
	for _, tc := range cases {
		if got := tableName(tc.in); got != tc.want {
			t.Errorf("tableName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
