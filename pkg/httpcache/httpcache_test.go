package httpcache

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRoundTripCachesGet(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`[{"id":1}]`))
	}))
	defer srv.Close()

	transport := New(t.TempDir())
	client := &http.Client{Transport: transport}

	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL + "/api/v4/projects")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != `[{"id":1}]` {
			t.Fatalf("body = %s", body)
		}
	}

	if hits != 1 {
		t.Errorf("origin hit %d times, want 1", hits)
	}
}

func TestExpiredEntriesRefetch(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	now := time.Now()
	transport := New(t.TempDir())
	transport.now = func() time.Time { return now }
	client := &http.Client{Transport: transport}

	client.Get(srv.URL + "/x")
	now = now.Add(25 * time.Hour)
	client.Get(srv.URL + "/x")

	if hits != 2 {
		t.Errorf("origin hit %d times, want 2", hits)
	}
}

func TestIgnoredParamsNotPersisted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	transport := New(dir, "private_token")
	client := &http.Client{Transport: transport}

	if _, err := client.Get(srv.URL + "/x?private_token=glpat-secret&page=1"); err != nil {
		t.Fatalf("get: %v", err)
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if strings.Contains(string(data), "glpat-secret") {
			t.Errorf("secret persisted in %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
}

func TestIgnoredParamsShareCacheKey(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	transport := New(t.TempDir(), "private_token")
	client := &http.Client{Transport: transport}

	client.Get(srv.URL + "/x?private_token=a")
	client.Get(srv.URL + "/x?private_token=b")

	if hits != 1 {
		t.Errorf("origin hit %d times, want 1", hits)
	}
}

func TestPostNotCached(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	client := &http.Client{Transport: New(t.TempDir())}
	client.Post(srv.URL, "text/plain", strings.NewReader("x"))
	client.Post(srv.URL, "text/plain", strings.NewReader("x"))

	if hits != 2 {
		t.Errorf("origin hit %d times, want 2", hits)
	}
}
