package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"
)

func catalogJSON() string {
	platform, arch := CatalogPlatform()
	return `[
		{"version": "4.2.0", "branch": "main", "risk_id": "alpha", "hash": "abc123",
		 "file_size": 1000, "file_mtime": 1700000000, "file_name": "blender-4.2.0.tar.xz",
		 "file_extension": "tar.xz", "url": "https://example.org/blender-4.2.0.tar.xz",
		 "platform": "` + platform + `", "architecture": "` + arch + `"},
		{"version": "3.6.0", "branch": "main", "risk_id": "stable", "hash": "old999",
		 "file_size": 900, "file_mtime": 1600000000, "file_name": "blender-3.6.0.tar.xz",
		 "file_extension": "tar.xz", "url": "https://example.org/blender-3.6.0.tar.xz",
		 "platform": "` + platform + `", "architecture": "` + arch + `"},
		{"version": "4.2.0", "branch": "main", "risk_id": "alpha", "hash": "abc123",
		 "file_size": 10, "file_mtime": 1700000000, "file_name": "blender-4.2.0.sha256",
		 "file_extension": "sha256", "url": "https://example.org/blender-4.2.0.sha256",
		 "platform": "` + platform + `", "architecture": "` + arch + `"},
		{"version": "4.2.0", "branch": "main", "risk_id": "alpha", "hash": "abc123",
		 "file_size": 1000, "file_mtime": 1700000000, "file_name": "blender-4.2.0-other.tar.xz",
		 "file_extension": "tar.xz", "url": "https://example.org/other",
		 "platform": "solaris", "architecture": "sparc"}
	]`
}

func newCatalogServer(t *testing.T, status int, body string) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua == "" {
			t.Error("catalog request carries no User-Agent")
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.Client(), models.Config{FetchTimeoutSec: 5})
	client.BaseUrl = server.URL
	return server, client
}

func TestFetchBuildsFiltersPlatformAndExtension(t *testing.T) {
	_, client := newCatalogServer(t, http.StatusOK, catalogJSON())

	builds, err := client.FetchBuilds(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchBuilds: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("got %d builds, want 2 (checksums and foreign platforms filtered): %v", len(builds), builds)
	}
	for _, b := range builds {
		if b.FileExtension != "tar.xz" {
			t.Errorf("unexpected extension %q", b.FileExtension)
		}
	}
}

func TestFetchBuildsAppliesCutoff(t *testing.T) {
	_, client := newCatalogServer(t, http.StatusOK, catalogJSON())

	builds, err := client.FetchBuilds(context.Background(), "4.0")
	if err != nil {
		t.Fatalf("FetchBuilds: %v", err)
	}
	if len(builds) != 1 || builds[0].Version != "4.2.0" {
		t.Fatalf("cutoff 4.0 kept %v, want only 4.2.0", builds)
	}
}

func TestFetchBuildsBadCutoff(t *testing.T) {
	_, client := newCatalogServer(t, http.StatusOK, catalogJSON())

	_, err := client.FetchBuilds(context.Background(), "not.a.version!")
	if !errors.Is(err, ErrBadCutoff) {
		t.Errorf("err = %v, want ErrBadCutoff", err)
	}
}

func TestFetchBuildsHttpError(t *testing.T) {
	_, client := newCatalogServer(t, http.StatusServiceUnavailable, "busy")

	_, err := client.FetchBuilds(context.Background(), "")
	if !errors.Is(err, ErrHttpStatus) {
		t.Errorf("err = %v, want ErrHttpStatus", err)
	}
}

func TestFetchBuildsParseError(t *testing.T) {
	_, client := newCatalogServer(t, http.StatusOK, "<html>not json</html>")

	_, err := client.FetchBuilds(context.Background(), "")
	if !errors.Is(err, ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}

func TestFetchBuildsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.Client(), models.Config{FetchTimeoutSec: 5})
	client.BaseUrl = server.URL

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.FetchBuilds(ctx, "")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestFetchBuildsUnreachable(t *testing.T) {
	client := NewClient(&http.Client{Timeout: time.Second}, models.Config{FetchTimeoutSec: 1})
	client.BaseUrl = "http://127.0.0.1:1/catalog"

	_, err := client.FetchBuilds(context.Background(), "")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
}
