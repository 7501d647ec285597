package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.DownloadPath == "" {
		t.Error("default DownloadPath is empty")
	}
	if cfg.VersionCutoff != "4.0" {
		t.Errorf("default VersionCutoff = %q, want 4.0", cfg.VersionCutoff)
	}
	if cfg.FetchTimeoutSec != 20 {
		t.Errorf("default FetchTimeoutSec = %d, want 20", cfg.FetchTimeoutSec)
	}
	if cfg.UUID == "" {
		t.Error("default UUID is empty")
	}
	if Default().UUID == cfg.UUID {
		t.Error("each Default() call should mint a fresh UUID")
	}
}

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VersionCutoff != "4.0" {
		t.Errorf("VersionCutoff = %q, want default", cfg.VersionCutoff)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config file was not persisted: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	want := models.Config{
		DownloadPath:    "/opt/blender-builds",
		VersionCutoff:   "3.6",
		FetchTimeoutSec: 45,
		HistoryPath:     "/opt/blender-builds/.history",
		UUID:            "11111111-2222-3333-4444-555555555555",
	}

	if err := Save(want, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestLoadBackfills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := strings.Join([]string{
		`download_path = "/opt/builds"`,
		`version_cutoff = "4.1"`,
		`fetch_timeout_sec = -3`,
		`history_path = ""`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HistoryPath != filepath.Join("/opt/builds", ".history") {
		t.Errorf("HistoryPath = %q, want derived from download path", cfg.HistoryPath)
	}
	if cfg.FetchTimeoutSec != 20 {
		t.Errorf("FetchTimeoutSec = %d, want clamped default 20", cfg.FetchTimeoutSec)
	}
	if cfg.UUID == "" {
		t.Error("UUID was not backfilled")
	}

	// The backfilled id must be persisted for the next run.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if again.UUID != cfg.UUID {
		t.Errorf("UUID changed across loads: %q != %q", again.UUID, cfg.UUID)
	}
}

func TestLoadExpandsHome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`download_path = "~/builds"`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory in this environment")
	}
	if cfg.DownloadPath != filepath.Join(home, "builds") {
		t.Errorf("DownloadPath = %q, want expanded under %q", cfg.DownloadPath, home)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("download_path = [not toml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load of malformed toml should error")
	}
}
