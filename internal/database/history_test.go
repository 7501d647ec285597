package database

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := h.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return h
}

func TestRecordAndGet(t *testing.T) {
	h := openTestHistory(t)

	entry := models.HistoryEntry{
		Version:     "4.1",
		FileName:    "blender-4.1-daily.tar.xz",
		Hash:        "abc123",
		SizeBytes:   350 * 1024 * 1024,
		CompletedAt: 1700000000,
	}
	if err := h.Record(entry); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := h.Get("4.1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != entry {
		t.Errorf("Get = %+v, want %+v", got, entry)
	}
}

func TestGetMissingVersion(t *testing.T) {
	h := openTestHistory(t)

	_, err := h.Get("9.9")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordRequiresVersion(t *testing.T) {
	h := openTestHistory(t)

	if err := h.Record(models.HistoryEntry{FileName: "x.tar.xz"}); err == nil {
		t.Error("Record without a version should error")
	}
}

func TestRecordOverwritesSameVersion(t *testing.T) {
	h := openTestHistory(t)

	first := models.HistoryEntry{Version: "4.1", CompletedAt: 100}
	second := models.HistoryEntry{Version: "4.1", CompletedAt: 200}
	if err := h.Record(first); err != nil {
		t.Fatal(err)
	}
	if err := h.Record(second); err != nil {
		t.Fatal(err)
	}

	got, err := h.Get("4.1")
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt != 200 {
		t.Errorf("CompletedAt = %d, want the overwrite", got.CompletedAt)
	}

	entries, err := h.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("List returned %d entries, want 1", len(entries))
	}
}

func TestListMostRecentFirst(t *testing.T) {
	h := openTestHistory(t)

	for _, e := range []models.HistoryEntry{
		{Version: "4.1", CompletedAt: 100},
		{Version: "4.3", CompletedAt: 300},
		{Version: "4.2", CompletedAt: 200},
	} {
		if err := h.Record(e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := h.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"4.3", "4.2", "4.1"}
	if len(entries) != len(want) {
		t.Fatalf("List returned %d entries, want %d", len(entries), len(want))
	}
	for i, v := range want {
		if entries[i].Version != v {
			t.Errorf("List[%d] = %s, want %s", i, entries[i].Version, v)
		}
	}
}

func TestClear(t *testing.T) {
	h := openTestHistory(t)

	if err := h.Record(models.HistoryEntry{Version: "4.1", CompletedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := h.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	entries, err := h.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("List after Clear returned %d entries", len(entries))
	}
	if _, err := h.Get("4.1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Clear = %v, want ErrNotFound", err)
	}
}
