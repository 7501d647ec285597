package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the store.
var ErrNotFound = errors.New("key not found")

const historyKeyPrefix = "download_"

// History wraps a bitcask store recording completed downloads.
type History struct {
	db           *bitcask.Bitcask
	sync.RWMutex // Embed mutex for concurrent access control
}

// Open initializes and returns a History instance.
func Open(path string) (*History, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create history directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store at %s: %w", path, err)
	}
	log.Debugf("History store opened at %s", path)
	return &History{db: dbInstance}, nil
}

// Close safely closes the store.
func (h *History) Close() error {
	h.Lock()
	defer h.Unlock()
	return h.db.Close()
}

// Record stores a completed download keyed by version. An existing entry for
// the same version is overwritten.
func (h *History) Record(entry models.HistoryEntry) error {
	if entry.Version == "" {
		return errors.New("cannot record history entry without a version")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error marshalling history entry for %s: %w", entry.Version, err)
	}

	h.Lock()
	err = h.db.Put(historyKey(entry.Version), data)
	h.Unlock()
	if err != nil {
		return fmt.Errorf("error putting history entry for %s: %w", entry.Version, err)
	}
	return nil
}

// Get retrieves the history entry for a version.
func (h *History) Get(version string) (models.HistoryEntry, error) {
	h.RLock()
	value, err := h.db.Get(historyKey(version))
	h.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return models.HistoryEntry{}, ErrNotFound
		}
		return models.HistoryEntry{}, fmt.Errorf("error getting history entry for %s: %w", version, err)
	}

	var entry models.HistoryEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return models.HistoryEntry{}, fmt.Errorf("error unmarshalling history entry for %s: %w", version, err)
	}
	return entry, nil
}

// List returns all recorded entries, most recent first.
func (h *History) List() ([]models.HistoryEntry, error) {
	h.RLock()
	defer h.RUnlock()

	var entries []models.HistoryEntry
	err := h.db.Fold(func(key []byte) error {
		value, err := h.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("History: error reading value for key %s", string(key))
			return nil
		}
		var entry models.HistoryEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			log.WithError(err).Warnf("History: skipping malformed entry %s", string(key))
			return nil
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error iterating history entries: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CompletedAt > entries[j].CompletedAt
	})
	return entries, nil
}

// Clear removes every recorded entry.
func (h *History) Clear() error {
	h.Lock()
	defer h.Unlock()
	if err := h.db.DeleteAll(); err != nil {
		return fmt.Errorf("error clearing history store: %w", err)
	}
	return nil
}

func historyKey(version string) []byte {
	return []byte(historyKeyPrefix + version)
}
