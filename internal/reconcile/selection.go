package reconcile

import (
	"sort"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"
)

// Selection tracks the cursor and the set of marked builds over the current
// reconciled sequence. Marks are keyed by version rather than position so
// they survive re-sorting, and each version gets a stable ordinal assigned
// once from the initial local listing.
type Selection struct {
	cursor   int
	marked   map[string]struct{}
	ordinals map[string]int
}

// NewSelection creates an empty selection state.
func NewSelection() *Selection {
	return &Selection{
		marked:   make(map[string]struct{}),
		ordinals: make(map[string]int),
	}
}

// AssignOrdinals numbers the given local versions 1..n in descending version
// order. It only runs once: ordinals are never reassigned, so the numbers a
// user has learned keep meaning across fetches and re-sorts.
func (s *Selection) AssignOrdinals(localVersions []string) {
	if len(s.ordinals) > 0 || len(localVersions) == 0 {
		return
	}
	sorted := make([]string, len(localVersions))
	copy(sorted, localVersions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return CompareVersions(sorted[i], sorted[j]) > 0
	})
	for i, version := range sorted {
		s.ordinals[version] = i + 1
	}
}

// Ordinal returns the stable number for a version, 0 when it has none.
func (s *Selection) Ordinal(version string) int {
	return s.ordinals[version]
}

// Cursor returns the current cursor position.
func (s *Selection) Cursor() int {
	return s.cursor
}

// MoveCursor shifts the cursor by delta, clamped to [0, length-1].
func (s *Selection) MoveCursor(delta, length int) {
	s.cursor += delta
	s.Clamp(length)
}

// Clamp forces the cursor back into range after the sequence changed length.
func (s *Selection) Clamp(length int) {
	if s.cursor < 0 {
		s.cursor = 0
	}
	if s.cursor > length-1 {
		s.cursor = length - 1
	}
	if s.cursor < 0 {
		s.cursor = 0
	}
}

// Toggle flips the mark of the record under the cursor. No-op on an empty
// sequence or an out-of-range cursor.
func (s *Selection) Toggle(records []models.UnifiedRecord) {
	if s.cursor < 0 || s.cursor >= len(records) {
		return
	}
	version := records[s.cursor].Version
	if _, ok := s.marked[version]; ok {
		delete(s.marked, version)
	} else {
		s.marked[version] = struct{}{}
	}
}

// ToggleVersion flips the mark of a version directly.
func (s *Selection) ToggleVersion(version string) {
	if _, ok := s.marked[version]; ok {
		delete(s.marked, version)
	} else {
		s.marked[version] = struct{}{}
	}
}

// SelectByOrdinal finds the record carrying the given stable ordinal in the
// current sequence, moves the cursor onto it and toggles its mark. Reports
// whether the ordinal was found.
func (s *Selection) SelectByOrdinal(n int, records []models.UnifiedRecord) bool {
	if n <= 0 {
		return false
	}
	for i, record := range records {
		if s.ordinals[record.Version] == n {
			s.cursor = i
			s.Toggle(records)
			return true
		}
	}
	return false
}

// IsMarked reports whether a version is currently selected.
func (s *Selection) IsMarked(version string) bool {
	_, ok := s.marked[version]
	return ok
}

// Marked returns the selected versions in the order they appear in the
// given sequence.
func (s *Selection) Marked(records []models.UnifiedRecord) []string {
	var versions []string
	for _, record := range records {
		if s.IsMarked(record.Version) {
			versions = append(versions, record.Version)
		}
	}
	return versions
}

// ClearMarks empties the selection set, keeping ordinals and cursor.
func (s *Selection) ClearMarks() {
	s.marked = make(map[string]struct{})
}
