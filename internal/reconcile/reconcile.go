package reconcile

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"

	goversion "github.com/hashicorp/go-version"
)

// SortKey selects the active sort column for the unified view.
type SortKey int

const (
	KeyVersion SortKey = iota
	KeyStatus
	KeyBranch
	KeyRisk
	KeyHash
	KeySize
	KeyTime
)

var keyNames = map[string]SortKey{
	"version": KeyVersion,
	"status":  KeyStatus,
	"branch":  KeyBranch,
	"risk":    KeyRisk,
	"type":    KeyRisk,
	"hash":    KeyHash,
	"size":    KeySize,
	"time":    KeyTime,
	"date":    KeyTime,
}

// ParseKey resolves a column name to its sort key. Unknown names report
// false and fall back to the version key.
func ParseKey(name string) (SortKey, bool) {
	key, ok := keyNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return KeyVersion, false
	}
	return key, true
}

// Normalize maps a key onto the nearest available column: first scanning
// toward the version column, then away from it. The result is stable for a
// given availability set, so repeated calls agree.
func Normalize(key SortKey, available func(SortKey) bool) SortKey {
	if available == nil || available(key) {
		return key
	}
	for k := key - 1; k >= KeyVersion; k-- {
		if available(k) {
			return k
		}
	}
	for k := key + 1; k <= KeyTime; k++ {
		if available(k) {
			return k
		}
	}
	return KeyVersion
}

// Merge combines the local scan result and the remote catalog into one
// de-duplicated view with exactly one record per distinct version. A version
// present on both sides yields a single Local-origin record; when the local
// and remote build-time tokens are both non-empty and differ, the record is
// flagged update-available and carries the remote hash for display.
//
// The returned slice is ordered by ascending version so Merge output is
// deterministic before any explicit Sort.
func Merge(local map[string]models.LocalBuild, remote []models.RemoteBuild) []models.UnifiedRecord {
	byVersion := make(map[string]models.UnifiedRecord, len(local)+len(remote))

	for version, lb := range local {
		sortTime := lb.BuildTime
		if sortTime == "" {
			sortTime = lb.BuildDate
		}
		byVersion[version] = models.UnifiedRecord{
			Origin:   models.OriginLocal,
			Version:  version,
			Branch:   lb.Branch,
			RiskID:   lb.RiskID,
			Hash:     lb.Hash,
			SizeMB:   lb.SizeMB(),
			SortTime: sortTime,
		}
	}

	for _, rb := range remote {
		if record, exists := byVersion[rb.Version]; exists {
			// Update detection for the local record that shadows this one.
			localToken := local[record.Version].BuildTime
			remoteToken := rb.BuildTimeToken()
			if localToken != "" && remoteToken != "" && localToken != remoteToken {
				record.UpdateAvailable = true
				record.Hash = rb.Hash
				byVersion[record.Version] = record
			}
			continue
		}
		byVersion[rb.Version] = models.UnifiedRecord{
			Origin:   models.OriginOnline,
			Version:  rb.Version,
			Branch:   rb.Branch,
			RiskID:   rb.RiskID,
			Hash:     rb.Hash,
			SizeMB:   rb.SizeMB(),
			SortTime: strconv.FormatInt(rb.FileMtime.Time().Unix(), 10),
		}
	}

	records := make([]models.UnifiedRecord, 0, len(byVersion))
	for _, record := range byVersion {
		records = append(records, record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return CompareVersions(records[i].Version, records[j].Version) < 0
	})
	return records
}

// Sort orders records by the given key and direction, in place. Each key is
// a single total order; only the status key defines a secondary tiebreak
// (version), and branch/hash compare absent values as empty strings.
func Sort(records []models.UnifiedRecord, key SortKey, descending bool) {
	less := lessFunc(key)
	sort.SliceStable(records, func(i, j int) bool {
		if descending {
			return less(records[j], records[i])
		}
		return less(records[i], records[j])
	})
}

func lessFunc(key SortKey) func(a, b models.UnifiedRecord) bool {
	switch key {
	case KeyStatus:
		return func(a, b models.UnifiedRecord) bool {
			if a.Status() != b.Status() {
				return a.Status() < b.Status()
			}
			return CompareVersions(a.Version, b.Version) < 0
		}
	case KeyBranch:
		return func(a, b models.UnifiedRecord) bool {
			return strings.ToLower(a.Branch) < strings.ToLower(b.Branch)
		}
	case KeyRisk:
		return func(a, b models.UnifiedRecord) bool {
			return models.RiskRank(a.RiskID) < models.RiskRank(b.RiskID)
		}
	case KeyHash:
		return func(a, b models.UnifiedRecord) bool {
			return a.Hash < b.Hash
		}
	case KeySize:
		return func(a, b models.UnifiedRecord) bool {
			return a.SizeMB < b.SizeMB
		}
	case KeyTime:
		return func(a, b models.UnifiedRecord) bool {
			return ParseSortTime(a.SortTime).Before(ParseSortTime(b.SortTime))
		}
	default: // KeyVersion
		return func(a, b models.UnifiedRecord) bool {
			return CompareVersions(a.Version, b.Version) < 0
		}
	}
}

// CompareVersions orders dotted numeric versions element-wise, padding
// missing trailing segments with zero ("4.1" == "4.1.0"). An unparseable
// version sorts before any parseable one; two unparseable versions fall back
// to plain string order.
func CompareVersions(a, b string) int {
	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// sortTimeLayouts are the accepted string shapes of a sort-time value, tried
// in order after the epoch-integer form.
var sortTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"20060102_1504",
}

// ParseSortTime turns a raw sort-time value into a calendar timestamp.
// Accepts a Unix epoch integer or one of the known string layouts; anything
// else, including the empty string, yields the zero time, which sorts first
// ascending and last descending.
func ParseSortTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(epoch, 0)
	}
	for _, layout := range sortTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
