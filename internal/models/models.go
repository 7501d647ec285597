package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// BuildDirPrefix is the leading token of every managed build directory.
	BuildDirPrefix = "blender"

	// MetaFilename is the metadata sidecar written into every extracted build.
	MetaFilename = "version.json"
)

// Timestamp decodes the catalog's file_mtime field, which is a Unix epoch
// number, while also accepting the RFC3339 strings we write into version.json.
type Timestamp time.Time

// UnmarshalJSON implements json.Unmarshaler for Timestamp.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var epoch int64
	if err := json.Unmarshal(b, &epoch); err == nil {
		*t = Timestamp(time.Unix(epoch, 0))
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			*t = Timestamp(parsed)
			return nil
		}
	}

	return fmt.Errorf("timestamp: cannot decode %s", string(b))
}

// MarshalJSON encodes the timestamp as RFC3339 so sidecar files stay readable.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(time.RFC3339))
}

// Time returns the underlying time.Time value.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

type (
	// Config holds the application settings persisted to config.toml.
	Config struct {
		DownloadPath    string `toml:"download_path"`
		VersionCutoff   string `toml:"version_cutoff"`
		FetchTimeoutSec int    `toml:"fetch_timeout_sec"`
		HistoryPath     string `toml:"history_path"`
		UUID            string `toml:"uuid"`
	}

	// RemoteBuild is one build descriptor from the catalog API. Immutable
	// once decoded.
	RemoteBuild struct {
		Version       string    `json:"version"`
		Branch        string    `json:"branch"`
		RiskID        string    `json:"risk_id"`
		Hash          string    `json:"hash"`
		FileSize      int64     `json:"file_size"`
		FileMtime     Timestamp `json:"file_mtime"`
		FileName      string    `json:"file_name"`
		FileExtension string    `json:"file_extension"`
		URL           string    `json:"url"`
		Platform      string    `json:"platform"`
		Architecture  string    `json:"architecture"`
	}

	// LocalBuild describes one installed build found in the download root.
	// All fields besides Version are best-effort: directory-name parsing
	// cannot recover branch or risk information.
	LocalBuild struct {
		Version       string
		BuildTime     string // opaque token, compared for equality against RemoteBuild.BuildTimeToken
		Branch        string
		RiskID        string
		BuildDate     string // pre-formatted, for display
		DownloadDate  string
		DirectorySize int64
		Hash          string
	}

	// BuildMetadata is the version.json sidecar schema. Written by the
	// pipeline after a verified extraction, read back by the registry.
	BuildMetadata struct {
		Version        string `json:"version"`
		Branch         string `json:"branch"`
		RiskID         string `json:"risk_id"`
		FileSize       int64  `json:"file_size"`
		FileMtime      int64  `json:"file_mtime"`
		FileName       string `json:"file_name"`
		Platform       string `json:"platform"`
		Architecture   string `json:"architecture"`
		BuildTime      string `json:"build_time"`
		MtimeFormatted string `json:"mtime_formatted"`
		DownloadDate   string `json:"download_date"`
		DirectorySize  int64  `json:"directory_size"`
		Hash           string `json:"hash"`
		ArchiveBlake3  string `json:"archive_blake3,omitempty"`
	}

	// HistoryEntry records one completed download in the history store.
	HistoryEntry struct {
		Version     string `json:"version"`
		FileName    string `json:"fileName"`
		Hash        string `json:"hash"`
		SizeBytes   int64  `json:"sizeBytes"`
		CompletedAt int64  `json:"completedAt"`
	}
)

// SizeMB returns the remote file size in megabytes.
func (b RemoteBuild) SizeMB() float64 {
	return float64(b.FileSize) / (1024 * 1024)
}

// MtimeFormatted returns the human-readable build time.
func (b RemoteBuild) MtimeFormatted() string {
	return b.FileMtime.Time().Format("2006-01-02 15:04")
}

// BuildTimeToken returns the modification time formatted for directory names
// and update comparison, e.g. "20240115_1230".
func (b RemoteBuild) BuildTimeToken() string {
	return b.FileMtime.Time().Format("20060102_1504")
}

// SizeMB returns the installed directory size in megabytes, 0 when unknown.
func (b LocalBuild) SizeMB() float64 {
	return float64(b.DirectorySize) / (1024 * 1024)
}

// Origin tags where a unified record came from.
type Origin int

const (
	OriginLocal Origin = iota
	OriginOnline
)

// String returns the display name of the origin.
func (o Origin) String() string {
	if o == OriginLocal {
		return "Local"
	}
	return "Online"
}

// UnifiedRecord is one row of the reconciled local+remote view. The
// reconciler guarantees exactly one record per distinct version.
type UnifiedRecord struct {
	Origin          Origin
	Version         string
	Branch          string
	RiskID          string
	Hash            string
	SizeMB          float64
	SortTime        string // raw time value, parsed lazily by the sort engine
	UpdateAvailable bool
}

// Status returns the display status, marking locals with a pending update.
func (r UnifiedRecord) Status() string {
	if r.Origin == OriginLocal && r.UpdateAvailable {
		return "Update"
	}
	return r.Origin.String()
}

// Risk rank ordering: stable releases sort before candidates, candidates
// before alphas, anything unrecognized last.
var riskRanks = map[string]int{
	"stable":    0,
	"candidate": 1,
	"alpha":     2,
}

// RiskRank maps a risk identifier to its sort rank.
func RiskRank(riskID string) int {
	if rank, ok := riskRanks[riskID]; ok {
		return rank
	}
	return len(riskRanks)
}

// TaskState is the lifecycle state of one download task.
type TaskState int

const (
	TaskQueued TaskState = iota
	TaskDownloading
	TaskExtracting
	TaskCompleted
	TaskFailed
)

// String returns the display name of the task state.
func (s TaskState) String() string {
	switch s {
	case TaskQueued:
		return "Queued"
	case TaskDownloading:
		return "Downloading"
	case TaskExtracting:
		return "Extracting"
	case TaskCompleted:
		return "Completed"
	case TaskFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// TaskProgress is one published observation of an in-flight download.
// Percent is monotonic non-decreasing for a given version: the watcher clamps
// to the maximum seen so far.
type TaskProgress struct {
	Version string
	State   TaskState
	Percent float64
	Speed   string // raw speed token scraped from the fetch log, e.g. "2.83MB/s"
}
