package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/helpers"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"

	log "github.com/sirupsen/logrus"
)

// Registry scans and maintains the on-disk build directories under a single
// download root. It is the sole reader of metadata sidecars and the sole
// component that removes installed builds.
type Registry struct {
	Root string
}

// New creates a Registry over the given download root.
func New(root string) *Registry {
	return &Registry{Root: root}
}

// Scan enumerates the immediate subdirectories of the root whose name begins
// with the build prefix and returns a mapping from version to LocalBuild.
// Scanning is best-effort: a directory that cannot be parsed is skipped.
//
// When two directories resolve to the same version, the one with the
// lexicographically greater build-time token wins when both carry one;
// otherwise the first one found is kept.
func (r *Registry) Scan() (map[string]models.LocalBuild, error) {
	builds := make(map[string]models.LocalBuild)

	entries, err := os.ReadDir(r.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return builds, nil
		}
		return nil, fmt.Errorf("failed to read download directory %s: %w", r.Root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), models.BuildDirPrefix+"-") {
			continue
		}
		dirPath := filepath.Join(r.Root, entry.Name())

		build, ok := readBuild(dirPath)
		if !ok || build.Version == "" {
			log.Debugf("Skipping unrecognized directory %s", dirPath)
			continue
		}

		existing, seen := builds[build.Version]
		if !seen {
			builds[build.Version] = build
			continue
		}
		if build.BuildTime != "" && existing.BuildTime != "" && build.BuildTime > existing.BuildTime {
			builds[build.Version] = build
		}
	}

	return builds, nil
}

// Delete removes every directory matching the given version and reports
// whether removal fully succeeded. No matching directory counts as failure.
func (r *Registry) Delete(version string) bool {
	dirs, err := r.FindBuildDirs(version)
	if err != nil {
		log.WithError(err).Errorf("Failed to enumerate build directories for %s", version)
		return false
	}
	if len(dirs) == 0 {
		return false
	}

	success := true
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			log.WithError(err).Errorf("Failed to remove build directory %s", dir)
			success = false
		} else {
			log.Infof("Removed build directory %s", dir)
		}
	}
	return success
}

// FindBuildDirs returns the absolute paths of all directories holding the
// given version: a prefix match on "blender-<version>" ending at a version
// boundary, or exact equality of the parsed version component when a '+'
// suffix is present. The boundary requirement keeps "2.9" from matching a
// "blender-2.93-..." directory.
func (r *Registry) FindBuildDirs(version string) ([]string, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read download directory %s: %w", r.Root, err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), models.BuildDirPrefix+"-") {
			continue
		}
		name := entry.Name()
		if matchesVersionPrefix(name, version) {
			dirs = append(dirs, filepath.Join(r.Root, name))
			continue
		}
		if parsed := parseVersionComponent(name); parsed == version {
			dirs = append(dirs, filepath.Join(r.Root, name))
		}
	}
	return dirs, nil
}

// matchesVersionPrefix reports whether a directory name starts with
// "blender-<version>" followed by the end of the name or a separator, so a
// shorter version string never claims a longer one's directory.
func matchesVersionPrefix(dirName, version string) bool {
	prefix := models.BuildDirPrefix + "-" + version
	if !strings.HasPrefix(dirName, prefix) {
		return false
	}
	if len(dirName) == len(prefix) {
		return true
	}
	switch dirName[len(prefix)] {
	case '-', '+', '_':
		return true
	}
	return false
}

// readBuild extracts build information from one directory: the metadata
// sidecar when present and valid, the directory name otherwise.
func readBuild(dirPath string) (models.LocalBuild, bool) {
	if build, ok := readSidecar(dirPath); ok {
		return build, true
	}
	return parseDirName(dirPath)
}

func readSidecar(dirPath string) (models.LocalBuild, bool) {
	metaPath := filepath.Join(dirPath, models.MetaFilename)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return models.LocalBuild{}, false
	}

	var meta models.BuildMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		log.WithError(err).Warnf("Invalid metadata sidecar %s, falling back to name parsing", metaPath)
		return models.LocalBuild{}, false
	}
	if meta.Version == "" {
		return models.LocalBuild{}, false
	}

	buildDate := meta.MtimeFormatted
	if buildDate == "" && meta.FileMtime != 0 {
		buildDate = time.Unix(meta.FileMtime, 0).Format("2006-01-02 15:04")
	}

	size := meta.DirectorySize
	if size == 0 {
		size = helpers.DirectorySize(dirPath)
	}

	return models.LocalBuild{
		Version:       meta.Version,
		BuildTime:     meta.BuildTime,
		Branch:        meta.Branch,
		RiskID:        meta.RiskID,
		BuildDate:     buildDate,
		DownloadDate:  meta.DownloadDate,
		DirectorySize: size,
		Hash:          meta.Hash,
	}, true
}

// parseDirName recovers what it can from a directory name alone. Handles
// both the plain layout (blender-4.1-stable-linux.x86_64) and the hashed one
// (blender-4.1+abcdef.hash-linux.x86_64), with an optional trailing
// _YYYYMMDD_HHMM token.
func parseDirName(dirPath string) (models.LocalBuild, bool) {
	dirName := filepath.Base(dirPath)

	parts := strings.Split(dirName, "-")
	if len(parts) < 2 {
		return models.LocalBuild{}, false
	}
	version := parts[1]
	if plus := strings.Index(version, "+"); plus >= 0 {
		version = version[:plus]
	}
	if version == "" {
		return models.LocalBuild{}, false
	}

	return models.LocalBuild{
		Version:       version,
		BuildTime:     parseTimeToken(dirName),
		DirectorySize: helpers.DirectorySize(dirPath),
		Hash:          parseHashSuffix(dirName),
	}, true
}

// parseTimeToken extracts a trailing build-time token: the last two
// underscore-delimited segments, accepted only when the first of the two is
// fully numeric.
func parseTimeToken(dirName string) string {
	if !strings.Contains(dirName, "_") {
		return ""
	}
	segments := strings.Split(dirName, "_")
	if len(segments) < 2 {
		return ""
	}
	date, clock := segments[len(segments)-2], segments[len(segments)-1]
	if date == "" || !isDigits(date) {
		return ""
	}
	return date + "_" + clock
}

// parseHashSuffix makes a best-effort attempt to recover the commit hash
// from a '+'-delimited suffix containing a '.'.
func parseHashSuffix(dirName string) string {
	plus := strings.Index(dirName, "+")
	if plus < 0 {
		return ""
	}
	for _, part := range strings.Split(dirName[plus+1:], "+") {
		if !strings.Contains(part, ".") {
			continue
		}
		candidate := strings.Split(part, ".")[0]
		pieces := strings.Split(candidate, "-")
		return pieces[len(pieces)-1]
	}
	return ""
}

// parseVersionComponent pulls the version out of a directory name, honoring
// a '+' hash suffix. Empty when the name does not follow the build layout.
func parseVersionComponent(dirName string) string {
	parts := strings.Split(dirName, "-")
	if len(parts) < 2 {
		return ""
	}
	version := parts[1]
	if plus := strings.Index(version, "+"); plus >= 0 {
		version = version[:plus]
	}
	return version
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
