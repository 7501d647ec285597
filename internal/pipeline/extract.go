package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/helpers"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"

	log "github.com/sirupsen/logrus"
)

// archiveSuffixes are stripped from an archive file name to predict the
// directory the archive unpacks into. Longest first.
var archiveSuffixes = []string{".tar.xz", ".tar.gz", ".tar.bz2", ".zip", ".xz"}

// ExpectedDirName returns the directory an archive is expected to unpack
// into, derived from its file name.
func ExpectedDirName(fileName string) string {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(fileName, suffix) {
			return strings.TrimSuffix(fileName, suffix)
		}
	}
	return fileName
}

// IsArchiveName reports whether a file name looks like a build archive.
func IsArchiveName(fileName string) bool {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(fileName, suffix) {
			return true
		}
	}
	return false
}

// extractCommand picks the external tool for an archive: unzip for .zip,
// tar for everything else it unpacks natively.
func extractCommand(archivePath, dest string) []string {
	if strings.HasSuffix(strings.ToLower(archivePath), ".zip") {
		return []string{"unzip", "-o", archivePath, "-d", dest}
	}
	return []string{"tar", "-xf", archivePath, "-C", dest}
}

// extract unpacks the archive into the download root with the external
// archive tool and verifies the expected output directory exists. Returns
// the verified directory path.
func (p *Pipeline) extract(build models.RemoteBuild, archivePath string) (string, error) {
	args := extractCommand(archivePath, p.Root)
	cmd := exec.Command(args[0], args[1:]...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrExtractFailed, err, strings.TrimSpace(string(output)))
	}

	extractPath := filepath.Join(p.Root, ExpectedDirName(build.FileName))
	info, err := os.Stat(extractPath)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrVerifyFailed, extractPath)
	}
	return extractPath, nil
}

// writeMetadata creates the version.json sidecar inside a verified build
// directory. The directory size is computed after extraction so the sidecar
// reflects what actually landed on disk.
func writeMetadata(extractPath string, build models.RemoteBuild, archiveHash string) error {
	meta := models.BuildMetadata{
		Version:        build.Version,
		Branch:         build.Branch,
		RiskID:         build.RiskID,
		FileSize:       build.FileSize,
		FileMtime:      build.FileMtime.Time().Unix(),
		FileName:       build.FileName,
		Platform:       build.Platform,
		Architecture:   build.Architecture,
		BuildTime:      build.BuildTimeToken(),
		MtimeFormatted: build.MtimeFormatted(),
		DownloadDate:   time.Now().Format("2006-01-02 15:04:05"),
		DirectorySize:  helpers.DirectorySize(extractPath),
		Hash:           build.Hash,
		ArchiveBlake3:  archiveHash,
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling metadata for %s: %w", build.Version, err)
	}

	metaPath := filepath.Join(extractPath, models.MetaFilename)
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", metaPath, err)
	}
	log.Debugf("Wrote metadata sidecar %s", metaPath)
	return nil
}
