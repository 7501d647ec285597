package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/database"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/pipeline"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().Bool("history", false, "Also clear the download history store")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover archives and scratch logs",
	Long: `Scans the download directory for build archives left behind by failed or
interrupted downloads and removes them, along with any stale progress
scratch logs in the temp directory.`,
	Run: runClean,
}

func runClean(cmd *cobra.Command, args []string) {
	downloadPath := globalConfig.DownloadPath
	clearHistory, _ := cmd.Flags().GetBool("history")

	if downloadPath == "" {
		log.Error("DownloadPath is not configured. Cannot determine where to clean.")
		os.Exit(1)
	}

	var archivesRemoved, logsRemoved int64
	var filesFailed int64

	info, err := os.Stat(downloadPath)
	switch {
	case os.IsNotExist(err):
		log.Infof("Download directory does not exist yet: %s", downloadPath)
	case err != nil:
		log.Errorf("Error accessing download directory %q: %v", downloadPath, err)
		os.Exit(1)
	case !info.IsDir():
		log.Errorf("Download path is not a directory: %s", downloadPath)
		os.Exit(1)
	default:
		log.Infof("Scanning for leftover archives in %s...", downloadPath)
		entries, err := os.ReadDir(downloadPath)
		if err != nil {
			log.Errorf("Error reading download directory %q: %v", downloadPath, err)
			os.Exit(1)
		}
		for _, entry := range entries {
			if entry.IsDir() || !pipeline.IsArchiveName(entry.Name()) {
				continue
			}
			path := filepath.Join(downloadPath, entry.Name())
			if err := os.Remove(path); err != nil {
				log.Warnf("Failed to remove archive %q: %v", path, err)
				filesFailed++
			} else {
				log.Debugf("Removed leftover archive: %s", path)
				archivesRemoved++
			}
		}
	}

	// Scratch logs normally vanish with their batch; an abrupt kill can
	// orphan them in the temp directory.
	tmpEntries, err := os.ReadDir(os.TempDir())
	if err != nil {
		log.Warnf("Error reading temp directory: %v", err)
	} else {
		for _, entry := range tmpEntries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasPrefix(name, "blender-fetch-") || !strings.HasSuffix(name, ".log") {
				continue
			}
			path := filepath.Join(os.TempDir(), name)
			if err := os.Remove(path); err != nil {
				log.Warnf("Failed to remove scratch log %q: %v", path, err)
				filesFailed++
			} else {
				logsRemoved++
			}
		}
	}

	if clearHistory {
		history, err := database.Open(globalConfig.HistoryPath)
		if err != nil {
			log.WithError(err).Error("Could not open the download history store")
			filesFailed++
		} else {
			if err := history.Clear(); err != nil {
				log.WithError(err).Error("Could not clear the download history store")
				filesFailed++
			} else {
				log.Info("Download history cleared.")
			}
			if err := history.Close(); err != nil {
				log.WithError(err).Warn("Could not close the download history store")
			}
		}
	}

	fmt.Printf("Removed %d archive(s) and %d scratch log(s).\n", archivesRemoved, logsRemoved)
	if filesFailed > 0 {
		log.Warnf("%d item(s) could not be cleaned.", filesFailed)
		os.Exit(1)
	}
}
