package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/registry"
)

// makeArchive builds a real tar.gz holding one build directory with a marker
// file, returning the archive path. Tests needing it skip when tar is not
// available.
func makeArchive(t *testing.T, dirName string) string {
	t.Helper()
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}

	staging := t.TempDir()
	buildDir := filepath.Join(staging, dirName)
	require.NoError(t, os.MkdirAll(buildDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "blender"), []byte("#!/bin/sh\n"), 0755))

	archivePath := filepath.Join(staging, dirName+".tar.gz")
	out, err := exec.Command("tar", "-czf", archivePath, "-C", staging, dirName).CombinedOutput()
	require.NoError(t, err, "tar -czf: %s", out)
	return archivePath
}

// progressCollector is a thread-safe ProgressFunc recording every update.
type progressCollector struct {
	mu      sync.Mutex
	updates []models.TaskProgress
}

func (c *progressCollector) record(p models.TaskProgress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, p)
}

func (c *progressCollector) forVersion(version string) []models.TaskProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.TaskProgress
	for _, u := range c.updates {
		if u.Version == version {
			out = append(out, u)
		}
	}
	return out
}

// fakeFetchCommand wraps a shell script as the pipeline's fetch tool. The
// pipeline appends "-P <root> <url>", which the shell exposes to the script
// as $0 (-P), $1 (root) and $2 (url).
func fakeFetchCommand(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func scratchLogsFor(t *testing.T, version string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "blender-fetch-"+version+"-*.log"))
	require.NoError(t, err)
	return matches
}

func testBuild(version, fileName string) models.RemoteBuild {
	return models.RemoteBuild{
		Version:   version,
		Branch:    "daily",
		RiskID:    "alpha",
		Hash:      "cafe1234",
		FileSize:  128,
		FileName:  fileName,
		URL:       "http://catalog.invalid/" + fileName,
		FileMtime: models.Timestamp(time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)),
	}
}

func TestDownloadManyCompletesAndCleansUp(t *testing.T) {
	archive := makeArchive(t, "blender-4.1-daily")
	root := t.TempDir()

	collector := &progressCollector{}
	p := New(root, nil, collector.record)
	p.FetchCommand = fakeFetchCommand(fmt.Sprintf(
		`cp %q "$1/" && echo "Saving to: $1" && echo " 50%% 1.50MB/s" && echo "100%%"`, archive))

	build := testBuild("4.1", "blender-4.1-daily.tar.gz")
	results, ok, err := p.DownloadMany(context.Background(), []models.RemoteBuild{build})

	require.NoError(t, err)
	assert.True(t, ok)
	require.Contains(t, results, "4.1")
	assert.Equal(t, models.TaskCompleted, results["4.1"].State)

	// Extraction verified and sidecar written.
	extracted := filepath.Join(root, "blender-4.1-daily")
	assert.DirExists(t, extracted)
	assert.FileExists(t, filepath.Join(extracted, models.MetaFilename))

	// The archive is consumed and the scratch log removed.
	assert.NoFileExists(t, filepath.Join(root, build.FileName))
	assert.Empty(t, scratchLogsFor(t, "4.1"))

	// Terminal progress state is Completed.
	updates := collector.forVersion("4.1")
	require.NotEmpty(t, updates)
	assert.Equal(t, models.TaskCompleted, updates[len(updates)-1].State)
}

func TestDownloadManyFailureDoesNotAbortSiblings(t *testing.T) {
	archive := makeArchive(t, "blender-4.2-daily")
	root := t.TempDir()

	p := New(root, nil, nil)
	p.FetchCommand = fakeFetchCommand(fmt.Sprintf(
		`case "$2" in *4.2*) cp %q "$1/" && echo "100%%";; *) echo "ERROR 404: Not Found."; exit 1;; esac`, archive))

	builds := []models.RemoteBuild{
		testBuild("4.1", "blender-4.1-daily.tar.gz"),
		testBuild("4.2", "blender-4.2-daily.tar.gz"),
	}
	results, ok, err := p.DownloadMany(context.Background(), builds)

	require.NoError(t, err)
	assert.True(t, ok, "one completed build makes the batch ok")

	require.Len(t, results, 2)
	assert.Equal(t, models.TaskFailed, results["4.1"].State)
	assert.ErrorIs(t, results["4.1"].Err, ErrFetchFailed)
	assert.Equal(t, models.TaskCompleted, results["4.2"].State)

	assert.DirExists(t, filepath.Join(root, "blender-4.2-daily"))
	assert.Empty(t, scratchLogsFor(t, "4.1"))
	assert.Empty(t, scratchLogsFor(t, "4.2"))
}

func TestDownloadManyFailedVerificationKeepsArchive(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}
	// Archive unpacks into a directory that does not match the file name.
	archive := makeArchive(t, "something-else")
	root := t.TempDir()

	p := New(root, nil, nil)
	p.FetchCommand = fakeFetchCommand(fmt.Sprintf(
		`cp %q "$1/blender-4.1-daily.tar.gz" && echo "100%%"`, archive))

	build := testBuild("4.1", "blender-4.1-daily.tar.gz")
	results, ok, err := p.DownloadMany(context.Background(), []models.RemoteBuild{build})

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.TaskFailed, results["4.1"].State)
	assert.ErrorIs(t, results["4.1"].Err, ErrVerifyFailed)

	// The archive stays for diagnosis and no sidecar exists for the
	// unverified output.
	assert.FileExists(t, filepath.Join(root, build.FileName))
	assert.NoFileExists(t, filepath.Join(root, "blender-4.1-daily", models.MetaFilename))
}

func TestDownloadManyDeclinedConfirmationIsNotAnError(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "blender-4.1-daily")
	require.NoError(t, os.MkdirAll(existing, 0755))

	declined := false
	p := New(root, func(prompt string) bool {
		declined = true
		return false
	}, nil)
	p.FetchCommand = fakeFetchCommand(`echo "must never run"; exit 1`)

	results, ok, err := p.DownloadMany(context.Background(), []models.RemoteBuild{
		testBuild("4.1", "blender-4.1-daily.tar.gz"),
	})

	require.NoError(t, err)
	assert.True(t, declined, "the confirmation hook must be consulted")
	assert.False(t, ok)
	assert.Empty(t, results)
	assert.DirExists(t, existing, "declining must leave existing builds untouched")
}

func TestDownloadManyEmptyBatch(t *testing.T) {
	p := New(t.TempDir(), nil, nil)
	results, ok, err := p.DownloadMany(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, results)
}

func TestDownloadManyInterruption(t *testing.T) {
	root := t.TempDir()
	p := New(root, nil, nil)
	p.FetchCommand = fakeFetchCommand(`echo "Downloading"; sleep 2`)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	results, ok, err := p.DownloadMany(ctx, []models.RemoteBuild{
		testBuild("4.1", "blender-4.1-daily.tar.gz"),
	})

	assert.True(t, errors.Is(err, ErrInterrupted), "err = %v", err)
	assert.False(t, ok)
	assert.Empty(t, results)
	assert.Empty(t, scratchLogsFor(t, "4.1"), "scratch logs are removed even on interruption")
}

func TestMetadataRoundTripThroughScan(t *testing.T) {
	root := t.TempDir()
	extractPath := filepath.Join(root, "blender-4.1-daily")
	require.NoError(t, os.MkdirAll(extractPath, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(extractPath, "blender"), []byte("#!/bin/sh\n"), 0755))

	build := testBuild("4.1", "blender-4.1-daily.tar.gz")
	require.NoError(t, writeMetadata(extractPath, build, "feedbeef"))

	builds, err := registry.New(root).Scan()
	require.NoError(t, err)
	require.Contains(t, builds, "4.1")

	got := builds["4.1"]
	assert.Equal(t, build.Version, got.Version)
	assert.Equal(t, build.Branch, got.Branch)
	assert.Equal(t, build.RiskID, got.RiskID)
	assert.Equal(t, build.Hash, got.Hash)
	assert.Equal(t, build.BuildTimeToken(), got.BuildTime)
	assert.Equal(t, build.MtimeFormatted(), got.BuildDate)
	assert.NotEmpty(t, got.DownloadDate)
	assert.Greater(t, got.DirectorySize, int64(0))
}

func TestExtractCommandSelectsTool(t *testing.T) {
	tests := []struct {
		name    string
		archive string
		want    []string
	}{
		{"Tarball", "/dl/blender-4.1.tar.xz", []string{"tar", "-xf", "/dl/blender-4.1.tar.xz", "-C", "/dl"}},
		{"Gzipped tarball", "/dl/blender-4.1.tar.gz", []string{"tar", "-xf", "/dl/blender-4.1.tar.gz", "-C", "/dl"}},
		{"Zip", "/dl/blender-4.1.zip", []string{"unzip", "-o", "/dl/blender-4.1.zip", "-d", "/dl"}},
		{"Zip, uppercase", "/dl/blender-4.1.ZIP", []string{"unzip", "-o", "/dl/blender-4.1.ZIP", "-d", "/dl"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractCommand(tt.archive, "/dl"))
		})
	}
}

func TestWatcherClampsBackwardsProgress(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "fetch.log")
	require.NoError(t, os.WriteFile(logPath, []byte(" 80% 1.0MB/s\n"), 0600))

	collector := &progressCollector{}
	p := New(t.TempDir(), nil, collector.record)
	tasks := []*task{{build: testBuild("4.1", "x.tar.gz"), logPath: logPath}}

	handle := p.startWatcher(tasks)
	time.Sleep(700 * time.Millisecond)

	// A rewritten log reporting less progress must not move the bar back.
	require.NoError(t, os.WriteFile(logPath, []byte(" 20% 1.0MB/s\n"), 0600))
	time.Sleep(700 * time.Millisecond)

	close(handle.stop)
	<-handle.done

	updates := collector.forVersion("4.1")
	require.NotEmpty(t, updates)
	last := float64(0)
	for _, u := range updates {
		assert.GreaterOrEqual(t, u.Percent, last, "progress ran backwards")
		last = u.Percent
	}
	assert.GreaterOrEqual(t, last, float64(80))
}
