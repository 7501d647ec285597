package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/helpers"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"
	"github.com/dshot92/TUI-Blender-Fetcher/internal/registry"

	"github.com/shirou/gopsutil/v3/disk"
	log "github.com/sirupsen/logrus"
)

// Custom Pipeline Errors
var (
	ErrFetchFailed   = errors.New("fetch reported failure")
	ErrRemovalFailed = errors.New("could not remove existing build directory")
	ErrExtractFailed = errors.New("archive extraction failed")
	ErrVerifyFailed  = errors.New("extracted directory missing after unpack")
	ErrInterrupted   = errors.New("download batch interrupted")
)

// Confirmer answers a yes/no question put to the user. A nil Confirmer
// answers yes, which is what --yes wires in.
type Confirmer func(prompt string) bool

// ProgressFunc receives coalesced per-task progress updates. It is invoked
// from the single watcher goroutine only.
type ProgressFunc func(models.TaskProgress)

// Result is the final per-version outcome of a batch.
type Result struct {
	State models.TaskState
	Err   error
}

// Pipeline orchestrates concurrent fetches of one or more builds, watches
// their progress logs, extracts verified archives and writes metadata
// sidecars. One OS child process is spawned per task; the pipeline itself
// imposes no concurrency cap.
type Pipeline struct {
	Root     string
	Registry *registry.Registry
	Confirm  Confirmer
	Progress ProgressFunc

	// FetchCommand names the external fetch tool and its fixed arguments.
	// The download directory and URL are appended per task. Defaults to
	// wget with a forced progress bar so the log scraper has percentages
	// to read.
	FetchCommand []string

	// PollInterval bounds how often progress logs are re-read. Never
	// tighter than twice per second.
	PollInterval time.Duration
}

// New creates a Pipeline over the given download root.
func New(root string, confirm Confirmer, progress ProgressFunc) *Pipeline {
	return &Pipeline{
		Root:         root,
		Registry:     registry.New(root),
		Confirm:      confirm,
		Progress:     progress,
		FetchCommand: []string{"wget", "--verbose", "--progress=bar:force:noscroll", "--show-progress"},
		PollInterval: 500 * time.Millisecond,
	}
}

type task struct {
	build   models.RemoteBuild
	logPath string
	cmd     *exec.Cmd
	runErr  error
}

// DownloadMany fetches the given builds concurrently and extracts the
// successful ones. It blocks until every fetch child has exited (or ctx is
// cancelled), then returns a per-version result map and whether at least one
// build completed. The error is non-nil only for catastrophic conditions:
// an unusable download root, a declined-free interruption, or nothing to do
// is not an error.
//
// A failed fetch never cancels its siblings. Scratch logs are always removed
// before returning, whatever the outcome.
func (p *Pipeline) DownloadMany(ctx context.Context, builds []models.RemoteBuild) (map[string]Result, bool, error) {
	if len(builds) == 0 {
		return map[string]Result{}, false, nil
	}

	if !helpers.CheckAndMakeDir(p.Root) {
		return nil, false, fmt.Errorf("cannot create download root %s", p.Root)
	}

	p.checkFreeSpace(builds)

	// Archives left over from a previous incomplete run can never be valid
	// completed downloads; remove them without asking.
	for _, build := range builds {
		archivePath := filepath.Join(p.Root, build.FileName)
		if _, err := os.Stat(archivePath); err == nil {
			log.Infof("Removing incomplete archive %s", archivePath)
			if err := os.Remove(archivePath); err != nil {
				log.WithError(err).Warnf("Could not remove stale archive %s", archivePath)
			}
		}
	}

	// One confirmation covers the whole batch: every version that already
	// has an installed directory will be replaced after its fetch succeeds.
	existingDirs, approved := p.confirmReplacements(builds)
	if !approved {
		log.Info("Download cancelled, existing builds left untouched")
		return map[string]Result{}, false, nil
	}

	tasks := make([]*task, 0, len(builds))
	defer func() {
		for _, t := range tasks {
			if t.logPath != "" {
				if err := os.Remove(t.logPath); err != nil && !os.IsNotExist(err) {
					log.WithError(err).Warnf("Could not remove scratch log %s", t.logPath)
				}
			}
		}
	}()

	for _, build := range builds {
		logFile, err := os.CreateTemp("", fmt.Sprintf("blender-fetch-%s-*.log", build.Version))
		if err != nil {
			return nil, false, fmt.Errorf("cannot create scratch log for %s: %w", build.Version, err)
		}
		logFile.Close()
		tasks = append(tasks, &task{build: build, logPath: logFile.Name()})
		p.publish(models.TaskProgress{Version: build.Version, State: models.TaskQueued, Speed: "Queued"})
	}

	watcherDone := p.startWatcher(tasks)

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			t.runErr = p.runFetch(t)
		}(t)
	}

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-ctx.Done():
		// Children are fire-and-forget once started: we do not own them
		// cleanly enough to kill, so they may keep running and need
		// external cleanup. Our own bookkeeping still winds down.
		close(watcherDone.stop)
		<-watcherDone.done
		log.Warn("Interrupted: fetch processes may still be running in the background")
		return map[string]Result{}, false, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
	}

	close(watcherDone.stop)
	<-watcherDone.done

	results := make(map[string]Result, len(tasks))
	var succeeded []*task
	for _, t := range tasks {
		if CheckFetchSuccess(t.logPath) {
			succeeded = append(succeeded, t)
			continue
		}
		err := t.runErr
		if err == nil {
			err = ErrFetchFailed
		}
		log.WithError(err).Errorf("Download of %s failed (see %s before it is removed)", t.build.Version, t.logPath)
		results[t.build.Version] = Result{State: models.TaskFailed, Err: err}
		p.publish(models.TaskProgress{Version: t.build.Version, State: models.TaskFailed, Speed: "Failed"})
	}

	for _, t := range succeeded {
		results[t.build.Version] = p.finalize(t, existingDirs[t.build.Version])
	}

	ok := false
	for _, res := range results {
		if res.State == models.TaskCompleted {
			ok = true
			break
		}
	}
	return results, ok, nil
}

// confirmReplacements collects the pre-existing directories per version and,
// when any exist, asks a single batch question. Reports approval; with no
// existing directories there is nothing to approve.
func (p *Pipeline) confirmReplacements(builds []models.RemoteBuild) (map[string][]string, bool) {
	existing := make(map[string][]string)
	total := 0
	for _, build := range builds {
		dirs, err := p.Registry.FindBuildDirs(build.Version)
		if err != nil {
			log.WithError(err).Warnf("Could not check for existing %s directories", build.Version)
			continue
		}
		if len(dirs) > 0 {
			existing[build.Version] = dirs
			total += len(dirs)
		}
	}
	if total == 0 || p.Confirm == nil {
		return existing, true
	}
	return existing, p.Confirm(fmt.Sprintf("This will remove %d existing build director%s and download updates. Proceed?",
		total, pluralSuffix(total)))
}

// runFetch spawns one external fetch child writing into the task's scratch
// log and waits for it. The child is intentionally not bound to any context:
// once started it belongs to the OS, not to us.
func (p *Pipeline) runFetch(t *task) error {
	logFile, err := os.OpenFile(t.logPath, os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening scratch log %s: %w", t.logPath, err)
	}
	defer logFile.Close()

	args := append(append([]string{}, p.FetchCommand[1:]...), "-P", p.Root, t.build.URL)
	cmd := exec.Command(p.FetchCommand[0], args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// Pin the tool's locale so the progress output stays scrapable.
	cmd.Env = append(os.Environ(), "LC_ALL=C")

	t.cmd = cmd
	log.Debugf("Starting fetch of %s via %s", t.build.URL, p.FetchCommand[0])
	if err := cmd.Run(); err != nil {
		// The exit status also shows up in the log; record both.
		fmt.Fprintf(logFile, "\nDownload failed: %v\n", err)
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return nil
}

// finalize runs the post-download half of one task's pipeline: remove the
// directories the user approved for replacement, extract, verify, write the
// metadata sidecar and drop the archive.
func (p *Pipeline) finalize(t *task, replacedDirs []string) Result {
	version := t.build.Version
	archivePath := filepath.Join(p.Root, t.build.FileName)

	for _, dir := range replacedDirs {
		if err := os.RemoveAll(dir); err != nil {
			log.WithError(err).Errorf("Could not remove existing directory %s, aborting %s", dir, version)
			p.publish(models.TaskProgress{Version: version, State: models.TaskFailed, Speed: "Failed"})
			return Result{State: models.TaskFailed, Err: fmt.Errorf("%w: %v", ErrRemovalFailed, err)}
		}
	}

	p.publish(models.TaskProgress{Version: version, State: models.TaskExtracting, Percent: 100, Speed: "Extracting..."})

	extractPath, err := p.extract(t.build, archivePath)
	if err != nil {
		// Keep the archive around so the failure can be diagnosed.
		log.WithError(err).Errorf("Extraction of %s failed, archive kept at %s", version, archivePath)
		p.publish(models.TaskProgress{Version: version, State: models.TaskFailed, Speed: "Failed"})
		return Result{State: models.TaskFailed, Err: err}
	}

	archiveHash, err := helpers.FileBlake3(archivePath)
	if err != nil {
		log.WithError(err).Warnf("Could not checksum archive for %s", version)
	}

	if err := writeMetadata(extractPath, t.build, archiveHash); err != nil {
		log.WithError(err).Warnf("Could not write metadata sidecar for %s", version)
	}

	if err := os.Remove(archivePath); err != nil {
		log.WithError(err).Warnf("Could not remove archive %s after extraction", archivePath)
	}

	log.Infof("Download and extraction of Blender %s completed", version)
	p.publish(models.TaskProgress{Version: version, State: models.TaskCompleted, Percent: 100, Speed: "Complete"})
	return Result{State: models.TaskCompleted}
}

// checkFreeSpace warns when the filesystem under the download root has less
// free space than the batch will download. Extraction roughly doubles the
// footprint, so this is a floor, not a guarantee.
func (p *Pipeline) checkFreeSpace(builds []models.RemoteBuild) {
	var needed uint64
	for _, build := range builds {
		if build.FileSize > 0 {
			needed += uint64(build.FileSize)
		}
	}
	usage, err := disk.Usage(p.Root)
	if err != nil {
		// Root may not exist yet on some platforms; stat the parent.
		usage, err = disk.Usage(filepath.Dir(p.Root))
	}
	if err != nil {
		log.WithError(err).Debug("Could not determine free disk space")
		return
	}
	if usage.Free < needed {
		log.Warnf("Free space (%s) is below the batch size (%s); downloads may fail",
			helpers.BytesToSize(usage.Free), helpers.BytesToSize(needed))
	}
}

func (p *Pipeline) publish(update models.TaskProgress) {
	if p.Progress != nil {
		p.Progress(update)
	}
}

func pluralSuffix(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
